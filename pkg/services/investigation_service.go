// Package services hosts the case-scoped façades consumed by the outer
// HTTP layer: InvestigationService (component J) and ReportService
// (component K). InvestigationService requires (case_id, user_id) on
// every call and rejects ownership mismatches without leaking existence;
// ReportService takes an already-loaded case or a report id and does no
// ownership check of its own.
package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/aegisops/aegis/pkg/investigation"
	"github.com/aegisops/aegis/pkg/ports"
)

// InvestigationService is the thin façade around InvestigationState
// mutation. It never talks to the LLM; turn-by-turn orchestration is the
// Milestone Engine's job. This service exists for direct, non-LLM state
// operations: initialization, manual corrections, and read access.
type InvestigationService struct {
	Repo   ports.CaseRepository
	Status *investigation.StatusMachine
	Phase  *investigation.PhaseOrchestrator

	Now   func() time.Time
	NewID func() string
}

// NewInvestigationService wires an InvestigationService around repo.
func NewInvestigationService(repo ports.CaseRepository) *InvestigationService {
	return &InvestigationService{
		Repo:   repo,
		Status: investigation.NewStatusMachine(),
		Phase:  investigation.NewPhaseOrchestrator(),
		Now:    func() time.Time { return time.Now().UTC() },
		NewID:  uuid.NewString,
	}
}

func (s *InvestigationService) loadOwned(ctx context.Context, caseID, userID string) (*ports.Case, error) {
	c, err := s.Repo.Get(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrNotFound
	}
	if c.OwnerID != userID {
		return nil, ErrUnauthorized
	}
	return c, nil
}

// Initialize runs the temporal x urgency strategy matrix and creates
// InvestigationState for a case that has none.
func (s *InvestigationService) Initialize(ctx context.Context, caseID, userID string, problemStatement string, temporal investigation.TemporalState, urgency investigation.UrgencyLevel) (*investigation.InvestigationState, error) {
	c, err := s.loadOwned(ctx, caseID, userID)
	if err != nil {
		return nil, err
	}
	if c.Investigation != nil {
		return nil, ErrAlreadyInitialized
	}

	now := s.Now()
	state := &investigation.InvestigationState{
		InvestigationID: s.NewID(),
		CurrentPhase:    investigation.PhaseIntake,
		StartedAt:       now,
		TemporalState:   temporal,
		UrgencyLevel:    urgency,
		Strategy:        investigation.SelectStrategy(temporal, urgency),
		AnomalyFrame:    investigation.AnomalyFrame{ProblemStatement: problemStatement},
	}

	c.Investigation = state
	c.MetadataDirty = true
	c.UpdatedAt = now
	if err := s.Repo.Save(ctx, c); err != nil {
		return nil, err
	}
	return state, nil
}

// Advance appends a turn record directly, without invoking the LLM or
// any prompt builder. It is the manual-correction and testing path; the
// Milestone Engine is the normal per-turn entry point.
func (s *InvestigationService) Advance(ctx context.Context, caseID, userID, userInputSummary, agentActionSummary string, milestonesCompleted []string, phaseTransition *investigation.PhaseOutcome, reason investigation.LoopBackReason) (*investigation.InvestigationState, error) {
	c, err := s.loadOwned(ctx, caseID, userID)
	if err != nil {
		return nil, err
	}
	if c.Investigation == nil {
		return nil, ErrNotFound
	}
	state := c.Investigation
	now := s.Now()

	state.CurrentTurn++
	turn := state.CurrentTurn

	var completed []string
	for _, name := range milestonesCompleted {
		if state.Progress.Complete(name, now) {
			completed = append(completed, name)
		}
	}

	if phaseTransition != nil {
		result := s.Phase.NextPhase(state, *phaseTransition, reason)
		state.CurrentPhase = result.NextPhase
		if result.EnteredDegraded && state.DegradedMode == nil {
			state.DegradedMode = &investigation.DegradedModeRecord{
				Type:           investigation.DegradedLoopBackLimitExceeded,
				Reason:         result.DegradedReason,
				DeclaredAtTurn: turn,
				DeclaredAt:     now,
			}
		}
	}

	outcome := investigation.OutcomeConversation
	if len(completed) > 0 {
		outcome = investigation.OutcomeProgress
	}
	state.TurnHistory = append(state.TurnHistory, investigation.TurnRecord{
		TurnNumber:          turn,
		Phase:               state.CurrentPhase,
		UserInputSummary:    userInputSummary,
		AgentActionSummary:  agentActionSummary,
		MilestonesCompleted: completed,
		Outcome:             outcome,
		ProgressMade:        len(completed) > 0,
		CreatedAt:           now,
	})

	c.MetadataDirty = true
	c.UpdatedAt = now
	if err := s.Repo.Save(ctx, c); err != nil {
		return nil, err
	}
	return state, nil
}

// AddHypothesis appends a new ACTIVE hypothesis.
func (s *InvestigationService) AddHypothesis(ctx context.Context, caseID, userID, statement string, category investigation.HypothesisCategory, likelihood float64) (*investigation.Hypothesis, error) {
	c, err := s.loadOwned(ctx, caseID, userID)
	if err != nil {
		return nil, err
	}
	if c.Investigation == nil {
		return nil, ErrNotFound
	}
	state := c.Investigation
	h := investigation.NewHypothesis(s.NewID(), statement, category, likelihood, state.CurrentTurn, investigation.GenerationOpportunistic)
	h.Status = investigation.HypothesisActive
	state.Hypotheses = append(state.Hypotheses, h)

	c.MetadataDirty = true
	c.UpdatedAt = s.Now()
	if err := s.Repo.Save(ctx, c); err != nil {
		return nil, err
	}
	return state.FindHypothesis(h.ID), nil
}

// UpdateHypothesisStatus sets a hypothesis directly to newStatus, optionally
// linking supporting/refuting evidence first. Settled hypotheses (VALIDATED,
// REFUTED) reject further updates, matching the Milestone Engine's rule.
func (s *InvestigationService) UpdateHypothesisStatus(ctx context.Context, caseID, userID, hypothesisID string, newStatus investigation.HypothesisStatus, supportingEvidenceIDs, refutingEvidenceIDs []string) (*investigation.Hypothesis, error) {
	c, err := s.loadOwned(ctx, caseID, userID)
	if err != nil {
		return nil, err
	}
	if c.Investigation == nil {
		return nil, ErrNotFound
	}
	state := c.Investigation
	h := state.FindHypothesis(hypothesisID)
	if h == nil {
		return nil, ErrNotFound
	}
	if h.Status == investigation.HypothesisValidated || h.Status == investigation.HypothesisRefuted {
		return nil, &investigation.InvariantViolationError{
			Invariant: "hypothesis_settled",
			Detail:    "cannot update a VALIDATED or REFUTED hypothesis",
		}
	}

	turn := state.CurrentTurn
	hyp := investigation.NewHypothesisManager()
	for _, id := range supportingEvidenceIDs {
		hyp.LinkSupportingEvidence(h, id, turn)
	}
	for _, id := range refutingEvidenceIDs {
		hyp.LinkRefutingEvidence(h, id, turn)
	}
	h.Status = newStatus

	c.MetadataDirty = true
	c.UpdatedAt = s.Now()
	if err := s.Repo.Save(ctx, c); err != nil {
		return nil, err
	}
	return h, nil
}

// AddEvidence appends an Evidence record not tied to attachment intake
func (s *InvestigationService) AddEvidence(ctx context.Context, caseID, userID string, ev investigation.Evidence) (*investigation.Evidence, error) {
	c, err := s.loadOwned(ctx, caseID, userID)
	if err != nil {
		return nil, err
	}
	if c.Investigation == nil {
		return nil, ErrNotFound
	}
	if ev.ID == "" {
		ev.ID = s.NewID()
	}
	ev.CollectedAtTurn = c.Investigation.CurrentTurn
	c.Investigation.Evidence = append(c.Investigation.Evidence, ev)

	c.MetadataDirty = true
	c.UpdatedAt = s.Now()
	if err := s.Repo.Save(ctx, c); err != nil {
		return nil, err
	}
	return c.Investigation.FindEvidence(ev.ID), nil
}

// SetWorkingConclusion overwrites the working conclusion, for manual
// correction outside the engine's automatic per-turn recompute.
func (s *InvestigationService) SetWorkingConclusion(ctx context.Context, caseID, userID string, wc investigation.WorkingConclusion) error {
	c, err := s.loadOwned(ctx, caseID, userID)
	if err != nil {
		return err
	}
	if c.Investigation == nil {
		return ErrNotFound
	}
	wc.UpdatedAtTurn = c.Investigation.CurrentTurn
	c.Investigation.WorkingConclusion = wc

	c.MetadataDirty = true
	c.UpdatedAt = s.Now()
	return s.Repo.Save(ctx, c)
}

// ProgressSummary is the read-only view getProgress returns.
type ProgressSummary struct {
	Phase               investigation.Phase
	CompletionPercentage float64
	Progress            investigation.Progress
	DegradedMode        *investigation.DegradedModeRecord
	TurnsWithoutProgress int
}

// GetProgress returns nil (not an error) when the case has no
// investigation state yet.
func (s *InvestigationService) GetProgress(ctx context.Context, caseID, userID string) (*ProgressSummary, error) {
	c, err := s.loadOwned(ctx, caseID, userID)
	if err != nil {
		return nil, err
	}
	if c.Investigation == nil {
		return nil, nil
	}
	state := c.Investigation
	return &ProgressSummary{
		Phase:                state.CurrentPhase,
		CompletionPercentage: state.Progress.CompletionPercentage(),
		Progress:             state.Progress,
		DegradedMode:         state.DegradedMode,
		TurnsWithoutProgress: state.TurnsWithoutProgress,
	}, nil
}

// AcknowledgeDegradedMode records the user's acknowledgement and resets
// the no-progress counter so the engine gives the investigation a fresh
// run before re-declaring degraded mode.
func (s *InvestigationService) AcknowledgeDegradedMode(ctx context.Context, caseID, userID string) error {
	c, err := s.loadOwned(ctx, caseID, userID)
	if err != nil {
		return err
	}
	if c.Investigation == nil || c.Investigation.DegradedMode == nil {
		return ErrNotFound
	}
	c.Investigation.DegradedMode.UserAcknowledged = true
	c.Investigation.TurnsWithoutProgress = 0

	c.MetadataDirty = true
	c.UpdatedAt = s.Now()
	return s.Repo.Save(ctx, c)
}
