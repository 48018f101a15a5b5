// Package engine implements the Milestone Engine, the
// per-turn orchestrator that drives an investigation from a user
// message to an updated Case. It is the only component that mutates
// InvestigationState through a full turn; everything else in
// pkg/investigation operates on state the caller already holds.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aegisops/aegis/pkg/engine/prompt"
	"github.com/aegisops/aegis/pkg/investigation"
	"github.com/aegisops/aegis/pkg/ports"
)

// Attachment is a file the user included with their turn.
type Attachment struct {
	Filename    string
	ContentType string
	Summary     string
}

// TurnMetadata is the engine's per-turn status report.
type TurnMetadata struct {
	TurnNumber          int
	Outcome             investigation.TurnOutcome
	MilestonesCompleted []string
	HypothesesChanged   []string
	PhaseTransitioned   bool
	DegradedModeEntered bool
}

// fixedLLMUnavailableMessage is returned verbatim when the LLM call
// fails after retries.
const fixedLLMUnavailableMessage = "The assistant is temporarily unavailable. Your message and any attachments have been recorded; please try again shortly."

// MilestoneEngine implements processTurn.
type MilestoneEngine struct {
	LLM       ports.LLM
	Builder   prompt.Builder
	Hypothesis *investigation.HypothesisManager
	OODA      *investigation.OODAController
	Memory    *investigation.MemoryManager
	Conclusion *investigation.ConclusionGenerator
	Phase     *investigation.PhaseOrchestrator
	Status    *investigation.StatusMachine

	// Now is injectable for deterministic tests; defaults to time.Now.
	Now func() time.Time
	// NewID is injectable for deterministic tests; defaults to uuid.NewString.
	NewID func() string

	// Metrics records turn counters; nil disables metrics entirely.
	Metrics *Metrics
}

// NewMilestoneEngine wires the default collaborators around llm and
// builder, which must be supplied by the caller.
func NewMilestoneEngine(llm ports.LLM, builder prompt.Builder) *MilestoneEngine {
	hyp := investigation.NewHypothesisManager()
	return &MilestoneEngine{
		LLM:        llm,
		Builder:    builder,
		Hypothesis: hyp,
		OODA:       investigation.NewOODAController(hyp),
		Memory:     investigation.NewMemoryManager(),
		Conclusion: investigation.NewConclusionGenerator(),
		Phase:      investigation.NewPhaseOrchestrator(),
		Status:     investigation.NewStatusMachine(),
		Now:        func() time.Time { return time.Now().UTC() },
		NewID:      uuid.NewString,
		Metrics:    DefaultMetrics(),
	}
}

// ProcessTurn implements the 11-step per-turn algorithm.
// c is mutated in place; callers are responsible for holding the
// per-case lock (investigation.CaseLockTable) around this call and for
// persisting c afterwards via the case repository.
func (e *MilestoneEngine) ProcessTurn(ctx context.Context, c *ports.Case, userMessage string, attachments []Attachment) (agentResponse string, meta TurnMetadata, err error) {
	now := e.Now()
	turnStarted := time.Now()
	log := slog.With("case_id", c.ID)
	defer func() {
		e.Metrics.observeTurn(meta.Outcome, time.Since(turnStarted))
	}()

	// Step 1: load or initialise InvestigationState.
	state := c.Investigation
	if state == nil {
		if c.Status != investigation.CaseStatusConsulting {
			return "", TurnMetadata{}, &investigation.InvariantViolationError{
				Invariant: "state_presence",
				Detail:    "case has no investigation state outside CONSULTING status",
			}
		}
		state = &investigation.InvestigationState{
			InvestigationID: e.NewID(),
			StartedAt:       now,
			ConsultingData:  &investigation.ConsultingData{RawProblemDescription: userMessage},
		}
	}

	// Terminal cases are answered read-only: no turn counter increment,
	// no state mutation, just the restricted closed-case prompt.
	if c.Status.IsTerminal() {
		messages := e.Builder.Build(state, c.Status, userMessage, investigation.ForcedAlternativeConstraints{}, "")
		resp, callErr := e.LLM.Chat(ctx, ports.ChatRequest{Messages: messages})
		if callErr != nil {
			log.Warn("llm call failed on closed case", "error", callErr)
			meta = TurnMetadata{TurnNumber: state.CurrentTurn, Outcome: investigation.OutcomeBlocked}
			return fixedLLMUnavailableMessage, meta, nil
		}
		meta = TurnMetadata{TurnNumber: state.CurrentTurn, Outcome: investigation.OutcomeConversation}
		return resp.Content, meta, nil
	}

	// Step 2: increment turn counter.
	state.CurrentTurn++
	turn := state.CurrentTurn

	// Step 3: attachment intake.
	var evidenceCollected []string
	for _, a := range attachments {
		ev := investigation.Evidence{
			ID:              e.NewID(),
			Description:     a.Filename,
			Category:        e.inferEvidenceCategory(state),
			Form:            investigation.FormDirectObservation,
			SourceType:      investigation.SourceAttachment,
			ContentSummary:  a.Summary,
			CollectedAtTurn: turn,
		}
		state.Evidence = append(state.Evidence, ev)
		evidenceCollected = append(evidenceCollected, ev.ID)
	}

	// Step 4: build the status-specific prompt.
	anchoring := investigation.ForcedAlternativeConstraints{}
	if result := e.Hypothesis.DetectAnchoring(state.Hypotheses, state.OODAState.CurrentIteration); result.Triggered {
		anchoring = e.Hypothesis.ForceAlternativeGeneration(state.Hypotheses, result)
	}
	var transitionNote string
	if len(c.StatusHistory) > state.NarratedTransitions {
		last := c.StatusHistory[len(c.StatusHistory)-1]
		transitionNote = investigation.TransitionNarrative(last.FromStatus, last.ToStatus)
		state.NarratedTransitions = len(c.StatusHistory)
	}
	messages := e.Builder.Build(state, c.Status, userMessage, anchoring, transitionNote)

	// Step 5: single structured LLM call.
	resp, callErr := e.LLM.Chat(ctx, ports.ChatRequest{
		Messages:       messages,
		ResponseFormat: ports.ResponseFormatJSONSchema,
		JSONSchema:     []byte(prompt.StructuredUpdateSchema),
	})
	if callErr != nil {
		log.Warn("llm call failed, committing partial turn", "error", callErr)
		state.TurnHistory = append(state.TurnHistory, investigation.TurnRecord{
			TurnNumber:         turn,
			Phase:              state.CurrentPhase,
			UserInputSummary:   userMessage,
			AgentActionSummary: "LLM unavailable",
			EvidenceCollected:  evidenceCollected,
			Outcome:            investigation.OutcomeBlocked,
			ProgressMade:       false,
			CreatedAt:          now,
		})
		c.Investigation = state
		c.MetadataDirty = true
		c.UpdatedAt = now
		return fixedLLMUnavailableMessage, TurnMetadata{TurnNumber: turn, Outcome: investigation.OutcomeBlocked}, nil
	}

	update, parseErr := prompt.ParseStructuredUpdate(resp.Parsed)
	if parseErr != nil {
		log.Warn("discarding malformed structured update", "error", parseErr)
		update = prompt.StructuredUpdate{}
	}

	// Step 6: apply updates.
	hypothesesChanged, milestonesCompleted, phaseTransitioned := e.applyUpdates(state, c, update, turn, now)

	// Turn-boundary decay on hypotheses that have gone stale.
	hypothesesChanged = append(hypothesesChanged, e.Hypothesis.DecayStalled(state.Hypotheses, turn)...)

	// Step 7: automatic closure.
	if state.Progress.SolutionVerified && c.Status == investigation.CaseStatusInvestigating {
		if transErr := e.Status.Assert(c.Status, investigation.CaseStatusResolved); transErr == nil {
			fields := e.Status.TerminalFields(investigation.CaseStatusResolved, "system")
			c.ResolvedAt = timePtr(fields["resolved_at"].(time.Time))
			c.ResolvedBy = "system"
			c.StatusHistory = append(c.StatusHistory, e.Status.AuditRecord(c.Status, investigation.CaseStatusResolved, "system", true, "solution verified"))
			c.Status = investigation.CaseStatusResolved
		}
	}

	// Advance the OODA loop one step per turn, wrapping to a new
	// iteration after act; a phase transition restarts the loop.
	if c.Status == investigation.CaseStatusInvestigating {
		if phaseTransitioned {
			state.OODAState = investigation.OODAState{CurrentStep: investigation.StepObserve, CurrentIteration: 1}
		} else {
			state.OODAState = advanceOODAStep(state.OODAState)
		}
		state.OODAState.Intensity = e.OODA.Intensity(state.CurrentPhase, state.OODAState.CurrentIteration)
	}

	// Step 8: degraded-mode check.
	degradedEntered := e.checkDegradedMode(state, now)

	// Step 9: memory maintenance.
	if e.Memory.ShouldCompress(state) {
		state.Memory = e.Memory.Organize(state)
	}

	// Recompute the working conclusion for the benefit of the next turn's prompt.
	state.WorkingConclusion = e.Conclusion.Generate(state, turn)

	// Step 10: turn log.
	outcome := e.classifyOutcome(milestonesCompleted, evidenceCollected, hypothesesChanged, state)
	progressMade := outcome == investigation.OutcomeProgress || outcome == investigation.OutcomeHypothesisValidated
	if progressMade {
		state.TurnsWithoutProgress = 0
	} else {
		state.TurnsWithoutProgress++
	}
	state.TurnHistory = append(state.TurnHistory, investigation.TurnRecord{
		TurnNumber:          turn,
		Phase:               state.CurrentPhase,
		UserInputSummary:    userMessage,
		AgentActionSummary:  resp.Content,
		MilestonesCompleted: milestonesCompleted,
		HypothesesUpdated:   hypothesesChanged,
		EvidenceCollected:   evidenceCollected,
		Outcome:             outcome,
		ProgressMade:        progressMade,
		CreatedAt:           now,
	})

	// Step 11: persist.
	c.Investigation = state
	c.MetadataDirty = true
	c.UpdatedAt = now

	return resp.Content, TurnMetadata{
		TurnNumber:          turn,
		Outcome:             outcome,
		MilestonesCompleted: milestonesCompleted,
		HypothesesChanged:   hypothesesChanged,
		PhaseTransitioned:   phaseTransitioned,
		DegradedModeEntered: degradedEntered,
	}, nil
}

func timePtr(t time.Time) *time.Time { return &t }

// advanceOODAStep moves one position through observe -> orient ->
// decide -> act; completing act begins the next iteration.
func advanceOODAStep(s investigation.OODAState) investigation.OODAState {
	if s.CurrentIteration == 0 {
		return investigation.OODAState{CurrentStep: investigation.StepObserve, CurrentIteration: 1}
	}
	switch s.CurrentStep {
	case investigation.StepObserve:
		s.CurrentStep = investigation.StepOrient
	case investigation.StepOrient:
		s.CurrentStep = investigation.StepDecide
	case investigation.StepDecide:
		s.CurrentStep = investigation.StepAct
	default:
		s.CurrentStep = investigation.StepObserve
		s.CurrentIteration++
	}
	return s
}

// inferEvidenceCategory gates SYMPTOM -> CAUSAL once the symptom has
// been verified, and CAUSAL -> RESOLUTION once a solution has been
// proposed.
func (e *MilestoneEngine) inferEvidenceCategory(state *investigation.InvestigationState) investigation.EvidenceCategory {
	switch {
	case state.Progress.SolutionProposed:
		return investigation.EvidenceResolution
	case state.Progress.SymptomVerified:
		return investigation.EvidenceCausal
	default:
		return investigation.EvidenceSymptom
	}
}

func (e *MilestoneEngine) applyUpdates(state *investigation.InvestigationState, c *ports.Case, update prompt.StructuredUpdate, turn int, now time.Time) (hypothesesChanged []string, milestonesCompleted []string, phaseTransitioned bool) {
	for _, nh := range update.NewHypotheses {
		h := investigation.NewHypothesis(e.NewID(), nh.Statement, nh.Category, nh.Likelihood, turn, investigation.GenerationOpportunistic)
		e.Hypothesis.Activate(&h)
		state.Hypotheses = append(state.Hypotheses, h)
		hypothesesChanged = append(hypothesesChanged, h.ID)
	}

	for _, hu := range update.HypothesisUpdates {
		h := state.FindHypothesis(hu.HypothesisID)
		if h == nil {
			slog.Warn("skipping update for unknown hypothesis", "hypothesis_id", hu.HypothesisID)
			continue
		}
		if h.Status == investigation.HypothesisValidated || h.Status == investigation.HypothesisRefuted {
			// Rejected with the same typed error the service layer
			// returns; the turn proceeds with the remaining updates.
			violation := &investigation.InvariantViolationError{
				Invariant: "hypothesis_settled",
				Detail:    fmt.Sprintf("update targets %s hypothesis %s", h.Status, hu.HypothesisID),
			}
			slog.Warn("rejecting hypothesis update", "error", violation)
			continue
		}
		for _, id := range hu.SupportingEvidenceIDs {
			e.Hypothesis.LinkSupportingEvidence(h, id, turn)
		}
		for _, id := range hu.RefutingEvidenceIDs {
			e.Hypothesis.LinkRefutingEvidence(h, id, turn)
		}
		if len(hu.SupportingEvidenceIDs) > 0 || len(hu.RefutingEvidenceIDs) > 0 {
			hypothesesChanged = append(hypothesesChanged, h.ID)
		}
	}

	for _, eu := range update.EvidenceUpdates {
		id := eu.ID
		if id == "" {
			id = e.NewID()
		}
		state.Evidence = append(state.Evidence, investigation.Evidence{
			ID:              id,
			Description:     eu.Description,
			Category:        eu.Category,
			Form:            eu.Form,
			SourceType:      eu.SourceType,
			ContentSummary:  eu.ContentSummary,
			CollectedAtTurn: turn,
		})
	}

	for _, name := range update.MilestonesCompleted {
		if state.Progress.Complete(name, now) {
			milestonesCompleted = append(milestonesCompleted, name)
		}
	}

	if update.TemporalState != "" {
		state.TemporalState = update.TemporalState
	}
	if update.UrgencyLevel != "" {
		state.UrgencyLevel = update.UrgencyLevel
	}
	if state.TemporalState != "" && state.UrgencyLevel != "" {
		state.Strategy = investigation.SelectStrategy(state.TemporalState, state.UrgencyLevel)
	}

	if update.PhaseTransition != nil {
		result := e.Phase.NextPhase(state, update.PhaseTransition.Outcome, update.PhaseTransition.Reason)
		if result.NextPhase != state.CurrentPhase {
			phaseTransitioned = true
		}
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

	if update.ProposedProblemStatement != "" {
		if state.ConsultingData != nil {
			state.ConsultingData.ProposedProblemStatement = update.ProposedProblemStatement
		}
		state.AnomalyFrame.ProblemStatement = update.ProposedProblemStatement
	}

	if c.Status == investigation.CaseStatusConsulting && update.CommitToInvestigation {
		if err := e.Status.Assert(c.Status, investigation.CaseStatusInvestigating); err == nil {
			c.StatusHistory = append(c.StatusHistory, e.Status.AuditRecord(c.Status, investigation.CaseStatusInvestigating, "system", false, "user committed to investigation"))
			c.Status = investigation.CaseStatusInvestigating
			if state.ConsultingData != nil {
				state.ConsultingData.ReadyToCommit = true
				if state.AnomalyFrame.ProblemStatement == "" {
					state.AnomalyFrame.ProblemStatement = state.ConsultingData.ProposedProblemStatement
				}
			}
		}
	}

	return hypothesesChanged, milestonesCompleted, phaseTransitioned
}

// checkDegradedMode evaluates the three degraded-mode triggers. Degraded
// mode is recorded once; it is never re-entered once declared.
func (e *MilestoneEngine) checkDegradedMode(state *investigation.InvestigationState, now time.Time) bool {
	if state.DegradedMode != nil {
		return false
	}

	noProgress := state.TurnsWithoutProgress >= 3
	allTerminalNoneValidated := e.allHypothesesTerminalWithNoneValidated(state.Hypotheses)
	blockedEvidence := e.blockedEvidenceCount(state) >= 3

	switch {
	case noProgress:
		state.DegradedMode = &investigation.DegradedModeRecord{Type: investigation.DegradedNoProgress, Reason: "no progress for 3 or more turns", DeclaredAtTurn: state.CurrentTurn, DeclaredAt: now}
	case allTerminalNoneValidated:
		state.DegradedMode = &investigation.DegradedModeRecord{Type: investigation.DegradedHypothesisSpaceExhausted, Reason: "all hypotheses reached a terminal status with none validated", DeclaredAtTurn: state.CurrentTurn, DeclaredAt: now}
	case blockedEvidence:
		state.DegradedMode = &investigation.DegradedModeRecord{Type: investigation.DegradedCriticalEvidenceMissing, Reason: "3 or more blocked evidence requests", DeclaredAtTurn: state.CurrentTurn, DeclaredAt: now}
	default:
		return false
	}
	e.Metrics.observeDegradedMode(state.DegradedMode.Type)
	return true
}

func (e *MilestoneEngine) allHypothesesTerminalWithNoneValidated(hypotheses []investigation.Hypothesis) bool {
	if len(hypotheses) == 0 {
		return false
	}
	for _, h := range hypotheses {
		if h.Status == investigation.HypothesisCaptured || h.Status == investigation.HypothesisActive {
			return false
		}
		if h.Status == investigation.HypothesisValidated {
			return false
		}
	}
	return true
}

// blockedEvidenceCount counts evidence the engine could not categorise
// as either causal or resolution signal, a proxy for "requests the LLM
// could not act on".
func (e *MilestoneEngine) blockedEvidenceCount(state *investigation.InvestigationState) int {
	count := 0
	for _, ev := range state.Evidence {
		if ev.Category == investigation.EvidenceOther {
			count++
		}
	}
	return count
}

func (e *MilestoneEngine) classifyOutcome(milestonesCompleted, evidenceCollected, hypothesesChanged []string, state *investigation.InvestigationState) investigation.TurnOutcome {
	for _, id := range hypothesesChanged {
		if h := state.FindHypothesis(id); h != nil {
			if h.Status == investigation.HypothesisValidated {
				return investigation.OutcomeHypothesisValidated
			}
			if h.Status == investigation.HypothesisRefuted {
				return investigation.OutcomeHypothesisRefuted
			}
		}
	}
	if len(milestonesCompleted) > 0 {
		return investigation.OutcomeProgress
	}
	if len(evidenceCollected) > 0 {
		return investigation.OutcomeEvidenceCollected
	}
	return investigation.OutcomeConversation
}
