package investigation

import "fmt"

// phasePlaceholders are the placeholder working-conclusion statements
// used when no ACTIVE/VALIDATED hypothesis exists yet.
var phasePlaceholders = map[Phase]string{
	PhaseIntake:      "Still gathering the initial problem description.",
	PhaseBlastRadius: "Assessing the scope and blast radius of the fault.",
	PhaseTimeline:    "Establishing the timeline of events leading to the fault.",
	PhaseHypothesis:  "No hypothesis has enough evidence yet; forming candidate root causes.",
	PhaseValidation:  "Testing candidate hypotheses; no hypothesis has been validated yet.",
	PhaseSolution:    "Working conclusion pending: awaiting a validated root cause to propose a solution.",
	PhaseDocument:    "Investigation concluding; documenting findings.",
}

// ConclusionGenerator computes the per-turn WorkingConclusion and
// ProgressMetrics.
type ConclusionGenerator struct{}

// NewConclusionGenerator constructs a ConclusionGenerator.
func NewConclusionGenerator() *ConclusionGenerator {
	return &ConclusionGenerator{}
}

// Generate computes the WorkingConclusion for the current turn.
func (g *ConclusionGenerator) Generate(state *InvestigationState, turn int) WorkingConclusion {
	best := bestHypothesis(state.Hypotheses)

	var statement string
	var confidence float64
	if best != nil {
		statement = best.Statement
		confidence = best.Likelihood
	} else {
		statement = phasePlaceholders[state.CurrentPhase]
		confidence = 0
	}

	wc := WorkingConclusion{
		Statement:             statement,
		Confidence:             confidence,
		CanProceedWithSolution: confidence >= ValidatedLikelihoodThreshold,
		UpdatedAtTurn:          turn,
	}
	wc.Caveats = g.caveats(state, best)
	wc.NextEvidenceNeeded = g.nextEvidenceNeeded(state, best)
	return wc
}

// bestHypothesis returns the highest-likelihood ACTIVE or VALIDATED
// hypothesis, or nil if none exists.
func bestHypothesis(hypotheses []Hypothesis) *Hypothesis {
	var best *Hypothesis
	for i := range hypotheses {
		st := hypotheses[i].Status
		if st != HypothesisActive && st != HypothesisValidated {
			continue
		}
		if best == nil || hypotheses[i].Likelihood > best.Likelihood {
			best = &hypotheses[i]
		}
	}
	return best
}

func (g *ConclusionGenerator) caveats(state *InvestigationState, best *Hypothesis) []string {
	var caveats []string
	if best == nil {
		return []string{"no hypothesis has enough evidence to draw a conclusion"}
	}

	if len(best.SupportingEvidenceIDs) < 2 {
		caveats = append(caveats, "low supporting evidence")
	}
	if best.Likelihood < ValidatedLikelihoodThreshold {
		caveats = append(caveats, "confidence below validation threshold")
	}

	alternatives := 0
	for _, h := range state.Hypotheses {
		if h.ID == best.ID {
			continue
		}
		if h.Status == HypothesisActive && h.Likelihood >= 0.30 {
			alternatives++
		}
	}
	if alternatives > 0 {
		caveats = append(caveats, fmt.Sprintf("%d alternative explanations not ruled out", alternatives))
	}

	if best.IterationsWithoutProgress >= 3 {
		caveats = append(caveats, "no recent progress")
	}

	return caveats
}

func (g *ConclusionGenerator) nextEvidenceNeeded(state *InvestigationState, best *Hypothesis) string {
	if best == nil {
		return "Evidence supporting or refuting an initial hypothesis is needed before a conclusion can form."
	}
	if best.Likelihood < 0.30 {
		return fmt.Sprintf("Additional evidence is needed to determine whether %q is viable at all.", best.Statement)
	}
	if best.Likelihood < ValidatedLikelihoodThreshold {
		return fmt.Sprintf("Corroborating evidence for %q is needed to cross the validation threshold.", best.Statement)
	}
	if len(best.SupportingEvidenceIDs) < 2 {
		return "A second independent piece of supporting evidence is needed to validate this hypothesis."
	}
	return "Evidence that the proposed solution resolves the symptom is needed to verify the fix."
}

// ProgressMetrics summarises investigation velocity for analytics
type ProgressMetrics struct {
	EvidenceCount        int
	ActiveHypothesisCount int
	Momentum             Momentum
	Degraded             bool
}

// Metrics computes ProgressMetrics from the current state.
func (g *ConclusionGenerator) Metrics(state *InvestigationState) ProgressMetrics {
	m := ProgressMetrics{
		EvidenceCount:         len(state.Evidence),
		ActiveHypothesisCount: len(state.ActiveHypotheses()),
		Degraded:              state.DegradedMode != nil,
	}
	m.Momentum = g.momentum(state)
	return m
}

// momentum classifies recent progress from the last 3 turns' progress
// ratio.
func (g *ConclusionGenerator) momentum(state *InvestigationState) Momentum {
	history := state.TurnHistory
	if len(history) == 0 {
		return MomentumEarly
	}

	recent := history
	if len(recent) > 3 {
		recent = recent[len(recent)-3:]
	}

	progressed := 0
	for _, t := range recent {
		if t.ProgressMade {
			progressed++
		}
	}
	ratio := float64(progressed) / float64(len(recent))

	switch {
	case len(history) <= 2:
		return MomentumEarly
	case ratio == 0:
		return MomentumStalled
	case ratio < 0.5:
		return MomentumSteady
	default:
		return MomentumAccelerating
	}
}
