package investigation

// IterationBudget is the (min, max) OODA iteration count for a phase.
type IterationBudget struct {
	Min int
	Max int
}

// phaseBudgets is the fixed per-phase iteration budget table. Not
// exported so it cannot be mutated at runtime. NewOODAController always
// uses it; there is no way to supply a different table.
var phaseBudgets = map[Phase]IterationBudget{
	PhaseIntake:      {Min: 0, Max: 0},
	PhaseBlastRadius: {Min: 1, Max: 2},
	PhaseTimeline:    {Min: 1, Max: 2},
	PhaseHypothesis:  {Min: 2, Max: 3},
	PhaseValidation:  {Min: 3, Max: 6},
	PhaseSolution:    {Min: 2, Max: 4},
	PhaseDocument:    {Min: 1, Max: 1},
}

// OODAController assigns adaptive intensity and decides whether a phase
// should keep iterating.
type OODAController struct {
	budgets  map[Phase]IterationBudget
	manager  *HypothesisManager
}

// NewOODAController constructs an OODAController using the default
// phase budgets.
func NewOODAController(manager *HypothesisManager) *OODAController {
	return &OODAController{budgets: phaseBudgets, manager: manager}
}

// Budget returns the (min,max) iteration budget for a phase.
func (c *OODAController) Budget(phase Phase) IterationBudget {
	return c.budgets[phase]
}

// Intensity returns the adaptive intensity for a (phase, iteration) pair
func (c *OODAController) Intensity(phase Phase, iteration int) Intensity {
	switch phase {
	case PhaseIntake:
		return IntensityNone
	case PhaseBlastRadius, PhaseTimeline, PhaseDocument:
		return IntensityLight
	case PhaseHypothesis:
		if iteration <= 2 {
			return IntensityLight
		}
		return IntensityMedium
	case PhaseValidation:
		if iteration <= 2 {
			return IntensityMedium
		}
		return IntensityFull
	case PhaseSolution:
		return IntensityMedium
	default:
		return IntensityLight
	}
}

// ShouldContinue decides whether the current OODA iteration should keep
// going. state supplies the current phase and hypothesis set needed for the
// anchoring and VALIDATION-specific checks.
func (c *OODAController) ShouldContinue(state *InvestigationState, iteration int, budget IterationBudget) (bool, string) {
	if iteration < budget.Min {
		return true, "below minimum"
	}
	if iteration >= budget.Max {
		return false, "max reached"
	}

	anchoring := c.manager.DetectAnchoring(state.Hypotheses, iteration)
	if anchoring.Triggered {
		return true, anchoring.Reason
	}

	if state.CurrentPhase == PhaseValidation {
		validated := c.manager.GetValidated(state.Hypotheses)
		if validated == nil || validated.Likelihood < ValidatedLikelihoodThreshold {
			return true, "no validated hypothesis meeting the confidence threshold yet"
		}
	}

	return false, "objectives achieved"
}
