package investigation

// Confidence update magnitudes. Exported as constants so
// callers needing to reason about the math (tests, prompt builders) can
// reference the contract rather than re-derive it.
const (
	SupportingEvidenceDelta = 0.15
	RefutingEvidenceDelta   = -0.20
	DecayFactor             = 0.85

	ValidatedLikelihoodThreshold = 0.70
	ValidatedMinSupporting       = 2
	RefutedLikelihoodThreshold   = 0.20
	RefutedMinRefuting           = 2
	RetiredLikelihoodThreshold   = 0.30

	// ProgressDeltaThreshold is the minimum absolute likelihood change
	// that counts as "progress" for the iterations-without-progress
	// counter.
	ProgressDeltaThreshold = 0.05

	// DecayMinIterationsWithoutProgress is the boundary at which decay
	// starts applying.
	DecayMinIterationsWithoutProgress = 2
)

// HypothesisManager implements the evidence-weighted confidence math,
// auto-status-transitions, and anchoring-bias detection for hypotheses.
// It is pure: every method operates on the hypotheses passed to it,
// mutating them in place where it changes them, and performs no I/O.
type HypothesisManager struct{}

// NewHypothesisManager constructs a HypothesisManager.
func NewHypothesisManager() *HypothesisManager {
	return &HypothesisManager{}
}

// clamp01 clamps a likelihood to [0,1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// LinkSupportingEvidence links evidence as supporting h, recomputes
// likelihood (+0.15, clamped), records the trajectory point, updates the
// iterations-without-progress counter, and runs auto-status-transitions.
func (m *HypothesisManager) LinkSupportingEvidence(h *Hypothesis, evidenceID string, turn int) {
	h.SupportingEvidenceIDs = append(h.SupportingEvidenceIDs, evidenceID)
	m.applyDelta(h, SupportingEvidenceDelta, turn)
	m.applyAutoTransition(h, turn)
}

// LinkRefutingEvidence links evidence as refuting h, recomputes
// likelihood (-0.20, clamped), and otherwise behaves like
// LinkSupportingEvidence.
func (m *HypothesisManager) LinkRefutingEvidence(h *Hypothesis, evidenceID string, turn int) {
	h.RefutingEvidenceIDs = append(h.RefutingEvidenceIDs, evidenceID)
	m.applyDelta(h, RefutingEvidenceDelta, turn)
	m.applyAutoTransition(h, turn)
}

func (m *HypothesisManager) applyDelta(h *Hypothesis, delta float64, turn int) {
	before := h.Likelihood
	h.Likelihood = clamp01(h.Likelihood + delta)
	h.ConfidenceTrajectory = append(h.ConfidenceTrajectory, TrajectoryPoint{Turn: turn, Likelihood: h.Likelihood})

	actual := h.Likelihood - before
	if actual < 0 {
		actual = -actual
	}
	if actual >= ProgressDeltaThreshold {
		h.IterationsWithoutProgress = 0
		h.LastProgressAtTurn = turn
	} else {
		h.IterationsWithoutProgress++
	}
}

// ApplyDecay applies confidence decay to ACTIVE hypotheses whose
// iterations-without-progress has reached the 2-iteration boundary.
// Intended to run at turn boundaries over every hypothesis in the
// state.
func (m *HypothesisManager) ApplyDecay(h *Hypothesis, turn int) {
	if h.Status != HypothesisActive {
		return
	}
	if h.IterationsWithoutProgress < DecayMinIterationsWithoutProgress {
		return
	}
	decayed := h.Likelihood
	for i := 0; i < h.IterationsWithoutProgress; i++ {
		decayed *= DecayFactor
	}
	h.Likelihood = clamp01(decayed)
	h.ConfidenceTrajectory = append(h.ConfidenceTrajectory, TrajectoryPoint{Turn: turn, Likelihood: h.Likelihood})
}

// DecayStalled runs the turn-boundary decay pass over every ACTIVE
// hypothesis and re-evaluates auto-status transitions afterwards, since
// decay can push a hypothesis under the retirement threshold. Returns
// the ids whose likelihood changed.
func (m *HypothesisManager) DecayStalled(hypotheses []Hypothesis, turn int) []string {
	var changed []string
	for i := range hypotheses {
		h := &hypotheses[i]
		if h.Status != HypothesisActive || h.IterationsWithoutProgress < DecayMinIterationsWithoutProgress {
			continue
		}
		before := h.Likelihood
		m.ApplyDecay(h, turn)
		m.applyAutoTransition(h, turn)
		if h.Likelihood != before {
			changed = append(changed, h.ID)
		}
	}
	return changed
}

// applyAutoTransition evaluates the auto-status-transition rules.
// Only CAPTURED/ACTIVE hypotheses are eligible; order matters:
// REFUTED takes precedence over RETIRED when both could apply.
func (m *HypothesisManager) applyAutoTransition(h *Hypothesis, turn int) {
	if h.Status != HypothesisCaptured && h.Status != HypothesisActive {
		return
	}

	switch {
	case h.Likelihood >= ValidatedLikelihoodThreshold && len(h.SupportingEvidenceIDs) >= ValidatedMinSupporting:
		h.Status = HypothesisValidated
		h.ValidatedAtTurn = turn
	case h.Likelihood <= RefutedLikelihoodThreshold && len(h.RefutingEvidenceIDs) >= RefutedMinRefuting:
		h.Status = HypothesisRefuted
		h.ValidatedAtTurn = turn
	case h.Likelihood < RetiredLikelihoodThreshold:
		h.Status = HypothesisRetired
	}
}

// AnchoringResult is the verdict of anchoring-bias detection.
type AnchoringResult struct {
	Triggered   bool
	Reason      string
	AffectedIDs []string
}

// DetectAnchoring checks the hypothesis set for signs of anchoring bias.
// It requires currentIteration >= 3; below that it never triggers.
func (m *HypothesisManager) DetectAnchoring(hypotheses []Hypothesis, currentIteration int) AnchoringResult {
	if currentIteration < 3 {
		return AnchoringResult{}
	}

	active := make([]*Hypothesis, 0, len(hypotheses))
	for i := range hypotheses {
		if hypotheses[i].Status == HypothesisActive {
			active = append(active, &hypotheses[i])
		}
	}

	// Rule 1: >=4 ACTIVE hypotheses share the same category.
	byCategory := map[HypothesisCategory][]string{}
	for _, h := range active {
		byCategory[h.Category] = append(byCategory[h.Category], h.ID)
	}
	for cat, ids := range byCategory {
		if len(ids) >= 4 {
			return AnchoringResult{
				Triggered:   true,
				Reason:      "4 hypotheses in '" + string(cat) + "' category",
				AffectedIDs: ids,
			}
		}
	}

	// Rule 2: >=2 ACTIVE hypotheses with iterations_without_progress >= 3.
	var stalled []string
	for _, h := range active {
		if h.IterationsWithoutProgress >= 3 {
			stalled = append(stalled, h.ID)
		}
	}
	if len(stalled) >= 2 {
		return AnchoringResult{
			Triggered:   true,
			Reason:      "2 or more active hypotheses show no progress for 3+ iterations",
			AffectedIDs: stalled,
		}
	}

	// Rule 3: top-ranked ACTIVE hypothesis stalled with low confidence.
	ranked := rankByLikelihood(active)
	if len(ranked) > 0 {
		top := ranked[0]
		if top.IterationsWithoutProgress >= 3 && top.Likelihood < ValidatedLikelihoodThreshold {
			return AnchoringResult{
				Triggered:   true,
				Reason:      "top-ranked hypothesis '" + top.ID + "' stalled below validation threshold",
				AffectedIDs: []string{top.ID},
			}
		}
	}

	return AnchoringResult{}
}

// ForcedAlternativeConstraints instructs the prompt layer to diversify
// hypothesis generation after anchoring triggers.
type ForcedAlternativeConstraints struct {
	ExcludeCategories     []HypothesisCategory
	RequireDiverseCategories bool
	MinNewHypotheses      int
}

// ForceAlternativeGeneration retires ACTIVE hypotheses in the dominant
// anchoring category with iterations_without_progress >= 2, and returns
// the constraints the prompt layer should impose on new hypotheses
func (m *HypothesisManager) ForceAlternativeGeneration(hypotheses []Hypothesis, result AnchoringResult) ForcedAlternativeConstraints {
	dominant := dominantCategory(hypotheses, result.AffectedIDs)

	for i := range hypotheses {
		h := &hypotheses[i]
		if h.Status == HypothesisActive && h.Category == dominant && h.IterationsWithoutProgress >= 2 {
			h.Status = HypothesisRetired
		}
	}

	var exclude []HypothesisCategory
	if dominant != "" {
		exclude = []HypothesisCategory{dominant}
	}
	return ForcedAlternativeConstraints{
		ExcludeCategories:        exclude,
		RequireDiverseCategories: true,
		MinNewHypotheses:         2,
	}
}

// dominantCategory finds the category shared by the most affected ids,
// falling back to the single affected hypothesis's category.
func dominantCategory(hypotheses []Hypothesis, affectedIDs []string) HypothesisCategory {
	counts := map[HypothesisCategory]int{}
	for _, id := range affectedIDs {
		for _, h := range hypotheses {
			if h.ID == id {
				counts[h.Category]++
			}
		}
	}
	var best HypothesisCategory
	bestCount := 0
	for cat, c := range counts {
		if c > bestCount {
			best = cat
			bestCount = c
		}
	}
	return best
}

// rankByLikelihood returns hypotheses sorted descending by likelihood
// (stable on ties, preserving input order).
func rankByLikelihood(hypotheses []*Hypothesis) []*Hypothesis {
	out := make([]*Hypothesis, len(hypotheses))
	copy(out, hypotheses)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Likelihood > out[j-1].Likelihood; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// RankByLikelihood returns hypotheses sorted by descending likelihood.
func (m *HypothesisManager) RankByLikelihood(hypotheses []Hypothesis) []Hypothesis {
	ptrs := make([]*Hypothesis, len(hypotheses))
	for i := range hypotheses {
		ptrs[i] = &hypotheses[i]
	}
	ranked := rankByLikelihood(ptrs)
	out := make([]Hypothesis, len(ranked))
	for i, p := range ranked {
		out[i] = *p
	}
	return out
}

// GetTestable returns up to max ACTIVE hypotheses with likelihood > 0.20,
// ranked descending.
func (m *HypothesisManager) GetTestable(hypotheses []Hypothesis, max int) []Hypothesis {
	var candidates []Hypothesis
	for _, h := range hypotheses {
		if h.Status == HypothesisActive && h.Likelihood > RefutedLikelihoodThreshold {
			candidates = append(candidates, h)
		}
	}
	ranked := m.RankByLikelihood(candidates)
	if len(ranked) > max {
		ranked = ranked[:max]
	}
	return ranked
}

// GetValidated returns the highest-likelihood VALIDATED hypothesis, or
// nil if none exists.
func (m *HypothesisManager) GetValidated(hypotheses []Hypothesis) *Hypothesis {
	var best *Hypothesis
	for i := range hypotheses {
		if hypotheses[i].Status != HypothesisValidated {
			continue
		}
		if best == nil || hypotheses[i].Likelihood > best.Likelihood {
			best = &hypotheses[i]
		}
	}
	return best
}

// NewHypothesis constructs a Hypothesis with the invariants the rest of
// the manager expects (non-nil trajectory/evidence slices, captured
// timestamp).
func NewHypothesis(id, statement string, category HypothesisCategory, likelihood float64, turn int, mode GenerationMode) Hypothesis {
	return Hypothesis{
		ID:                    id,
		Statement:             statement,
		Category:              category,
		Status:                HypothesisCaptured,
		Likelihood:            clamp01(likelihood),
		InitialLikelihood:     clamp01(likelihood),
		ConfidenceTrajectory:  []TrajectoryPoint{{Turn: turn, Likelihood: clamp01(likelihood)}},
		SupportingEvidenceIDs: []string{},
		RefutingEvidenceIDs:   []string{},
		CapturedAtTurn:        turn,
		LastProgressAtTurn:    turn,
		GenerationMode:        mode,
	}
}

// Activate transitions a CAPTURED hypothesis to ACTIVE. It is a no-op
// (returns false) for any other source status.
func (m *HypothesisManager) Activate(h *Hypothesis) bool {
	if h.Status != HypothesisCaptured {
		return false
	}
	h.Status = HypothesisActive
	return true
}
