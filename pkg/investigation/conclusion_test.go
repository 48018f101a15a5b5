package investigation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConclusionGenerator_Generate(t *testing.T) {
	g := NewConclusionGenerator()

	t.Run("no hypothesis falls back to the phase placeholder", func(t *testing.T) {
		state := &InvestigationState{CurrentPhase: PhaseHypothesis}
		wc := g.Generate(state, 3)
		assert.Equal(t, phasePlaceholders[PhaseHypothesis], wc.Statement)
		assert.False(t, wc.CanProceedWithSolution)
		assert.Contains(t, wc.Caveats, "no hypothesis has enough evidence to draw a conclusion")
	})

	t.Run("validated hypothesis with strong evidence can proceed to a solution", func(t *testing.T) {
		state := &InvestigationState{
			Hypotheses: []Hypothesis{
				{
					ID: "h1", Status: HypothesisValidated, Statement: "pool exhaustion",
					Likelihood: 0.80, SupportingEvidenceIDs: []string{"e1", "e2"},
				},
			},
		}
		wc := g.Generate(state, 5)
		assert.Equal(t, "pool exhaustion", wc.Statement)
		assert.True(t, wc.CanProceedWithSolution)
		assert.Empty(t, wc.Caveats)
	})

	t.Run("active hypothesis below threshold surfaces caveats", func(t *testing.T) {
		state := &InvestigationState{
			Hypotheses: []Hypothesis{
				{ID: "h1", Status: HypothesisActive, Statement: "theory", Likelihood: 0.55, SupportingEvidenceIDs: []string{"e1"}},
				{ID: "h2", Status: HypothesisActive, Statement: "alt", Likelihood: 0.35},
			},
		}
		wc := g.Generate(state, 2)
		assert.False(t, wc.CanProceedWithSolution)
		assert.Contains(t, wc.Caveats, "low supporting evidence")
		assert.Contains(t, wc.Caveats, "confidence below validation threshold")
		assert.Contains(t, wc.Caveats, "1 alternative explanations not ruled out")
	})
}

func TestConclusionGenerator_Metrics(t *testing.T) {
	g := NewConclusionGenerator()

	t.Run("early momentum with little history", func(t *testing.T) {
		state := &InvestigationState{}
		m := g.Metrics(state)
		assert.Equal(t, MomentumEarly, m.Momentum)
	})

	t.Run("stalled momentum when no recent turn progressed", func(t *testing.T) {
		state := &InvestigationState{
			TurnHistory: []TurnRecord{
				{ProgressMade: false}, {ProgressMade: false}, {ProgressMade: false}, {ProgressMade: false},
			},
		}
		m := g.Metrics(state)
		assert.Equal(t, MomentumStalled, m.Momentum)
	})

	t.Run("accelerating momentum with most recent turns progressing", func(t *testing.T) {
		state := &InvestigationState{
			TurnHistory: []TurnRecord{
				{ProgressMade: false}, {ProgressMade: true}, {ProgressMade: true}, {ProgressMade: true},
			},
		}
		m := g.Metrics(state)
		assert.Equal(t, MomentumAccelerating, m.Momentum)
	})

	t.Run("degraded mode is reflected in metrics", func(t *testing.T) {
		state := &InvestigationState{DegradedMode: &DegradedModeRecord{Type: DegradedNoProgress}}
		m := g.Metrics(state)
		assert.True(t, m.Degraded)
	})
}

func TestBestHypothesis(t *testing.T) {
	hyps := []Hypothesis{
		{ID: "a", Status: HypothesisRetired, Likelihood: 0.99},
		{ID: "b", Status: HypothesisActive, Likelihood: 0.40},
		{ID: "c", Status: HypothesisValidated, Likelihood: 0.75},
	}
	best := bestHypothesis(hyps)
	require.NotNil(t, best)
	assert.Equal(t, "c", best.ID)
}
