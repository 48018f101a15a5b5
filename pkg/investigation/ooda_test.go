package investigation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOODAController_Budget(t *testing.T) {
	c := NewOODAController(NewHypothesisManager())
	b := c.Budget(PhaseValidation)
	assert.Equal(t, 3, b.Min)
	assert.Equal(t, 6, b.Max)
}

func TestOODAController_Intensity(t *testing.T) {
	c := NewOODAController(NewHypothesisManager())

	cases := []struct {
		phase     Phase
		iteration int
		want      Intensity
	}{
		{PhaseIntake, 0, IntensityNone},
		{PhaseBlastRadius, 1, IntensityLight},
		{PhaseHypothesis, 1, IntensityLight},
		{PhaseHypothesis, 3, IntensityMedium},
		{PhaseValidation, 1, IntensityMedium},
		{PhaseValidation, 3, IntensityFull},
		{PhaseSolution, 1, IntensityMedium},
		{PhaseDocument, 1, IntensityLight},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, c.Intensity(tc.phase, tc.iteration))
	}
}

func TestOODAController_ShouldContinue(t *testing.T) {
	c := NewOODAController(NewHypothesisManager())
	budget := IterationBudget{Min: 1, Max: 3}

	t.Run("below minimum always continues", func(t *testing.T) {
		state := &InvestigationState{CurrentPhase: PhaseHypothesis}
		ok, _ := c.ShouldContinue(state, 0, budget)
		assert.True(t, ok)
	})

	t.Run("at maximum always stops", func(t *testing.T) {
		state := &InvestigationState{CurrentPhase: PhaseHypothesis}
		ok, reason := c.ShouldContinue(state, 3, budget)
		assert.False(t, ok)
		assert.Equal(t, "max reached", reason)
	})

	t.Run("anchoring forces continuation mid-budget", func(t *testing.T) {
		state := &InvestigationState{
			CurrentPhase: PhaseHypothesis,
			Hypotheses: []Hypothesis{
				{ID: "h1", Status: HypothesisActive, Category: CategoryCode},
				{ID: "h2", Status: HypothesisActive, Category: CategoryCode},
				{ID: "h3", Status: HypothesisActive, Category: CategoryCode},
				{ID: "h4", Status: HypothesisActive, Category: CategoryCode},
			},
		}
		// Anchoring detection needs iteration 3 or later, so the budget
		// leaves room above it.
		ok, _ := c.ShouldContinue(state, 3, IterationBudget{Min: 1, Max: 5})
		assert.True(t, ok)
	})

	t.Run("validation phase without a qualifying validated hypothesis continues", func(t *testing.T) {
		state := &InvestigationState{CurrentPhase: PhaseValidation}
		ok, reason := c.ShouldContinue(state, 2, budget)
		assert.True(t, ok)
		assert.Contains(t, reason, "validated hypothesis")
	})

	t.Run("validation phase with a qualifying validated hypothesis stops", func(t *testing.T) {
		state := &InvestigationState{
			CurrentPhase: PhaseValidation,
			Hypotheses: []Hypothesis{
				{ID: "h1", Status: HypothesisValidated, Likelihood: 0.80},
			},
		}
		ok, reason := c.ShouldContinue(state, 2, budget)
		assert.False(t, ok)
		assert.Equal(t, "objectives achieved", reason)
	})

	t.Run("non-validation phase with objectives achieved stops mid-budget", func(t *testing.T) {
		state := &InvestigationState{CurrentPhase: PhaseBlastRadius}
		ok, reason := c.ShouldContinue(state, 1, IterationBudget{Min: 1, Max: 2})
		assert.False(t, ok)
		assert.Equal(t, "objectives achieved", reason)
	})
}
