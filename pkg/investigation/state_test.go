package investigation

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvestigationState_RoundTripPreservesUnknownFields(t *testing.T) {
	raw := []byte(`{
		"investigation_id": "inv-1",
		"current_phase": 2,
		"current_turn": 4,
		"started_at": "2026-01-01T00:00:00Z",
		"temporal_state": "ongoing",
		"urgency_level": "high",
		"strategy": "mitigation_first",
		"anomaly_frame": {"problem_statement": "p", "affected_components": [], "scope": "s", "severity": "sev", "confidence": 0.5},
		"temporal_frame": {"recent_changes": []},
		"hypotheses": [{
			"id": "h1", "statement": "pool exhaustion", "category": "infrastructure",
			"status": "active", "likelihood": 0.5, "initial_likelihood": 0.5,
			"confidence_trajectory": [], "supporting_evidence_ids": [], "refuting_evidence_ids": [],
			"captured_at_turn": 1, "last_progress_at_turn": 1, "iterations_without_progress": 0,
			"generation_mode": "systematic",
			"novel_scoring_field": 0.9
		}],
		"evidence": [],
		"progress": {},
		"working_conclusion": {},
		"ooda_state": {},
		"memory": {},
		"turn_history": [],
		"phase_loopbacks": {"count": 0},
		"turns_without_progress": 0,
		"future_field_from_a_newer_engine": {"nested": 1},
		"another_future_field": "value"
	}`)

	var state InvestigationState
	require.NoError(t, json.Unmarshal(raw, &state))

	assert.Equal(t, "inv-1", state.InvestigationID)
	assert.Equal(t, PhaseTimeline, state.CurrentPhase)
	require.Contains(t, state.Extra, "future_field_from_a_newer_engine")
	require.Contains(t, state.Extra, "another_future_field")
	require.Len(t, state.Hypotheses, 1)
	require.Contains(t, state.Hypotheses[0].Extra, "novel_scoring_field")

	out, err := json.Marshal(state)
	require.NoError(t, err)

	var roundTripped map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &roundTripped))
	assert.Contains(t, roundTripped, "future_field_from_a_newer_engine")
	assert.Contains(t, roundTripped, "another_future_field")
	assert.Contains(t, roundTripped, "investigation_id")

	var reparsed InvestigationState
	require.NoError(t, json.Unmarshal(out, &reparsed))
	assert.Equal(t, state.InvestigationID, reparsed.InvestigationID)
	assert.Equal(t, state.Extra["future_field_from_a_newer_engine"], reparsed.Extra["future_field_from_a_newer_engine"])
	// Nested structs carry their own escape hatch through the round trip.
	require.Len(t, reparsed.Hypotheses, 1)
	assert.Equal(t, state.Hypotheses[0].Extra["novel_scoring_field"], reparsed.Hypotheses[0].Extra["novel_scoring_field"])
}

func TestInvestigationState_MarshalWithoutExtraOmitsNoKnownFields(t *testing.T) {
	state := InvestigationState{InvestigationID: "inv-2", StartedAt: time.Now().UTC()}
	out, err := json.Marshal(state)
	require.NoError(t, err)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &fields))
	assert.Contains(t, fields, "investigation_id")
	assert.NotContains(t, fields, "extra")
}

func TestInvestigationState_FindHelpers(t *testing.T) {
	state := &InvestigationState{
		Hypotheses: []Hypothesis{
			{ID: "h1", Status: HypothesisActive},
			{ID: "h2", Status: HypothesisValidated},
			{ID: "h3", Status: HypothesisRefuted},
		},
		Evidence: []Evidence{{ID: "e1"}},
	}

	t.Run("FindHypothesis", func(t *testing.T) {
		h := state.FindHypothesis("h2")
		require.NotNil(t, h)
		assert.Equal(t, HypothesisValidated, h.Status)
		assert.Nil(t, state.FindHypothesis("missing"))
	})

	t.Run("FindEvidence", func(t *testing.T) {
		e := state.FindEvidence("e1")
		require.NotNil(t, e)
		assert.Nil(t, state.FindEvidence("missing"))
	})

	t.Run("ActiveHypotheses", func(t *testing.T) {
		active := state.ActiveHypotheses()
		require.Len(t, active, 1)
		assert.Equal(t, "h1", active[0].ID)
	})

	t.Run("ArchivedHypotheses", func(t *testing.T) {
		archived := state.ArchivedHypotheses()
		require.Len(t, archived, 2)
	})
}

func TestProgress_CompleteIsIdempotent(t *testing.T) {
	var p Progress
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, p.Complete("symptom_verified", at))
	assert.False(t, p.Complete("symptom_verified", at.Add(time.Hour)))
	assert.Equal(t, at, p.CompletedAt["symptom_verified"])
}

func TestProgress_CompletionPercentage(t *testing.T) {
	var p Progress
	assert.Equal(t, 0.0, p.CompletionPercentage())

	now := time.Now()
	p.Complete("symptom_verified", now)
	p.Complete("scope_assessed", now)
	assert.InDelta(t, 25.0, p.CompletionPercentage(), 1e-9)
}
