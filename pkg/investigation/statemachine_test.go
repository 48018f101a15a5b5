package investigation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusMachine_Validate(t *testing.T) {
	m := NewStatusMachine()

	cases := []struct {
		name    string
		current CaseStatus
		target  CaseStatus
		ok      bool
	}{
		{"consulting to investigating", CaseStatusConsulting, CaseStatusInvestigating, true},
		{"consulting to closed", CaseStatusConsulting, CaseStatusClosed, true},
		{"consulting to resolved is not allowed", CaseStatusConsulting, CaseStatusResolved, false},
		{"investigating to resolved", CaseStatusInvestigating, CaseStatusResolved, true},
		{"investigating to closed", CaseStatusInvestigating, CaseStatusClosed, true},
		{"investigating to consulting is not allowed", CaseStatusInvestigating, CaseStatusConsulting, false},
		{"resolved is terminal", CaseStatusResolved, CaseStatusClosed, false},
		{"closed is terminal", CaseStatusClosed, CaseStatusInvestigating, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, reason := m.Validate(tc.current, tc.target)
			assert.Equal(t, tc.ok, ok)
			if !tc.ok {
				assert.NotEmpty(t, reason)
			}
		})
	}
}

func TestStatusMachine_Assert(t *testing.T) {
	m := NewStatusMachine()

	t.Run("valid transition returns nil", func(t *testing.T) {
		err := m.Assert(CaseStatusConsulting, CaseStatusInvestigating)
		assert.NoError(t, err)
	})

	t.Run("invalid transition returns InvalidTransitionError", func(t *testing.T) {
		err := m.Assert(CaseStatusResolved, CaseStatusInvestigating)
		require.Error(t, err)
		assert.True(t, IsInvalidTransition(err))
	})
}

func TestStatusMachine_AllowedTargets(t *testing.T) {
	m := NewStatusMachine()
	assert.ElementsMatch(t, []CaseStatus{CaseStatusInvestigating, CaseStatusClosed}, m.AllowedTargets(CaseStatusConsulting))
	assert.Empty(t, m.AllowedTargets(CaseStatusResolved))
}

func TestStatusMachine_TerminalFields(t *testing.T) {
	m := NewStatusMachine()

	t.Run("resolved stamps resolved_at/resolved_by", func(t *testing.T) {
		fields := m.TerminalFields(CaseStatusResolved, "user-1")
		assert.Contains(t, fields, "resolved_at")
		assert.Equal(t, "user-1", fields["resolved_by"])
	})

	t.Run("closed stamps closed_at/closed_by", func(t *testing.T) {
		fields := m.TerminalFields(CaseStatusClosed, "user-2")
		assert.Contains(t, fields, "closed_at")
		assert.Equal(t, "user-2", fields["closed_by"])
	})

	t.Run("non-terminal target stamps nothing", func(t *testing.T) {
		fields := m.TerminalFields(CaseStatusInvestigating, "user-3")
		assert.Empty(t, fields)
	})
}

func TestTransitionNarrative(t *testing.T) {
	t.Run("known pair returns a narrative", func(t *testing.T) {
		msg := TransitionNarrative(CaseStatusConsulting, CaseStatusInvestigating)
		assert.NotEmpty(t, msg)
	})

	t.Run("unknown pair returns empty string", func(t *testing.T) {
		msg := TransitionNarrative(CaseStatusResolved, CaseStatusClosed)
		assert.Empty(t, msg)
	})
}
