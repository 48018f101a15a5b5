package investigation

import (
	"encoding/json"
	"time"
)

// allowedTransitions is the case status state machine's edge set.
// It never changes at runtime and is not exported so callers cannot
// mutate it.
var allowedTransitions = map[CaseStatus][]CaseStatus{
	CaseStatusConsulting:   {CaseStatusInvestigating, CaseStatusClosed},
	CaseStatusInvestigating: {CaseStatusResolved, CaseStatusClosed},
	CaseStatusResolved:     {},
	CaseStatusClosed:       {},
}

// StatusMachine gatekeeps every case status mutation. It never stores
// state itself; callers supply the current status and receive the
// verdict or the fields to stamp.
type StatusMachine struct{}

// NewStatusMachine constructs a StatusMachine. It carries no state, so a
// single instance may be shared across cases and goroutines.
func NewStatusMachine() *StatusMachine {
	return &StatusMachine{}
}

// Validate reports whether target is reachable from current, and if not,
// why.
func (m *StatusMachine) Validate(current, target CaseStatus) (bool, string) {
	if current.IsTerminal() {
		return false, "cannot transition from terminal state '" + string(current) + "'"
	}
	for _, allowed := range allowedTransitions[current] {
		if allowed == target {
			return true, ""
		}
	}
	return false, "invalid transition: '" + string(current) + "' -> '" + string(target) + "'"
}

// Assert validates the transition and returns an *InvalidTransitionError
// if it is not allowed. Invalid transitions are fatal to the caller, not
// recovered.
func (m *StatusMachine) Assert(current, target CaseStatus) error {
	ok, reason := m.Validate(current, target)
	if !ok {
		return &InvalidTransitionError{Current: current, Target: target, Reason: reason}
	}
	return nil
}

// AllowedTargets returns the set of statuses reachable from current.
func (m *StatusMachine) AllowedTargets(current CaseStatus) []CaseStatus {
	out := make([]CaseStatus, len(allowedTransitions[current]))
	copy(out, allowedTransitions[current])
	return out
}

// TerminalFields returns the timestamp/actor fields to stamp on the case
// when entering a terminal status. Returns an empty map for non-terminal
// targets.
func (m *StatusMachine) TerminalFields(target CaseStatus, userID string) map[string]any {
	now := time.Now().UTC()
	switch target {
	case CaseStatusResolved:
		return map[string]any{"resolved_at": now, "resolved_by": userID}
	case CaseStatusClosed:
		return map[string]any{"closed_at": now, "closed_by": userID}
	default:
		return map[string]any{}
	}
}

// StatusAuditRecord is a structured log entry appended to
// case.metadata.status_history on every transition.
type StatusAuditRecord struct {
	FromStatus CaseStatus `json:"from_status"`
	ToStatus   CaseStatus `json:"to_status"`
	ChangedAt  time.Time  `json:"changed_at"`
	ChangedBy  string     `json:"changed_by"`
	Auto       bool       `json:"auto"`
	Reason     string     `json:"reason,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

func (r StatusAuditRecord) MarshalJSON() ([]byte, error) {
	type alias StatusAuditRecord
	return marshalVersioned(alias(r), r.Extra)
}

func (r *StatusAuditRecord) UnmarshalJSON(data []byte) error {
	type alias StatusAuditRecord
	var a alias
	extra, err := unmarshalVersioned(data, &a)
	if err != nil {
		return err
	}
	*r = StatusAuditRecord(a)
	r.Extra = extra
	return nil
}

// AuditRecord builds the audit entry for a transition.
func (m *StatusMachine) AuditRecord(old, new CaseStatus, userID string, auto bool, reason string) StatusAuditRecord {
	return StatusAuditRecord{
		FromStatus: old,
		ToStatus:   new,
		ChangedAt:  time.Now().UTC(),
		ChangedBy:  userID,
		Auto:       auto,
		Reason:     reason,
	}
}

// transitionNarratives is a canned agent-facing narrative injected by
// the Milestone Engine's prompt builder on a status change
var transitionNarratives = map[[2]CaseStatus]string{
	{CaseStatusConsulting, CaseStatusInvestigating}: "The user has confirmed the problem description. Begin formal investigation with milestone tracking.",
	{CaseStatusInvestigating, CaseStatusResolved}:   "The solution has been verified and the problem is resolved. Document the resolution for future reference.",
	{CaseStatusInvestigating, CaseStatusClosed}:     "The investigation has been closed without resolution. This may be due to escalation or abandonment.",
	{CaseStatusConsulting, CaseStatusClosed}:        "The case has been closed during the consulting phase. No formal investigation was started.",
}

// TransitionNarrative returns the canned agent-facing message for a
// status change, or "" if none is defined for that pair.
func TransitionNarrative(old, new CaseStatus) string {
	return transitionNarratives[[2]CaseStatus{old, new}]
}
