// Package prompt builds the status-specific LLM messages the Milestone
// Engine sends each turn. Prompt text is treated as a versioned asset
// built here, never hard-coded beyond its structural skeleton
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aegisops/aegis/pkg/investigation"
	"github.com/aegisops/aegis/pkg/ports"
)

// StructuredUpdateSchema is the JSON Schema the Milestone Engine asks the
// LLM to honour on every non-terminal (CONSULTING or INVESTIGATING) turn.
const StructuredUpdateSchema = `{
  "type": "object",
  "properties": {
    "new_hypotheses": {"type": "array", "items": {"type": "object"}},
    "hypothesis_updates": {"type": "array", "items": {"type": "object"}},
    "evidence_updates": {"type": "array", "items": {"type": "object"}},
    "milestones_completed": {"type": "array", "items": {"type": "string"}},
    "phase_transition": {"type": "object"},
    "temporal_state": {"type": "string"},
    "urgency_level": {"type": "string"},
    "proposed_problem_statement": {"type": "string"},
    "commit_to_investigation": {"type": "boolean"}
  }
}`

// NewHypothesisInput is one element of StructuredUpdate.NewHypotheses.
type NewHypothesisInput struct {
	Statement string                          `json:"statement"`
	Category  investigation.HypothesisCategory `json:"category"`
	Likelihood float64                        `json:"likelihood"`
}

// HypothesisUpdateInput links evidence to an existing hypothesis by id.
type HypothesisUpdateInput struct {
	HypothesisID     string   `json:"hypothesis_id"`
	SupportingEvidenceIDs []string `json:"supporting_evidence_ids,omitempty"`
	RefutingEvidenceIDs   []string `json:"refuting_evidence_ids,omitempty"`
}

// EvidenceUpdateInput is a new piece of evidence the LLM surfaced.
type EvidenceUpdateInput struct {
	ID          string                          `json:"id"`
	Description string                          `json:"description"`
	Category    investigation.EvidenceCategory   `json:"category"`
	Form        investigation.EvidenceForm       `json:"form"`
	SourceType  investigation.EvidenceSourceType `json:"source_type"`
	ContentSummary string                        `json:"content_summary"`
}

// PhaseTransitionInput carries the LLM's requested phase transition.
type PhaseTransitionInput struct {
	Outcome investigation.PhaseOutcome     `json:"outcome"`
	Reason  investigation.LoopBackReason `json:"reason,omitempty"`
}

// StructuredUpdate is the parsed state-update payload the LLM returns
// alongside its prose response.
type StructuredUpdate struct {
	NewHypotheses            []NewHypothesisInput     `json:"new_hypotheses,omitempty"`
	HypothesisUpdates        []HypothesisUpdateInput  `json:"hypothesis_updates,omitempty"`
	EvidenceUpdates          []EvidenceUpdateInput    `json:"evidence_updates,omitempty"`
	MilestonesCompleted      []string                 `json:"milestones_completed,omitempty"`
	PhaseTransition          *PhaseTransitionInput     `json:"phase_transition,omitempty"`
	TemporalState            investigation.TemporalState `json:"temporal_state,omitempty"`
	UrgencyLevel             investigation.UrgencyLevel  `json:"urgency_level,omitempty"`
	ProposedProblemStatement string                   `json:"proposed_problem_statement,omitempty"`
	CommitToInvestigation    bool                     `json:"commit_to_investigation,omitempty"`
}

// ParseStructuredUpdate unmarshals the LLM's structured reply. An empty
// payload is valid and yields a zero-value StructuredUpdate.
func ParseStructuredUpdate(raw []byte) (StructuredUpdate, error) {
	var u StructuredUpdate
	if len(raw) == 0 {
		return u, nil
	}
	if err := json.Unmarshal(raw, &u); err != nil {
		return u, fmt.Errorf("parsing structured update: %w", err)
	}
	return u, nil
}

// Builder builds the LLM messages for one turn, chosen by case status.
// transitionNote, when non-empty, is a canned narrative describing a
// status change that took effect since the previous turn.
type Builder interface {
	Build(state *investigation.InvestigationState, status investigation.CaseStatus, userMessage string, anchoring investigation.ForcedAlternativeConstraints, transitionNote string) []ports.ChatMessage
}

// DefaultBuilder builds the three status-specific prompt shapes:
// consulting, investigating, and closed.
type DefaultBuilder struct {
	Ranker *investigation.HypothesisManager
}

// NewDefaultBuilder constructs a DefaultBuilder.
func NewDefaultBuilder(ranker *investigation.HypothesisManager) *DefaultBuilder {
	return &DefaultBuilder{Ranker: ranker}
}

// Build dispatches to the status-specific builder.
func (b *DefaultBuilder) Build(state *investigation.InvestigationState, status investigation.CaseStatus, userMessage string, anchoring investigation.ForcedAlternativeConstraints, transitionNote string) []ports.ChatMessage {
	var messages []ports.ChatMessage
	switch status {
	case investigation.CaseStatusConsulting:
		messages = b.buildConsulting(userMessage)
	case investigation.CaseStatusResolved, investigation.CaseStatusClosed:
		messages = b.buildClosed(userMessage)
	default:
		messages = b.buildInvestigating(state, userMessage, anchoring)
	}
	if transitionNote != "" {
		messages = append([]ports.ChatMessage{{Role: ports.RoleSystem, Content: transitionNote}}, messages...)
	}
	return messages
}

func (b *DefaultBuilder) buildConsulting(userMessage string) []ports.ChatMessage {
	system := strings.Join([]string{
		"You are the consulting-phase assistant for an incident investigation tool.",
		"Given the user's description of a problem, produce:",
		"1. A crisp, one-paragraph problem statement.",
		"2. Any quick-win guidance the user could try immediately.",
		"3. A clear decision point asking whether to commit to a full investigation.",
		"Reply with prose plus a JSON state-update payload matching this schema:",
		StructuredUpdateSchema,
	}, "\n")
	return []ports.ChatMessage{
		{Role: ports.RoleSystem, Content: system},
		{Role: ports.RoleUser, Content: userMessage},
	}
}

func (b *DefaultBuilder) buildInvestigating(state *investigation.InvestigationState, userMessage string, anchoring investigation.ForcedAlternativeConstraints) []ports.ChatMessage {
	var sb strings.Builder
	sb.WriteString("You are the investigation-phase assistant for an incident investigation tool.\n")
	sb.WriteString(fmt.Sprintf("Current phase: %s (turn %d)\n", state.CurrentPhase, state.CurrentTurn))
	sb.WriteString("Milestone checklist:\n")
	sb.WriteString(milestoneChecklist(&state.Progress))
	sb.WriteString(fmt.Sprintf("\nWorking conclusion: %s (confidence %.2f)\n", state.WorkingConclusion.Statement, state.WorkingConclusion.Confidence))

	if top := b.Ranker.GetTestable(state.Hypotheses, 5); len(top) > 0 {
		sb.WriteString("\nTop ranked hypotheses:\n")
		for _, h := range top {
			sb.WriteString(fmt.Sprintf("- [%s] %s (likelihood %.2f, category %s)\n", h.ID, h.Statement, h.Likelihood, h.Category))
		}
	}

	if ctx := memoryContext(&state.Memory); ctx != "" {
		sb.WriteString("\nInvestigation memory:\n")
		sb.WriteString(ctx)
	}

	if anchoring.RequireDiverseCategories {
		sb.WriteString(fmt.Sprintf("\nAnchoring-prevention: exclude categories %v, propose at least %d new hypotheses in other categories.\n", anchoring.ExcludeCategories, anchoring.MinNewHypotheses))
	}

	sb.WriteString("\nReply with prose plus a JSON state-update payload matching this schema:\n")
	sb.WriteString(StructuredUpdateSchema)

	return []ports.ChatMessage{
		{Role: ports.RoleSystem, Content: sb.String()},
		{Role: ports.RoleUser, Content: userMessage},
	}
}

func (b *DefaultBuilder) buildClosed(userMessage string) []ports.ChatMessage {
	system := "This case is closed. Explain the closure, do not propose reopening it, and answer clarifying questions about the recorded investigation only."
	return []ports.ChatMessage{
		{Role: ports.RoleSystem, Content: system},
		{Role: ports.RoleUser, Content: userMessage},
	}
}

// memoryContext renders the hot/warm/cold tiers in recency order, hot
// first, so the model sees the freshest turns before the compressed
// history.
func memoryContext(mem *investigation.HierarchicalMemory) string {
	var sb strings.Builder
	for _, s := range mem.Hot {
		sb.WriteString(fmt.Sprintf("- (recent) %s\n", s.ContentSummary))
	}
	for _, s := range mem.Warm {
		sb.WriteString(fmt.Sprintf("- (summary) %s\n", s.ContentSummary))
	}
	for _, s := range mem.Cold {
		sb.WriteString(fmt.Sprintf("- (archive) %s\n", s.ContentSummary))
	}
	return sb.String()
}

func milestoneChecklist(p *investigation.Progress) string {
	names := []struct {
		key  string
		done bool
	}{
		{"symptom_verified", p.SymptomVerified},
		{"scope_assessed", p.ScopeAssessed},
		{"timeline_established", p.TimelineEstablished},
		{"changes_identified", p.ChangesIdentified},
		{"root_cause_identified", p.RootCauseIdentified},
		{"solution_proposed", p.SolutionProposed},
		{"solution_applied", p.SolutionApplied},
		{"solution_verified", p.SolutionVerified},
	}
	var sb strings.Builder
	for _, n := range names {
		mark := "[ ]"
		if n.done {
			mark = "[x]"
		}
		sb.WriteString(fmt.Sprintf("%s %s\n", mark, n.key))
	}
	return sb.String()
}
