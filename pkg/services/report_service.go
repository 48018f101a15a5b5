package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aegisops/aegis/pkg/investigation"
	"github.com/aegisops/aegis/pkg/ports"
)

// ReportService implements the Report Generator's core part: versioned report records, template/LLM rendering, closure
// linking.
type ReportService struct {
	Store ports.ReportStore
	LLM   ports.LLM // optional; nil disables LLM enhancement

	Now   func() time.Time
	NewID func() string
}

// NewReportService wires a ReportService around store. llm may be nil;
// Generate then always falls back to the template renderer.
func NewReportService(store ports.ReportStore, llm ports.LLM) *ReportService {
	return &ReportService{
		Store: store,
		LLM:   llm,
		Now:   func() time.Time { return time.Now().UTC() },
		NewID: uuid.NewString,
	}
}

// Generate renders a new report version for (case.ID, reportType). It
// checks the version limit, then demotes the current version, renders
// the template, and
// when useLLM is true and an LLM is configured, asks it to enhance the
// template output; LLM failure degrades to the plain template silently
func (s *ReportService) Generate(ctx context.Context, c *ports.Case, reportType investigation.ReportType, useLLM bool) (*ports.Report, error) {
	if c.Investigation == nil {
		return nil, ErrNotFound
	}

	existing, err := s.Store.List(ctx, ports.ReportFilter{CaseID: c.ID, Type: reportType})
	if err != nil {
		return nil, err
	}
	version := 1
	for _, r := range existing {
		if r.Version >= investigation.MaxReportVersions {
			return nil, &investigation.VersionLimitError{CaseID: c.ID, Type: reportType, Max: investigation.MaxReportVersions}
		}
		if r.Version >= version {
			version = r.Version + 1
		}
	}
	// Demote only after the version-limit check passed, so a refused
	// generation leaves the current report untouched.
	for _, r := range existing {
		if r.IsCurrent {
			r.IsCurrent = false
			if err := s.Store.Save(ctx, r); err != nil {
				return nil, err
			}
		}
	}

	now := s.Now()
	report := &ports.Report{
		ID:        s.NewID(),
		CaseID:    c.ID,
		Type:      reportType,
		Version:   version,
		IsCurrent: true,
		Status:    investigation.ReportPending,
		Format:    "markdown",
		CreatedAt: now,
	}
	if err := s.Store.Save(ctx, report); err != nil {
		return nil, err
	}

	report.Status = investigation.ReportGenerating
	start := now
	content := renderTemplate(reportType, c)

	if useLLM && s.LLM != nil {
		enhanced, llmErr := s.enhance(ctx, reportType, content)
		if llmErr == nil {
			content = enhanced
		}
		// LLM failure degrades to the template silently.
	}

	report.Content = content
	report.Status = investigation.ReportCompleted
	completedAt := s.Now()
	report.CompletedAt = &completedAt
	report.GenerationTimeMS = completedAt.Sub(start).Milliseconds()

	if err := s.Store.Save(ctx, report); err != nil {
		return nil, err
	}
	return report, nil
}

func (s *ReportService) enhance(ctx context.Context, reportType investigation.ReportType, template string) (string, error) {
	resp, err := s.LLM.Chat(ctx, ports.ChatRequest{
		Messages: []ports.ChatMessage{
			{Role: ports.RoleSystem, Content: fmt.Sprintf("Improve the prose of this %s while preserving every fact and section.", reportType)},
			{Role: ports.RoleUser, Content: template},
		},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// renderTemplate builds the deterministic, always-available fallback
// rendering for a report type from the case's investigation state.
func renderTemplate(reportType investigation.ReportType, c *ports.Case) string {
	state := c.Investigation
	var sb strings.Builder
	switch reportType {
	case investigation.ReportIncident:
		sb.WriteString(fmt.Sprintf("# Incident Report: %s\n\n", c.Title))
		sb.WriteString(fmt.Sprintf("**Status**: %s\n\n", c.Status))
		sb.WriteString(fmt.Sprintf("## Problem\n\n%s\n\n", state.AnomalyFrame.ProblemStatement))
		sb.WriteString("## Working Conclusion\n\n")
		sb.WriteString(fmt.Sprintf("%s (confidence %.2f)\n\n", state.WorkingConclusion.Statement, state.WorkingConclusion.Confidence))
	case investigation.ReportRunbook:
		sb.WriteString(fmt.Sprintf("# Runbook: %s\n\n", c.Title))
		sb.WriteString("## Detection\n\n")
		sb.WriteString(fmt.Sprintf("%s\n\n", state.AnomalyFrame.ProblemStatement))
		sb.WriteString("## Remediation Steps\n\n")
		sb.WriteString(fmt.Sprintf("%s\n\n", state.WorkingConclusion.Statement))
	case investigation.ReportPostMortem:
		sb.WriteString(fmt.Sprintf("# Post-Mortem: %s\n\n", c.Title))
		sb.WriteString("## Summary\n\n")
		sb.WriteString(fmt.Sprintf("%s\n\n", state.WorkingConclusion.Statement))
		sb.WriteString("## Timeline\n\n")
		for _, t := range state.TurnHistory {
			sb.WriteString(fmt.Sprintf("- Turn %d (%s): %s\n", t.TurnNumber, t.Phase, t.AgentActionSummary))
		}
		sb.WriteString("\n## Root Cause\n\n")
		if h := bestValidated(state.Hypotheses); h != nil {
			sb.WriteString(fmt.Sprintf("%s\n", h.Statement))
		} else {
			sb.WriteString("No hypothesis was validated before closure.\n")
		}
	}
	return sb.String()
}

func bestValidated(hypotheses []investigation.Hypothesis) *investigation.Hypothesis {
	for i := range hypotheses {
		if hypotheses[i].Status == investigation.HypothesisValidated {
			return &hypotheses[i]
		}
	}
	return nil
}

// LinkToClosure marks reportIDs as linked_to_closure=true. Only
// permitted once the case has reached a terminal status.
func (s *ReportService) LinkToClosure(ctx context.Context, c *ports.Case, reportIDs []string) error {
	terminal := c.Status == investigation.CaseStatusResolved || c.Status == investigation.CaseStatusClosed
	if !terminal {
		return ErrNotTerminal
	}
	for _, id := range reportIDs {
		r, err := s.Store.Get(ctx, id)
		if err != nil {
			return err
		}
		if r == nil || r.CaseID != c.ID {
			return ErrNotFound
		}
		r.LinkedToClosure = true
		if err := s.Store.Save(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// Delete refuses to remove a report once linked to closure.
func (s *ReportService) Delete(ctx context.Context, reportID string) error {
	r, err := s.Store.Get(ctx, reportID)
	if err != nil {
		return err
	}
	if r == nil {
		return ErrNotFound
	}
	if r.LinkedToClosure {
		return ErrLinkedToClosure
	}
	return s.Store.Delete(ctx, reportID)
}

// recommendedTypes is the status-driven candidate set before filtering
// out types the case already has.
func recommendedTypes(status investigation.CaseStatus) []investigation.ReportType {
	switch status {
	case investigation.CaseStatusResolved:
		return []investigation.ReportType{investigation.ReportIncident, investigation.ReportRunbook, investigation.ReportPostMortem}
	case investigation.CaseStatusInvestigating:
		return []investigation.ReportType{investigation.ReportIncident}
	case investigation.CaseStatusClosed:
		return []investigation.ReportType{investigation.ReportPostMortem}
	default:
		return nil
	}
}

// Recommendations returns the report types worth generating next for c:
// the status-driven candidate set minus any type that already has a
// current report.
func (s *ReportService) Recommendations(ctx context.Context, c *ports.Case) ([]investigation.ReportType, error) {
	current := true
	existing, err := s.Store.List(ctx, ports.ReportFilter{CaseID: c.ID, IsCurrent: &current})
	if err != nil {
		return nil, err
	}
	have := map[investigation.ReportType]bool{}
	for _, r := range existing {
		have[r.Type] = true
	}

	var out []investigation.ReportType
	for _, t := range recommendedTypes(c.Status) {
		if !have[t] {
			out = append(out, t)
		}
	}
	return out, nil
}
