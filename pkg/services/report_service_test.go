package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegisops/aegis/pkg/investigation"
	"github.com/aegisops/aegis/pkg/ports"
)

type fakeReportStore struct {
	reports map[string]*ports.Report
}

func newFakeReportStore() *fakeReportStore {
	return &fakeReportStore{reports: make(map[string]*ports.Report)}
}

func (s *fakeReportStore) Save(ctx context.Context, r *ports.Report) error {
	s.reports[r.ID] = r
	return nil
}

func (s *fakeReportStore) Get(ctx context.Context, id string) (*ports.Report, error) {
	r, ok := s.reports[id]
	if !ok {
		return nil, nil
	}
	return r, nil
}

func (s *fakeReportStore) List(ctx context.Context, filter ports.ReportFilter) ([]*ports.Report, error) {
	var out []*ports.Report
	for _, r := range s.reports {
		if filter.CaseID != "" && r.CaseID != filter.CaseID {
			continue
		}
		if filter.Type != "" && r.Type != filter.Type {
			continue
		}
		if filter.IsCurrent != nil && r.IsCurrent != *filter.IsCurrent {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *fakeReportStore) Delete(ctx context.Context, id string) error {
	delete(s.reports, id)
	return nil
}

func newTestReportService(store ports.ReportStore, llm ports.LLM) *ReportService {
	s := NewReportService(store, llm)
	fixed := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	seq := 0
	s.Now = func() time.Time { return fixed }
	s.NewID = func() string {
		seq++
		return "rid-" + string(rune('0'+seq))
	}
	return s
}

func TestReportService_GenerateFallsBackToTemplateWithoutLLM(t *testing.T) {
	store := newFakeReportStore()
	s := newTestReportService(store, nil)

	c := &ports.Case{
		ID:     "c1",
		Title:  "checkout 500s",
		Status: investigation.CaseStatusResolved,
		Investigation: &investigation.InvestigationState{
			WorkingConclusion: investigation.WorkingConclusion{Statement: "pool exhaustion", Confidence: 0.8},
		},
	}

	report, err := s.Generate(context.Background(), c, investigation.ReportIncident, true)
	require.NoError(t, err)
	assert.Equal(t, investigation.ReportCompleted, report.Status)
	assert.Contains(t, report.Content, "pool exhaustion")
	assert.Equal(t, 1, report.Version)
	assert.True(t, report.IsCurrent)
}

func TestReportService_GenerateDemotesPriorCurrentVersion(t *testing.T) {
	store := newFakeReportStore()
	s := newTestReportService(store, nil)
	c := &ports.Case{ID: "c1", Status: investigation.CaseStatusResolved, Investigation: &investigation.InvestigationState{}}

	first, err := s.Generate(context.Background(), c, investigation.ReportIncident, false)
	require.NoError(t, err)
	second, err := s.Generate(context.Background(), c, investigation.ReportIncident, false)
	require.NoError(t, err)

	require.Equal(t, 2, second.Version)
	updatedFirst, err := store.Get(context.Background(), first.ID)
	require.NoError(t, err)
	assert.False(t, updatedFirst.IsCurrent)
	assert.True(t, second.IsCurrent)
}

func TestReportService_GenerateRejectsBeyondVersionLimit(t *testing.T) {
	store := newFakeReportStore()
	s := newTestReportService(store, nil)
	c := &ports.Case{ID: "c1", Status: investigation.CaseStatusResolved, Investigation: &investigation.InvestigationState{}}

	for i := 0; i < investigation.MaxReportVersions; i++ {
		_, err := s.Generate(context.Background(), c, investigation.ReportIncident, false)
		require.NoError(t, err)
	}

	_, err := s.Generate(context.Background(), c, investigation.ReportIncident, false)
	require.Error(t, err)
	var versionErr *investigation.VersionLimitError
	assert.ErrorAs(t, err, &versionErr)
}

func TestReportService_DeleteRefusesLinkedToClosure(t *testing.T) {
	store := newFakeReportStore()
	s := newTestReportService(store, nil)
	report := &ports.Report{ID: "rid-1", CaseID: "c1", LinkedToClosure: true}
	require.NoError(t, store.Save(context.Background(), report))

	err := s.Delete(context.Background(), "rid-1")
	assert.ErrorIs(t, err, ErrLinkedToClosure)
}

func TestReportService_RecommendationsSkipTypesAlreadyPresent(t *testing.T) {
	store := newFakeReportStore()
	s := newTestReportService(store, nil)
	c := &ports.Case{ID: "c1", Status: investigation.CaseStatusResolved, Investigation: &investigation.InvestigationState{}}

	recs, err := s.Recommendations(context.Background(), c)
	require.NoError(t, err)
	assert.ElementsMatch(t, []investigation.ReportType{
		investigation.ReportIncident, investigation.ReportRunbook, investigation.ReportPostMortem,
	}, recs)

	_, err = s.Generate(context.Background(), c, investigation.ReportIncident, false)
	require.NoError(t, err)

	recs, err = s.Recommendations(context.Background(), c)
	require.NoError(t, err)
	assert.ElementsMatch(t, []investigation.ReportType{
		investigation.ReportRunbook, investigation.ReportPostMortem,
	}, recs)
}

func TestReportService_LinkToClosureRequiresTerminalStatus(t *testing.T) {
	store := newFakeReportStore()
	s := newTestReportService(store, nil)
	c := &ports.Case{ID: "c1", Status: investigation.CaseStatusInvestigating}

	err := s.LinkToClosure(context.Background(), c, []string{"rid-1"})
	assert.ErrorIs(t, err, ErrNotTerminal)
}
