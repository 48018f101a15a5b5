package ports

import (
	"context"
	"time"

	"github.com/aegisops/aegis/pkg/investigation"
)

// Report is a versioned artefact the Report Generator produces, stored
// in its own keyed store rather than inside InvestigationState
type Report struct {
	ID              string
	CaseID          string
	Type            investigation.ReportType
	Version         int
	IsCurrent       bool
	Status          investigation.ReportStatus
	Format          string
	Content         string
	GenerationTimeMS int64
	LinkedToClosure bool
	CreatedAt       time.Time
	CompletedAt     *time.Time
}

// ReportFilter narrows ReportStore.List to reports matching the
// non-zero fields set.
type ReportFilter struct {
	CaseID    string
	Type      investigation.ReportType
	IsCurrent *bool
}

// ReportStore is the consumed port for report persistence. Callers are
// not serialised per (case_id, type): ReportService demotes the prior
// current report before saving a new one, and the Postgres adapter's
// partial unique index rejects a second current report.
type ReportStore interface {
	Save(ctx context.Context, r *Report) error
	Get(ctx context.Context, id string) (*Report, error)
	List(ctx context.Context, filter ReportFilter) ([]*Report, error)
	Delete(ctx context.Context, id string) error
}
