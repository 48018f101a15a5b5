package ports

import (
	"context"
	"time"

	"github.com/aegisops/aegis/pkg/investigation"
)

// Case is the persisted incident investigation record. Its
// InvestigationState and StatusHistory are serialised into JSON columns
// by the concrete repository adapter.
type Case struct {
	ID          string
	OwnerID     string
	Title       string
	Description string
	Status      investigation.CaseStatus
	Priority    string
	Tags        []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ResolvedAt  *time.Time
	ResolvedBy  string
	ClosedAt    *time.Time
	ClosedBy    string

	Investigation *investigation.InvestigationState
	StatusHistory []investigation.StatusAuditRecord

	// MetadataDirty hints the store that Investigation changed in place
	// and the JSON column must be re-serialised even if the rest of the
	// row looks unchanged.
	MetadataDirty bool
}

// Filters narrows ListForOwner results.
type Filters struct {
	Status   investigation.CaseStatus
	Priority string
}

// Pagination bounds a listing.
type Pagination struct {
	Limit  int
	Offset int
}

// CaseRepository is the consumed port for case persistence.
type CaseRepository interface {
	Get(ctx context.Context, caseID string) (*Case, error)
	Save(ctx context.Context, c *Case) error
	ListForOwner(ctx context.Context, ownerID string, filters Filters, page Pagination) ([]*Case, error)
	Delete(ctx context.Context, caseID string) error
}
