// Package storage implements the Case repository and Report store
// ports (pkg/ports) against PostgreSQL via pgx's database/sql driver,
// using a pooled connection and golang-migrate-driven schema
// management. case.metadata.investigation
// and case.metadata.status_history are JSONB columns; ent/schema
// documents the intended entity shapes for tooling that generates
// migrations from them (see DESIGN.md for why this package talks to
// Postgres directly rather than through a generated ent client).
package storage

import (
	"context"
	stdsql "database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/aegisops/aegis/pkg/investigation"
	"github.com/aegisops/aegis/pkg/ports"
)

//go:embed migrations
var migrationsFS embed.FS

// Config holds connection parameters plus pool tuning.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Client wraps a pooled Postgres connection and exposes the
// CaseRepository / ReportStore adapters built on top of it.
type Client struct {
	db *stdsql.DB
}

// NewClient opens a pooled connection, applies embedded migrations, and
// returns a ready Client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)

	db, err := stdsql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if err := runMigrations(db, cfg.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Client{db: db}, nil
}

// NewClientFromDB wraps an already-open *sql.DB, for tests that manage
// their own container/connection lifecycle.
func NewClientFromDB(db *stdsql.DB) *Client { return &Client{db: db} }

func runMigrations(db *stdsql.DB, dbName string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("creating postgres migration driver: %w", err)
	}
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, dbName, driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return sourceDriver.Close()
}

// Close releases the underlying connection pool.
func (c *Client) Close() error { return c.db.Close() }

// CaseRepository returns the ports.CaseRepository adapter.
func (c *Client) CaseRepository() ports.CaseRepository { return &caseRepository{db: c.db} }

// ReportStore returns the ports.ReportStore adapter.
func (c *Client) ReportStore() ports.ReportStore { return &reportStore{db: c.db} }

type caseRepository struct {
	db *stdsql.DB
}

func (r *caseRepository) Get(ctx context.Context, caseID string) (*ports.Case, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, description, status, priority, tags, created_at, updated_at,
		       resolved_at, resolved_by, closed_at, closed_by,
		       investigation, status_history
		FROM cases WHERE id = $1`, caseID)
	return scanCase(row)
}

func (r *caseRepository) Save(ctx context.Context, c *ports.Case) error {
	investigationJSON, err := marshalOrNull(c.Investigation)
	if err != nil {
		return fmt.Errorf("marshalling investigation state: %w", err)
	}
	historyJSON, err := json.Marshal(c.StatusHistory)
	if err != nil {
		return fmt.Errorf("marshalling status history: %w", err)
	}

	tagsJSON, err := json.Marshal(c.Tags)
	if err != nil {
		return fmt.Errorf("marshalling tags: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO cases (id, owner_id, title, description, status, priority, tags, created_at, updated_at,
		                    resolved_at, resolved_by, closed_at, closed_by, investigation, status_history)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			priority = EXCLUDED.priority,
			tags = EXCLUDED.tags,
			updated_at = EXCLUDED.updated_at,
			resolved_at = EXCLUDED.resolved_at,
			resolved_by = EXCLUDED.resolved_by,
			closed_at = EXCLUDED.closed_at,
			closed_by = EXCLUDED.closed_by,
			investigation = CASE WHEN $16 THEN EXCLUDED.investigation ELSE cases.investigation END,
			status_history = EXCLUDED.status_history`,
		c.ID, c.OwnerID, c.Title, c.Description, c.Status, c.Priority, tagsJSON, c.CreatedAt, c.UpdatedAt,
		c.ResolvedAt, nullString(c.ResolvedBy), c.ClosedAt, nullString(c.ClosedBy),
		investigationJSON, historyJSON, c.MetadataDirty)
	if err != nil {
		return fmt.Errorf("saving case %s: %w", c.ID, err)
	}
	return nil
}

func (r *caseRepository) ListForOwner(ctx context.Context, ownerID string, filters ports.Filters, page ports.Pagination) ([]*ports.Case, error) {
	query := `SELECT id, owner_id, title, description, status, priority, tags, created_at, updated_at,
	                 resolved_at, resolved_by, closed_at, closed_by, investigation, status_history
	          FROM cases WHERE owner_id = $1`
	args := []any{ownerID}
	if filters.Status != "" {
		args = append(args, filters.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filters.Priority != "" {
		args = append(args, filters.Priority)
		query += fmt.Sprintf(" AND priority = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if page.Limit > 0 {
		args = append(args, page.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if page.Offset > 0 {
		args = append(args, page.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing cases for owner %s: %w", ownerID, err)
	}
	defer rows.Close()

	var out []*ports.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *caseRepository) Delete(ctx context.Context, caseID string) error {
	// Cascades to hypotheses/evidence (embedded in investigation JSON,
	// deleted with the row), reports and evidence_attachments via FK ON DELETE CASCADE
	// defined in migrations/0001_init.up.sql.
	_, err := r.db.ExecContext(ctx, `DELETE FROM cases WHERE id = $1`, caseID)
	if err != nil {
		return fmt.Errorf("deleting case %s: %w", caseID, err)
	}
	return nil
}

// rowScanner abstracts *sql.Row and *sql.Rows so scanCase serves both
// Get (single row) and ListForOwner (row set).
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (*ports.Case, error) {
	var c ports.Case
	var investigationJSON, historyJSON, tagsJSON []byte
	var resolvedBy, closedBy stdsql.NullString

	err := row.Scan(&c.ID, &c.OwnerID, &c.Title, &c.Description, &c.Status, &c.Priority, &tagsJSON, &c.CreatedAt, &c.UpdatedAt,
		&c.ResolvedAt, &resolvedBy, &c.ClosedAt, &closedBy, &investigationJSON, &historyJSON)
	if err == stdsql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning case row: %w", err)
	}
	c.ResolvedBy = resolvedBy.String
	c.ClosedBy = closedBy.String

	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &c.Tags); err != nil {
			return nil, fmt.Errorf("unmarshalling tags for case %s: %w", c.ID, err)
		}
	}

	if len(investigationJSON) > 0 {
		var state investigation.InvestigationState
		if err := json.Unmarshal(investigationJSON, &state); err != nil {
			return nil, fmt.Errorf("unmarshalling investigation state for case %s: %w", c.ID, err)
		}
		c.Investigation = &state
	}
	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &c.StatusHistory); err != nil {
			return nil, fmt.Errorf("unmarshalling status history for case %s: %w", c.ID, err)
		}
	}
	return &c, nil
}

func marshalOrNull(state *investigation.InvestigationState) ([]byte, error) {
	if state == nil {
		return []byte("null"), nil
	}
	return json.Marshal(state)
}

func nullString(s string) stdsql.NullString {
	return stdsql.NullString{String: s, Valid: s != ""}
}

type reportStore struct {
	db *stdsql.DB
}

func (s *reportStore) Save(ctx context.Context, r *ports.Report) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reports (id, case_id, type, version, is_current, status, format, content,
		                      generation_time_ms, linked_to_closure, created_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE SET
			is_current = EXCLUDED.is_current,
			status = EXCLUDED.status,
			content = EXCLUDED.content,
			generation_time_ms = EXCLUDED.generation_time_ms,
			linked_to_closure = EXCLUDED.linked_to_closure,
			completed_at = EXCLUDED.completed_at`,
		r.ID, r.CaseID, r.Type, r.Version, r.IsCurrent, r.Status, r.Format, r.Content,
		r.GenerationTimeMS, r.LinkedToClosure, r.CreatedAt, r.CompletedAt)
	if err != nil {
		return fmt.Errorf("saving report %s: %w", r.ID, err)
	}
	return nil
}

func (s *reportStore) Get(ctx context.Context, id string) (*ports.Report, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, case_id, type, version, is_current, status, format, content,
		       generation_time_ms, linked_to_closure, created_at, completed_at
		FROM reports WHERE id = $1`, id)
	return scanReport(row)
}

func (s *reportStore) List(ctx context.Context, filter ports.ReportFilter) ([]*ports.Report, error) {
	query := `SELECT id, case_id, type, version, is_current, status, format, content,
	                 generation_time_ms, linked_to_closure, created_at, completed_at
	          FROM reports WHERE case_id = $1`
	args := []any{filter.CaseID}
	if filter.Type != "" {
		args = append(args, filter.Type)
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if filter.IsCurrent != nil {
		args = append(args, *filter.IsCurrent)
		query += fmt.Sprintf(" AND is_current = $%d", len(args))
	}
	query += " ORDER BY version ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing reports for case %s: %w", filter.CaseID, err)
	}
	defer rows.Close()

	var out []*ports.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *reportStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM reports WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting report %s: %w", id, err)
	}
	return nil
}

func scanReport(row rowScanner) (*ports.Report, error) {
	var r ports.Report
	err := row.Scan(&r.ID, &r.CaseID, &r.Type, &r.Version, &r.IsCurrent, &r.Status, &r.Format, &r.Content,
		&r.GenerationTimeMS, &r.LinkedToClosure, &r.CreatedAt, &r.CompletedAt)
	if err == stdsql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning report row: %w", err)
	}
	return &r, nil
}
