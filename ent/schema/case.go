// Package schema documents the entity shapes the storage layer
// persists, in ent's schema-definition DSL. It is not wired to a
// generated ent client (see DESIGN.md): pkg/storage talks to Postgres
// directly through database/sql, but the schema package remains the
// single source of truth a future `go generate ./ent` run would use to
// produce migrations and a typed client.
package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Case holds the schema definition for the Case entity.
type Case struct {
	ent.Schema
}

// Fields of the Case.
func (Case) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("owner_id").
			Comment("Opaque owner identity; ownership checks happen in pkg/services"),
		field.String("title"),
		field.Text("description").
			Default(""),
		field.Enum("status").
			Values("consulting", "investigating", "resolved", "closed").
			Default("consulting"),
		field.String("priority").
			Default("medium"),
		field.JSON("tags", []string{}).
			Optional(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
		field.Time("resolved_at").
			Optional().
			Nillable(),
		field.String("resolved_by").
			Optional().
			Nillable(),
		field.Time("closed_at").
			Optional().
			Nillable(),
		field.String("closed_by").
			Optional().
			Nillable(),
		field.JSON("investigation", map[string]interface{}{}).
			Optional().
			Comment("Serialised investigation.InvestigationState"),
		field.JSON("status_history", []map[string]interface{}{}).
			Optional().
			Comment("Ordered investigation.StatusAuditRecord entries"),
	}
}

// Edges of the Case.
func (Case) Edges() []ent.Edge {
	return []ent.Edge{
		edge.To("reports", Report.Type),
	}
}

// Indexes of the Case.
func (Case) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("owner_id"),
		index.Fields("status"),
	}
}
