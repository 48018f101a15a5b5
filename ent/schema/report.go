package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Report holds the schema definition for the CaseReport entity:
// versioned incident reports, runbooks, and post-mortems.
type Report struct {
	ent.Schema
}

// Fields of the Report.
func (Report) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("case_id"),
		field.Enum("type").
			Values("incident_report", "runbook", "post_mortem"),
		field.Int("version").
			Min(1),
		field.Bool("is_current").
			Default(false),
		field.Enum("status").
			Values("pending", "generating", "completed", "failed").
			Default("pending"),
		field.String("format").
			Default("markdown"),
		field.Text("content").
			Optional(),
		field.Int64("generation_time_ms").
			Default(0),
		field.Bool("linked_to_closure").
			Default(false),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("completed_at").
			Optional().
			Nillable(),
	}
}

// Edges of the Report.
func (Report) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("case", Case.Type).
			Ref("reports").
			Field("case_id").
			Unique().
			Required().
			Immutable(),
	}
}

// Indexes of the Report. The partial-unique "one current per
// (case_id, type)" invariant is enforced at the SQL level in
// pkg/storage/migrations, since ent's schema DSL cannot express a
// partial unique index directly.
func (Report) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("case_id", "type"),
	}
}
