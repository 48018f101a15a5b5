// Package vectoradapter implements the Vector port (pkg/ports.Vector)
// against chromem-go, an embedded, dependency-free vector database.
// Search failures degrade to an empty result rather than propagating,
// matching the UpstreamUnavailable handling for vector search.
package vectoradapter

import (
	"context"
	"fmt"
	"log/slog"

	chromem "github.com/philippgille/chromem-go"

	"github.com/aegisops/aegis/pkg/ports"
)

// Embedder produces the vector for a piece of text. upsert requires
// one; search accepts a pre-computed query vector.
type Embedder func(ctx context.Context, text string) ([]float32, error)

// Adapter implements ports.Vector.
type Adapter struct {
	db       *chromem.DB
	embedder Embedder
}

// New opens (or creates) a chromem-go database. An empty persistPath
// keeps the store in memory, matching chromem-go's own convention.
func New(persistPath string) (*Adapter, error) {
	var db *chromem.DB
	var err error
	if persistPath != "" {
		db, err = chromem.NewPersistentDB(persistPath, false)
		if err != nil {
			return nil, fmt.Errorf("opening persistent vector store at %s: %w", persistPath, err)
		}
	} else {
		db = chromem.NewDB()
	}
	return &Adapter{db: db}, nil
}

// WithEmbedder attaches the embedding function used by helpers that
// take raw text; Upsert/Search here already take pre-computed vectors
// per the Vector port contract and do not need it directly, but
// higher-level callers (evidence/hypothesis indexing) go through it.
func (a *Adapter) WithEmbedder(e Embedder) *Adapter {
	a.embedder = e
	return a
}

func (a *Adapter) collection(name string) (*chromem.Collection, error) {
	if c := a.db.GetCollection(name, nil); c != nil {
		return c, nil
	}
	return a.db.CreateCollection(name, nil, nil)
}

// UpsertText embeds text with the configured Embedder and upserts the
// resulting vector. It errors if no Embedder has been attached via
// WithEmbedder.
func (a *Adapter) UpsertText(ctx context.Context, collection, id, text string, metadata map[string]string) error {
	if a.embedder == nil {
		return fmt.Errorf("vectoradapter: no embedder configured, cannot upsert raw text")
	}
	vector, err := a.embedder(ctx, text)
	if err != nil {
		return fmt.Errorf("vectoradapter: embedding text for %s/%s: %w", collection, id, err)
	}
	return a.Upsert(ctx, collection, id, vector, metadata)
}

// Upsert implements ports.Vector.
func (a *Adapter) Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]string) error {
	c, err := a.collection(collection)
	if err != nil {
		return fmt.Errorf("vectoradapter: get or create collection %s: %w", collection, err)
	}
	return c.AddDocument(ctx, chromem.Document{ID: id, Embedding: vector, Metadata: metadata})
}

// Search implements ports.Vector. On any failure it logs and returns an
// empty, nil-error result: the Milestone Engine must never abort a turn
// because similarity search came up empty.
func (a *Adapter) Search(ctx context.Context, collection string, vector []float32, topK int, filter ports.VectorFilter) ([]ports.VectorMatch, error) {
	c := a.db.GetCollection(collection, nil)
	if c == nil {
		return nil, nil
	}
	if topK <= 0 {
		topK = 10
	}
	// chromem rejects queries asking for more results than the
	// collection holds.
	if n := c.Count(); topK > n {
		if n == 0 {
			return nil, nil
		}
		topK = n
	}
	results, err := c.QueryEmbedding(ctx, vector, topK, map[string]string(filter), nil)
	if err != nil {
		slog.Warn("vector search degraded to empty result", "collection", collection, "error", err)
		return nil, nil
	}

	matches := make([]ports.VectorMatch, 0, len(results))
	for _, r := range results {
		matches = append(matches, ports.VectorMatch{ID: r.ID, Score: r.Similarity, Metadata: r.Metadata})
	}
	return matches, nil
}

// Delete implements ports.Vector.
func (a *Adapter) Delete(ctx context.Context, collection, id string) error {
	c := a.db.GetCollection(collection, nil)
	if c == nil {
		return nil
	}
	return c.Delete(ctx, nil, nil, id)
}
