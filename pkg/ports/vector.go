package ports

import "context"

// VectorFilter narrows a vector search to matching metadata.
type VectorFilter map[string]string

// VectorMatch is one search result.
type VectorMatch struct {
	ID       string
	Score    float32
	Metadata map[string]string
}

// Vector is the consumed port for similarity search over embedded
// evidence and hypothesis statements. A search failure
// degrades to an empty result rather than aborting the turn
type Vector interface {
	Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]string) error
	Search(ctx context.Context, collection string, vector []float32, topK int, filter VectorFilter) ([]VectorMatch, error)
	Delete(ctx context.Context, collection, id string) error
}
