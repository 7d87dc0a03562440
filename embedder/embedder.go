// Package embedder defines the embedding-model collaborator consumed by the
// engine and ships an OpenAI-backed implementation.
//
// The engine trusts dimension stability per configured model; a model change
// means re-indexing, which is an operational procedure rather than a code
// path here.
package embedder

import "context"

// Embedder maps text to a fixed-length float vector.
//
// Implementations must return vectors of a stable dimension for the lifetime
// of the value.
type Embedder interface {
	// Embed returns the embedding for text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the fixed length of returned vectors.
	Dimension() int
}
