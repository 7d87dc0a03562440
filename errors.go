package hybridrag

import (
	"errors"
	"fmt"

	"github.com/hybridrag/hybridrag/metastore"
)

var (
	// ErrInvalidK is returned when a query asks for a non-positive number
	// of results.
	ErrInvalidK = errors.New("top-k must be positive")

	// ErrNoEmbedder is returned by text-only entry points when the engine
	// was opened without WithEmbedder.
	ErrNoEmbedder = errors.New("no embedder configured")

	// ErrNotFound is returned when a chunk ID has no metadata record.
	ErrNotFound = errors.New("chunk not found")

	// ErrClosed is returned on operations after Close.
	ErrClosed = errors.New("engine is closed")

	errMissingEmbedding = errors.New("chunk has no embedding")
)

// ErrEmptyQuery indicates a query with neither text nor an embedding.
type ErrEmptyQuery struct{}

func (e *ErrEmptyQuery) Error() string {
	return "query must carry text, an embedding, or both"
}

// translateError maps internal store errors onto the package-level
// sentinels so callers only match against one error surface.
func translateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, metastore.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, err)
	default:
		return err
	}
}
