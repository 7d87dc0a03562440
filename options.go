package hybridrag

import (
	"github.com/hybridrag/hybridrag/embedder"
	"github.com/hybridrag/hybridrag/fusion"
	"github.com/hybridrag/hybridrag/search"
)

type options struct {
	logger     *Logger
	blockSize  int
	rrfK       int
	minResults int
	embedder   embedder.Embedder
}

func defaultOptions() *options {
	return &options{
		logger:    NoopLogger(),
		blockSize: search.DefaultBlockSize,
		rrfK:      fusion.DefaultK,
	}
}

// Option configures Engine behavior at Open time.
type Option func(*options)

// WithLogger sets the structured logger used by the engine.
//
// If nil is passed, logging is disabled.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithBlockSize sets the number of embedding rows scanned per block
// during similarity search. Values below 1 fall back to the default.
func WithBlockSize(n int) Option {
	return func(o *options) {
		if n < 1 {
			n = search.DefaultBlockSize
		}
		o.blockSize = n
	}
}

// WithRRFK sets the rank-fusion constant. Larger values flatten the
// contribution of top ranks. Values below 1 fall back to the default.
func WithRRFK(k int) Option {
	return func(o *options) {
		if k < 1 {
			k = fusion.DefaultK
		}
		o.rrfK = k
	}
}

// WithMinResults enables the retrieval gate: query results shorter than
// n are flagged as gated so callers can fall back to a broader strategy.
// Zero disables the gate.
func WithMinResults(n int) Option {
	return func(o *options) {
		if n < 0 {
			n = 0
		}
		o.minResults = n
	}
}

// WithEmbedder attaches an embedder so text-only entry points
// (QueryText, IngestText) can produce embeddings on the fly.
func WithEmbedder(e embedder.Embedder) Option {
	return func(o *options) {
		o.embedder = e
	}
}
