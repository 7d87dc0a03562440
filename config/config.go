// Package config loads engine configuration from a TOML file with an
// optional .env overlay for secrets.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Config is the on-disk configuration for the retrieval engine and its
// CLI. Zero values fall back to defaults at load time.
type Config struct {
	// DataDir is the directory holding the embedding log and metadata
	// database.
	DataDir string `toml:"data_dir"`

	// Dimension fixes the embedding width. It must match the embedding
	// model and cannot change once the store exists.
	Dimension int `toml:"dimension"`

	Search   SearchConfig   `toml:"search"`
	Embedder EmbedderConfig `toml:"embedder"`
}

// SearchConfig tunes the query path.
type SearchConfig struct {
	// BlockSize is the number of embedding rows scanned per block.
	BlockSize int `toml:"block_size"`

	// RRFK is the rank-fusion constant.
	RRFK int `toml:"rrf_k"`

	// TopK is the default result count for CLI queries.
	TopK int `toml:"top_k"`

	// MinResults enables the retrieval gate when positive.
	MinResults int `toml:"min_results"`
}

// EmbedderConfig selects and tunes the embedding backend. The API key is
// never stored here; it comes from the OPENAI_API_KEY environment
// variable, optionally loaded from a .env file.
type EmbedderConfig struct {
	Model             string  `toml:"model"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		DataDir:   "data",
		Dimension: 1536,
		Search: SearchConfig{
			BlockSize: 4096,
			RRFK:      60,
			TopK:      10,
		},
		Embedder: EmbedderConfig{
			Model:             "text-embedding-3-small",
			RequestsPerSecond: 4,
		},
	}
}

// Load reads a TOML config file, filling unset fields from Default.
// A missing file is not an error; the defaults are returned.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the invariants a loaded config must satisfy.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("config: data_dir must not be empty")
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("config: dimension must be positive, got %d", c.Dimension)
	}
	if c.Search.BlockSize < 1 {
		return fmt.Errorf("config: search.block_size must be positive, got %d", c.Search.BlockSize)
	}
	if c.Search.RRFK < 1 {
		return fmt.Errorf("config: search.rrf_k must be positive, got %d", c.Search.RRFK)
	}
	if c.Search.TopK < 1 {
		return fmt.Errorf("config: search.top_k must be positive, got %d", c.Search.TopK)
	}
	if c.Search.MinResults < 0 {
		return fmt.Errorf("config: search.min_results must not be negative, got %d", c.Search.MinResults)
	}

	return nil
}

// APIKey returns the OpenAI API key from the environment, loading a .env
// file beside the working directory first if one exists. An empty string
// means no key is configured.
func APIKey() string {
	_ = godotenv.Load()

	return os.Getenv("OPENAI_API_KEY")
}
