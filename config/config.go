// Package config loads the small TOML document describing the defaults
// an image stream is created with, plus which resolver and store
// backend an acquisition tool should use. Programmatic callers may
// also build a Config directly; the TOML loader is a convenience for
// long-running acquisition tools, not a requirement of the core API.
package config

import (
	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/aff4kit/imagestream/aff4"
)

// Config holds the tunables a fresh image stream and its backing
// resolver/store are created with.
type Config struct {
	ChunkSize        int    `toml:"chunk_size"`
	ChunksPerSegment int    `toml:"chunks_per_segment"`
	Compression      string `toml:"compression"` // "stored", "deflate", or "snappy"
	MaxReadLen       int64  `toml:"max_read_len"`

	// Resolver selects the resolver backend: "json" or "sql".
	Resolver string `toml:"resolver"`
	// Store selects the store backend: "file" or "memory".
	Store string `toml:"store"`
	// Root is the FileSystem store root, or the SQL database path.
	Root string `toml:"root"`
}

// Default returns a Config with the defaults from the on-disk layout
// section of the specification.
func Default() Config {
	return Config{
		ChunkSize:        aff4.DefaultChunkSize,
		ChunksPerSegment: aff4.DefaultChunksPerSegment,
		Compression:      "deflate",
		MaxReadLen:       1 << 30,
		Resolver:         "json",
		Store:            "memory",
	}
}

// Load reads a TOML document at path and overlays it onto Default().
// Fields absent from the document keep their default value.
func Load(path string) (Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, errors.Wrapf(aff4.ErrIoError, "load config %q: %s", path, err.Error())
	}
	return cfg, nil
}
