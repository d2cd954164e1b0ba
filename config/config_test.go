package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aff4.toml")
	doc := `
chunk_size = 65536
compression = "snappy"
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatalf("WriteFile() == %s, expected nil", err.Error())
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() == %s, expected nil", err.Error())
	}
	if cfg.ChunkSize != 65536 {
		t.Fatalf("ChunkSize == %d, expected 65536", cfg.ChunkSize)
	}
	if cfg.Compression != "snappy" {
		t.Fatalf("Compression == %q, expected %q", cfg.Compression, "snappy")
	}
	if cfg.ChunksPerSegment != Default().ChunksPerSegment {
		t.Fatalf("ChunksPerSegment == %d, expected default %d", cfg.ChunksPerSegment, Default().ChunksPerSegment)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/aff4.toml"); err == nil {
		t.Fatalf("Load() of missing file == nil, expected error")
	}
}
