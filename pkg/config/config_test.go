package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	bxerrors "github.com/logflow/bxes/pkg/errors"
	"github.com/logflow/bxes/pkg/export"
	"github.com/logflow/bxes/pkg/stream"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func TestManager_Load(t *testing.T) {
	dir := t.TempDir()
	user := writeFile(t, dir, "user.yaml", `
codec:
  layout: multi
  scope: stream
redis:
  address: redis:6379
  block: 2s
`)
	project := writeFile(t, dir, "project.yaml", `
redis:
  stream: events
export:
  compression: zstd
`)
	missing := filepath.Join(dir, "missing.yaml")

	m := NewManager(missing, user, project)
	if err := m.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	cfg := m.Get()

	if cfg.Codec.Layout != LayoutMulti {
		t.Errorf("Layout = %q, want multi", cfg.Codec.Layout)
	}
	if cfg.Scope() != stream.ScopeStream {
		t.Errorf("Scope() = %v, want stream", cfg.Scope())
	}
	if cfg.Codec.Version != 1 {
		t.Errorf("Version = %d, want default 1", cfg.Codec.Version)
	}
	if cfg.Redis.Address != "redis:6379" || cfg.Redis.Stream != "events" {
		t.Errorf("Redis = %+v", cfg.Redis)
	}
	if cfg.Redis.Group != "bxes" {
		t.Errorf("Redis.Group = %q, want default", cfg.Redis.Group)
	}
	if cfg.Redis.Block != 2*time.Second {
		t.Errorf("Redis.Block = %v, want 2s", cfg.Redis.Block)
	}
	if got := cfg.ExportOptions().Compression; got != export.CompressionZstd {
		t.Errorf("Compression = %v, want zstd", got)
	}

	paths := m.GetPaths()
	if len(paths) != 2 || paths[0] != user || paths[1] != project {
		t.Errorf("GetPaths() = %v", paths)
	}

	rc := cfg.RedisOptions()
	if rc.Stream != "events" || rc.Block != 2*time.Second || rc.Batch == 0 {
		t.Errorf("RedisOptions() = %+v", rc)
	}
}

func TestManager_Env(t *testing.T) {
	t.Setenv("BXES_LAYOUT", "multi")
	t.Setenv("BXES_VERSION", "7")
	t.Setenv("BXES_S3_BUCKET", "logs")
	t.Setenv("BXES_REDIS_DB", "3")

	dir := t.TempDir()
	path := writeFile(t, dir, "c.yaml", "codec:\n  layout: single\n  version: 2\n")

	m := NewManager(path)
	if err := m.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	cfg := m.Get()
	if cfg.Codec.Layout != LayoutMulti || cfg.Codec.Version != 7 {
		t.Errorf("Codec = %+v, env should win over file", cfg.Codec)
	}
	if cfg.S3Options().Bucket != "logs" {
		t.Errorf("S3 bucket = %q", cfg.S3Options().Bucket)
	}
	if cfg.Redis.Database != 3 {
		t.Errorf("Redis.Database = %d, want 3", cfg.Redis.Database)
	}
}

func TestManager_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		env     map[string]string
	}{
		{"unknown key", "codec:\n  colour: red\n", nil},
		{"bad yaml", "codec: [\n", nil},
		{"bad layout", "codec:\n  layout: zip\n", nil},
		{"bad scope", "codec:\n  scope: global\n", nil},
		{"trimmed stream scope", "codec:\n  scope: stream\nredis:\n  max_len: 100\n", nil},
		{"bad ratio", "telemetry:\n  sampling_ratio: 2\n", nil},
		{"bad env version", "", map[string]string{"BXES_VERSION": "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := writeFile(t, t.TempDir(), "c.yaml", tt.content)
			err := NewManager(path).Load()
			if !bxerrors.IsCode(err, bxerrors.CodeConfigInvalid) {
				t.Errorf("Load() error = %v, want %s", err, bxerrors.CodeConfigInvalid)
			}
		})
	}
}

func TestManager_Save(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "none.yaml"))
	if err := m.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	m.Get().S3.Bucket = "saved"

	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	if err := m.Save(path); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	reloaded := NewManager(path)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if reloaded.Get().S3.Bucket != "saved" {
		t.Errorf("Bucket = %q, want saved", reloaded.Get().S3.Bucket)
	}
}
