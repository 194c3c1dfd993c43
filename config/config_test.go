package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/chazu/dexverify/verifier"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	tomlContent := `
[verifier]
ahead-of-time = false
allow-soft-failures = false
generate-aux-maps = false

[driver]
workers = 3

[linker]
class-path = ["lib/core.yaml", "/abs/other.yaml"]
cache-size = 64

[store]
path = "out/results.db"

[log]
verbosity = 2
`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if diff := cmp.Diff(verifier.Options{}, c.Options()); diff != "" {
		t.Errorf("options mismatch (-want +got):\n%s", diff)
	}
	if c.Driver.Workers != 3 {
		t.Errorf("workers = %d, want 3", c.Driver.Workers)
	}
	if c.Linker.CacheSize != 64 {
		t.Errorf("cache-size = %d, want 64", c.Linker.CacheSize)
	}
	want := []string{filepath.Join(c.Dir, "lib/core.yaml"), "/abs/other.yaml"}
	if diff := cmp.Diff(want, c.ClassPathFiles()); diff != "" {
		t.Errorf("class path mismatch (-want +got):\n%s", diff)
	}
	if got := c.StorePath(); got != filepath.Join(c.Dir, "out/results.db") {
		t.Errorf("store path = %q", got)
	}
	if c.Log.Verbosity != 2 {
		t.Errorf("verbosity = %d, want 2", c.Log.Verbosity)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("[driver]\nworkers = 2\n"), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if diff := cmp.Diff(verifier.DefaultOptions(), c.Options()); diff != "" {
		t.Errorf("options mismatch (-want +got):\n%s", diff)
	}
	if c.Linker.CacheSize != Default().Linker.CacheSize {
		t.Errorf("cache-size = %d, want default", c.Linker.CacheSize)
	}
	if c.StorePath() != "" {
		t.Errorf("store path = %q, want empty", c.StorePath())
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"syntax", "[driver\n", "parse error"},
		{"workers", "[driver]\nworkers = 0\n", "driver.workers"},
		{"cache", "[linker]\ncache-size = -1\n", "linker.cache-size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, FileName), []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			_, err := Load(dir)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, FileName), []byte("[driver]\nworkers = 5\n"), 0644); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	c, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if c.Driver.Workers != 5 {
		t.Errorf("workers = %d, want 5", c.Driver.Workers)
	}
	abs, _ := filepath.Abs(root)
	if c.Dir != abs {
		t.Errorf("Dir = %q, want %q", c.Dir, abs)
	}
}
