package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/chazu/dexverify/store"
	"github.com/chazu/dexverify/verifier"
)

const programYAML = `
location: app.dex
classes:
  - name: Lapp/Box;
    access: [public]
    fields:
      - {name: item, type: Ljava/lang/Object;, access: [public]}
    methods:
      - name: <init>
        signature: ()V
        access: [public]
        code: |
          invoke-direct {p0}, Ljava/lang/Object;-><init>()V
          return-void
      - name: text
        signature: (Ljava/lang/Object;)Ljava/lang/String;
        access: [public, static]
        registers: 2
        code: |
          instance-of v0, p0, Ljava/lang/String;
          if-eqz v0, :none
          check-cast p0, Ljava/lang/String;
          return-object p0
          :none
          const/4 v0, 0
          return-object v0
`

const brokenYAML = `
location: broken.dex
classes:
  - name: Lapp/Broken;
    access: [public]
    methods:
      - name: run
        signature: ()V
        access: [public, static]
        registers: 1
        code: |
          const/4 v0, 1
`

func writeProgram(t *testing.T, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(src), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunText(t *testing.T) {
	dir := t.TempDir()
	prog := writeProgram(t, dir, "app.yaml", programYAML)

	var stdout, stderr bytes.Buffer
	code := run([]string{"-config", dir, "-dump", prog}, &stdout, &stderr, false)
	if code != exitOK {
		t.Fatalf("exit code = %d, stderr:\n%s", code, stderr.String())
	}
	out := stdout.String()
	for _, want := range []string{
		"Lapp/Box; (app.dex): verified",
		"Lapp/Box;->text(Ljava/lang/Object;)Ljava/lang/String;: verified",
		"safe casts: 0x0004",
		"summary: 1 verified, 0 soft failures, 0 hard failures",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("uncolored output contains escape codes")
	}
}

func TestRunYAMLRejected(t *testing.T) {
	dir := t.TempDir()
	prog := writeProgram(t, dir, "app.yaml", programYAML)
	broken := writeProgram(t, dir, "broken.yaml", brokenYAML)

	var stdout, stderr bytes.Buffer
	code := run([]string{"-config", dir, "-format", "yaml", prog, broken}, &stdout, &stderr, false)
	if code != exitRejected {
		t.Fatalf("exit code = %d, want %d, stderr:\n%s", code, exitRejected, stderr.String())
	}

	var doc struct {
		Session string `yaml:"session"`
		Summary struct {
			Verified int `yaml:"verified"`
			Hard     int `yaml:"hard-failures"`
		} `yaml:"summary"`
		Classes []struct {
			Class struct {
				Descriptor string `yaml:"descriptor"`
			} `yaml:"class"`
			Outcome string `yaml:"outcome"`
		} `yaml:"classes"`
	}
	if err := yaml.Unmarshal(stdout.Bytes(), &doc); err != nil {
		t.Fatalf("report is not YAML: %v\n%s", err, stdout.String())
	}
	if doc.Session == "" {
		t.Error("report has no session id")
	}
	if doc.Summary.Verified != 1 || doc.Summary.Hard != 1 {
		t.Errorf("summary = %+v", doc.Summary)
	}
	if len(doc.Classes) != 2 || doc.Classes[1].Outcome != "hard-failure" {
		t.Errorf("classes = %+v", doc.Classes)
	}
}

func TestRunStore(t *testing.T) {
	dir := t.TempDir()
	prog := writeProgram(t, dir, "app.yaml", programYAML)
	db := filepath.Join(dir, "results.db")

	var stdout, stderr bytes.Buffer
	if code := run([]string{"-config", dir, "-db", db, prog}, &stdout, &stderr, false); code != exitOK {
		t.Fatalf("exit code = %d, stderr:\n%s", code, stderr.String())
	}

	s, err := store.Open(db)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()
	recs, err := s.MethodsOfClass(context.Background(), verifier.ClassRef{Location: "app.dex", Descriptor: "Lapp/Box;"})
	if err != nil {
		t.Fatalf("MethodsOfClass failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("stored %d methods, want 2", len(recs))
	}
	for _, rec := range recs {
		if rec.Outcome != verifier.NoFailure || rec.Aux == nil {
			t.Errorf("stored record %s = %+v", rec.Method, rec)
		}
	}
}

func TestRunUsageErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		args []string
	}{
		{"no files", []string{"-config", dir}},
		{"bad format", []string{"-config", dir, "-format", "json", "x.yaml"}},
		{"missing file", []string{"-config", dir, filepath.Join(dir, "missing.yaml")}},
		{"bad flag", []string{"-nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := run(tt.args, &stdout, &stderr, false); code != exitError {
				t.Errorf("exit code = %d, want %d", code, exitError)
			}
		})
	}
}

func TestPaint(t *testing.T) {
	if got := paint(verifier.HardFailure, true); got != ansiRed+"hard-failure"+ansiReset {
		t.Errorf("paint = %q", got)
	}
	if got := paint(verifier.SoftFailure, false); got != "soft-failure" {
		t.Errorf("paint = %q", got)
	}
}
