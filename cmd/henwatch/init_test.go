package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunInit(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer

	if err := runInit(&out, dir); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	for _, sub := range []string{"data", "models"} {
		info, err := os.Stat(filepath.Join(dir, sub))
		if err != nil || !info.IsDir() {
			t.Errorf("missing directory %s: %v", sub, err)
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("config.yaml not written: %v", err)
	}
	if !strings.Contains(string(data), "detector:") {
		t.Error("config.yaml missing detector section")
	}
	if !strings.Contains(out.String(), "config.yaml") {
		t.Errorf("output missing config path: %q", out.String())
	}
}

func TestRunInitPreservesExistingConfig(t *testing.T) {
	dir := t.TempDir()
	custom := "# my customized config\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(custom), 0644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := runInit(&out, dir); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != custom {
		t.Error("runInit overwrote existing config.yaml")
	}
}

func TestWriteIfMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")

	if err := writeIfMissing(path, []byte("first")); err != nil {
		t.Fatal(err)
	}
	if err := writeIfMissing(path, []byte("second")); err != nil {
		t.Fatal(err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "first" {
		t.Errorf("content = %q, want first write preserved", data)
	}
}
