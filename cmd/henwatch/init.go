package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mtholden/henwatch/internal/defaults"
)

// runInit initializes a henwatch working directory with default files.
// It creates the directory structure and writes the example config.
// Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing henwatch workspace in %s\n", dir)

	// Create the base directory and subdirectories. data holds the
	// persistent instance ID; models holds the ONNX model file.
	for _, sub := range []string{"data", "models"} {
		path := filepath.Join(dir, sub)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
	}

	// Write config example if no config exists.
	configPath := filepath.Join(dir, "config.yaml")
	if err := writeIfMissing(configPath, defaults.ConfigYAML); err != nil {
		return err
	}
	fmt.Fprintf(w, "  ✓ %s\n", configPath)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit config.yaml, place your detection model under models/,")
	fmt.Fprintln(w, "then run: henwatch detect")
	return nil
}

// writeIfMissing writes content to path only if the file does not already
// exist. This ensures init never overwrites user customizations.
func writeIfMissing(path string, content []byte) error {
	if _, err := os.Stat(path); err == nil {
		return nil // already exists, skip
	}
	return os.WriteFile(path, content, 0o644)
}
