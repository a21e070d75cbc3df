// Package schemadocs provides the database guide handed to the model as
// schema context when it writes SQL.
package schemadocs

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
)

//go:embed guide.md
var embeddedGuide string

// Default returns the built-in DrugCentral query guide.
func Default() string {
	return embeddedGuide
}

// Load reads an operator-supplied guide from path, or returns the built-in
// guide when path is empty.
func Load(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read schema docs %q: %w", path, err)
	}
	guide := string(raw)
	if strings.TrimSpace(guide) == "" {
		return "", fmt.Errorf("schema docs %q is empty", path)
	}
	return guide, nil
}
