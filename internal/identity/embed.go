// Package identity provides the assistant's identity prompt: an embedded
// default that operators can override with a file in the agentgw home.
package identity

import (
	_ "embed"
	"errors"
	"os"
	"strings"
)

// FileName is the override file looked up in the agentgw home directory.
const FileName = "IDENTITY.md"

//go:embed templates/IDENTITY.md
var defaultIdentity string

// Default returns the built-in identity prompt.
func Default() string {
	return strings.TrimSpace(defaultIdentity)
}

// Load returns the contents of path, or Default when the file is missing or
// empty.
func Load(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return "", err
	}
	if s := strings.TrimSpace(string(data)); s != "" {
		return s, nil
	}
	return Default(), nil
}
