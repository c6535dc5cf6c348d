package identity

import (
	"fmt"
	"os"
	"path/filepath"
)

// Scaffold writes the default identity into dir so it can be edited. An
// existing file is kept unless force is set. It reports whether it wrote.
func Scaffold(dir string, force bool) (bool, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create identity dir: %w", err)
	}
	dst := filepath.Join(dir, FileName)
	if !force {
		if _, err := os.Stat(dst); err == nil {
			return false, nil
		}
	}
	if err := os.WriteFile(dst, []byte(Default()+"\n"), 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", FileName, err)
	}
	return true, nil
}
