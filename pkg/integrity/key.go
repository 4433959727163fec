package integrity

import (
	"bytes"
	"fmt"
	"os"
)

// LoadKey reads a signing key from disk, trimming surrounding whitespace.
func LoadKey(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load signing key: %w", err)
	}
	key := bytes.TrimSpace(raw)
	if len(key) == 0 {
		return nil, fmt.Errorf("load signing key %s: %w", path, ErrEmptyKey)
	}
	return key, nil
}
