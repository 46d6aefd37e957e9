package common

import (
	"fmt"
	"path/filepath"
	"strings"
)

// JoinWithin joins name onto base and fails when the result would escape
// base, e.g. for "../secrets" or an absolute name.
func JoinWithin(base, name string) (string, error) {
	if name == "" || filepath.IsAbs(name) {
		return "", fmt.Errorf("invalid path %q", name)
	}

	cleanedBase := filepath.Clean(base)
	joined := filepath.Join(cleanedBase, name)

	rel, err := filepath.Rel(cleanedBase, joined)
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", name, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside %s", name, cleanedBase)
	}
	return joined, nil
}
