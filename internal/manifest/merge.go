package manifest

import (
	"fmt"
)

// MergeFiles is the merge driver: the manifest at otherPath is merged into
// the one at currentPath, and the result atomically replaces currentPath.
// Paths present on both sides take the digest from otherPath. An empty result
// is still written.
func MergeFiles(currentPath, otherPath string) error {
	current, err := Load(currentPath)
	if err != nil {
		return fmt.Errorf("failed to load current manifest: %w", err)
	}
	other, err := Load(otherPath)
	if err != nil {
		return fmt.Errorf("failed to load other manifest: %w", err)
	}

	current.Merge(other)

	return current.write(currentPath)
}
