// Package utils provides small path helpers shared across the app.
package utils

import (
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
)

// ExpandPath expands a leading tilde and environment variables in a
// path. Paths that cannot be expanded are returned as-is.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		expanded = path
	}
	return filepath.Clean(os.ExpandEnv(expanded))
}
