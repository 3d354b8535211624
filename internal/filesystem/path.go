package filesystem

import (
	"path/filepath"
	"strings"
)

const (
	currentDirectoryReferenceConstant = "."
	parentDirectoryReferenceConstant  = ".."
)

// CleanRelativePath normalizes a slash-separated name and reports whether it
// stays inside the directory it is resolved against.
func CleanRelativePath(name string) (string, bool) {
	if len(strings.TrimSpace(name)) == 0 {
		return "", false
	}
	cleanedName := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(cleanedName) || cleanedName == currentDirectoryReferenceConstant || cleanedName == parentDirectoryReferenceConstant {
		return "", false
	}
	if strings.HasPrefix(cleanedName, parentDirectoryReferenceConstant+string(filepath.Separator)) {
		return "", false
	}
	return cleanedName, true
}
