// Package pathutils resolves user-supplied paths such as the sync definition
// and the work directory.
package pathutils

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	tildeSymbolConstant    = "~"
	forwardSlashConstant   = "/"
	currentDirectoryMarker = "."
)

// HomeDirectoryProvider resolves the current user's home directory path.
type HomeDirectoryProvider func() (string, error)

// HomeExpander converts leading ~ shortcuts to the user's home directory.
// The home directory is looked up once.
type HomeExpander struct {
	homeDirectoryProvider HomeDirectoryProvider
	lookupOnce            sync.Once
	homeDirectory         string
}

// NewHomeExpander constructs a HomeExpander using the operating system lookup.
func NewHomeExpander() *HomeExpander {
	return NewHomeExpanderWithProvider(os.UserHomeDir)
}

// NewHomeExpanderWithProvider constructs a HomeExpander with a custom provider.
func NewHomeExpanderWithProvider(provider HomeDirectoryProvider) *HomeExpander {
	if provider == nil {
		provider = os.UserHomeDir
	}
	return &HomeExpander{homeDirectoryProvider: provider}
}

// Expand resolves "~" and "~/..." to the home directory. "~user" forms and paths
// without a leading tilde are returned unchanged, as is everything when the home
// directory cannot be determined.
func (expander *HomeExpander) Expand(candidatePath string) string {
	if expander == nil || !strings.HasPrefix(candidatePath, tildeSymbolConstant) {
		return candidatePath
	}
	remainder := strings.TrimPrefix(candidatePath, tildeSymbolConstant)
	if len(remainder) > 0 && !strings.HasPrefix(remainder, forwardSlashConstant) && !strings.HasPrefix(remainder, string(os.PathSeparator)) {
		return candidatePath
	}
	homeDirectory := expander.lookupHomeDirectory()
	if len(homeDirectory) == 0 {
		return candidatePath
	}
	return filepath.Join(homeDirectory, filepath.FromSlash(remainder))
}

// Resolve expands candidatePath and makes it absolute relative to baseDirectory.
// A blank candidate resolves to baseDirectory itself.
func (expander *HomeExpander) Resolve(candidatePath string, baseDirectory string) string {
	trimmedPath := strings.TrimSpace(candidatePath)
	if len(trimmedPath) == 0 {
		trimmedPath = currentDirectoryMarker
	}
	expandedPath := expander.Expand(trimmedPath)
	if filepath.IsAbs(expandedPath) {
		return filepath.Clean(expandedPath)
	}
	return filepath.Join(baseDirectory, expandedPath)
}

func (expander *HomeExpander) lookupHomeDirectory() string {
	expander.lookupOnce.Do(func() {
		homeDirectory, lookupError := expander.homeDirectoryProvider()
		if lookupError == nil {
			expander.homeDirectory = homeDirectory
		}
	})
	return expander.homeDirectory
}
