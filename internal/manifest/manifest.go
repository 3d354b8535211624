package manifest

import (
	"slices"
	"sort"
)

// FileName is the manifest location relative to the repository root.
const FileName = ".cfgsync.json"

// SchemaVersion tags the manifest layout.
type SchemaVersion int

// Known schema versions.
const (
	SchemaVersionLegacy  SchemaVersion = 1
	SchemaVersionCurrent SchemaVersion = 2
)

// Manifest maps configuration ids to the sorted file names they manage.
type Manifest struct {
	Version SchemaVersion
	Configs map[string][]string
}

// New returns an empty manifest at the current schema version.
func New() Manifest {
	return Manifest{Version: SchemaVersionCurrent, Configs: map[string][]string{}}
}

// ManagedFiles returns a copy of the files managed under configurationID.
func (manifest Manifest) ManagedFiles(configurationID string) []string {
	return slices.Clone(manifest.Configs[configurationID])
}

// Tracks reports whether configurationID manages at least one file.
func (manifest Manifest) Tracks(configurationID string) bool {
	return len(manifest.Configs[configurationID]) > 0
}

// Update is the result of applying one configuration's intent to a manifest.
type Update struct {
	Manifest      Manifest
	FilesToDelete []string
}

// UpdateManifest rewrites the configurationID namespace from intents and leaves every other namespace untouched.
//
// An intent of true tracks the file. An explicit false stops tracking it without
// reporting a deletion. A file previously tracked under configurationID that is
// missing from intents altogether is untracked and reported in FilesToDelete.
func UpdateManifest(existing Manifest, configurationID string, intents map[string]bool) Update {
	updatedManifest := New()
	for existingID, existingFiles := range existing.Configs {
		if existingID == configurationID {
			continue
		}
		updatedManifest.Configs[existingID] = slices.Clone(existingFiles)
	}

	trackedFiles := make([]string, 0, len(intents))
	for fileName, tracked := range intents {
		if tracked {
			trackedFiles = append(trackedFiles, fileName)
		}
	}
	trackedFiles = normalizeFileNames(trackedFiles)
	if len(trackedFiles) > 0 {
		updatedManifest.Configs[configurationID] = trackedFiles
	}

	var filesToDelete []string
	for _, previouslyManagedFile := range existing.Configs[configurationID] {
		if _, mentioned := intents[previouslyManagedFile]; !mentioned {
			filesToDelete = append(filesToDelete, previouslyManagedFile)
		}
	}

	return Update{Manifest: updatedManifest, FilesToDelete: normalizeFileNames(filesToDelete)}
}

// normalizeFileNames sorts and deduplicates names, dropping empty entries.
func normalizeFileNames(fileNames []string) []string {
	normalized := make([]string, 0, len(fileNames))
	for _, fileName := range fileNames {
		if len(fileName) > 0 {
			normalized = append(normalized, fileName)
		}
	}
	sort.Strings(normalized)
	return slices.Compact(normalized)
}
