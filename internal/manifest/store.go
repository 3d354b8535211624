package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/temirov/cfgsync/internal/filesystem"
)

const (
	manifestFilePermissions            = fs.FileMode(0o644)
	manifestIndentConstant             = "  "
	manifestTrailingNewlineConstant    = "\n"
	fileSystemNotConfiguredMessage     = "manifest store file system not configured"
	readErrorTemplateConstant          = "read manifest %s: %v"
	decodeErrorTemplateConstant        = "decode manifest %s: %v"
	schemaErrorTemplateConstant        = "manifest %s has unsupported schema version %d"
	saveErrorTemplateConstant          = "save manifest %s: %w"
	logMessageManifestIgnored          = "Ignoring unusable manifest"
	logMessageEntryDropped             = "Dropping manifest entry outside the workspace"
	logFieldConfigurationIDConstant    = "config_id"
	logFieldManagedFileConstant        = "file"
	logFieldManifestPathConstant       = "manifest"
	logFieldManifestSchemaVersionConst = "schema_version"
)

// ErrFileSystemNotConfigured indicates a nil file system was supplied.
var ErrFileSystemNotConfigured = errors.New(fileSystemNotConfiguredMessage)

// ReadError reports a manifest file that exists but could not be read.
type ReadError struct {
	Path  string
	Cause error
}

// Error describes the read failure.
func (readError ReadError) Error() string {
	return fmt.Sprintf(readErrorTemplateConstant, readError.Path, readError.Cause)
}

// Unwrap exposes the underlying failure.
func (readError ReadError) Unwrap() error {
	return readError.Cause
}

// DecodeError reports a manifest that is not valid for its declared schema.
type DecodeError struct {
	Path  string
	Cause error
}

// Error describes the decode failure.
func (decodeError DecodeError) Error() string {
	return fmt.Sprintf(decodeErrorTemplateConstant, decodeError.Path, decodeError.Cause)
}

// Unwrap exposes the underlying failure.
func (decodeError DecodeError) Unwrap() error {
	return decodeError.Cause
}

// SchemaError reports a manifest whose version is not the current one.
type SchemaError struct {
	Path    string
	Version SchemaVersion
}

// Error describes the unsupported version.
func (schemaError SchemaError) Error() string {
	return fmt.Sprintf(schemaErrorTemplateConstant, schemaError.Path, schemaError.Version)
}

type versionHeader struct {
	Version *SchemaVersion `json:"version"`
}

type currentDocument struct {
	Version SchemaVersion       `json:"version"`
	Configs map[string][]string `json:"configs"`
}

type legacyDocument struct {
	Version      SchemaVersion `json:"version"`
	ManagedFiles []string      `json:"managedFiles"`
}

// Store reads and writes the manifest file inside a workspace.
type Store struct {
	fileSystem filesystem.FileSystem
	logger     *zap.Logger
}

// NewStore validates dependencies and constructs a Store.
func NewStore(fileSystem filesystem.FileSystem, logger *zap.Logger) (*Store, error) {
	if fileSystem == nil {
		return nil, ErrFileSystemNotConfigured
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{fileSystem: fileSystem, logger: logger}, nil
}

// Load returns the manifest in workDir. Missing, unreadable, malformed or
// non-current manifests are all reported as absent and never as errors.
func (store *Store) Load(workDir string) (Manifest, bool) {
	loadedManifest, found, readError := store.Read(workDir)
	if readError != nil {
		logFields := []zap.Field{zap.String(logFieldManifestPathConstant, manifestPath(workDir)), zap.Error(readError)}
		var schemaError SchemaError
		if errors.As(readError, &schemaError) {
			logFields = append(logFields, zap.Int(logFieldManifestSchemaVersionConst, int(schemaError.Version)))
		}
		store.logger.Warn(logMessageManifestIgnored, logFields...)
		return New(), false
	}
	if !found {
		return New(), false
	}
	return loadedManifest, true
}

// Read decodes the manifest in workDir and reports why it cannot be used.
// A missing file yields found=false with no error.
func (store *Store) Read(workDir string) (Manifest, bool, error) {
	filePath := manifestPath(workDir)
	fileContent, readError := store.fileSystem.ReadFile(filePath)
	if readError != nil {
		if errors.Is(readError, fs.ErrNotExist) {
			return Manifest{}, false, nil
		}
		return Manifest{}, false, ReadError{Path: filePath, Cause: readError}
	}

	var header versionHeader
	if decodeError := json.Unmarshal(fileContent, &header); decodeError != nil {
		return Manifest{}, false, DecodeError{Path: filePath, Cause: decodeError}
	}
	if header.Version == nil {
		return Manifest{}, false, SchemaError{Path: filePath}
	}

	switch *header.Version {
	case SchemaVersionCurrent:
		var document currentDocument
		if decodeError := json.Unmarshal(fileContent, &document); decodeError != nil {
			return Manifest{}, false, DecodeError{Path: filePath, Cause: decodeError}
		}
		decodedManifest := New()
		for configurationID, managedFiles := range document.Configs {
			normalizedFiles := normalizeFileNames(store.workspaceFileNames(filePath, configurationID, managedFiles))
			if len(normalizedFiles) > 0 {
				decodedManifest.Configs[configurationID] = normalizedFiles
			}
		}
		return decodedManifest, true, nil
	case SchemaVersionLegacy:
		var document legacyDocument
		if decodeError := json.Unmarshal(fileContent, &document); decodeError != nil {
			return Manifest{}, false, DecodeError{Path: filePath, Cause: decodeError}
		}
		return Manifest{}, false, SchemaError{Path: filePath, Version: SchemaVersionLegacy}
	default:
		return Manifest{}, false, SchemaError{Path: filePath, Version: *header.Version}
	}
}

// Save writes manifest to workDir with sorted, deduplicated file lists and a trailing newline.
func (store *Store) Save(workDir string, manifest Manifest) error {
	filePath := manifestPath(workDir)
	fileContent, encodeError := Encode(manifest)
	if encodeError != nil {
		return fmt.Errorf(saveErrorTemplateConstant, filePath, encodeError)
	}
	if writeError := store.fileSystem.WriteFileAtomic(filePath, fileContent, manifestFilePermissions); writeError != nil {
		return fmt.Errorf(saveErrorTemplateConstant, filePath, writeError)
	}
	return nil
}

// Encode renders manifest in the current schema exactly as Save writes it.
func Encode(manifest Manifest) ([]byte, error) {
	document := currentDocument{Version: SchemaVersionCurrent, Configs: map[string][]string{}}
	for configurationID, managedFiles := range manifest.Configs {
		normalizedFiles := normalizeFileNames(managedFiles)
		if len(normalizedFiles) > 0 {
			document.Configs[configurationID] = normalizedFiles
		}
	}
	encodedDocument, encodeError := json.MarshalIndent(document, "", manifestIndentConstant)
	if encodeError != nil {
		return nil, encodeError
	}
	return append(encodedDocument, manifestTrailingNewlineConstant...), nil
}

// workspaceFileNames keeps the entries that name a file inside the workspace.
func (store *Store) workspaceFileNames(filePath string, configurationID string, managedFiles []string) []string {
	keptFiles := make([]string, 0, len(managedFiles))
	for _, managedFile := range managedFiles {
		if _, inside := filesystem.CleanRelativePath(managedFile); !inside {
			store.logger.Warn(logMessageEntryDropped,
				zap.String(logFieldManifestPathConstant, filePath),
				zap.String(logFieldConfigurationIDConstant, configurationID),
				zap.String(logFieldManagedFileConstant, managedFile))
			continue
		}
		keptFiles = append(keptFiles, managedFile)
	}
	return keptFiles
}

func manifestPath(workDir string) string {
	return filepath.Join(workDir, FileName)
}
