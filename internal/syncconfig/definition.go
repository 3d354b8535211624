package syncconfig

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/temirov/cfgsync/internal/filesystem"
	"github.com/temirov/cfgsync/internal/publish"
	"github.com/temirov/cfgsync/internal/render"
)

const (
	jsonExtensionConstant           = ".json"
	jsonWithCommentsExtension       = ".jsonc"
	mapstructureTagNameConstant     = "mapstructure"
	parentDirectoryConstant         = ".."
	contentKeyConstant              = "content"
	identifierWhitespaceCharacters  = " \t\r\n"
	readErrorTemplateConstant       = "read sync definition %s: %w"
	decodeErrorTemplateConstant     = "decode sync definition %s: %w"
	validationErrorTemplateConstant = "invalid sync definition: %s: %s"
	repositoryGitFieldTemplate      = "repos[%d].git"
	repositoryFileFieldTemplate     = "repos[%d].files.%s"
	fileFieldTemplateConstant       = "files.%s"
	requiredValueMessageConstant    = "value required"
	atLeastOneFileMessageConstant   = "at least one file is required"
	atLeastOneRepositoryMessage     = "at least one repository is required"
	unknownFileMessageConstant      = "file is not declared in the root files section"
	invalidFileNameMessageConstant  = "file name must be a relative path inside the repository"
	gitValueTypeMessageTemplate     = "expected a string or a list of strings, got %T"
	fileOverrideTypeMessageTemplate = "expected false or a mapping, got %T"
	whitespaceInIdentifierMessage   = "must not contain whitespace"
	unknownMergeStrategyTemplate    = "unknown merge strategy %q"
	fileSystemNotConfiguredMessage  = "sync definition file system not configured"
	logMessageLoadedDefinition      = "Loaded sync definition"
	logFieldPathConstant            = "path"
	logFieldIdentifierConstant      = "id"
	logFieldRepositoryCountConstant = "repositories"
	logFieldFileCountConstant       = "files"
	identifierFieldNameConstant     = "id"
	filesFieldNameConstant          = "files"
	repositoriesFieldNameConstant   = "repos"
	mergeModeFieldNameConstant      = "prOptions.merge"
	mergeStrategyFieldNameConstant  = "prOptions.mergeStrategy"
)

// ErrFileSystemNotConfigured indicates a nil file system was supplied.
var ErrFileSystemNotConfigured = errors.New(fileSystemNotConfiguredMessage)

// ValidationError reports a structurally valid definition with unusable values.
type ValidationError struct {
	Field   string
	Message string
}

// Error describes the invalid field.
func (validationError ValidationError) Error() string {
	return fmt.Sprintf(validationErrorTemplateConstant, validationError.Field, validationError.Message)
}

// PullRequestOptions mirrors prOptions in the definition.
type PullRequestOptions struct {
	Merge         string `mapstructure:"merge"`
	MergeStrategy string `mapstructure:"mergeStrategy"`
	DeleteBranch  *bool  `mapstructure:"deleteBranch"`
}

// MergeOptions converts the options into the publisher's representation.
func (options PullRequestOptions) MergeOptions() (publish.MergeOptions, error) {
	mergeMode, modeError := publish.ParseMergeMode(options.Merge)
	if modeError != nil {
		return publish.MergeOptions{}, ValidationError{Field: mergeModeFieldNameConstant, Message: modeError.Error()}
	}
	mergeStrategy := publish.MergeStrategy(strings.ToLower(strings.TrimSpace(options.MergeStrategy)))
	switch mergeStrategy {
	case "", publish.MergeStrategyMerge, publish.MergeStrategySquash, publish.MergeStrategyRebase:
	default:
		return publish.MergeOptions{}, ValidationError{Field: mergeStrategyFieldNameConstant, Message: fmt.Sprintf(unknownMergeStrategyTemplate, options.MergeStrategy)}
	}
	deleteBranch := false
	if options.DeleteBranch != nil {
		deleteBranch = *options.DeleteBranch
	}
	return publish.MergeOptions{Mode: mergeMode, Strategy: mergeStrategy, DeleteBranch: deleteBranch}, nil
}

func (options PullRequestOptions) overlay(override *PullRequestOptions) PullRequestOptions {
	if override == nil {
		return options
	}
	if len(strings.TrimSpace(override.Merge)) > 0 {
		options.Merge = override.Merge
	}
	if len(strings.TrimSpace(override.MergeStrategy)) > 0 {
		options.MergeStrategy = override.MergeStrategy
	}
	if override.DeleteBranch != nil {
		options.DeleteBranch = override.DeleteBranch
	}
	return options
}

// FileSpecification is one file as it applies to one repository.
// OverrideContent is set when the repository supplied its own content; ReplaceContent
// disables deep merging of that content onto Content.
type FileSpecification struct {
	Name               string
	Content            any
	OverrideContent    any
	HasOverrideContent bool
	ReplaceContent     bool
	CreateOnly         bool
	DeleteOrphaned     bool
}

// RepositorySpecification is one target remote with its effective files and options.
type RepositorySpecification struct {
	Remote             string
	Files              []FileSpecification
	PullRequestOptions PullRequestOptions
}

// Configuration is a loaded and validated sync definition.
type Configuration struct {
	ID                 string
	Branch             string
	PullRequestBody    string
	PullRequestOptions PullRequestOptions
	Files              []FileSpecification
	Repositories       []RepositorySpecification
	BaseDirectory      string
}

type rawFile struct {
	Content        any   `mapstructure:"content"`
	DeleteOrphaned *bool `mapstructure:"deleteOrphaned"`
	CreateOnly     bool  `mapstructure:"createOnly"`
}

type rawFileOverride struct {
	Content        any   `mapstructure:"content"`
	Override       bool  `mapstructure:"override"`
	DeleteOrphaned *bool `mapstructure:"deleteOrphaned"`
	CreateOnly     *bool `mapstructure:"createOnly"`
}

type rawRepository struct {
	Git                any                 `mapstructure:"git"`
	Files              map[string]any      `mapstructure:"files"`
	PullRequestOptions *PullRequestOptions `mapstructure:"prOptions"`
}

type rawDefinition struct {
	ID                 string             `mapstructure:"id"`
	Branch             string             `mapstructure:"branch"`
	PullRequestBody    string             `mapstructure:"prTemplate"`
	PullRequestOptions PullRequestOptions `mapstructure:"prOptions"`
	DeleteOrphaned     *bool              `mapstructure:"deleteOrphaned"`
	Files              map[string]rawFile `mapstructure:"files"`
	Repositories       []rawRepository    `mapstructure:"repos"`
}

// Loader reads sync definitions from disk.
type Loader struct {
	fileSystem filesystem.FileSystem
	logger     *zap.Logger
}

// NewLoader constructs a Loader.
func NewLoader(fileSystem filesystem.FileSystem, logger *zap.Logger) (*Loader, error) {
	if fileSystem == nil {
		return nil, ErrFileSystemNotConfigured
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{fileSystem: fileSystem, logger: logger}, nil
}

// Load reads, decodes and validates the definition at definitionPath.
// A prTemplate path is read relative to the definition directory.
func (loader *Loader) Load(definitionPath string) (Configuration, error) {
	definitionBytes, readError := loader.fileSystem.ReadFile(definitionPath)
	if readError != nil {
		return Configuration{}, fmt.Errorf(readErrorTemplateConstant, definitionPath, readError)
	}
	baseDirectory := filepath.Dir(definitionPath)
	configuration, parseError := Parse(definitionBytes, filepath.Ext(definitionPath), baseDirectory)
	if parseError != nil {
		var validationError ValidationError
		if errors.As(parseError, &validationError) {
			return Configuration{}, parseError
		}
		return Configuration{}, fmt.Errorf(decodeErrorTemplateConstant, definitionPath, parseError)
	}

	if len(strings.TrimSpace(configuration.PullRequestBody)) > 0 {
		templatePath := configuration.PullRequestBody
		if !filepath.IsAbs(templatePath) {
			templatePath = filepath.Join(baseDirectory, templatePath)
		}
		templateBytes, templateError := loader.fileSystem.ReadFile(templatePath)
		if templateError != nil {
			return Configuration{}, fmt.Errorf(readErrorTemplateConstant, templatePath, templateError)
		}
		configuration.PullRequestBody = string(templateBytes)
	}

	loader.logger.Info(logMessageLoadedDefinition,
		zap.String(logFieldPathConstant, definitionPath),
		zap.String(logFieldIdentifierConstant, configuration.ID),
		zap.Int(logFieldRepositoryCountConstant, len(configuration.Repositories)),
		zap.Int(logFieldFileCountConstant, len(configuration.Files)))
	return configuration, nil
}

// Parse decodes definition bytes. extension selects JSON-with-comments decoding for .json and .jsonc;
// everything else is read as YAML. PullRequestBody holds the prTemplate path, not its content.
func Parse(definitionBytes []byte, extension string, baseDirectory string) (Configuration, error) {
	var document any
	switch strings.ToLower(extension) {
	case jsonExtensionConstant, jsonWithCommentsExtension:
		decodedDocument, decodeError := render.DecodeJSON(definitionBytes)
		if decodeError != nil {
			return Configuration{}, decodeError
		}
		document = decodedDocument
	default:
		if decodeError := yaml.Unmarshal(definitionBytes, &document); decodeError != nil {
			return Configuration{}, decodeError
		}
	}

	var definition rawDefinition
	if decodeError := decodeStrict(render.Normalize(document), &definition); decodeError != nil {
		return Configuration{}, decodeError
	}
	return definition.resolve(baseDirectory)
}

func decodeStrict(input any, output any) error {
	decoder, decoderError := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           output,
		TagName:          mapstructureTagNameConstant,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if decoderError != nil {
		return decoderError
	}
	return decoder.Decode(input)
}

func (definition rawDefinition) resolve(baseDirectory string) (Configuration, error) {
	identifier := strings.TrimSpace(definition.ID)
	if len(identifier) == 0 {
		return Configuration{}, ValidationError{Field: identifierFieldNameConstant, Message: requiredValueMessageConstant}
	}
	if strings.ContainsAny(identifier, identifierWhitespaceCharacters) {
		return Configuration{}, ValidationError{Field: identifierFieldNameConstant, Message: whitespaceInIdentifierMessage}
	}
	if len(definition.Files) == 0 {
		return Configuration{}, ValidationError{Field: filesFieldNameConstant, Message: atLeastOneFileMessageConstant}
	}
	if len(definition.Repositories) == 0 {
		return Configuration{}, ValidationError{Field: repositoriesFieldNameConstant, Message: atLeastOneRepositoryMessage}
	}
	if _, optionsError := definition.PullRequestOptions.MergeOptions(); optionsError != nil {
		return Configuration{}, optionsError
	}

	defaultDeleteOrphaned := definition.DeleteOrphaned != nil && *definition.DeleteOrphaned
	fileNames := make([]string, 0, len(definition.Files))
	for fileName := range definition.Files {
		fileNames = append(fileNames, fileName)
	}
	sort.Strings(fileNames)

	rootFiles := make([]FileSpecification, 0, len(fileNames))
	for _, fileName := range fileNames {
		if !isRepositoryRelative(fileName) {
			return Configuration{}, ValidationError{Field: fmt.Sprintf(fileFieldTemplateConstant, fileName), Message: invalidFileNameMessageConstant}
		}
		declaredFile := definition.Files[fileName]
		deleteOrphaned := defaultDeleteOrphaned
		if declaredFile.DeleteOrphaned != nil {
			deleteOrphaned = *declaredFile.DeleteOrphaned
		}
		rootFiles = append(rootFiles, FileSpecification{
			Name:           fileName,
			Content:        declaredFile.Content,
			CreateOnly:     declaredFile.CreateOnly,
			DeleteOrphaned: deleteOrphaned,
		})
	}

	configuration := Configuration{
		ID:                 identifier,
		Branch:             strings.TrimSpace(definition.Branch),
		PullRequestBody:    strings.TrimSpace(definition.PullRequestBody),
		PullRequestOptions: definition.PullRequestOptions,
		Files:              rootFiles,
		BaseDirectory:      baseDirectory,
	}

	for repositoryIndex, repository := range definition.Repositories {
		remotes, remotesError := remoteList(repositoryIndex, repository.Git)
		if remotesError != nil {
			return Configuration{}, remotesError
		}
		repositoryFiles, filesError := applyFileOverrides(repositoryIndex, rootFiles, definition.Files, repository.Files)
		if filesError != nil {
			return Configuration{}, filesError
		}
		pullRequestOptions := definition.PullRequestOptions.overlay(repository.PullRequestOptions)
		if _, optionsError := pullRequestOptions.MergeOptions(); optionsError != nil {
			return Configuration{}, optionsError
		}
		for _, remote := range remotes {
			configuration.Repositories = append(configuration.Repositories, RepositorySpecification{
				Remote:             remote,
				Files:              repositoryFiles,
				PullRequestOptions: pullRequestOptions,
			})
		}
	}
	return configuration, nil
}

func remoteList(repositoryIndex int, gitValue any) ([]string, error) {
	var candidates []string
	switch typedValue := gitValue.(type) {
	case string:
		candidates = []string{typedValue}
	case []any:
		for _, entry := range typedValue {
			entryText, isString := entry.(string)
			if !isString {
				return nil, ValidationError{Field: fmt.Sprintf(repositoryGitFieldTemplate, repositoryIndex), Message: fmt.Sprintf(gitValueTypeMessageTemplate, entry)}
			}
			candidates = append(candidates, entryText)
		}
	case nil:
	default:
		return nil, ValidationError{Field: fmt.Sprintf(repositoryGitFieldTemplate, repositoryIndex), Message: fmt.Sprintf(gitValueTypeMessageTemplate, gitValue)}
	}

	remotes := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		if trimmedCandidate := strings.TrimSpace(candidate); len(trimmedCandidate) > 0 {
			remotes = append(remotes, trimmedCandidate)
		}
	}
	if len(remotes) == 0 {
		return nil, ValidationError{Field: fmt.Sprintf(repositoryGitFieldTemplate, repositoryIndex), Message: requiredValueMessageConstant}
	}
	return remotes, nil
}

func applyFileOverrides(repositoryIndex int, rootFiles []FileSpecification, declaredFiles map[string]rawFile, overrides map[string]any) ([]FileSpecification, error) {
	for fileName := range overrides {
		if _, declared := declaredFiles[fileName]; !declared {
			return nil, ValidationError{Field: fmt.Sprintf(repositoryFileFieldTemplate, repositoryIndex, fileName), Message: unknownFileMessageConstant}
		}
	}

	repositoryFiles := make([]FileSpecification, 0, len(rootFiles))
	for _, rootFile := range rootFiles {
		overrideValue, hasOverride := overrides[rootFile.Name]
		if !hasOverride || overrideValue == nil {
			repositoryFiles = append(repositoryFiles, rootFile)
			continue
		}
		switch typedOverride := overrideValue.(type) {
		case bool:
			if typedOverride {
				repositoryFiles = append(repositoryFiles, rootFile)
			}
			continue
		case map[string]any:
			var fileOverride rawFileOverride
			if decodeError := decodeStrict(typedOverride, &fileOverride); decodeError != nil {
				return nil, ValidationError{Field: fmt.Sprintf(repositoryFileFieldTemplate, repositoryIndex, rootFile.Name), Message: decodeError.Error()}
			}
			repositoryFile := rootFile
			if _, hasContent := typedOverride[contentKeyConstant]; hasContent {
				repositoryFile.OverrideContent = fileOverride.Content
				repositoryFile.HasOverrideContent = true
				repositoryFile.ReplaceContent = fileOverride.Override
			}
			if fileOverride.CreateOnly != nil {
				repositoryFile.CreateOnly = *fileOverride.CreateOnly
			}
			if fileOverride.DeleteOrphaned != nil {
				repositoryFile.DeleteOrphaned = *fileOverride.DeleteOrphaned
			}
			repositoryFiles = append(repositoryFiles, repositoryFile)
		default:
			return nil, ValidationError{Field: fmt.Sprintf(repositoryFileFieldTemplate, repositoryIndex, rootFile.Name), Message: fmt.Sprintf(fileOverrideTypeMessageTemplate, overrideValue)}
		}
	}
	return repositoryFiles, nil
}

func isRepositoryRelative(fileName string) bool {
	trimmedName := strings.TrimSpace(fileName)
	if len(trimmedName) == 0 || filepath.IsAbs(trimmedName) {
		return false
	}
	cleanedName := filepath.Clean(filepath.FromSlash(trimmedName))
	return cleanedName != "." && cleanedName != parentDirectoryConstant &&
		!strings.HasPrefix(cleanedName, parentDirectoryConstant+string(filepath.Separator))
}
