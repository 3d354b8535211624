package render

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/temirov/cfgsync/internal/filesystem"
)

const (
	referencePrefixConstant         = "@"
	newlineConstant                 = "\n"
	jsonIndentConstant              = "  "
	yamlIndentWidthConstant         = 2
	jsonExtensionConstant           = ".json"
	jsonWithCommentsExtension       = ".jsonc"
	yamlExtensionConstant           = ".yaml"
	shortYAMLExtensionConstant      = ".yml"
	fileSystemNotConfiguredMessage  = "render file system not configured"
	referenceErrorTemplateConstant  = "content reference %q: %v"
	renderErrorTemplateConstant     = "render %s as %s: %v"
	unsupportedTextContentTemplate  = "text files accept a string or a list of strings, got %T"
	emptyReferenceMessageConstant   = "reference path is empty"
	nonStringMapKeyTemplateConstant = "%v"
)

// Format names an output encoding.
type Format string

// Supported output formats.
const (
	FormatJSON Format = Format("json")
	FormatYAML Format = Format("yaml")
	FormatText Format = Format("text")
)

// ErrFileSystemNotConfigured indicates a nil file system was supplied.
var ErrFileSystemNotConfigured = errors.New(fileSystemNotConfiguredMessage)

// ReferenceError reports an @path reference that could not be read or decoded.
type ReferenceError struct {
	Reference string
	Cause     error
}

// Error describes the failed reference.
func (referenceError ReferenceError) Error() string {
	return fmt.Sprintf(referenceErrorTemplateConstant, referenceError.Reference, referenceError.Cause)
}

// Unwrap exposes the read or decode failure.
func (referenceError ReferenceError) Unwrap() error {
	return referenceError.Cause
}

// RenderError reports content that could not be encoded for its target file.
type RenderError struct {
	FileName string
	Format   Format
	Cause    error
}

// Error describes the failed encoding.
func (renderError RenderError) Error() string {
	return fmt.Sprintf(renderErrorTemplateConstant, renderError.FileName, renderError.Format, renderError.Cause)
}

// Unwrap exposes the encoder failure.
func (renderError RenderError) Unwrap() error {
	return renderError.Cause
}

// FormatForFile picks the output format from the file extension.
func FormatForFile(fileName string) Format {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case jsonExtensionConstant:
		return FormatJSON
	case yamlExtensionConstant, shortYAMLExtensionConstant:
		return FormatYAML
	default:
		return FormatText
	}
}

// Renderer resolves content references relative to a base directory and encodes content.
type Renderer struct {
	fileSystem    filesystem.FileSystem
	baseDirectory string
}

// NewRenderer constructs a Renderer reading references below baseDirectory.
func NewRenderer(fileSystem filesystem.FileSystem, baseDirectory string) (*Renderer, error) {
	if fileSystem == nil {
		return nil, ErrFileSystemNotConfigured
	}
	return &Renderer{fileSystem: fileSystem, baseDirectory: baseDirectory}, nil
}

// IsReference reports whether content is an @path string.
func IsReference(content any) bool {
	text, isString := content.(string)
	return isString && strings.HasPrefix(text, referencePrefixConstant)
}

// ResolveReference loads @path content; any other value is returned unchanged.
// JSON and JSONC files are decoded as data, YAML likewise, and anything else is read as text.
func (renderer *Renderer) ResolveReference(content any) (any, error) {
	if !IsReference(content) {
		return content, nil
	}
	reference := content.(string)
	referencePath := strings.TrimSpace(strings.TrimPrefix(reference, referencePrefixConstant))
	if len(referencePath) == 0 {
		return nil, ReferenceError{Reference: reference, Cause: errors.New(emptyReferenceMessageConstant)}
	}
	if !filepath.IsAbs(referencePath) {
		referencePath = filepath.Join(renderer.baseDirectory, referencePath)
	}

	referenceBytes, readError := renderer.fileSystem.ReadFile(referencePath)
	if readError != nil {
		return nil, ReferenceError{Reference: reference, Cause: readError}
	}

	switch strings.ToLower(filepath.Ext(referencePath)) {
	case jsonExtensionConstant, jsonWithCommentsExtension:
		decoded, decodeError := DecodeJSON(referenceBytes)
		if decodeError != nil {
			return nil, ReferenceError{Reference: reference, Cause: decodeError}
		}
		return decoded, nil
	case yamlExtensionConstant, shortYAMLExtensionConstant:
		var decoded any
		if decodeError := yaml.Unmarshal(referenceBytes, &decoded); decodeError != nil {
			return nil, ReferenceError{Reference: reference, Cause: decodeError}
		}
		return Normalize(decoded), nil
	default:
		return string(referenceBytes), nil
	}
}

// Render resolves references and encodes content for fileName.
func (renderer *Renderer) Render(fileName string, content any) ([]byte, error) {
	resolvedContent, resolveError := renderer.ResolveReference(content)
	if resolveError != nil {
		return nil, resolveError
	}
	return Encode(fileName, resolvedContent)
}

// Encode renders already-resolved content in the format implied by fileName.
func Encode(fileName string, content any) ([]byte, error) {
	format := FormatForFile(fileName)
	var encoded []byte
	var encodeError error
	switch format {
	case FormatJSON:
		encoded, encodeError = encodeJSON(content)
	case FormatYAML:
		encoded, encodeError = encodeYAML(content)
	default:
		encoded, encodeError = encodeText(content)
	}
	if encodeError != nil {
		return nil, RenderError{FileName: fileName, Format: format, Cause: encodeError}
	}
	return withSingleTrailingNewline(encoded), nil
}

// DecodeJSON parses JSON that may carry comments and trailing commas. Numbers keep their literal form.
func DecodeJSON(data []byte) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	decoder.UseNumber()
	var decoded any
	if decodeError := decoder.Decode(&decoded); decodeError != nil {
		return nil, decodeError
	}
	return decoded, nil
}

// Normalize converts YAML maps with non-string keys into map[string]any, recursively.
func Normalize(value any) any {
	switch typedValue := value.(type) {
	case map[string]any:
		normalized := make(map[string]any, len(typedValue))
		for key, nestedValue := range typedValue {
			normalized[key] = Normalize(nestedValue)
		}
		return normalized
	case map[any]any:
		normalized := make(map[string]any, len(typedValue))
		for key, nestedValue := range typedValue {
			normalized[fmt.Sprintf(nonStringMapKeyTemplateConstant, key)] = Normalize(nestedValue)
		}
		return normalized
	case []any:
		normalized := make([]any, len(typedValue))
		for index, nestedValue := range typedValue {
			normalized[index] = Normalize(nestedValue)
		}
		return normalized
	default:
		return value
	}
}

func encodeJSON(content any) ([]byte, error) {
	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", jsonIndentConstant)
	if encodeError := encoder.Encode(Normalize(content)); encodeError != nil {
		return nil, encodeError
	}
	return buffer.Bytes(), nil
}

func encodeYAML(content any) ([]byte, error) {
	var buffer bytes.Buffer
	encoder := yaml.NewEncoder(&buffer)
	encoder.SetIndent(yamlIndentWidthConstant)
	if encodeError := encoder.Encode(Normalize(content)); encodeError != nil {
		return nil, encodeError
	}
	if closeError := encoder.Close(); closeError != nil {
		return nil, closeError
	}
	return buffer.Bytes(), nil
}

func encodeText(content any) ([]byte, error) {
	switch typedContent := content.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(typedContent), nil
	case []any:
		lines := make([]string, 0, len(typedContent))
		for _, line := range typedContent {
			lines = append(lines, fmt.Sprint(line))
		}
		return []byte(strings.Join(lines, newlineConstant)), nil
	case []string:
		return []byte(strings.Join(typedContent, newlineConstant)), nil
	case bool, int, int64, uint64, float64, json.Number:
		return []byte(fmt.Sprint(typedContent)), nil
	default:
		return nil, fmt.Errorf(unsupportedTextContentTemplate, content)
	}
}

func withSingleTrailingNewline(encoded []byte) []byte {
	return append(bytes.TrimRight(encoded, newlineConstant), newlineConstant...)
}
