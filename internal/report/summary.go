package report

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/temirov/cfgsync/internal/filesystem"
)

const (
	// DefaultSummaryEnvironmentVariable names the step-summary file GitHub Actions provides.
	DefaultSummaryEnvironmentVariable = "GITHUB_STEP_SUMMARY"

	tableHeaderConstant            = "| Repository | Status | Changes | Result |\n"
	tableSeparatorConstant         = "|------------|--------|---------|--------|\n"
	tableRowTemplateConstant       = "| %s | %s | %s | %s |\n"
	totalsTemplateConstant         = "\n%d succeeded, %d skipped, %d failed\n"
	headingConstant                = "## cfgsync\n\n"
	emptyCellConstant              = "-"
	pipeCharacterConstant          = "|"
	escapedPipeConstant            = "\\|"
	newlineCharacterConstant       = "\n"
	carriageReturnConstant         = "\r"
	spaceCharacterConstant         = " "
	summaryFilePermissions         = fs.FileMode(0o644)
	outputNotConfiguredMessage     = "report output not configured"
	fileSystemNotConfiguredMessage = "report file system not configured"
	appendErrorTemplateConstant    = "append run summary to %s: %w"
	writeErrorTemplateConstant     = "write run summary: %w"
	logMessageSummaryAppended      = "Appended run summary"
	logFieldSummaryPathConstant    = "path"
)

var (
	// ErrOutputNotConfigured indicates a nil output writer was supplied.
	ErrOutputNotConfigured = errors.New(outputNotConfiguredMessage)
	// ErrFileSystemNotConfigured indicates a nil file system was supplied.
	ErrFileSystemNotConfigured = errors.New(fileSystemNotConfiguredMessage)
)

// Status values rendered in the table.
const (
	StatusSucceeded = "succeeded"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
)

// Row is one repository line in the summary table.
type Row struct {
	Repository string
	Status     string
	Changes    []string
	Result     string
}

// EnvironmentLookup resolves an environment variable.
type EnvironmentLookup func(name string) (string, bool)

// Writer prints the summary and mirrors it into the step-summary sink.
type Writer struct {
	output              io.Writer
	fileSystem          filesystem.FileSystem
	lookupEnvironment   EnvironmentLookup
	environmentVariable string
	logger              *zap.Logger
}

// NewWriter validates dependencies and constructs a Writer. An empty
// environmentVariable disables the step-summary sink.
func NewWriter(output io.Writer, fileSystem filesystem.FileSystem, lookupEnvironment EnvironmentLookup, environmentVariable string, logger *zap.Logger) (*Writer, error) {
	if output == nil {
		return nil, ErrOutputNotConfigured
	}
	if fileSystem == nil {
		return nil, ErrFileSystemNotConfigured
	}
	if lookupEnvironment == nil {
		lookupEnvironment = os.LookupEnv
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		output:              output,
		fileSystem:          fileSystem,
		lookupEnvironment:   lookupEnvironment,
		environmentVariable: strings.TrimSpace(environmentVariable),
		logger:              logger,
	}, nil
}

// Write prints the table and appends it to the step-summary file when the variable is set.
func (writer *Writer) Write(rows []Row) error {
	markdown := RenderMarkdown(rows)
	if _, writeError := io.WriteString(writer.output, markdown); writeError != nil {
		return fmt.Errorf(writeErrorTemplateConstant, writeError)
	}

	if len(writer.environmentVariable) == 0 {
		return nil
	}
	summaryPath, found := writer.lookupEnvironment(writer.environmentVariable)
	summaryPath = strings.TrimSpace(summaryPath)
	if !found || len(summaryPath) == 0 {
		return nil
	}
	if appendError := writer.fileSystem.AppendFile(summaryPath, []byte(headingConstant+markdown), summaryFilePermissions); appendError != nil {
		return fmt.Errorf(appendErrorTemplateConstant, summaryPath, appendError)
	}
	writer.logger.Debug(logMessageSummaryAppended, zap.String(logFieldSummaryPathConstant, summaryPath))
	return nil
}

// RenderMarkdown formats rows as a Markdown table followed by status totals.
func RenderMarkdown(rows []Row) string {
	var builder strings.Builder
	builder.WriteString(tableHeaderConstant)
	builder.WriteString(tableSeparatorConstant)

	succeeded, skipped, failed := 0, 0, 0
	for _, row := range rows {
		switch row.Status {
		case StatusSucceeded:
			succeeded++
		case StatusSkipped:
			skipped++
		case StatusFailed:
			failed++
		}
		changes := emptyCellConstant
		if len(row.Changes) > 0 {
			changes = strings.Join(row.Changes, ", ")
		}
		builder.WriteString(fmt.Sprintf(tableRowTemplateConstant, escapeCell(row.Repository), escapeCell(row.Status), escapeCell(changes), escapeCell(row.Result)))
	}

	builder.WriteString(fmt.Sprintf(totalsTemplateConstant, succeeded, skipped, failed))
	return builder.String()
}

func escapeCell(value string) string {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) == 0 {
		return emptyCellConstant
	}
	escaped := strings.ReplaceAll(trimmed, pipeCharacterConstant, escapedPipeConstant)
	escaped = strings.ReplaceAll(escaped, carriageReturnConstant, "")
	return strings.ReplaceAll(escaped, newlineCharacterConstant, spaceCharacterConstant)
}
