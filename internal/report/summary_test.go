package report_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/temirov/cfgsync/internal/filesystem"
	"github.com/temirov/cfgsync/internal/report"
)

const expectedTableConstant = "| Repository | Status | Changes | Result |\n" +
	"|------------|--------|---------|--------|\n" +
	"| org/a | succeeded | config.json (create), old.json (delete) | https://github.com/org/a/pull/7 |\n" +
	"| org/b | skipped | - | No changes detected |\n" +
	"| org/c | failed | - | clone failed: fatal: a \\| b |\n" +
	"\n1 succeeded, 1 skipped, 1 failed\n"

func sampleRows() []report.Row {
	return []report.Row{
		{Repository: "org/a", Status: report.StatusSucceeded, Changes: []string{"config.json (create)", "old.json (delete)"}, Result: "https://github.com/org/a/pull/7"},
		{Repository: "org/b", Status: report.StatusSkipped, Result: "No changes detected"},
		{Repository: "org/c", Status: report.StatusFailed, Result: "clone failed:\nfatal: a | b"},
	}
}

func TestRenderMarkdown(testInstance *testing.T) {
	require.Equal(testInstance, expectedTableConstant, report.RenderMarkdown(sampleRows()))
}

func TestRenderMarkdownWithoutRows(testInstance *testing.T) {
	rendered := report.RenderMarkdown(nil)
	require.Contains(testInstance, rendered, "| Repository | Status | Changes | Result |")
	require.Contains(testInstance, rendered, "0 succeeded, 0 skipped, 0 failed")
}

func TestWriterAppendsToStepSummary(testInstance *testing.T) {
	summaryPath := filepath.Join(testInstance.TempDir(), "step_summary.md")
	testCases := []struct {
		name             string
		variableName     string
		environment      map[string]string
		expectSummary    bool
		expectedContents string
	}{
		{
			name:             "variable_set",
			variableName:     report.DefaultSummaryEnvironmentVariable,
			environment:      map[string]string{report.DefaultSummaryEnvironmentVariable: summaryPath},
			expectSummary:    true,
			expectedContents: "## cfgsync\n\n" + expectedTableConstant,
		},
		{
			name:         "variable_unset",
			variableName: report.DefaultSummaryEnvironmentVariable,
			environment:  map[string]string{},
		},
		{
			name:         "sink_disabled",
			variableName: "",
			environment:  map[string]string{report.DefaultSummaryEnvironmentVariable: summaryPath},
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			fileSystem := filesystem.OSFileSystem{}
			require.NoError(testInstance, fileSystem.RemoveAll(summaryPath))

			var output bytes.Buffer
			lookup := func(name string) (string, bool) {
				value, found := testCase.environment[name]
				return value, found
			}
			writer, writerError := report.NewWriter(&output, fileSystem, lookup, testCase.variableName, zap.NewNop())
			require.NoError(testInstance, writerError)

			require.NoError(testInstance, writer.Write(sampleRows()))
			require.Equal(testInstance, expectedTableConstant, output.String())

			summaryContents, readError := fileSystem.ReadFile(summaryPath)
			if !testCase.expectSummary {
				require.Error(testInstance, readError)
				return
			}
			require.NoError(testInstance, readError)
			require.Equal(testInstance, testCase.expectedContents, string(summaryContents))
		})
	}
}

func TestNewWriterValidatesDependencies(testInstance *testing.T) {
	_, outputError := report.NewWriter(nil, filesystem.OSFileSystem{}, nil, "", nil)
	require.ErrorIs(testInstance, outputError, report.ErrOutputNotConfigured)

	_, fileSystemError := report.NewWriter(&bytes.Buffer{}, nil, nil, "", nil)
	require.ErrorIs(testInstance, fileSystemError, report.ErrFileSystemNotConfigured)
}
