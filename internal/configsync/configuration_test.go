package configsync_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/temirov/cfgsync/internal/configsync"
)

func TestCommandConfigurationSanitize(testInstance *testing.T) {
	defaults := configsync.DefaultCommandConfiguration()

	testCases := []struct {
		name     string
		input    configsync.CommandConfiguration
		expected configsync.CommandConfiguration
	}{
		{
			name:     "zero_value_takes_defaults",
			input:    configsync.CommandConfiguration{},
			expected: configsync.CommandConfiguration{Workers: defaults.Workers, GitHubTransport: configsync.GitHubTransportCLI, RetryMaximumDelay: defaults.RetryMaximumDelay},
		},
		{
			name: "values_are_trimmed_and_normalized",
			input: configsync.CommandConfiguration{
				Definition:                 "  sync.yaml ",
				WorkDirectory:              " ~/work ",
				Branch:                     " chore/x ",
				GitHubTransport:            " API ",
				Retries:                    -2,
				Workers:                    8,
				RetryInitialDelay:          2 * time.Second,
				RetryMaximumDelay:          time.Minute,
				SummaryEnvironmentVariable: " STEP_SUMMARY ",
			},
			expected: configsync.CommandConfiguration{
				Definition:                 "sync.yaml",
				WorkDirectory:              "~/work",
				Branch:                     "chore/x",
				GitHubTransport:            configsync.GitHubTransportAPI,
				Retries:                    0,
				Workers:                    8,
				RetryInitialDelay:          2 * time.Second,
				RetryMaximumDelay:          time.Minute,
				SummaryEnvironmentVariable: "STEP_SUMMARY",
			},
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			require.Equal(testInstance, testCase.expected, testCase.input.Sanitize())
		})
	}
}

func TestDefaultConfigurationValuesUseRootKey(testInstance *testing.T) {
	values := configsync.DefaultConfigurationValues("tools.sync")

	require.Equal(testInstance, 3, values["tools.sync.retries"])
	require.Equal(testInstance, 4, values["tools.sync.workers"])
	require.Equal(testInstance, "cli", values["tools.sync.github_transport"])
	require.Equal(testInstance, "GITHUB_STEP_SUMMARY", values["tools.sync.summary_environment_variable"])
	require.Equal(testInstance, time.Second, values["tools.sync.retry_initial_delay"])
	require.Contains(testInstance, values, "tools.sync.definition")
}
