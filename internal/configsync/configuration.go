package configsync

import (
	"strings"
	"time"

	"github.com/temirov/cfgsync/internal/report"
)

const (
	configurationDefinitionKeyConstant        = "definition"
	configurationWorkDirectoryKeyConstant     = "work_dir"
	configurationDryRunKeyConstant            = "dry_run"
	configurationRetriesKeyConstant           = "retries"
	configurationWorkersKeyConstant           = "workers"
	configurationBranchKeyConstant            = "branch"
	configurationGitHubTransportKeyConstant   = "github_transport"
	configurationGitHubAPIURLKeyConstant      = "github_api_url"
	configurationRetryInitialDelayKeyConstant = "retry_initial_delay"
	configurationRetryMaximumDelayKeyConstant = "retry_max_delay"
	configurationSummaryVariableKeyConstant   = "summary_environment_variable"
	configurationKeySeparatorConstant         = "."

	defaultRetriesConstant           = 3
	defaultWorkersConstant           = 4
	defaultRetryInitialDelayConstant = time.Second
	defaultRetryMaximumDelayConstant = 30 * time.Second
)

// GitHubTransport selects how GitHub pull requests are managed.
type GitHubTransport string

// Supported GitHub transports.
const (
	GitHubTransportCLI GitHubTransport = GitHubTransport("cli")
	GitHubTransportAPI GitHubTransport = GitHubTransport("api")
)

// CommandConfiguration captures persistent settings for the sync command.
type CommandConfiguration struct {
	Definition                 string          `mapstructure:"definition"`
	WorkDirectory              string          `mapstructure:"work_dir"`
	DryRun                     bool            `mapstructure:"dry_run"`
	Retries                    int             `mapstructure:"retries"`
	Workers                    int             `mapstructure:"workers"`
	Branch                     string          `mapstructure:"branch"`
	GitHubTransport            GitHubTransport `mapstructure:"github_transport"`
	GitHubAPIURL               string          `mapstructure:"github_api_url"`
	RetryInitialDelay          time.Duration   `mapstructure:"retry_initial_delay"`
	RetryMaximumDelay          time.Duration   `mapstructure:"retry_max_delay"`
	SummaryEnvironmentVariable string          `mapstructure:"summary_environment_variable"`
}

// DefaultCommandConfiguration returns baseline configuration values for the sync command.
// An empty WorkDirectory means a cfgsync directory under the system temporary directory.
func DefaultCommandConfiguration() CommandConfiguration {
	return CommandConfiguration{
		Retries:                    defaultRetriesConstant,
		Workers:                    defaultWorkersConstant,
		GitHubTransport:            GitHubTransportCLI,
		RetryInitialDelay:          defaultRetryInitialDelayConstant,
		RetryMaximumDelay:          defaultRetryMaximumDelayConstant,
		SummaryEnvironmentVariable: report.DefaultSummaryEnvironmentVariable,
	}
}

// DefaultConfigurationValues exposes the defaults under rootKey for the configuration loader.
func DefaultConfigurationValues(rootKey string) map[string]any {
	defaults := DefaultCommandConfiguration()
	prefix := rootKey + configurationKeySeparatorConstant
	return map[string]any{
		prefix + configurationDefinitionKeyConstant:        defaults.Definition,
		prefix + configurationWorkDirectoryKeyConstant:     defaults.WorkDirectory,
		prefix + configurationDryRunKeyConstant:            defaults.DryRun,
		prefix + configurationRetriesKeyConstant:           defaults.Retries,
		prefix + configurationWorkersKeyConstant:           defaults.Workers,
		prefix + configurationBranchKeyConstant:            defaults.Branch,
		prefix + configurationGitHubTransportKeyConstant:   string(defaults.GitHubTransport),
		prefix + configurationGitHubAPIURLKeyConstant:      defaults.GitHubAPIURL,
		prefix + configurationRetryInitialDelayKeyConstant: defaults.RetryInitialDelay,
		prefix + configurationRetryMaximumDelayKeyConstant: defaults.RetryMaximumDelay,
		prefix + configurationSummaryVariableKeyConstant:   defaults.SummaryEnvironmentVariable,
	}
}

// Sanitize trims whitespace and applies defaults to unset or invalid values.
func (configuration CommandConfiguration) Sanitize() CommandConfiguration {
	defaults := DefaultCommandConfiguration()
	sanitized := configuration

	sanitized.Definition = strings.TrimSpace(configuration.Definition)
	sanitized.WorkDirectory = strings.TrimSpace(configuration.WorkDirectory)
	sanitized.Branch = strings.TrimSpace(configuration.Branch)
	sanitized.GitHubAPIURL = strings.TrimSpace(configuration.GitHubAPIURL)
	sanitized.SummaryEnvironmentVariable = strings.TrimSpace(configuration.SummaryEnvironmentVariable)
	sanitized.GitHubTransport = GitHubTransport(strings.ToLower(strings.TrimSpace(string(configuration.GitHubTransport))))
	if len(sanitized.GitHubTransport) == 0 {
		sanitized.GitHubTransport = defaults.GitHubTransport
	}
	if sanitized.Retries < 0 {
		sanitized.Retries = 0
	}
	if sanitized.Workers < 1 {
		sanitized.Workers = defaults.Workers
	}
	if sanitized.RetryInitialDelay < 0 {
		sanitized.RetryInitialDelay = defaults.RetryInitialDelay
	}
	if sanitized.RetryMaximumDelay <= 0 {
		sanitized.RetryMaximumDelay = defaults.RetryMaximumDelay
	}
	return sanitized
}
