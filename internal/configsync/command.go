package configsync

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/temirov/cfgsync/internal/azuredevops"
	"github.com/temirov/cfgsync/internal/diff"
	"github.com/temirov/cfgsync/internal/execshell"
	"github.com/temirov/cfgsync/internal/filesystem"
	"github.com/temirov/cfgsync/internal/githubapi"
	"github.com/temirov/cfgsync/internal/githubauth"
	"github.com/temirov/cfgsync/internal/githubcli"
	"github.com/temirov/cfgsync/internal/gitrepo"
	"github.com/temirov/cfgsync/internal/manifest"
	"github.com/temirov/cfgsync/internal/publish"
	"github.com/temirov/cfgsync/internal/render"
	"github.com/temirov/cfgsync/internal/report"
	"github.com/temirov/cfgsync/internal/retry"
	"github.com/temirov/cfgsync/internal/syncconfig"
	"github.com/temirov/cfgsync/internal/ui"
	"github.com/temirov/cfgsync/internal/utils/flags"
	pathutils "github.com/temirov/cfgsync/internal/utils/path"
)

const (
	commandUseConstant                   = "sync [definition]"
	commandShortDescriptionConstant      = "Synchronize managed configuration files across repositories"
	commandLongDescriptionConstant       = "sync clones every repository named in a sync definition, writes the declared files, removes orphaned managed files and opens a pull request per repository."
	definitionFlagNameConstant           = "definition"
	definitionFlagUsageConstant          = "Path to the sync definition (YAML or JSON)"
	workDirectoryFlagNameConstant        = "work-dir"
	workDirectoryFlagUsageConstant       = "Directory holding the per-repository clones"
	branchFlagNameConstant               = "branch"
	branchFlagUsageConstant              = "Sync branch name, overriding the definition"
	gitHubTransportFlagNameConstant      = "github-transport"
	gitHubTransportFlagUsageConstant     = "GitHub transport: the gh CLI or the REST API with GH_TOKEN"
	defaultWorkDirectoryNameConstant     = "cfgsync"
	definitionRequiredMessageConstant    = "sync definition path required; provide a positional argument or --definition flag"
	unknownTransportTemplateConstant     = "unknown GitHub transport %q; expected cli or api"
	loadDefinitionErrorTemplateConstant  = "unable to load sync definition: %w"
	executorErrorTemplateConstant        = "unable to construct shell executor: %w"
	transportErrorTemplateConstant       = "unable to construct %s transport: %w"
	publisherErrorTemplateConstant       = "unable to construct publisher: %w"
	workingDirectoryErrorTemplate        = "unable to determine working directory: %w"
	changeDescriptionTemplateConstant    = "%s (%s)"
	resultWarningTemplateConstant        = "%s (warning: %s)"
	gitHubTransportNameConstant          = "GitHub"
	azureDevOpsTransportNameConstant     = "Azure DevOps"
	logMessageDefinitionLoaded           = "Loaded sync definition"
	logFieldDefinitionConstant           = "definition"
	logFieldWorkDirectoryConstant        = "work_dir"
	logFieldGitHubTransportConstant      = "github_transport"
	logFieldRepositoriesCountConstant    = "repositories"
	logFieldDefinitionIdentifierConstant = "configuration_id"
)

// LoggerProvider yields a zap logger for command execution.
type LoggerProvider func() *zap.Logger

// CommandBuilder assembles the sync command.
type CommandBuilder struct {
	LoggerProvider               LoggerProvider
	ConsoleLoggerProvider        LoggerProvider
	HumanReadableLoggingProvider func() bool
	ConfigurationProvider        func() CommandConfiguration
	Executor                     gitrepo.ShellCommandExecutor
	FileSystem                   filesystem.FileSystem
	GitHubTransport              publish.HostTransport
	AzureDevOpsTransport         publish.HostTransport
	EnvironmentLookup            func(name string) (string, bool)
	WorkingDirectory             string
}

// Build constructs the sync command.
func (builder *CommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   commandUseConstant,
		Short: commandShortDescriptionConstant,
		Long:  commandLongDescriptionConstant,
		Args:  cobra.MaximumNArgs(1),
		RunE:  builder.run,
	}

	defaults := DefaultCommandConfiguration()
	command.Flags().String(definitionFlagNameConstant, defaults.Definition, definitionFlagUsageConstant)
	command.Flags().String(workDirectoryFlagNameConstant, defaults.WorkDirectory, workDirectoryFlagUsageConstant)
	command.Flags().String(branchFlagNameConstant, defaults.Branch, branchFlagUsageConstant)
	command.Flags().String(gitHubTransportFlagNameConstant, string(defaults.GitHubTransport), flags.FormatChoiceUsage(string(defaults.GitHubTransport), []string{string(GitHubTransportCLI), string(GitHubTransportAPI)}, gitHubTransportFlagUsageConstant))
	flags.BindExecutionFlags(command, flags.ExecutionDefaults{DryRun: defaults.DryRun, Retries: defaults.Retries, Workers: defaults.Workers})

	return command, nil
}

func (builder *CommandBuilder) run(command *cobra.Command, arguments []string) error {
	commandConfiguration := builder.resolveCommandConfiguration(command, arguments)
	if len(commandConfiguration.Definition) == 0 {
		if helpError := command.Help(); helpError != nil {
			return helpError
		}
		return errors.New(definitionRequiredMessageConstant)
	}
	if commandConfiguration.GitHubTransport != GitHubTransportCLI && commandConfiguration.GitHubTransport != GitHubTransportAPI {
		return fmt.Errorf(unknownTransportTemplateConstant, commandConfiguration.GitHubTransport)
	}

	workingDirectory, workingDirectoryError := builder.resolveWorkingDirectory()
	if workingDirectoryError != nil {
		return workingDirectoryError
	}
	homeExpander := pathutils.NewHomeExpander()
	definitionPath := homeExpander.Resolve(commandConfiguration.Definition, workingDirectory)
	workDirectory := commandConfiguration.WorkDirectory
	if len(workDirectory) == 0 {
		workDirectory = filepath.Join(os.TempDir(), defaultWorkDirectoryNameConstant)
	}
	workDirectory = homeExpander.Resolve(workDirectory, workingDirectory)

	logger := resolveLogger(builder.LoggerProvider)
	fileSystem := builder.FileSystem
	if fileSystem == nil {
		fileSystem = filesystem.OSFileSystem{}
	}

	definitionLoader, loaderError := syncconfig.NewLoader(fileSystem, logger)
	if loaderError != nil {
		return loaderError
	}
	configuration, loadError := definitionLoader.Load(definitionPath)
	if loadError != nil {
		return fmt.Errorf(loadDefinitionErrorTemplateConstant, loadError)
	}
	logger.Info(logMessageDefinitionLoaded,
		zap.String(logFieldDefinitionConstant, definitionPath),
		zap.String(logFieldDefinitionIdentifierConstant, configuration.ID),
		zap.Int(logFieldRepositoriesCountConstant, len(configuration.Repositories)),
		zap.String(logFieldWorkDirectoryConstant, workDirectory),
		zap.String(logFieldGitHubTransportConstant, string(commandConfiguration.GitHubTransport)),
	)

	executor, executorError := builder.resolveExecutor(logger)
	if executorError != nil {
		return executorError
	}

	retryPolicy := retry.DefaultPolicy()
	retryPolicy.InitialDelay = commandConfiguration.RetryInitialDelay
	retryPolicy.MaximumDelay = commandConfiguration.RetryMaximumDelay
	retryPolicy = retryPolicy.WithRetries(commandConfiguration.Retries)

	transports, transportsError := builder.resolveTransports(commandConfiguration, executor)
	if transportsError != nil {
		return transportsError
	}
	publisher, publisherError := publish.NewPublisher(transports, executor, retryPolicy, logger)
	if publisherError != nil {
		return fmt.Errorf(publisherErrorTemplateConstant, publisherError)
	}
	manifestStore, storeError := manifest.NewStore(fileSystem, logger)
	if storeError != nil {
		return storeError
	}

	driverFactory := func(workspace string) (RepositoryDriver, error) {
		return gitrepo.NewDriver(workspace, executor, fileSystem, retryPolicy, logger)
	}
	serviceFactory := func(loaded syncconfig.Configuration, options ServiceOptions) (*Service, error) {
		renderer, rendererError := render.NewRenderer(fileSystem, loaded.BaseDirectory)
		if rendererError != nil {
			return nil, rendererError
		}
		return NewService(loaded, options, driverFactory, manifestStore, renderer, publisher, logger)
	}

	runner, runnerError := NewRunner(fileSystem, serviceFactory, logger)
	if runnerError != nil {
		return runnerError
	}
	summary, runError := runner.Run(command.Context(), configuration, RunOptions{
		WorkDirectory:  workDirectory,
		DryRun:         commandConfiguration.DryRun,
		Retries:        commandConfiguration.Retries,
		Workers:        commandConfiguration.Workers,
		BranchOverride: commandConfiguration.Branch,
	})
	if runError != nil {
		return runError
	}

	summaryWriter, writerError := report.NewWriter(command.OutOrStdout(), fileSystem, builder.EnvironmentLookup, commandConfiguration.SummaryEnvironmentVariable, logger)
	if writerError != nil {
		return writerError
	}
	if writeError := summaryWriter.Write(ReportRows(summary)); writeError != nil {
		return writeError
	}

	if summary.AnyFailed() {
		return ErrRepositoriesFailed
	}
	return nil
}

func (builder *CommandBuilder) resolveConfiguration() CommandConfiguration {
	if builder.ConfigurationProvider == nil {
		return DefaultCommandConfiguration()
	}

	provided := builder.ConfigurationProvider()
	return provided.Sanitize()
}

func (builder *CommandBuilder) resolveCommandConfiguration(command *cobra.Command, arguments []string) CommandConfiguration {
	resolved := builder.resolveConfiguration()

	resolved.Definition = flags.ResolveString(command, definitionFlagNameConstant, resolved.Definition)
	if len(arguments) > 0 && len(strings.TrimSpace(arguments[0])) > 0 {
		resolved.Definition = strings.TrimSpace(arguments[0])
	}
	resolved.WorkDirectory = flags.ResolveString(command, workDirectoryFlagNameConstant, resolved.WorkDirectory)
	resolved.Branch = flags.ResolveString(command, branchFlagNameConstant, resolved.Branch)
	resolved.GitHubTransport = GitHubTransport(flags.ResolveString(command, gitHubTransportFlagNameConstant, string(resolved.GitHubTransport)))

	executionValues := flags.ResolveExecutionValues(command, flags.ExecutionValues{
		DryRun:  resolved.DryRun,
		Retries: resolved.Retries,
		Workers: resolved.Workers,
	})
	resolved.DryRun = executionValues.DryRun
	resolved.Retries = executionValues.Retries
	resolved.Workers = executionValues.Workers

	return resolved.Sanitize()
}

func (builder *CommandBuilder) resolveWorkingDirectory() (string, error) {
	if len(strings.TrimSpace(builder.WorkingDirectory)) > 0 {
		return builder.WorkingDirectory, nil
	}
	workingDirectory, workingDirectoryError := os.Getwd()
	if workingDirectoryError != nil {
		return "", fmt.Errorf(workingDirectoryErrorTemplate, workingDirectoryError)
	}
	return workingDirectory, nil
}

func (builder *CommandBuilder) resolveExecutor(logger *zap.Logger) (gitrepo.ShellCommandExecutor, error) {
	if builder.Executor != nil {
		return builder.Executor, nil
	}
	shellExecutor, executorError := execshell.NewShellExecutor(logger, execshell.NewOSCommandRunner())
	if executorError != nil {
		return nil, fmt.Errorf(executorErrorTemplateConstant, executorError)
	}
	if builder.HumanReadableLoggingProvider != nil && builder.HumanReadableLoggingProvider() {
		consoleLogger := resolveLogger(builder.ConsoleLoggerProvider)
		shellExecutor = shellExecutor.WithCommandEventObserver(ui.NewConsoleCommandEventLogger(consoleLogger))
	}
	return shellExecutor, nil
}

func (builder *CommandBuilder) resolveTransports(configuration CommandConfiguration, executor gitrepo.ShellCommandExecutor) (publish.Transports, error) {
	transports := publish.Transports{GitHub: builder.GitHubTransport, AzureDevOps: builder.AzureDevOpsTransport}

	if transports.GitHub == nil {
		switch configuration.GitHubTransport {
		case GitHubTransportAPI:
			tokenSource, tokenError := githubauth.NewTokenSource(nil, builder.EnvironmentLookup)
			if tokenError != nil {
				return publish.Transports{}, fmt.Errorf(transportErrorTemplateConstant, gitHubTransportNameConstant, tokenError)
			}
			apiClient, clientError := githubapi.NewClient(tokenSource, configuration.GitHubAPIURL)
			if clientError != nil {
				return publish.Transports{}, fmt.Errorf(transportErrorTemplateConstant, gitHubTransportNameConstant, clientError)
			}
			transports.GitHub = apiClient
		default:
			cliClient, clientError := githubcli.NewClient(executor)
			if clientError != nil {
				return publish.Transports{}, fmt.Errorf(transportErrorTemplateConstant, gitHubTransportNameConstant, clientError)
			}
			transports.GitHub = cliClient
		}
	}

	if transports.AzureDevOps == nil {
		azureClient, clientError := azuredevops.NewClient(executor)
		if clientError != nil {
			return publish.Transports{}, fmt.Errorf(transportErrorTemplateConstant, azureDevOpsTransportNameConstant, clientError)
		}
		transports.AzureDevOps = azureClient
	}
	return transports, nil
}

// ReportRows converts run outcomes into summary table rows. Skipped file
// actions are omitted from the change list.
func ReportRows(summary Summary) []report.Row {
	rows := make([]report.Row, 0, len(summary.Outcomes))
	for _, outcome := range summary.Outcomes {
		changes := make([]string, 0, len(outcome.FileChanges))
		for _, fileChange := range outcome.FileChanges {
			if fileChange.Action == diff.ActionSkip {
				continue
			}
			changes = append(changes, fmt.Sprintf(changeDescriptionTemplateConstant, fileChange.FileName, fileChange.Action))
		}
		result := outcome.RequestURL
		if len(result) == 0 {
			result = outcome.Message
		}
		if len(outcome.Warning) > 0 && len(outcome.RequestURL) > 0 {
			result = fmt.Sprintf(resultWarningTemplateConstant, result, outcome.Warning)
		}
		rows = append(rows, report.Row{
			Repository: outcome.RepositoryName,
			Status:     string(outcome.Status),
			Changes:    changes,
			Result:     result,
		})
	}
	return rows
}

func resolveLogger(provider LoggerProvider) *zap.Logger {
	if provider == nil {
		return zap.NewNop()
	}
	logger := provider()
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
