package execshell

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const (
	loggerNotConfiguredMessageConstant        = "shell executor logger not configured"
	commandRunnerNotConfiguredMessageConstant = "shell executor command runner not configured"
	commandFailedErrorTemplateConstant        = "%s failed with exit code %d"
	commandFailedOutputSuffixTemplateConstant = ": %s"
	commandExecutionErrorTemplateConstant     = "%s failed: %v"
	shellInlineFlagConstant                   = "-c"
	combinedOutputSeparatorConstant           = "\n"
	logFieldCommandConstant                   = "command"
	logFieldWorkingDirectoryConstant          = "working_directory"
	logFieldExitCodeConstant                  = "exit_code"
)

// CommandName identifies an executable supported by the shell executor.
type CommandName string

// Supported executables.
const (
	CommandGit    CommandName = CommandName("git")
	CommandGitHub CommandName = CommandName("gh")
	CommandAzure  CommandName = CommandName("az")
	CommandShell  CommandName = CommandName("sh")
)

// CommandDetails describes arguments and environment for a single invocation.
type CommandDetails struct {
	Arguments            []string
	WorkingDirectory     string
	EnvironmentVariables map[string]string
	StandardInput        []byte
}

// ShellCommand couples an executable with its invocation details.
type ShellCommand struct {
	Name    CommandName
	Details CommandDetails
}

// ExecutionResult captures the observable output of a finished process.
type ExecutionResult struct {
	StandardOutput string
	StandardError  string
	ExitCode       int
}

// CombinedOutput joins standard output and standard error, omitting empty streams.
func (result ExecutionResult) CombinedOutput() string {
	outputParts := make([]string, 0, 2)
	if trimmedOutput := strings.TrimSpace(result.StandardOutput); len(trimmedOutput) > 0 {
		outputParts = append(outputParts, trimmedOutput)
	}
	if trimmedError := strings.TrimSpace(result.StandardError); len(trimmedError) > 0 {
		outputParts = append(outputParts, trimmedError)
	}
	return strings.Join(outputParts, combinedOutputSeparatorConstant)
}

// CommandRunner executes shell commands and reports their results.
type CommandRunner interface {
	Run(executionContext context.Context, command ShellCommand) (ExecutionResult, error)
}

var (
	// ErrLoggerNotConfigured indicates a nil logger was supplied.
	ErrLoggerNotConfigured = errors.New(loggerNotConfiguredMessageConstant)
	// ErrCommandRunnerNotConfigured indicates a nil runner was supplied.
	ErrCommandRunnerNotConfigured = errors.New(commandRunnerNotConfiguredMessageConstant)
)

// CommandFailedError reports a process that exited with a non-zero code.
type CommandFailedError struct {
	Command ShellCommand
	Result  ExecutionResult
}

// Error includes the captured output so callers can surface it verbatim.
func (failure CommandFailedError) Error() string {
	message := fmt.Sprintf(commandFailedErrorTemplateConstant, describeCommand(failure.Command), failure.Result.ExitCode)
	combinedOutput := failure.Result.CombinedOutput()
	if len(combinedOutput) == 0 {
		return message
	}
	return message + fmt.Sprintf(commandFailedOutputSuffixTemplateConstant, combinedOutput)
}

// CommandExecutionError reports a process that could not be started or awaited.
type CommandExecutionError struct {
	Command ShellCommand
	Cause   error
}

// Error describes the execution failure.
func (failure CommandExecutionError) Error() string {
	return fmt.Sprintf(commandExecutionErrorTemplateConstant, describeCommand(failure.Command), failure.Cause)
}

// Unwrap exposes the underlying cause.
func (failure CommandExecutionError) Unwrap() error {
	return failure.Cause
}

// ShellExecutor runs external tools through a CommandRunner, logging each invocation.
type ShellExecutor struct {
	logger    *zap.Logger
	runner    CommandRunner
	observer  CommandEventObserver
	formatter CommandMessageFormatter
}

// NewShellExecutor validates dependencies and constructs a ShellExecutor.
func NewShellExecutor(logger *zap.Logger, runner CommandRunner) (*ShellExecutor, error) {
	if logger == nil {
		return nil, ErrLoggerNotConfigured
	}
	if runner == nil {
		return nil, ErrCommandRunnerNotConfigured
	}
	return &ShellExecutor{
		logger:    logger,
		runner:    runner,
		observer:  discardingObserver{},
		formatter: CommandMessageFormatter{},
	}, nil
}

// WithCommandEventObserver returns a copy of the executor that notifies the observer about command lifecycles.
func (executor *ShellExecutor) WithCommandEventObserver(observer CommandEventObserver) *ShellExecutor {
	duplicated := *executor
	if observer == nil {
		observer = discardingObserver{}
	}
	duplicated.observer = observer
	return &duplicated
}

// Execute runs the command and converts non-zero exits into CommandFailedError.
func (executor *ShellExecutor) Execute(executionContext context.Context, command ShellCommand) (ExecutionResult, error) {
	executor.observer.CommandStarted(command)
	executor.logger.Debug(
		executor.formatter.BuildStartedMessage(command),
		zap.String(logFieldCommandConstant, describeCommand(command)),
		zap.String(logFieldWorkingDirectoryConstant, command.Details.WorkingDirectory),
	)

	executionResult, runError := executor.runner.Run(executionContext, command)
	if runError != nil {
		executor.observer.CommandExecutionFailed(command, runError)
		executor.logger.Warn(executor.formatter.BuildExecutionFailureMessage(command, runError), zap.Error(runError))
		return ExecutionResult{}, CommandExecutionError{Command: command, Cause: runError}
	}

	executor.observer.CommandCompleted(command, executionResult)
	if executionResult.ExitCode != 0 {
		executor.logger.Debug(
			executor.formatter.BuildFailureMessage(command, executionResult),
			zap.Int(logFieldExitCodeConstant, executionResult.ExitCode),
		)
		return ExecutionResult{}, CommandFailedError{Command: command, Result: executionResult}
	}

	executor.logger.Debug(executor.formatter.BuildSuccessMessage(command))
	return executionResult, nil
}

// ExecuteShell runs a composed command line through sh -c inside workingDirectory and returns standard output.
// Every dynamic value inside commandLine must already be escaped with EscapeShellArgument.
func (executor *ShellExecutor) ExecuteShell(executionContext context.Context, commandLine string, workingDirectory string) (string, error) {
	executionResult, executionError := executor.Execute(executionContext, ShellCommand{
		Name: CommandShell,
		Details: CommandDetails{
			Arguments:        []string{shellInlineFlagConstant, commandLine},
			WorkingDirectory: workingDirectory,
		},
	})
	if executionError != nil {
		return "", executionError
	}
	return executionResult.StandardOutput, nil
}

func describeCommand(command ShellCommand) string {
	if command.Name == CommandShell && len(command.Details.Arguments) == 2 && command.Details.Arguments[0] == shellInlineFlagConstant {
		return command.Details.Arguments[1]
	}
	commandParts := []string{string(command.Name)}
	commandParts = append(commandParts, command.Details.Arguments...)
	return strings.Join(commandParts, " ")
}
