package execshell

import (
	"fmt"
	"strings"
)

const (
	genericStartTemplateConstant            = "Running %s"
	genericSuccessTemplateConstant          = "Completed %s"
	genericFailureTemplateConstant          = "%s failed with exit code %d%s"
	genericExecutionFailureTemplateConstant = "%s failed: %s"
	describedStartTemplateConstant          = "%s in %s"
	describedSuccessTemplateConstant        = "Finished %s in %s"
	describedFailureTemplateConstant        = "%s in %s failed with exit code %d%s"
	describedExecutionFailureTemplateConst  = "%s in %s could not run: %s"
	workingDirectorySuffixTemplateConstant  = " (in %s)"
	standardErrorSuffixTemplateConstant     = ": %s"
	unknownFailureMessageConstant           = "unknown error"
	defaultWorkingDirectoryLabelConstant    = "current directory"
	operationKeySeparatorConstant           = " "
	firstLineSeparatorConstant              = "\n"
)

// operationDescriptions maps "<program> <subcommand>" to a human readable activity.
var operationDescriptions = map[string]string{
	"git clone":     "Cloning repository",
	"git ls-remote": "Resolving remote default branch",
	"git rev-parse": "Verifying reference",
	"git checkout":  "Switching branch",
	"git status":    "Reviewing working tree status",
	"git add":       "Staging changes",
	"git commit":    "Committing changes",
	"git push":      "Pushing changes",
	"git diff":      "Comparing working tree",
	"gh pr":         "Managing GitHub pull request",
	"gh api":        "Calling GitHub API",
	"az repos":      "Managing Azure DevOps pull request",
}

// CommandMessageFormatter renders human readable log messages for command lifecycles.
type CommandMessageFormatter struct{}

// BuildStartedMessage describes a command that is about to run.
func (formatter CommandMessageFormatter) BuildStartedMessage(command ShellCommand) string {
	operationDescription, described := describeOperation(command)
	if !described {
		return fmt.Sprintf(genericStartTemplateConstant, formatCommandLabel(command))
	}
	return fmt.Sprintf(describedStartTemplateConstant, operationDescription, workingDirectoryLabel(command))
}

// BuildSuccessMessage describes a command that exited with code zero.
func (formatter CommandMessageFormatter) BuildSuccessMessage(command ShellCommand) string {
	operationDescription, described := describeOperation(command)
	if !described {
		return fmt.Sprintf(genericSuccessTemplateConstant, formatCommandLabel(command))
	}
	return fmt.Sprintf(describedSuccessTemplateConstant, strings.ToLower(operationDescription), workingDirectoryLabel(command))
}

// BuildFailureMessage describes a command that exited with a non-zero code.
func (formatter CommandMessageFormatter) BuildFailureMessage(command ShellCommand, result ExecutionResult) string {
	errorSuffix := formatStandardErrorSuffix(result.StandardError)
	operationDescription, described := describeOperation(command)
	if !described {
		return fmt.Sprintf(genericFailureTemplateConstant, formatCommandLabel(command), result.ExitCode, errorSuffix)
	}
	return fmt.Sprintf(describedFailureTemplateConstant, operationDescription, workingDirectoryLabel(command), result.ExitCode, errorSuffix)
}

// BuildExecutionFailureMessage describes a command that could not be started.
func (formatter CommandMessageFormatter) BuildExecutionFailureMessage(command ShellCommand, failure error) string {
	failureText := unknownFailureMessageConstant
	if failure != nil {
		failureText = failure.Error()
	}
	operationDescription, described := describeOperation(command)
	if !described {
		return fmt.Sprintf(genericExecutionFailureTemplateConstant, formatCommandLabel(command), failureText)
	}
	return fmt.Sprintf(describedExecutionFailureTemplateConst, operationDescription, workingDirectoryLabel(command), failureText)
}

func describeOperation(command ShellCommand) (string, bool) {
	operationKey, found := command.OperationKey()
	if !found {
		return "", false
	}
	operationDescription, known := operationDescriptions[operationKey]
	return operationDescription, known
}

// OperationKey returns "<program> <subcommand>" for the command, skipping leading
// VAR=value assignments.
func (command ShellCommand) OperationKey() (string, bool) {
	commandTokens := strings.Fields(describeCommand(command))
	for len(commandTokens) > 0 && strings.Contains(commandTokens[0], environmentAssignmentSeparatorConstant) {
		commandTokens = commandTokens[1:]
	}
	if len(commandTokens) < 2 {
		return "", false
	}
	return commandTokens[0] + operationKeySeparatorConstant + commandTokens[1], true
}

func formatCommandLabel(command ShellCommand) string {
	label := describeCommand(command)
	if len(command.Details.WorkingDirectory) == 0 {
		return label
	}
	return label + fmt.Sprintf(workingDirectorySuffixTemplateConstant, command.Details.WorkingDirectory)
}

func workingDirectoryLabel(command ShellCommand) string {
	if len(strings.TrimSpace(command.Details.WorkingDirectory)) == 0 {
		return defaultWorkingDirectoryLabelConstant
	}
	return command.Details.WorkingDirectory
}

func formatStandardErrorSuffix(standardError string) string {
	trimmedError := strings.TrimSpace(standardError)
	if len(trimmedError) == 0 {
		return ""
	}
	firstLine, _, _ := strings.Cut(trimmedError, firstLineSeparatorConstant)
	return fmt.Sprintf(standardErrorSuffixTemplateConstant, firstLine)
}
