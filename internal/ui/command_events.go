package ui

import (
	"go.uber.org/zap"

	"github.com/temirov/cfgsync/internal/execshell"
)

// remoteOperations are the invocations that talk to a hosting service and are worth showing on the console.
var remoteOperations = map[string]struct{}{
	"git clone":     {},
	"git ls-remote": {},
	"git push":      {},
	"gh pr":         {},
	"az repos":      {},
}

// ConsoleCommandEventLogger renders command lifecycle events for a human reading the console.
// Remote operations are reported at info level; local git bookkeeping stays at debug.
type ConsoleCommandEventLogger struct {
	logger    *zap.Logger
	formatter execshell.CommandMessageFormatter
}

// NewConsoleCommandEventLogger constructs a console event logger backed by the provided zap logger.
func NewConsoleCommandEventLogger(logger *zap.Logger) *ConsoleCommandEventLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsoleCommandEventLogger{logger: logger, formatter: execshell.CommandMessageFormatter{}}
}

// CommandStarted implements execshell.CommandEventObserver.
func (eventLogger *ConsoleCommandEventLogger) CommandStarted(command execshell.ShellCommand) {
	if eventLogger == nil {
		return
	}
	message := eventLogger.formatter.BuildStartedMessage(command)
	if IsRemoteOperation(command) {
		eventLogger.logger.Info(message)
		return
	}
	eventLogger.logger.Debug(message)
}

// CommandCompleted implements execshell.CommandEventObserver.
func (eventLogger *ConsoleCommandEventLogger) CommandCompleted(command execshell.ShellCommand, result execshell.ExecutionResult) {
	if eventLogger == nil {
		return
	}
	if result.ExitCode != 0 {
		eventLogger.logger.Warn(eventLogger.formatter.BuildFailureMessage(command, result))
		return
	}
	eventLogger.logger.Debug(eventLogger.formatter.BuildSuccessMessage(command))
}

// CommandExecutionFailed implements execshell.CommandEventObserver.
func (eventLogger *ConsoleCommandEventLogger) CommandExecutionFailed(command execshell.ShellCommand, failure error) {
	if eventLogger == nil {
		return
	}
	eventLogger.logger.Error(eventLogger.formatter.BuildExecutionFailureMessage(command, failure))
}

// IsRemoteOperation reports whether command contacts a remote.
func IsRemoteOperation(command execshell.ShellCommand) bool {
	operationKey, found := command.OperationKey()
	if !found {
		return false
	}
	_, remote := remoteOperations[operationKey]
	return remote
}
