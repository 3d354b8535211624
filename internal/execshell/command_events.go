package execshell

// CommandEventObserver is told about every git, gh, az or sh invocation so
// console output can narrate clone, push and request calls as they happen.
type CommandEventObserver interface {
	CommandStarted(command ShellCommand)
	CommandCompleted(command ShellCommand, result ExecutionResult)
	// CommandExecutionFailed fires when the process could not be started or
	// awaited; a non-zero exit still arrives through CommandCompleted.
	CommandExecutionFailed(command ShellCommand, failure error)
}

type discardingObserver struct{}

func (discardingObserver) CommandStarted(ShellCommand) {}

func (discardingObserver) CommandCompleted(ShellCommand, ExecutionResult) {}

func (discardingObserver) CommandExecutionFailed(ShellCommand, error) {}
