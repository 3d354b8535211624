package execshell

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"sort"
	"time"
)

const (
	environmentAssignmentSeparatorConstant = "="
	processWaitDelayConstant               = 5 * time.Second
)

// OSCommandRunner starts real processes. A cancelled context kills the process and
// stops waiting on its output streams after a short grace period.
type OSCommandRunner struct {
	waitDelay time.Duration
}

// NewOSCommandRunner constructs a runner backed by os/exec.
func NewOSCommandRunner() *OSCommandRunner {
	return &OSCommandRunner{waitDelay: processWaitDelayConstant}
}

// Run executes command and reports a non-zero exit through ExecutionResult.ExitCode.
// The error is reserved for processes that could not be started or awaited.
func (runner *OSCommandRunner) Run(executionContext context.Context, command ShellCommand) (ExecutionResult, error) {
	process := exec.CommandContext(executionContext, string(command.Name), command.Details.Arguments...)
	process.Dir = command.Details.WorkingDirectory
	process.WaitDelay = runner.waitDelay
	if len(command.Details.EnvironmentVariables) > 0 {
		process.Env = mergeEnvironment(os.Environ(), command.Details.EnvironmentVariables)
	}
	if len(command.Details.StandardInput) > 0 {
		process.Stdin = bytes.NewReader(command.Details.StandardInput)
	}

	var standardOutput, standardError bytes.Buffer
	process.Stdout = &standardOutput
	process.Stderr = &standardError

	result := ExecutionResult{}
	if runError := process.Run(); runError != nil {
		var exitError *exec.ExitError
		if !errors.As(runError, &exitError) {
			return ExecutionResult{}, runError
		}
		result.ExitCode = exitError.ExitCode()
	}
	result.StandardOutput = standardOutput.String()
	result.StandardError = standardError.String()
	return result, nil
}

// mergeEnvironment appends overrides in key order so the child sees a deterministic environment.
func mergeEnvironment(base []string, overrides map[string]string) []string {
	overrideKeys := make([]string, 0, len(overrides))
	for overrideKey := range overrides {
		overrideKeys = append(overrideKeys, overrideKey)
	}
	sort.Strings(overrideKeys)

	merged := make([]string, 0, len(base)+len(overrideKeys))
	merged = append(merged, base...)
	for _, overrideKey := range overrideKeys {
		merged = append(merged, overrideKey+environmentAssignmentSeparatorConstant+overrides[overrideKey])
	}
	return merged
}
