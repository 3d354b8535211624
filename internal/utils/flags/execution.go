// Package flags binds the execution flags shared by sync commands and resolves
// them against configured values.
package flags

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	// DryRunFlagName exposes the shared dry-run flag name.
	DryRunFlagName = "dry-run"
	// DryRunFlagUsage describes the shared dry-run flag purpose.
	DryRunFlagUsage = "Plan and preview changes without pushing or opening requests"
	// RetriesFlagName exposes the shared retries flag name.
	RetriesFlagName = "retries"
	// RetriesFlagUsage describes the shared retries flag purpose.
	RetriesFlagUsage = "Retries for network operations such as clone, push and request calls"
	// WorkersFlagName exposes the shared workers flag name.
	WorkersFlagName = "workers"
	// WorkersFlagUsage describes the shared workers flag purpose.
	WorkersFlagUsage = "Number of repositories processed in parallel"
)

// ExecutionDefaults describes default flag values shared across commands.
type ExecutionDefaults struct {
	DryRun  bool
	Retries int
	Workers int
}

// ExecutionValues are the effective execution settings after flags override configuration.
type ExecutionValues struct {
	DryRun  bool
	Retries int
	Workers int
}

// BindExecutionFlags attaches the dry-run, retries and workers flags to command.
func BindExecutionFlags(command *cobra.Command, defaults ExecutionDefaults) {
	if command == nil {
		return
	}
	flagSet := command.Flags()
	flagSet.Bool(DryRunFlagName, defaults.DryRun, DryRunFlagUsage)
	flagSet.Int(RetriesFlagName, defaults.Retries, RetriesFlagUsage)
	flagSet.Int(WorkersFlagName, defaults.Workers, WorkersFlagUsage)
}

// ResolveExecutionValues applies changed flags over configured values.
func ResolveExecutionValues(command *cobra.Command, configured ExecutionValues) ExecutionValues {
	return ExecutionValues{
		DryRun:  ResolveBool(command, DryRunFlagName, configured.DryRun),
		Retries: ResolveInt(command, RetriesFlagName, configured.Retries),
		Workers: ResolveInt(command, WorkersFlagName, configured.Workers),
	}
}

// ResolveBool returns the flag value when the user changed it, otherwise configured.
func ResolveBool(command *cobra.Command, flagName string, configured bool) bool {
	flagSet, changed := changedFlagSet(command, flagName)
	if !changed {
		return configured
	}
	value, parseError := flagSet.GetBool(flagName)
	if parseError != nil {
		return configured
	}
	return value
}

// ResolveInt returns the flag value when the user changed it, otherwise configured.
func ResolveInt(command *cobra.Command, flagName string, configured int) int {
	flagSet, changed := changedFlagSet(command, flagName)
	if !changed {
		return configured
	}
	value, parseError := flagSet.GetInt(flagName)
	if parseError != nil {
		return configured
	}
	return value
}

// ResolveString returns the trimmed flag value when the user changed it to something non-blank, otherwise configured.
func ResolveString(command *cobra.Command, flagName string, configured string) string {
	flagSet, changed := changedFlagSet(command, flagName)
	if !changed {
		return configured
	}
	value, parseError := flagSet.GetString(flagName)
	if parseError != nil || len(strings.TrimSpace(value)) == 0 {
		return configured
	}
	return strings.TrimSpace(value)
}

func changedFlagSet(command *cobra.Command, flagName string) (*pflag.FlagSet, bool) {
	if command == nil {
		return nil, false
	}
	for _, flagSet := range []*pflag.FlagSet{command.Flags(), command.InheritedFlags()} {
		if flagSet != nil && flagSet.Changed(flagName) {
			return flagSet, true
		}
	}
	return nil, false
}
