package configsync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/temirov/cfgsync/internal/filesystem"
	"github.com/temirov/cfgsync/internal/syncconfig"
)

const (
	workspaceNameTemplateConstant   = "repo-%d"
	workDirectoryPermissions        = fs.FileMode(0o755)
	minimumWorkersConstant          = 1
	repositoriesFailedMessage       = "one or more repositories failed"
	workDirectoryErrorTemplate      = "prepare work directory %s: %w"
	serviceFactoryMissingMessage    = "service factory not configured"
	runnerFileSystemMissingMessage  = "runner file system not configured"
	logMessageRunStarted            = "Starting sync run"
	logMessageRunFinished           = "Sync run finished"
	logFieldConfigurationIDConstant = "configuration_id"
	logFieldRepositoryCountConstant = "repositories"
	logFieldWorkersConstant         = "workers"
	logFieldDryRunConstant          = "dry_run"
	logFieldSucceededConstant       = "succeeded"
	logFieldSkippedConstant         = "skipped"
	logFieldFailedConstant          = "failed"
	logFieldWarnedConstant          = "warned"
)

var (
	// ErrRepositoriesFailed reports that at least one repository reached the failed state.
	ErrRepositoriesFailed = errors.New(repositoriesFailedMessage)
	// ErrServiceFactoryNotConfigured indicates a nil service factory was supplied.
	ErrServiceFactoryNotConfigured = errors.New(serviceFactoryMissingMessage)
	// ErrRunnerFileSystemNotConfigured indicates a nil file system was supplied to the runner.
	ErrRunnerFileSystemNotConfigured = errors.New(runnerFileSystemMissingMessage)
)

// RunOptions are the settings of one sync run.
type RunOptions struct {
	WorkDirectory  string
	DryRun         bool
	Retries        int
	Workers        int
	BranchOverride string
}

// Summary aggregates the outcomes of one run in repository order.
type Summary struct {
	Outcomes  []RunOutcome
	Succeeded int
	Skipped   int
	Failed    int
	// Warned counts succeeded repositories that carry a warning.
	Warned int
}

// AnyFailed reports whether at least one repository failed.
func (summary Summary) AnyFailed() bool {
	return summary.Failed > 0
}

// Summarize folds outcomes into a Summary.
func Summarize(outcomes []RunOutcome) Summary {
	summary := Summary{Outcomes: outcomes}
	for _, outcome := range outcomes {
		switch outcome.Status {
		case RunStatusSucceeded:
			summary.Succeeded++
			if len(outcome.Warning) > 0 {
				summary.Warned++
			}
		case RunStatusSkipped:
			summary.Skipped++
		default:
			summary.Failed++
		}
	}
	return summary
}

// ServiceFactory builds the Service for a loaded definition and run options.
type ServiceFactory func(configuration syncconfig.Configuration, options ServiceOptions) (*Service, error)

// Runner processes every repository of a definition over a bounded worker pool.
type Runner struct {
	fileSystem     filesystem.FileSystem
	serviceFactory ServiceFactory
	logger         *zap.Logger
}

// NewRunner validates dependencies and constructs a Runner.
func NewRunner(fileSystem filesystem.FileSystem, serviceFactory ServiceFactory, logger *zap.Logger) (*Runner, error) {
	if fileSystem == nil {
		return nil, ErrRunnerFileSystemNotConfigured
	}
	if serviceFactory == nil {
		return nil, ErrServiceFactoryNotConfigured
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{fileSystem: fileSystem, serviceFactory: serviceFactory, logger: logger}, nil
}

// Run processes every repository and returns their outcomes in definition order.
// Repository failures are reported in the Summary; the error is reserved for
// failures that prevent the run from starting.
func (runner *Runner) Run(executionContext context.Context, configuration syncconfig.Configuration, options RunOptions) (Summary, error) {
	service, serviceError := runner.serviceFactory(configuration, ServiceOptions{DryRun: options.DryRun, Retries: options.Retries, BranchOverride: options.BranchOverride})
	if serviceError != nil {
		return Summary{}, serviceError
	}

	workDirectory := filepath.Clean(options.WorkDirectory)
	if mkdirError := runner.fileSystem.MkdirAll(workDirectory, workDirectoryPermissions); mkdirError != nil {
		return Summary{}, fmt.Errorf(workDirectoryErrorTemplate, workDirectory, mkdirError)
	}

	workers := options.Workers
	if workers < minimumWorkersConstant {
		workers = minimumWorkersConstant
	}
	runner.logger.Info(logMessageRunStarted,
		zap.String(logFieldConfigurationIDConstant, configuration.ID),
		zap.Int(logFieldRepositoryCountConstant, len(configuration.Repositories)),
		zap.Int(logFieldWorkersConstant, workers),
		zap.Bool(logFieldDryRunConstant, options.DryRun),
	)

	outcomes := make([]RunOutcome, len(configuration.Repositories))
	var workerGroup errgroup.Group
	workerGroup.SetLimit(workers)
	for repositoryIndex, repository := range configuration.Repositories {
		job := RepositoryJob{
			Repository: repository,
			Workspace:  filepath.Join(workDirectory, fmt.Sprintf(workspaceNameTemplateConstant, repositoryIndex)),
		}
		workerGroup.Go(func() error {
			outcomes[repositoryIndex] = service.ProcessRepository(executionContext, job)
			return nil
		})
	}
	_ = workerGroup.Wait()

	summary := Summarize(outcomes)
	runner.logger.Info(logMessageRunFinished,
		zap.Int(logFieldSucceededConstant, summary.Succeeded),
		zap.Int(logFieldSkippedConstant, summary.Skipped),
		zap.Int(logFieldFailedConstant, summary.Failed),
		zap.Int(logFieldWarnedConstant, summary.Warned),
	)
	return summary, nil
}
