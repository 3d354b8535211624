package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/temirov/cfgsync/internal/diff"
	"github.com/temirov/cfgsync/internal/execshell"
	"github.com/temirov/cfgsync/internal/filesystem"
	"github.com/temirov/cfgsync/internal/retry"
)

const (
	gitProgramConstant                    = string(execshell.CommandGit)
	nonInteractiveGitEnvironmentConstant  = "GIT_TERMINAL_PROMPT=0"
	gitCloneSubcommandConstant            = "clone"
	gitLsRemoteSubcommandConstant         = "ls-remote"
	gitSymrefFlagConstant                 = "--symref"
	gitRevParseSubcommandConstant         = "rev-parse"
	gitVerifyFlagConstant                 = "--verify"
	gitQuietFlagConstant                  = "--quiet"
	gitCheckoutSubcommandConstant         = "checkout"
	gitCreateBranchFlagConstant           = "-b"
	gitStatusSubcommandConstant           = "status"
	gitPorcelainFlagConstant              = "--porcelain"
	gitCheckIgnoreSubcommandConstant      = "check-ignore"
	gitAddSubcommandConstant              = "add"
	gitAllFlagConstant                    = "-A"
	gitCommitSubcommandConstant           = "commit"
	gitNoVerifyFlagConstant               = "--no-verify"
	gitMessageFlagConstant                = "-m"
	gitPushSubcommandConstant             = "push"
	gitForceWithLeaseFlagConstant         = "--force-with-lease"
	gitSetUpstreamFlagConstant            = "-u"
	gitPathspecSeparatorConstant          = "--"
	originRemoteNameConstant              = "origin"
	headReferenceConstant                 = "HEAD"
	localBranchReferencePrefixConstant    = "refs/heads/"
	remoteBranchReferenceTemplateConstant = "origin/%s"
	symbolicReferencePrefixConstant       = "ref: "
	symbolicReferenceFieldsSeparator      = "\t"
	workspaceDirectoryPermissions         = fs.FileMode(0o755)
	workspaceFilePermissions              = fs.FileMode(0o644)

	workspaceNotConfiguredMessageConstant  = "driver workspace not configured"
	executorNotConfiguredMessageConstant   = "driver shell executor not configured"
	fileSystemNotConfiguredMessageConstant = "driver file system not configured"
	cloneErrorTemplateConstant             = "clone of %s failed after %d attempt(s): %v"
	pushErrorTemplateConstant              = "push of branch %s failed after %d attempt(s): %v"
	commandErrorTemplateConstant           = "git %s failed: %v"
	defaultBranchErrorTemplateConstant     = "could not determine default branch: remote HEAD lookup failed (%v) and none of %s exist on origin"
	invalidFileNameTemplateConstant        = "file name %q must be a relative path inside the repository"
	candidateBranchesSeparatorConstant     = ", "

	logMessageCloning                 = "Cloning repository"
	logMessageCloneAttemptFailed      = "Clone attempt failed"
	logMessageDefaultBranchDetected   = "Detected default branch"
	logMessageRemoteHeadLookupFailed  = "Remote HEAD lookup failed, using fallback"
	logMessageBranchCheckedOut        = "Checked out existing branch"
	logMessageBranchCreated           = "Created branch"
	logMessagePushAttemptFailed       = "Push attempt failed"
	logMessageIgnoredPathUnchanged    = "Path is ignored by git, treating as unchanged"
	logFieldFileConstant              = "file"
	logFieldRemoteConstant            = "remote"
	logFieldWorkspaceConstant         = "workspace"
	logFieldAttemptConstant           = "attempt"
	logFieldBranchConstant            = "branch"
	logFieldDetectionMethodConstant   = "method"
	logOperationCommitConstant        = "commit"
	logOperationStatusConstant        = "status"
	logOperationCheckoutConstant      = "checkout"
	logOperationBranchCreateConstant  = "checkout -b"
	logOperationStageConstant         = "add"
	logOperationReadConstant          = "read"
	logOperationWriteConstant         = "write"
	logOperationDeleteConstant        = "delete"
	logOperationCleanConstant         = "clean"
	logOperationPrepareParentConstant = "prepare workspace"
)

// pushRejectionMarkers identify a push refused because the remote moved on.
var pushRejectionMarkers = []string{"[rejected]", "non-fast-forward", "fetch first", "stale info"}

// fallbackDefaultBranches are tried in order when the remote HEAD cannot be queried.
var fallbackDefaultBranches = []string{"main", "master"}

var (
	// ErrWorkspaceNotConfigured indicates an empty workspace path was supplied.
	ErrWorkspaceNotConfigured = errors.New(workspaceNotConfiguredMessageConstant)
	// ErrExecutorNotConfigured indicates a nil shell executor was supplied.
	ErrExecutorNotConfigured = errors.New(executorNotConfiguredMessageConstant)
	// ErrFileSystemNotConfigured indicates a nil file system was supplied.
	ErrFileSystemNotConfigured = errors.New(fileSystemNotConfiguredMessageConstant)
)

// ShellCommandExecutor runs a composed command line in a working directory.
type ShellCommandExecutor interface {
	ExecuteShell(executionContext context.Context, commandLine string, workingDirectory string) (string, error)
}

// DetectionMethod names how the default branch was determined.
type DetectionMethod string

// Supported detection methods.
const (
	DetectionMethodRemoteHead DetectionMethod = DetectionMethod("remote-head")
	DetectionMethodFallback   DetectionMethod = DetectionMethod("fallback")
)

// DefaultBranch is a verified base branch and the method that found it.
type DefaultBranch struct {
	Name   string
	Method DetectionMethod
}

// CloneError reports a clone that failed on every attempt.
type CloneError struct {
	Remote   string
	Attempts int
	Cause    error
}

// Error describes the clone failure including captured command output.
func (cloneError CloneError) Error() string {
	return fmt.Sprintf(cloneErrorTemplateConstant, cloneError.Remote, cloneError.Attempts, cloneError.Cause)
}

// Unwrap exposes the last attempt's error.
func (cloneError CloneError) Unwrap() error {
	return cloneError.Cause
}

// PushError reports a push that failed on every attempt or was rejected by the remote.
type PushError struct {
	Branch   string
	Attempts int
	Rejected bool
	Cause    error
}

// Error describes the push failure including captured command output.
func (pushError PushError) Error() string {
	return fmt.Sprintf(pushErrorTemplateConstant, pushError.Branch, pushError.Attempts, pushError.Cause)
}

// Unwrap exposes the last attempt's error.
func (pushError PushError) Unwrap() error {
	return pushError.Cause
}

// CommandError reports a failed local git operation.
type CommandError struct {
	Operation string
	Cause     error
}

// Error describes the failed operation.
func (commandError CommandError) Error() string {
	return fmt.Sprintf(commandErrorTemplateConstant, commandError.Operation, commandError.Cause)
}

// Unwrap exposes the underlying failure.
func (commandError CommandError) Unwrap() error {
	return commandError.Cause
}

// DefaultBranchError reports that neither detection method produced a verified branch.
type DefaultBranchError struct {
	RemoteHeadError error
	Candidates      []string
}

// Error describes both failed detection methods.
func (branchError DefaultBranchError) Error() string {
	return fmt.Sprintf(defaultBranchErrorTemplateConstant, branchError.RemoteHeadError, strings.Join(branchError.Candidates, candidateBranchesSeparatorConstant))
}

// Unwrap exposes the remote HEAD lookup failure.
func (branchError DefaultBranchError) Unwrap() error {
	return branchError.RemoteHeadError
}

// InvalidFileNameError reports a file name that would escape the workspace.
type InvalidFileNameError struct {
	FileName string
}

// Error describes the rejected file name.
func (nameError InvalidFileNameError) Error() string {
	return fmt.Sprintf(invalidFileNameTemplateConstant, nameError.FileName)
}

// Driver performs git operations for exactly one workspace directory.
type Driver struct {
	workspace   string
	executor    ShellCommandExecutor
	fileSystem  filesystem.FileSystem
	retryPolicy retry.Policy
	logger      *zap.Logger
}

// NewDriver validates dependencies and constructs a Driver bound to workspace.
func NewDriver(workspace string, executor ShellCommandExecutor, fileSystem filesystem.FileSystem, retryPolicy retry.Policy, logger *zap.Logger) (*Driver, error) {
	if len(strings.TrimSpace(workspace)) == 0 {
		return nil, ErrWorkspaceNotConfigured
	}
	if executor == nil {
		return nil, ErrExecutorNotConfigured
	}
	if fileSystem == nil {
		return nil, ErrFileSystemNotConfigured
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		workspace:   filepath.Clean(workspace),
		executor:    executor,
		fileSystem:  fileSystem,
		retryPolicy: retryPolicy,
		logger:      logger,
	}, nil
}

// Workspace returns the directory this driver owns.
func (driver *Driver) Workspace() string {
	return driver.workspace
}

// CleanWorkspace removes the workspace directory. A missing directory is not an error.
func (driver *Driver) CleanWorkspace() error {
	if removeError := driver.fileSystem.RemoveAll(driver.workspace); removeError != nil {
		return CommandError{Operation: logOperationCleanConstant, Cause: removeError}
	}
	return nil
}

// Clone clones remoteURL into the workspace, starting from an empty directory on every attempt.
// The workspace is removed again when every attempt fails.
func (driver *Driver) Clone(executionContext context.Context, remoteURL string) error {
	commandLine, buildError := execshell.NewCommandLine(nonInteractiveGitEnvironmentConstant, gitProgramConstant, gitCloneSubcommandConstant).
		Argument(remoteURL).
		Argument(filepath.Base(driver.workspace)).
		Build()
	if buildError != nil {
		return CloneError{Remote: remoteURL, Attempts: 0, Cause: buildError}
	}

	driver.logger.Info(logMessageCloning, zap.String(logFieldRemoteConstant, remoteURL), zap.String(logFieldWorkspaceConstant, driver.workspace))
	parentDirectory := filepath.Dir(driver.workspace)

	attemptsMade := 0
	cloneError := retry.Do(executionContext, driver.retryPolicy, func(attempt int) error {
		attemptsMade = attempt
		if cleanError := driver.CleanWorkspace(); cleanError != nil {
			return cleanError
		}
		if mkdirError := driver.fileSystem.MkdirAll(parentDirectory, workspaceDirectoryPermissions); mkdirError != nil {
			return retry.Permanent(CommandError{Operation: logOperationPrepareParentConstant, Cause: mkdirError})
		}
		_, executionError := driver.executor.ExecuteShell(executionContext, commandLine, parentDirectory)
		if executionError != nil {
			driver.logger.Warn(logMessageCloneAttemptFailed, zap.Int(logFieldAttemptConstant, attempt), zap.Error(executionError))
		}
		return executionError
	})
	if cloneError == nil {
		return nil
	}

	_ = driver.CleanWorkspace()
	return CloneError{Remote: remoteURL, Attempts: attemptsMade, Cause: unwrapExhausted(cloneError)}
}

// GetDefaultBranch queries the remote HEAD and falls back to the first of main or master that exists on origin.
func (driver *Driver) GetDefaultBranch(executionContext context.Context) (DefaultBranch, error) {
	remoteHeadBranch, remoteHeadError := driver.queryRemoteHead(executionContext)
	if remoteHeadError == nil {
		driver.logger.Debug(logMessageDefaultBranchDetected, zap.String(logFieldBranchConstant, remoteHeadBranch), zap.String(logFieldDetectionMethodConstant, string(DetectionMethodRemoteHead)))
		return DefaultBranch{Name: remoteHeadBranch, Method: DetectionMethodRemoteHead}, nil
	}
	driver.logger.Warn(logMessageRemoteHeadLookupFailed, zap.Error(remoteHeadError))

	for _, candidateBranch := range fallbackDefaultBranches {
		commandLine, buildError := execshell.NewCommandLine(gitProgramConstant, gitRevParseSubcommandConstant, gitVerifyFlagConstant, gitQuietFlagConstant).
			Argument(fmt.Sprintf(remoteBranchReferenceTemplateConstant, candidateBranch)).
			Build()
		if buildError != nil {
			continue
		}
		if _, verifyError := driver.executor.ExecuteShell(executionContext, commandLine, driver.workspace); verifyError == nil {
			driver.logger.Debug(logMessageDefaultBranchDetected, zap.String(logFieldBranchConstant, candidateBranch), zap.String(logFieldDetectionMethodConstant, string(DetectionMethodFallback)))
			return DefaultBranch{Name: candidateBranch, Method: DetectionMethodFallback}, nil
		}
	}

	return DefaultBranch{}, DefaultBranchError{RemoteHeadError: remoteHeadError, Candidates: append([]string{}, fallbackDefaultBranches...)}
}

func (driver *Driver) queryRemoteHead(executionContext context.Context) (string, error) {
	commandLine, buildError := execshell.NewCommandLine(nonInteractiveGitEnvironmentConstant, gitProgramConstant, gitLsRemoteSubcommandConstant, gitSymrefFlagConstant, originRemoteNameConstant, headReferenceConstant).Build()
	if buildError != nil {
		return "", buildError
	}

	var remoteHeadBranch string
	queryError := retry.Do(executionContext, driver.retryPolicy, func(int) error {
		standardOutput, executionError := driver.executor.ExecuteShell(executionContext, commandLine, driver.workspace)
		if executionError != nil {
			return executionError
		}
		parsedBranch, parsed := parseSymbolicHead(standardOutput)
		if !parsed {
			return retry.Permanent(CommandError{Operation: gitLsRemoteSubcommandConstant, Cause: errors.New(strings.TrimSpace(standardOutput))})
		}
		remoteHeadBranch = parsedBranch
		return nil
	})
	if queryError != nil {
		return "", unwrapExhausted(queryError)
	}
	return remoteHeadBranch, nil
}

// parseSymbolicHead extracts the branch from "ref: refs/heads/<branch>\tHEAD".
func parseSymbolicHead(output string) (string, bool) {
	for _, outputLine := range strings.Split(output, "\n") {
		trimmedLine := strings.TrimSpace(outputLine)
		if !strings.HasPrefix(trimmedLine, symbolicReferencePrefixConstant) {
			continue
		}
		reference, _, _ := strings.Cut(strings.TrimPrefix(trimmedLine, symbolicReferencePrefixConstant), symbolicReferenceFieldsSeparator)
		reference = strings.TrimSpace(reference)
		if !strings.HasPrefix(reference, localBranchReferencePrefixConstant) {
			continue
		}
		branchName := strings.TrimPrefix(reference, localBranchReferencePrefixConstant)
		if len(branchName) > 0 {
			return branchName, true
		}
	}
	return "", false
}

// CreateBranch checks out branchName, creating it from HEAD when it does not exist locally.
func (driver *Driver) CreateBranch(executionContext context.Context, branchName string) error {
	verifyLine, buildError := execshell.NewCommandLine(gitProgramConstant, gitRevParseSubcommandConstant, gitVerifyFlagConstant, gitQuietFlagConstant).
		Argument(localBranchReferencePrefixConstant + branchName).
		Build()
	if buildError != nil {
		return CommandError{Operation: logOperationCheckoutConstant, Cause: buildError}
	}

	if _, verifyError := driver.executor.ExecuteShell(executionContext, verifyLine, driver.workspace); verifyError == nil {
		checkoutLine, checkoutBuildError := execshell.NewCommandLine(gitProgramConstant, gitCheckoutSubcommandConstant).Argument(branchName).Build()
		if checkoutBuildError != nil {
			return CommandError{Operation: logOperationCheckoutConstant, Cause: checkoutBuildError}
		}
		if _, checkoutError := driver.executor.ExecuteShell(executionContext, checkoutLine, driver.workspace); checkoutError != nil {
			return CommandError{Operation: logOperationCheckoutConstant, Cause: checkoutError}
		}
		driver.logger.Debug(logMessageBranchCheckedOut, zap.String(logFieldBranchConstant, branchName))
		return nil
	}

	createLine, createBuildError := execshell.NewCommandLine(gitProgramConstant, gitCheckoutSubcommandConstant, gitCreateBranchFlagConstant).Argument(branchName).Build()
	if createBuildError != nil {
		return CommandError{Operation: logOperationBranchCreateConstant, Cause: createBuildError}
	}
	if _, createError := driver.executor.ExecuteShell(executionContext, createLine, driver.workspace); createError != nil {
		return CommandError{Operation: logOperationBranchCreateConstant, Cause: createError}
	}
	driver.logger.Debug(logMessageBranchCreated, zap.String(logFieldBranchConstant, branchName))
	return nil
}

// ReadFile returns the current content of fileName, absent when the file does not exist.
func (driver *Driver) ReadFile(fileName string) (diff.Content, error) {
	filePath, pathError := driver.resolvePath(fileName)
	if pathError != nil {
		return diff.Content{}, pathError
	}
	fileContent, readError := driver.fileSystem.ReadFile(filePath)
	if readError != nil {
		if errors.Is(readError, fs.ErrNotExist) {
			return diff.AbsentContent(), nil
		}
		return diff.Content{}, CommandError{Operation: logOperationReadConstant, Cause: readError}
	}
	return diff.PresentContent(fileContent), nil
}

// FileExists reports whether fileName exists in the workspace.
func (driver *Driver) FileExists(fileName string) (bool, error) {
	currentContent, readError := driver.ReadFile(fileName)
	if readError != nil {
		return false, readError
	}
	return currentContent.Present, nil
}

// WriteFile overwrites fileName with content, creating parent directories.
func (driver *Driver) WriteFile(fileName string, content []byte) error {
	filePath, pathError := driver.resolvePath(fileName)
	if pathError != nil {
		return pathError
	}
	if mkdirError := driver.fileSystem.MkdirAll(filepath.Dir(filePath), workspaceDirectoryPermissions); mkdirError != nil {
		return CommandError{Operation: logOperationWriteConstant, Cause: mkdirError}
	}
	if writeError := driver.fileSystem.WriteFile(filePath, content, workspaceFilePermissions); writeError != nil {
		return CommandError{Operation: logOperationWriteConstant, Cause: writeError}
	}
	return nil
}

// DeleteFile removes fileName from the workspace. A missing file is not an error.
func (driver *Driver) DeleteFile(fileName string) error {
	filePath, pathError := driver.resolvePath(fileName)
	if pathError != nil {
		return pathError
	}
	if removeError := driver.fileSystem.Remove(filePath); removeError != nil {
		return CommandError{Operation: logOperationDeleteConstant, Cause: removeError}
	}
	return nil
}

// WouldChange classifies candidate against the workspace without touching it.
// A change to a path git ignores is reported as unchanged because status and
// commit never see it.
func (driver *Driver) WouldChange(executionContext context.Context, fileName string, candidate diff.Content) (diff.Classification, error) {
	currentContent, readError := driver.ReadFile(fileName)
	if readError != nil {
		return "", readError
	}
	classification := diff.Classify(currentContent, candidate)
	if classification.Changes() && driver.isIgnored(executionContext, fileName) {
		driver.logger.Debug(logMessageIgnoredPathUnchanged, zap.String(logFieldFileConstant, fileName))
		return diff.ClassificationUnchanged, nil
	}
	return classification, nil
}

// isIgnored reports whether git check-ignore matches fileName. Tracked files are never ignored.
func (driver *Driver) isIgnored(executionContext context.Context, fileName string) bool {
	commandLine, buildError := execshell.NewCommandLine(gitProgramConstant, gitCheckIgnoreSubcommandConstant, gitPathspecSeparatorConstant).
		Argument(fileName).
		Build()
	if buildError != nil {
		return false
	}
	standardOutput, checkError := driver.executor.ExecuteShell(executionContext, commandLine, driver.workspace)
	return checkError == nil && len(strings.TrimSpace(standardOutput)) > 0
}

// HasChanges reports whether git status shows any tracked or untracked modification.
func (driver *Driver) HasChanges(executionContext context.Context) (bool, error) {
	commandLine, buildError := execshell.NewCommandLine(gitProgramConstant, gitStatusSubcommandConstant, gitPorcelainFlagConstant).Build()
	if buildError != nil {
		return false, CommandError{Operation: logOperationStatusConstant, Cause: buildError}
	}
	return driver.statusReportsChanges(executionContext, commandLine)
}

func (driver *Driver) statusReportsChanges(executionContext context.Context, commandLine string) (bool, error) {
	standardOutput, executionError := driver.executor.ExecuteShell(executionContext, commandLine, driver.workspace)
	if executionError != nil {
		return false, CommandError{Operation: logOperationStatusConstant, Cause: executionError}
	}
	return len(strings.TrimSpace(standardOutput)) > 0, nil
}

// Commit stages every change and commits with message. It fails when nothing is staged.
func (driver *Driver) Commit(executionContext context.Context, message string) error {
	stageLine, stageBuildError := execshell.NewCommandLine(gitProgramConstant, gitAddSubcommandConstant, gitAllFlagConstant).Build()
	if stageBuildError != nil {
		return CommandError{Operation: logOperationStageConstant, Cause: stageBuildError}
	}
	if _, stageError := driver.executor.ExecuteShell(executionContext, stageLine, driver.workspace); stageError != nil {
		return CommandError{Operation: logOperationStageConstant, Cause: stageError}
	}

	commitLine, commitBuildError := execshell.NewCommandLine(gitProgramConstant, gitCommitSubcommandConstant, gitNoVerifyFlagConstant).
		Option(gitMessageFlagConstant, message).
		Build()
	if commitBuildError != nil {
		return CommandError{Operation: logOperationCommitConstant, Cause: commitBuildError}
	}
	if _, commitError := driver.executor.ExecuteShell(executionContext, commitLine, driver.workspace); commitError != nil {
		return CommandError{Operation: logOperationCommitConstant, Cause: commitError}
	}
	return nil
}

// Push publishes branchName to origin with a lease on the last fetched remote state.
// A rejection is returned at once and never retried or rebased.
func (driver *Driver) Push(executionContext context.Context, branchName string) error {
	commandLine, buildError := execshell.NewCommandLine(nonInteractiveGitEnvironmentConstant, gitProgramConstant, gitPushSubcommandConstant, gitForceWithLeaseFlagConstant, gitSetUpstreamFlagConstant, originRemoteNameConstant).
		Argument(branchName).
		Build()
	if buildError != nil {
		return PushError{Branch: branchName, Cause: buildError}
	}

	attemptsMade := 0
	pushError := retry.Do(executionContext, driver.retryPolicy, func(attempt int) error {
		attemptsMade = attempt
		_, executionError := driver.executor.ExecuteShell(executionContext, commandLine, driver.workspace)
		if executionError == nil {
			return nil
		}
		if IsPushRejection(executionError) {
			return retry.Permanent(executionError)
		}
		driver.logger.Warn(logMessagePushAttemptFailed, zap.String(logFieldBranchConstant, branchName), zap.Int(logFieldAttemptConstant, attempt), zap.Error(executionError))
		return executionError
	})
	if pushError == nil {
		return nil
	}
	finalError := unwrapExhausted(pushError)
	return PushError{Branch: branchName, Attempts: attemptsMade, Rejected: IsPushRejection(finalError), Cause: finalError}
}

// IsPushRejection reports whether a push failure means the remote refused the update.
func IsPushRejection(pushFailure error) bool {
	if pushFailure == nil {
		return false
	}
	failureText := pushFailure.Error()
	for _, rejectionMarker := range pushRejectionMarkers {
		if strings.Contains(failureText, rejectionMarker) {
			return true
		}
	}
	return false
}

func (driver *Driver) resolvePath(fileName string) (string, error) {
	cleanedName, inside := filesystem.CleanRelativePath(fileName)
	if !inside {
		return "", InvalidFileNameError{FileName: fileName}
	}
	return filepath.Join(driver.workspace, cleanedName), nil
}

func unwrapExhausted(operationError error) error {
	var exhausted retry.ExhaustedError
	if errors.As(operationError, &exhausted) && exhausted.Cause != nil {
		return exhausted.Cause
	}
	return operationError
}
