package gitrepo_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/temirov/cfgsync/internal/diff"
	"github.com/temirov/cfgsync/internal/filesystem"
	"github.com/temirov/cfgsync/internal/gitrepo"
	"github.com/temirov/cfgsync/internal/retry"
)

const (
	testRemoteURLConstant       = "https://github.com/acme/api.git"
	testWorkspaceNameConstant   = "repo-0"
	testBranchNameConstant      = "chore/sync-config"
	testConfigFileNameConstant  = "config.json"
	testPartialCloneFileName    = "partial.pack"
	testRejectedPushOutput      = " ! [rejected]        chore/sync-config -> chore/sync-config (fetch first)"
	testTransientFailureMessage = "fatal: unable to access: Could not resolve host"
)

// recordingTimer fires immediately and remembers every requested wait.
type recordingTimer struct {
	recordedDelays []time.Duration
	fired          chan time.Time
}

func newRecordingTimer() *recordingTimer {
	return &recordingTimer{fired: make(chan time.Time, 1)}
}

func (timer *recordingTimer) Start(duration time.Duration) {
	timer.recordedDelays = append(timer.recordedDelays, duration)
	timer.fired <- time.Time{}
}

func (timer *recordingTimer) Stop() {}

func (timer *recordingTimer) C() <-chan time.Time {
	return timer.fired
}

type scriptedShellExecutor struct {
	handler          func(commandLine string, workingDirectory string) (string, error)
	executedCommands []string
}

func (executor *scriptedShellExecutor) ExecuteShell(_ context.Context, commandLine string, workingDirectory string) (string, error) {
	executor.executedCommands = append(executor.executedCommands, commandLine)
	if executor.handler == nil {
		return "", nil
	}
	return executor.handler(commandLine, workingDirectory)
}

func (executor *scriptedShellExecutor) commandsContaining(fragment string) []string {
	var matchingCommands []string
	for _, executedCommand := range executor.executedCommands {
		if strings.Contains(executedCommand, fragment) {
			matchingCommands = append(matchingCommands, executedCommand)
		}
	}
	return matchingCommands
}

func newTestDriver(testInstance *testing.T, executor gitrepo.ShellCommandExecutor, retries int) (*gitrepo.Driver, string, *recordingTimer) {
	testInstance.Helper()
	workspace := filepath.Join(testInstance.TempDir(), testWorkspaceNameConstant)
	timer := newRecordingTimer()
	policy := retry.Policy{Retries: retries, InitialDelay: time.Millisecond, MaximumDelay: 4 * time.Millisecond, BackoffFactor: 2, Timer: timer}
	driver, creationError := gitrepo.NewDriver(workspace, executor, filesystem.OSFileSystem{}, policy, zap.NewNop())
	require.NoError(testInstance, creationError)
	return driver, workspace, timer
}

func TestNewDriverValidatesDependencies(testInstance *testing.T) {
	executor := &scriptedShellExecutor{}
	testCases := []struct {
		name          string
		workspace     string
		executor      gitrepo.ShellCommandExecutor
		fileSystem    filesystem.FileSystem
		expectedError error
	}{
		{name: "workspace", workspace: " ", executor: executor, fileSystem: filesystem.OSFileSystem{}, expectedError: gitrepo.ErrWorkspaceNotConfigured},
		{name: "executor", workspace: "repo", executor: nil, fileSystem: filesystem.OSFileSystem{}, expectedError: gitrepo.ErrExecutorNotConfigured},
		{name: "file_system", workspace: "repo", executor: executor, fileSystem: nil, expectedError: gitrepo.ErrFileSystemNotConfigured},
	}
	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			_, creationError := gitrepo.NewDriver(testCase.workspace, testCase.executor, testCase.fileSystem, retry.Policy{}, nil)
			require.ErrorIs(testInstance, creationError, testCase.expectedError)
		})
	}
}

func TestCleanWorkspaceIsIdempotent(testInstance *testing.T) {
	driver, workspace, _ := newTestDriver(testInstance, &scriptedShellExecutor{}, 0)
	require.NoError(testInstance, driver.CleanWorkspace())
	require.NoError(testInstance, os.MkdirAll(filepath.Join(workspace, "nested"), 0o755))
	require.NoError(testInstance, driver.CleanWorkspace())
	require.NoDirExists(testInstance, workspace)
	require.NoError(testInstance, driver.CleanWorkspace())
}

func TestCloneRetriesFromCleanWorkspace(testInstance *testing.T) {
	var workspace string
	cloneAttempts := 0
	executor := &scriptedShellExecutor{}
	executor.handler = func(commandLine string, workingDirectory string) (string, error) {
		cloneAttempts++
		require.NoDirExists(testInstance, workspace)
		require.NoError(testInstance, os.MkdirAll(workspace, 0o755))
		if cloneAttempts < 3 {
			require.NoError(testInstance, os.WriteFile(filepath.Join(workspace, testPartialCloneFileName), []byte("x"), 0o644))
			return "", errors.New(testTransientFailureMessage)
		}
		return "", nil
	}
	driver, driverWorkspace, timer := newTestDriver(testInstance, executor, 3)
	workspace = driverWorkspace

	require.NoError(testInstance, driver.Clone(context.Background(), testRemoteURLConstant))
	require.Equal(testInstance, 3, cloneAttempts)
	require.Len(testInstance, timer.recordedDelays, 2)
	require.Equal(testInstance, "GIT_TERMINAL_PROMPT=0 git clone 'https://github.com/acme/api.git' 'repo-0'", executor.executedCommands[0])
	require.NoFileExists(testInstance, filepath.Join(workspace, testPartialCloneFileName))
}

func TestCloneFailureLeavesNoWorkspace(testInstance *testing.T) {
	var workspace string
	executor := &scriptedShellExecutor{}
	executor.handler = func(string, string) (string, error) {
		require.NoError(testInstance, os.MkdirAll(workspace, 0o755))
		require.NoError(testInstance, os.WriteFile(filepath.Join(workspace, testPartialCloneFileName), []byte("x"), 0o644))
		return "", errors.New(testTransientFailureMessage)
	}
	driver, driverWorkspace, _ := newTestDriver(testInstance, executor, 2)
	workspace = driverWorkspace

	cloneError := driver.Clone(context.Background(), testRemoteURLConstant)
	require.Error(testInstance, cloneError)

	var typedCloneError gitrepo.CloneError
	require.ErrorAs(testInstance, cloneError, &typedCloneError)
	require.Equal(testInstance, 3, typedCloneError.Attempts)
	require.Contains(testInstance, cloneError.Error(), testTransientFailureMessage)
	require.NoDirExists(testInstance, workspace)
}

func TestGetDefaultBranchPrefersRemoteHead(testInstance *testing.T) {
	executor := &scriptedShellExecutor{handler: func(commandLine string, _ string) (string, error) {
		if strings.Contains(commandLine, "ls-remote") {
			return "ref: refs/heads/develop\tHEAD\n0123456789abcdef\tHEAD\n", nil
		}
		return "", errors.New("unexpected")
	}}
	driver, _, _ := newTestDriver(testInstance, executor, 1)

	defaultBranch, detectionError := driver.GetDefaultBranch(context.Background())
	require.NoError(testInstance, detectionError)
	require.Equal(testInstance, gitrepo.DefaultBranch{Name: "develop", Method: gitrepo.DetectionMethodRemoteHead}, defaultBranch)
	require.Empty(testInstance, executor.commandsContaining("rev-parse"))
}

func TestGetDefaultBranchFallsBackToVerifiedCandidate(testInstance *testing.T) {
	executor := &scriptedShellExecutor{handler: func(commandLine string, _ string) (string, error) {
		switch {
		case strings.Contains(commandLine, "ls-remote"):
			return "", errors.New(testTransientFailureMessage)
		case strings.Contains(commandLine, "'origin/master'"):
			return "0123456789abcdef\n", nil
		default:
			return "", errors.New("fatal: Needed a single revision")
		}
	}}
	driver, _, timer := newTestDriver(testInstance, executor, 1)

	defaultBranch, detectionError := driver.GetDefaultBranch(context.Background())
	require.NoError(testInstance, detectionError)
	require.Equal(testInstance, gitrepo.DefaultBranch{Name: "master", Method: gitrepo.DetectionMethodFallback}, defaultBranch)
	require.Len(testInstance, executor.commandsContaining("ls-remote"), 2)
	require.Len(testInstance, timer.recordedDelays, 1)
	require.Equal(testInstance, []string{
		"git rev-parse --verify --quiet 'origin/main'",
		"git rev-parse --verify --quiet 'origin/master'",
	}, executor.commandsContaining("rev-parse"))
}

func TestGetDefaultBranchNeverReturnsUnverifiedName(testInstance *testing.T) {
	executor := &scriptedShellExecutor{handler: func(string, string) (string, error) {
		return "", errors.New("fatal")
	}}
	driver, _, _ := newTestDriver(testInstance, executor, 0)

	defaultBranch, detectionError := driver.GetDefaultBranch(context.Background())
	require.Error(testInstance, detectionError)
	require.IsType(testInstance, gitrepo.DefaultBranchError{}, detectionError)
	require.Empty(testInstance, defaultBranch.Name)
}

func TestCreateBranchChecksOutExistingOrCreatesNew(testInstance *testing.T) {
	testCases := []struct {
		name            string
		branchExists    bool
		expectedCommand string
	}{
		{name: "existing", branchExists: true, expectedCommand: "git checkout 'chore/sync-config'"},
		{name: "absent", branchExists: false, expectedCommand: "git checkout -b 'chore/sync-config'"},
	}
	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			executor := &scriptedShellExecutor{handler: func(commandLine string, _ string) (string, error) {
				if strings.Contains(commandLine, "rev-parse") && !testCase.branchExists {
					return "", errors.New("exit status 1")
				}
				return "", nil
			}}
			driver, _, _ := newTestDriver(testInstance, executor, 0)

			require.NoError(testInstance, driver.CreateBranch(context.Background(), testBranchNameConstant))
			require.Equal(testInstance, []string{
				"git rev-parse --verify --quiet 'refs/heads/chore/sync-config'",
				testCase.expectedCommand,
			}, executor.executedCommands)
		})
	}
}

func TestPushRejectionIsNotRetried(testInstance *testing.T) {
	executor := &scriptedShellExecutor{handler: func(string, string) (string, error) {
		return "", errors.New(testRejectedPushOutput)
	}}
	driver, _, timer := newTestDriver(testInstance, executor, 3)

	pushError := driver.Push(context.Background(), testBranchNameConstant)
	require.Error(testInstance, pushError)

	var typedPushError gitrepo.PushError
	require.ErrorAs(testInstance, pushError, &typedPushError)
	require.True(testInstance, typedPushError.Rejected)
	require.Equal(testInstance, 1, typedPushError.Attempts)
	require.Len(testInstance, executor.executedCommands, 1)
	require.Empty(testInstance, timer.recordedDelays)
	require.Contains(testInstance, pushError.Error(), "fetch first")
}

func TestPushRetriesTransientFailures(testInstance *testing.T) {
	pushAttempts := 0
	executor := &scriptedShellExecutor{handler: func(string, string) (string, error) {
		pushAttempts++
		if pushAttempts == 1 {
			return "", errors.New(testTransientFailureMessage)
		}
		return "", nil
	}}
	driver, _, _ := newTestDriver(testInstance, executor, 2)

	require.NoError(testInstance, driver.Push(context.Background(), testBranchNameConstant))
	require.Equal(testInstance, 2, pushAttempts)
	require.Equal(testInstance, "GIT_TERMINAL_PROMPT=0 git push --force-with-lease -u origin 'chore/sync-config'", executor.executedCommands[0])
}

func TestDriverEscapesHostileValues(testInstance *testing.T) {
	executor := &scriptedShellExecutor{handler: func(commandLine string, _ string) (string, error) {
		if strings.Contains(commandLine, "rev-parse") {
			return "", errors.New("absent")
		}
		return "", nil
	}}
	driver, _, _ := newTestDriver(testInstance, executor, 0)

	require.NoError(testInstance, driver.CreateBranch(context.Background(), "sync-$(touch pwned)`id`'"))
	require.NoError(testInstance, driver.Commit(context.Background(), "chore: it's | rm -rf /"))
	require.Contains(testInstance, executor.executedCommands, `git checkout -b 'sync-$(touch pwned)`+"`id`"+`'\'''`)
	require.Contains(testInstance, executor.executedCommands, `git commit --no-verify -m 'chore: it'\''s | rm -rf /'`)

	nullByteError := driver.Push(context.Background(), "bad\x00branch")
	require.Error(testInstance, nullByteError)
}

func TestWorkspaceFileOperationsRejectEscapingNames(testInstance *testing.T) {
	driver, _, _ := newTestDriver(testInstance, &scriptedShellExecutor{}, 0)
	for _, fileName := range []string{"../outside.json", "/etc/passwd", "", ".", "nested/../../outside"} {
		writeError := driver.WriteFile(fileName, []byte("x"))
		require.Error(testInstance, writeError, fileName)
		require.IsType(testInstance, gitrepo.InvalidFileNameError{}, writeError)
	}
}

func TestWouldChangeTreatsIgnoredPathsAsUnchanged(testInstance *testing.T) {
	testCases := []struct {
		name                   string
		checkIgnoreOutput      string
		checkIgnoreError       error
		seedContent            *string
		candidate              diff.Content
		expectedClassification diff.Classification
		expectCheckIgnore      bool
	}{
		{name: "ignored_new_file", checkIgnoreOutput: testConfigFileNameConstant + "\n", candidate: diff.PresentContent([]byte("{}\n")), expectedClassification: diff.ClassificationUnchanged, expectCheckIgnore: true},
		{name: "not_ignored_new_file", checkIgnoreError: errors.New("exit status 1"), candidate: diff.PresentContent([]byte("{}\n")), expectedClassification: diff.ClassificationNew, expectCheckIgnore: true},
		{name: "ignored_deletion", checkIgnoreOutput: testConfigFileNameConstant + "\n", seedContent: stringPointer("{}\n"), candidate: diff.AbsentContent(), expectedClassification: diff.ClassificationUnchanged, expectCheckIgnore: true},
		{name: "identical_content_skips_lookup", seedContent: stringPointer("{}\n"), candidate: diff.PresentContent([]byte("{}\n")), expectedClassification: diff.ClassificationUnchanged},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			executor := &scriptedShellExecutor{handler: func(commandLine string, _ string) (string, error) {
				if strings.Contains(commandLine, "check-ignore") {
					return testCase.checkIgnoreOutput, testCase.checkIgnoreError
				}
				return "", nil
			}}
			driver, workspace, _ := newTestDriver(testInstance, executor, 0)
			require.NoError(testInstance, os.MkdirAll(workspace, 0o755))
			if testCase.seedContent != nil {
				require.NoError(testInstance, os.WriteFile(filepath.Join(workspace, testConfigFileNameConstant), []byte(*testCase.seedContent), 0o644))
			}

			classification, classifyError := driver.WouldChange(context.Background(), testConfigFileNameConstant, testCase.candidate)
			require.NoError(testInstance, classifyError)
			require.Equal(testInstance, testCase.expectedClassification, classification)

			checkIgnoreCommands := executor.commandsContaining("check-ignore")
			if !testCase.expectCheckIgnore {
				require.Empty(testInstance, checkIgnoreCommands)
				return
			}
			require.Equal(testInstance, []string{"git check-ignore -- 'config.json'"}, checkIgnoreCommands)
		})
	}
}

func TestWouldChangeDoesNotMutateWorkspace(testInstance *testing.T) {
	driver, workspace, _ := newTestDriver(testInstance, &scriptedShellExecutor{}, 0)
	require.NoError(testInstance, os.MkdirAll(workspace, 0o755))

	classification, classifyError := driver.WouldChange(context.Background(), testConfigFileNameConstant, diff.PresentContent([]byte("{}\n")))
	require.NoError(testInstance, classifyError)
	require.Equal(testInstance, diff.ClassificationNew, classification)
	require.NoFileExists(testInstance, filepath.Join(workspace, testConfigFileNameConstant))

	require.NoError(testInstance, driver.WriteFile("nested/"+testConfigFileNameConstant, []byte("{}\n")))
	classification, classifyError = driver.WouldChange(context.Background(), "nested/"+testConfigFileNameConstant, diff.PresentContent([]byte("{}\n")))
	require.NoError(testInstance, classifyError)
	require.Equal(testInstance, diff.ClassificationUnchanged, classification)

	classification, classifyError = driver.WouldChange(context.Background(), "nested/"+testConfigFileNameConstant, diff.AbsentContent())
	require.NoError(testInstance, classifyError)
	require.Equal(testInstance, diff.ClassificationDeleted, classification)
	require.FileExists(testInstance, filepath.Join(workspace, "nested", testConfigFileNameConstant))
}

func stringPointer(value string) *string {
	return &value
}

func TestFileExists(testInstance *testing.T) {
	driver, workspace, _ := newTestDriver(testInstance, &scriptedShellExecutor{}, 0)
	require.NoError(testInstance, os.MkdirAll(filepath.Join(workspace, "nested"), 0o755))
	require.NoError(testInstance, os.WriteFile(filepath.Join(workspace, "nested", testConfigFileNameConstant), []byte("{}\n"), 0o644))

	testCases := []struct {
		name           string
		fileName       string
		expectedExists bool
		expectError    bool
	}{
		{name: "present", fileName: "nested/" + testConfigFileNameConstant, expectedExists: true},
		{name: "missing", fileName: testConfigFileNameConstant},
		{name: "escaping", fileName: "../" + testConfigFileNameConstant, expectError: true},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			exists, existsError := driver.FileExists(testCase.fileName)
			if testCase.expectError {
				require.IsType(testInstance, gitrepo.InvalidFileNameError{}, existsError)
				return
			}
			require.NoError(testInstance, existsError)
			require.Equal(testInstance, testCase.expectedExists, exists)
		})
	}
}
