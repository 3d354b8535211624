package configsync_test

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/temirov/cfgsync/internal/configsync"
	"github.com/temirov/cfgsync/internal/filesystem"
	"github.com/temirov/cfgsync/internal/gitrepo"
	"github.com/temirov/cfgsync/internal/manifest"
	"github.com/temirov/cfgsync/internal/publish"
	"github.com/temirov/cfgsync/internal/render"
	"github.com/temirov/cfgsync/internal/retry"
	"github.com/temirov/cfgsync/internal/syncconfig"
)

const (
	gitDirectoryNameConstant     = ".git"
	cloneCommandMarkerConstant   = " clone "
	lsRemoteCommandMarker        = " ls-remote "
	verifyBranchCommandMarker    = "rev-parse --verify --quiet 'refs/heads/"
	statusCommandMarkerConstant  = " status --porcelain"
	checkIgnoreCommandMarker     = " check-ignore "
	checkoutCreateCommandMarker  = "checkout -b"
	commitCommandMarkerConstant  = " commit "
	pushCommandMarkerConstant    = " push "
	remoteHeadOutputConstant     = "ref: refs/heads/main\tHEAD\n"
	modifiedStatusLineConstant   = " M "
	unknownRemoteMessageConstant = "fatal: repository not found"
	branchMissingMessageConstant = "branch missing"
	notIgnoredMessageConstant    = "exit status 1"
	testConfigurationIDConstant  = "platform"
)

// scriptedRemote is the initial tree of a fake origin. Untracked paths listed
// in ignored are hidden from status the way a .gitignore entry hides them.
type scriptedRemote struct {
	files   map[string]string
	ignored []string
}

// scriptedGitExecutor emulates the git commands the driver issues against
// real workspace directories.
type scriptedGitExecutor struct {
	mutex              sync.Mutex
	remotes            map[string]scriptedRemote
	workspaceRemotes   map[string]scriptedRemote
	executedCommands   []string
	failingSubcommands map[string]error
}

func newScriptedGitExecutor(remotes map[string]scriptedRemote) *scriptedGitExecutor {
	return &scriptedGitExecutor{
		remotes:            remotes,
		workspaceRemotes:   map[string]scriptedRemote{},
		failingSubcommands: map[string]error{},
	}
}

func (executor *scriptedGitExecutor) ExecuteShell(_ context.Context, commandLine string, workingDirectory string) (string, error) {
	executor.mutex.Lock()
	executor.executedCommands = append(executor.executedCommands, commandLine)
	for marker, failure := range executor.failingSubcommands {
		if strings.Contains(commandLine, marker) {
			executor.mutex.Unlock()
			return "", failure
		}
	}
	executor.mutex.Unlock()

	switch {
	case strings.Contains(commandLine, cloneCommandMarkerConstant):
		return "", executor.clone(commandLine, workingDirectory)
	case strings.Contains(commandLine, lsRemoteCommandMarker):
		return remoteHeadOutputConstant, nil
	case strings.Contains(commandLine, verifyBranchCommandMarker):
		return "", errors.New(branchMissingMessageConstant)
	case strings.Contains(commandLine, statusCommandMarkerConstant):
		return executor.status(workingDirectory)
	case strings.Contains(commandLine, checkIgnoreCommandMarker):
		return executor.checkIgnore(commandLine, workingDirectory)
	default:
		return "", nil
	}
}

func (executor *scriptedGitExecutor) clone(commandLine string, parentDirectory string) error {
	quotedSegments := strings.Split(commandLine, "'")
	if len(quotedSegments) < 4 {
		return errors.New(unknownRemoteMessageConstant)
	}
	remoteURL := quotedSegments[1]
	workspace := filepath.Join(parentDirectory, quotedSegments[3])

	executor.mutex.Lock()
	remote, known := executor.remotes[remoteURL]
	if known {
		executor.workspaceRemotes[workspace] = remote
	}
	executor.mutex.Unlock()
	if !known {
		return errors.New(unknownRemoteMessageConstant)
	}

	if mkdirError := os.MkdirAll(filepath.Join(workspace, gitDirectoryNameConstant), 0o755); mkdirError != nil {
		return mkdirError
	}
	for fileName, fileContent := range remote.files {
		filePath := filepath.Join(workspace, filepath.FromSlash(fileName))
		if mkdirError := os.MkdirAll(filepath.Dir(filePath), 0o755); mkdirError != nil {
			return mkdirError
		}
		if writeError := os.WriteFile(filePath, []byte(fileContent), 0o644); writeError != nil {
			return writeError
		}
	}
	return nil
}

func (executor *scriptedGitExecutor) status(workspace string) (string, error) {
	executor.mutex.Lock()
	remote := executor.workspaceRemotes[workspace]
	executor.mutex.Unlock()

	var statusLines []string
	observed := map[string]bool{}
	walkError := filepath.WalkDir(workspace, func(currentPath string, entry fs.DirEntry, walkError error) error {
		if walkError != nil {
			return walkError
		}
		if entry.IsDir() {
			if entry.Name() == gitDirectoryNameConstant {
				return filepath.SkipDir
			}
			return nil
		}
		relativePath, relativeError := filepath.Rel(workspace, currentPath)
		if relativeError != nil {
			return relativeError
		}
		fileName := filepath.ToSlash(relativePath)
		observed[fileName] = true
		if _, seeded := remote.files[fileName]; !seeded && slices.Contains(remote.ignored, fileName) {
			return nil
		}
		currentContent, readError := os.ReadFile(currentPath)
		if readError != nil {
			return readError
		}
		if seededContent, seeded := remote.files[fileName]; !seeded || seededContent != string(currentContent) {
			statusLines = append(statusLines, modifiedStatusLineConstant+fileName)
		}
		return nil
	})
	if walkError != nil {
		return "", walkError
	}
	for fileName := range remote.files {
		if !observed[fileName] {
			statusLines = append(statusLines, modifiedStatusLineConstant+fileName)
		}
	}
	return strings.Join(statusLines, "\n"), nil
}

func (executor *scriptedGitExecutor) checkIgnore(commandLine string, workspace string) (string, error) {
	executor.mutex.Lock()
	remote := executor.workspaceRemotes[workspace]
	executor.mutex.Unlock()

	quotedSegments := strings.Split(commandLine, "'")
	if len(quotedSegments) < 2 {
		return "", errors.New(notIgnoredMessageConstant)
	}
	fileName := quotedSegments[1]
	if _, tracked := remote.files[fileName]; tracked || !slices.Contains(remote.ignored, fileName) {
		return "", errors.New(notIgnoredMessageConstant)
	}
	return fileName + "\n", nil
}

func (executor *scriptedGitExecutor) failOn(marker string, failure error) {
	executor.mutex.Lock()
	defer executor.mutex.Unlock()
	executor.failingSubcommands[marker] = failure
}

func (executor *scriptedGitExecutor) commandsContaining(marker string) []string {
	executor.mutex.Lock()
	defer executor.mutex.Unlock()
	var matchingCommands []string
	for _, executedCommand := range executor.executedCommands {
		if strings.Contains(executedCommand, marker) {
			matchingCommands = append(matchingCommands, executedCommand)
		}
	}
	return matchingCommands
}

// recordingPublisher captures publish requests and answers with a canned result.
type recordingPublisher struct {
	mutex    sync.Mutex
	requests []publish.Request
	result   publish.Result
	failure  error
}

func (publisher *recordingPublisher) CreatePR(_ context.Context, request publish.Request) (publish.Result, error) {
	publisher.mutex.Lock()
	defer publisher.mutex.Unlock()
	publisher.requests = append(publisher.requests, request)
	if publisher.failure != nil {
		return publish.Result{}, publisher.failure
	}
	if request.DryRun {
		return publish.Result{Success: true, Message: "[DRY RUN] Would create PR: " + publish.FormatTitle(request.FileActions), MergeOutcome: publish.MergeModeManual}, nil
	}
	return publisher.result, nil
}

func (publisher *recordingPublisher) recordedRequests() []publish.Request {
	publisher.mutex.Lock()
	defer publisher.mutex.Unlock()
	return append([]publish.Request{}, publisher.requests...)
}

type serviceFixture struct {
	executor  *scriptedGitExecutor
	publisher *recordingPublisher
	workRoot  string
}

func newServiceFixture(testInstance *testing.T, remotes map[string]scriptedRemote) *serviceFixture {
	testInstance.Helper()
	return &serviceFixture{
		executor: newScriptedGitExecutor(remotes),
		publisher: &recordingPublisher{result: publish.Result{
			Success:      true,
			Message:      "PR created",
			URL:          "https://github.com/acme/api/pull/7",
			MergeOutcome: publish.MergeModeManual,
		}},
		workRoot: testInstance.TempDir(),
	}
}

func (fixture *serviceFixture) serviceFactory(testInstance *testing.T, logger *zap.Logger) configsync.ServiceFactory {
	testInstance.Helper()
	fileSystem := filesystem.OSFileSystem{}
	manifestStore, storeError := manifest.NewStore(fileSystem, logger)
	require.NoError(testInstance, storeError)
	driverFactory := func(workspace string) (configsync.RepositoryDriver, error) {
		return gitrepo.NewDriver(workspace, fixture.executor, fileSystem, retry.Policy{Retries: 0}, logger)
	}
	return func(configuration syncconfig.Configuration, options configsync.ServiceOptions) (*configsync.Service, error) {
		renderer, rendererError := render.NewRenderer(fileSystem, configuration.BaseDirectory)
		if rendererError != nil {
			return nil, rendererError
		}
		return configsync.NewService(configuration, options, driverFactory, manifestStore, renderer, fixture.publisher, logger)
	}
}

func (fixture *serviceFixture) newService(testInstance *testing.T, configuration syncconfig.Configuration, options configsync.ServiceOptions, logger *zap.Logger) *configsync.Service {
	testInstance.Helper()
	service, serviceError := fixture.serviceFactory(testInstance, logger)(configuration, options)
	require.NoError(testInstance, serviceError)
	return service
}

func encodedFile(testInstance *testing.T, fileName string, content any) string {
	testInstance.Helper()
	encoded, encodeError := render.Encode(fileName, content)
	require.NoError(testInstance, encodeError)
	return string(encoded)
}

func encodedManifest(testInstance *testing.T, configs map[string][]string) string {
	testInstance.Helper()
	encoded, encodeError := manifest.Encode(manifest.Manifest{Version: manifest.SchemaVersionCurrent, Configs: configs})
	require.NoError(testInstance, encodeError)
	return string(encoded)
}
