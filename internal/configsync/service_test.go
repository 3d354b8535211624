package configsync_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/temirov/cfgsync/internal/configsync"
	"github.com/temirov/cfgsync/internal/diff"
	"github.com/temirov/cfgsync/internal/manifest"
	"github.com/temirov/cfgsync/internal/publish"
	"github.com/temirov/cfgsync/internal/syncconfig"
)

const (
	testAPIRemoteConstant      = "https://github.com/acme/api.git"
	testWebRemoteConstant      = "git@github.com:acme/web.git"
	testMissingRemoteConstant  = "https://github.com/acme/missing.git"
	testInvalidRemoteConstant  = "ftp://example.com/acme/api"
	testConfigFileConstant     = "config.json"
	testSettingsFileConstant   = "settings.yml"
	testOrphanFileConstant     = "old.json"
	testNoChangesMessage       = "No changes detected"
	testPlannedChangeMessage   = "Planned change"
	testSingleFileBranchName   = "chore/sync-config.json"
	testConfiguredBranchName   = "chore/platform-files"
	testPushFailureMessage     = "fatal: unable to access remote"
	testPublishFailureMessage  = "gh: rate limited"
	testPullRequestURLConstant = "https://github.com/acme/api/pull/7"
)

func configFileSpecification() syncconfig.FileSpecification {
	return syncconfig.FileSpecification{Name: testConfigFileConstant, Content: map[string]any{"a": 1}}
}

func singleRepositoryConfiguration(repository syncconfig.RepositorySpecification) syncconfig.Configuration {
	return syncconfig.Configuration{ID: testConfigurationIDConstant, Repositories: []syncconfig.RepositorySpecification{repository}}
}

func processSingle(testInstance *testing.T, fixture *serviceFixture, repository syncconfig.RepositorySpecification, options configsync.ServiceOptions) configsync.RunOutcome {
	testInstance.Helper()
	service := fixture.newService(testInstance, singleRepositoryConfiguration(repository), options, zap.NewNop())
	return service.ProcessRepository(context.Background(), configsync.RepositoryJob{Repository: repository, Workspace: fixture.workRoot + "/repo-0"})
}

func TestNewServiceValidatesDependencies(testInstance *testing.T) {
	fixture := newServiceFixture(testInstance, nil)
	validService := fixture.newService(testInstance, syncconfig.Configuration{}, configsync.ServiceOptions{}, nil)
	require.NotNil(testInstance, validService)

	_, driverError := configsync.NewService(syncconfig.Configuration{}, configsync.ServiceOptions{}, nil, nil, nil, nil, nil)
	require.ErrorIs(testInstance, driverError, configsync.ErrDriverFactoryNotConfigured)

	driverFactory := func(string) (configsync.RepositoryDriver, error) { return nil, nil }
	_, storeError := configsync.NewService(syncconfig.Configuration{}, configsync.ServiceOptions{}, driverFactory, nil, nil, nil, nil)
	require.ErrorIs(testInstance, storeError, configsync.ErrManifestStoreNotConfigured)
}

func TestProcessRepositoryCreatesNewFile(testInstance *testing.T) {
	fixture := newServiceFixture(testInstance, map[string]scriptedRemote{
		testAPIRemoteConstant: {files: map[string]string{"README.md": "# api\n"}},
	})
	repository := syncconfig.RepositorySpecification{Remote: testAPIRemoteConstant, Files: []syncconfig.FileSpecification{configFileSpecification()}}

	outcome := processSingle(testInstance, fixture, repository, configsync.ServiceOptions{})

	require.Equal(testInstance, configsync.RunStatusSucceeded, outcome.Status, outcome.Message)
	require.Equal(testInstance, configsync.StepPublishRequest, outcome.Step)
	require.Equal(testInstance, "acme/api", outcome.RepositoryName)
	require.Equal(testInstance, testPullRequestURLConstant, outcome.RequestURL)
	require.Equal(testInstance, []diff.FileAction{{FileName: testConfigFileConstant, Action: diff.ActionCreate}}, outcome.FileChanges)

	require.Len(testInstance, fixture.executor.commandsContaining(checkoutCreateCommandMarker+" '"+testSingleFileBranchName+"'"), 1)
	commitCommands := fixture.executor.commandsContaining(commitCommandMarkerConstant)
	require.Len(testInstance, commitCommands, 1)
	require.Contains(testInstance, commitCommands[0], "'chore: sync config.json'")
	require.Len(testInstance, fixture.executor.commandsContaining(pushCommandMarkerConstant), 1)

	requests := fixture.publisher.recordedRequests()
	require.Len(testInstance, requests, 1)
	require.Equal(testInstance, testSingleFileBranchName, requests[0].BranchName)
	require.Equal(testInstance, "main", requests[0].BaseBranch)
	require.False(testInstance, requests[0].DryRun)
	require.NoDirExists(testInstance, fixture.workRoot+"/repo-0")
}

func TestProcessRepositorySkipsIdenticalContent(testInstance *testing.T) {
	fixture := newServiceFixture(testInstance, map[string]scriptedRemote{
		testAPIRemoteConstant: {files: map[string]string{testConfigFileConstant: encodedFile(testInstance, testConfigFileConstant, map[string]any{"a": 1})}},
	})
	repository := syncconfig.RepositorySpecification{Remote: testAPIRemoteConstant, Files: []syncconfig.FileSpecification{configFileSpecification()}}

	outcome := processSingle(testInstance, fixture, repository, configsync.ServiceOptions{})

	require.Equal(testInstance, configsync.RunStatusSkipped, outcome.Status)
	require.Equal(testInstance, configsync.StepPlan, outcome.Step)
	require.Equal(testInstance, testNoChangesMessage, outcome.Message)
	require.Empty(testInstance, fixture.executor.commandsContaining(checkoutCreateCommandMarker))
	require.Empty(testInstance, fixture.executor.commandsContaining(commitCommandMarkerConstant))
	require.Empty(testInstance, fixture.executor.commandsContaining(pushCommandMarkerConstant))
	require.Empty(testInstance, fixture.publisher.recordedRequests())
}

func TestProcessRepositoryDeletesOrphanedFiles(testInstance *testing.T) {
	fixture := newServiceFixture(testInstance, map[string]scriptedRemote{
		testAPIRemoteConstant: {files: map[string]string{
			testOrphanFileConstant: "{}\n",
			manifest.FileName:      encodedManifest(testInstance, map[string][]string{testConfigurationIDConstant: {testOrphanFileConstant}}),
		}},
	})
	fileSpecification := configFileSpecification()
	fileSpecification.DeleteOrphaned = true
	repository := syncconfig.RepositorySpecification{Remote: testAPIRemoteConstant, Files: []syncconfig.FileSpecification{fileSpecification}}

	outcome := processSingle(testInstance, fixture, repository, configsync.ServiceOptions{})

	require.Equal(testInstance, configsync.RunStatusSucceeded, outcome.Status, outcome.Message)
	require.ElementsMatch(testInstance, []diff.FileAction{
		{FileName: testConfigFileConstant, Action: diff.ActionCreate},
		{FileName: testOrphanFileConstant, Action: diff.ActionDelete},
	}, outcome.FileChanges)
	commitCommands := fixture.executor.commandsContaining(commitCommandMarkerConstant)
	require.Len(testInstance, commitCommands, 1)
	require.Contains(testInstance, commitCommands[0], testOrphanFileConstant)
}

func TestProcessRepositoryKeepsOtherConfigurationsFiles(testInstance *testing.T) {
	fixture := newServiceFixture(testInstance, map[string]scriptedRemote{
		testAPIRemoteConstant: {files: map[string]string{
			testOrphanFileConstant: "{}\n",
			manifest.FileName:      encodedManifest(testInstance, map[string][]string{"security": {testOrphanFileConstant}}),
		}},
	})
	fileSpecification := configFileSpecification()
	fileSpecification.DeleteOrphaned = true
	repository := syncconfig.RepositorySpecification{Remote: testAPIRemoteConstant, Files: []syncconfig.FileSpecification{fileSpecification}}

	outcome := processSingle(testInstance, fixture, repository, configsync.ServiceOptions{})

	require.Equal(testInstance, configsync.RunStatusSucceeded, outcome.Status, outcome.Message)
	require.Equal(testInstance, []diff.FileAction{{FileName: testConfigFileConstant, Action: diff.ActionCreate}}, outcome.FileChanges)
}

func TestProcessRepositoryIgnoresManifestEntriesOutsideWorkspace(testInstance *testing.T) {
	testCases := []struct {
		name    string
		options configsync.ServiceOptions
	}{
		{name: "live"},
		{name: "dry_run", options: configsync.ServiceOptions{DryRun: true}},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			fixture := newServiceFixture(testInstance, map[string]scriptedRemote{
				testAPIRemoteConstant: {files: map[string]string{
					"keep.json":       "{}\n",
					manifest.FileName: `{"version":2,"configs":{"platform":["../outside.json"],"other":["keep.json"]}}`,
				}},
			})
			fileSpecification := configFileSpecification()
			fileSpecification.DeleteOrphaned = true
			repository := syncconfig.RepositorySpecification{Remote: testAPIRemoteConstant, Files: []syncconfig.FileSpecification{fileSpecification}}

			outcome := processSingle(testInstance, fixture, repository, testCase.options)

			require.Equal(testInstance, configsync.RunStatusSucceeded, outcome.Status, outcome.Message)
			require.Equal(testInstance, []diff.FileAction{{FileName: testConfigFileConstant, Action: diff.ActionCreate}}, outcome.FileChanges)
		})
	}
}

func TestProcessRepositoryLeavesCreateOnlyFilesUntouched(testInstance *testing.T) {
	fixture := newServiceFixture(testInstance, map[string]scriptedRemote{
		testAPIRemoteConstant: {files: map[string]string{testConfigFileConstant: "{\"local\": true}\n"}},
	})
	createOnlyFile := configFileSpecification()
	createOnlyFile.CreateOnly = true

	testCases := []struct {
		name            string
		files           []syncconfig.FileSpecification
		expectedStatus  configsync.RunStatus
		expectedChanges []diff.FileAction
	}{
		{
			name:           "only_create_only_file",
			files:          []syncconfig.FileSpecification{createOnlyFile},
			expectedStatus: configsync.RunStatusSkipped,
		},
		{
			name:           "create_only_alongside_new_file",
			files:          []syncconfig.FileSpecification{createOnlyFile, {Name: testSettingsFileConstant, Content: map[string]any{"enabled": true}}},
			expectedStatus: configsync.RunStatusSucceeded,
			expectedChanges: []diff.FileAction{
				{FileName: testConfigFileConstant, Action: diff.ActionSkip},
				{FileName: testSettingsFileConstant, Action: diff.ActionCreate},
			},
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			repository := syncconfig.RepositorySpecification{Remote: testAPIRemoteConstant, Files: testCase.files}
			outcome := processSingle(testInstance, fixture, repository, configsync.ServiceOptions{})
			require.Equal(testInstance, testCase.expectedStatus, outcome.Status, outcome.Message)
			require.Equal(testInstance, testCase.expectedChanges, outcome.FileChanges)
		})
	}
	commitCommands := fixture.executor.commandsContaining(commitCommandMarkerConstant)
	require.Len(testInstance, commitCommands, 1)
	require.Contains(testInstance, commitCommands[0], "'chore: sync settings.yml'")
}

func TestDryRunMatchesLiveVerdict(testInstance *testing.T) {
	testCases := []struct {
		name           string
		seededFiles    map[string]string
		ignoredFiles   []string
		deleteOrphaned bool
		expectSkipped  bool
	}{
		{name: "new_file", seededFiles: map[string]string{}},
		{name: "ignored_new_file", seededFiles: map[string]string{".gitignore": "config.json\n"}, ignoredFiles: []string{testConfigFileConstant}, expectSkipped: true},
		{name: "identical_file", seededFiles: map[string]string{testConfigFileConstant: "{\n  \"a\": 1\n}\n"}},
		{name: "modified_file", seededFiles: map[string]string{testConfigFileConstant: "{\n  \"a\": 2\n}\n"}},
		{
			name: "orphaned_file",
			seededFiles: map[string]string{
				testOrphanFileConstant: "{}\n",
				manifest.FileName:      "{\"version\":2,\"configs\":{\"platform\":[\"old.json\"]}}\n",
			},
			deleteOrphaned: true,
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			fileSpecification := configFileSpecification()
			fileSpecification.DeleteOrphaned = testCase.deleteOrphaned
			repository := syncconfig.RepositorySpecification{Remote: testAPIRemoteConstant, Files: []syncconfig.FileSpecification{fileSpecification}}

			seededRemote := scriptedRemote{files: testCase.seededFiles, ignored: testCase.ignoredFiles}
			dryRunFixture := newServiceFixture(testInstance, map[string]scriptedRemote{testAPIRemoteConstant: seededRemote})
			dryRunOutcome := processSingle(testInstance, dryRunFixture, repository, configsync.ServiceOptions{DryRun: true})
			liveFixture := newServiceFixture(testInstance, map[string]scriptedRemote{testAPIRemoteConstant: seededRemote})
			liveOutcome := processSingle(testInstance, liveFixture, repository, configsync.ServiceOptions{})

			require.Equal(testInstance, liveOutcome.Status, dryRunOutcome.Status, dryRunOutcome.Message)
			if testCase.expectSkipped {
				require.Equal(testInstance, configsync.RunStatusSkipped, liveOutcome.Status, liveOutcome.Message)
			}
			require.Equal(testInstance, liveOutcome.FileChanges, dryRunOutcome.FileChanges)
			require.Empty(testInstance, dryRunFixture.executor.commandsContaining(checkoutCreateCommandMarker))
			require.Empty(testInstance, dryRunFixture.executor.commandsContaining(commitCommandMarkerConstant))
			require.Empty(testInstance, dryRunFixture.executor.commandsContaining(pushCommandMarkerConstant))
			for _, request := range dryRunFixture.publisher.recordedRequests() {
				require.True(testInstance, request.DryRun)
			}
		})
	}
}

func TestDryRunLogsDiffPreview(testInstance *testing.T) {
	observedCore, observedLogs := observer.New(zapcore.InfoLevel)
	fixture := newServiceFixture(testInstance, map[string]scriptedRemote{
		testAPIRemoteConstant: {files: map[string]string{testConfigFileConstant: "{\n  \"a\": 2\n}\n"}},
	})
	repository := syncconfig.RepositorySpecification{Remote: testAPIRemoteConstant, Files: []syncconfig.FileSpecification{configFileSpecification()}}
	service := fixture.newService(testInstance, singleRepositoryConfiguration(repository), configsync.ServiceOptions{DryRun: true}, zap.New(observedCore))

	outcome := service.ProcessRepository(context.Background(), configsync.RepositoryJob{Repository: repository, Workspace: fixture.workRoot + "/repo-0"})

	require.Equal(testInstance, configsync.RunStatusSucceeded, outcome.Status, outcome.Message)
	previewEntries := observedLogs.FilterMessage(testPlannedChangeMessage).All()
	require.Len(testInstance, previewEntries, 1)
	previewFields := previewEntries[0].ContextMap()
	require.Equal(testInstance, testConfigFileConstant, previewFields["file"])
	require.Equal(testInstance, string(diff.ActionUpdate), previewFields["action"])
	require.Contains(testInstance, previewFields["diff"], "+  \"a\": 1")
}

func TestProcessRepositoryReportsFailingStep(testInstance *testing.T) {
	testCases := []struct {
		name         string
		remote       string
		failMarker   string
		publishError error
		expectedStep configsync.PipelineStep
		expectedText string
	}{
		{name: "unparseable_address", remote: testInvalidRemoteConstant, expectedStep: configsync.StepParseAddress},
		{name: "clone_failure", remote: testMissingRemoteConstant, expectedStep: configsync.StepClone, expectedText: unknownRemoteMessageConstant},
		{name: "push_failure", remote: testAPIRemoteConstant, failMarker: pushCommandMarkerConstant, expectedStep: configsync.StepPush, expectedText: testPushFailureMessage},
		{name: "publish_failure", remote: testAPIRemoteConstant, publishError: errors.New(testPublishFailureMessage), expectedStep: configsync.StepPublishRequest, expectedText: testPublishFailureMessage},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			fixture := newServiceFixture(testInstance, map[string]scriptedRemote{testAPIRemoteConstant: {files: map[string]string{}}})
			if len(testCase.failMarker) > 0 {
				fixture.executor.failOn(testCase.failMarker, errors.New(testPushFailureMessage))
			}
			fixture.publisher.failure = testCase.publishError
			repository := syncconfig.RepositorySpecification{Remote: testCase.remote, Files: []syncconfig.FileSpecification{configFileSpecification()}}

			outcome := processSingle(testInstance, fixture, repository, configsync.ServiceOptions{})

			require.Equal(testInstance, configsync.RunStatusFailed, outcome.Status)
			require.Equal(testInstance, testCase.expectedStep, outcome.Step)
			require.Contains(testInstance, outcome.Message, string(testCase.expectedStep))
			require.Contains(testInstance, outcome.Message, testCase.expectedText)
			require.NoDirExists(testInstance, fixture.workRoot+"/repo-0")
		})
	}
}

func TestProcessRepositoryDirectModeSkipsBranchPush(testInstance *testing.T) {
	fixture := newServiceFixture(testInstance, map[string]scriptedRemote{testAPIRemoteConstant: {files: map[string]string{}}})
	fixture.publisher.result = publish.Result{Success: true, Message: "Pushed directly to main", MergeOutcome: publish.MergeModeDirect}
	repository := syncconfig.RepositorySpecification{
		Remote:             testAPIRemoteConstant,
		Files:              []syncconfig.FileSpecification{configFileSpecification()},
		PullRequestOptions: syncconfig.PullRequestOptions{Merge: string(publish.MergeModeDirect)},
	}

	outcome := processSingle(testInstance, fixture, repository, configsync.ServiceOptions{})

	require.Equal(testInstance, configsync.RunStatusSucceeded, outcome.Status, outcome.Message)
	require.Equal(testInstance, publish.MergeModeDirect, outcome.MergeOutcome)
	require.Empty(testInstance, outcome.RequestURL)
	require.Empty(testInstance, fixture.executor.commandsContaining(pushCommandMarkerConstant))
	requests := fixture.publisher.recordedRequests()
	require.Len(testInstance, requests, 1)
	require.Equal(testInstance, publish.MergeModeDirect, requests[0].Merge.Mode)
}

func TestProcessRepositoryCarriesMergeWarning(testInstance *testing.T) {
	fixture := newServiceFixture(testInstance, map[string]scriptedRemote{testAPIRemoteConstant: {files: map[string]string{}}})
	fixture.publisher.result = publish.Result{
		Success:      true,
		Message:      "PR created (auto merge could not be requested: protected branch)",
		URL:          testPullRequestURLConstant,
		MergeOutcome: publish.MergeModeManual,
		MergeWarning: "auto merge could not be requested: protected branch",
	}
	repository := syncconfig.RepositorySpecification{Remote: testAPIRemoteConstant, Files: []syncconfig.FileSpecification{configFileSpecification()}}

	outcome := processSingle(testInstance, fixture, repository, configsync.ServiceOptions{})

	require.Equal(testInstance, configsync.RunStatusSucceeded, outcome.Status, outcome.Message)
	require.Equal(testInstance, publish.MergeModeManual, outcome.MergeOutcome)
	require.Equal(testInstance, "auto merge could not be requested: protected branch", outcome.Warning)
}

func TestProcessRepositoryUsesConfiguredBranch(testInstance *testing.T) {
	fixture := newServiceFixture(testInstance, map[string]scriptedRemote{testAPIRemoteConstant: {files: map[string]string{}}})
	repository := syncconfig.RepositorySpecification{Remote: testAPIRemoteConstant, Files: []syncconfig.FileSpecification{configFileSpecification()}}
	configuration := singleRepositoryConfiguration(repository)
	configuration.Branch = testConfiguredBranchName
	service := fixture.newService(testInstance, configuration, configsync.ServiceOptions{}, zap.NewNop())

	outcome := service.ProcessRepository(context.Background(), configsync.RepositoryJob{Repository: repository, Workspace: fixture.workRoot + "/repo-0"})

	require.Equal(testInstance, configsync.RunStatusSucceeded, outcome.Status, outcome.Message)
	require.Len(testInstance, fixture.executor.commandsContaining("'"+testConfiguredBranchName+"'"), 2)
}

func TestResolveBranchName(testInstance *testing.T) {
	singleFile := []syncconfig.FileSpecification{{Name: ".github/workflows/ci.yml"}}
	multipleFiles := []syncconfig.FileSpecification{{Name: "a.json"}, {Name: "b.json"}}

	testCases := []struct {
		name             string
		override         string
		definitionBranch string
		files            []syncconfig.FileSpecification
		expectedBranch   string
	}{
		{name: "override_wins", override: "feature/x", definitionBranch: "chore/y", files: singleFile, expectedBranch: "feature/x"},
		{name: "definition_branch", definitionBranch: "chore/y", files: multipleFiles, expectedBranch: "chore/y"},
		{name: "single_file", files: singleFile, expectedBranch: "chore/sync-ci.yml"},
		{name: "multiple_files", files: multipleFiles, expectedBranch: "chore/sync-config"},
		{name: "no_files", expectedBranch: "chore/sync-config"},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			require.Equal(testInstance, testCase.expectedBranch, configsync.ResolveBranchName(testCase.override, testCase.definitionBranch, testCase.files))
		})
	}
}
