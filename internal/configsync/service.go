package configsync

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/temirov/cfgsync/internal/diff"
	"github.com/temirov/cfgsync/internal/gitrepo"
	"github.com/temirov/cfgsync/internal/manifest"
	"github.com/temirov/cfgsync/internal/publish"
	"github.com/temirov/cfgsync/internal/render"
	"github.com/temirov/cfgsync/internal/syncconfig"
)

const (
	noChangesMessageConstant        = "No changes detected"
	defaultBranchNameConstant       = "chore/sync-config"
	singleFileBranchPrefixConstant  = "chore/sync-"
	branchUnsafeCharactersConstant  = " \t/\\:~^?*["
	branchSafeReplacementConstant   = "-"
	stepFailureTemplateConstant     = "%s: %v"
	renderFileErrorTemplateConstant = "render %s: %w"
	manifestSaveErrorTemplate       = "save manifest: %w"
	publishFailedMessageConstant    = "publisher reported failure"
	driverFactoryMissingMessage     = "driver factory not configured"
	manifestStoreMissingMessage     = "manifest store not configured"
	publisherMissingMessageConstant = "publisher not configured"
	rendererMissingMessageConstant  = "renderer not configured"
	logMessageStepStarted           = "Pipeline step"
	logMessageRepositoryFinished    = "Repository processed"
	logMessageBaseBranch            = "Using base branch"
	logMessageCleanupFailed         = "Workspace cleanup failed"
	logMessagePreview               = "Planned change"
	logMessagePreviewFailed         = "Could not render diff preview"
	logMessageCreateOnlySkipped     = "Existing file left untouched"
	logMessageOrphanScheduled       = "Orphaned file scheduled for deletion"
	logMessageRepositoryWarning     = "Repository needs attention"
	logFieldRepositoryConstant      = "repository"
	logFieldStepConstant            = "step"
	logFieldStatusConstant          = "status"
	logFieldBranchConstant          = "branch"
	logFieldFileConstant            = "file"
	logFieldActionConstant          = "action"
	logFieldDiffConstant            = "diff"
	logFieldDetectionMethodConstant = "base_branch_method"
	logFieldBaseBranchConstant      = "base_branch"
	logFieldMessageConstant         = "message"
	logFieldWarningConstant         = "warning"
)

var (
	// ErrDriverFactoryNotConfigured indicates a nil driver factory was supplied.
	ErrDriverFactoryNotConfigured = errors.New(driverFactoryMissingMessage)
	// ErrManifestStoreNotConfigured indicates a nil manifest store was supplied.
	ErrManifestStoreNotConfigured = errors.New(manifestStoreMissingMessage)
	// ErrPublisherNotConfigured indicates a nil publisher was supplied.
	ErrPublisherNotConfigured = errors.New(publisherMissingMessageConstant)
	// ErrRendererNotConfigured indicates a nil renderer was supplied.
	ErrRendererNotConfigured = errors.New(rendererMissingMessageConstant)
)

// RunStatus is the terminal state of one repository.
type RunStatus string

// Terminal states.
const (
	RunStatusSucceeded RunStatus = RunStatus("succeeded")
	RunStatusSkipped   RunStatus = RunStatus("skipped")
	RunStatusFailed    RunStatus = RunStatus("failed")
)

// PipelineStep names one stage of the per-repository pipeline.
type PipelineStep string

// Pipeline steps in execution order.
const (
	StepParseAddress     PipelineStep = PipelineStep("parse-address")
	StepClean            PipelineStep = PipelineStep("clean")
	StepClone            PipelineStep = PipelineStep("clone")
	StepDetectBaseBranch PipelineStep = PipelineStep("detect-base-branch")
	StepPlan             PipelineStep = PipelineStep("plan")
	StepCreateBranch     PipelineStep = PipelineStep("create-branch")
	StepRenderAndWrite   PipelineStep = PipelineStep("render-and-write")
	StepDetectChanges    PipelineStep = PipelineStep("detect-changes")
	StepCommit           PipelineStep = PipelineStep("commit")
	StepPush             PipelineStep = PipelineStep("push")
	StepPublishRequest   PipelineStep = PipelineStep("publish-request")
)

// RunOutcome is the result of processing one repository. Step is the step that
// produced the terminal state.
type RunOutcome struct {
	RepositoryName string
	Remote         string
	Status         RunStatus
	Step           PipelineStep
	Message        string
	RequestURL     string
	MergeOutcome   publish.MergeMode
	FileChanges    []diff.FileAction
	// Warning notes a follow-up the operator must handle on an otherwise successful run.
	Warning string
}

// RepositoryDriver is the version-control surface the pipeline needs for one workspace.
type RepositoryDriver interface {
	Workspace() string
	CleanWorkspace() error
	Clone(executionContext context.Context, remoteURL string) error
	GetDefaultBranch(executionContext context.Context) (gitrepo.DefaultBranch, error)
	CreateBranch(executionContext context.Context, branchName string) error
	ReadFile(fileName string) (diff.Content, error)
	FileExists(fileName string) (bool, error)
	WouldChange(executionContext context.Context, fileName string, candidate diff.Content) (diff.Classification, error)
	WriteFile(fileName string, content []byte) error
	DeleteFile(fileName string) error
	HasChanges(executionContext context.Context) (bool, error)
	Commit(executionContext context.Context, message string) error
	Push(executionContext context.Context, branchName string) error
}

// DriverFactory binds a RepositoryDriver to a workspace directory.
type DriverFactory func(workspace string) (RepositoryDriver, error)

// RequestPublisher publishes a pushed branch.
type RequestPublisher interface {
	CreatePR(executionContext context.Context, request publish.Request) (publish.Result, error)
}

// ManifestStore loads and saves the repository manifest.
type ManifestStore interface {
	Load(workDir string) (manifest.Manifest, bool)
	Save(workDir string, manifest manifest.Manifest) error
}

// ContentRenderer resolves content references.
type ContentRenderer interface {
	ResolveReference(content any) (any, error)
}

// ServiceOptions are the run-wide settings applied to every repository.
type ServiceOptions struct {
	DryRun         bool
	Retries        int
	BranchOverride string
}

// RepositoryJob is one repository with the workspace it exclusively owns.
type RepositoryJob struct {
	Repository syncconfig.RepositorySpecification
	Workspace  string
}

// Service processes repositories for one loaded sync definition.
type Service struct {
	configuration syncconfig.Configuration
	options       ServiceOptions
	driverFactory DriverFactory
	manifestStore ManifestStore
	renderer      ContentRenderer
	publisher     RequestPublisher
	logger        *zap.Logger
}

// NewService validates dependencies and constructs a Service.
func NewService(configuration syncconfig.Configuration, options ServiceOptions, driverFactory DriverFactory, manifestStore ManifestStore, renderer ContentRenderer, publisher RequestPublisher, logger *zap.Logger) (*Service, error) {
	if driverFactory == nil {
		return nil, ErrDriverFactoryNotConfigured
	}
	if manifestStore == nil {
		return nil, ErrManifestStoreNotConfigured
	}
	if renderer == nil {
		return nil, ErrRendererNotConfigured
	}
	if publisher == nil {
		return nil, ErrPublisherNotConfigured
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		configuration: configuration,
		options:       options,
		driverFactory: driverFactory,
		manifestStore: manifestStore,
		renderer:      renderer,
		publisher:     publisher,
		logger:        logger,
	}, nil
}

// StepError is a failure attributed to one pipeline step.
type StepError struct {
	Step  PipelineStep
	Cause error
}

// Error describes the failed step.
func (stepError StepError) Error() string {
	return fmt.Sprintf(stepFailureTemplateConstant, stepError.Step, stepError.Cause)
}

// Unwrap exposes the step's failure.
func (stepError StepError) Unwrap() error {
	return stepError.Cause
}

// plannedFile is one file decision computed before anything is written.
type plannedFile struct {
	fileName       string
	rendered       []byte
	existing       diff.Content
	classification diff.Classification
	delete         bool
	leaveUntouched bool
}

func (planned plannedFile) action() diff.FileAction {
	if planned.leaveUntouched {
		return diff.FileAction{FileName: planned.fileName, Action: diff.ActionSkip}
	}
	return diff.FileAction{FileName: planned.fileName, Action: diff.ActionFor(planned.classification)}
}

type repositoryPlan struct {
	files                  []plannedFile
	manifest               manifest.Manifest
	writeManifest          bool
	manifestClassification diff.Classification
}

func (plan repositoryPlan) fileActions() []diff.FileAction {
	actions := make([]diff.FileAction, 0, len(plan.files))
	for _, planned := range plan.files {
		actions = append(actions, planned.action())
	}
	return actions
}

func (plan repositoryPlan) changes() bool {
	if plan.writeManifest && plan.manifestClassification.Changes() {
		return true
	}
	for _, planned := range plan.files {
		if !planned.leaveUntouched && planned.classification.Changes() {
			return true
		}
	}
	return false
}

// ProcessRepository runs the pipeline for one repository and always returns an outcome.
// Every failure is converted to a failed outcome; the workspace is removed on exit.
func (service *Service) ProcessRepository(executionContext context.Context, job RepositoryJob) RunOutcome {
	outcome := RunOutcome{RepositoryName: job.Repository.Remote, Remote: job.Repository.Remote}
	repositoryLogger := service.logger.With(zap.String(logFieldRepositoryConstant, job.Repository.Remote))

	finish := func(status RunStatus, step PipelineStep, message string) RunOutcome {
		outcome.Status = status
		outcome.Step = step
		outcome.Message = message
		repositoryLogger.Info(logMessageRepositoryFinished, zap.String(logFieldStatusConstant, string(status)), zap.String(logFieldStepConstant, string(step)), zap.String(logFieldMessageConstant, message))
		return outcome
	}
	fail := func(step PipelineStep, cause error) RunOutcome {
		return finish(RunStatusFailed, step, StepError{Step: step, Cause: cause}.Error())
	}
	enter := func(step PipelineStep) {
		repositoryLogger.Debug(logMessageStepStarted, zap.String(logFieldStepConstant, string(step)))
	}

	enter(StepParseAddress)
	address, addressError := gitrepo.ParseRepositoryAddress(job.Repository.Remote)
	if addressError != nil {
		return fail(StepParseAddress, addressError)
	}
	outcome.RepositoryName = address.DisplayName()
	repositoryLogger = service.logger.With(zap.String(logFieldRepositoryConstant, outcome.RepositoryName))

	mergeOptions, mergeOptionsError := job.Repository.PullRequestOptions.MergeOptions()
	if mergeOptionsError != nil {
		return fail(StepParseAddress, mergeOptionsError)
	}

	driver, driverError := service.driverFactory(job.Workspace)
	if driverError != nil {
		return fail(StepClean, driverError)
	}
	defer func() {
		if cleanupError := driver.CleanWorkspace(); cleanupError != nil {
			repositoryLogger.Warn(logMessageCleanupFailed, zap.Error(cleanupError))
		}
	}()

	enter(StepClean)
	if cleanError := driver.CleanWorkspace(); cleanError != nil {
		return fail(StepClean, cleanError)
	}

	enter(StepClone)
	if cloneError := driver.Clone(executionContext, address.RemoteURL()); cloneError != nil {
		return fail(StepClone, cloneError)
	}

	enter(StepDetectBaseBranch)
	baseBranch, baseBranchError := driver.GetDefaultBranch(executionContext)
	if baseBranchError != nil {
		return fail(StepDetectBaseBranch, baseBranchError)
	}
	repositoryLogger.Info(logMessageBaseBranch, zap.String(logFieldBaseBranchConstant, baseBranch.Name), zap.String(logFieldDetectionMethodConstant, string(baseBranch.Method)))

	enter(StepPlan)
	plan, planError := service.plan(executionContext, driver, job.Repository, repositoryLogger)
	if planError != nil {
		return fail(StepPlan, planError)
	}
	if !plan.changes() {
		return finish(RunStatusSkipped, StepPlan, noChangesMessageConstant)
	}

	branchName := ResolveBranchName(service.options.BranchOverride, service.configuration.Branch, job.Repository.Files)
	publishRequest := publish.Request{
		Address:      address,
		BranchName:   branchName,
		BaseBranch:   baseBranch.Name,
		WorkDir:      driver.Workspace(),
		DryRun:       service.options.DryRun,
		Retries:      service.options.Retries,
		Merge:        mergeOptions,
		BodyTemplate: service.configuration.PullRequestBody,
	}

	if service.options.DryRun {
		outcome.FileChanges = plan.fileActions()
		publishRequest.FileActions = outcome.FileChanges
		return service.publish(executionContext, publishRequest, &outcome, finish, fail)
	}

	enter(StepCreateBranch)
	if branchError := driver.CreateBranch(executionContext, branchName); branchError != nil {
		return fail(StepCreateBranch, branchError)
	}

	enter(StepRenderAndWrite)
	if writeError := service.apply(driver, plan); writeError != nil {
		return fail(StepRenderAndWrite, writeError)
	}

	enter(StepDetectChanges)
	hasChanges, statusError := driver.HasChanges(executionContext)
	if statusError != nil {
		return fail(StepDetectChanges, statusError)
	}
	if !hasChanges {
		return finish(RunStatusSkipped, StepDetectChanges, noChangesMessageConstant)
	}
	outcome.FileChanges = plan.fileActions()
	publishRequest.FileActions = outcome.FileChanges

	enter(StepCommit)
	if commitError := driver.Commit(executionContext, publish.FormatTitle(outcome.FileChanges)); commitError != nil {
		return fail(StepCommit, commitError)
	}

	if mergeOptions.Mode != publish.MergeModeDirect {
		enter(StepPush)
		if pushError := driver.Push(executionContext, branchName); pushError != nil {
			return fail(StepPush, pushError)
		}
	}

	return service.publish(executionContext, publishRequest, &outcome, finish, fail)
}

func (service *Service) publish(executionContext context.Context, request publish.Request, outcome *RunOutcome, finish func(RunStatus, PipelineStep, string) RunOutcome, fail func(PipelineStep, error) RunOutcome) RunOutcome {
	service.logger.Debug(logMessageStepStarted, zap.String(logFieldRepositoryConstant, outcome.RepositoryName), zap.String(logFieldStepConstant, string(StepPublishRequest)), zap.String(logFieldBranchConstant, request.BranchName))
	result, publishError := service.publisher.CreatePR(executionContext, request)
	if publishError != nil {
		return fail(StepPublishRequest, publishError)
	}
	if !result.Success {
		return fail(StepPublishRequest, errors.New(publishFailedMessageConstant))
	}
	outcome.RequestURL = result.URL
	outcome.MergeOutcome = result.MergeOutcome
	if len(result.MergeWarning) > 0 {
		outcome.Warning = result.MergeWarning
		service.logger.Warn(logMessageRepositoryWarning, zap.String(logFieldRepositoryConstant, outcome.RepositoryName), zap.String(logFieldWarningConstant, result.MergeWarning))
	}
	return finish(RunStatusSucceeded, StepPublishRequest, result.Message)
}

// plan decides every file's fate without touching the workspace.
func (service *Service) plan(executionContext context.Context, driver RepositoryDriver, repository syncconfig.RepositorySpecification, repositoryLogger *zap.Logger) (repositoryPlan, error) {
	workspace := driver.Workspace()
	existingManifest, _ := service.manifestStore.Load(workspace)

	intents := make(map[string]bool, len(repository.Files))
	plannedFiles := make([]plannedFile, 0, len(repository.Files))
	for _, fileSpecification := range repository.Files {
		intents[fileSpecification.Name] = fileSpecification.DeleteOrphaned

		if fileSpecification.CreateOnly {
			alreadyPresent, existsError := driver.FileExists(fileSpecification.Name)
			if existsError != nil {
				return repositoryPlan{}, existsError
			}
			if alreadyPresent {
				repositoryLogger.Debug(logMessageCreateOnlySkipped, zap.String(logFieldFileConstant, fileSpecification.Name))
				plannedFiles = append(plannedFiles, plannedFile{fileName: fileSpecification.Name, classification: diff.ClassificationUnchanged, leaveUntouched: true})
				continue
			}
		}

		existing, readError := driver.ReadFile(fileSpecification.Name)
		if readError != nil {
			return repositoryPlan{}, readError
		}

		rendered, renderError := service.renderFile(fileSpecification)
		if renderError != nil {
			return repositoryPlan{}, renderError
		}
		classification, classifyError := driver.WouldChange(executionContext, fileSpecification.Name, diff.PresentContent(rendered))
		if classifyError != nil {
			return repositoryPlan{}, classifyError
		}
		plannedFiles = append(plannedFiles, plannedFile{fileName: fileSpecification.Name, rendered: rendered, existing: existing, classification: classification})
	}

	manifestUpdate := manifest.UpdateManifest(existingManifest, service.configuration.ID, intents)
	for _, orphanedFile := range manifestUpdate.FilesToDelete {
		classification, classifyError := driver.WouldChange(executionContext, orphanedFile, diff.AbsentContent())
		if classifyError != nil {
			return repositoryPlan{}, classifyError
		}
		if !classification.Changes() {
			continue
		}
		existing, readError := driver.ReadFile(orphanedFile)
		if readError != nil {
			return repositoryPlan{}, readError
		}
		repositoryLogger.Info(logMessageOrphanScheduled, zap.String(logFieldFileConstant, orphanedFile))
		plannedFiles = append(plannedFiles, plannedFile{fileName: orphanedFile, existing: existing, classification: classification, delete: true})
	}

	plan := repositoryPlan{files: plannedFiles, manifest: manifestUpdate.Manifest, manifestClassification: diff.ClassificationUnchanged}
	if existingManifest.Tracks(service.configuration.ID) || manifestUpdate.Manifest.Tracks(service.configuration.ID) {
		encodedManifest, encodeError := manifest.Encode(manifestUpdate.Manifest)
		if encodeError != nil {
			return repositoryPlan{}, encodeError
		}
		manifestClassification, classifyError := driver.WouldChange(executionContext, manifest.FileName, diff.PresentContent(encodedManifest))
		if classifyError != nil {
			return repositoryPlan{}, classifyError
		}
		plan.writeManifest = true
		plan.manifestClassification = manifestClassification
	}

	if service.options.DryRun {
		service.logPreview(plan, repositoryLogger)
	}
	return plan, nil
}

func (service *Service) logPreview(plan repositoryPlan, repositoryLogger *zap.Logger) {
	for _, planned := range plan.files {
		if planned.leaveUntouched || !planned.classification.Changes() {
			continue
		}
		candidate := diff.PresentContent(planned.rendered)
		if planned.delete {
			candidate = diff.AbsentContent()
		}
		preview, previewError := diff.Preview(planned.fileName, planned.existing, candidate)
		if previewError != nil {
			repositoryLogger.Warn(logMessagePreviewFailed, zap.String(logFieldFileConstant, planned.fileName), zap.Error(previewError))
			continue
		}
		repositoryLogger.Info(logMessagePreview, zap.String(logFieldFileConstant, planned.fileName), zap.String(logFieldActionConstant, string(planned.action().Action)), zap.String(logFieldDiffConstant, preview))
	}
}

// apply writes the plan into the workspace.
func (service *Service) apply(driver RepositoryDriver, plan repositoryPlan) error {
	for _, planned := range plan.files {
		switch {
		case planned.leaveUntouched:
			continue
		case planned.delete:
			if deleteError := driver.DeleteFile(planned.fileName); deleteError != nil {
				return deleteError
			}
		default:
			if writeError := driver.WriteFile(planned.fileName, planned.rendered); writeError != nil {
				return writeError
			}
		}
	}
	if plan.writeManifest {
		if saveError := service.manifestStore.Save(driver.Workspace(), plan.manifest); saveError != nil {
			return fmt.Errorf(manifestSaveErrorTemplate, saveError)
		}
	}
	return nil
}

// renderFile resolves the file's content, applies a repository override and encodes it.
func (service *Service) renderFile(fileSpecification syncconfig.FileSpecification) ([]byte, error) {
	content, resolveError := service.renderer.ResolveReference(fileSpecification.Content)
	if resolveError != nil {
		return nil, fmt.Errorf(renderFileErrorTemplateConstant, fileSpecification.Name, resolveError)
	}
	if fileSpecification.HasOverrideContent {
		overrideContent, overrideError := service.renderer.ResolveReference(fileSpecification.OverrideContent)
		if overrideError != nil {
			return nil, fmt.Errorf(renderFileErrorTemplateConstant, fileSpecification.Name, overrideError)
		}
		if fileSpecification.ReplaceContent {
			content = overrideContent
		} else {
			content = render.MergeContent(content, overrideContent)
		}
	}
	encoded, encodeError := render.Encode(fileSpecification.Name, content)
	if encodeError != nil {
		return nil, fmt.Errorf(renderFileErrorTemplateConstant, fileSpecification.Name, encodeError)
	}
	return encoded, nil
}

// ResolveBranchName picks the sync branch: the override, then the definition's
// branch, then chore/sync-<file> for a single file, else chore/sync-config.
func ResolveBranchName(branchOverride string, definitionBranch string, files []syncconfig.FileSpecification) string {
	if trimmed := strings.TrimSpace(branchOverride); len(trimmed) > 0 {
		return trimmed
	}
	if trimmed := strings.TrimSpace(definitionBranch); len(trimmed) > 0 {
		return trimmed
	}
	if len(files) == 1 {
		return singleFileBranchPrefixConstant + sanitizeBranchComponent(path.Base(files[0].Name))
	}
	return defaultBranchNameConstant
}

func sanitizeBranchComponent(fileName string) string {
	sanitized := strings.Map(func(character rune) rune {
		if strings.ContainsRune(branchUnsafeCharactersConstant, character) {
			return '-'
		}
		return character
	}, fileName)
	sanitized = strings.Trim(sanitized, branchSafeReplacementConstant+".")
	if len(sanitized) == 0 {
		return strings.TrimPrefix(defaultBranchNameConstant, singleFileBranchPrefixConstant)
	}
	return sanitized
}
