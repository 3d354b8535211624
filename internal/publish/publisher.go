package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/temirov/cfgsync/internal/diff"
	"github.com/temirov/cfgsync/internal/execshell"
	"github.com/temirov/cfgsync/internal/gitrepo"
	"github.com/temirov/cfgsync/internal/retry"
)

const (
	gitProgramConstant                   = string(execshell.CommandGit)
	nonInteractiveGitEnvironmentConstant = "GIT_TERMINAL_PROMPT=0"
	gitPushSubcommandConstant            = "push"
	originRemoteNameConstant             = "origin"
	directPushReferenceTemplateConstant  = "HEAD:%s"

	dryRunRequestMessageTemplate     = "[DRY RUN] Would create PR: %s"
	dryRunDirectMessageTemplate      = "[DRY RUN] Would push directly to %s: %s"
	directPushMessageTemplate        = "Pushed directly to %s"
	createdRequestMessageConstant    = "PR created"
	existingRequestMessageConstant   = "Updated existing PR"
	mergeModeAppliedMessageTemplate  = "%s (%s merge requested)"
	mergeModeFailedMessageTemplate   = "%s (%s)"
	mergeModeFailedWarningTemplate   = "%s merge could not be requested: %v"
	publishErrorTemplateConstant     = "%s %s failed: %v"
	unsupportedMergeModeTemplate     = "merge mode %q is not supported by the %s transport"
	unknownMergeModeTemplate         = "unknown merge mode %q"
	transportMissingTemplateConstant = "no transport configured for %s repositories"
	operationFindConstant            = "find open request"
	operationCreateConstant          = "create request"
	operationDirectPushConstant      = "direct push"
	operationValidateConstant        = "validate request"
	executorNotConfiguredMessage     = "publisher shell executor not configured"
	logMessageReusingRequest         = "Reusing open pull request"
	logMessageCreatedRequest         = "Created pull request"
	logMessageMergeModeFailed        = "Could not request merge"
	logMessageEarlierAttemptCreated  = "Pull request created by an earlier attempt"
	logFieldRepositoryConstant       = "repository"
	logFieldURLConstant              = "url"
	logFieldMergeModeConstant        = "merge_mode"
	logFieldAttemptConstant          = "attempt"
)

// ErrExecutorNotConfigured indicates a nil shell executor was supplied.
var ErrExecutorNotConfigured = errors.New(executorNotConfiguredMessage)

// MergeMode selects what happens after the sync branch is pushed.
type MergeMode string

// Supported merge modes.
const (
	MergeModeManual MergeMode = MergeMode("manual")
	MergeModeAuto   MergeMode = MergeMode("auto")
	MergeModeForce  MergeMode = MergeMode("force")
	MergeModeDirect MergeMode = MergeMode("direct")
)

// ParseMergeMode validates a configured merge mode, defaulting to manual.
func ParseMergeMode(value string) (MergeMode, error) {
	switch mergeMode := MergeMode(strings.ToLower(strings.TrimSpace(value))); mergeMode {
	case "":
		return MergeModeManual, nil
	case MergeModeManual, MergeModeAuto, MergeModeForce, MergeModeDirect:
		return mergeMode, nil
	default:
		return "", fmt.Errorf(unknownMergeModeTemplate, value)
	}
}

// MergeStrategy selects how a request is merged when a merge is requested.
type MergeStrategy string

// Supported merge strategies.
const (
	MergeStrategyMerge  MergeStrategy = MergeStrategy("merge")
	MergeStrategySquash MergeStrategy = MergeStrategy("squash")
	MergeStrategyRebase MergeStrategy = MergeStrategy("rebase")
)

// MergeOptions configures the merge behavior for one repository.
type MergeOptions struct {
	Mode         MergeMode
	Strategy     MergeStrategy
	DeleteBranch bool
}

// Request describes one repository's publish step.
type Request struct {
	Address      gitrepo.RepositoryAddress
	BranchName   string
	BaseBranch   string
	FileActions  []diff.FileAction
	WorkDir      string
	DryRun       bool
	Retries      int
	Merge        MergeOptions
	BodyTemplate string
}

// Result reports the publish outcome. URL is empty for direct pushes and dry runs.
type Result struct {
	Success      bool
	Message      string
	URL          string
	MergeOutcome MergeMode
	// MergeWarning is set when the request is open but the configured merge could not be requested.
	MergeWarning string
}

// Draft is the host-independent content of a new request.
type Draft struct {
	Title      string
	Body       string
	HeadBranch string
	BaseBranch string
}

// HostedRequest identifies a request on its host.
type HostedRequest struct {
	Number int
	URL    string
}

// HostTransport performs request operations for one hosting service.
type HostTransport interface {
	Name() string
	FindOpenRequest(executionContext context.Context, address gitrepo.RepositoryAddress, headBranch string, workDir string) (HostedRequest, bool, error)
	CreateRequest(executionContext context.Context, address gitrepo.RepositoryAddress, draft Draft, workDir string) (HostedRequest, error)
	RequestMerge(executionContext context.Context, address gitrepo.RepositoryAddress, hostedRequest HostedRequest, options MergeOptions, workDir string) error
}

// PublishError reports a failed host interaction after retries.
type PublishError struct {
	Repository string
	Operation  string
	Cause      error
}

// Error describes the failed operation.
func (publishError PublishError) Error() string {
	return fmt.Sprintf(publishErrorTemplateConstant, publishError.Repository, publishError.Operation, publishError.Cause)
}

// Unwrap exposes the underlying failure.
func (publishError PublishError) Unwrap() error {
	return publishError.Cause
}

// UnsupportedMergeModeError reports a merge mode a transport cannot honor.
type UnsupportedMergeModeError struct {
	Mode      MergeMode
	Transport string
}

// Error describes the unsupported mode.
func (modeError UnsupportedMergeModeError) Error() string {
	return fmt.Sprintf(unsupportedMergeModeTemplate, modeError.Mode, modeError.Transport)
}

// Transports binds one HostTransport per hosting service.
type Transports struct {
	GitHub      HostTransport
	AzureDevOps HostTransport
}

// Publisher opens requests or pushes directly for each repository.
type Publisher struct {
	transports  Transports
	executor    gitrepo.ShellCommandExecutor
	retryPolicy retry.Policy
	logger      *zap.Logger
}

// NewPublisher validates dependencies and constructs a Publisher.
func NewPublisher(transports Transports, executor gitrepo.ShellCommandExecutor, retryPolicy retry.Policy, logger *zap.Logger) (*Publisher, error) {
	if executor == nil {
		return nil, ErrExecutorNotConfigured
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{transports: transports, executor: executor, retryPolicy: retryPolicy, logger: logger}, nil
}

// CreatePR publishes request. Host failures are returned as PublishError; the pushed branch is left in place.
func (publisher *Publisher) CreatePR(executionContext context.Context, request Request) (Result, error) {
	title := FormatTitle(request.FileActions)
	mergeMode := request.Merge.Mode
	if len(mergeMode) == 0 {
		mergeMode = MergeModeManual
	}
	repositoryName := describeRepository(request.Address)

	if request.DryRun {
		if mergeMode == MergeModeDirect {
			return Result{Success: true, Message: fmt.Sprintf(dryRunDirectMessageTemplate, request.BaseBranch, title), MergeOutcome: MergeModeDirect}, nil
		}
		return Result{Success: true, Message: fmt.Sprintf(dryRunRequestMessageTemplate, title), MergeOutcome: mergeMode}, nil
	}

	policy := publisher.retryPolicy.WithRetries(request.Retries)

	if mergeMode == MergeModeDirect {
		if pushError := publisher.pushDirect(executionContext, request, policy); pushError != nil {
			return Result{}, PublishError{Repository: repositoryName, Operation: operationDirectPushConstant, Cause: pushError}
		}
		return Result{Success: true, Message: fmt.Sprintf(directPushMessageTemplate, request.BaseBranch), MergeOutcome: MergeModeDirect}, nil
	}

	transport, transportError := publisher.selectTransport(request.Address)
	if transportError != nil {
		return Result{}, PublishError{Repository: repositoryName, Operation: operationValidateConstant, Cause: transportError}
	}

	var existingRequest HostedRequest
	var requestExists bool
	findError := retry.Do(executionContext, policy, func(int) error {
		var lookupError error
		existingRequest, requestExists, lookupError = transport.FindOpenRequest(executionContext, request.Address, request.BranchName, request.WorkDir)
		return lookupError
	})
	if findError != nil {
		return Result{}, PublishError{Repository: repositoryName, Operation: operationFindConstant, Cause: findError}
	}

	hostedRequest := existingRequest
	message := existingRequestMessageConstant
	if requestExists {
		publisher.logger.Info(logMessageReusingRequest, zap.String(logFieldRepositoryConstant, repositoryName), zap.String(logFieldURLConstant, existingRequest.URL))
	} else {
		draft := Draft{
			Title:      title,
			Body:       FormatBody(request.FileActions, request.BodyTemplate),
			HeadBranch: request.BranchName,
			BaseBranch: request.BaseBranch,
		}
		createError := retry.Do(executionContext, policy, func(attempt int) error {
			if attempt > 1 {
				createdRequest, requestFound, lookupError := transport.FindOpenRequest(executionContext, request.Address, request.BranchName, request.WorkDir)
				if lookupError != nil {
					return lookupError
				}
				if requestFound {
					publisher.logger.Info(logMessageEarlierAttemptCreated, zap.String(logFieldRepositoryConstant, repositoryName), zap.Int(logFieldAttemptConstant, attempt))
					hostedRequest = createdRequest
					return nil
				}
			}
			var creationError error
			hostedRequest, creationError = transport.CreateRequest(executionContext, request.Address, draft, request.WorkDir)
			return creationError
		})
		if createError != nil {
			return Result{}, PublishError{Repository: repositoryName, Operation: operationCreateConstant, Cause: createError}
		}
		message = createdRequestMessageConstant
		publisher.logger.Info(logMessageCreatedRequest, zap.String(logFieldRepositoryConstant, repositoryName), zap.String(logFieldURLConstant, hostedRequest.URL))
	}

	result := Result{Success: true, Message: message, URL: hostedRequest.URL, MergeOutcome: MergeModeManual}
	if mergeMode == MergeModeManual {
		return result, nil
	}

	mergeOptions := request.Merge
	mergeOptions.Mode = mergeMode
	mergeError := retry.Do(executionContext, policy, func(int) error {
		requestError := transport.RequestMerge(executionContext, request.Address, hostedRequest, mergeOptions, request.WorkDir)
		var unsupportedMode UnsupportedMergeModeError
		if errors.As(requestError, &unsupportedMode) {
			return retry.Permanent(requestError)
		}
		return requestError
	})
	if mergeError != nil {
		publisher.logger.Warn(logMessageMergeModeFailed, zap.String(logFieldRepositoryConstant, repositoryName), zap.String(logFieldMergeModeConstant, string(mergeMode)), zap.Error(mergeError))
		result.MergeWarning = fmt.Sprintf(mergeModeFailedWarningTemplate, mergeMode, mergeError)
		result.Message = fmt.Sprintf(mergeModeFailedMessageTemplate, message, result.MergeWarning)
		return result, nil
	}
	result.Message = fmt.Sprintf(mergeModeAppliedMessageTemplate, message, mergeMode)
	result.MergeOutcome = mergeMode
	return result, nil
}

func (publisher *Publisher) pushDirect(executionContext context.Context, request Request, policy retry.Policy) error {
	commandLine, buildError := execshell.NewCommandLine(nonInteractiveGitEnvironmentConstant, gitProgramConstant, gitPushSubcommandConstant, originRemoteNameConstant).
		Argument(fmt.Sprintf(directPushReferenceTemplateConstant, request.BaseBranch)).
		Build()
	if buildError != nil {
		return buildError
	}
	return retry.Do(executionContext, policy, func(int) error {
		_, pushError := publisher.executor.ExecuteShell(executionContext, commandLine, request.WorkDir)
		if pushError != nil && gitrepo.IsPushRejection(pushError) {
			return retry.Permanent(pushError)
		}
		return pushError
	})
}

func (publisher *Publisher) selectTransport(address gitrepo.RepositoryAddress) (HostTransport, error) {
	var transport HostTransport
	switch address.(type) {
	case gitrepo.GitHubAddress:
		transport = publisher.transports.GitHub
	case gitrepo.AzureDevOpsAddress:
		transport = publisher.transports.AzureDevOps
	default:
		return nil, gitrepo.UnsupportedAddressError{Address: address}
	}
	if transport == nil {
		return nil, fmt.Errorf(transportMissingTemplateConstant, address.HostKind())
	}
	return transport, nil
}

func describeRepository(address gitrepo.RepositoryAddress) string {
	if address == nil {
		return ""
	}
	return address.DisplayName()
}
