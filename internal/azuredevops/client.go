package azuredevops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/temirov/cfgsync/internal/execshell"
	"github.com/temirov/cfgsync/internal/gitrepo"
	"github.com/temirov/cfgsync/internal/publish"
	"github.com/temirov/cfgsync/internal/retry"
)

const (
	azureProgramConstant                  = string(execshell.CommandAzure)
	reposSubcommandConstant               = "repos"
	pullRequestSubcommandConstant         = "pr"
	listSubcommandConstant                = "list"
	createSubcommandConstant              = "create"
	updateSubcommandConstant              = "update"
	organizationFlagConstant              = "--organization"
	projectFlagConstant                   = "--project"
	repositoryFlagConstant                = "--repository"
	sourceBranchFlagConstant              = "--source-branch"
	targetBranchFlagConstant              = "--target-branch"
	titleFlagConstant                     = "--title"
	descriptionFlagConstant               = "--description"
	statusFlagConstant                    = "--status"
	identifierFlagConstant                = "--id"
	autoCompleteFlagConstant              = "--auto-complete"
	squashFlagConstant                    = "--squash"
	deleteSourceBranchFlagConstant        = "--delete-source-branch"
	outputFlagConstant                    = "--output"
	jsonOutputConstant                    = "json"
	activeStatusConstant                  = "active"
	completedStatusConstant               = "completed"
	trueValueConstant                     = "true"
	falseValueConstant                    = "false"
	transportNameConstant                 = "azure-cli"
	pullRequestURLTemplateConstant        = "https://dev.azure.com/%s/%s/_git/%s/pullrequest/%d"
	executorNotConfiguredMessageConstant  = "azure cli executor not configured"
	azureAddressRequiredMessageConstant   = "Azure DevOps address required"
	requiredValueMessageConstant          = "value required"
	unsupportedStrategyMessageTemplate    = "strategy %q is not available through az repos"
	missingIdentifierMessageConstant      = "az did not report a pull request id"
	operationErrorTemplateConstant        = "%s operation failed: %s"
	responseDecodingErrorTemplateConstant = "%s response decoding failed: %s"
	invalidInputErrorTemplateConstant     = "%s: %s"
	repositoryFieldNameConstant           = "repository"
	sourceBranchFieldNameConstant         = "source_branch"
	targetBranchFieldNameConstant         = "target_branch"
	titleFieldNameConstant                = "title"
	pullRequestFieldNameConstant          = "pull_request"
	mergeStrategyFieldNameConstant        = "merge_strategy"
	listOperationNameConstant             = "ListPullRequests"
	createOperationNameConstant           = "CreatePullRequest"
	updateOperationNameConstant           = "UpdatePullRequest"
)

// ErrExecutorNotConfigured indicates the client was constructed without an executor.
var ErrExecutorNotConfigured = errors.New(executorNotConfiguredMessageConstant)

// InvalidInputError surfaces validation issues for operation inputs.
type InvalidInputError struct {
	FieldName string
	Message   string
}

// Error describes the invalid input.
func (inputError InvalidInputError) Error() string {
	return fmt.Sprintf(invalidInputErrorTemplateConstant, inputError.FieldName, inputError.Message)
}

// OperationError wraps execution issues for az invocations.
type OperationError struct {
	Operation string
	Cause     error
}

// Error describes the operation failure.
func (operationError OperationError) Error() string {
	return fmt.Sprintf(operationErrorTemplateConstant, operationError.Operation, operationError.Cause)
}

// Unwrap exposes the underlying cause.
func (operationError OperationError) Unwrap() error {
	return operationError.Cause
}

// ResponseDecodingError indicates az printed JSON the client could not use.
type ResponseDecodingError struct {
	Operation string
	Cause     error
}

// Error describes the decoding failure.
func (decodingError ResponseDecodingError) Error() string {
	return fmt.Sprintf(responseDecodingErrorTemplateConstant, decodingError.Operation, decodingError.Cause)
}

// Unwrap exposes the underlying error.
func (decodingError ResponseDecodingError) Unwrap() error {
	return decodingError.Cause
}

type pullRequestResponse struct {
	PullRequestID int `json:"pullRequestId"`
}

// Client drives az repos pr and implements publish.HostTransport.
type Client struct {
	executor gitrepo.ShellCommandExecutor
}

// NewClient constructs an Azure DevOps CLI client.
func NewClient(executor gitrepo.ShellCommandExecutor) (*Client, error) {
	if executor == nil {
		return nil, ErrExecutorNotConfigured
	}
	return &Client{executor: executor}, nil
}

// Name identifies the transport in messages.
func (client *Client) Name() string {
	return transportNameConstant
}

// FindOpenRequest returns the active pull request whose source is headBranch, if any.
func (client *Client) FindOpenRequest(executionContext context.Context, address gitrepo.RepositoryAddress, headBranch string, workDir string) (publish.HostedRequest, bool, error) {
	azureAddress, addressError := requireAzureAddress(address)
	if addressError != nil {
		return publish.HostedRequest{}, false, addressError
	}
	if len(strings.TrimSpace(headBranch)) == 0 {
		return publish.HostedRequest{}, false, retry.Permanent(InvalidInputError{FieldName: sourceBranchFieldNameConstant, Message: requiredValueMessageConstant})
	}

	commandLine, buildError := repositoryCommand(listSubcommandConstant, azureAddress).
		Option(sourceBranchFlagConstant, headBranch).
		Literal(statusFlagConstant, activeStatusConstant, outputFlagConstant, jsonOutputConstant).
		Build()
	if buildError != nil {
		return publish.HostedRequest{}, false, OperationError{Operation: listOperationNameConstant, Cause: buildError}
	}

	output, executionError := client.executor.ExecuteShell(executionContext, commandLine, workDir)
	if executionError != nil {
		return publish.HostedRequest{}, false, OperationError{Operation: listOperationNameConstant, Cause: executionError}
	}

	var pullRequests []pullRequestResponse
	if decodingError := json.Unmarshal([]byte(output), &pullRequests); decodingError != nil {
		return publish.HostedRequest{}, false, retry.Permanent(ResponseDecodingError{Operation: listOperationNameConstant, Cause: decodingError})
	}
	if len(pullRequests) == 0 {
		return publish.HostedRequest{}, false, nil
	}
	return hostedRequest(azureAddress, pullRequests[0].PullRequestID), true, nil
}

// CreateRequest opens a pull request with az repos pr create.
func (client *Client) CreateRequest(executionContext context.Context, address gitrepo.RepositoryAddress, draft publish.Draft, workDir string) (publish.HostedRequest, error) {
	azureAddress, addressError := requireAzureAddress(address)
	if addressError != nil {
		return publish.HostedRequest{}, addressError
	}
	requiredValues := []struct {
		fieldName string
		value     string
	}{
		{fieldName: sourceBranchFieldNameConstant, value: draft.HeadBranch},
		{fieldName: targetBranchFieldNameConstant, value: draft.BaseBranch},
		{fieldName: titleFieldNameConstant, value: draft.Title},
	}
	for _, requiredValue := range requiredValues {
		if len(strings.TrimSpace(requiredValue.value)) == 0 {
			return publish.HostedRequest{}, retry.Permanent(InvalidInputError{FieldName: requiredValue.fieldName, Message: requiredValueMessageConstant})
		}
	}

	commandLine, buildError := repositoryCommand(createSubcommandConstant, azureAddress).
		Option(sourceBranchFlagConstant, draft.HeadBranch).
		Option(targetBranchFlagConstant, draft.BaseBranch).
		Option(titleFlagConstant, draft.Title).
		Option(descriptionFlagConstant, draft.Body).
		Literal(outputFlagConstant, jsonOutputConstant).
		Build()
	if buildError != nil {
		return publish.HostedRequest{}, OperationError{Operation: createOperationNameConstant, Cause: buildError}
	}

	output, executionError := client.executor.ExecuteShell(executionContext, commandLine, workDir)
	if executionError != nil {
		return publish.HostedRequest{}, OperationError{Operation: createOperationNameConstant, Cause: executionError}
	}

	var createdRequest pullRequestResponse
	if decodingError := json.Unmarshal([]byte(output), &createdRequest); decodingError != nil {
		return publish.HostedRequest{}, retry.Permanent(ResponseDecodingError{Operation: createOperationNameConstant, Cause: decodingError})
	}
	if createdRequest.PullRequestID <= 0 {
		return publish.HostedRequest{}, retry.Permanent(ResponseDecodingError{Operation: createOperationNameConstant, Cause: errors.New(missingIdentifierMessageConstant)})
	}
	return hostedRequest(azureAddress, createdRequest.PullRequestID), nil
}

// RequestMerge sets auto-complete for auto mode and completes the request for force mode.
func (client *Client) RequestMerge(executionContext context.Context, address gitrepo.RepositoryAddress, request publish.HostedRequest, options publish.MergeOptions, workDir string) error {
	azureAddress, addressError := requireAzureAddress(address)
	if addressError != nil {
		return addressError
	}
	if request.Number <= 0 {
		return retry.Permanent(InvalidInputError{FieldName: pullRequestFieldNameConstant, Message: requiredValueMessageConstant})
	}

	commandLine := execshell.NewCommandLine(azureProgramConstant, reposSubcommandConstant, pullRequestSubcommandConstant, updateSubcommandConstant).
		Literal(identifierFlagConstant, strconv.Itoa(request.Number)).
		Option(organizationFlagConstant, azureAddress.OrganizationURL())
	switch options.Mode {
	case publish.MergeModeAuto:
		commandLine.Literal(autoCompleteFlagConstant, trueValueConstant)
	case publish.MergeModeForce:
		commandLine.Literal(statusFlagConstant, completedStatusConstant)
	default:
		return publish.UnsupportedMergeModeError{Mode: options.Mode, Transport: transportNameConstant}
	}

	switch options.Strategy {
	case "", publish.MergeStrategyMerge:
		commandLine.Literal(squashFlagConstant, falseValueConstant)
	case publish.MergeStrategySquash:
		commandLine.Literal(squashFlagConstant, trueValueConstant)
	default:
		return retry.Permanent(InvalidInputError{FieldName: mergeStrategyFieldNameConstant, Message: fmt.Sprintf(unsupportedStrategyMessageTemplate, options.Strategy)})
	}

	deleteSourceBranch := falseValueConstant
	if options.DeleteBranch {
		deleteSourceBranch = trueValueConstant
	}
	builtCommandLine, buildError := commandLine.
		Literal(deleteSourceBranchFlagConstant, deleteSourceBranch, outputFlagConstant, jsonOutputConstant).
		Build()
	if buildError != nil {
		return OperationError{Operation: updateOperationNameConstant, Cause: buildError}
	}

	if _, executionError := client.executor.ExecuteShell(executionContext, builtCommandLine, workDir); executionError != nil {
		return OperationError{Operation: updateOperationNameConstant, Cause: executionError}
	}
	return nil
}

func repositoryCommand(subcommand string, address gitrepo.AzureDevOpsAddress) *execshell.CommandLine {
	return execshell.NewCommandLine(azureProgramConstant, reposSubcommandConstant, pullRequestSubcommandConstant, subcommand).
		Option(organizationFlagConstant, address.OrganizationURL()).
		Option(projectFlagConstant, address.Project).
		Option(repositoryFlagConstant, address.Repository)
}

func requireAzureAddress(address gitrepo.RepositoryAddress) (gitrepo.AzureDevOpsAddress, error) {
	azureAddress, isAzure := address.(gitrepo.AzureDevOpsAddress)
	if !isAzure {
		return gitrepo.AzureDevOpsAddress{}, retry.Permanent(InvalidInputError{FieldName: repositoryFieldNameConstant, Message: azureAddressRequiredMessageConstant})
	}
	return azureAddress, nil
}

func hostedRequest(address gitrepo.AzureDevOpsAddress, pullRequestID int) publish.HostedRequest {
	return publish.HostedRequest{
		Number: pullRequestID,
		URL: fmt.Sprintf(pullRequestURLTemplateConstant,
			url.PathEscape(address.Organization),
			url.PathEscape(address.Project),
			url.PathEscape(address.Repository),
			pullRequestID),
	}
}
