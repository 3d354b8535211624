package githubcli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/temirov/cfgsync/internal/execshell"
	"github.com/temirov/cfgsync/internal/gitrepo"
	"github.com/temirov/cfgsync/internal/publish"
	"github.com/temirov/cfgsync/internal/retry"
)

const (
	githubProgramConstant                   = string(execshell.CommandGitHub)
	pullRequestSubcommandConstant           = "pr"
	listSubcommandConstant                  = "list"
	createSubcommandConstant                = "create"
	mergeSubcommandConstant                 = "merge"
	jsonFlagConstant                        = "--json"
	repoFlagConstant                        = "--repo"
	headFlagConstant                        = "--head"
	baseFlagConstant                        = "--base"
	titleFlagConstant                       = "--title"
	bodyFlagConstant                        = "--body"
	stateFlagConstant                       = "--state"
	limitFlagConstant                       = "--limit"
	autoFlagConstant                        = "--auto"
	adminFlagConstant                       = "--admin"
	deleteBranchFlagConstant                = "--delete-branch"
	strategyFlagTemplateConstant            = "--%s"
	openStateConstant                       = "open"
	pullRequestJSONFieldsConstant           = "number,url"
	singleResultLimitConstant               = 1
	transportNameConstant                   = "github-cli"
	repositoryFieldNameConstant             = "repository"
	headBranchFieldNameConstant             = "head_branch"
	baseBranchFieldNameConstant             = "base_branch"
	titleFieldNameConstant                  = "title"
	requestURLFieldNameConstant             = "url"
	mergeStrategyFieldNameConstant          = "merge_strategy"
	requiredValueMessageConstant            = "value required"
	githubAddressRequiredMessageConstant    = "GitHub address required"
	executorNotConfiguredMessageConstant    = "github cli executor not configured"
	missingRequestURLMessageConstant        = "gh did not print a pull request URL"
	operationErrorMessageTemplateConstant   = "%s operation failed"
	operationErrorWithCauseTemplateConstant = "%s operation failed: %s"
	responseDecodingErrorTemplateConstant   = "%s response decoding failed: %s"
	invalidInputErrorTemplateConstant       = "%s: %s"
	findOpenRequestOperationNameConstant    = OperationName("FindOpenPullRequest")
	createRequestOperationNameConstant      = OperationName("CreatePullRequest")
	requestMergeOperationNameConstant       = OperationName("RequestMerge")
)

// OperationName describes a named GitHub CLI workflow supported by the client.
type OperationName string

// PullRequest represents minimal PR details returned by GitHub CLI.
type PullRequest struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
}

// Client drives gh through the shell executor and implements publish.HostTransport.
type Client struct {
	executor gitrepo.ShellCommandExecutor
}

var (
	// ErrExecutorNotConfigured indicates the client was constructed without an executor.
	ErrExecutorNotConfigured = errors.New(executorNotConfiguredMessageConstant)
)

// InvalidInputError surfaces validation issues for operation inputs.
type InvalidInputError struct {
	FieldName string
	Message   string
}

// Error describes the invalid input.
func (inputError InvalidInputError) Error() string {
	return fmt.Sprintf(invalidInputErrorTemplateConstant, inputError.FieldName, inputError.Message)
}

// OperationError wraps execution issues for GitHub CLI operations.
type OperationError struct {
	Operation OperationName
	Cause     error
}

// Error describes the operation failure.
func (operationError OperationError) Error() string {
	if operationError.Cause == nil {
		return fmt.Sprintf(operationErrorMessageTemplateConstant, operationError.Operation)
	}
	return fmt.Sprintf(operationErrorWithCauseTemplateConstant, operationError.Operation, operationError.Cause)
}

// Unwrap exposes the underlying cause.
func (operationError OperationError) Unwrap() error {
	return operationError.Cause
}

// ResponseDecodingError indicates gh printed something the client could not parse.
type ResponseDecodingError struct {
	Operation OperationName
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

// NewClient constructs a GitHub CLI client.
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

// FindOpenRequest returns the open pull request whose head is headBranch, if any.
func (client *Client) FindOpenRequest(executionContext context.Context, address gitrepo.RepositoryAddress, headBranch string, workDir string) (publish.HostedRequest, bool, error) {
	repositoryIdentifier, addressError := repositoryIdentifier(address)
	if addressError != nil {
		return publish.HostedRequest{}, false, addressError
	}
	if len(strings.TrimSpace(headBranch)) == 0 {
		return publish.HostedRequest{}, false, retry.Permanent(InvalidInputError{FieldName: headBranchFieldNameConstant, Message: requiredValueMessageConstant})
	}

	commandLine, buildError := execshell.NewCommandLine(githubProgramConstant, pullRequestSubcommandConstant, listSubcommandConstant).
		Option(repoFlagConstant, repositoryIdentifier).
		Option(headFlagConstant, headBranch).
		Literal(stateFlagConstant, openStateConstant, jsonFlagConstant, pullRequestJSONFieldsConstant, limitFlagConstant, strconv.Itoa(singleResultLimitConstant)).
		Build()
	if buildError != nil {
		return publish.HostedRequest{}, false, OperationError{Operation: findOpenRequestOperationNameConstant, Cause: buildError}
	}

	output, executionError := client.executor.ExecuteShell(executionContext, commandLine, workDir)
	if executionError != nil {
		return publish.HostedRequest{}, false, OperationError{Operation: findOpenRequestOperationNameConstant, Cause: executionError}
	}

	var pullRequests []PullRequest
	if decodingError := json.Unmarshal([]byte(output), &pullRequests); decodingError != nil {
		return publish.HostedRequest{}, false, retry.Permanent(ResponseDecodingError{Operation: findOpenRequestOperationNameConstant, Cause: decodingError})
	}
	if len(pullRequests) == 0 {
		return publish.HostedRequest{}, false, nil
	}
	return publish.HostedRequest{Number: pullRequests[0].Number, URL: pullRequests[0].URL}, true, nil
}

// CreateRequest opens a pull request with gh pr create and parses the printed URL.
func (client *Client) CreateRequest(executionContext context.Context, address gitrepo.RepositoryAddress, draft publish.Draft, workDir string) (publish.HostedRequest, error) {
	repositoryIdentifier, addressError := repositoryIdentifier(address)
	if addressError != nil {
		return publish.HostedRequest{}, addressError
	}
	requiredValues := []struct {
		fieldName string
		value     string
	}{
		{fieldName: headBranchFieldNameConstant, value: draft.HeadBranch},
		{fieldName: baseBranchFieldNameConstant, value: draft.BaseBranch},
		{fieldName: titleFieldNameConstant, value: draft.Title},
	}
	for _, requiredValue := range requiredValues {
		if len(strings.TrimSpace(requiredValue.value)) == 0 {
			return publish.HostedRequest{}, retry.Permanent(InvalidInputError{FieldName: requiredValue.fieldName, Message: requiredValueMessageConstant})
		}
	}

	commandLine, buildError := execshell.NewCommandLine(githubProgramConstant, pullRequestSubcommandConstant, createSubcommandConstant).
		Option(repoFlagConstant, repositoryIdentifier).
		Option(headFlagConstant, draft.HeadBranch).
		Option(baseFlagConstant, draft.BaseBranch).
		Option(titleFlagConstant, draft.Title).
		Option(bodyFlagConstant, draft.Body).
		Build()
	if buildError != nil {
		return publish.HostedRequest{}, OperationError{Operation: createRequestOperationNameConstant, Cause: buildError}
	}

	output, executionError := client.executor.ExecuteShell(executionContext, commandLine, workDir)
	if executionError != nil {
		return publish.HostedRequest{}, OperationError{Operation: createRequestOperationNameConstant, Cause: executionError}
	}

	requestURL := lastNonEmptyLine(output)
	if len(requestURL) == 0 {
		return publish.HostedRequest{}, retry.Permanent(ResponseDecodingError{Operation: createRequestOperationNameConstant, Cause: errors.New(missingRequestURLMessageConstant)})
	}
	requestNumber, _ := strconv.Atoi(path.Base(requestURL))
	return publish.HostedRequest{Number: requestNumber, URL: requestURL}, nil
}

// RequestMerge enables auto-merge or merges immediately with admin rights.
func (client *Client) RequestMerge(executionContext context.Context, address gitrepo.RepositoryAddress, hostedRequest publish.HostedRequest, options publish.MergeOptions, workDir string) error {
	repositoryIdentifier, addressError := repositoryIdentifier(address)
	if addressError != nil {
		return addressError
	}
	if len(strings.TrimSpace(hostedRequest.URL)) == 0 {
		return retry.Permanent(InvalidInputError{FieldName: requestURLFieldNameConstant, Message: requiredValueMessageConstant})
	}

	var modeFlag string
	switch options.Mode {
	case publish.MergeModeAuto:
		modeFlag = autoFlagConstant
	case publish.MergeModeForce:
		modeFlag = adminFlagConstant
	default:
		return publish.UnsupportedMergeModeError{Mode: options.Mode, Transport: transportNameConstant}
	}

	var strategyFlag string
	switch options.Strategy {
	case "", publish.MergeStrategyMerge, publish.MergeStrategySquash, publish.MergeStrategyRebase:
		strategy := options.Strategy
		if len(strategy) == 0 {
			strategy = publish.MergeStrategyMerge
		}
		strategyFlag = fmt.Sprintf(strategyFlagTemplateConstant, strategy)
	default:
		return retry.Permanent(InvalidInputError{FieldName: mergeStrategyFieldNameConstant, Message: string(options.Strategy)})
	}

	commandLine := execshell.NewCommandLine(githubProgramConstant, pullRequestSubcommandConstant, mergeSubcommandConstant).
		Argument(hostedRequest.URL).
		Option(repoFlagConstant, repositoryIdentifier).
		Literal(modeFlag, strategyFlag)
	if options.DeleteBranch {
		commandLine.Literal(deleteBranchFlagConstant)
	}
	builtCommandLine, buildError := commandLine.Build()
	if buildError != nil {
		return OperationError{Operation: requestMergeOperationNameConstant, Cause: buildError}
	}

	if _, executionError := client.executor.ExecuteShell(executionContext, builtCommandLine, workDir); executionError != nil {
		return OperationError{Operation: requestMergeOperationNameConstant, Cause: executionError}
	}
	return nil
}

func repositoryIdentifier(address gitrepo.RepositoryAddress) (string, error) {
	githubAddress, isGitHub := address.(gitrepo.GitHubAddress)
	if !isGitHub {
		return "", retry.Permanent(InvalidInputError{FieldName: repositoryFieldNameConstant, Message: githubAddressRequiredMessageConstant})
	}
	return githubAddress.DisplayName(), nil
}

func lastNonEmptyLine(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for index := len(lines) - 1; index >= 0; index-- {
		if trimmedLine := strings.TrimSpace(lines[index]); len(trimmedLine) > 0 {
			return trimmedLine
		}
	}
	return ""
}
