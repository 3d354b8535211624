package githubapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"

	"github.com/temirov/cfgsync/internal/gitrepo"
	"github.com/temirov/cfgsync/internal/publish"
	"github.com/temirov/cfgsync/internal/retry"
)

const (
	transportNameConstant            = "github-api"
	openStateConstant                = "open"
	headFilterTemplateConstant       = "%s:%s"
	branchReferenceTemplateConstant  = "heads/%s"
	urlPathSeparatorConstant         = "/"
	apiErrorTemplateConstant         = "github api %s for %s failed: %v"
	apiErrorWithStatusTemplate       = "github api %s for %s failed with status %d: %v"
	tokenSourceRequiredMessage       = "github api token source not configured"
	githubAddressRequiredMessage     = "GitHub address required"
	mergeNotPerformedMessageTemplate = "pull request #%d was not merged: %s"
	listOperationConstant            = "list pull requests"
	createOperationConstant          = "create pull request"
	mergeOperationConstant           = "merge pull request"
	lookupOperationConstant          = "get pull request"
	deleteBranchOperationConstant    = "delete branch"
	singleResultPageSizeConstant     = 1
)

var (
	// ErrTokenSourceNotConfigured indicates a nil token source was supplied.
	ErrTokenSourceNotConfigured = errors.New(tokenSourceRequiredMessage)
	// ErrGitHubAddressRequired indicates the address is not a GitHubAddress.
	ErrGitHubAddressRequired = errors.New(githubAddressRequiredMessage)
)

// APIError wraps a failed REST call with the repository and HTTP status.
type APIError struct {
	Operation  string
	Repository string
	StatusCode int
	Cause      error
}

// Error describes the failed call.
func (apiError APIError) Error() string {
	if apiError.StatusCode == 0 {
		return fmt.Sprintf(apiErrorTemplateConstant, apiError.Operation, apiError.Repository, apiError.Cause)
	}
	return fmt.Sprintf(apiErrorWithStatusTemplate, apiError.Operation, apiError.Repository, apiError.StatusCode, apiError.Cause)
}

// Unwrap exposes the go-github error.
func (apiError APIError) Unwrap() error {
	return apiError.Cause
}

// Client implements publish.HostTransport on the GitHub REST API.
type Client struct {
	client *github.Client
}

// NewClient builds an authenticated client. An empty baseURL targets api.github.com.
func NewClient(tokenSource oauth2.TokenSource, baseURL string) (*Client, error) {
	if tokenSource == nil {
		return nil, ErrTokenSourceNotConfigured
	}
	githubClient := github.NewClient(oauth2.NewClient(context.Background(), tokenSource))
	if trimmedBaseURL := strings.TrimSpace(baseURL); len(trimmedBaseURL) > 0 {
		if !strings.HasSuffix(trimmedBaseURL, urlPathSeparatorConstant) {
			trimmedBaseURL += urlPathSeparatorConstant
		}
		parsedBaseURL, parseError := url.Parse(trimmedBaseURL)
		if parseError != nil {
			return nil, parseError
		}
		githubClient.BaseURL = parsedBaseURL
	}
	return &Client{client: githubClient}, nil
}

// Name identifies the transport in messages.
func (client *Client) Name() string {
	return transportNameConstant
}

// FindOpenRequest returns the open pull request whose head is owner:headBranch, if any.
func (client *Client) FindOpenRequest(executionContext context.Context, address gitrepo.RepositoryAddress, headBranch string, _ string) (publish.HostedRequest, bool, error) {
	githubAddress, addressError := requireGitHubAddress(address)
	if addressError != nil {
		return publish.HostedRequest{}, false, addressError
	}
	listOptions := &github.PullRequestListOptions{
		State:       openStateConstant,
		Head:        fmt.Sprintf(headFilterTemplateConstant, githubAddress.Owner, headBranch),
		ListOptions: github.ListOptions{PerPage: singleResultPageSizeConstant},
	}
	pullRequests, response, listError := client.client.PullRequests.List(executionContext, githubAddress.Owner, githubAddress.Repository, listOptions)
	if listError != nil {
		return publish.HostedRequest{}, false, wrapAPIError(listOperationConstant, githubAddress, response, listError)
	}
	if len(pullRequests) == 0 {
		return publish.HostedRequest{}, false, nil
	}
	return hostedRequest(pullRequests[0]), true, nil
}

// CreateRequest opens a pull request from draft.
func (client *Client) CreateRequest(executionContext context.Context, address gitrepo.RepositoryAddress, draft publish.Draft, _ string) (publish.HostedRequest, error) {
	githubAddress, addressError := requireGitHubAddress(address)
	if addressError != nil {
		return publish.HostedRequest{}, addressError
	}
	newPullRequest := &github.NewPullRequest{
		Title: github.String(draft.Title),
		Head:  github.String(draft.HeadBranch),
		Base:  github.String(draft.BaseBranch),
		Body:  github.String(draft.Body),
	}
	pullRequest, response, createError := client.client.PullRequests.Create(executionContext, githubAddress.Owner, githubAddress.Repository, newPullRequest)
	if createError != nil {
		return publish.HostedRequest{}, wrapAPIError(createOperationConstant, githubAddress, response, createError)
	}
	return hostedRequest(pullRequest), nil
}

// RequestMerge merges immediately for force mode. Auto-merge is not exposed by the REST API.
func (client *Client) RequestMerge(executionContext context.Context, address gitrepo.RepositoryAddress, request publish.HostedRequest, options publish.MergeOptions, _ string) error {
	githubAddress, addressError := requireGitHubAddress(address)
	if addressError != nil {
		return addressError
	}
	if options.Mode != publish.MergeModeForce {
		return publish.UnsupportedMergeModeError{Mode: options.Mode, Transport: transportNameConstant}
	}

	mergeOptions := &github.PullRequestOptions{MergeMethod: string(options.Strategy)}
	mergeResult, response, mergeError := client.client.PullRequests.Merge(executionContext, githubAddress.Owner, githubAddress.Repository, request.Number, "", mergeOptions)
	if mergeError != nil {
		return wrapAPIError(mergeOperationConstant, githubAddress, response, mergeError)
	}
	if !mergeResult.GetMerged() {
		return APIError{
			Operation:  mergeOperationConstant,
			Repository: githubAddress.DisplayName(),
			Cause:      fmt.Errorf(mergeNotPerformedMessageTemplate, request.Number, mergeResult.GetMessage()),
		}
	}
	if !options.DeleteBranch {
		return nil
	}

	pullRequest, lookupResponse, lookupError := client.client.PullRequests.Get(executionContext, githubAddress.Owner, githubAddress.Repository, request.Number)
	if lookupError != nil {
		return wrapAPIError(lookupOperationConstant, githubAddress, lookupResponse, lookupError)
	}
	branchReference := fmt.Sprintf(branchReferenceTemplateConstant, pullRequest.GetHead().GetRef())
	deleteResponse, deleteError := client.client.Git.DeleteRef(executionContext, githubAddress.Owner, githubAddress.Repository, branchReference)
	if deleteError != nil {
		return wrapAPIError(deleteBranchOperationConstant, githubAddress, deleteResponse, deleteError)
	}
	return nil
}

func requireGitHubAddress(address gitrepo.RepositoryAddress) (gitrepo.GitHubAddress, error) {
	githubAddress, isGitHub := address.(gitrepo.GitHubAddress)
	if !isGitHub {
		return gitrepo.GitHubAddress{}, retry.Permanent(ErrGitHubAddressRequired)
	}
	return githubAddress, nil
}

func hostedRequest(pullRequest *github.PullRequest) publish.HostedRequest {
	return publish.HostedRequest{Number: pullRequest.GetNumber(), URL: pullRequest.GetHTMLURL()}
}

// wrapAPIError marks client errors other than rate limiting as permanent.
func wrapAPIError(operation string, address gitrepo.GitHubAddress, response *github.Response, cause error) error {
	apiError := APIError{Operation: operation, Repository: address.DisplayName(), Cause: cause}
	if response != nil && response.Response != nil {
		apiError.StatusCode = response.StatusCode
	}
	var rateLimitError *github.RateLimitError
	var abuseRateLimitError *github.AbuseRateLimitError
	if errors.As(cause, &rateLimitError) || errors.As(cause, &abuseRateLimitError) {
		return apiError
	}
	if apiError.StatusCode >= http.StatusBadRequest && apiError.StatusCode < http.StatusInternalServerError && apiError.StatusCode != http.StatusTooManyRequests {
		return retry.Permanent(apiError)
	}
	return apiError
}
