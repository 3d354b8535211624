package githubauth

import (
	"errors"
	"os"
	"strings"

	"golang.org/x/oauth2"
)

// Environment variable names consulted for a GitHub token, in preference order.
const (
	EnvGitHubCLIToken = "GH_TOKEN"
	EnvGitHubToken    = "GITHUB_TOKEN"
	EnvGitHubAPIToken = "GITHUB_API_TOKEN"
)

const tokenNotFoundMessageConstant = "no GitHub token found in GH_TOKEN, GITHUB_TOKEN or GITHUB_API_TOKEN"

// ErrTokenNotFound indicates none of the token variables carried a value.
var ErrTokenNotFound = errors.New(tokenNotFoundMessageConstant)

var tokenPreference = []string{
	EnvGitHubCLIToken,
	EnvGitHubToken,
	EnvGitHubAPIToken,
}

// EnvironmentLookup resolves a single environment variable.
type EnvironmentLookup func(key string) (string, bool)

// NewTokenSource wraps the first non-empty token from explicit, then from
// lookupEnvironment, in a static oauth2 token source. A nil lookup reads the process environment.
func NewTokenSource(explicit map[string]string, lookupEnvironment EnvironmentLookup) (oauth2.TokenSource, error) {
	if lookupEnvironment == nil {
		lookupEnvironment = os.LookupEnv
	}
	token, found := resolveToken(explicit, lookupEnvironment)
	if !found {
		return nil, ErrTokenNotFound
	}
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}), nil
}

func resolveToken(explicit map[string]string, lookupEnvironment EnvironmentLookup) (string, bool) {
	for _, key := range tokenPreference {
		if value, ok := lookup(explicit, key); ok {
			return value, true
		}
	}
	for _, key := range tokenPreference {
		if value, ok := lookupEnvironment(key); ok {
			value = strings.TrimSpace(value)
			if len(value) > 0 {
				return value, true
			}
		}
	}
	return "", false
}

func lookup(environment map[string]string, key string) (string, bool) {
	if environment == nil {
		return "", false
	}
	value, exists := environment[key]
	if !exists {
		return "", false
	}
	value = strings.TrimSpace(value)
	if len(value) == 0 {
		return "", false
	}
	return value, true
}
