// Package githubauth resolves the GitHub token used by the REST transport.
package githubauth
