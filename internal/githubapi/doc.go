// Package githubapi opens and merges GitHub pull requests through the REST API.
//
// It is the token-based alternative to the gh CLI transport. Client errors
// (4xx other than rate limiting) are marked permanent so the publisher does
// not retry them.
package githubapi
