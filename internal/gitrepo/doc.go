// Package gitrepo models repository addresses and drives git working copies.
//
// ParseRepositoryAddress turns GitHub and Azure DevOps remotes into a sealed
// RepositoryAddress. Driver performs clone, branch, write, status, commit and
// push operations for a single workspace through escaped shell command lines,
// retrying the network-facing ones.
package gitrepo
