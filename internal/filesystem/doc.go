// Package filesystem abstracts the file operations used by workspaces and manifests.
package filesystem
