// Package diff classifies rendered file content against the working tree and
// previews the difference as a unified diff.
package diff
