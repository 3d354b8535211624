// Package render turns configured file content into the bytes written to a repository.
//
// Content arrives as decoded YAML or JSON values: maps, lists, scalars, or an
// @path reference to a file next to the sync definition. Format is chosen by
// the target file extension. Every rendered file ends with exactly one newline.
package render
