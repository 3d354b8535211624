package filesystem

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	temporaryFilePatternTemplateConstant = ".%s.tmp-*"
	atomicWriteErrorTemplateConstant     = "atomic write of %s failed: %w"
)

// FileSystem exposes the file operations needed to manage a repository workspace.
type FileSystem interface {
	Stat(path string) (fs.FileInfo, error)
	Abs(path string) (string, error)
	MkdirAll(path string, permissions fs.FileMode) error
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte, permissions fs.FileMode) error
	WriteFileAtomic(path string, data []byte, permissions fs.FileMode) error
	AppendFile(path string, data []byte, permissions fs.FileMode) error
	Remove(path string) error
	RemoveAll(path string) error
}

// OSFileSystem implements FileSystem using the operating system primitives.
type OSFileSystem struct{}

// Stat retrieves file metadata.
func (OSFileSystem) Stat(path string) (fs.FileInfo, error) {
	return os.Stat(path)
}

// Abs resolves an absolute path.
func (OSFileSystem) Abs(path string) (string, error) {
	return filepath.Abs(path)
}

// MkdirAll ensures a directory hierarchy exists with the provided permissions.
func (OSFileSystem) MkdirAll(path string, permissions fs.FileMode) error {
	return os.MkdirAll(path, permissions)
}

// ReadFile reads file contents.
func (OSFileSystem) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// WriteFile writes data to a file with the supplied permissions.
func (OSFileSystem) WriteFile(path string, data []byte, permissions fs.FileMode) error {
	return os.WriteFile(path, data, permissions)
}

// WriteFileAtomic writes data to a sibling temporary file and renames it over path.
func (OSFileSystem) WriteFileAtomic(path string, data []byte, permissions fs.FileMode) error {
	directory := filepath.Dir(path)
	temporaryFile, createError := os.CreateTemp(directory, fmt.Sprintf(temporaryFilePatternTemplateConstant, filepath.Base(path)))
	if createError != nil {
		return fmt.Errorf(atomicWriteErrorTemplateConstant, path, createError)
	}
	temporaryPath := temporaryFile.Name()

	_, writeError := temporaryFile.Write(data)
	closeError := temporaryFile.Close()
	if writeError == nil {
		writeError = closeError
	}
	if writeError == nil {
		writeError = os.Chmod(temporaryPath, permissions)
	}
	if writeError == nil {
		writeError = os.Rename(temporaryPath, path)
	}
	if writeError != nil {
		_ = os.Remove(temporaryPath)
		return fmt.Errorf(atomicWriteErrorTemplateConstant, path, writeError)
	}
	return nil
}

// AppendFile appends data to path, creating the file when it does not exist.
func (OSFileSystem) AppendFile(path string, data []byte, permissions fs.FileMode) error {
	file, openError := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permissions)
	if openError != nil {
		return openError
	}
	_, writeError := file.Write(data)
	closeError := file.Close()
	if writeError != nil {
		return writeError
	}
	return closeError
}

// Remove deletes a single file. A missing file is not an error.
func (OSFileSystem) Remove(path string) error {
	removeError := os.Remove(path)
	if removeError != nil && errors.Is(removeError, fs.ErrNotExist) {
		return nil
	}
	return removeError
}

// RemoveAll deletes a path and any children. A missing path is not an error.
func (OSFileSystem) RemoveAll(path string) error {
	return os.RemoveAll(path)
}
