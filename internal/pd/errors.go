package pd

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

var (
	// ErrInvalidated is returned by operations on a library after it was
	// invalidated or removed.
	ErrInvalidated = errors.New("library has been invalidated")

	// ErrNotEditable is returned when setting a read-only property.
	ErrNotEditable = errors.New("property is not editable")

	// ErrInvalidValue is returned when a property value has the wrong kind
	// or is out of range.
	ErrInvalidValue = errors.New("invalid property value")

	// ErrUnsupportedType is returned when no file of an image matches the
	// requested file types.
	ErrUnsupportedType = errors.New("unsupported file type")

	// ErrImageRemoved is returned by file operations on a removed image.
	ErrImageRemoved = errors.New("image has been removed")

	// ErrNoSuchLibrary is returned when a library id is not registered.
	ErrNoSuchLibrary = errors.New("no such library")
)

// FileError is the structured error returned by FileManager operations.
// Error returns a user-presentable description; RecoverySuggestion may add a
// hint on how to fix the problem.
type FileError struct {
	Op         string
	Path       string
	Err        error
	Suggestion string
}

// NewFileError wraps err for op on path, deriving a recovery suggestion
// from well-known causes.
func NewFileError(op, path string, err error) *FileError {
	var fe *FileError
	if errors.As(err, &fe) && fe.Op == op && fe.Path == path {
		return fe
	}
	return &FileError{Op: op, Path: path, Err: err, Suggestion: suggestionFor(err)}
}

func (e *FileError) Error() string {
	name := e.Path
	if name == "" {
		name = "library root"
	}
	return fmt.Sprintf("could not %s %q: %v", e.Op, name, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// RecoverySuggestion returns a hint for the user, or "".
func (e *FileError) RecoverySuggestion() string { return e.Suggestion }

func suggestionFor(err error) string {
	switch {
	case errors.Is(err, fs.ErrExist):
		return "Choose a different destination or rename the existing item."
	case errors.Is(err, fs.ErrNotExist):
		return "The item may have been moved or deleted outside the library."
	case errors.Is(err, fs.ErrPermission):
		return "Check that you have permission to change the item."
	default:
		return ""
	}
}

// ItemError records the failure of one item of a batch operation.
type ItemError struct {
	Index int
	Path  string
	Err   error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e ItemError) Unwrap() error { return e.Err }

// BatchError is returned by batch operations when at least one item failed.
// Items that succeeded are not listed.
type BatchError struct {
	Total int
	Items []ItemError
}

func (e *BatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d of %d items failed", len(e.Items), e.Total)
	for i, item := range e.Items {
		if i == 3 {
			fmt.Fprintf(&b, "; and %d more", len(e.Items)-i)
			break
		}
		b.WriteString("; ")
		b.WriteString(item.Error())
	}
	return b.String()
}

func (e *BatchError) Unwrap() []error {
	errs := make([]error, len(e.Items))
	for i, item := range e.Items {
		errs[i] = item
	}
	return errs
}

// batch collects per-item failures.
type batch struct {
	total int
	items []ItemError
}

func (b *batch) add(index int, path string, err error) {
	b.items = append(b.items, ItemError{Index: index, Path: path, Err: err})
}

func (b *batch) err() error {
	if len(b.items) == 0 {
		return nil
	}
	return &BatchError{Total: b.total, Items: b.items}
}
