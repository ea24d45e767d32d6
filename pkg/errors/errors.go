// Package errors provides the error taxonomy of the bxes codec.
// Every error carries a Code for programmatic handling; codec failures are
// returned as typed values so callers can recover offsets and versions.
package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Code identifies an error class.
type Code string

const (
	// Input errors (1xx)
	CodeFileNotFound    Code = "E101"
	CodeInvalidFormat   Code = "E103"
	CodeUnsupportedType Code = "E107"
	CodeVersionMismatch Code = "E108"

	// Processing errors (2xx)
	CodeParseFailed  Code = "E201"
	CodeEncodeFailed Code = "E202"

	// Output errors (3xx)
	CodeWriteFailed     Code = "E301"
	CodeSavePathNotDir  Code = "E304"
	CodeStorageFailed   Code = "E305"
	CodeTransportFailed Code = "E306"

	// System errors (4xx)
	CodeContextCanceled Code = "E401"
	CodeConfigInvalid   Code = "E402"

	// Unknown
	CodeUnknown Code = "E999"
)

// coder is implemented by every error in this package.
type coder interface {
	Code() Code
}

// BxesError is the generic coded error used for I/O and plumbing failures.
type BxesError struct {
	Kind    Code
	Message string
	Cause   error
	Context map[string]any
}

// Error implements the error interface.
func (e *BxesError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", e.Kind, e.Message)

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s=%v", k, e.Context[k])
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Code returns the error code.
func (e *BxesError) Code() Code { return e.Kind }

// Unwrap returns the underlying cause.
func (e *BxesError) Unwrap() error { return e.Cause }

// Is matches any coded error with the same code.
func (e *BxesError) Is(target error) bool {
	if t, ok := target.(coder); ok {
		return e.Kind == t.Code()
	}
	return false
}

// WithContext adds context to the error.
func (e *BxesError) WithContext(key string, value any) *BxesError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// New creates a new BxesError.
func New(code Code, message string) *BxesError {
	return &BxesError{Kind: code, Message: message}
}

// Wrap wraps an existing error with a code and message. Wrap(nil, ...) is nil.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &BxesError{Kind: code, Message: message, Cause: err}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...any) error {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// ParseError reports a malformed byte sequence: truncated read, unknown type
// tag, out-of-range index or invalid payload. Offset is relative to the start
// of the section buffer being decoded (the archive entry or the file).
type ParseError struct {
	Offset int64
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse bxes at offset %d: %s", e.Offset, e.Reason)
}

// Code returns CodeParseFailed.
func (e *ParseError) Code() Code { return CodeParseFailed }

// Is matches ErrParse and any error coded CodeParseFailed.
func (e *ParseError) Is(target error) bool { return sameCode(e, target) }

// NewParseError creates a ParseError with a formatted reason.
func NewParseError(offset int64, format string, args ...any) *ParseError {
	return &ParseError{Offset: offset, Reason: fmt.Sprintf(format, args...)}
}

// VersionMismatchError reports inconsistent version headers across the files
// of a multi-file log.
type VersionMismatchError struct {
	Expected uint32
	Found    uint32
	File     string
}

func (e *VersionMismatchError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("versions mismatch in %s: expected %d, found %d", e.File, e.Expected, e.Found)
	}
	return fmt.Sprintf("versions mismatch: expected %d, found %d", e.Expected, e.Found)
}

// Code returns CodeVersionMismatch.
func (e *VersionMismatchError) Code() Code { return CodeVersionMismatch }

// Is matches ErrVersionMismatch.
func (e *VersionMismatchError) Is(target error) bool { return sameCode(e, target) }

// SavePathIsNotDirectoryError is returned when a multi-file write targets
// something other than an existing directory.
type SavePathIsNotDirectoryError struct {
	Path string
}

func (e *SavePathIsNotDirectoryError) Error() string {
	return fmt.Sprintf("save path is not a directory: %s", e.Path)
}

// Code returns CodeSavePathNotDir.
func (e *SavePathIsNotDirectoryError) Code() Code { return CodeSavePathNotDir }

// Is matches ErrSavePathIsNotDirectory.
func (e *SavePathIsNotDirectoryError) Is(target error) bool { return sameCode(e, target) }

// UnsupportedTypeIDError is returned when a value's type id lies outside the
// defined enumeration.
type UnsupportedTypeIDError struct {
	TypeID uint8
}

func (e *UnsupportedTypeIDError) Error() string {
	return fmt.Sprintf("unsupported type id %d", e.TypeID)
}

// Code returns CodeUnsupportedType.
func (e *UnsupportedTypeIDError) Code() Code { return CodeUnsupportedType }

// Is matches ErrUnsupportedTypeID.
func (e *UnsupportedTypeIDError) Is(target error) bool { return sameCode(e, target) }

// Sentinels for errors.Is.
var (
	ErrParse                  = New(CodeParseFailed, "parse failed")
	ErrVersionMismatch        = New(CodeVersionMismatch, "versions mismatch")
	ErrSavePathIsNotDirectory = New(CodeSavePathNotDir, "save path is not a directory")
	ErrUnsupportedTypeID      = New(CodeUnsupportedType, "unsupported type id")
)

func sameCode(e coder, target error) bool {
	if t, ok := target.(coder); ok {
		return e.Code() == t.Code()
	}
	return false
}

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	return GetCode(err) == code
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var c coder
	if errors.As(err, &c) {
		return c.Code()
	}
	return CodeUnknown
}

// MultiError collects multiple errors.
type MultiError struct {
	Errors []error
}

// Error implements the error interface.
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d errors occurred:\n", len(m.Errors))
	for i, err := range m.Errors {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Add adds an error to the collection.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// HasErrors returns true if any errors were collected.
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// Combined returns nil if no errors, the single error if one, or the MultiError.
func (m *MultiError) Combined() error {
	switch len(m.Errors) {
	case 0:
		return nil
	case 1:
		return m.Errors[0]
	default:
		return m
	}
}
