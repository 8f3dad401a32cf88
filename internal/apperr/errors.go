// Package apperr defines the failure kinds surfaced by the ingest pipeline.
//
// Every error that crosses a package boundary towards a caller is an *Error.
// Message is safe to show to users; Err carries the internal cause and is
// only ever logged.
package apperr

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
)

// Kind classifies an error for propagation and status mapping.
type Kind string

const (
	KindInternal    Kind = "internal"
	KindExtraction  Kind = "extraction"
	KindParser      Kind = "parser"
	KindFilePersist Kind = "file_persist"
	KindNotFound    Kind = "not_found"
	KindValidation  Kind = "validation"
	KindUpstream    Kind = "upstream"
)

// Extraction sub-kinds.
var (
	ErrEmptyProject      = errors.New("no files survived filtering")
	ErrUnsupportedFormat = errors.New("unsupported archive format")
	ErrSizeLimitExceeded = errors.New("size limit exceeded")
)

// Error is a typed, user-presentable failure.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Fix     string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Extraction reports a fatal archive problem. cause should be one of the
// extraction sentinels, optionally wrapped.
func Extraction(op, msg string, cause error) *Error {
	return &Error{Kind: KindExtraction, Op: op, Message: msg, Err: cause}
}

// Parser reports a failed call to the structural parsing service.
func Parser(op, msg string, cause error) *Error {
	return &Error{Kind: KindParser, Op: op, Message: msg, Err: cause}
}

// FilePersist reports that a single extracted file could not be stored.
func FilePersist(path string, cause error) *Error {
	msg := fmt.Sprintf("failed to store %s", path)
	if cause != nil {
		msg = fmt.Sprintf("%s: %s", msg, publicCause(cause))
	}
	return &Error{Kind: KindFilePersist, Op: "store file", Message: msg, Err: cause}
}

// NotFound reports an unknown resource id.
func NotFound(resource string, id any) *Error {
	return &Error{
		Kind:    KindNotFound,
		Message: fmt.Sprintf("%s %v not found", resource, id),
	}
}

// Validation reports input rejected before any persistence.
func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

// Upstream reports a failure of an external source other than the parser.
func Upstream(op, msg string, cause error) *Error {
	return &Error{Kind: KindUpstream, Op: op, Message: msg, Err: cause}
}

// Internal wraps an unexpected failure behind a generic message.
func Internal(op string, cause error) *Error {
	return &Error{Kind: KindInternal, Op: op, Message: "internal error", Err: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// PublicMessage returns text safe to show a caller. Untyped errors collapse to
// a generic message so internal details never leak.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// publicCause renders the fixed, caller-safe part of a cause.
func publicCause(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "storage error"
}

var (
	colorError = color.New(color.FgRed, color.Bold)
	colorCause = color.New(color.FgYellow)
	colorFix   = color.New(color.FgCyan)
)

// Format renders err for a terminal.
func Format(err error, noColor bool) string {
	originalNoColor := color.NoColor
	defer func() { color.NoColor = originalNoColor }()
	if noColor || os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
	}

	var out strings.Builder
	out.WriteString(colorError.Sprint("Error: "))
	var e *Error
	if !errors.As(err, &e) {
		out.WriteString(err.Error())
		out.WriteString("\n")
		return out.String()
	}
	out.WriteString(e.Message)
	out.WriteString("\n")
	if e.Err != nil {
		out.WriteString(colorCause.Sprint("Cause: "))
		out.WriteString(e.Err.Error())
		out.WriteString("\n")
	}
	if e.Fix != "" {
		out.WriteString(colorFix.Sprint("Fix:   "))
		out.WriteString(e.Fix)
		out.WriteString("\n")
	}
	return out.String()
}
