// Package errs holds the closed error taxonomy spec'd for the Controller and
// PipelineEngine: typed input errors the Controller returns directly, and the
// tagged stage-result sum the pipeline classifies every stage outcome into,
// replacing exception-driven control flow with an explicit Ok/Retryable/
// PageError/Terminal variant.
package errs

import "fmt"

// Kind is the closed set of error-surface classes from the error handling
// design.
type Kind string

const (
	// Input errors: returned to caller, no retry, no state change beyond
	// recording the reason.
	InvalidFile   Kind = "InvalidFile"
	UploadTooLarge Kind = "UploadTooLarge"
	UnknownSchema Kind = "UnknownSchema"
	InvalidState  Kind = "InvalidState"
	NotFoundKind  Kind = "NotFound"
	ConflictKind  Kind = "Conflict"

	// Transient infrastructure errors: retried with backoff, counted
	// against MaxAttempts.
	VisionUnavailable  Kind = "VisionUnavailable"
	VisionRateLimited  Kind = "VisionRateLimited"
	StoreUnavailable   Kind = "StoreUnavailable"

	// Document-level terminal errors.
	DocumentTooLarge         Kind = "DocumentTooLarge"
	Unreadable               Kind = "Unreadable"
	AllPagesFailedExtraction Kind = "AllPagesFailedExtraction"
	TimeoutKind              Kind = "Timeout"
	CancelledKind            Kind = "Cancelled"
)

// Error is a typed, classified error carrying its Kind and an optional
// wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func New(kind Kind, msg string) *Error { return &Error{Kind: kind, Message: msg} }

func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}

// IsInput reports whether kind belongs to the input-error surface class:
// the Controller propagates these directly with no retry.
func (k Kind) IsInput() bool {
	switch k {
	case InvalidFile, UploadTooLarge, UnknownSchema, InvalidState, NotFoundKind, ConflictKind:
		return true
	}
	return false
}

// IsTransient reports whether kind is retried with exponential backoff
// within a job and counted against MaxAttempts.
func (k Kind) IsTransient() bool {
	switch k {
	case VisionUnavailable, VisionRateLimited, StoreUnavailable:
		return true
	}
	return false
}

// IsTerminal reports whether kind sets the Document to Failed.
func (k Kind) IsTerminal() bool {
	switch k {
	case DocumentTooLarge, Unreadable, AllPagesFailedExtraction, TimeoutKind, CancelledKind:
		return true
	}
	return false
}

// HTTPStatus maps a Kind to the status code table in the external interface
// design.
func (k Kind) HTTPStatus() int {
	switch k {
	case InvalidFile, InvalidState:
		return 400
	case NotFoundKind:
		return 404
	case ConflictKind:
		return 409
	case UploadTooLarge:
		return 413
	case UnknownSchema:
		return 422
	case VisionRateLimited:
		return 429
	default:
		return 500
	}
}

// StageOutcome is the tagged sum a pipeline stage returns in place of a bare
// error: Ok carries no error, Retryable carries a transient Kind eligible for
// backoff-and-retry, PageError scopes the failure to a single page without
// failing the document, Terminal carries a Kind that fails the document.
type StageOutcome struct {
	Variant Variant
	Kind    Kind
	Err     error
}

type Variant int

const (
	Ok Variant = iota
	Retryable
	PageError
	Terminal
)

func OkOutcome() StageOutcome { return StageOutcome{Variant: Ok} }

func RetryableOutcome(kind Kind, err error) StageOutcome {
	return StageOutcome{Variant: Retryable, Kind: kind, Err: err}
}

func PageErrorOutcome(err error) StageOutcome {
	return StageOutcome{Variant: PageError, Err: err}
}

func TerminalOutcome(kind Kind, err error) StageOutcome {
	return StageOutcome{Variant: Terminal, Kind: kind, Err: err}
}

// Classify turns a raw error from a capability call into a StageOutcome,
// generalizing the source's AI-call error classifier to every pipeline
// stage.
func Classify(err error) StageOutcome {
	if err == nil {
		return OkOutcome()
	}
	if e, ok := err.(*Error); ok {
		switch {
		case e.Kind.IsTransient():
			return RetryableOutcome(e.Kind, e)
		case e.Kind.IsTerminal():
			return TerminalOutcome(e.Kind, e)
		default:
			return TerminalOutcome(e.Kind, e)
		}
	}
	return RetryableOutcome(StoreUnavailable, err)
}
