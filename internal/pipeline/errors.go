package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrDocumentNotFound is returned by document stores when no row matches
// the lookup key.
var ErrDocumentNotFound = errors.New("document not found")

// FailureClass partitions per-document errors so the queue can decide retry
// behavior and operators can tell "can't reach source" from "source content
// unusable".
type FailureClass string

// Failure classes recorded with failed queue entries.
const (
	// FailureTransient covers timeouts, 5xx responses and connection resets;
	// retried with backoff up to the configured budget.
	FailureTransient FailureClass = "transient"
	// FailurePermanent covers 4xx responses and malformed sources; never
	// retried.
	FailurePermanent FailureClass = "permanent"
	// FailureExtraction means every extraction strategy rejected the
	// content; terminal, and does not consume the transient retry budget.
	FailureExtraction FailureClass = "extraction"
	// FailureProcessing covers entity/embedding stage errors.
	FailureProcessing FailureClass = "processing"
	// FailureStorage covers store write failures after inline retries.
	FailureStorage FailureClass = "storage"
)

// Retryable reports whether the class consumes retry budget and re-enters
// the queue.
func (c FailureClass) Retryable() bool {
	switch c {
	case FailureTransient, FailureStorage:
		return true
	default:
		return false
	}
}

// Error carries a failure class alongside the underlying cause so the
// supervisor can contain it at the document boundary.
type Error struct {
	Class FailureClass
	Stage string
	Err   error
}

// NewError wraps err with its failure class and originating stage.
func NewError(class FailureClass, stage string, err error) *Error {
	return &Error{Class: class, Stage: stage, Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failure in %s: %v", e.Class, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ClassOf extracts the failure class from err, defaulting to processing for
// unclassified errors so they are contained but not retried forever.
func ClassOf(err error) FailureClass {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Class
	}
	return FailureProcessing
}

// ClassifyHTTPStatus maps an HTTP response code to a failure class. 2xx maps
// to the zero value since it is not a failure.
func ClassifyHTTPStatus(code int) FailureClass {
	switch {
	case code >= 200 && code < 300:
		return ""
	case code >= 400 && code < 500:
		return FailurePermanent
	default:
		return FailureTransient
	}
}

// ClassifyNetworkError maps transport-level errors to a failure class.
// Context cancellation is surfaced unclassified so shutdown is not recorded
// as a document failure.
func ClassifyNetworkError(err error) FailureClass {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return ""
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return FailureTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTransient
	}
	return FailureTransient
}
