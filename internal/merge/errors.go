package merge

import (
	"errors"
	"fmt"
)

// FailureKind is the closed set of ways a merge can fail. The kind is what
// the worker records in the task's result message; the cause carries the
// underlying detail.
type FailureKind string

const (
	FailureNoSegments  FailureKind = "NoSegmentsToMerge"
	FailureSourceFetch FailureKind = "SourceFetchFailed"
	FailureSilence     FailureKind = "SilenceGenerationFailed"
	FailureMerge       FailureKind = "MergeFailed"
	FailureUpload      FailureKind = "UploadFailed"
)

// Error is a tagged merge failure.
type Error struct {
	Kind  FailureKind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func failure(kind FailureKind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

func failuref(kind FailureKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Cause: fmt.Errorf(format, args...)}
}

// KindOf extracts the failure kind from an error chain.
func KindOf(err error) (FailureKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
