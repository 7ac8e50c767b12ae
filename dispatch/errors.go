package dispatch

import (
	"errors"
	"fmt"
)

var (
	ErrEmptySelection = errors.New("no contacts selected")
	ErrQuotaExceeded  = errors.New("selection exceeds the remaining daily send quota")
)

// PreflightError rejects a whole batch before anything is read, sent or written
type PreflightError struct {
	Reason    error
	Requested int
	Remaining int
	Err       error
}

func (e *PreflightError) Error() string {
	switch {
	case errors.Is(e.Reason, ErrQuotaExceeded):
		return fmt.Sprintf("%v: %d selected, %d remaining today", e.Reason, e.Requested, e.Remaining)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Reason, e.Err)
	}
	return e.Reason.Error()
}

func (e *PreflightError) Unwrap() []error {
	errs := []error{e.Reason}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

var ErrQuotaUnavailable = errors.New("could not read the remaining daily quota")

// CommitError means the batch write failed after messages went out.
// Contacts in Report may have been sent to without being advanced.
type CommitError struct {
	Err    error
	Report *Report
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("failed to commit dispatch results: %v", e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}
