package ingest

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure taxonomy and store contracts.
var (
	ErrNetwork           = errors.New("network failure")
	ErrContentQuality    = errors.New("content quality failure")
	ErrCircuitOpen       = errors.New("circuit open")
	ErrExtraction        = errors.New("extraction failure")
	ErrParse             = errors.New("extraction parse failure")
	ErrPersistence       = errors.New("persistence failure")
	ErrDenied            = errors.New("url denied")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("status conflict")
)

// FailureKind labels a per-link failure for logs, metrics and history rows.
type FailureKind string

// Failure kinds.
const (
	FailureNetwork        FailureKind = "network"
	FailureContentQuality FailureKind = "content_quality"
	FailureCircuitOpen    FailureKind = "circuit_open"
	FailureExtraction     FailureKind = "extraction"
	FailureParse          FailureKind = "parse"
	FailurePersistence    FailureKind = "persistence"
	FailureDenied         FailureKind = "denied"
	FailureInternal       FailureKind = "internal"
)

var kindSentinels = []struct {
	kind FailureKind
	err  error
}{
	{FailureNetwork, ErrNetwork},
	{FailureContentQuality, ErrContentQuality},
	{FailureCircuitOpen, ErrCircuitOpen},
	{FailureParse, ErrParse},
	{FailureExtraction, ErrExtraction},
	{FailurePersistence, ErrPersistence},
	{FailureDenied, ErrDenied},
}

func sentinelFor(kind FailureKind) error {
	for _, ks := range kindSentinels {
		if ks.kind == kind {
			return ks.err
		}
	}
	return nil
}

// Failure is a classified per-link failure. Message is what lands in the
// link's error_message; Err is the underlying cause.
type Failure struct {
	Kind    FailureKind
	Message string
	Err     error
}

// NewFailure builds a Failure of the given kind.
func NewFailure(kind FailureKind, message string, cause error) *Failure {
	return &Failure{Kind: kind, Message: message, Err: cause}
}

// Error implements error.
func (f *Failure) Error() string {
	if f.Err == nil {
		return f.Message
	}
	if f.Message == "" {
		return f.Err.Error()
	}
	return fmt.Sprintf("%s: %v", f.Message, f.Err)
}

// Unwrap exposes both the kind sentinel and the cause to errors.Is.
func (f *Failure) Unwrap() []error {
	var errs []error
	if sentinel := sentinelFor(f.Kind); sentinel != nil {
		errs = append(errs, sentinel)
	}
	if f.Err != nil {
		errs = append(errs, f.Err)
	}
	return errs
}

// CountsAgainstBreaker reports whether the failure says something about the
// health of the domain. Circuit-open skips are not counted again.
func (f *Failure) CountsAgainstBreaker() bool {
	return f.Kind == FailureNetwork || f.Kind == FailureContentQuality
}

// LinkStatus returns the terminal status a link takes for this failure.
func (f *Failure) LinkStatus() LinkStatus {
	if f.Kind == FailureDenied {
		return LinkStatusRejected
	}
	return LinkStatusError
}

// AsFailure classifies err, wrapping unknown errors as internal failures.
func AsFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	for _, ks := range kindSentinels {
		if errors.Is(err, ks.err) {
			return &Failure{Kind: ks.kind, Message: err.Error(), Err: err}
		}
	}
	return &Failure{Kind: FailureInternal, Message: err.Error(), Err: err}
}
