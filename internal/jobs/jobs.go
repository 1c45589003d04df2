// Package jobs runs asynchronous VCF processing runs: a bounded
// in-process worker pool in front of a pluggable state backend that
// survives across polling requests.
package jobs

import (
	"context"
	"fmt"
	"math"
)

// State of an asynchronous run. An ID the backend has never seen is
// PENDING.
type State string

// Run states.
const (
	StatePending State = "PENDING"
	StateSent    State = "SENT"
	StateSuccess State = "SUCCESS"
	StateFailure State = "FAILURE"
)

// ErrorCode classifies a terminal failure.
type ErrorCode string

// Failure codes.
const (
	ErrTimeLimitExceeded ErrorCode = "TIME_LIMIT_EXCEEDED"
	ErrWorkerLost        ErrorCode = "WORKER_LOST_ERROR"
	ErrRunFailure        ErrorCode = "RUN_FAILURE"
)

// Result is the stored outcome of a run.
type Result struct {
	ID         string    `json:"id"`
	State      State     `json:"state"`
	ErrorCode  ErrorCode `json:"error_code,omitempty"`
	Message    string    `json:"message,omitempty"`
	OutputPath string    `json:"output_path,omitempty"`
	// RetryAfter is the poll interval estimate recorded at submit, in
	// seconds.
	RetryAfter int `json:"retry_after,omitempty"`
}

// DuplicateRunError reports a submit for a run ID that is already in
// flight or finished.
type DuplicateRunError struct {
	ID    string
	State State
}

func (e *DuplicateRunError) Error() string {
	return fmt.Sprintf("run %q already exists in state %s", e.ID, e.State)
}

// Backend persists run results between submit and poll. Get returns
// nil for an unknown ID.
type Backend interface {
	Get(ctx context.Context, id string) (*Result, error)
	Set(ctx context.Context, r Result) error
	Forget(ctx context.Context, id string) error
	Close() error
}

// DefaultExpectedIDsPerSecond is the assumed annotation throughput for
// Retry-After estimates.
const DefaultExpectedIDsPerSecond = 500

// RetryAfter estimates the seconds until a run over the given number
// of sites should be polled again. Translating the REF allele doubles
// the work per site.
func RetryAfter(sites int, computeForRef bool, expectedIDsPerSecond int) int {
	if expectedIDsPerSecond <= 0 {
		expectedIDsPerSecond = DefaultExpectedIDsPerSecond
	}
	factor := 1
	if computeForRef {
		factor = 2
	}
	secs := int(math.Ceil(float64(sites*factor) / float64(expectedIDsPerSecond)))
	if secs < 1 {
		return 1
	}
	return secs
}
