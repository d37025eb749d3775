package validation

import (
	"errors"
	"fmt"
)

// ErrUnsupportedLookup is returned by an adapter that can satisfy neither
// the identifier nor the coordinate lookup mode for a given job.
var ErrUnsupportedLookup = errors.New("adapter supports neither identifier nor coordinate lookup")

// ReadError wraps a provider failure or malformed provider output for a
// single dataset. Non-reference read errors are absorbed by the DataManager.
type ReadError struct {
	Dataset string
	Err     error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("dataset %q: read failed: %v", e.Dataset, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// JobReadError marks the temporal reference dataset as unreadable. It is
// fatal to the job: no partial ResultRecord is produced.
type JobReadError struct {
	Dataset string
	Err     error
}

func (e *JobReadError) Error() string {
	return fmt.Sprintf("reference dataset %q unreadable, job aborted: %v", e.Dataset, e.Err)
}

func (e *JobReadError) Unwrap() error { return e.Err }

// MatchError signals degenerate matcher input that cannot be resolved
// deterministically, e.g. a negative tolerance window.
type MatchError struct {
	Reason string
}

func (e *MatchError) Error() string {
	return fmt.Sprintf("temporal matching: %s", e.Reason)
}

// ScalingError marks a degenerate value distribution (zero variance, zero
// range). It is recorded per combination and never aborts the job.
type ScalingError struct {
	Method string
	Reason string
}

func (e *ScalingError) Error() string {
	return fmt.Sprintf("scaling %q: %s", e.Method, e.Reason)
}

// MetricError wraps a metric function failure for one combination.
type MetricError struct {
	Combination string
	Err         error
}

func (e *MetricError) Error() string {
	return fmt.Sprintf("metric for %s failed: %v", e.Combination, e.Err)
}

func (e *MetricError) Unwrap() error { return e.Err }
