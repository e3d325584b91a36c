package services

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Outcome classifies the result of a remote operation.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeNotFound
	OutcomeTransient
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeNotFound:
		return "not-found"
	case OutcomeTransient:
		return "transient"
	default:
		return "fatal"
	}
}

// Classify maps an error returned by a Store to an Outcome.
func Classify(err error) Outcome {
	var netErr net.Error
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, ErrTransient),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr):
		return OutcomeTransient
	default:
		return OutcomeFatal
	}
}

// Result is the outcome of deleting one remote path.
type Result struct {
	Path    string
	Outcome Outcome
	Err     error
}

// DeleteReport aggregates per-path results of a bulk delete.
type DeleteReport struct {
	Results []Result
}

func (r *DeleteReport) add(path string, err error) {
	r.Results = append(r.Results, Result{Path: path, Outcome: Classify(err), Err: err})
}

// Deleted lists the paths that were removed.
func (r DeleteReport) Deleted() []string {
	var out []string
	for _, res := range r.Results {
		if res.Outcome == OutcomeOK {
			out = append(out, res.Path)
		}
	}
	return out
}

// Failures returns the results that were neither deleted nor already absent.
func (r DeleteReport) Failures() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Outcome == OutcomeTransient || res.Outcome == OutcomeFatal {
			out = append(out, res)
		}
	}
	return out
}

// Warnings renders failures as user-facing messages.
func (r DeleteReport) Warnings() []string {
	var out []string
	for _, res := range r.Failures() {
		out = append(out, fmt.Sprintf("Error deleting %s (%s): %v", res.Path, res.Outcome, res.Err))
	}
	return out
}
