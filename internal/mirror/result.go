package mirror

import "fmt"

// Outcome classifies how one image or package handler ended.
type Outcome int

const (
	// OutcomeCompleted means this process did the work and it succeeded.
	OutcomeCompleted Outcome = iota

	// OutcomeAlreadyDone means the marker was already terminal; no
	// network or engine calls were made.
	OutcomeAlreadyDone

	// OutcomeSkipped means another process owns the work right now.
	// Neither counter changes.
	OutcomeSkipped

	// OutcomeFailed means the work was attempted and failed.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeAlreadyDone:
		return "already done"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Failure categories, surfaced in per-image messages and logs.
const (
	ReasonDownload = "download failed"
	ReasonPull     = "pull failed"
	ReasonLoad     = "load failed"
	ReasonDigest   = "digest mismatch"
	ReasonPush     = "push failed"
	ReasonTimeout  = "timed out waiting for download"
	ReasonUpstream = "download failed in producer"
	ReasonState    = "state store error"
)

// Result is the per-item outcome a handler returns for the driver to fold.
type Result struct {
	Outcome Outcome
	Reason  string // failure category, empty unless Outcome is OutcomeFailed
	Err     error
}

func completed() Result {
	return Result{Outcome: OutcomeCompleted}
}

func alreadyDone() Result {
	return Result{Outcome: OutcomeAlreadyDone}
}

func skipped() Result {
	return Result{Outcome: OutcomeSkipped}
}

func failed(reason string, err error) Result {
	return Result{Outcome: OutcomeFailed, Reason: reason, Err: err}
}

// Counters accumulate across one invocation. They are process-local: they
// reflect only the work this invocation performed (plus markers it found
// already done), never the progress of sibling processes.
type Counters struct {
	Completed int
	Errors    int
}

// Apply folds a handler result into the counters. Already-done items count
// as completed; skips change nothing.
func (c *Counters) Apply(r Result) {
	switch r.Outcome {
	case OutcomeCompleted, OutcomeAlreadyDone:
		c.Completed++
	case OutcomeFailed:
		c.Errors++
	}
}
