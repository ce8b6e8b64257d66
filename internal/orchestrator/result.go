// Package orchestrator implements unit execution and batch fan-out/fan-in on
// top of the task registry. Domain callbacks are plain functions registered
// in a typed dispatch table; their outcomes are values, never panics, so one
// unit's failure can never abort its siblings.
package orchestrator

// FailureKind classifies why a unit of work failed.
type FailureKind string

const (
	// FailureDomain is a failure reported by the domain callback itself.
	FailureDomain FailureKind = "domain"

	// FailurePanic is a panic recovered at the executor boundary.
	FailurePanic FailureKind = "panic"

	// FailureSkipped marks a unit that never ran because its batch was
	// cancelled before the unit started.
	FailureSkipped FailureKind = "skipped"
)

// Result is the terminal value of one domain callback invocation. Callbacks
// return it instead of an error so that success output and failure detail
// travel through the same channel; construct it with Ok or Fail.
type Result struct {
	ok      bool
	output  map[string]any
	kind    FailureKind
	message string
}

// Ok builds a successful result carrying the callback's output.
func Ok(output map[string]any) Result {
	return Result{ok: true, output: output}
}

// Fail builds a failed result with a classification and message.
func Fail(kind FailureKind, message string) Result {
	return Result{ok: false, kind: kind, message: message}
}

// IsOk reports whether the result is a success.
func (r Result) IsOk() bool {
	return r.ok
}

// Output returns the success output; nil for failures.
func (r Result) Output() map[string]any {
	return r.output
}

// Failure returns the failure classification and message; zero values for
// successes.
func (r Result) Failure() (FailureKind, string) {
	return r.kind, r.message
}
