package job

// Result is produced by a handler and consumed by the worker to decide
// the job's transition. A nil Result with a nil error is treated as a
// plain success.
type Result struct {
	// Success mirrors the absence of a handler error. Kept explicit so
	// results can be persisted and summarized independently of errors.
	Success bool `json:"success"`

	// Output is an optional serialized result payload.
	Output []byte `json:"output,omitempty"`

	// Error is the handler's error string when Success is false.
	Error string `json:"error,omitempty"`

	// Metadata carries handler-defined key/value observations.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// OK returns a successful Result with no output.
func OK() *Result {
	return &Result{Success: true}
}

// OKWithOutput returns a successful Result carrying output.
func OKWithOutput(output []byte) *Result {
	return &Result{Success: true, Output: output}
}
