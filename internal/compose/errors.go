package compose

import "fmt"

// CompositionError reports a failure to produce the composed image.
// ExitCode is -1 when the renderer never ran to completion.
type CompositionError struct {
	Reason   string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CompositionError) Error() string {
	msg := "composition failed: " + e.Reason
	if e.ExitCode > 0 {
		msg += fmt.Sprintf(" (exit code %d)", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CompositionError) Unwrap() error { return e.Err }
