package pipeline

// Stage names a pipeline step. Stage values appear in PipelineError and in
// stored task results.
type Stage string

const (
	StageValidate Stage = "validate"
	StageEncode   Stage = "encode"
	StageCompose  Stage = "compose"
	StageConvert  Stage = "convert"
	StageFinalize Stage = "finalize"
)

// State is the run's position in the state machine:
// VALIDATED → TOKEN_ENCODED → COMPOSED → CONVERTED → FINALIZED, or FAILED.
type State string

const (
	StateValidated    State = "VALIDATED"
	StateTokenEncoded State = "TOKEN_ENCODED"
	StateComposed     State = "COMPOSED"
	StateConverted    State = "CONVERTED"
	StateFinalized    State = "FINALIZED"
	StateFailed       State = "FAILED"
)

// Observer is notified on every state transition of a run.
type Observer func(certificateID string, state State)

// PipelineError wraps a stage failure with the stage that raised it.
type PipelineError struct {
	Stage Stage
	Err   error
}

func (e *PipelineError) Error() string {
	return string(e.Stage) + ": " + e.Err.Error()
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}
