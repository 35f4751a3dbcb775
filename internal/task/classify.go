package task

import (
	"context"
	"errors"

	"github.com/dyluth/certgen/internal/compose"
	"github.com/dyluth/certgen/internal/convert"
	"github.com/dyluth/certgen/internal/pipeline"
	"github.com/dyluth/certgen/internal/token"
	"github.com/dyluth/certgen/internal/toolexec"
	"github.com/dyluth/certgen/pkg/certificate"
)

// ErrorKind is the stable name of a failure class stored in results.
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindEncoding    ErrorKind = "encoding"
	KindComposition ErrorKind = "composition"
	KindConversion  ErrorKind = "conversion"
	KindFinalize    ErrorKind = "finalize"
	KindInternal    ErrorKind = "internal"
	KindTimeout     ErrorKind = "timeout"
	KindCanceled    ErrorKind = "canceled"
)

// Classify maps a pipeline error to its kind and failing stage.
func Classify(err error) (ErrorKind, string) {
	var stage string
	var pErr *pipeline.PipelineError
	if errors.As(err, &pErr) {
		stage = string(pErr.Stage)
	}

	var (
		vErr    *certificate.ValidationError
		encErr  *token.EncodingError
		compErr *compose.CompositionError
		convErr *convert.ConversionError
	)
	switch {
	case errors.As(err, &vErr):
		return KindValidation, stage
	case errors.Is(err, context.Canceled):
		return KindCanceled, stage
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, toolexec.ErrTimeout):
		return KindTimeout, stage
	case errors.As(err, &encErr):
		return KindEncoding, stage
	case errors.As(err, &compErr):
		return KindComposition, stage
	case errors.As(err, &convErr):
		return KindConversion, stage
	case stage == string(pipeline.StageFinalize):
		return KindFinalize, stage
	}
	return KindInternal, stage
}

// Transient reports whether a failure of kind k may succeed on retry.
// Validation failures are deterministic and cancellation is a caller
// decision, so neither is retried.
func (k ErrorKind) Transient() bool {
	switch k {
	case KindValidation, KindCanceled:
		return false
	}
	return true
}
