package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest signals malformed or incomplete client input.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrEmptySearchResult signals a catalog search that matched no items.
	ErrEmptySearchResult = errors.New("empty search result")
	// ErrCatalogSearch signals a failed catalog query.
	ErrCatalogSearch = errors.New("catalog search failed")
	// ErrMosaicAssembly signals that a mosaic definition could not be built.
	ErrMosaicAssembly = errors.New("mosaic assembly failed")
	// ErrTokenAcquisition signals that the tile server refused to issue a token.
	ErrTokenAcquisition = errors.New("token acquisition failed")
	// ErrPublish signals that the tile server rejected a mosaic upload.
	ErrPublish = errors.New("mosaic publish failed")
	// ErrStageTimeout signals a pipeline stage that ran past its budget.
	ErrStageTimeout = errors.New("stage timeout")
)

// DetailError carries a client-facing detail message for a sentinel kind.
// errors.Is matches the sentinel; errors.Unwrap yields the underlying cause.
type DetailError struct {
	Kind   error
	Detail string
	Cause  error
}

func (e *DetailError) Error() string { return e.Detail }

// Is reports whether target is the error kind.
func (e *DetailError) Is(target error) bool { return target == e.Kind }

func (e *DetailError) Unwrap() error { return e.Cause }

// NewDetailError creates a DetailError. cause may be nil.
func NewDetailError(kind error, detail string, cause error) error {
	return &DetailError{Kind: kind, Detail: detail, Cause: cause}
}

// Stage names a step of the mosaic pipeline.
type Stage string

const (
	// StageSearch is the catalog query.
	StageSearch Stage = "search"
	// StageAssemble is asset inspection plus definition building.
	StageAssemble Stage = "assemble"
	// StageToken is token acquisition.
	StageToken Stage = "token"
	// StagePublish is the mosaic upload.
	StagePublish Stage = "publish"
)

var stageTimeoutMessages = map[Stage]string{
	StageSearch:   "timeout executing STAC API search",
	StageAssemble: "timeout reading a COG asset and generating MosaicJSON definition",
	StageToken:    "timeout getting mosaicer access token",
	StagePublish:  "timeout creating mosaic in mosaicer service",
}

// StageTimeoutError wraps ErrStageTimeout with the stage that expired.
type StageTimeoutError struct {
	Stage Stage
}

func (e *StageTimeoutError) Error() string {
	if msg, ok := stageTimeoutMessages[e.Stage]; ok {
		return msg
	}
	return fmt.Sprintf("timeout in %s stage", e.Stage)
}

func (e *StageTimeoutError) Unwrap() error { return ErrStageTimeout }

// NewStageTimeout creates a stage timeout error.
func NewStageTimeout(stage Stage) error {
	return &StageTimeoutError{Stage: stage}
}

// StageError tags an unclassified failure with the pipeline stage it came from.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// InStage wraps err in a StageError unless it already carries a detail or a
// stage. nil stays nil.
func InStage(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	var (
		de *DetailError
		te *StageTimeoutError
		se *StageError
	)
	if errors.As(err, &de) || errors.As(err, &te) || errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Err: err}
}

// Detail returns the client-facing message carried by err.
// Falls back to err.Error() for errors without an explicit detail.
func Detail(err error) string {
	if err == nil {
		return ""
	}
	var de *DetailError
	if errors.As(err, &de) {
		return de.Detail
	}
	var te *StageTimeoutError
	if errors.As(err, &te) {
		return te.Error()
	}
	return err.Error()
}
