package operations

import (
	"errors"
	"fmt"
)

// ErrUnknownOperation is matched by every UnknownOperationError
var ErrUnknownOperation = errors.New("unknown operation")

type UnknownOperationError struct {
	ID string
}

func (e *UnknownOperationError) Error() string {
	return fmt.Sprintf("unknown operation: %s", e.ID)
}

func (e *UnknownOperationError) Is(target error) bool {
	return target == ErrUnknownOperation
}

// ProcessingError reports a transform that could not produce a valid raster.
// Position is the zero-based step index, or -1 outside of a pipeline.
type ProcessingError struct {
	Op       string
	Position int
	Err      error
}

func NewProcessingError(op string, position int, err error) *ProcessingError {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return &ProcessingError{Op: op, Position: position, Err: pe.Err}
	}
	return &ProcessingError{Op: op, Position: position, Err: err}
}

func (e *ProcessingError) Error() string {
	if e.Position < 0 {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("step %d (%s): %v", e.Position, e.Op, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

func IsProcessingError(err error) bool {
	var pe *ProcessingError
	return errors.As(err, &pe)
}
