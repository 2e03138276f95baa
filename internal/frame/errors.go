package frame

import (
	"errors"
	"fmt"
)

// DataUnavailableError reports that the upstream reader could not
// supply data for a key (out-of-range coordinates, missing or corrupt
// files). Surfaced to the caller of Resolve; nothing is cached.
type DataUnavailableError struct {
	Key SliceKey
	Err error
}

func (e *DataUnavailableError) Error() string {
	return fmt.Sprintf("data unavailable for %s: %v", e.Key, e.Err)
}

func (e *DataUnavailableError) Unwrap() error { return e.Err }

// ProcessingError reports a transform failure on otherwise valid data.
type ProcessingError struct {
	Key SliceKey
	Err error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing failed for %s: %v", e.Key, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// ErrCapacityViolation flags a breach of the frame cache budget
// invariant. It never surfaces to callers: the cache logs it, counts
// it, and keeps serving.
var ErrCapacityViolation = errors.New("frame cache over budget")

func IsDataUnavailable(err error) bool {
	var de *DataUnavailableError
	return errors.As(err, &de)
}

func IsProcessingError(err error) bool {
	var pe *ProcessingError
	return errors.As(err, &pe)
}
