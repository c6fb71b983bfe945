package graph

import "errors"

// ValidationError reports client input that cannot be ingested, such as an
// empty message. Callers map it to a 4xx response.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// ExtractionUnavailableError reports that the extraction model could not be
// reached or returned unusable output after all retries. The case graph is
// untouched when this error is returned.
type ExtractionUnavailableError struct {
	Err error
}

func (e *ExtractionUnavailableError) Error() string {
	return "extraction unavailable: " + e.Err.Error()
}

func (e *ExtractionUnavailableError) Unwrap() error {
	return e.Err
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsExtractionUnavailable reports whether err is (or wraps) an
// ExtractionUnavailableError.
func IsExtractionUnavailable(err error) bool {
	var ee *ExtractionUnavailableError
	return errors.As(err, &ee)
}
