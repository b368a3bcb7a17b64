package generation

import "errors"

// Common errors returned by the generation package
var (
	// ErrGenerationFailed is returned when generation fails for any general reason
	ErrGenerationFailed = errors.New("generation failed")

	// ErrInvalidResponse is returned when the completion service response cannot be used
	ErrInvalidResponse = errors.New("invalid response from language model")

	// ErrEmptyResponse is returned when the completion service produced no text
	ErrEmptyResponse = errors.New("empty response from language model")

	// ErrContentBlocked is returned when the LLM blocks the content due to safety filters
	ErrContentBlocked = errors.New("content blocked by language model safety filters")

	// ErrTransientFailure is returned for temporary errors that might resolve on retry
	ErrTransientFailure = errors.New("transient error during generation")

	// ErrInvalidConfig is returned when the generator configuration is invalid
	ErrInvalidConfig = errors.New("invalid generator configuration")

	// ErrInvalidRequest is returned when a request payload cannot be interpreted
	ErrInvalidRequest = errors.New("invalid generation request")

	// ErrUnavailable is returned when the generator refuses calls after repeated failures
	ErrUnavailable = errors.New("completion service unavailable")
)
