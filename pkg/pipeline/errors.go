package pipeline

import "errors"

var (
	// ErrNotFound is returned when a chatbot, pipeline, or builder is not
	// registered and could not be rebuilt.
	ErrNotFound = errors.New("pipeline: not found")
	// ErrMissingEnvVar is returned when a model's env kwargs name an
	// environment variable that is not set.
	ErrMissingEnvVar = errors.New("pipeline: environment variable not set")
)
