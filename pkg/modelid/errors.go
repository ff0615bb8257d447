package modelid

import "errors"

var (
	// ErrInvalidProvider is returned when the provider segment is not a known provider.
	ErrInvalidProvider = errors.New("modelid: invalid provider")
	// ErrInvalidFormat is returned when an identifier does not follow the expected shape.
	ErrInvalidFormat = errors.New("modelid: invalid format")
	// ErrInvalidEncodedURL is returned when a self-hosted identifier does not decode to an http(s) URL.
	ErrInvalidEncodedURL = errors.New("modelid: invalid encoded url")
	// ErrModelNotMatched is returned when a name matches no known model for the provider.
	ErrModelNotMatched = errors.New("modelid: unknown model")
	// ErrMissingURL is returned when rendering a vllm identifier that has no endpoint URL.
	ErrMissingURL = errors.New("modelid: missing url")
)
