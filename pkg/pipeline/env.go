package pipeline

import (
	"fmt"
	"os"
	"strings"
)

const credentialsKey = "credentials"

// ResolveValue looks up key in the model kwargs first. When absent, the
// env kwargs may name an environment variable holding the value; naming
// an unset variable is an error.
func ResolveValue(kwargs map[string]any, envKwargs map[string]string, key string) (string, error) {
	if raw, ok := kwargs[key]; ok {
		if value, ok := raw.(string); ok && value != "" {
			return value, nil
		}
	}
	envName, ok := envKwargs[key]
	if !ok || envName == "" {
		return "", nil
	}
	value := os.Getenv(envName)
	if value == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingEnvVar, envName)
	}
	return value, nil
}

// IsCredentialKey reports whether a model kwarg holds credential material.
// Serving layers use it to redact kwargs before they leave the process.
func IsCredentialKey(key string) bool {
	return key == credentialsKey || strings.HasPrefix(key, credentialsKey+".")
}

// ResolveCredentials assembles provider credentials from the model kwargs.
// A flat "credentials" value becomes the api_key entry; otherwise every
// "credentials."-prefixed key contributes one named part.
func ResolveCredentials(kwargs map[string]any, envKwargs map[string]string) (map[string]string, error) {
	flat, err := ResolveValue(kwargs, envKwargs, credentialsKey)
	if err != nil {
		return nil, err
	}
	if flat != "" {
		return map[string]string{"api_key": flat}, nil
	}

	parts := map[string]string{}
	prefix := credentialsKey + "."
	for key := range kwargs {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		value, err := ResolveValue(kwargs, envKwargs, key)
		if err != nil {
			return nil, err
		}
		parts[strings.TrimPrefix(key, prefix)] = value
	}
	for key := range envKwargs {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		value, err := ResolveValue(kwargs, envKwargs, key)
		if err != nil {
			return nil, err
		}
		parts[strings.TrimPrefix(key, prefix)] = value
	}
	if len(parts) == 0 {
		return nil, nil
	}
	return parts, nil
}
