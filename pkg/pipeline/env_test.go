package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveValue(t *testing.T) {
	t.Setenv("CHATPIPE_TEST_ENDPOINT", "https://azure.example.com")

	tests := []struct {
		name      string
		kwargs    map[string]any
		envKwargs map[string]string
		key       string
		expected  string
	}{
		{
			name:     "direct value wins",
			kwargs:   map[string]any{"base_url": "https://direct.example.com"},
			key:      "base_url",
			expected: "https://direct.example.com",
		},
		{
			name:      "direct value shadows env indirection",
			kwargs:    map[string]any{"base_url": "https://direct.example.com"},
			envKwargs: map[string]string{"base_url": "CHATPIPE_TEST_ENDPOINT"},
			key:       "base_url",
			expected:  "https://direct.example.com",
		},
		{
			name:      "env indirection resolves",
			envKwargs: map[string]string{"azure_endpoint": "CHATPIPE_TEST_ENDPOINT"},
			key:       "azure_endpoint",
			expected:  "https://azure.example.com",
		},
		{
			name:     "absent key yields empty",
			kwargs:   map[string]any{},
			key:      "azure_endpoint",
			expected: "",
		},
		{
			name:     "non-string direct value falls through to empty",
			kwargs:   map[string]any{"base_url": 42},
			key:      "base_url",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveValue(tt.kwargs, tt.envKwargs, tt.key)
			require.NoError(t, err)
			require.Equal(t, tt.expected, got)
		})
	}
}

func TestResolveValueMissingEnvVar(t *testing.T) {
	_, err := ResolveValue(nil, map[string]string{"credentials": "CHATPIPE_TEST_UNSET_VAR"}, "credentials")
	require.ErrorIs(t, err, ErrMissingEnvVar)
	assert.Contains(t, err.Error(), "CHATPIPE_TEST_UNSET_VAR")
}

func TestResolveCredentialsFlat(t *testing.T) {
	t.Setenv("CHATPIPE_TEST_API_KEY", "sk-env")

	creds, err := ResolveCredentials(map[string]any{"credentials": "sk-direct"}, nil)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"api_key": "sk-direct"}, creds)

	creds, err = ResolveCredentials(nil, map[string]string{"credentials": "CHATPIPE_TEST_API_KEY"})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"api_key": "sk-env"}, creds)
}

func TestResolveCredentialsParts(t *testing.T) {
	t.Setenv("CHATPIPE_TEST_SECRET", "shhh")

	creds, err := ResolveCredentials(
		map[string]any{"credentials.project": "demo"},
		map[string]string{"credentials.secret": "CHATPIPE_TEST_SECRET"},
	)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"project": "demo", "secret": "shhh"}, creds)
}

func TestResolveCredentialsAbsent(t *testing.T) {
	creds, err := ResolveCredentials(map[string]any{"temperature": 0.1}, nil)
	require.NoError(t, err)
	require.Nil(t, creds)
}

func TestResolveCredentialsMissingEnvVar(t *testing.T) {
	_, err := ResolveCredentials(nil, map[string]string{"credentials": "CHATPIPE_TEST_UNSET_VAR"})
	require.ErrorIs(t, err, ErrMissingEnvVar)

	_, err = ResolveCredentials(nil, map[string]string{"credentials.token": "CHATPIPE_TEST_UNSET_VAR"})
	require.ErrorIs(t, err, ErrMissingEnvVar)
}
