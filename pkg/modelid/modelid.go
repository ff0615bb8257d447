package modelid

import (
	"encoding/base64"
	"fmt"
	"strings"
)

const separator = "/"

// ModelID is a validated provider-qualified model identifier.
//
// For cloud providers Name is one of the provider's recognised models and
// Version is the trailing version segment (possibly a provider default).
// For tgi and tei, Name and URL both hold the decoded endpoint URL. For
// vllm, Name is the served model and URL the decoded endpoint. Prefix is
// the optional bedrock region shorthand.
type ModelID struct {
	Provider Provider
	Name     string
	Version  string
	URL      string
	Prefix   string
}

// Option adjusts optional ModelID fields before validation.
type Option func(*ModelID)

// WithVersion sets an explicit version instead of the provider default.
func WithVersion(v string) Option {
	return func(m *ModelID) { m.Version = v }
}

// WithURL sets the endpoint URL for self-hosted models.
func WithURL(u string) Option {
	return func(m *ModelID) { m.URL = u }
}

// WithPrefix sets the bedrock region prefix.
func WithPrefix(p string) Option {
	return func(m *ModelID) { m.Prefix = p }
}

// New builds a validated ModelID. Cloud provider names must be recognised
// models, tgi and tei names must be absolute http(s) URLs, and version
// defaults are applied per provider.
func New(provider Provider, name string, opts ...Option) (ModelID, error) {
	m := ModelID{Provider: provider, Name: name}
	for _, opt := range opts {
		opt(&m)
	}

	if !provider.Valid() {
		return ModelID{}, fmt.Errorf("%w %q", ErrInvalidProvider, string(provider))
	}

	switch provider {
	case ProviderTGI, ProviderTEI:
		if !validHTTPURL(name) {
			return ModelID{}, fmt.Errorf("%w: %q is not an absolute http(s) url", ErrInvalidEncodedURL, name)
		}
		if m.URL == "" {
			m.URL = name
		}
	case ProviderVLLM:
		// URL stays optional here; rendering the wire format requires it.
	case ProviderBedrock:
		if m.Prefix != "" {
			if _, ok := bedrockRegionPrefixes[m.Prefix]; !ok {
				return ModelID{}, fmt.Errorf("%w: unknown bedrock region prefix %q", ErrInvalidFormat, m.Prefix)
			}
		}
		if !knownModel(provider, name) {
			return ModelID{}, fmt.Errorf("%w: invalid model name %q for provider %q, valid models are: %s",
				ErrModelNotMatched, name, string(provider), strings.Join(ModelsFor(provider), ", "))
		}
		if m.Version == "" {
			m.Version = defaultVersions[provider]
		}
	default:
		if !knownModel(provider, name) {
			return ModelID{}, fmt.Errorf("%w: invalid model name %q for provider %q, valid models are: %s",
				ErrModelNotMatched, name, string(provider), strings.Join(ModelsFor(provider), ", "))
		}
		if m.Version == "" {
			m.Version = defaultVersions[provider]
		}
	}
	return m, nil
}

// FullName renders everything after the provider segment: the base64 URL
// for tgi and tei, name@base64url for vllm, and name[-version] with the
// optional region prefix for the rest.
func (m ModelID) FullName() (string, error) {
	switch m.Provider {
	case ProviderTGI, ProviderTEI:
		return base64.StdEncoding.EncodeToString([]byte(m.Name)), nil
	case ProviderVLLM:
		if m.URL == "" {
			return "", fmt.Errorf("%w for vllm models", ErrMissingURL)
		}
		return m.Name + "@" + base64.StdEncoding.EncodeToString([]byte(m.URL)), nil
	case ProviderBedrock:
		full := m.Name
		if m.Prefix != "" {
			full = m.Prefix + "." + full
		}
		if m.Version != "" {
			full += "-" + m.Version
		}
		return full, nil
	default:
		full := m.Name
		if m.Version != "" {
			full += "-" + m.Version
		}
		return full, nil
	}
}

// MarshalText renders the canonical provider/full-name wire format.
func (m ModelID) MarshalText() ([]byte, error) {
	full, err := m.FullName()
	if err != nil {
		return nil, err
	}
	return []byte(string(m.Provider) + separator + full), nil
}

// UnmarshalText parses the wire format in place.
func (m *ModelID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// String implements fmt.Stringer. Values that cannot be rendered (a vllm
// identifier with no URL) come out empty.
func (m ModelID) String() string {
	text, err := m.MarshalText()
	if err != nil {
		return ""
	}
	return string(text)
}
