package modelid

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

// Parse turns a provider-qualified identifier into a ModelID.
//
// Cloud names are matched against the provider's model list longest-first,
// with any remainder after the matched name becoming the version. tgi and
// tei identifiers carry a base64-encoded endpoint URL, vllm identifiers a
// name@base64url pair, and bedrock identifiers an optional region prefix
// before the dotted model name.
func Parse(s string) (ModelID, error) {
	providerPart, rest, found := strings.Cut(s, separator)
	if !found {
		return ModelID{}, fmt.Errorf("%w: expected 'provider/model-name[-version]'", ErrInvalidFormat)
	}

	provider := Provider(providerPart)
	if !provider.Valid() {
		return ModelID{}, fmt.Errorf("%w %q", ErrInvalidProvider, providerPart)
	}

	switch provider {
	case ProviderTGI, ProviderTEI:
		decoded, err := decodeURL(rest)
		if err != nil {
			return ModelID{}, err
		}
		return ModelID{Provider: provider, Name: decoded, URL: decoded}, nil
	case ProviderVLLM:
		name, encoded, ok := strings.Cut(rest, "@")
		if !ok {
			return ModelID{}, fmt.Errorf("%w for vllm model: expected 'vllm/model-name@base64-encoded-url'", ErrInvalidFormat)
		}
		decoded, err := decodeURL(encoded)
		if err != nil {
			return ModelID{}, err
		}
		return ModelID{Provider: provider, Name: name, URL: decoded}, nil
	case ProviderBedrock:
		return parseBedrock(rest)
	default:
		return parseCloud(provider, rest)
	}
}

func parseBedrock(rest string) (ModelID, error) {
	prefix := ""
	if head, tail, found := strings.Cut(rest, "."); found {
		if _, ok := bedrockRegionPrefixes[head]; ok {
			prefix, rest = head, tail
		}
	}
	name, version, err := matchKnown(ProviderBedrock, rest)
	if err != nil {
		return ModelID{}, err
	}
	if version == "" {
		version = defaultVersions[ProviderBedrock]
	}
	return ModelID{Provider: ProviderBedrock, Name: name, Version: version, Prefix: prefix}, nil
}

func parseCloud(provider Provider, rest string) (ModelID, error) {
	name, version, err := matchKnown(provider, rest)
	if err != nil {
		return ModelID{}, err
	}
	if version == "" {
		version = defaultVersions[provider]
	}
	return ModelID{Provider: provider, Name: name, Version: version}, nil
}

// matchKnown finds the longest recognised model name prefixing rest. The
// remainder, minus leading dashes, is the version.
func matchKnown(provider Provider, rest string) (name, version string, err error) {
	for _, candidate := range modelsByLength(provider) {
		if strings.HasPrefix(rest, candidate) {
			return candidate, strings.TrimLeft(rest[len(candidate):], "-"), nil
		}
	}
	return "", "", fmt.Errorf("%w: could not match model name %q for provider %q, valid models are: %s",
		ErrModelNotMatched, rest, string(provider), strings.Join(ModelsFor(provider), ", "))
}

func decodeURL(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEncodedURL, err)
	}
	decoded := string(raw)
	if !validHTTPURL(decoded) {
		return "", fmt.Errorf("%w: decoded value %q is not an absolute http(s) url", ErrInvalidEncodedURL, decoded)
	}
	return decoded, nil
}

func validHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
