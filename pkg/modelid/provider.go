package modelid

import "sort"

// Provider identifies a model host, either a cloud vendor or a self-hosted runtime.
type Provider string

const (
	ProviderAnthropic   Provider = "anthropic"
	ProviderAzureOpenAI Provider = "azure-openai"
	ProviderBedrock     Provider = "bedrock"
	ProviderDeepSeek    Provider = "deepseek"
	ProviderGoogle      Provider = "google"
	ProviderOpenAI      Provider = "openai"
	ProviderTGI         Provider = "tgi"
	ProviderTEI         Provider = "tei"
	ProviderVLLM        Provider = "vllm"
	ProviderGroq        Provider = "groq"
	ProviderTogetherAI  Provider = "together-ai"
	ProviderDeepInfra   Provider = "deepinfra"
	ProviderVoyage      Provider = "voyage"
	ProviderRoutable    Provider = "routable"
)

// providerModels lists every recognised model name per cloud provider.
// Self-hosted providers (tgi, tei, vllm) carry endpoint URLs instead and
// have no entry here.
var providerModels = map[Provider][]string{
	ProviderOpenAI: {
		"gpt-4o",
		"gpt-4o-mini",
		"gpt-4.5-preview",
		"gpt-4.1",
		"gpt-4.1-mini",
		"gpt-4.1-nano",
		"o1",
		"o1-mini",
		"o1-preview",
		"o3",
		"o3-mini",
		"text-embedding-3-small",
		"text-embedding-3-large",
		"text-embedding-ada-002",
	},
	ProviderAzureOpenAI: {
		"gpt-4o",
		"gpt-4o-mini",
		"text-embedding-3-small",
	},
	ProviderAnthropic: {
		"claude-3-7-sonnet",
		"claude-3-5-sonnet",
		"claude-3-5-haiku",
		"claude-3-opus",
	},
	ProviderGoogle: {
		"gemini-1.5-flash",
		"gemini-1.5-flash-8b",
		"gemini-1.5-pro",
		"gemini-2.0-flash",
		"gemini-2.0-flash-lite",
		"gemini-2.5-pro",
		"textembedding-gecko@001",
		"textembedding-gecko@003",
		"text-embedding-004",
		"text-embedding-005",
	},
	ProviderDeepSeek: {
		"deepseek-chat",
		"deepseek-reasoner",
	},
	ProviderGroq: {
		"deepseek-r1-distill-qwen-32b",
		"deepseek-r1-distill-llama-70b",
		"llama-3.2-1b-preview",
	},
	ProviderTogetherAI: {
		"deepseek-ai/DeepSeek-V3",
	},
	ProviderDeepInfra: {
		"Qwen/Qwen2.5-72B-Instruct",
		"deepseek-ai/DeepSeek-R1-Distill-Qwen-32B",
		"deepseek-ai/DeepSeek-R1",
		"deepseek-ai/DeepSeek-V3",
	},
	ProviderVoyage: {
		"voyage-3-large",
		"voyage-3",
		"voyage-3-lite",
		"voyage-code-3",
		"voyage-finance-2",
		"voyage-law-2",
		"voyage-code-2",
	},
	ProviderRoutable: {
		"__default__",
		"gpt",
		"deepseek",
	},
	ProviderBedrock: {
		"mistral.mistral-7b-instruct",
		"meta.llama4-maverick-17b-instruct",
		"cohere.embed-multilingual",
		"anthropic.claude-3-5-sonnet",
	},
}

// defaultVersions maps providers to the version assumed when an identifier
// carries none. Providers absent here default to the empty version.
var defaultVersions = map[Provider]string{
	ProviderAnthropic: "latest",
	ProviderGoogle:    "latest",
	ProviderBedrock:   "v1:0",
}

// bedrockRegionPrefixes are the region shorthands bedrock model IDs may carry.
var bedrockRegionPrefixes = map[string]struct{}{
	"us": {},
	"eu": {},
	"ap": {},
}

var allProviders = []Provider{
	ProviderAnthropic,
	ProviderAzureOpenAI,
	ProviderBedrock,
	ProviderDeepSeek,
	ProviderGoogle,
	ProviderOpenAI,
	ProviderTGI,
	ProviderTEI,
	ProviderVLLM,
	ProviderGroq,
	ProviderTogetherAI,
	ProviderDeepInfra,
	ProviderVoyage,
	ProviderRoutable,
}

// Valid reports whether p is a recognised provider.
func (p Provider) Valid() bool {
	for _, known := range allProviders {
		if p == known {
			return true
		}
	}
	return false
}

// SelfHosted reports whether p identifies models by endpoint URL rather than name.
func (p Provider) SelfHosted() bool {
	return p == ProviderTGI || p == ProviderTEI || p == ProviderVLLM
}

// Providers returns every recognised provider.
func Providers() []Provider {
	out := make([]Provider, len(allProviders))
	copy(out, allProviders)
	return out
}

// ModelsFor returns the recognised model names for a cloud provider, in
// declaration order. Self-hosted and unknown providers yield nil.
func ModelsFor(p Provider) []string {
	names := providerModels[p]
	if len(names) == 0 {
		return nil
	}
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// DefaultVersion returns the version assumed for p when none is given.
func DefaultVersion(p Provider) string {
	return defaultVersions[p]
}

func knownModel(p Provider, name string) bool {
	for _, n := range providerModels[p] {
		if n == name {
			return true
		}
	}
	return false
}

// modelsByLength returns the provider's model names longest-first so that
// prefix matching prefers the most specific name.
func modelsByLength(p Provider) []string {
	names := ModelsFor(p)
	sort.SliceStable(names, func(i, j int) bool {
		return len(names[i]) > len(names[j])
	})
	return names
}
