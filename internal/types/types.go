package types

// ParseModelReq asks for one model identifier to be parsed.
type ParseModelReq struct {
	ID string `form:"id"`
}

// ParseModelResp is the decomposed identifier. Canonical is the re-rendered
// wire form, which normalises encodings and applies version defaults.
type ParseModelResp struct {
	Input     string `json:"input"`
	Provider  string `json:"provider"`
	Name      string `json:"name"`
	Version   string `json:"version,omitempty"`
	URL       string `json:"url,omitempty"`
	Prefix    string `json:"prefix,omitempty"`
	Canonical string `json:"canonical"`
}

type ListChatbotsReq struct {
	Tag string `form:"tag,optional"`
}

type ChatbotSummary struct {
	ChatbotID    string   `json:"chatbot_id"`
	PipelineType string   `json:"pipeline_type"`
	PresetID     string   `json:"preset_id,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Enabled      bool     `json:"enabled"`
	// UpdatedAt is RFC3339; empty for file-defined chatbots.
	UpdatedAt string `json:"updated_at,omitempty"`
}

type ListChatbotsResp struct {
	Chatbots []ChatbotSummary `json:"chatbots"`
	Total    int              `json:"total"`
}

type ChatbotPathReq struct {
	ID string `path:"id"`
}

// ModelSetting echoes one supported model entry. EnvKwargs lists the names
// of environment variables consulted at build time, never their values.
type ModelSetting struct {
	ModelID   string         `json:"model_id,omitempty"`
	Name      string         `json:"name"`
	Kwargs    map[string]any `json:"model_kwargs,omitempty"`
	EnvKwargs []string       `json:"model_env_kwargs,omitempty"`
}

type ChatbotDetailResp struct {
	ChatbotSummary
	Params          map[string]any `json:"params,omitempty"`
	SupportedModels []ModelSetting `json:"supported_models"`
	// Pipelines lists the model keys with a built pipeline in cache.
	Pipelines []string `json:"pipelines"`
}

type RefreshChatbotResp struct {
	ChatbotID string   `json:"chatbot_id"`
	Digest    string   `json:"digest"`
	Pipelines []string `json:"pipelines"`
	Journal   string   `json:"journal,omitempty"`
}

type DeleteChatbotResp struct {
	ChatbotID string `json:"chatbot_id"`
	Deleted   bool   `json:"deleted"`
}

// PluginSummary describes one installed pipeline builder plugin.
type PluginSummary struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version,omitempty"`
}

type HealthResp struct {
	Status   string          `json:"status"`
	Env      string          `json:"env"`
	Chatbots int             `json:"chatbots"`
	Plugins  []PluginSummary `json:"plugins"`
}

type ErrorResp struct {
	Error string `json:"error"`
}
