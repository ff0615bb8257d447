package pipeline

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// digestView is the portion of a chatbot config that participates in
// change detection. Catalogs hold live components and stay out of it.
type digestView struct {
	ChatbotID       string          `msgpack:"chatbot_id"`
	PipelineType    string          `msgpack:"pipeline_type"`
	PresetID        string          `msgpack:"preset_id"`
	Params          map[string]any  `msgpack:"params"`
	SupportedModels []ModelSettings `msgpack:"supported_models"`
}

// ConfigDigest returns a stable sha256 hex digest of the config. Map keys
// are sorted during encoding so digests do not depend on insertion order.
func ConfigDigest(cfg ChatbotConfig) (string, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(digestView{
		ChatbotID:       cfg.ChatbotID,
		PipelineType:    cfg.PipelineType,
		PresetID:        cfg.PresetID,
		Params:          cfg.Params,
		SupportedModels: cfg.SupportedModels,
	}); err != nil {
		return "", fmt.Errorf("pipeline: encode config digest: %w", err)
	}
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}
