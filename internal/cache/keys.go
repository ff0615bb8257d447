package cache

import (
	"fmt"
	"strings"
	"time"

	"chatpipe/internal/config"
)

// Namespace is the Redis key prefix for the chatpipe application.
const Namespace = "chatpipe"

// TTLClass represents a config-driven TTL bucket.
type TTLClass string

const (
	TTLShort  TTLClass = "short"
	TTLMedium TTLClass = "medium"
	TTLLong   TTLClass = "long"
)

// TTLSet normalises cache TTLs from config into time.Duration values.
type TTLSet struct {
	Short  time.Duration
	Medium time.Duration
	Long   time.Duration
}

// NewTTLSet converts config TTLs (in seconds) into durations.
func NewTTLSet(cfg config.CacheTTL) TTLSet {
	return TTLSet{
		Short:  durationOrDefault(cfg.Short, 10*time.Second),
		Medium: durationOrDefault(cfg.Medium, time.Minute),
		Long:   durationOrDefault(cfg.Long, 5*time.Minute),
	}
}

func durationOrDefault(seconds int, fallback time.Duration) time.Duration {
	if seconds < 0 {
		return 0
	}
	if seconds == 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// Duration returns the configured duration for the given TTL class.
func (t TTLSet) Duration(class TTLClass) time.Duration {
	switch class {
	case TTLShort:
		return t.Short
	case TTLMedium:
		return t.Medium
	case TTLLong:
		return t.Long
	default:
		return 0
	}
}

// Scaled applies a multiplier to a TTL class, useful for half/double TTL variants.
func (t TTLSet) Scaled(class TTLClass, factor float64) time.Duration {
	base := t.Duration(class)
	if base <= 0 || factor <= 0 {
		return base
	}
	return time.Duration(float64(base) * factor)
}

func formatKey(parts ...string) string {
	values := make([]string, 0, len(parts)+1)
	values = append(values, Namespace)
	for _, part := range parts {
		clean := strings.TrimSpace(part)
		if clean == "" {
			continue
		}
		values = append(values, clean)
	}
	return strings.Join(values, ":")
}

// --- Chatbot Keys -------------------------------------------------------------

// ChatbotConfigKey stores the resolved config payload for one chatbot.
func ChatbotConfigKey(chatbotID string) string {
	return formatKey("chatbot", "config", chatbotID)
}

// ChatbotIDsKey holds the sorted list of enabled chatbot IDs.
func ChatbotIDsKey() string {
	return formatKey("chatbot", "ids")
}

// ChatbotSummariesKey caches the pre-rendered chatbot listing.
func ChatbotSummariesKey() string {
	return formatKey("chatbot", "summaries")
}

// ChatbotSummariesByTagKey caches a tag-filtered chatbot listing.
func ChatbotSummariesByTagKey(tag string) string {
	return formatKey("chatbot", "summaries", "tag", tag)
}

// --- TTL Helpers ------------------------------------------------------------

// ChatbotConfigTTL returns the TTL for resolved chatbot config payloads.
func ChatbotConfigTTL(ttl TTLSet) time.Duration {
	return ttl.Duration(TTLMedium)
}

// ChatbotIDsTTL returns the TTL for the id listing.
func ChatbotIDsTTL(ttl TTLSet) time.Duration {
	return ttl.Duration(TTLMedium)
}

// ChatbotSummariesTTL returns the TTL for chatbot listings. Listings go
// stale faster than configs because the refresh daemon diffs against them.
func ChatbotSummariesTTL(ttl TTLSet) time.Duration {
	return ttl.Scaled(TTLMedium, 0.5) // target ~30s when medium=60s
}

// FormatCacheKey is exported for dynamic key construction when patterns
// are not covered by helpers.
func FormatCacheKey(parts ...string) string {
	return formatKey(parts...)
}

// BuildKeyWithSuffix appends an arbitrary suffix to an existing key.
func BuildKeyWithSuffix(baseKey, suffix string) string {
	if strings.TrimSpace(suffix) == "" {
		return baseKey
	}
	return fmt.Sprintf("%s:%s", baseKey, strings.TrimSpace(suffix))
}
