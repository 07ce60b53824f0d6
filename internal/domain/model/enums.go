package model

import "strings"

// Provider identifies an upstream chat-completion service.
type Provider string

const (
	ProviderOpenRouter Provider = "openrouter"
	ProviderVSEGPT     Provider = "vsegpt"
	ProviderUnknown    Provider = "unknown"
)

// API key prefixes used for provider detection. The VSEGPT prefix shares the
// "sk-or-" stem with OpenRouter, so it must be checked first.
const (
	OpenRouterKeyPrefix = "sk-or-v1-"
	VSEGPTKeyPrefix     = "sk-or-vv-"
)

// KeyFormatMessage is shown when a key matches neither provider prefix.
const KeyFormatMessage = "Invalid API key format. Keys must start with " +
	OpenRouterKeyPrefix + " (OpenRouter) or " + VSEGPTKeyPrefix + " (VSEGPT)"

// DetectProvider classifies an API key by its prefix. Whitespace around the key is ignored.
func DetectProvider(apiKey string) Provider {
	apiKey = strings.TrimSpace(apiKey)
	switch {
	case strings.HasPrefix(apiKey, VSEGPTKeyPrefix):
		return ProviderVSEGPT
	case strings.HasPrefix(apiKey, OpenRouterKeyPrefix):
		return ProviderOpenRouter
	default:
		return ProviderUnknown
	}
}

// ParseProvider converts a stored or user-supplied provider name into a Provider.
// Unrecognised names map to ProviderUnknown.
func ParseProvider(s string) Provider {
	switch Provider(strings.ToLower(strings.TrimSpace(s))) {
	case ProviderOpenRouter:
		return ProviderOpenRouter
	case ProviderVSEGPT:
		return ProviderVSEGPT
	default:
		return ProviderUnknown
	}
}

// IsKnown reports whether p is one of the supported providers.
func (p Provider) IsKnown() bool {
	return p == ProviderOpenRouter || p == ProviderVSEGPT
}

// DisplayName returns the human-facing provider name.
func (p Provider) DisplayName() string {
	switch p {
	case ProviderOpenRouter:
		return "OpenRouter"
	case ProviderVSEGPT:
		return "VSEGPT"
	default:
		return "Unknown"
	}
}
