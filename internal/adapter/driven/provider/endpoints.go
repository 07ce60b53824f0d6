// Package provider implements the KeyValidator and ChatClient ports over the
// OpenAI-compatible REST APIs of OpenRouter and VSEGPT.
package provider

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ericfisherdev/chatvault/internal/domain/model"
)

// Default base URLs used when none is configured.
const (
	DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
	DefaultVSEGPTBaseURL     = "https://api.vsegpt.ru/v1"
)

// Endpoints holds the fully qualified URLs of the three operations for one provider.
type Endpoints struct {
	Chat    string
	Models  string
	Balance string
}

// ResolveEndpoints normalises a possibly partial base URL into the endpoints of provider.
//
// OpenRouter serves everything under a versioned prefix, so the base is completed to
// ".../api/v1" and operations are appended directly. VSEGPT is addressed from the host
// root, so a trailing "/v1" is stripped and each operation carries its own "/v1".
func ResolveEndpoints(provider model.Provider, baseURL string) (Endpoints, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")

	switch provider {
	case model.ProviderOpenRouter:
		if base == "" {
			base = DefaultOpenRouterBaseURL
		}
		if err := checkBaseURL(base); err != nil {
			return Endpoints{}, err
		}
		switch {
		case strings.HasSuffix(base, "/api/v1"):
		case strings.HasSuffix(base, "/api"):
			base += "/v1"
		case strings.HasSuffix(base, "/v1"):
			base = strings.TrimSuffix(base, "/v1") + "/api/v1"
		default:
			base += "/api/v1"
		}
		return Endpoints{
			Chat:    base + "/chat/completions",
			Models:  base + "/models",
			Balance: base + "/credits",
		}, nil

	case model.ProviderVSEGPT:
		if base == "" {
			base = DefaultVSEGPTBaseURL
		}
		if err := checkBaseURL(base); err != nil {
			return Endpoints{}, err
		}
		base = strings.TrimSuffix(base, "/v1")
		return Endpoints{
			Chat:    base + "/v1/chat/completions",
			Models:  base + "/v1/models",
			Balance: base + "/v1/balance",
		}, nil

	default:
		return Endpoints{}, fmt.Errorf("resolve endpoints: unsupported provider %q", provider)
	}
}

func checkBaseURL(base string) error {
	u, err := url.Parse(base)
	if err != nil {
		return fmt.Errorf("parse base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("parse base URL %q: scheme must be http or https", base)
	}
	if u.Host == "" {
		return fmt.Errorf("parse base URL %q: missing host", base)
	}
	return nil
}
