package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/chatvault/internal/domain/model"
)

func TestResolveEndpoints(t *testing.T) {
	tests := []struct {
		name     string
		provider model.Provider
		base     string
		want     Endpoints
	}{
		{
			name:     "openrouter default",
			provider: model.ProviderOpenRouter,
			want: Endpoints{
				Chat:    "https://openrouter.ai/api/v1/chat/completions",
				Models:  "https://openrouter.ai/api/v1/models",
				Balance: "https://openrouter.ai/api/v1/credits",
			},
		},
		{
			name:     "openrouter host only",
			provider: model.ProviderOpenRouter,
			base:     "https://openrouter.ai",
			want: Endpoints{
				Chat:    "https://openrouter.ai/api/v1/chat/completions",
				Models:  "https://openrouter.ai/api/v1/models",
				Balance: "https://openrouter.ai/api/v1/credits",
			},
		},
		{
			name:     "openrouter unversioned api prefix",
			provider: model.ProviderOpenRouter,
			base:     "https://openrouter.ai/api/",
			want: Endpoints{
				Chat:    "https://openrouter.ai/api/v1/chat/completions",
				Models:  "https://openrouter.ai/api/v1/models",
				Balance: "https://openrouter.ai/api/v1/credits",
			},
		},
		{
			name:     "openrouter bare v1",
			provider: model.ProviderOpenRouter,
			base:     "https://openrouter.ai/v1",
			want: Endpoints{
				Chat:    "https://openrouter.ai/api/v1/chat/completions",
				Models:  "https://openrouter.ai/api/v1/models",
				Balance: "https://openrouter.ai/api/v1/credits",
			},
		},
		{
			name:     "vsegpt default",
			provider: model.ProviderVSEGPT,
			want: Endpoints{
				Chat:    "https://api.vsegpt.ru/v1/chat/completions",
				Models:  "https://api.vsegpt.ru/v1/models",
				Balance: "https://api.vsegpt.ru/v1/balance",
			},
		},
		{
			name:     "vsegpt host only with trailing slash",
			provider: model.ProviderVSEGPT,
			base:     " https://api.vsegpt.ru/ ",
			want: Endpoints{
				Chat:    "https://api.vsegpt.ru/v1/chat/completions",
				Models:  "https://api.vsegpt.ru/v1/models",
				Balance: "https://api.vsegpt.ru/v1/balance",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveEndpoints(tt.provider, tt.base)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveEndpoints_Errors(t *testing.T) {
	_, err := ResolveEndpoints(model.ProviderUnknown, "https://example.com")
	require.Error(t, err)

	_, err = ResolveEndpoints(model.ProviderOpenRouter, "ftp://example.com")
	require.Error(t, err)

	_, err = ResolveEndpoints(model.ProviderVSEGPT, "not a url")
	require.Error(t, err)
}
