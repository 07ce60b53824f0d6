package provider

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ericfisherdev/chatvault/internal/domain/model"
)

// Response bodies vary between providers and API revisions. Each value is located by
// an ordered list of strategies; the first one that finds something wins.

// modelListPaths locate the model array. "@this" matches a root-level array.
var modelListPaths = []string{"data", "models", "data.models", "data.data", "@this"}

var contentPaths = []string{
	"choices.0.message.content",
	"choices.0.content",
	"choices.0.text",
	"choices.0.delta.content",
}

type balanceStrategy func(root gjson.Result) (float64, bool)

// balanceStrategies per provider.
var balanceStrategies = map[model.Provider][]balanceStrategy{
	model.ProviderOpenRouter: {
		creditsMinusUsage("data"),
		creditsMinusUsage(""),
		numberAt("data.balance"),
		numberAt("balance"),
	},
	model.ProviderVSEGPT: {
		numberAt("data.credits"),
		numberAt("data.balance"),
		numberAt("balance"),
		numberAt("credits"),
		numberAt("account.balance"),
		numberAt("account.credits"),
		numberAt("data.account.balance"),
		numberAt("data.account.credits"),
	},
}

// creditsMinusUsage reads total_credits - total_usage under prefix. A missing
// total_usage counts as zero.
func creditsMinusUsage(prefix string) balanceStrategy {
	join := func(field string) string {
		if prefix == "" {
			return field
		}
		return prefix + "." + field
	}
	return func(root gjson.Result) (float64, bool) {
		credits, ok := number(root.Get(join("total_credits")))
		if !ok {
			return 0, false
		}
		usage, _ := number(root.Get(join("total_usage")))
		return credits - usage, true
	}
}

func numberAt(path string) balanceStrategy {
	return func(root gjson.Result) (float64, bool) {
		return number(root.Get(path))
	}
}

// number accepts JSON numbers and numeric strings.
func number(r gjson.Result) (float64, bool) {
	switch r.Type {
	case gjson.Number:
		return r.Float(), true
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// extractBalance runs the provider's balance strategies over body.
func extractBalance(provider model.Provider, body []byte) (float64, bool) {
	if !gjson.ValidBytes(body) {
		return 0, false
	}
	root := gjson.ParseBytes(body)
	for _, strategy := range balanceStrategies[provider] {
		if v, ok := strategy(root); ok {
			return v, true
		}
	}
	return 0, false
}

// extractModels finds the model array and normalises its entries. Entries without an
// id are dropped; later duplicates of an id are dropped.
func extractModels(body []byte) ([]model.ModelInfo, bool) {
	if !gjson.ValidBytes(body) {
		return nil, false
	}
	root := gjson.ParseBytes(body)

	var list gjson.Result
	for _, path := range modelListPaths {
		if r := root.Get(path); r.IsArray() {
			list = r
			break
		}
	}
	if !list.Exists() {
		return nil, false
	}

	models := []model.ModelInfo{}
	seen := make(map[string]struct{})
	list.ForEach(func(_, item gjson.Result) bool {
		id := strings.TrimSpace(firstString(item, "id", "model"))
		if id == "" {
			return true
		}
		if _, dup := seen[id]; dup {
			return true
		}
		seen[id] = struct{}{}

		name := firstString(item, "name")
		if name == "" {
			name = id
		}
		models = append(models, model.ModelInfo{
			ID:            id,
			Name:          name,
			Description:   firstString(item, "description"),
			ContextLength: int(firstInt(item, "context_length", "contextLength", "top_provider.context_length")),
			Pricing: model.ModelPricing{
				Prompt:     firstString(item, "pricing.prompt", "pricing.input"),
				Completion: firstString(item, "pricing.completion", "pricing.output"),
			},
		})
		return true
	})
	return models, true
}

// extractContent returns the assistant text of a completion.
func extractContent(body []byte) (string, bool) {
	if !gjson.ValidBytes(body) {
		return "", false
	}
	root := gjson.ParseBytes(body)
	for _, path := range contentPaths {
		if r := root.Get(path); r.Exists() && r.Type != gjson.Null {
			return r.String(), true
		}
	}
	return "", false
}

// extractUsage reads token counts in snake_case or camelCase. A missing total is
// computed from its parts.
func extractUsage(body []byte) model.TokenUsage {
	usage := gjson.GetBytes(body, "usage")
	u := model.TokenUsage{
		PromptTokens:     int(firstInt(usage, "prompt_tokens", "promptTokens")),
		CompletionTokens: int(firstInt(usage, "completion_tokens", "completionTokens")),
		TotalTokens:      int(firstInt(usage, "total_tokens", "totalTokens")),
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u
}

func firstString(item gjson.Result, paths ...string) string {
	for _, p := range paths {
		if r := item.Get(p); r.Exists() && r.Type != gjson.Null {
			return r.String()
		}
	}
	return ""
}

func firstInt(item gjson.Result, paths ...string) int64 {
	for _, p := range paths {
		if r := item.Get(p); r.Exists() && r.Type != gjson.Null {
			if f, ok := number(r); ok {
				return int64(f)
			}
		}
	}
	return 0
}
