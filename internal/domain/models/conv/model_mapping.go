package conv

import "strings"

// Provider names
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderEcho      = "echo"
)

// ProviderForModel resolves the provider for a model name from common
// prefix/substring rules. Returns (provider, true) on a match, ("", false)
// when the model name resolves to no known provider.
func ProviderForModel(model string) (string, bool) {
	if model == "" {
		return "", false
	}

	modelLower := strings.ToLower(model)

	// Anthropic Claude models
	if strings.HasPrefix(modelLower, "claude-") {
		return ProviderAnthropic, true
	}

	// OpenAI models
	if strings.HasPrefix(modelLower, "gpt-") || strings.HasPrefix(modelLower, "o1-") ||
		strings.HasPrefix(modelLower, "o3-") || strings.HasPrefix(modelLower, "chatgpt-") ||
		strings.HasPrefix(modelLower, "dall-e-") {
		return ProviderOpenAI, true
	}

	// Google Gemini models
	if strings.HasPrefix(modelLower, "gemini-") || strings.HasPrefix(modelLower, "imagen-") {
		return ProviderGoogle, true
	}

	// Echo mock provider (for testing)
	if strings.HasPrefix(modelLower, "echo-") {
		return ProviderEcho, true
	}

	return "", false
}
