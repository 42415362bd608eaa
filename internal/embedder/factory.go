package embedder

import (
	"fmt"
	"os"
	"strings"
)

// NewFromEnv creates an embedder based on environment variables.
// Priority:
//  1. RECALL_EMBEDDING_PROVIDER (openai, ollama, local)
//  2. OPENAI_API_KEY present -> openai
//  3. Fall back to the local deterministic provider
func NewFromEnv() (Embedder, error) {
	provider := strings.ToLower(os.Getenv("RECALL_EMBEDDING_PROVIDER"))
	openaiKey := os.Getenv("OPENAI_API_KEY")
	ollamaHost := os.Getenv("OLLAMA_HOST")

	cache := NewCache(10000)

	if provider != "" {
		switch provider {
		case ProviderOpenAI:
			return NewOpenAIProvider(openaiKey, cache)
		case ProviderOllama:
			return NewOllamaProvider(ollamaHost, cache)
		case ProviderLocal:
			return NewLocalProvider(cache)
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
		}
	}

	if openaiKey != "" {
		return NewOpenAIProvider(openaiKey, cache)
	}
	if ollamaHost != "" {
		return NewOllamaProvider(ollamaHost, cache)
	}

	return NewLocalProvider(cache)
}
