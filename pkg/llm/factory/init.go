// Package factory provides the provider factory and initialization
package factory

import (
	"fmt"

	"github.com/gliderlab/crew/pkg/llm"
	"github.com/gliderlab/crew/pkg/llm/providers/custom"
	"github.com/gliderlab/crew/pkg/llm/providers/google"
	"github.com/gliderlab/crew/pkg/llm/providers/ollama"
)

// InitProviders initializes all available LLM providers
func InitProviders() error {
	// Google (cloud backend)
	if googleProvider := google.NewFromEnv(); googleProvider.GetConfig().APIKey != "" {
		llm.RegisterProvider(googleProvider)
		fmt.Printf("[OK] Registered provider: Google (model: %s)\n", googleProvider.GetConfig().Model)
	}

	// Ollama (local backend, always available if running)
	ollamaProvider := ollama.NewFromEnv()
	llm.RegisterProvider(ollamaProvider)
	fmt.Printf("[OK] Registered provider: Ollama (model: %s)\n", ollamaProvider.GetConfig().Model)

	// Custom (for any OpenAI-compatible API)
	if customProvider := custom.NewFromEnv(); customProvider != nil {
		llm.RegisterProvider(customProvider)
		fmt.Printf("[OK] Registered provider: Custom (model: %s)\n", customProvider.GetConfig().Model)
	}

	if len(llm.ListProviders()) == 0 {
		return fmt.Errorf("no LLM providers configured")
	}
	return nil
}
