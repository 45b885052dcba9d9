package memory

import "github.com/gliderlab/crew/pkg/config"

// NewVectorStoreWithConfig creates a vector store using injected config
func NewVectorStoreWithConfig(cfg config.MemoryConfig) (*VectorStore, error) {
	memCfg := Config{
		ApiKey:          cfg.EmbeddingApiKey,
		EmbeddingModel:  cfg.EmbeddingModel,
		EmbeddingServer: cfg.EmbeddingServer,
		EmbeddingDim:    cfg.EmbeddingDim,
		MaxResults:      cfg.MaxResults,
		MinScore:        cfg.MinScore,
	}
	return NewVectorStore(cfg.DBPath, memCfg)
}
