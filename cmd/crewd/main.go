// crewd - multi-agent conversation server
// Wires storage, memory, personas, tools and the LLM backends into the
// orchestrator and serves it over HTTP, WebSocket and Telegram.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gliderlab/crew/gateway"
	"github.com/gliderlab/crew/memory"
	"github.com/gliderlab/crew/orchestrator"
	"github.com/gliderlab/crew/pkg/config"
	"github.com/gliderlab/crew/pkg/kv"
	"github.com/gliderlab/crew/pkg/llm/factory"
	"github.com/gliderlab/crew/pkg/llmhealth"
	"github.com/gliderlab/crew/pkg/personas"
	"github.com/gliderlab/crew/storage"
	"github.com/gliderlab/crew/tools"
)

func main() {
	log.Println("Starting crewd...")

	// env.config values fill in anything the environment leaves unset
	envPath := os.Getenv("CREW_ENV_CONFIG")
	if envPath == "" {
		envPath = filepath.Join(config.DefaultDataDir(), "env.config")
	}
	for k, v := range config.ReadEnvConfig(envPath) {
		if os.Getenv(k) == "" {
			os.Setenv(k, v)
		}
	}

	cfg := config.DefaultServerConfig()
	cfg.LoadFromEnv("CREW_")
	cfg.Gateway.EnvConfigPath = envPath
	if cfg.Memory.DBPath == "" {
		cfg.Memory.DBPath = cfg.Storage.DBPath
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.DBPath), 0o755); err != nil {
		log.Fatalf("[ERROR] Failed to create data dir: %v", err)
	}

	// LLM backends must come up before anything that talks to them
	if err := factory.InitProviders(); err != nil {
		log.Fatalf("[ERROR] %v", err)
	}

	store, err := storage.New(cfg.Storage.DBPath)
	if err != nil {
		log.Fatalf("[ERROR] Failed to open storage: %v", err)
	}
	defer store.Close()

	// The config table overrides defaults but never an explicit env value
	if cfg.Gateway.TelegramToken == "" {
		if v, err := store.GetConfig("gateway", "telegram_token"); err == nil && v != "" {
			cfg.Gateway.TelegramToken = v
		}
	}

	kvStore, err := kv.Open(kv.DefaultOptions(config.DefaultKVPath()))
	if err != nil {
		log.Fatalf("[ERROR] Failed to open kv store: %v", err)
	}
	defer kvStore.Close()

	// Vector memory needs an embedding backend; without one the server
	// still runs, just without recall and kb search
	mem, err := memory.NewVectorStoreWithConfig(*cfg.Memory)
	if err != nil {
		log.Printf("[WARN] Vector memory disabled: %v", err)
		mem = nil
	} else {
		defer mem.Close()
	}

	pers := personas.NewRegistry(config.DefaultPersonasPath())
	if err := pers.Load(); err != nil {
		log.Fatalf("[ERROR] Failed to load personas: %v", err)
	}

	registry := tools.NewRegistry()
	registry.Register(&tools.CurrentTimeTool{})
	registry.Register(&tools.WebSearchTool{})
	registry.Register(&tools.WebFetchTool{})
	registry.Register(&tools.NoteSaveTool{Storage: store})
	registry.Register(&tools.NoteUpdateTool{Storage: store})
	registry.Register(&tools.NoteSearchTool{Storage: store})
	if mem != nil {
		registry.Register(&tools.KBSearchTool{Store: mem})
		registry.Register(&tools.MemoryRecallTool{Store: mem})
	}

	health := llmhealth.NewManager(llmhealth.LoadConfigFromEnv())
	if err := health.Start(); err != nil {
		log.Printf("[LLMHealth] Not running: %v", err)
	}
	defer health.Stop()

	orch := orchestrator.New(cfg.Orchestrator, store, mem, registry, pers, health)

	gw := gateway.NewGateway(*cfg.Gateway, &gateway.EngineAdapter{Orch: orch}, store, kvStore)
	gw.RegisterChannels()

	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received %v, shutting down...", sig)
	case err := <-errCh:
		if err != nil {
			log.Printf("[ERROR] Gateway exited: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := gw.Shutdown(ctx); err != nil {
		log.Printf("[WARN] Shutdown incomplete: %v", err)
	}
	log.Println("crewd stopped")
}
