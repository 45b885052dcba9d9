// Gateway module - HTTP server and channel host
// Uses dependency injection for all configurable values

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gliderlab/crew/gateway/channels"
	"github.com/gliderlab/crew/gateway/channels/telegram"
	"github.com/gliderlab/crew/gateway/channels/types"
	"github.com/gliderlab/crew/pkg/config"
	"github.com/gliderlab/crew/pkg/kv"
	"github.com/gliderlab/crew/storage"
)

// writeJSON writes a JSON response with proper Content-Type header
func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[WARN] Failed to encode JSON response: %v", err)
	}
}

// Gateway provides dependency injection for all gateway components
type Gateway struct {
	cfg     config.GatewayConfig
	engine  types.Engine
	store   *storage.Storage
	kv      *kv.KV
	manager *channels.Manager
	server  *http.Server
	mu      sync.RWMutex

	// Injected dependencies (optional)
	timeProvider TimeProvider

	// WebSocket connection limiting
	wsConnCount int32
	maxWSConns  int32
	wsIPConns   map[string]int32 // Per-IP connection count

	startedAt time.Time
}

// TimeProvider interface for dependency injection
type TimeProvider interface {
	Now() time.Time
}

type defaultTimeProvider struct{}

func (d *defaultTimeProvider) Now() time.Time { return time.Now() }

// NewGateway creates the gateway around a conversation engine
func NewGateway(cfg config.GatewayConfig, engine types.Engine, store *storage.Storage, kvStore *kv.KV) *Gateway {
	return &Gateway{
		cfg:          cfg,
		engine:       engine,
		store:        store,
		kv:           kvStore,
		manager:      channels.NewManager(),
		timeProvider: &defaultTimeProvider{},
		maxWSConns:   256,
		wsIPConns:    make(map[string]int32),
	}
}

// RegisterChannels wires the delivery channels that have credentials
// configured. Missing credentials skip the channel, they never fail
// startup.
func (g *Gateway) RegisterChannels() {
	token := g.cfg.TelegramToken
	if token != "" {
		g.manager.Register(telegram.NewBot(token, g.engine, g.kv))
		return
	}
	if bot, err := telegram.NewBotFromEnv(g.engine, g.kv); err == nil {
		g.manager.Register(bot)
	} else {
		log.Printf("[WARN] telegram channel disabled: %v", err)
	}
}

// Start runs the HTTP server and all registered channels. Blocks until
// the server exits.
func (g *Gateway) Start() error {
	if err := g.manager.StartAll(); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", g.handleHealth)
	mux.HandleFunc("/api/status", g.handleStatus)
	mux.HandleFunc("/api/chat", g.handleChat)
	mux.HandleFunc("/api/rooms", g.handleRooms)
	mux.HandleFunc("/api/rooms/reset", g.handleRoomReset)
	mux.HandleFunc("/ws", g.HandleWebSocket)
	mux.HandleFunc("/webhook/telegram", g.handleTelegramWebhook)

	if g.cfg.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(g.cfg.StaticDir)))
	}

	addr := fmt.Sprintf("%s:%d", g.cfg.Host, g.cfg.Port)
	g.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  g.cfg.ReadTimeout,
		WriteTimeout: g.cfg.WriteTimeout,
		IdleTimeout:  g.cfg.IdleTimeout,
	}
	g.startedAt = g.timeProvider.Now()

	log.Printf("[START] Gateway listening on %s", addr)
	err := g.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops channels and drains the HTTP server
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.manager.StopAll()
	if g.server == nil {
		return nil
	}
	return g.server.Shutdown(ctx)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"uptime":   g.timeProvider.Now().Sub(g.startedAt).String(),
		"channels": g.manager.List(),
	}
	if g.store != nil {
		if stats, err := g.store.Stats(); err == nil {
			status["storage"] = stats
		}
	}
	writeJSON(w, status)
}

// ChatRequest is the blocking HTTP chat payload
type ChatRequest struct {
	UserID string `json:"userId"`
	RoomID string `json:"roomId"`
	Text   string `json:"text"`
	Model  string `json:"model,omitempty"`
}

// ChatResponse carries the final reply text
type ChatResponse struct {
	Reply string `json:"reply"`
	Error string `json:"error,omitempty"`
}

func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, g.cfg.MaxBodyChat)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		http.Error(w, "text required", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		req.UserID = "web:" + getClientIP(r)
	}
	if req.RoomID == "" {
		req.RoomID = req.UserID
	}

	reply, err := g.engine.Reply(r.Context(), req.UserID, req.RoomID, req.Text)
	if err != nil {
		log.Printf("[ERROR] chat failed: %v", err)
		writeJSON(w, ChatResponse{Error: "internal error"})
		return
	}
	writeJSON(w, ChatResponse{Reply: reply})
}

func (g *Gateway) handleRooms(w http.ResponseWriter, r *http.Request) {
	if g.store == nil {
		http.Error(w, "storage not configured", http.StatusServiceUnavailable)
		return
	}
	rooms, err := g.store.ListRooms(100)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, rooms)
}

func (g *Gateway) handleRoomReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if g.store == nil {
		http.Error(w, "storage not configured", http.StatusServiceUnavailable)
		return
	}

	var req struct {
		RoomID string `json:"roomId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RoomID == "" {
		http.Error(w, "roomId required", http.StatusBadRequest)
		return
	}
	if err := g.store.ResetRoom(req.RoomID); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (g *Gateway) handleTelegramWebhook(w http.ResponseWriter, r *http.Request) {
	ch, ok := g.manager.Get(types.ChannelTelegram)
	if !ok {
		http.Error(w, "channel not configured", http.StatusNotFound)
		return
	}
	ch.HandleWebhook(w, r)
}
