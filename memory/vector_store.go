// Vector Memory Store - SQLite + Local/OpenAI Embeddings
package memory

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	openai "github.com/sashabaranov/go-openai"
)

// Collections partition the store: documents feed the researcher's
// retrieval, conversations feed memory recall.
const (
	CollectionDocuments     = "documents"
	CollectionConversations = "conversations"
)

// Vector memory store
type VectorStore struct {
	db        *sql.DB
	embedding EmbeddingProvider
	cfg       Config
}

// Config
type Config struct {
	ApiKey          string  // OpenAI API Key (or ${OPENAI_API_KEY})
	EmbeddingModel  string  // OpenAI model: text-embedding-3-small/large
	EmbeddingServer string  // Local embedding service URL
	EmbeddingDim    int     // Embedding dimension (auto-detected)
	MaxResults      int     // Max results (default 5)
	MinScore        float32 // Minimum similarity score (default 0.7)
}

// Embedding provider interface
type EmbeddingProvider interface {
	Embed(text string) ([]float32, error)
	Dim() int
	Name() string
}

// OpenAI embedding
type OpenAIProvider struct {
	client *openai.Client
	model  string
	dim    int
}

// Local embedding (llama.cpp server)
type LocalProvider struct {
	serverURL string
	dim       int
	client    *http.Client
}

// Stored entry
type Entry struct {
	ID         string
	Collection string
	Scope      string // room ID for documents, user ID for conversations
	Text       string
	Vector     []float32
	Source     string
	CreatedAt  int64
}

// Search result (with similarity score)
type Result struct {
	Entry Entry
	Score float32 // Similarity score (0-1)
}

// Model dimension - supports config override and API detection
var EMBEDDING_DIMENSIONS = map[string]int{
	// OpenAI
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
	// Ollama
	"mxbai-embed-large": 1024,
	"nomic-embed-text":  768,
	"all-minilm":        384,
	// Custom (fallback)
	"default": 1536,
}

// GetEmbeddingDimension returns the dimension for a given model
// Priority: 1. Config override 2. Known map 3. Name patterns 4. Default
func GetEmbeddingDimension(model string, cfgDim int) int {
	if cfgDim > 0 {
		return cfgDim
	}

	if dim, ok := EMBEDDING_DIMENSIONS[model]; ok {
		return dim
	}

	if strings.Contains(model, "-3-small") {
		return 1536
	}
	if strings.Contains(model, "-3-large") {
		return 3072
	}
	if strings.Contains(model, "ada-002") {
		return 1536
	}

	return EMBEDDING_DIMENSIONS["default"]
}

// ==================== OpenAI Provider ====================

func NewOpenAIProvider(apiKey, model string) (*OpenAIProvider, error) {
	apiKey = parseEnvVar(apiKey)
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key required")
	}

	dim := GetEmbeddingDimension(model, 0)

	return &OpenAIProvider{
		client: openai.NewClient(apiKey),
		model:  model,
		dim:    dim,
	}, nil
}

func (p *OpenAIProvider) Embed(text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(p.model),
		Input: text,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %v", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}

	result := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		result[i] = float32(v)
	}
	return result, nil
}

func (p *OpenAIProvider) Dim() int     { return p.dim }
func (p *OpenAIProvider) Name() string { return "openai:" + p.model }

// ==================== Local Provider ====================

func NewLocalProvider(serverURL string, dim int) (*LocalProvider, error) {
	if serverURL == "" {
		serverURL = "http://localhost:50000"
	}
	if dim == 0 {
		dim = GetEmbeddingDimension("local", 0)
	}

	// Wait for service ready (up to 30s)
	var lastErr error
	for i := 0; i < 30; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)

		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, serverURL+"/health", nil)
		resp, err := http.DefaultClient.Do(req)
		cancel()
		if err != nil {
			lastErr = err
			time.Sleep(time.Second)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			log.Printf("Local embedding service connected: %s", serverURL)
			return &LocalProvider{
				serverURL: serverURL,
				dim:       dim,
				client:    &http.Client{Timeout: 60 * time.Second},
			}, nil
		}
		lastErr = fmt.Errorf("server returned %d", resp.StatusCode)
		time.Sleep(time.Second)
	}

	return nil, fmt.Errorf("local server unavailable: %v", lastErr)
}

func (p *LocalProvider) Embed(text string) ([]float32, error) {
	reqBody, _ := json.Marshal(map[string]interface{}{"text": text})
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/embed", strings.NewReader(string(reqBody)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %d", resp.StatusCode)
	}

	var result struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result.Embedding, nil
}

func (p *LocalProvider) Dim() int     { return p.dim }
func (p *LocalProvider) Name() string { return "local:" + p.serverURL }

// ==================== Config Utils ====================

func parseEnvVar(v string) string {
	if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
		return os.Getenv(v[2 : len(v)-1])
	}
	return v
}

// ==================== Main Store ====================

func NewVectorStore(dbPath string, cfg Config) (*VectorStore, error) {
	// Default config
	if cfg.MaxResults == 0 {
		cfg.MaxResults = 5
	}
	if cfg.MinScore == 0 {
		cfg.MinScore = 0.7
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	// avoid lock errors in concurrent access
	db.Exec("PRAGMA busy_timeout=5000")

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %v", err)
	}

	store := &VectorStore{db: db, cfg: cfg}

	// Initialize embedding provider (priority: local > OpenAI > none)
	if cfg.EmbeddingServer != "" {
		provider, err := NewLocalProvider(cfg.EmbeddingServer, cfg.EmbeddingDim)
		if err != nil {
			log.Printf("Local embedding connection failed: %v", err)
		} else {
			store.embedding = provider
			store.cfg.EmbeddingDim = provider.Dim()
			log.Printf("Local embedding: %s (dim=%d)", provider.Name(), provider.Dim())
		}
	}

	if store.embedding == nil && cfg.EmbeddingModel != "" {
		provider, err := NewOpenAIProvider(cfg.ApiKey, cfg.EmbeddingModel)
		if err != nil {
			log.Printf("OpenAI embedding init failed: %v", err)
		} else {
			store.embedding = provider
			store.cfg.EmbeddingDim = provider.Dim()
			log.Printf("OpenAI embedding: %s (dim=%d)", provider.Name(), provider.Dim())
		}
	}

	if store.embedding == nil {
		log.Printf("No embedding service, falling back to keyword search")
	}

	log.Printf("Vector store initialized: embedding=%v", store.embedding != nil)
	return store, nil
}

// SetEmbeddingProvider overrides the provider (used by tests)
func (s *VectorStore) SetEmbeddingProvider(p EmbeddingProvider) {
	s.embedding = p
	if p != nil {
		s.cfg.EmbeddingDim = p.Dim()
	}
}

// ==================== Database Schema ====================

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS vectors (
			id TEXT PRIMARY KEY,
			collection TEXT NOT NULL,
			scope TEXT DEFAULT '',
			text TEXT NOT NULL,
			vector BLOB,
			source TEXT DEFAULT 'manual',
			embedding_dim INTEGER,
			created_at INTEGER DEFAULT (strftime('%s','now'))
		)
	`)
	if err != nil {
		return err
	}

	db.Exec(`CREATE INDEX IF NOT EXISTS idx_vectors_collection ON vectors(collection, scope)`)
	db.Exec(`CREATE INDEX IF NOT EXISTS idx_vectors_created ON vectors(created_at)`)
	return nil
}

// ==================== Core Operations ====================

// Add stores a text with its embedding. An empty vector is stored when
// no embedding provider is configured; such rows are only reachable via
// keyword search.
func (s *VectorStore) Add(collection, scope, text, source string) (string, error) {
	if text == "" {
		return "", fmt.Errorf("text required")
	}

	var vec []float32
	if s.embedding != nil {
		v, err := s.embedding.Embed(text)
		if err != nil {
			return "", fmt.Errorf("embed: %w", err)
		}
		normalizeVector(v)
		vec = v
	}

	id := generateUUID()
	_, err := s.db.Exec(`
		INSERT INTO vectors (id, collection, scope, text, vector, source, embedding_dim)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, collection, scope, text, serializeVector(vec), source, len(vec))
	if err != nil {
		return "", err
	}
	return id, nil
}

// Search returns entries in a collection/scope ranked by similarity.
// Without an embedding provider it degrades to keyword matching.
func (s *VectorStore) Search(collection, scope, query string, limit int, minScore float32) ([]Result, error) {
	if limit <= 0 {
		limit = s.cfg.MaxResults
	}
	if minScore == 0 {
		minScore = s.cfg.MinScore
	}

	if s.embedding == nil {
		return s.keywordSearch(collection, scope, query, limit)
	}

	queryVec, err := s.embedding.Embed(query)
	if err != nil {
		log.Printf("[WARN] Query embedding failed, using keyword search: %v", err)
		return s.keywordSearch(collection, scope, query, limit)
	}
	normalizeVector(queryVec)

	return s.linearSearch(collection, scope, queryVec, limit, minScore)
}

func (s *VectorStore) linearSearch(collection, scope string, queryVec []float32, limit int, minScore float32) ([]Result, error) {
	rows, err := s.db.Query(`
		SELECT id, collection, scope, text, vector, source, created_at
		FROM vectors
		WHERE collection = ? AND scope = ? AND vector IS NOT NULL AND length(vector) > 0
	`, collection, scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var e Entry
		var blob []byte
		if err := rows.Scan(&e.ID, &e.Collection, &e.Scope, &e.Text, &blob, &e.Source, &e.CreatedAt); err != nil {
			continue
		}
		vec := deserializeVector(blob)
		if len(vec) != len(queryVec) {
			continue // dimension mismatch from an older embedding model
		}
		score := cosineSimilarity(queryVec, vec)
		if score < minScore {
			continue
		}
		e.Vector = vec
		results = append(results, Result{Entry: e, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *VectorStore) keywordSearch(collection, scope, query string, limit int) ([]Result, error) {
	rows, err := s.db.Query(`
		SELECT id, collection, scope, text, source, created_at
		FROM vectors
		WHERE collection = ? AND scope = ? AND text LIKE ?
		ORDER BY created_at DESC LIMIT ?
	`, collection, scope, "%"+query+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Collection, &e.Scope, &e.Text, &e.Source, &e.CreatedAt); err != nil {
			continue
		}
		results = append(results, Result{Entry: e, Score: 0.5})
	}
	return results, rows.Err()
}

func (s *VectorStore) Get(id string) (Entry, error) {
	var e Entry
	var blob []byte
	err := s.db.QueryRow(`
		SELECT id, collection, scope, text, vector, source, created_at
		FROM vectors WHERE id = ?
	`, id).Scan(&e.ID, &e.Collection, &e.Scope, &e.Text, &blob, &e.Source, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return Entry{}, fmt.Errorf("entry not found: %s", id)
	}
	if err != nil {
		return Entry{}, err
	}
	e.Vector = deserializeVector(blob)
	return e, nil
}

func (s *VectorStore) Delete(id string) (bool, error) {
	res, err := s.db.Exec("DELETE FROM vectors WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *VectorStore) Count(collection, scope string) (int, error) {
	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM vectors WHERE collection = ? AND scope = ?",
		collection, scope,
	).Scan(&count)
	return count, err
}

func (s *VectorStore) Close() error {
	return s.db.Close()
}

// ==================== Convenience ====================

// IndexConversation stores a compact exchange record for later recall
func (s *VectorStore) IndexConversation(userID, userMsg, assistantMsg string) (string, error) {
	text := fmt.Sprintf("User: %s\nAssistant: %s", userMsg, assistantMsg)
	return s.Add(CollectionConversations, userID, text, "conversation")
}

// AddDocument stores a knowledge base passage scoped to a room
func (s *VectorStore) AddDocument(roomID, text, source string) (string, error) {
	return s.Add(CollectionDocuments, roomID, text, source)
}

// ==================== Vector Utils ====================

func serializeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		bits := math.Float32bits(f)
		buf[i*4] = byte(bits)
		buf[i*4+1] = byte(bits >> 8)
		buf[i*4+2] = byte(bits >> 16)
		buf[i*4+3] = byte(bits >> 24)
	}
	return buf
}

func deserializeVector(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		bits := uint32(b[i*4]) | uint32(b[i*4+1])<<8 | uint32(b[i*4+2])<<16 | uint32(b[i*4+3])<<24
		v[i] = math.Float32frombits(bits)
	}
	return v
}

func cosineSimilarity(a, b []float32) float32 {
	var dot, na, nb float32
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (float32(math.Sqrt(float64(na))) * float32(math.Sqrt(float64(nb))))
}

func normalizeVector(v []float32) {
	var norm float32
	for _, x := range v {
		norm += x * x
	}
	norm = float32(math.Sqrt(float64(norm)))
	if norm == 0 {
		return
	}
	for i := range v {
		v[i] /= norm
	}
}

func generateUUID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
