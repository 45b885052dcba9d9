// Storage module - SQLite data storage

package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/gliderlab/crew/pkg/config"
	_ "github.com/mattn/go-sqlite3"
)

// addColumnSafe adds a column to a table if it doesn't exist
// Returns true if column was added, false if it already exists or error
func addColumnSafe(db *sql.DB, table, column, definition string) bool {
	// Check if column already exists
	var count int
	err := db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM pragma_table_info('%s') WHERE name = ?", table), column).Scan(&count)
	if err == nil && count > 0 {
		return false // column already exists
	}

	// Column doesn't exist, try to add it
	_, err = db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition))
	if err != nil {
		log.Printf("[WARN] Migration: add column %s.%s failed: %v (may be OK if already exists)", table, column, err)
		return false
	}
	return true
}

type Storage struct {
	db *sql.DB

	// Prepared statements for performance optimization
	stmtAddMessage    *sql.Stmt
	stmtGetMessages   *sql.Stmt
	stmtCountMessages *sql.Stmt
	stmtClearMessages *sql.Stmt
	stmtGetConfig     *sql.Stmt
	stmtSetConfig     *sql.Stmt
}

type Message struct {
	ID           int64     `json:"id"`
	RoomID       string    `json:"room_id"`
	UserID       string    `json:"user_id"`
	Role         string    `json:"role"` // user, assistant, system
	Content      string    `json:"content"`
	Model        string    `json:"model,omitempty"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CreatedAt    time.Time `json:"created_at"`
}

type Room struct {
	RoomID           string    `json:"room_id"`
	Persona          string    `json:"persona"`
	Summary          string    `json:"summary"`
	SummaryUpdatedAt time.Time `json:"summary_updated_at"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type Note struct {
	ID        int64     `json:"id"`
	RoomID    string    `json:"room_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Config struct {
	ID        int64     `json:"id"`
	Section   string    `json:"section"` // e.g., "llm", "gateway", "storage"
	Key       string    `json:"key"`     // e.g., "apiKey", "baseUrl", "model"
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

func New(dbPath string) (*Storage, error) {
	cfg := config.DefaultStorageConfig()
	cfg.DBPath = dbPath
	return NewWithConfig(*cfg)
}

// NewWithConfig creates storage with injected configuration
func NewWithConfig(cfg config.StorageConfig) (*Storage, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path required")
	}
	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database connection failed: %v", err)
	}

	s := &Storage{db: db}

	// Set WAL mode
	if cfg.WalMode {
		if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return nil, fmt.Errorf("failed to set WAL: %v", err)
		}
	}

	// Sync mode
	syncMode := cfg.SyncMode
	if syncMode == "" {
		syncMode = "NORMAL"
	}
	if _, err := db.Exec("PRAGMA synchronous=" + syncMode + ";"); err != nil {
		return nil, fmt.Errorf("failed to set synchronous: %v", err)
	}

	// Connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	// Initialize tables
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %v", err)
	}

	// Prepare statements for frequently used queries
	if err := s.initPreparedStmts(); err != nil {
		log.Printf("[WARN] Failed to prepare statements: %v (continuing without prepared statements)", err)
	}

	log.Printf("[OK] Storage: database %s", cfg.DBPath)
	return s, nil
}

// initPreparedStmts prepares frequently used SQL statements for performance
func (s *Storage) initPreparedStmts() error {
	var err error

	// Messages
	if s.stmtAddMessage, err = s.db.Prepare("INSERT INTO messages (room_id, user_id, role, content, model, input_tokens, output_tokens) VALUES (?, ?, ?, ?, ?, ?, ?)"); err != nil {
		return fmt.Errorf("AddMessage: %v", err)
	}
	if s.stmtGetMessages, err = s.db.Prepare("SELECT id, room_id, user_id, role, content, COALESCE(model, ''), input_tokens, output_tokens, created_at FROM messages WHERE room_id = ? ORDER BY id DESC LIMIT ?"); err != nil {
		return fmt.Errorf("GetMessages: %v", err)
	}
	if s.stmtCountMessages, err = s.db.Prepare("SELECT COUNT(*) FROM messages WHERE room_id = ?"); err != nil {
		return fmt.Errorf("CountMessages: %v", err)
	}
	if s.stmtClearMessages, err = s.db.Prepare("DELETE FROM messages WHERE room_id = ?"); err != nil {
		return fmt.Errorf("ClearMessages: %v", err)
	}

	// Config
	if s.stmtGetConfig, err = s.db.Prepare("SELECT value FROM config WHERE section = ? AND key = ?"); err != nil {
		return fmt.Errorf("GetConfig: %v", err)
	}
	if s.stmtSetConfig, err = s.db.Prepare("INSERT INTO config (section, key, value) VALUES (?, ?, ?) ON CONFLICT(section, key) DO UPDATE SET value=excluded.value, updated_at=CURRENT_TIMESTAMP"); err != nil {
		return fmt.Errorf("SetConfig: %v", err)
	}

	return nil
}

func (s *Storage) initSchema() error {
	// Rooms table
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS rooms (
			room_id TEXT PRIMARY KEY,
			persona TEXT DEFAULT '',
			summary TEXT DEFAULT '',
			summary_updated_at DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	// Messages table
	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			room_id TEXT NOT NULL,
			user_id TEXT DEFAULT '',
			role TEXT NOT NULL,
			content TEXT,
			model TEXT DEFAULT '',
			input_tokens INTEGER DEFAULT 0,
			output_tokens INTEGER DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}
	// Migration: token accounting columns were added after the first release
	addColumnSafe(s.db, "messages", "model", "TEXT DEFAULT ''")
	addColumnSafe(s.db, "messages", "input_tokens", "INTEGER DEFAULT 0")
	addColumnSafe(s.db, "messages", "output_tokens", "INTEGER DEFAULT 0")

	// Notes table
	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS notes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			room_id TEXT NOT NULL,
			title TEXT NOT NULL,
			content TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(room_id, title)
		)
	`)
	if err != nil {
		return err
	}

	// Config table (persistent config)
	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS config (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			section TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(section, key)
		)
	`)
	if err != nil {
		return err
	}

	// Create indexes
	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id)`); err != nil {
		return err
	}
	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_notes_room ON notes(room_id)`); err != nil {
		return err
	}
	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_config_section ON config(section, key)`); err != nil {
		return err
	}

	return nil
}

// ============ Messages ============

func (s *Storage) AddMessage(roomID, userID, role, content, model string, inputTokens, outputTokens int) error {
	// Use prepared statement if available, fallback to regular exec
	if s.stmtAddMessage != nil {
		_, err := s.stmtAddMessage.Exec(roomID, userID, role, content, model, inputTokens, outputTokens)
		return err
	}
	_, err := s.db.Exec(
		"INSERT INTO messages (room_id, user_id, role, content, model, input_tokens, output_tokens) VALUES (?, ?, ?, ?, ?, ?, ?)",
		roomID, userID, role, content, model, inputTokens, outputTokens,
	)
	return err
}

// GetMessages returns the most recent messages for a room in
// chronological order
func (s *Storage) GetMessages(roomID string, limit int) ([]Message, error) {
	var rows *sql.Rows
	var err error

	// Use prepared statement if available
	if s.stmtGetMessages != nil {
		rows, err = s.stmtGetMessages.Query(roomID, limit)
	} else {
		rows, err = s.db.Query(
			"SELECT id, room_id, user_id, role, content, COALESCE(model, ''), input_tokens, output_tokens, created_at FROM messages WHERE room_id = ? ORDER BY id DESC LIMIT ?",
			roomID, limit,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := make([]Message, 0)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.UserID, &m.Role, &m.Content, &m.Model, &m.InputTokens, &m.OutputTokens, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query returned newest first, reverse to chronological order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *Storage) CountMessages(roomID string) (int, error) {
	var count int
	var err error
	if s.stmtCountMessages != nil {
		err = s.stmtCountMessages.QueryRow(roomID).Scan(&count)
	} else {
		err = s.db.QueryRow("SELECT COUNT(*) FROM messages WHERE room_id = ?", roomID).Scan(&count)
	}
	return count, err
}

func (s *Storage) ClearMessages(roomID string) error {
	if s.stmtClearMessages != nil {
		_, err := s.stmtClearMessages.Exec(roomID)
		return err
	}
	_, err := s.db.Exec("DELETE FROM messages WHERE room_id = ?", roomID)
	return err
}

// TrimMessages deletes all but the newest keepLast messages of a room.
// Used after old history has been folded into the rolling summary.
func (s *Storage) TrimMessages(roomID string, keepLast int) error {
	if keepLast < 0 {
		keepLast = 0
	}
	_, err := s.db.Exec(`
		DELETE FROM messages WHERE room_id = ? AND id NOT IN (
			SELECT id FROM messages WHERE room_id = ? ORDER BY id DESC LIMIT ?
		)
	`, roomID, roomID, keepLast)
	return err
}

// ============ Rooms ============

// GetRoom returns room state, or a zero-value room if it was never saved
func (s *Storage) GetRoom(roomID string) (Room, error) {
	var r Room
	var summaryUpdatedAt, createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT room_id, COALESCE(persona, ''), COALESCE(summary, ''),
		       COALESCE(summary_updated_at, datetime('now')),
		       COALESCE(created_at, datetime('now')),
		       COALESCE(updated_at, datetime('now'))
		FROM rooms WHERE room_id = ?
	`, roomID).Scan(&r.RoomID, &r.Persona, &r.Summary, &summaryUpdatedAt, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Room{RoomID: roomID}, nil
	}
	if err == nil {
		r.SummaryUpdatedAt, _ = time.Parse("2006-01-02 15:04:05", summaryUpdatedAt)
		r.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", createdAt)
		r.UpdatedAt, _ = time.Parse("2006-01-02 15:04:05", updatedAt)
	}
	return r, err
}

// TouchRoom creates the room row if missing and bumps updated_at
func (s *Storage) TouchRoom(roomID string) error {
	_, err := s.db.Exec(`
		INSERT INTO rooms (room_id, updated_at) VALUES (?, CURRENT_TIMESTAMP)
		ON CONFLICT(room_id) DO UPDATE SET updated_at=CURRENT_TIMESTAMP
	`, roomID)
	return err
}

func (s *Storage) SetRoomPersona(roomID, persona string) error {
	_, err := s.db.Exec(`
		INSERT INTO rooms (room_id, persona, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(room_id) DO UPDATE SET
			persona=excluded.persona,
			updated_at=CURRENT_TIMESTAMP
	`, roomID, persona)
	return err
}

func (s *Storage) SetRoomSummary(roomID, summary string) error {
	_, err := s.db.Exec(`
		INSERT INTO rooms (room_id, summary, summary_updated_at, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(room_id) DO UPDATE SET
			summary=excluded.summary,
			summary_updated_at=CURRENT_TIMESTAMP,
			updated_at=CURRENT_TIMESTAMP
	`, roomID, summary)
	return err
}

// ResetRoom clears all messages and the rolling summary for a room
// (but keeps the room entry)
func (s *Storage) ResetRoom(roomID string) error {
	if err := s.ClearMessages(roomID); err != nil {
		return err
	}
	_, err := s.db.Exec(`
		UPDATE rooms SET
			summary = '',
			summary_updated_at = NULL,
			updated_at = CURRENT_TIMESTAMP
		WHERE room_id = ?
	`, roomID)
	return err
}

func (s *Storage) ListRooms(limit int) ([]Room, error) {
	rows, err := s.db.Query(`
		SELECT room_id, COALESCE(persona, ''), COALESCE(summary, '')
		FROM rooms
		ORDER BY updated_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		var r Room
		if err := rows.Scan(&r.RoomID, &r.Persona, &r.Summary); err != nil {
			continue
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

// ============ Notes ============

// SaveNote creates or updates a note, keyed by room and title
func (s *Storage) SaveNote(roomID, title, content string) error {
	_, err := s.db.Exec(`
		INSERT INTO notes (room_id, title, content)
		VALUES (?, ?, ?)
		ON CONFLICT(room_id, title) DO UPDATE SET
			content=excluded.content,
			updated_at=CURRENT_TIMESTAMP
	`, roomID, title, content)
	return err
}

func (s *Storage) GetNote(roomID, title string) (Note, error) {
	var n Note
	err := s.db.QueryRow(`
		SELECT id, room_id, title, content, created_at, updated_at
		FROM notes WHERE room_id = ? AND title = ?
	`, roomID, title).Scan(&n.ID, &n.RoomID, &n.Title, &n.Content, &n.CreatedAt, &n.UpdatedAt)
	if err == sql.ErrNoRows {
		return Note{}, fmt.Errorf("note not found: %s", title)
	}
	return n, err
}

func (s *Storage) SearchNotes(roomID, keyword string, limit int) ([]Note, error) {
	// First, match title exactly
	var n Note
	err := s.db.QueryRow(`
		SELECT id, room_id, title, content, created_at, updated_at
		FROM notes WHERE room_id = ? AND title = ?
	`, roomID, keyword).Scan(&n.ID, &n.RoomID, &n.Title, &n.Content, &n.CreatedAt, &n.UpdatedAt)
	if err == nil {
		return []Note{n}, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	// Then fuzzy search by title or content
	rows, err := s.db.Query(`
		SELECT id, room_id, title, content, created_at, updated_at
		FROM notes WHERE room_id = ? AND (title LIKE ? OR content LIKE ?)
		ORDER BY updated_at DESC LIMIT ?
	`, roomID, "%"+keyword+"%", "%"+keyword+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanNotes(rows)
}

func scanNotes(rows *sql.Rows) ([]Note, error) {
	var notes []Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.RoomID, &n.Title, &n.Content, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func (s *Storage) ListNotes(roomID string, limit int) ([]Note, error) {
	rows, err := s.db.Query(`
		SELECT id, room_id, title, content, created_at, updated_at
		FROM notes WHERE room_id = ? ORDER BY updated_at DESC LIMIT ?
	`, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNotes(rows)
}

func (s *Storage) DeleteNote(roomID, title string) error {
	_, err := s.db.Exec("DELETE FROM notes WHERE room_id = ? AND title = ?", roomID, title)
	return err
}

// ============ Config (persistence) ============

// SetConfig writes a config entry to the database
func (s *Storage) SetConfig(section, key, value string) error {
	if s.stmtSetConfig != nil {
		_, err := s.stmtSetConfig.Exec(section, key, value)
		return err
	}
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO config (section, key, value, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)",
		section, key, value,
	)
	return err
}

// GetConfig reads a config value
func (s *Storage) GetConfig(section, key string) (string, error) {
	var value string
	var err error
	if s.stmtGetConfig != nil {
		err = s.stmtGetConfig.QueryRow(section, key).Scan(&value)
	} else {
		err = s.db.QueryRow("SELECT value FROM config WHERE section = ? AND key = ?", section, key).Scan(&value)
	}
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// GetConfigSection reads all config values in a section
func (s *Storage) GetConfigSection(section string) (map[string]string, error) {
	rows, err := s.db.Query("SELECT key, value FROM config WHERE section = ?", section)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	config := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		config[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return config, nil
}

// DeleteConfig deletes a config entry
func (s *Storage) DeleteConfig(section, key string) error {
	_, err := s.db.Exec("DELETE FROM config WHERE section = ? AND key = ?", section, key)
	return err
}

// ExportConfig exports all configs as JSON
func (s *Storage) ExportConfig() ([]byte, error) {
	rows, err := s.db.Query("SELECT section, key, value FROM config")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type ExportConfig struct {
		Section string `json:"section"`
		Key     string `json:"key"`
		Value   string `json:"value"`
	}

	var configs []ExportConfig
	for rows.Next() {
		var c ExportConfig
		if err := rows.Scan(&c.Section, &c.Key, &c.Value); err != nil {
			return nil, fmt.Errorf("scan export config failed: %v", err)
		}
		configs = append(configs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("export configs iteration error: %v", err)
	}

	return json.MarshalIndent(configs, "", "  ")
}

// ============ Misc ============

func (s *Storage) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for packages that share the database
func (s *Storage) DB() *sql.DB {
	return s.db
}

func (s *Storage) Stats() (map[string]int, error) {
	stats := make(map[string]int)

	// Single query for all counts
	row := s.db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM messages),
			(SELECT COUNT(*) FROM rooms),
			(SELECT COUNT(*) FROM notes)
	`)
	var msgs, rooms, notes int
	if err := row.Scan(&msgs, &rooms, &notes); err != nil {
		return nil, err
	}
	stats["messages"] = msgs
	stats["rooms"] = rooms
	stats["notes"] = notes

	return stats, nil
}
