// Package telegram provides the Telegram bot channel
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gliderlab/crew/gateway/channels/types"
	"github.com/gliderlab/crew/pkg/config"
	"github.com/gliderlab/crew/pkg/kv"
)

// Bot implements the types.ChannelLoader interface
type Bot struct {
	token   string
	baseURL string
	client  *http.Client
	engine  types.Engine
	kv      *kv.KV
	running bool
	stopCh  chan struct{}

	// Long Polling mode
	mode         string // "webhook" or "long_polling"
	offset       int64  // Last processed update ID
	muOffset     sync.Mutex
	pollInterval time.Duration

	// Worker pool for bounded concurrency
	msgCh     chan Update
	workerCnt int
	wg        sync.WaitGroup
}

// NewBot creates a new Telegram bot
// mode: "long_polling" (default) or "webhook"
func NewBot(token string, engine types.Engine, store *kv.KV) *Bot {
	mode := os.Getenv("TELEGRAM_MODE")
	if mode == "" {
		mode = "long_polling"
	}

	return &Bot{
		token:        token,
		baseURL:      fmt.Sprintf("https://api.telegram.org/bot%s", token),
		client:       &http.Client{Timeout: 35 * time.Second},
		engine:       engine,
		kv:           store,
		stopCh:       make(chan struct{}),
		mode:         mode,
		pollInterval: 1 * time.Second,
		msgCh:        make(chan Update, 100), // Bounded queue
		workerCnt:    8,                      // Max concurrent workers
	}
}

// NewBotFromEnv creates the bot from TELEGRAM_BOT_TOKEN
func NewBotFromEnv(engine types.Engine, store *kv.KV) (*Bot, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN not set")
	}
	return NewBot(token, engine, store), nil
}

func (b *Bot) ChannelInfo() types.ChannelInfo {
	return types.ChannelInfo{
		Name:        "Telegram",
		Type:        types.ChannelTelegram,
		Version:     "1.0.0",
		Description: fmt.Sprintf("Telegram Bot API integration (%s mode)", b.mode),
	}
}

func (b *Bot) Start() error {
	if b.running {
		return nil
	}
	log.Printf("[START] Starting Telegram bot (mode: %s)...", b.mode)
	b.running = true

	if b.mode == "long_polling" {
		// Delete webhook first to enable getUpdates
		b.deleteWebhook()
		go b.startLongPolling()
	}
	return nil
}

func (b *Bot) Stop() error {
	if !b.running {
		return nil
	}
	if b.mode == "long_polling" {
		close(b.stopCh)
		b.stopCh = make(chan struct{}) // Recreate for potential restart
	}
	b.running = false
	log.Printf("[OK] Telegram bot stopped")
	return nil
}

func (b *Bot) HealthCheck() error {
	resp, err := b.client.Get(b.baseURL + "/getMe")
	if err != nil {
		return fmt.Errorf("API connection failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return fmt.Errorf("API returned status %d", resp.StatusCode)
	}
	return nil
}

// BotUsername returns the bot's username, cached in the KV store so a
// restart does not hit getMe again
func (b *Bot) BotUsername() string {
	if b.kv != nil {
		if name, err := b.kv.GetBotUsername(string(types.ChannelTelegram)); err == nil && name != "" {
			return name
		}
	}

	resp, err := b.client.Get(b.baseURL + "/getMe")
	if err != nil {
		return ""
	}
	defer resp.Body.Close()

	var result struct {
		OK     bool `json:"ok"`
		Result struct {
			Username string `json:"username"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil || !result.OK {
		return ""
	}
	if b.kv != nil {
		b.kv.SetBotUsername(string(types.ChannelTelegram), result.Result.Username)
	}
	return result.Result.Username
}

func (b *Bot) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	types.LimitBody(w, r)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	var update Update
	if err := json.Unmarshal(body, &update); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if update.Message.Text != "" || update.Message.Caption != "" || update.Message.HasPhoto() {
		go b.processMessage(update)
	}

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"ok": true}`)
}

func (b *Bot) processMessage(update Update) {
	msg := update.Message
	chatID := msg.Chat.ID
	userID := msg.From.ID

	// Skip updates already handled before a restart
	if b.kv != nil {
		if seen, err := b.kv.UpdateSeen(string(types.ChannelTelegram), update.UpdateID); err == nil && seen {
			return
		}
		b.kv.MarkUpdateSeen(string(types.ChannelTelegram), update.UpdateID)
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		text = strings.TrimSpace(msg.Caption)
	}
	if text == "" && !msg.HasPhoto() {
		return
	}

	log.Printf("[Telegram] channel=telegram chat=%d user=%d len=%d", chatID, userID, len(text))

	if strings.HasPrefix(text, "/start") {
		b.sendSimpleMessage(chatID, fmt.Sprintf("Hello %s! Send me a message and I'll do my best to help.", msg.From.FirstName))
		return
	}
	if strings.HasPrefix(text, "/help") {
		b.sendSimpleMessage(chatID, "Commands:\n/start - Start bot\n/help - Help")
		return
	}

	b.sendChatAction(chatID, "typing")

	// Identity and room are both scoped to the chat; the engine
	// serializes runs per identity
	identity := fmt.Sprintf("telegram:%d", userID)
	roomID := fmt.Sprintf("telegram:%d", chatID)

	// Streamed delivery: the first chunk becomes a new message, every
	// Replace chunk edits it in place
	var sentMessageID int64
	err := b.engine.ReplyStream(context.Background(), identity, roomID, text, func(c types.StreamChunk) {
		if c.Replace && sentMessageID != 0 {
			b.editMessage(chatID, sentMessageID, c.Text)
			return
		}
		if id, ok := b.sendMessage(chatID, c.Text); ok {
			sentMessageID = id
		}
	})
	if err != nil {
		log.Printf("[ERROR] engine error: %v", err)
		b.sendSimpleMessage(chatID, "Sorry, I encountered an error.")
	}
}

// sendMessage sends text and returns the new message ID for later edits
func (b *Bot) sendMessage(chatID int64, text string) (int64, bool) {
	if len(text) > config.TelegramMaxMsgLen {
		text = text[:config.TelegramMaxMsgLen]
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"chat_id": chatID,
		"text":    text,
	})
	resp, err := b.client.Post(b.baseURL+"/sendMessage", "application/json", strings.NewReader(string(payload)))
	if err != nil {
		log.Printf("[Telegram] channel=telegram action=sendMessage error=%v", err)
		return 0, false
	}
	defer resp.Body.Close()

	var sendResp struct {
		OK     bool `json:"ok"`
		Result struct {
			MessageID int64 `json:"message_id"`
		} `json:"result"`
	}
	json.NewDecoder(resp.Body).Decode(&sendResp)
	if !sendResp.OK {
		return 0, false
	}
	return sendResp.Result.MessageID, true
}

// editMessage replaces the text of a previously sent message
func (b *Bot) editMessage(chatID, messageID int64, text string) {
	if len(text) > config.TelegramMaxMsgLen {
		text = text[:config.TelegramMaxMsgLen]
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
	})
	resp, err := b.client.Post(b.baseURL+"/editMessageText", "application/json", strings.NewReader(string(payload)))
	if err != nil {
		log.Printf("[Telegram] channel=telegram action=editMessage error=%v", err)
		return
	}
	resp.Body.Close()
}

func (b *Bot) sendSimpleMessage(chatID int64, text string) {
	b.sendMessage(chatID, text)
}

// sendChatAction sends a chat action (typing, uploading_photo, etc.)
func (b *Bot) sendChatAction(chatID int64, action string) {
	payload, _ := json.Marshal(map[string]interface{}{
		"chat_id": chatID,
		"action":  action,
	})
	resp, err := b.client.Post(b.baseURL+"/sendChatAction", "application/json", strings.NewReader(string(payload)))
	if err != nil {
		return
	}
	resp.Body.Close()
}

// Telegram types
type Update struct {
	UpdateID int64           `json:"update_id"`
	Message  IncomingMessage `json:"message"`
}

type IncomingMessage struct {
	MessageID int64       `json:"message_id"`
	From      User        `json:"from"`
	Chat      Chat        `json:"chat"`
	Date      int         `json:"date"`
	Text      string      `json:"text"`
	Caption   string      `json:"caption,omitempty"`
	Photo     []PhotoSize `json:"photo,omitempty"`
}

func (m *IncomingMessage) HasPhoto() bool { return len(m.Photo) > 0 }

type PhotoSize struct {
	FileID string `json:"file_id"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

type Chat struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Type     string `json:"type"`
}

// Long Polling implementation

// deleteWebhook removes any existing webhook to enable getUpdates
func (b *Bot) deleteWebhook() {
	resp, err := b.client.Post(b.baseURL+"/deleteWebhook", "application/json", nil)
	if err != nil {
		log.Printf("[Telegram] channel=telegram action=deleteWebhook error=%v", err)
		return
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	json.NewDecoder(resp.Body).Decode(&result)

	if result.OK {
		log.Printf("[Telegram] channel=telegram action=deleteWebhook status=success")
	} else {
		log.Printf("[Telegram] channel=telegram action=deleteWebhook status=failed reason=%s", result.Description)
	}
}

// startLongPolling starts the Long Polling loop with worker pool
func (b *Bot) startLongPolling() {
	log.Printf("[START] Long Polling loop with %d workers...", b.workerCnt)

	b.wg.Add(b.workerCnt)
	for i := 0; i < b.workerCnt; i++ {
		go b.messageWorker()
	}

	for {
		select {
		case <-b.stopCh:
			log.Printf("[OK] Long Polling stopping, waiting for workers...")
			close(b.msgCh)
			b.wg.Wait()
			return
		default:
			b.pollUpdates()
			time.Sleep(b.pollInterval)
		}
	}
}

// messageWorker processes updates from the bounded queue
func (b *Bot) messageWorker() {
	defer b.wg.Done()
	for update := range b.msgCh {
		b.processMessage(update)
	}
}

// pollUpdates fetches new updates from Telegram
func (b *Bot) pollUpdates() {
	b.muOffset.Lock()
	offset := b.offset
	b.muOffset.Unlock()

	url := fmt.Sprintf("%s/getUpdates?timeout=30&offset=%d", b.baseURL, offset)
	resp, err := b.client.Get(url)
	if err != nil {
		log.Printf("[Telegram] channel=telegram action=pollUpdates error=%v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		log.Printf("[Telegram] channel=telegram action=pollUpdates http_status=%d", resp.StatusCode)
		return
	}

	var result struct {
		OK     bool     `json:"ok"`
		Result []Update `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		log.Printf("[Telegram] channel=telegram action=pollUpdates error=decode_failed details=%v", err)
		return
	}
	if !result.OK || len(result.Result) == 0 {
		return
	}

	for _, update := range result.Result {
		b.muOffset.Lock()
		if update.UpdateID >= b.offset {
			b.offset = update.UpdateID + 1
		}
		b.muOffset.Unlock()

		if update.Message.Text == "" && update.Message.Caption == "" && !update.Message.HasPhoto() {
			continue
		}
		select {
		case b.msgCh <- update:
			// Sent to worker pool
		default:
			// Queue full - log and drop (backpressure)
			log.Printf("[Telegram] channel=telegram action=pollUpdates status=dropped update_id=%d reason=queue_full", update.UpdateID)
		}
	}
}
