// WebSocket handler for the web chat channel

package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/gliderlab/crew/gateway/channels/types"
)

// WebSocket message types
const (
	MsgTypeChat  = "chat"
	MsgTypeChunk = "chunk"
	MsgTypeDone  = "done"
	MsgTypeError = "error"
	MsgTypePing  = "ping"
	MsgTypePong  = "pong"
)

// WSMessage represents a WebSocket message envelope
type WSMessage struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
}

// WSChatRequest represents a chat request via WebSocket
type WSChatRequest struct {
	UserID string `json:"userId"`
	RoomID string `json:"roomId"`
	Text   string `json:"text"`
}

// WSChatChunk is one streamed piece of the reply. Replace means the
// client should overwrite the message it rendered for the previous
// chunk instead of appending.
type WSChatChunk struct {
	Text    string `json:"text"`
	Replace bool   `json:"replace"`
	Error   string `json:"error,omitempty"`
}

// HandleWebSocket handles WebSocket upgrade requests
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Connection limiting, global then per-IP
	if atomic.AddInt32(&g.wsConnCount, 1) > g.maxWSConns {
		atomic.AddInt32(&g.wsConnCount, -1)
		http.Error(w, "too many WebSocket connections", http.StatusServiceUnavailable)
		return
	}

	ip := getClientIP(r)
	g.mu.Lock()
	g.wsIPConns[ip]++
	if g.wsIPConns[ip] > 10 {
		g.wsIPConns[ip]--
		g.mu.Unlock()
		atomic.AddInt32(&g.wsConnCount, -1)
		http.Error(w, "too many connections from this IP", http.StatusServiceUnavailable)
		return
	}
	g.mu.Unlock()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		log.Printf("[WS] Accept error: %v", err)
		g.releaseWSConn(ip)
		return
	}
	conn.SetReadLimit(1 << 20)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g.handleWSConnection(ctx, conn, ip)
}

func (g *Gateway) releaseWSConn(ip string) {
	atomic.AddInt32(&g.wsConnCount, -1)
	g.mu.Lock()
	g.wsIPConns[ip]--
	if g.wsIPConns[ip] <= 0 {
		delete(g.wsIPConns, ip)
	}
	g.mu.Unlock()
}

func (g *Gateway) handleWSConnection(ctx context.Context, conn *websocket.Conn, clientIP string) {
	defer func() {
		conn.Close(websocket.StatusNormalClosure, "")
		g.releaseWSConn(clientIP)
	}()

	// Mutex protects all write operations (coder/websocket is not thread-safe)
	writeMu := &sync.Mutex{}

	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Ping goroutine to detect dead connections
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				if !g.writeWS(pingCtx, conn, writeMu, WSMessage{Type: MsgTypePing}) {
					conn.Close(websocket.StatusNormalClosure, "")
					return
				}
			}
		}
	}()

	for {
		_, msgBytes, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(msgBytes, &msg); err != nil {
			g.sendWSError(ctx, conn, writeMu, "invalid message format")
			continue
		}

		switch msg.Type {
		case MsgTypeChat:
			// Run in a goroutine so ping/pong stays responsive during
			// a long turn
			go g.handleWSChat(ctx, conn, writeMu, clientIP, msg.Content)
		case MsgTypePing:
			g.writeWS(ctx, conn, writeMu, WSMessage{Type: MsgTypePong})
		case MsgTypePong:
			// Connection alive, do nothing
		default:
			log.Printf("[WS] Unknown message type: %s", msg.Type)
		}
	}
}

func (g *Gateway) handleWSChat(ctx context.Context, conn *websocket.Conn, writeMu *sync.Mutex, clientIP string, content json.RawMessage) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var req WSChatRequest
	if err := json.Unmarshal(content, &req); err != nil {
		g.sendWSError(ctx, conn, writeMu, "invalid request: "+err.Error())
		return
	}
	if req.Text == "" {
		g.sendWSError(ctx, conn, writeMu, "text required")
		return
	}
	if req.UserID == "" {
		req.UserID = "web:" + clientIP
	}
	if req.RoomID == "" {
		req.RoomID = req.UserID
	}

	err := g.engine.ReplyStream(ctx, req.UserID, req.RoomID, req.Text, func(c types.StreamChunk) {
		chunk := WSChatChunk{Text: c.Text, Replace: c.Replace}
		payload, err := json.Marshal(chunk)
		if err != nil {
			return
		}
		g.writeWS(ctx, conn, writeMu, WSMessage{Type: MsgTypeChunk, Content: payload})
	})
	if err != nil {
		g.sendWSError(ctx, conn, writeMu, "chat error: "+err.Error())
		return
	}

	g.writeWS(ctx, conn, writeMu, WSMessage{Type: MsgTypeDone})
}

// writeWS marshals and writes one message under the write mutex with a
// bounded timeout; false means the connection is gone
func (g *Gateway) writeWS(ctx context.Context, conn *websocket.Conn, writeMu *sync.Mutex, msg WSMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[WS] Marshal error: %v", err)
		return true
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	writeMu.Lock()
	defer writeMu.Unlock()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		log.Printf("[WS] Write error: %v", err)
		return false
	}
	return true
}

func (g *Gateway) sendWSError(ctx context.Context, conn *websocket.Conn, writeMu *sync.Mutex, errMsg string) {
	payload, err := json.Marshal(WSChatChunk{Error: errMsg})
	if err != nil {
		return
	}
	g.writeWS(ctx, conn, writeMu, WSMessage{Type: MsgTypeError, Content: payload})
}

// getClientIP extracts client IP from HTTP request (handles proxies)
func getClientIP(r *http.Request) string {
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}
	xri := r.Header.Get("X-Real-IP")
	if xri != "" {
		return strings.TrimSpace(xri)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
