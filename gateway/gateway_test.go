package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gliderlab/crew/gateway/channels/types"
	"github.com/gliderlab/crew/pkg/config"
)

type fakeEngine struct {
	lastUser string
	lastRoom string
	reply    string
	err      error
}

func (f *fakeEngine) Reply(ctx context.Context, userID, roomID, text string) (string, error) {
	f.lastUser, f.lastRoom = userID, roomID
	return f.reply, f.err
}

func (f *fakeEngine) ReplyStream(ctx context.Context, userID, roomID, text string, emit func(types.StreamChunk)) error {
	if f.err != nil {
		return f.err
	}
	emit(types.StreamChunk{Text: f.reply})
	return nil
}

func newTestGateway(engine types.Engine) *Gateway {
	return NewGateway(*config.DefaultGatewayConfig(), engine, nil, nil)
}

func TestHandleHealth(t *testing.T) {
	g := newTestGateway(&fakeEngine{})
	rec := httptest.NewRecorder()
	g.handleHealth(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestHandleChat(t *testing.T) {
	engine := &fakeEngine{reply: "hi there"}
	g := newTestGateway(engine)

	body := strings.NewReader(`{"userId": "u1", "roomId": "r1", "text": "hello"}`)
	rec := httptest.NewRecorder()
	g.handleChat(rec, httptest.NewRequest("POST", "/api/chat", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "hi there") {
		t.Errorf("body = %s", rec.Body.String())
	}
	if engine.lastUser != "u1" || engine.lastRoom != "r1" {
		t.Errorf("engine got user=%s room=%s", engine.lastUser, engine.lastRoom)
	}
}

func TestHandleChatDefaultsIdentity(t *testing.T) {
	engine := &fakeEngine{reply: "ok"}
	g := newTestGateway(engine)

	body := strings.NewReader(`{"text": "hello"}`)
	req := httptest.NewRequest("POST", "/api/chat", body)
	req.RemoteAddr = "10.1.2.3:4444"
	rec := httptest.NewRecorder()
	g.handleChat(rec, req)

	if engine.lastUser != "web:10.1.2.3" {
		t.Errorf("default identity = %s", engine.lastUser)
	}
	if engine.lastRoom != engine.lastUser {
		t.Errorf("room should default to the identity, got %s", engine.lastRoom)
	}
}

func TestHandleChatRejectsBadRequests(t *testing.T) {
	g := newTestGateway(&fakeEngine{})

	rec := httptest.NewRecorder()
	g.handleChat(rec, httptest.NewRequest("GET", "/api/chat", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET should be rejected, status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	g.handleChat(rec, httptest.NewRequest("POST", "/api/chat", strings.NewReader(`{"text": ""}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty text should be rejected, status = %d", rec.Code)
	}
}

func TestHandleRoomsWithoutStorage(t *testing.T) {
	g := newTestGateway(&fakeEngine{})
	rec := httptest.NewRecorder()
	g.handleRooms(rec, httptest.NewRequest("GET", "/api/rooms", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.168.1.5:1234"
	if ip := getClientIP(req); ip != "192.168.1.5" {
		t.Errorf("ip = %s", ip)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if ip := getClientIP(req); ip != "203.0.113.9" {
		t.Errorf("forwarded ip = %s", ip)
	}
}
