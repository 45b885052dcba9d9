// Package types - Shared types and interfaces for channels
// This package is imported by both the channel manager and individual channel packages
package types

import (
	"context"
	"net/http"
)

// ChannelType represents the type of communication channel
type ChannelType string

const (
	ChannelTelegram ChannelType = "telegram"
	ChannelWebChat  ChannelType = "webchat"
)

const MaxWebhookBodyBytes int64 = 1 << 20

func LimitBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxWebhookBodyBytes)
}

// ChannelInfo contains metadata about a channel
type ChannelInfo struct {
	Name        string      `json:"name"`
	Type        ChannelType `json:"type"`
	Version     string      `json:"version"`
	Description string      `json:"description"`
}

// ChannelLoader defines the interface for channel implementations
type ChannelLoader interface {
	ChannelInfo() ChannelInfo
	Start() error
	Stop() error
	HandleWebhook(w http.ResponseWriter, r *http.Request)
	HealthCheck() error
}

// StreamChunk is one unit of incrementally delivered reply text.
// Replace means the chunk carries the full text of a message already
// delivered in part: the channel should edit its previous rendering
// instead of sending a duplicate. Otherwise the chunk is new text for
// a fresh outbound message.
type StreamChunk struct {
	Replace bool
	Text    string
}

// Engine is the conversation engine behind every channel
type Engine interface {
	Reply(ctx context.Context, userID, roomID, text string) (string, error)
	ReplyStream(ctx context.Context, userID, roomID, text string, emit func(StreamChunk)) error
}
