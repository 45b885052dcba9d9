package gateway

import (
	"context"

	"github.com/gliderlab/crew/gateway/channels/types"
	"github.com/gliderlab/crew/orchestrator"
)

// EngineAdapter exposes the orchestrator as the channel-facing engine
type EngineAdapter struct {
	Orch *orchestrator.Orchestrator
}

func (e *EngineAdapter) Reply(ctx context.Context, userID, roomID, text string) (string, error) {
	msgs, err := e.Orch.RunTurn(ctx, userID, roomID, text, "")
	if err != nil {
		return "", err
	}
	return orchestrator.FinalReply(msgs), nil
}

func (e *EngineAdapter) ReplyStream(ctx context.Context, userID, roomID, text string, emit func(types.StreamChunk)) error {
	return e.Orch.RunTurnStreaming(ctx, userID, roomID, text, "", func(c orchestrator.Chunk) {
		emit(types.StreamChunk{
			Replace: c.Kind == orchestrator.ChunkSnapshot,
			Text:    c.Text,
		})
	})
}
