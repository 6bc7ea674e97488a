package streamclient

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pockettalk/pockettalk-backend/internal/socket"
	"github.com/pockettalk/pockettalk-backend/internal/types"
)

func apply(t *testing.T, r *Reconciler, event string, payload interface{}) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, r.Apply(event, raw))
}

func TestReconcilerFullLifecycle(t *testing.T) {
	r := NewReconciler()
	chatID := uuid.New()
	sendID := uuid.New()
	r.SetCurrentChat(chatID)

	apply(t, r, socket.EventAIResponseStart, socket.ResponseStartPayload{ChatID: chatID, SendID: sendID})
	snap := r.Snapshot()
	assert.True(t, snap.IsThinking)
	assert.False(t, snap.IsStreaming)

	apply(t, r, socket.EventMessageSaved, socket.MessageSavedPayload{
		MessageID: uuid.New(), ChatID: chatID, Content: "hi", Role: types.MessageRoleUser,
		CreatedAt: time.Now(), SendID: sendID,
	})

	apply(t, r, socket.EventAIResponseChunk, socket.ResponseChunkPayload{ChatID: chatID, Chunk: "Hel", SendID: sendID})
	apply(t, r, socket.EventAIResponseChunk, socket.ResponseChunkPayload{ChatID: chatID, Chunk: "lo", SendID: sendID})
	snap = r.Snapshot()
	assert.False(t, snap.IsThinking)
	assert.True(t, snap.IsStreaming)
	assert.Equal(t, "Hello", snap.StreamingBuffer)

	msgID := uuid.New()
	apply(t, r, socket.EventAIResponseComplete, socket.ResponseCompletePayload{
		ChatID: chatID, MessageID: msgID, FullResponse: "Hello", CreatedAt: time.Now(), SendID: sendID,
	})
	snap = r.Snapshot()
	assert.False(t, snap.IsThinking)
	assert.False(t, snap.IsStreaming)
	assert.Empty(t, snap.StreamingBuffer)

	view := r.Chat(chatID)
	require.NotNil(t, view)
	require.Len(t, view.Messages, 2)
	assert.Equal(t, types.MessageRoleUser, view.Messages[0].Role)
	assert.Equal(t, types.MessageRoleAssistant, view.Messages[1].Role)
	assert.Equal(t, "Hello", view.Messages[1].Content)
}

func TestReconcilerIgnoresChunksForOtherSends(t *testing.T) {
	r := NewReconciler()
	chatID := uuid.New()
	sendID := uuid.New()
	r.SetCurrentChat(chatID)

	apply(t, r, socket.EventAIResponseStart, socket.ResponseStartPayload{ChatID: chatID, SendID: sendID})
	// A chunk correlated to a different send must not leak into the buffer.
	apply(t, r, socket.EventAIResponseChunk, socket.ResponseChunkPayload{ChatID: chatID, Chunk: "stray", SendID: uuid.New()})
	assert.Empty(t, r.Snapshot().StreamingBuffer)

	apply(t, r, socket.EventAIResponseChunk, socket.ResponseChunkPayload{ChatID: chatID, Chunk: "real", SendID: sendID})
	assert.Equal(t, "real", r.Snapshot().StreamingBuffer)
}

func TestReconcilerErrorResetsIndicators(t *testing.T) {
	r := NewReconciler()
	chatID := uuid.New()
	sendID := uuid.New()
	r.SetCurrentChat(chatID)

	apply(t, r, socket.EventAIResponseStart, socket.ResponseStartPayload{ChatID: chatID, SendID: sendID})
	apply(t, r, socket.EventAIResponseChunk, socket.ResponseChunkPayload{ChatID: chatID, Chunk: "partial", SendID: sendID})
	apply(t, r, socket.EventAIResponseError, socket.ResponseErrorPayload{ChatID: chatID, Error: "model unavailable", SendID: sendID})

	snap := r.Snapshot()
	assert.False(t, snap.IsThinking)
	assert.False(t, snap.IsStreaming)
	assert.Empty(t, snap.StreamingBuffer)
	assert.Equal(t, "model unavailable", snap.LastError)
}

func TestReconcilerTitleUpdate(t *testing.T) {
	r := NewReconciler()
	chatID := uuid.New()

	apply(t, r, socket.EventChatTitleUpdated, socket.TitleUpdatedPayload{ChatID: chatID, Title: "Trip planning"})
	view := r.Chat(chatID)
	require.NotNil(t, view)
	assert.Equal(t, "Trip planning", view.Title)
}

func TestReconcilerEventsForOtherChatsDoNotTouchIndicators(t *testing.T) {
	r := NewReconciler()
	current := uuid.New()
	background := uuid.New()
	r.SetCurrentChat(current)

	apply(t, r, socket.EventAIResponseStart, socket.ResponseStartPayload{ChatID: background, SendID: uuid.New()})
	assert.False(t, r.Snapshot().IsThinking)

	// Background chat messages are still recorded.
	apply(t, r, socket.EventMessageSaved, socket.MessageSavedPayload{
		MessageID: uuid.New(), ChatID: background, Content: "bg", Role: types.MessageRoleUser,
		CreatedAt: time.Now(),
	})
	view := r.Chat(background)
	require.NotNil(t, view)
	assert.Len(t, view.Messages, 1)
}

func TestReconcilerSwitchingChatsClearsIndicators(t *testing.T) {
	r := NewReconciler()
	first := uuid.New()
	sendID := uuid.New()
	r.SetCurrentChat(first)

	apply(t, r, socket.EventAIResponseStart, socket.ResponseStartPayload{ChatID: first, SendID: sendID})
	apply(t, r, socket.EventAIResponseChunk, socket.ResponseChunkPayload{ChatID: first, Chunk: "partial", SendID: sendID})

	r.SetCurrentChat(uuid.New())
	snap := r.Snapshot()
	assert.False(t, snap.IsThinking)
	assert.False(t, snap.IsStreaming)
	assert.Empty(t, snap.StreamingBuffer)
}

func TestReconcilerReplaceChatIsWholesale(t *testing.T) {
	r := NewReconciler()
	chatID := uuid.New()

	apply(t, r, socket.EventMessageSaved, socket.MessageSavedPayload{
		MessageID: uuid.New(), ChatID: chatID, Content: "local copy", Role: types.MessageRoleUser,
		CreatedAt: time.Now(),
	})

	authoritative := []socket.MessageSavedPayload{
		{MessageID: uuid.New(), ChatID: chatID, Content: "server copy", Role: types.MessageRoleUser, CreatedAt: time.Now()},
		{MessageID: uuid.New(), ChatID: chatID, Content: "server reply", Role: types.MessageRoleAssistant, CreatedAt: time.Now()},
	}
	r.ReplaceChat(chatID, "Server title", authoritative)

	view := r.Chat(chatID)
	require.NotNil(t, view)
	assert.Equal(t, "Server title", view.Title)
	require.Len(t, view.Messages, 2)
	assert.Equal(t, "server copy", view.Messages[0].Content)
}

func TestReconcilerIgnoresUnknownEvents(t *testing.T) {
	r := NewReconciler()
	require.NoError(t, r.Apply("some-future-event", json.RawMessage(`{"x":1}`)))
}
