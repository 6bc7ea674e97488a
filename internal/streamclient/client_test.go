package streamclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pockettalk/pockettalk-backend/internal/logger"
	"github.com/pockettalk/pockettalk-backend/internal/socket"
	"github.com/pockettalk/pockettalk-backend/internal/types"
)

func newRESTClient(srv *httptest.Server) *Client {
	return &Client{
		log:         logger.NewNop(),
		Reconciler:  NewReconciler(),
		restBase:    srv.URL,
		token:       "session-token",
		httpClient:  srv.Client(),
		pendingAcks: make(map[uuid.UUID]chan struct{}),
	}
}

func chatJSON(chatID uuid.UUID, title string, contents ...string) string {
	msgs := ""
	for i, content := range contents {
		role := types.MessageRoleUser
		if i%2 == 1 {
			role = types.MessageRoleAssistant
		}
		if i > 0 {
			msgs += ","
		}
		msgs += fmt.Sprintf(`{"id":%q,"chatID":%q,"role":%q,"content":%q,"createdAt":"2025-08-01T10:0%d:00Z"}`,
			uuid.New(), chatID, role, content, i)
	}
	return fmt.Sprintf(`{"id":%q,"title":%q,"messages":[%s]}`, chatID, title, msgs)
}

func TestRefetchChatReplacesViewWholesale(t *testing.T) {
	chatID := uuid.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chats/"+chatID.String(), r.URL.Path)
		assert.Equal(t, "Bearer session-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, chatJSON(chatID, "Trip planning", "plan my trip", "Here is a plan."))
	}))
	defer srv.Close()

	sc := newRESTClient(srv)

	// A locally accumulated approximation that the refetch must discard.
	sc.Reconciler.ReplaceChat(chatID, "stale", []socket.MessageSavedPayload{
		{MessageID: uuid.New(), ChatID: chatID, Role: types.MessageRoleUser, Content: "dropped"},
	})

	require.NoError(t, sc.RefetchChat(context.Background(), chatID))

	view := sc.Reconciler.Chat(chatID)
	require.NotNil(t, view)
	assert.Equal(t, "Trip planning", view.Title)
	require.Len(t, view.Messages, 2)
	assert.Equal(t, "plan my trip", view.Messages[0].Content)
	assert.Equal(t, types.MessageRoleUser, view.Messages[0].Role)
	assert.Equal(t, "Here is a plan.", view.Messages[1].Content)
	assert.Equal(t, types.MessageRoleAssistant, view.Messages[1].Role)
}

func TestRefetchChatPropagatesErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	sc := newRESTClient(srv)
	err := sc.RefetchChat(context.Background(), uuid.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestResponseCompleteTriggersRefetch(t *testing.T) {
	chatID := uuid.New()
	fetched := make(chan struct{}, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetched <- struct{}{}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, chatJSON(chatID, "Trip planning", "plan my trip", "Here is a plan."))
	}))
	defer srv.Close()

	sc := newRESTClient(srv)

	payload, err := json.Marshal(socket.ResponseCompletePayload{
		ChatID: chatID, MessageID: uuid.New(), FullResponse: "Here is a plan.", SendID: uuid.New(),
	})
	require.NoError(t, err)
	sc.afterApply(context.Background(), socket.EventAIResponseComplete, payload)

	select {
	case <-fetched:
	default:
		t.Fatal("completion did not trigger a chat refetch")
	}
	view := sc.Reconciler.Chat(chatID)
	require.NotNil(t, view)
	assert.Len(t, view.Messages, 2)
}

func TestMessageSavedResolvesPendingAck(t *testing.T) {
	chatID := uuid.New()
	sc := &Client{
		log:         logger.NewNop(),
		Reconciler:  NewReconciler(),
		AckTimeout:  30 * time.Millisecond,
		pendingAcks: make(map[uuid.UUID]chan struct{}),
	}

	sc.trackAck(chatID)

	payload, err := json.Marshal(socket.MessageSavedPayload{
		MessageID: uuid.New(), ChatID: chatID, Content: "hi", Role: types.MessageRoleUser, SendID: uuid.New(),
	})
	require.NoError(t, err)
	sc.afterApply(context.Background(), socket.EventMessageSaved, payload)

	sc.ackMu.Lock()
	_, pending := sc.pendingAcks[chatID]
	sc.ackMu.Unlock()
	assert.False(t, pending)

	// The resolved ack must not fire the timeout afterwards.
	time.Sleep(80 * time.Millisecond)
	assert.Empty(t, sc.Reconciler.Snapshot().LastError)
}

func TestSendAckTimesOut(t *testing.T) {
	chatID := uuid.New()
	sc := &Client{
		log:         logger.NewNop(),
		Reconciler:  NewReconciler(),
		AckTimeout:  20 * time.Millisecond,
		pendingAcks: make(map[uuid.UUID]chan struct{}),
	}
	sc.Reconciler.SetCurrentChat(chatID)

	sc.trackAck(chatID)

	require.Eventually(t, func() bool {
		return sc.Reconciler.Snapshot().LastError != ""
	}, time.Second, 5*time.Millisecond)
	snap := sc.Reconciler.Snapshot()
	assert.Contains(t, snap.LastError, "timed out")
	assert.False(t, snap.IsThinking)
	assert.False(t, snap.IsStreaming)

	sc.ackMu.Lock()
	_, pending := sc.pendingAcks[chatID]
	sc.ackMu.Unlock()
	assert.False(t, pending)
}
