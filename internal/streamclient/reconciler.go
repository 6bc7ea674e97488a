package streamclient

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/pockettalk/pockettalk-backend/internal/socket"
	"github.com/pockettalk/pockettalk-backend/internal/types"
)

// ChatView is the reconciler's picture of one chat: its title and the
// messages seen so far, in arrival order.
type ChatView struct {
	Title    string
	Messages []socket.MessageSavedPayload
}

// Reconciler folds the server's realtime events into renderable state. It is
// the reference consumer of the event protocol: a UI reads the snapshot after
// each Apply and redraws.
//
// The thinking indicator shows between ai-response-start and the first chunk;
// the streaming buffer accumulates chunks until ai-response-complete swaps it
// for the persisted assistant message.
type Reconciler struct {
	mu sync.Mutex

	currentChatID uuid.UUID
	chats         map[uuid.UUID]*ChatView

	isThinking      bool
	isStreaming     bool
	streamingBuffer string
	activeSendID    uuid.UUID
	lastError       string
}

func NewReconciler() *Reconciler {
	return &Reconciler{chats: make(map[uuid.UUID]*ChatView)}
}

// SetCurrentChat switches the chat whose lifecycle drives the indicator
// flags. Events for other chats still update their ChatView.
func (r *Reconciler) SetCurrentChat(chatID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.currentChatID != chatID {
		r.currentChatID = chatID
		r.isThinking = false
		r.isStreaming = false
		r.streamingBuffer = ""
		r.activeSendID = uuid.Nil
	}
}

// Snapshot is an immutable copy of the indicator state for rendering.
type Snapshot struct {
	CurrentChatID   uuid.UUID
	IsThinking      bool
	IsStreaming     bool
	StreamingBuffer string
	LastError       string
}

func (r *Reconciler) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		CurrentChatID:   r.currentChatID,
		IsThinking:      r.isThinking,
		IsStreaming:     r.isStreaming,
		StreamingBuffer: r.streamingBuffer,
		LastError:       r.lastError,
	}
}

// Chat returns a copy of the view for one chat, or nil if none exists yet.
func (r *Reconciler) Chat(chatID uuid.UUID) *ChatView {
	r.mu.Lock()
	defer r.mu.Unlock()
	view, ok := r.chats[chatID]
	if !ok {
		return nil
	}
	out := &ChatView{Title: view.Title, Messages: make([]socket.MessageSavedPayload, len(view.Messages))}
	copy(out.Messages, view.Messages)
	return out
}

// Apply folds one server event into the state. Unknown events are ignored so
// older clients survive protocol additions.
func (r *Reconciler) Apply(event string, payload json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch event {

	case socket.EventAIResponseStart:
		var p socket.ResponseStartPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decode %s: %w", event, err)
		}
		if p.ChatID == r.currentChatID {
			r.isThinking = true
			r.isStreaming = false
			r.streamingBuffer = ""
			r.activeSendID = p.SendID
			r.lastError = ""
		}

	case socket.EventAIResponseChunk:
		var p socket.ResponseChunkPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decode %s: %w", event, err)
		}
		if p.ChatID == r.currentChatID && p.SendID == r.activeSendID {
			r.isThinking = false
			r.isStreaming = true
			r.streamingBuffer += p.Chunk
		}

	case socket.EventMessageSaved:
		var p socket.MessageSavedPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decode %s: %w", event, err)
		}
		r.chatView(p.ChatID).Messages = append(r.chatView(p.ChatID).Messages, p)

	case socket.EventAIResponseComplete:
		var p socket.ResponseCompletePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decode %s: %w", event, err)
		}
		view := r.chatView(p.ChatID)
		view.Messages = append(view.Messages, socket.MessageSavedPayload{
			MessageID: p.MessageID,
			ChatID:    p.ChatID,
			Content:   p.FullResponse,
			Role:      types.MessageRoleAssistant,
			CreatedAt: p.CreatedAt,
			SendID:    p.SendID,
		})
		if p.ChatID == r.currentChatID && p.SendID == r.activeSendID {
			r.isThinking = false
			r.isStreaming = false
			r.streamingBuffer = ""
			r.activeSendID = uuid.Nil
		}

	case socket.EventAIResponseError:
		var p socket.ResponseErrorPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decode %s: %w", event, err)
		}
		if p.ChatID == r.currentChatID {
			r.isThinking = false
			r.isStreaming = false
			r.streamingBuffer = ""
			r.activeSendID = uuid.Nil
			r.lastError = p.Error
		}

	case socket.EventChatTitleUpdated:
		var p socket.TitleUpdatedPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decode %s: %w", event, err)
		}
		r.chatView(p.ChatID).Title = p.Title

	case socket.EventError:
		var p socket.ErrorPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decode %s: %w", event, err)
		}
		r.lastError = p.Message
	}
	return nil
}

// ReplaceChat swaps in an authoritative server-fetched view wholesale. The
// locally accumulated messages are a rendering optimization; after a
// completed send the owner re-fetches the chat over REST and replaces the
// view through this method.
func (r *Reconciler) ReplaceChat(chatID uuid.UUID, title string, messages []socket.MessageSavedPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	view := &ChatView{Title: title, Messages: make([]socket.MessageSavedPayload, len(messages))}
	copy(view.Messages, messages)
	r.chats[chatID] = view
}

// NoteSendTimeout records that the server never acknowledged a send on
// chatID within the bounded wait. Indicators for the current chat reset so
// the UI stops showing a response that is not coming.
func (r *Reconciler) NoteSendTimeout(chatID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastError = "timed out waiting for the server to acknowledge the send"
	if chatID == r.currentChatID {
		r.isThinking = false
		r.isStreaming = false
		r.streamingBuffer = ""
		r.activeSendID = uuid.Nil
	}
}

func (r *Reconciler) chatView(chatID uuid.UUID) *ChatView {
	view, ok := r.chats[chatID]
	if !ok {
		view = &ChatView{}
		r.chats[chatID] = view
	}
	return view
}
