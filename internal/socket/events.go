package socket

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Client -> server event names.
const (
	EventSubscribe               = "subscribe"
	EventUnsubscribe             = "unsubscribe"
	EventSendMessage             = "send-message"
	EventSendMessageWithImage    = "send-message-with-image"
	EventSendMessageWithDocument = "send-message-with-document"
	EventTyping                  = "typing"
)

// Server -> client event names.
const (
	EventAIResponseStart    = "ai-response-start"
	EventMessageSaved       = "message-saved"
	EventChatTitleUpdated   = "chat-title-updated"
	EventAIResponseChunk    = "ai-response-chunk"
	EventAIResponseComplete = "ai-response-complete"
	EventAIResponseError    = "ai-response-error"
	EventError              = "error"
	EventUserTyping         = "user-typing"
)

// InboundMessage is the single envelope clients send. Data is decoded per
// event.
type InboundMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Message is the outbound envelope. Channel is set only for hub broadcasts;
// events addressed to a single connection leave it empty.
type Message struct {
	Channel string      `json:"channel,omitempty"`
	Event   string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
}

type SubscribePayload struct {
	Channel string `json:"channel"`
}

type SendMessagePayload struct {
	ChatID  uuid.UUID `json:"chatId"`
	Content string    `json:"content"`
}

type SendImagePayload struct {
	ChatID      uuid.UUID `json:"chatId"`
	Content     string    `json:"content"`
	ImageBase64 string    `json:"imageBase64"`
	MimeType    string    `json:"mimeType"`
}

type SendDocumentPayload struct {
	ChatID         uuid.UUID `json:"chatId"`
	Content        string    `json:"content"`
	DocumentBase64 string    `json:"documentBase64"`
	MimeType       string    `json:"mimeType"`
	FileName       string    `json:"fileName"`
}

type TypingPayload struct {
	ChatID   uuid.UUID `json:"chatId"`
	IsTyping bool      `json:"isTyping"`
}

// Every lifecycle event carries the send's correlation id so overlapping
// sends can never cross-deliver to the wrong handler.

type ResponseStartPayload struct {
	ChatID uuid.UUID `json:"chatId"`
	SendID uuid.UUID `json:"sendId"`
}

type MessageSavedPayload struct {
	MessageID uuid.UUID `json:"messageId"`
	ChatID    uuid.UUID `json:"chatId"`
	Content   string    `json:"content"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	SendID    uuid.UUID `json:"sendId"`
}

type TitleUpdatedPayload struct {
	ChatID uuid.UUID `json:"chatId"`
	Title  string    `json:"title"`
	SendID uuid.UUID `json:"sendId"`
}

type ResponseChunkPayload struct {
	ChatID uuid.UUID `json:"chatId"`
	Chunk  string    `json:"chunk"`
	SendID uuid.UUID `json:"sendId"`
}

type ResponseCompletePayload struct {
	ChatID       uuid.UUID `json:"chatId"`
	MessageID    uuid.UUID `json:"messageId"`
	FullResponse string    `json:"fullResponse"`
	CreatedAt    time.Time `json:"createdAt"`
	SendID       uuid.UUID `json:"sendId"`
}

type ResponseErrorPayload struct {
	ChatID uuid.UUID `json:"chatId"`
	Error  string    `json:"error"`
	SendID uuid.UUID `json:"sendId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type UserTypingPayload struct {
	UserID   uuid.UUID `json:"userId"`
	IsTyping bool      `json:"isTyping"`
}

// ChatChannel is the hub channel chat-scoped broadcasts ride on.
func ChatChannel(chatID uuid.UUID) string {
	return "chat:" + chatID.String()
}

// UserChannel is the per-user channel every connection joins at handshake.
func UserChannel(userID uuid.UUID) string {
	return "user:" + userID.String()
}
