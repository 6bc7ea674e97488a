package streamclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pockettalk/pockettalk-backend/internal/logger"
	"github.com/pockettalk/pockettalk-backend/internal/socket"
)

const (
	dialTimeout = 10 * time.Second

	// How long a send waits for the server to acknowledge it with
	// message-saved (or an error) before the client gives up.
	defaultAckTimeout = 15 * time.Second
)

// wireMessage mirrors socket.Message with the payload left raw so each event
// can be decoded into its own struct.
type wireMessage struct {
	Channel string          `json:"channel,omitempty"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client is a programmatic consumer of the realtime endpoint. The mobile app
// speaks the same protocol; this type backs CLI tooling and integration
// tests.
type Client struct {
	log        *logger.Logger
	conn       *websocket.Conn
	Reconciler *Reconciler

	// REST side of the same server, used for the authoritative chat
	// refetch after ai-response-complete.
	restBase   string
	token      string
	httpClient *http.Client

	// AckTimeout bounds the wait for a send acknowledgement; zero means
	// defaultAckTimeout.
	AckTimeout time.Duration

	ackMu       sync.Mutex
	pendingAcks map[uuid.UUID]chan struct{}
}

// Dial connects to the server's /api/ws endpoint. The session token rides in
// the query string because websocket handshakes cannot carry headers from
// every client environment.
func Dial(ctx context.Context, baseURL, token string, log *logger.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/api/ws"
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial: %w", err)
	}
	if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
		conn.Close()
		return nil, fmt.Errorf("dial: unexpected status %d", resp.StatusCode)
	}
	return &Client{
		log:         log.With("component", "StreamClient"),
		conn:        conn,
		Reconciler:  NewReconciler(),
		restBase:    strings.TrimRight(baseURL, "/"),
		token:       token,
		httpClient:  &http.Client{Timeout: dialTimeout},
		pendingAcks: make(map[uuid.UUID]chan struct{}),
	}, nil
}

// Run reads server events and feeds them to the Reconciler until the
// connection drops or ctx is cancelled. onEvent, when non-nil, observes each
// event after the reconciler has applied it.
func (sc *Client) Run(ctx context.Context, onEvent func(event string, payload json.RawMessage)) error {
	go func() {
		<-ctx.Done()
		sc.conn.Close()
	}()
	for {
		var msg wireMessage
		if err := sc.conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if err := sc.Reconciler.Apply(msg.Event, msg.Payload); err != nil {
			sc.log.Warn("failed to apply event", "event", msg.Event, "error", err)
			continue
		}
		sc.afterApply(ctx, msg.Event, msg.Payload)
		if onEvent != nil {
			onEvent(msg.Event, msg.Payload)
		}
	}
}

// afterApply runs the protocol follow-ups the reconciler alone cannot:
// resolving send acknowledgements and the authoritative refetch that
// replaces the locally accumulated view after a completed send.
func (sc *Client) afterApply(ctx context.Context, event string, payload json.RawMessage) {
	switch event {
	case socket.EventMessageSaved, socket.EventAIResponseError:
		sc.resolveAck(payloadChatID(payload))

	case socket.EventError:
		// Connection-scoped errors carry no chat id; stop every wait.
		sc.resolveAllAcks()

	case socket.EventAIResponseComplete:
		chatID := payloadChatID(payload)
		if chatID == uuid.Nil {
			return
		}
		if err := sc.RefetchChat(ctx, chatID); err != nil {
			sc.log.Warn("failed to refetch chat after completion", "chat", chatID, "error", err)
		}
	}
}

func payloadChatID(payload json.RawMessage) uuid.UUID {
	var p struct {
		ChatID uuid.UUID `json:"chatId"`
	}
	_ = json.Unmarshal(payload, &p)
	return p.ChatID
}

// RefetchChat pulls the full chat over REST and swaps it into the
// Reconciler wholesale, making the server's persisted rows authoritative
// over the streamed approximation.
func (sc *Client) RefetchChat(ctx context.Context, chatID uuid.UUID) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sc.restBase+"/api/chats/"+chatID.String(), nil)
	if err != nil {
		return fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+sc.token)
	resp, err := sc.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch chat: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch chat: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Title    string `json:"title"`
		Messages []struct {
			ID        uuid.UUID `json:"id"`
			ChatID    uuid.UUID `json:"chatID"`
			Role      string    `json:"role"`
			Content   string    `json:"content"`
			CreatedAt time.Time `json:"createdAt"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode chat: %w", err)
	}

	messages := make([]socket.MessageSavedPayload, 0, len(body.Messages))
	for _, m := range body.Messages {
		messages = append(messages, socket.MessageSavedPayload{
			MessageID: m.ID,
			ChatID:    m.ChatID,
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		})
	}
	sc.Reconciler.ReplaceChat(chatID, body.Title, messages)
	return nil
}

//---------------------------------------------------------------------
// send acknowledgement tracking
//---------------------------------------------------------------------

func (sc *Client) ackTimeout() time.Duration {
	if sc.AckTimeout > 0 {
		return sc.AckTimeout
	}
	return defaultAckTimeout
}

// trackAck starts the bounded wait for the server to acknowledge a send on
// chatID. If no message-saved or error lands in time, the reconciler is told
// so the UI stops waiting.
func (sc *Client) trackAck(chatID uuid.UUID) {
	ch := make(chan struct{})
	sc.ackMu.Lock()
	if sc.pendingAcks == nil {
		sc.pendingAcks = make(map[uuid.UUID]chan struct{})
	}
	if _, exists := sc.pendingAcks[chatID]; exists {
		// Overlapping sends on one chat are rejected server-side; the
		// first wait already covers this chat.
		sc.ackMu.Unlock()
		return
	}
	sc.pendingAcks[chatID] = ch
	sc.ackMu.Unlock()

	go func() {
		select {
		case <-ch:
		case <-time.After(sc.ackTimeout()):
			sc.resolveAck(chatID)
			sc.Reconciler.NoteSendTimeout(chatID)
		}
	}()
}

func (sc *Client) resolveAck(chatID uuid.UUID) {
	sc.ackMu.Lock()
	defer sc.ackMu.Unlock()
	if ch, ok := sc.pendingAcks[chatID]; ok {
		close(ch)
		delete(sc.pendingAcks, chatID)
	}
}

func (sc *Client) resolveAllAcks() {
	sc.ackMu.Lock()
	defer sc.ackMu.Unlock()
	for chatID, ch := range sc.pendingAcks {
		close(ch)
		delete(sc.pendingAcks, chatID)
	}
}

func (sc *Client) Close() error {
	return sc.conn.Close()
}

func (sc *Client) writeEvent(event string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	return sc.conn.WriteJSON(socket.InboundMessage{Event: event, Data: raw})
}

// SubscribeChat joins a chat's broadcast channel for typing indicators.
func (sc *Client) SubscribeChat(chatID uuid.UUID) error {
	return sc.writeEvent(socket.EventSubscribe, socket.SubscribePayload{Channel: socket.ChatChannel(chatID)})
}

func (sc *Client) UnsubscribeChat(chatID uuid.UUID) error {
	return sc.writeEvent(socket.EventUnsubscribe, socket.SubscribePayload{Channel: socket.ChatChannel(chatID)})
}

func (sc *Client) SendMessage(chatID uuid.UUID, content string) error {
	return sc.sendTracked(chatID, socket.EventSendMessage,
		socket.SendMessagePayload{ChatID: chatID, Content: content})
}

func (sc *Client) SendMessageWithImage(chatID uuid.UUID, content string, imageBytes []byte, mimeType string) error {
	return sc.sendTracked(chatID, socket.EventSendMessageWithImage, socket.SendImagePayload{
		ChatID:      chatID,
		Content:     content,
		ImageBase64: base64.StdEncoding.EncodeToString(imageBytes),
		MimeType:    mimeType,
	})
}

func (sc *Client) SendMessageWithDocument(chatID uuid.UUID, content string, documentBytes []byte, mimeType, fileName string) error {
	return sc.sendTracked(chatID, socket.EventSendMessageWithDocument, socket.SendDocumentPayload{
		ChatID:         chatID,
		Content:        content,
		DocumentBase64: base64.StdEncoding.EncodeToString(documentBytes),
		MimeType:       mimeType,
		FileName:       fileName,
	})
}

func (sc *Client) sendTracked(chatID uuid.UUID, event string, data interface{}) error {
	sc.trackAck(chatID)
	if err := sc.writeEvent(event, data); err != nil {
		sc.resolveAck(chatID)
		return err
	}
	return nil
}

func (sc *Client) SendTyping(chatID uuid.UUID, isTyping bool) error {
	return sc.writeEvent(socket.EventTyping, socket.TypingPayload{ChatID: chatID, IsTyping: isTyping})
}
