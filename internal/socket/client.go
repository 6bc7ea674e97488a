package socket

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pockettalk/pockettalk-backend/internal/logger"
)

const (
	OutboundChanBuffer = 256

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client is one authenticated websocket connection. It owns the read and
// write pumps and hands chat events to its per-connection Coordinator.
type Client struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Conn        *websocket.Conn
	Hub         *Hub
	Log         *logger.Logger
	Coordinator *Coordinator

	cancelFn context.CancelFunc
	Outbound chan Message

	mu     sync.Mutex
	closed bool
}

// NewClient constructs a fully-initialised Client. The cancel function comes
// from the handler so the HTTP context can finish while the WS lives on.
func NewClient(conn *websocket.Conn, hub *Hub, userID uuid.UUID,
	cancel context.CancelFunc, log *logger.Logger) *Client {

	return &Client{
		ID:       uuid.New(),
		UserID:   userID,
		Conn:     conn,
		Hub:      hub,
		Log:      log,
		cancelFn: cancel,
		Outbound: make(chan Message, OutboundChanBuffer),
	}
}

func (c *Client) ReadLoop(ctx context.Context)  { c.readLoop(ctx) }
func (c *Client) WriteLoop(ctx context.Context) { c.writeLoop(ctx) }

// Emit queues a single-connection event. Satisfies the Coordinator's
// Emitter; emitting to a closed connection is a silent no-op so an in-flight
// generation can finish after a disconnect.
func (c *Client) Emit(event string, payload interface{}) {
	c.send(Message{Event: event, Payload: payload})
}

func (c *Client) send(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.Outbound <- msg:
	default:
		c.Log.Warn("Dropping message to client; outbound buffer full", "client", c.ID, "event", msg.Event)
	}
}

//---------------------------------------------------------------------
// readLoop – inbound → Coordinator / Hub
//---------------------------------------------------------------------
func (c *Client) readLoop(ctx context.Context) {
	defer c.close()

	c.Conn.SetReadLimit(16 << 20) // attachments ride the socket base64-encoded
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return

		default:
			_, data, err := c.Conn.ReadMessage()
			if err != nil {
				if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
					c.Log.Debug("websocket read error, closing client", "error", err)
					return
				}
				continue
			}

			var inbound InboundMessage
			if err := json.Unmarshal(data, &inbound); err != nil {
				c.Log.Debug("failed to unmarshal inbound message",
					"error", err, "raw", string(data))
				continue
			}
			c.dispatch(ctx, inbound)
		}
	}
}

func (c *Client) dispatch(ctx context.Context, inbound InboundMessage) {
	switch inbound.Event {
	case EventSubscribe:
		var p SubscribePayload
		if err := json.Unmarshal(inbound.Data, &p); err == nil && p.Channel != "" {
			c.Hub.Subscribe(c, []string{p.Channel})
		}

	case EventUnsubscribe:
		var p SubscribePayload
		if err := json.Unmarshal(inbound.Data, &p); err == nil && p.Channel != "" {
			c.Hub.UnsubscribeFromChannel(c, p.Channel)
		}

	case EventSendMessage:
		var p SendMessagePayload
		if err := json.Unmarshal(inbound.Data, &p); err != nil {
			c.Emit(EventError, ErrorPayload{Message: "malformed send-message payload"})
			return
		}
		// generation is long-running; never block the read pump on it
		go c.Coordinator.HandleSend(ctx, p)

	case EventSendMessageWithImage:
		var p SendImagePayload
		if err := json.Unmarshal(inbound.Data, &p); err != nil {
			c.Emit(EventError, ErrorPayload{Message: "malformed send-message-with-image payload"})
			return
		}
		go c.Coordinator.HandleSendWithImage(ctx, p)

	case EventSendMessageWithDocument:
		var p SendDocumentPayload
		if err := json.Unmarshal(inbound.Data, &p); err != nil {
			c.Emit(EventError, ErrorPayload{Message: "malformed send-message-with-document payload"})
			return
		}
		go c.Coordinator.HandleSendWithDocument(ctx, p)

	case EventTyping:
		var p TypingPayload
		if err := json.Unmarshal(inbound.Data, &p); err != nil {
			return
		}
		c.Coordinator.HandleTyping(ctx, c, p)

	default:
		c.Log.Debug("inbound WS message unhandled", "client", c.ID, "event", inbound.Event)
	}
}

//---------------------------------------------------------------------
// writeLoop – Hub/Coordinator → outbound
//---------------------------------------------------------------------
func (c *Client) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-ctx.Done():
			c.Log.Debug("writeLoop ctx done, shutting down", "client", c.ID)
			return

		case msg, ok := <-c.Outbound:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.writeJSON(msg); err != nil {
				c.Log.Warn("failed writing JSON", "client", c.ID, "error", err)
				return
			}

		case <-ticker.C: // keep-alive ping
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Log.Debug("ping error, shutting down", "client", c.ID, "error", err)
				return
			}
		}
	}
}

func (c *Client) writeJSON(v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w, err := c.Conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	if _, err = w.Write(payload); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (c *Client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.Log.Debug("closing client connection", "client", c.ID)
	if c.cancelFn != nil {
		c.cancelFn() // stop the sibling pump
	}
	_ = c.Conn.Close()
	close(c.Outbound)
	c.Hub.Unsubscribe(c)
}
