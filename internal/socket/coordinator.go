package socket

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/pockettalk/pockettalk-backend/internal/apperr"
	"github.com/pockettalk/pockettalk-backend/internal/logger"
	"github.com/pockettalk/pockettalk-backend/internal/services"
	"github.com/pockettalk/pockettalk-backend/internal/types"
)

// Emitter is the outbound side of one realtime connection. The concrete
// implementation is *Client; tests substitute a recorder.
type Emitter interface {
	Emit(event string, payload interface{})
}

// Re-chunking parameters for the non-streaming (image/document) paths: the
// single-shot reply is cut into fixed-size pieces and paced so the client
// renders the same incremental UX as true token streaming.
const (
	rechunkRunes = 48
	rechunkDelay = 30 * time.Millisecond
)

// Coordinator owns the realtime send pipeline for one authenticated
// connection. Per send it: validates ownership and fetches bounded history
// concurrently, emits the response lifecycle, persists the user turn in the
// background, streams generation output, and finalizes only after the user
// turn is durably stored so the assistant row never precedes it.
type Coordinator struct {
	log         *logger.Logger
	chatService services.ChatService
	gateway     services.ModelGateway
	hub         *Hub
	emitter     Emitter
	userID      uuid.UUID

	mu       sync.Mutex
	inflight map[uuid.UUID]struct{}
}

func NewCoordinator(log *logger.Logger, chatService services.ChatService, gateway services.ModelGateway,
	hub *Hub, emitter Emitter, userID uuid.UUID) *Coordinator {

	return &Coordinator{
		log:         log.With("component", "Coordinator", "user", userID),
		chatService: chatService,
		gateway:     gateway,
		hub:         hub,
		emitter:     emitter,
		userID:      userID,
		inflight:    make(map[uuid.UUID]struct{}),
	}
}

// savedResult carries the background user-message write to the finalizer.
type savedResult struct {
	msg *types.Message
	err error
}

//---------------------------------------------------------------------
// Send variants
//---------------------------------------------------------------------

func (co *Coordinator) HandleSend(ctx context.Context, p SendMessagePayload) {
	if strings.TrimSpace(p.Content) == "" {
		co.emitter.Emit(EventError, ErrorPayload{Message: "message content is required"})
		return
	}
	co.runSend(ctx, p.ChatID, p.Content, p.Content, nil, func(ctx context.Context, history []services.HistoryTurn, onDelta func(string) error) error {
		return co.gateway.GenerateStream(ctx, p.Content, services.ShapeHistory(history), onDelta)
	})
}

func (co *Coordinator) HandleSendWithImage(ctx context.Context, p SendImagePayload) {
	imageBytes, err := base64.StdEncoding.DecodeString(p.ImageBase64)
	if err != nil || len(imageBytes) == 0 {
		co.emitter.Emit(EventError, ErrorPayload{Message: "invalid image payload"})
		return
	}
	prompt := p.Content
	if strings.TrimSpace(prompt) == "" {
		prompt = "Describe this image."
	}
	stored := "[Image attached] " + prompt
	metadata := datatypes.JSON(fmt.Sprintf(`{"attachment":"image","mimeType":%q}`, p.MimeType))
	co.runSend(ctx, p.ChatID, prompt, stored, metadata, func(ctx context.Context, _ []services.HistoryTurn, onDelta func(string) error) error {
		reply, err := co.gateway.GenerateWithImage(ctx, prompt, imageBytes, p.MimeType)
		if err != nil {
			return err
		}
		return rechunk(ctx, reply, onDelta)
	})
}

func (co *Coordinator) HandleSendWithDocument(ctx context.Context, p SendDocumentPayload) {
	documentBytes, err := base64.StdEncoding.DecodeString(p.DocumentBase64)
	if err != nil || len(documentBytes) == 0 {
		co.emitter.Emit(EventError, ErrorPayload{Message: "invalid document payload"})
		return
	}
	prompt := p.Content
	if strings.TrimSpace(prompt) == "" {
		prompt = "Summarize this document."
	}
	stored := fmt.Sprintf("[Document: %s] %s", p.FileName, prompt)
	metadata := datatypes.JSON(fmt.Sprintf(`{"attachment":"document","mimeType":%q,"fileName":%q}`, p.MimeType, p.FileName))
	co.runSend(ctx, p.ChatID, prompt, stored, metadata, func(ctx context.Context, _ []services.HistoryTurn, onDelta func(string) error) error {
		reply, err := co.gateway.GenerateWithDocument(ctx, prompt, documentBytes, p.MimeType, p.FileName)
		if err != nil {
			return err
		}
		return rechunk(ctx, reply, onDelta)
	})
}

// HandleTyping rebroadcasts to the chat's channel. Stateless; it never
// touches the send pipeline.
func (co *Coordinator) HandleTyping(ctx context.Context, sender *Client, p TypingPayload) {
	co.hub.BroadcastGlobal(ctx, Message{
		Channel: ChatChannel(p.ChatID),
		Event:   EventUserTyping,
		Payload: UserTypingPayload{UserID: co.userID, IsTyping: p.IsTyping},
	}, sender.ID)
}

//---------------------------------------------------------------------
// The send pipeline
//---------------------------------------------------------------------

type generateFn func(ctx context.Context, history []services.HistoryTurn, onDelta func(string) error) error

func (co *Coordinator) runSend(ctx context.Context, chatID uuid.UUID, userText, storedContent string, metadata datatypes.JSON, generate generateFn) {
	// A disconnect must not abort an in-flight generation or its
	// persistence: detach from the connection's cancellation so the turn
	// runs to completion server-side and survives a reconnect.
	ctx = context.WithoutCancel(ctx)

	sendID := uuid.New()

	// One in-flight generation per (chat, connection). A second send on the
	// same chat is rejected before any side effect.
	if !co.acquire(chatID) {
		co.emitter.Emit(EventAIResponseError, ResponseErrorPayload{
			ChatID: chatID,
			Error:  "a response is already being generated for this chat",
			SendID: sendID,
		})
		return
	}
	defer co.release(chatID)

	// Validating: ownership check and bounded history fetch run together.
	var (
		history    []services.HistoryTurn
		historyErr error
		ownErr     error
		wg         sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		ownErr = co.chatService.EnsureOwned(ctx, chatID, co.userID)
	}()
	go func() {
		defer wg.Done()
		history, historyErr = co.chatService.GetRecentHistory(ctx, chatID, services.DefaultHistoryLimit)
	}()
	wg.Wait()

	if ownErr != nil {
		// Before response-start the client was never promised a lifecycle,
		// so this is a plain error, not a response-error.
		co.emitter.Emit(EventError, ErrorPayload{Message: apperr.UserMessage(ownErr)})
		return
	}
	if historyErr != nil {
		co.log.Warn("history fetch failed, continuing without history", "error", historyErr, "chat", chatID)
		history = nil
	}

	// The thinking indicator keys off this event alone; it must not wait for
	// any database round trip.
	co.emitter.Emit(EventAIResponseStart, ResponseStartPayload{ChatID: chatID, SendID: sendID})

	// Background: persist the user turn and run the title check. Both are
	// joined before this function returns; neither gates generation start.
	userSaved := make(chan savedResult, 1)
	go func() {
		msg, err := co.chatService.SaveUserMessage(ctx, chatID, storedContent, metadata)
		if err == nil {
			co.emitter.Emit(EventMessageSaved, MessageSavedPayload{
				MessageID: msg.ID,
				ChatID:    chatID,
				Content:   msg.Content,
				Role:      msg.Role,
				CreatedAt: msg.CreatedAt,
				SendID:    sendID,
			})
		}
		userSaved <- savedResult{msg: msg, err: err}
	}()

	titleDone := make(chan struct{})
	go func() {
		defer close(titleDone)
		title, updated, err := co.chatService.MaybeAutoTitle(ctx, chatID, co.userID, userText)
		if err != nil {
			co.log.Warn("auto-title check failed", "error", err, "chat", chatID)
			return
		}
		if updated {
			co.emitter.Emit(EventChatTitleUpdated, TitleUpdatedPayload{ChatID: chatID, Title: title, SendID: sendID})
		}
	}()

	// AwaitingFirstToken -> Streaming: forward fragments as fast as the
	// provider yields them while accumulating the full reply.
	var full strings.Builder
	genErr := generate(ctx, history, func(chunk string) error {
		full.WriteString(chunk)
		co.emitter.Emit(EventAIResponseChunk, ResponseChunkPayload{ChatID: chatID, Chunk: chunk, SendID: sendID})
		return nil
	})
	if genErr != nil {
		co.log.Warn("generation failed", "error", genErr, "chat", chatID)
		co.failSend(chatID, sendID, genErr, userSaved, titleDone)
		return
	}

	// Finalizing: the assistant row must never land before the user row it
	// answers, so wait for the background write before persisting.
	saved := <-userSaved
	if saved.err != nil {
		co.log.Warn("user message save failed", "error", saved.err, "chat", chatID)
		co.emitter.Emit(EventAIResponseError, ResponseErrorPayload{
			ChatID: chatID,
			Error:  apperr.UserMessage(saved.err),
			SendID: sendID,
		})
		<-titleDone
		return
	}
	assistantMsg, err := co.chatService.SaveAssistantMessage(ctx, chatID, full.String())
	if err != nil {
		co.log.Warn("assistant message save failed", "error", err, "chat", chatID)
		co.emitter.Emit(EventAIResponseError, ResponseErrorPayload{
			ChatID: chatID,
			Error:  apperr.UserMessage(err),
			SendID: sendID,
		})
		<-titleDone
		return
	}
	co.emitter.Emit(EventAIResponseComplete, ResponseCompletePayload{
		ChatID:       chatID,
		MessageID:    assistantMsg.ID,
		FullResponse: assistantMsg.Content,
		CreatedAt:    assistantMsg.CreatedAt,
		SendID:       sendID,
	})
	<-titleDone
}

// failSend reports a post-start failure. No assistant text is persisted; the
// user turn keeps whatever fate its background write reached.
func (co *Coordinator) failSend(chatID, sendID uuid.UUID, genErr error, userSaved <-chan savedResult, titleDone <-chan struct{}) {
	co.emitter.Emit(EventAIResponseError, ResponseErrorPayload{
		ChatID: chatID,
		Error:  apperr.UserMessage(genErr),
		SendID: sendID,
	})
	saved := <-userSaved
	if saved.err != nil {
		co.log.Warn("user message save also failed", "error", saved.err, "chat", chatID)
	}
	<-titleDone
}

func (co *Coordinator) acquire(chatID uuid.UUID) bool {
	co.mu.Lock()
	defer co.mu.Unlock()
	if _, busy := co.inflight[chatID]; busy {
		return false
	}
	co.inflight[chatID] = struct{}{}
	return true
}

func (co *Coordinator) release(chatID uuid.UUID) {
	co.mu.Lock()
	defer co.mu.Unlock()
	delete(co.inflight, chatID)
}

// rechunk cuts a complete reply into fixed-size rune chunks with a small
// pacing delay between them.
func rechunk(ctx context.Context, reply string, onDelta func(string) error) error {
	runes := []rune(reply)
	for start := 0; start < len(runes); start += rechunkRunes {
		end := start + rechunkRunes
		if end > len(runes) {
			end = len(runes)
		}
		if err := onDelta(string(runes[start:end])); err != nil {
			return err
		}
		if end < len(runes) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(rechunkDelay):
			}
		}
	}
	return nil
}
