package socket

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/pockettalk/pockettalk-backend/internal/apperr"
	"github.com/pockettalk/pockettalk-backend/internal/logger"
	"github.com/pockettalk/pockettalk-backend/internal/services"
	"github.com/pockettalk/pockettalk-backend/internal/types"
)

//---------------------------------------------------------------------
// fakes
//---------------------------------------------------------------------

type fakeChatService struct {
	mu sync.Mutex

	ownerByChat map[uuid.UUID]uuid.UUID
	history     []services.HistoryTurn
	saved       []*types.Message

	saveUserErr      error
	saveAssistantErr error

	autoTitle        string
	autoTitleChanged bool
}

func newFakeChatService() *fakeChatService {
	return &fakeChatService{ownerByChat: make(map[uuid.UUID]uuid.UUID)}
}

func (f *fakeChatService) own(chatID, userID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ownerByChat[chatID] = userID
}

func (f *fakeChatService) savedMessages() []*types.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*types.Message, len(f.saved))
	copy(out, f.saved)
	return out
}

func (f *fakeChatService) EnsureOwned(ctx context.Context, chatID, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if owner, ok := f.ownerByChat[chatID]; !ok || owner != userID {
		return apperr.New(apperr.KindNotFound, "chat not found")
	}
	return nil
}

func (f *fakeChatService) GetRecentHistory(ctx context.Context, chatID uuid.UUID, limit int) ([]services.HistoryTurn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history, nil
}

func (f *fakeChatService) SaveUserMessage(ctx context.Context, chatID uuid.UUID, content string, metadata datatypes.JSON) (*types.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveUserErr != nil {
		return nil, f.saveUserErr
	}
	msg := &types.Message{
		ID:        uuid.New(),
		ChatID:    chatID,
		Role:      types.MessageRoleUser,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
	f.saved = append(f.saved, msg)
	return msg, nil
}

func (f *fakeChatService) SaveAssistantMessage(ctx context.Context, chatID uuid.UUID, content string) (*types.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveAssistantErr != nil {
		return nil, f.saveAssistantErr
	}
	msg := &types.Message{
		ID:        uuid.New(),
		ChatID:    chatID,
		Role:      types.MessageRoleAssistant,
		Content:   content,
		CreatedAt: time.Now(),
	}
	f.saved = append(f.saved, msg)
	return msg, nil
}

func (f *fakeChatService) MaybeAutoTitle(ctx context.Context, chatID, userID uuid.UUID, userText string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.autoTitle, f.autoTitleChanged, nil
}

func (f *fakeChatService) ListChats(ctx context.Context, userID uuid.UUID) ([]*types.ChatSummary, error) {
	return nil, nil
}
func (f *fakeChatService) CreateChat(ctx context.Context, userID uuid.UUID, title string) (*types.Chat, error) {
	return nil, nil
}
func (f *fakeChatService) GetChat(ctx context.Context, chatID, userID uuid.UUID) (*types.Chat, error) {
	return nil, nil
}
func (f *fakeChatService) RenameChat(ctx context.Context, chatID, userID uuid.UUID, title string) (*types.Chat, error) {
	return nil, nil
}
func (f *fakeChatService) DeleteChat(ctx context.Context, chatID, userID uuid.UUID) error { return nil }
func (f *fakeChatService) ClearMessages(ctx context.Context, chatID, userID uuid.UUID) error {
	return nil
}

type fakeGateway struct {
	chunks []string
	reply  string
	err    error

	// blockUntil, when set, holds GenerateStream open until closed.
	blockUntil chan struct{}
}

func (g *fakeGateway) Generate(ctx context.Context, prompt string, history []services.HistoryTurn) (string, error) {
	return g.reply, g.err
}

func (g *fakeGateway) GenerateStream(ctx context.Context, prompt string, history []services.HistoryTurn, onDelta func(string) error) error {
	if g.blockUntil != nil {
		select {
		case <-g.blockUntil:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if g.err != nil {
		return g.err
	}
	for _, chunk := range g.chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := onDelta(chunk); err != nil {
			return err
		}
	}
	return nil
}

func (g *fakeGateway) GenerateWithImage(ctx context.Context, prompt string, imageBytes []byte, mimeType string) (string, error) {
	return g.reply, g.err
}

func (g *fakeGateway) GenerateWithDocument(ctx context.Context, prompt string, documentBytes []byte, mimeType, fileName string) (string, error) {
	return g.reply, g.err
}

type emitted struct {
	event   string
	payload interface{}
}

type recorder struct {
	mu     sync.Mutex
	events []emitted
}

func (r *recorder) Emit(event string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, emitted{event: event, payload: payload})
}

func (r *recorder) all() []emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]emitted, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) byEvent(event string) []emitted {
	var out []emitted
	for _, e := range r.all() {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

func newTestCoordinator(chatSvc services.ChatService, gateway services.ModelGateway, rec *recorder, userID uuid.UUID) *Coordinator {
	log := logger.NewNop()
	return NewCoordinator(log, chatSvc, gateway, NewHub(log), rec, userID)
}

//---------------------------------------------------------------------
// tests
//---------------------------------------------------------------------

func TestHandleSendLifecycle(t *testing.T) {
	userID := uuid.New()
	chatID := uuid.New()
	chatSvc := newFakeChatService()
	chatSvc.own(chatID, userID)
	gateway := &fakeGateway{chunks: []string{"Hel", "lo ", "world"}}
	rec := &recorder{}

	co := newTestCoordinator(chatSvc, gateway, rec, userID)
	co.HandleSend(context.Background(), SendMessagePayload{ChatID: chatID, Content: "hi"})

	starts := rec.byEvent(EventAIResponseStart)
	require.Len(t, starts, 1)
	start := starts[0].payload.(ResponseStartPayload)
	assert.Equal(t, chatID, start.ChatID)
	assert.NotEqual(t, uuid.Nil, start.SendID)

	// Chunks arrive in order and concatenate to the final response.
	var concat strings.Builder
	for _, e := range rec.byEvent(EventAIResponseChunk) {
		p := e.payload.(ResponseChunkPayload)
		assert.Equal(t, start.SendID, p.SendID)
		concat.WriteString(p.Chunk)
	}
	assert.Equal(t, "Hello world", concat.String())

	completes := rec.byEvent(EventAIResponseComplete)
	require.Len(t, completes, 1)
	complete := completes[0].payload.(ResponseCompletePayload)
	assert.Equal(t, "Hello world", complete.FullResponse)
	assert.Equal(t, start.SendID, complete.SendID)

	saves := rec.byEvent(EventMessageSaved)
	require.Len(t, saves, 1)
	assert.Equal(t, types.MessageRoleUser, saves[0].payload.(MessageSavedPayload).Role)

	// Start precedes every chunk, and the completion comes last.
	events := rec.all()
	assert.Equal(t, EventAIResponseStart, events[0].event)
	assert.Equal(t, EventAIResponseComplete, events[len(events)-1].event)

	// The user turn was persisted before the assistant turn.
	msgs := chatSvc.savedMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, types.MessageRoleUser, msgs[0].Role)
	assert.Equal(t, types.MessageRoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hello world", msgs[1].Content)

	assert.Empty(t, rec.byEvent(EventAIResponseError))
	assert.Empty(t, rec.byEvent(EventError))
}

func TestHandleSendEmptyContentRejected(t *testing.T) {
	userID := uuid.New()
	chatSvc := newFakeChatService()
	rec := &recorder{}
	co := newTestCoordinator(chatSvc, &fakeGateway{}, rec, userID)

	co.HandleSend(context.Background(), SendMessagePayload{ChatID: uuid.New(), Content: "   "})

	require.Len(t, rec.all(), 1)
	assert.Equal(t, EventError, rec.all()[0].event)
	assert.Empty(t, chatSvc.savedMessages())
}

func TestHandleSendUnownedChat(t *testing.T) {
	userID := uuid.New()
	chatSvc := newFakeChatService() // no chats owned
	rec := &recorder{}
	co := newTestCoordinator(chatSvc, &fakeGateway{chunks: []string{"x"}}, rec, userID)

	co.HandleSend(context.Background(), SendMessagePayload{ChatID: uuid.New(), Content: "hi"})

	// Plain error, no response lifecycle, nothing persisted.
	require.Len(t, rec.byEvent(EventError), 1)
	assert.Empty(t, rec.byEvent(EventAIResponseStart))
	assert.Empty(t, chatSvc.savedMessages())
}

func TestHandleSendGenerationError(t *testing.T) {
	userID := uuid.New()
	chatID := uuid.New()
	chatSvc := newFakeChatService()
	chatSvc.own(chatID, userID)
	gateway := &fakeGateway{err: apperr.New(apperr.KindUpstreamGeneration, "model unavailable")}
	rec := &recorder{}

	co := newTestCoordinator(chatSvc, gateway, rec, userID)
	co.HandleSend(context.Background(), SendMessagePayload{ChatID: chatID, Content: "hi"})

	errs := rec.byEvent(EventAIResponseError)
	require.Len(t, errs, 1)
	assert.Equal(t, "model unavailable", errs[0].payload.(ResponseErrorPayload).Error)
	assert.Empty(t, rec.byEvent(EventAIResponseComplete))

	// The user turn still landed; no assistant turn was written.
	msgs := chatSvc.savedMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, types.MessageRoleUser, msgs[0].Role)
}

func TestHandleSendUserSaveFailure(t *testing.T) {
	userID := uuid.New()
	chatID := uuid.New()
	chatSvc := newFakeChatService()
	chatSvc.own(chatID, userID)
	chatSvc.saveUserErr = apperr.New(apperr.KindPersistence, "db down")
	rec := &recorder{}

	co := newTestCoordinator(chatSvc, &fakeGateway{chunks: []string{"reply"}}, rec, userID)
	co.HandleSend(context.Background(), SendMessagePayload{ChatID: chatID, Content: "hi"})

	// Streaming may have run, but without a durable user turn there is no
	// completion and no assistant row.
	require.Len(t, rec.byEvent(EventAIResponseError), 1)
	assert.Empty(t, rec.byEvent(EventAIResponseComplete))
	assert.Empty(t, rec.byEvent(EventMessageSaved))
	assert.Empty(t, chatSvc.savedMessages())
}

func TestHandleSendRejectsOverlappingSend(t *testing.T) {
	userID := uuid.New()
	chatID := uuid.New()
	chatSvc := newFakeChatService()
	chatSvc.own(chatID, userID)
	gateway := &fakeGateway{chunks: []string{"slow reply"}, blockUntil: make(chan struct{})}
	rec := &recorder{}

	co := newTestCoordinator(chatSvc, gateway, rec, userID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		co.HandleSend(context.Background(), SendMessagePayload{ChatID: chatID, Content: "first"})
	}()

	// Wait for the first send to get past validation and hold the slot.
	require.Eventually(t, func() bool {
		return len(rec.byEvent(EventAIResponseStart)) == 1
	}, time.Second, 5*time.Millisecond)

	co.HandleSend(context.Background(), SendMessagePayload{ChatID: chatID, Content: "second"})

	errs := rec.byEvent(EventAIResponseError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].payload.(ResponseErrorPayload).Error, "already being generated")

	close(gateway.blockUntil)
	<-done

	// Only the first send completed; the reject produced no start and no
	// persisted messages of its own.
	assert.Len(t, rec.byEvent(EventAIResponseStart), 1)
	assert.Len(t, rec.byEvent(EventAIResponseComplete), 1)
	require.Len(t, chatSvc.savedMessages(), 2)
	assert.Equal(t, "first", chatSvc.savedMessages()[0].Content)
}

func TestHandleSendSurvivesDisconnect(t *testing.T) {
	userID := uuid.New()
	chatID := uuid.New()
	chatSvc := newFakeChatService()
	chatSvc.own(chatID, userID)
	gateway := &fakeGateway{chunks: []string{"still ", "here"}, blockUntil: make(chan struct{})}
	rec := &recorder{}

	co := newTestCoordinator(chatSvc, gateway, rec, userID)

	connCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		co.HandleSend(connCtx, SendMessagePayload{ChatID: chatID, Content: "hi"})
	}()

	require.Eventually(t, func() bool {
		return len(rec.byEvent(EventAIResponseStart)) == 1
	}, time.Second, 5*time.Millisecond)

	// The connection drops mid-generation. The pipeline keeps running and
	// both turns still land.
	cancel()
	close(gateway.blockUntil)
	<-done

	assert.Empty(t, rec.byEvent(EventAIResponseError))
	require.Len(t, rec.byEvent(EventAIResponseComplete), 1)
	msgs := chatSvc.savedMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, types.MessageRoleUser, msgs[0].Role)
	assert.Equal(t, types.MessageRoleAssistant, msgs[1].Role)
	assert.Equal(t, "still here", msgs[1].Content)
}

func TestHandleSendEmitsTitleUpdate(t *testing.T) {
	userID := uuid.New()
	chatID := uuid.New()
	chatSvc := newFakeChatService()
	chatSvc.own(chatID, userID)
	chatSvc.autoTitle = "Plan my trip"
	chatSvc.autoTitleChanged = true
	rec := &recorder{}

	co := newTestCoordinator(chatSvc, &fakeGateway{chunks: []string{"ok"}}, rec, userID)
	co.HandleSend(context.Background(), SendMessagePayload{ChatID: chatID, Content: "Plan my trip"})

	titles := rec.byEvent(EventChatTitleUpdated)
	require.Len(t, titles, 1)
	assert.Equal(t, "Plan my trip", titles[0].payload.(TitleUpdatedPayload).Title)
}

func TestHandleSendWithImage(t *testing.T) {
	userID := uuid.New()
	chatID := uuid.New()
	chatSvc := newFakeChatService()
	chatSvc.own(chatID, userID)
	gateway := &fakeGateway{reply: "A photo of a cat."}
	rec := &recorder{}

	co := newTestCoordinator(chatSvc, gateway, rec, userID)
	co.HandleSendWithImage(context.Background(), SendImagePayload{
		ChatID:      chatID,
		Content:     "what is this?",
		ImageBase64: base64.StdEncoding.EncodeToString([]byte{0x89, 0x50, 0x4e, 0x47}),
		MimeType:    "image/png",
	})

	// The single-shot reply still streams out as chunks.
	var concat strings.Builder
	for _, e := range rec.byEvent(EventAIResponseChunk) {
		concat.WriteString(e.payload.(ResponseChunkPayload).Chunk)
	}
	assert.Equal(t, "A photo of a cat.", concat.String())

	completes := rec.byEvent(EventAIResponseComplete)
	require.Len(t, completes, 1)
	assert.Equal(t, "A photo of a cat.", completes[0].payload.(ResponseCompletePayload).FullResponse)

	// The stored user turn is marked as carrying an image.
	msgs := chatSvc.savedMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "[Image attached] what is this?", msgs[0].Content)
	assert.JSONEq(t, `{"attachment":"image","mimeType":"image/png"}`, string(msgs[0].Metadata))
}

func TestHandleSendWithImageRejectsBadBase64(t *testing.T) {
	userID := uuid.New()
	chatSvc := newFakeChatService()
	rec := &recorder{}
	co := newTestCoordinator(chatSvc, &fakeGateway{}, rec, userID)

	co.HandleSendWithImage(context.Background(), SendImagePayload{
		ChatID:      uuid.New(),
		ImageBase64: "not-base64!!!",
		MimeType:    "image/png",
	})

	require.Len(t, rec.byEvent(EventError), 1)
	assert.Empty(t, rec.byEvent(EventAIResponseStart))
}

func TestHandleSendWithDocument(t *testing.T) {
	userID := uuid.New()
	chatID := uuid.New()
	chatSvc := newFakeChatService()
	chatSvc.own(chatID, userID)
	gateway := &fakeGateway{reply: "The report covers Q3 revenue."}
	rec := &recorder{}

	co := newTestCoordinator(chatSvc, gateway, rec, userID)
	co.HandleSendWithDocument(context.Background(), SendDocumentPayload{
		ChatID:         chatID,
		Content:        "summarize",
		DocumentBase64: base64.StdEncoding.EncodeToString([]byte("Q3 revenue was up 12%.")),
		MimeType:       "text/plain",
		FileName:       "report.txt",
	})

	completes := rec.byEvent(EventAIResponseComplete)
	require.Len(t, completes, 1)
	assert.Equal(t, "The report covers Q3 revenue.", completes[0].payload.(ResponseCompletePayload).FullResponse)

	msgs := chatSvc.savedMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "[Document: report.txt] summarize", msgs[0].Content)
}

func TestRechunkSplitsAndPreservesContent(t *testing.T) {
	reply := strings.Repeat("é", rechunkRunes*2+7)
	var chunks []string
	err := rechunk(context.Background(), reply, func(chunk string) error {
		chunks = append(chunks, chunk)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, reply, strings.Join(chunks, ""))
	for _, c := range chunks[:2] {
		assert.Equal(t, rechunkRunes, len([]rune(c)))
	}
}
