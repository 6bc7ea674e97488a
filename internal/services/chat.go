package services

import (
  "context"
  "errors"
  "strings"
  "unicode/utf8"

  "github.com/google/uuid"
  "gorm.io/datatypes"
  "gorm.io/gorm"

  "github.com/pockettalk/pockettalk-backend/internal/apperr"
  "github.com/pockettalk/pockettalk-backend/internal/logger"
  "github.com/pockettalk/pockettalk-backend/internal/repos"
  "github.com/pockettalk/pockettalk-backend/internal/types"
)

const (
  // DefaultHistoryLimit bounds the prompt context sent to the provider.
  DefaultHistoryLimit = 10

  // TitleMaxRunes is the auto-title cutoff; longer first messages are
  // truncated and get the ellipsis appended.
  TitleMaxRunes = 50
)

// HistoryTurn is one prior exchange entry in provider-neutral form.
type HistoryTurn struct {
  Role    string `json:"role"`
  Content string `json:"content"`
}

type ChatService interface {
  ListChats(ctx context.Context, userID uuid.UUID) ([]*types.ChatSummary, error)
  CreateChat(ctx context.Context, userID uuid.UUID, title string) (*types.Chat, error)
  GetChat(ctx context.Context, chatID, userID uuid.UUID) (*types.Chat, error)
  RenameChat(ctx context.Context, chatID, userID uuid.UUID, title string) (*types.Chat, error)
  DeleteChat(ctx context.Context, chatID, userID uuid.UUID) error
  ClearMessages(ctx context.Context, chatID, userID uuid.UUID) error
  // EnsureOwned verifies the chat exists and belongs to userID without
  // loading its history.
  EnsureOwned(ctx context.Context, chatID, userID uuid.UUID) error

  GetRecentHistory(ctx context.Context, chatID uuid.UUID, limit int) ([]HistoryTurn, error)
  SaveUserMessage(ctx context.Context, chatID uuid.UUID, content string, metadata datatypes.JSON) (*types.Message, error)
  SaveAssistantMessage(ctx context.Context, chatID uuid.UUID, content string) (*types.Message, error)
  // MaybeAutoTitle derives the chat title from the first user message,
  // exactly once: only while the title still equals the sentinel and the
  // chat holds at most the first exchange.
  MaybeAutoTitle(ctx context.Context, chatID, userID uuid.UUID, userText string) (string, bool, error)
}

type chatService struct {
  db          *gorm.DB
  log         *logger.Logger
  chatRepo    repos.ChatRepo
  messageRepo repos.MessageRepo
}

func NewChatService(db *gorm.DB, log *logger.Logger, chatRepo repos.ChatRepo, messageRepo repos.MessageRepo) ChatService {
  serviceLog := log.With("service", "ChatService")
  return &chatService{
    db:          db,
    log:         serviceLog,
    chatRepo:    chatRepo,
    messageRepo: messageRepo,
  }
}

func (cs *chatService) ListChats(ctx context.Context, userID uuid.UUID) ([]*types.ChatSummary, error) {
  summaries, err := cs.chatRepo.ListWithCounts(ctx, nil, userID)
  if err != nil {
    cs.log.Warn("Failed to list chats, cannot proceed. Returning error.", "error", err)
    return nil, apperr.Wrap(apperr.KindPersistence, "failed to list chats", err)
  }
  return summaries, nil
}

func (cs *chatService) CreateChat(ctx context.Context, userID uuid.UUID, title string) (*types.Chat, error) {
  chat := &types.Chat{
    ID:     uuid.New(),
    UserID: userID,
    Title:  title,
  }
  if _, err := cs.chatRepo.Create(ctx, nil, chat); err != nil {
    cs.log.Warn("Failed to create chat, cannot proceed. Returning error.", "error", err)
    return nil, apperr.Wrap(apperr.KindPersistence, "failed to create chat", err)
  }
  return chat, nil
}

func (cs *chatService) GetChat(ctx context.Context, chatID, userID uuid.UUID) (*types.Chat, error) {
  chat, err := cs.ownedChat(ctx, nil, chatID, userID)
  if err != nil {
    return nil, err
  }
  msgs, err := cs.messageRepo.GetByChatID(ctx, nil, chatID)
  if err != nil {
    cs.log.Warn("Failed to fetch chat messages, cannot proceed. Returning error.", "error", err)
    return nil, apperr.Wrap(apperr.KindPersistence, "failed to fetch chat messages", err)
  }
  chat.Messages = msgs
  return chat, nil
}

func (cs *chatService) RenameChat(ctx context.Context, chatID, userID uuid.UUID, title string) (*types.Chat, error) {
  if title == "" {
    return nil, apperr.Validation("title is required", apperr.FieldError{Field: "title", Message: "title is required"})
  }
  chat, err := cs.ownedChat(ctx, nil, chatID, userID)
  if err != nil {
    return nil, err
  }
  if err := cs.chatRepo.UpdateTitle(ctx, nil, chat.ID, title); err != nil {
    cs.log.Warn("Failed to rename chat, cannot proceed. Returning error.", "error", err)
    return nil, apperr.Wrap(apperr.KindPersistence, "failed to rename chat", err)
  }
  chat.Title = title
  return chat, nil
}

func (cs *chatService) DeleteChat(ctx context.Context, chatID, userID uuid.UUID) error {
  chat, err := cs.ownedChat(ctx, nil, chatID, userID)
  if err != nil {
    return err
  }
  return cs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
    if err := cs.messageRepo.DeleteByChatID(ctx, tx, chat.ID); err != nil {
      cs.log.Warn("Failed to delete chat messages, cannot proceed. Returning error.", "error", err)
      return apperr.Wrap(apperr.KindPersistence, "failed to delete chat messages", err)
    }
    if err := cs.chatRepo.Delete(ctx, tx, chat.ID); err != nil {
      cs.log.Warn("Failed to delete chat, cannot proceed. Returning error.", "error", err)
      return apperr.Wrap(apperr.KindPersistence, "failed to delete chat", err)
    }
    return nil
  })
}

func (cs *chatService) ClearMessages(ctx context.Context, chatID, userID uuid.UUID) error {
  chat, err := cs.ownedChat(ctx, nil, chatID, userID)
  if err != nil {
    return err
  }
  return cs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
    if err := cs.messageRepo.DeleteByChatID(ctx, tx, chat.ID); err != nil {
      cs.log.Warn("Failed to clear chat messages, cannot proceed. Returning error.", "error", err)
      return apperr.Wrap(apperr.KindPersistence, "failed to clear chat messages", err)
    }
    if err := cs.chatRepo.Touch(ctx, tx, chat.ID); err != nil {
      cs.log.Warn("Failed to touch chat after clear, cannot proceed. Returning error.", "error", err)
      return apperr.Wrap(apperr.KindPersistence, "failed to touch chat", err)
    }
    return nil
  })
}

func (cs *chatService) EnsureOwned(ctx context.Context, chatID, userID uuid.UUID) error {
  _, err := cs.ownedChat(ctx, nil, chatID, userID)
  return err
}

func (cs *chatService) GetRecentHistory(ctx context.Context, chatID uuid.UUID, limit int) ([]HistoryTurn, error) {
  if limit <= 0 {
    limit = DefaultHistoryLimit
  }
  msgs, err := cs.messageRepo.GetRecentByChatID(ctx, nil, chatID, limit)
  if err != nil {
    cs.log.Warn("Failed to fetch recent history, cannot proceed. Returning error.", "error", err)
    return nil, apperr.Wrap(apperr.KindPersistence, "failed to fetch recent history", err)
  }
  turns := make([]HistoryTurn, 0, len(msgs))
  for _, m := range msgs {
    turns = append(turns, HistoryTurn{Role: m.Role, Content: m.Content})
  }
  return turns, nil
}

func (cs *chatService) SaveUserMessage(ctx context.Context, chatID uuid.UUID, content string, metadata datatypes.JSON) (*types.Message, error) {
  msg := &types.Message{
    ID:       uuid.New(),
    ChatID:   chatID,
    Role:     types.MessageRoleUser,
    Content:  content,
    Metadata: metadata,
  }
  if err := cs.saveMessage(ctx, msg); err != nil {
    return nil, err
  }
  return msg, nil
}

func (cs *chatService) SaveAssistantMessage(ctx context.Context, chatID uuid.UUID, content string) (*types.Message, error) {
  msg := &types.Message{
    ID:      uuid.New(),
    ChatID:  chatID,
    Role:    types.MessageRoleAssistant,
    Content: content,
  }
  if err := cs.saveMessage(ctx, msg); err != nil {
    return nil, err
  }
  return msg, nil
}

func (cs *chatService) saveMessage(ctx context.Context, msg *types.Message) error {
  return cs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
    if _, err := cs.messageRepo.Create(ctx, tx, msg); err != nil {
      cs.log.Warn("Failed to create message, cannot proceed. Returning error.", "error", err)
      return apperr.Wrap(apperr.KindPersistence, "failed to create message", err)
    }
    if err := cs.chatRepo.Touch(ctx, tx, msg.ChatID); err != nil {
      cs.log.Warn("Failed to touch chat after message, cannot proceed. Returning error.", "error", err)
      return apperr.Wrap(apperr.KindPersistence, "failed to touch chat", err)
    }
    return nil
  })
}

func (cs *chatService) MaybeAutoTitle(ctx context.Context, chatID, userID uuid.UUID, userText string) (string, bool, error) {
  chat, err := cs.ownedChat(ctx, nil, chatID, userID)
  if err != nil {
    return "", false, err
  }
  if chat.Title != types.DefaultChatTitle {
    return chat.Title, false, nil
  }
  count, err := cs.messageRepo.CountByChatID(ctx, nil, chatID)
  if err != nil {
    cs.log.Warn("Failed to count messages for auto-title, cannot proceed. Returning error.", "error", err)
    return "", false, apperr.Wrap(apperr.KindPersistence, "failed to count messages", err)
  }
  // The first exchange holds at most the user turn and the pending reply.
  if count > 2 {
    return chat.Title, false, nil
  }
  title := DeriveTitle(userText)
  if title == "" {
    return chat.Title, false, nil
  }
  if err := cs.chatRepo.UpdateTitle(ctx, nil, chatID, title); err != nil {
    cs.log.Warn("Failed to set auto title, cannot proceed. Returning error.", "error", err)
    return "", false, apperr.Wrap(apperr.KindPersistence, "failed to set auto title", err)
  }
  return title, true, nil
}

// DeriveTitle truncates the first user message to TitleMaxRunes runes,
// appending an ellipsis only when something was cut.
func DeriveTitle(userText string) string {
  userText = strings.TrimSpace(userText)
  if utf8.RuneCountInString(userText) <= TitleMaxRunes {
    return userText
  }
  runes := []rune(userText)
  return string(runes[:TitleMaxRunes]) + "..."
}

func (cs *chatService) ownedChat(ctx context.Context, tx *gorm.DB, chatID, userID uuid.UUID) (*types.Chat, error) {
  chat, err := cs.chatRepo.GetByIDForUser(ctx, tx, chatID, userID)
  if err != nil {
    if errors.Is(err, gorm.ErrRecordNotFound) {
      return nil, apperr.New(apperr.KindNotFound, "chat not found")
    }
    cs.log.Warn("Failed to fetch chat, cannot proceed. Returning error.", "error", err)
    return nil, apperr.Wrap(apperr.KindPersistence, "failed to fetch chat", err)
  }
  return chat, nil
}
