package repos

import (
  "context"
  "time"

  "github.com/google/uuid"
  "gorm.io/gorm"

  "github.com/pockettalk/pockettalk-backend/internal/logger"
  "github.com/pockettalk/pockettalk-backend/internal/types"
)

type ChatRepo interface {
  Create(ctx context.Context, tx *gorm.DB, chat *types.Chat) (*types.Chat, error)
  // GetByIDForUser scopes the lookup to the owner. A chat that exists but
  // belongs to someone else comes back as gorm.ErrRecordNotFound, same as a
  // chat that does not exist at all.
  GetByIDForUser(ctx context.Context, tx *gorm.DB, id, userID uuid.UUID) (*types.Chat, error)
  ListWithCounts(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.ChatSummary, error)
  UpdateTitle(ctx context.Context, tx *gorm.DB, id uuid.UUID, title string) error
  Touch(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
  Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type chatRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewChatRepo(db *gorm.DB, baseLog *logger.Logger) ChatRepo {
  return &chatRepo{
    db:  db,
    log: baseLog.With("repo", "ChatRepo"),
  }
}

func (cr *chatRepo) Create(ctx context.Context, tx *gorm.DB, chat *types.Chat) (*types.Chat, error) {
  if tx == nil {
    tx = cr.db
  }
  if chat.ID == uuid.Nil {
    chat.ID = uuid.New()
  }
  if chat.Title == "" {
    chat.Title = types.DefaultChatTitle
  }
  if err := tx.WithContext(ctx).Create(chat).Error; err != nil {
    cr.log.Error("failed to create chat", "error", err)
    return nil, err
  }
  return chat, nil
}

func (cr *chatRepo) GetByIDForUser(ctx context.Context, tx *gorm.DB, id, userID uuid.UUID) (*types.Chat, error) {
  if tx == nil {
    tx = cr.db
  }
  var c types.Chat
  if err := tx.WithContext(ctx).
    Where("id = ? AND user_id = ?", id, userID).
    First(&c).Error; err != nil {
    return nil, err
  }
  return &c, nil
}

func (cr *chatRepo) ListWithCounts(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.ChatSummary, error) {
  if tx == nil {
    tx = cr.db
  }
  var summaries []*types.ChatSummary
  if err := tx.WithContext(ctx).
    Model(&types.Chat{}).
    Select("chats.*, COUNT(messages.id) AS message_count").
    Joins("LEFT JOIN messages ON messages.chat_id = chats.id").
    Where("chats.user_id = ?", userID).
    Group("chats.id").
    Order("chats.updated_at DESC").
    Find(&summaries).Error; err != nil {
    cr.log.Error("failed to list chats with counts", "error", err)
    return nil, err
  }
  return summaries, nil
}

func (cr *chatRepo) UpdateTitle(ctx context.Context, tx *gorm.DB, id uuid.UUID, title string) error {
  if tx == nil {
    tx = cr.db
  }
  if err := tx.WithContext(ctx).
    Model(&types.Chat{}).
    Where("id = ?", id).
    Updates(map[string]interface{}{"title": title, "updated_at": time.Now()}).Error; err != nil {
    cr.log.Error("failed to update chat title", "error", err)
    return err
  }
  return nil
}

func (cr *chatRepo) Touch(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
  if tx == nil {
    tx = cr.db
  }
  if err := tx.WithContext(ctx).
    Model(&types.Chat{}).
    Where("id = ?", id).
    Update("updated_at", time.Now()).Error; err != nil {
    cr.log.Error("failed to touch chat", "error", err)
    return err
  }
  return nil
}

func (cr *chatRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
  if tx == nil {
    tx = cr.db
  }
  if err := tx.WithContext(ctx).
    Where("id = ?", id).
    Delete(&types.Chat{}).Error; err != nil {
    cr.log.Error("failed to delete chat", "error", err)
    return err
  }
  return nil
}
