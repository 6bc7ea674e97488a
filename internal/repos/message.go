package repos

import (
  "context"

  "github.com/google/uuid"
  "gorm.io/gorm"

  "github.com/pockettalk/pockettalk-backend/internal/logger"
  "github.com/pockettalk/pockettalk-backend/internal/types"
)

type MessageRepo interface {
  Create(ctx context.Context, tx *gorm.DB, msg *types.Message) (*types.Message, error)
  GetByChatID(ctx context.Context, tx *gorm.DB, chatID uuid.UUID) ([]*types.Message, error)
  // GetRecentByChatID returns the newest limit messages, reordered
  // oldest-first so they can feed the provider's turn format directly.
  GetRecentByChatID(ctx context.Context, tx *gorm.DB, chatID uuid.UUID, limit int) ([]*types.Message, error)
  CountByChatID(ctx context.Context, tx *gorm.DB, chatID uuid.UUID) (int64, error)
  DeleteByChatID(ctx context.Context, tx *gorm.DB, chatID uuid.UUID) error
}

type messageRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewMessageRepo(db *gorm.DB, baseLog *logger.Logger) MessageRepo {
  return &messageRepo{
    db:  db,
    log: baseLog.With("repo", "MessageRepo"),
  }
}

func (mr *messageRepo) Create(ctx context.Context, tx *gorm.DB, msg *types.Message) (*types.Message, error) {
  if tx == nil {
    tx = mr.db
  }
  if msg.ID == uuid.Nil {
    msg.ID = uuid.New()
  }
  if err := tx.WithContext(ctx).Create(msg).Error; err != nil {
    mr.log.Error("failed to create message", "error", err)
    return nil, err
  }
  return msg, nil
}

func (mr *messageRepo) GetByChatID(ctx context.Context, tx *gorm.DB, chatID uuid.UUID) ([]*types.Message, error) {
  if tx == nil {
    tx = mr.db
  }
  var msgs []*types.Message
  if err := tx.WithContext(ctx).
    Where("chat_id = ?", chatID).
    Order("created_at ASC").
    Find(&msgs).Error; err != nil {
    mr.log.Error("failed to get messages by chat id", "error", err)
    return nil, err
  }
  return msgs, nil
}

func (mr *messageRepo) GetRecentByChatID(ctx context.Context, tx *gorm.DB, chatID uuid.UUID, limit int) ([]*types.Message, error) {
  if tx == nil {
    tx = mr.db
  }
  var msgs []*types.Message
  if err := tx.WithContext(ctx).
    Where("chat_id = ?", chatID).
    Order("created_at DESC").
    Limit(limit).
    Find(&msgs).Error; err != nil {
    mr.log.Error("failed to get recent messages by chat id", "error", err)
    return nil, err
  }
  // reverse into chronological order
  for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
    msgs[i], msgs[j] = msgs[j], msgs[i]
  }
  return msgs, nil
}

func (mr *messageRepo) CountByChatID(ctx context.Context, tx *gorm.DB, chatID uuid.UUID) (int64, error) {
  if tx == nil {
    tx = mr.db
  }
  var count int64
  if err := tx.WithContext(ctx).
    Model(&types.Message{}).
    Where("chat_id = ?", chatID).
    Count(&count).Error; err != nil {
    return 0, err
  }
  return count, nil
}

func (mr *messageRepo) DeleteByChatID(ctx context.Context, tx *gorm.DB, chatID uuid.UUID) error {
  if tx == nil {
    tx = mr.db
  }
  if err := tx.WithContext(ctx).
    Where("chat_id = ?", chatID).
    Delete(&types.Message{}).Error; err != nil {
    mr.log.Error("failed to delete messages by chat id", "error", err)
    return err
  }
  return nil
}
