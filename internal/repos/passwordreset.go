package repos

import (
  "context"

  "github.com/google/uuid"
  "gorm.io/gorm"

  "github.com/pockettalk/pockettalk-backend/internal/logger"
  "github.com/pockettalk/pockettalk-backend/internal/types"
)

type PasswordResetRepo interface {
  Create(ctx context.Context, tx *gorm.DB, reset *types.PasswordReset) (*types.PasswordReset, error)
  GetByToken(ctx context.Context, tx *gorm.DB, token string) (*types.PasswordReset, error)
  MarkUsed(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type passwordResetRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewPasswordResetRepo(db *gorm.DB, baseLog *logger.Logger) PasswordResetRepo {
  return &passwordResetRepo{
    db:  db,
    log: baseLog.With("repo", "PasswordResetRepo"),
  }
}

func (pr *passwordResetRepo) Create(ctx context.Context, tx *gorm.DB, reset *types.PasswordReset) (*types.PasswordReset, error) {
  if tx == nil {
    tx = pr.db
  }
  if reset.ID == uuid.Nil {
    reset.ID = uuid.New()
  }
  if err := tx.WithContext(ctx).Create(reset).Error; err != nil {
    pr.log.Error("failed to create password reset", "error", err)
    return nil, err
  }
  return reset, nil
}

func (pr *passwordResetRepo) GetByToken(ctx context.Context, tx *gorm.DB, token string) (*types.PasswordReset, error) {
  if tx == nil {
    tx = pr.db
  }
  var reset types.PasswordReset
  if err := tx.WithContext(ctx).
    Where("token = ?", token).
    First(&reset).Error; err != nil {
    return nil, err
  }
  return &reset, nil
}

func (pr *passwordResetRepo) MarkUsed(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
  if tx == nil {
    tx = pr.db
  }
  if err := tx.WithContext(ctx).
    Model(&types.PasswordReset{}).
    Where("id = ?", id).
    Update("used", true).Error; err != nil {
    pr.log.Error("failed to mark password reset used", "error", err)
    return err
  }
  return nil
}
