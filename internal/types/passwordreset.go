package types

import (
  "time"

  "github.com/google/uuid"
)

// PasswordReset is a single-use record. Used is set exactly once and never
// cleared; an expired or used row is dead weight until cleanup.
type PasswordReset struct {
  ID                  uuid.UUID                 `gorm:"type:uuid;primaryKey" json:"id"`
  UserID              uuid.UUID                 `gorm:"index;not null" json:"userID"`
  User                *User                     `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID;references:ID" json:"-"`

  Token               string                    `gorm:"uniqueIndex;not null;column:token" json:"-"`
  ExpiresAt           time.Time                 `gorm:"column:expires_at" json:"expiresAt"`
  Used                bool                      `gorm:"not null;default:false" json:"used"`

  CreatedAt           time.Time                 `gorm:"not null" json:"createdAt"`
  UpdatedAt           time.Time                 `gorm:"not null" json:"updatedAt"`
}

func (PasswordReset) TableName() string {
  return "password_resets"
}
