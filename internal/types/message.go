package types

import (
  "time"

  "github.com/google/uuid"
  "gorm.io/datatypes"
)

const (
  MessageRoleUser      = "user"
  MessageRoleAssistant = "assistant"
)

type Message struct {
  ID                  uuid.UUID                 `gorm:"type:uuid;primaryKey" json:"id"`
  ChatID              uuid.UUID                 `gorm:"index;not null" json:"chatID"`
  Chat                *Chat                     `gorm:"constraint:OnDelete:CASCADE;foreignKey:ChatID;references:ID" json:"-"`
  Role                string                    `gorm:"not null;column:role" json:"role"`
  Content             string                    `gorm:"type:text;not null;column:content" json:"content"`
  Metadata            datatypes.JSON            `gorm:"column:metadata" json:"metadata,omitempty"`

  CreatedAt           time.Time                 `gorm:"not null" json:"createdAt"`
  UpdatedAt           time.Time                 `gorm:"not null" json:"updatedAt"`
}

func (Message) TableName() string {
  return "messages"
}
