package types

import (
  "time"

  "github.com/google/uuid"
)

// DefaultChatTitle is the sentinel title a chat carries until the first
// exchange derives a real one.
const DefaultChatTitle = "New Chat"

type Chat struct {
  ID                  uuid.UUID                 `gorm:"type:uuid;primaryKey" json:"id"`
  UserID              uuid.UUID                 `gorm:"index;not null" json:"userID"`
  User                *User                     `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID;references:ID" json:"-"`
  Title               string                    `gorm:"not null;column:title" json:"title"`

  Messages            []*Message                `gorm:"constraint:OnDelete:CASCADE;foreignKey:ChatID;references:ID" json:"messages,omitempty"`

  CreatedAt           time.Time                 `gorm:"not null" json:"createdAt"`
  UpdatedAt           time.Time                 `gorm:"index;not null" json:"updatedAt"`
}

func (Chat) TableName() string {
  return "chats"
}

// ChatSummary is the listing shape: the chat row plus its message count,
// never the messages themselves.
type ChatSummary struct {
  Chat
  MessageCount int64 `json:"messageCount"`
}
