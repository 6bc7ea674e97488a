package types

import (
  "time"

  "github.com/google/uuid"
)

type User struct {
  ID                  uuid.UUID                 `gorm:"type:uuid;primaryKey" json:"id"`
  Email               string                    `gorm:"uniqueIndex;not null;column:email" json:"email"`
  Password            string                    `gorm:"not null;column:password" json:"-"`
  DisplayName         string                    `gorm:"column:display_name" json:"displayName"`
  Verified            bool                      `gorm:"not null;default:false;column:verified" json:"verified"`

  Chats               []*Chat                   `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID;references:ID" json:"chats,omitempty"`

  CreatedAt           time.Time                 `gorm:"not null" json:"createdAt"`
  UpdatedAt           time.Time                 `gorm:"not null" json:"updatedAt"`
}

func (User) TableName() string {
  return "users"
}
