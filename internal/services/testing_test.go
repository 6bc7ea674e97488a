package services

import (
  "context"
  "testing"

  "github.com/glebarez/sqlite"
  "github.com/google/uuid"
  "github.com/stretchr/testify/require"
  "gorm.io/gorm"
  gormlogger "gorm.io/gorm/logger"

  "github.com/pockettalk/pockettalk-backend/internal/logger"
  "github.com/pockettalk/pockettalk-backend/internal/repos"
  "github.com/pockettalk/pockettalk-backend/internal/types"
)

func newTestDB(t *testing.T) *gorm.DB {
  t.Helper()
  gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
    Logger: gormlogger.Default.LogMode(gormlogger.Silent),
  })
  require.NoError(t, err)
  require.NoError(t, gdb.AutoMigrate(
    &types.User{},
    &types.Chat{},
    &types.Message{},
    &types.PasswordReset{},
  ))
  return gdb
}

type testEnv struct {
  db          *gorm.DB
  log         *logger.Logger
  userRepo    repos.UserRepo
  chatRepo    repos.ChatRepo
  messageRepo repos.MessageRepo
  resetRepo   repos.PasswordResetRepo
}

func newTestEnv(t *testing.T) *testEnv {
  t.Helper()
  gdb := newTestDB(t)
  log := logger.NewNop()
  return &testEnv{
    db:          gdb,
    log:         log,
    userRepo:    repos.NewUserRepo(gdb, log),
    chatRepo:    repos.NewChatRepo(gdb, log),
    messageRepo: repos.NewMessageRepo(gdb, log),
    resetRepo:   repos.NewPasswordResetRepo(gdb, log),
  }
}

func (env *testEnv) chatService() ChatService {
  return NewChatService(env.db, env.log, env.chatRepo, env.messageRepo)
}

func (env *testEnv) createUser(t *testing.T, email string) *types.User {
  t.Helper()
  user, err := env.userRepo.Create(context.Background(), nil, &types.User{
    Email:    email,
    Password: "hashed",
  })
  require.NoError(t, err)
  return user
}

func (env *testEnv) createChat(t *testing.T, userID uuid.UUID, title string) *types.Chat {
  t.Helper()
  chat, err := env.chatRepo.Create(context.Background(), nil, &types.Chat{UserID: userID, Title: title})
  require.NoError(t, err)
  return chat
}
