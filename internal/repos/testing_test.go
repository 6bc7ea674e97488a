package repos

import (
  "context"
  "testing"

  "github.com/glebarez/sqlite"
  "github.com/stretchr/testify/require"
  "gorm.io/gorm"
  gormlogger "gorm.io/gorm/logger"

  "github.com/pockettalk/pockettalk-backend/internal/logger"
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

func newTestLogger() *logger.Logger {
  return logger.NewNop()
}

func createTestUser(t *testing.T, gdb *gorm.DB, email string) *types.User {
  t.Helper()
  user := &types.User{Email: email, Password: "hashed"}
  repo := NewUserRepo(gdb, newTestLogger())
  created, err := repo.Create(context.Background(), nil, user)
  require.NoError(t, err)
  return created
}
