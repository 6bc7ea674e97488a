package repos

import (
  "context"
  "fmt"
  "testing"
  "time"

  "github.com/stretchr/testify/assert"
  "github.com/stretchr/testify/require"
  "gorm.io/datatypes"

  "github.com/pockettalk/pockettalk-backend/internal/types"
)

func seedMessages(t *testing.T, repo MessageRepo, chat *types.Chat, n int) {
  t.Helper()
  base := time.Now().UTC().Add(-time.Hour)
  for i := 0; i < n; i++ {
    _, err := repo.Create(context.Background(), nil, &types.Message{
      ChatID:    chat.ID,
      Role:      types.MessageRoleUser,
      Content:   fmt.Sprintf("message %d", i),
      CreatedAt: base.Add(time.Duration(i) * time.Minute),
    })
    require.NoError(t, err)
  }
}

func TestMessageRepoGetByChatIDChronological(t *testing.T) {
  gdb := newTestDB(t)
  user := createTestUser(t, gdb, "owner@example.com")
  chatRepo := NewChatRepo(gdb, newTestLogger())
  messageRepo := NewMessageRepo(gdb, newTestLogger())

  chat, err := chatRepo.Create(context.Background(), nil, &types.Chat{UserID: user.ID})
  require.NoError(t, err)
  seedMessages(t, messageRepo, chat, 4)

  msgs, err := messageRepo.GetByChatID(context.Background(), nil, chat.ID)
  require.NoError(t, err)
  require.Len(t, msgs, 4)
  for i, m := range msgs {
    assert.Equal(t, fmt.Sprintf("message %d", i), m.Content)
  }
}

func TestMessageRepoGetRecentByChatID(t *testing.T) {
  gdb := newTestDB(t)
  user := createTestUser(t, gdb, "owner@example.com")
  chatRepo := NewChatRepo(gdb, newTestLogger())
  messageRepo := NewMessageRepo(gdb, newTestLogger())

  chat, err := chatRepo.Create(context.Background(), nil, &types.Chat{UserID: user.ID})
  require.NoError(t, err)
  seedMessages(t, messageRepo, chat, 5)

  // Newest two, back in chronological order.
  msgs, err := messageRepo.GetRecentByChatID(context.Background(), nil, chat.ID, 2)
  require.NoError(t, err)
  require.Len(t, msgs, 2)
  assert.Equal(t, "message 3", msgs[0].Content)
  assert.Equal(t, "message 4", msgs[1].Content)
}

func TestMessageRepoCountAndDeleteByChatID(t *testing.T) {
  gdb := newTestDB(t)
  ctx := context.Background()
  user := createTestUser(t, gdb, "owner@example.com")
  chatRepo := NewChatRepo(gdb, newTestLogger())
  messageRepo := NewMessageRepo(gdb, newTestLogger())

  chat, err := chatRepo.Create(ctx, nil, &types.Chat{UserID: user.ID})
  require.NoError(t, err)
  seedMessages(t, messageRepo, chat, 3)

  count, err := messageRepo.CountByChatID(ctx, nil, chat.ID)
  require.NoError(t, err)
  assert.EqualValues(t, 3, count)

  require.NoError(t, messageRepo.DeleteByChatID(ctx, nil, chat.ID))
  count, err = messageRepo.CountByChatID(ctx, nil, chat.ID)
  require.NoError(t, err)
  assert.EqualValues(t, 0, count)
}

func TestMessageRepoPersistsMetadata(t *testing.T) {
  gdb := newTestDB(t)
  ctx := context.Background()
  user := createTestUser(t, gdb, "owner@example.com")
  chatRepo := NewChatRepo(gdb, newTestLogger())
  messageRepo := NewMessageRepo(gdb, newTestLogger())

  chat, err := chatRepo.Create(ctx, nil, &types.Chat{UserID: user.ID})
  require.NoError(t, err)

  _, err = messageRepo.Create(ctx, nil, &types.Message{
    ChatID:   chat.ID,
    Role:     types.MessageRoleUser,
    Content:  "[Image attached] what is this?",
    Metadata: datatypes.JSON(`{"attachment":"image","mimeType":"image/png"}`),
  })
  require.NoError(t, err)

  msgs, err := messageRepo.GetByChatID(ctx, nil, chat.ID)
  require.NoError(t, err)
  require.Len(t, msgs, 1)
  assert.JSONEq(t, `{"attachment":"image","mimeType":"image/png"}`, string(msgs[0].Metadata))
}
