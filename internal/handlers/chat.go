package handlers

import (
  "net/http"
  "strings"

  "github.com/gin-gonic/gin"
  "github.com/google/uuid"

  "github.com/pockettalk/pockettalk-backend/internal/logger"
  "github.com/pockettalk/pockettalk-backend/internal/requestdata"
  "github.com/pockettalk/pockettalk-backend/internal/services"
)

type ChatHandler struct {
  log             *logger.Logger
  chatService     services.ChatService
  gateway         services.ModelGateway
}

func NewChatHandler(log *logger.Logger, chatService services.ChatService, gateway services.ModelGateway) *ChatHandler {
  return &ChatHandler{log: log.With("Handler", "ChatHandler"), chatService: chatService, gateway: gateway}
}

func currentUserID(c *gin.Context) (uuid.UUID, bool) {
  rd := requestdata.GetRequestData(c.Request.Context())
  if rd == nil || rd.UserID == uuid.Nil {
    c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
    return uuid.Nil, false
  }
  return rd.UserID, true
}

func chatIDParam(c *gin.Context) (uuid.UUID, bool) {
  chatID, err := uuid.Parse(c.Param("chatID"))
  if err != nil {
    c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
    return uuid.Nil, false
  }
  return chatID, true
}

func (ch *ChatHandler) List(c *gin.Context) {
  userID, ok := currentUserID(c)
  if !ok {
    return
  }
  chats, err := ch.chatService.ListChats(c.Request.Context(), userID)
  if err != nil {
    abortWithError(c, err)
    return
  }
  c.JSON(http.StatusOK, gin.H{"chats": chats})
}

func (ch *ChatHandler) Create(c *gin.Context) {
  userID, ok := currentUserID(c)
  if !ok {
    return
  }
  var req struct {
    Title           string          `json:"title"`
  }
  if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
    c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
    return
  }
  chat, err := ch.chatService.CreateChat(c.Request.Context(), userID, req.Title)
  if err != nil {
    abortWithError(c, err)
    return
  }
  c.JSON(http.StatusCreated, chat)
}

func (ch *ChatHandler) Get(c *gin.Context) {
  userID, ok := currentUserID(c)
  if !ok {
    return
  }
  chatID, ok := chatIDParam(c)
  if !ok {
    return
  }
  chat, err := ch.chatService.GetChat(c.Request.Context(), chatID, userID)
  if err != nil {
    abortWithError(c, err)
    return
  }
  c.JSON(http.StatusOK, chat)
}

func (ch *ChatHandler) Rename(c *gin.Context) {
  userID, ok := currentUserID(c)
  if !ok {
    return
  }
  chatID, ok := chatIDParam(c)
  if !ok {
    return
  }
  var req struct {
    Title           string          `json:"title"`
  }
  if err := c.ShouldBindJSON(&req); err != nil {
    c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
    return
  }
  chat, err := ch.chatService.RenameChat(c.Request.Context(), chatID, userID, req.Title)
  if err != nil {
    abortWithError(c, err)
    return
  }
  c.JSON(http.StatusOK, chat)
}

func (ch *ChatHandler) Delete(c *gin.Context) {
  userID, ok := currentUserID(c)
  if !ok {
    return
  }
  chatID, ok := chatIDParam(c)
  if !ok {
    return
  }
  if err := ch.chatService.DeleteChat(c.Request.Context(), chatID, userID); err != nil {
    abortWithError(c, err)
    return
  }
  c.JSON(http.StatusOK, gin.H{"message": "chat deleted"})
}

func (ch *ChatHandler) ClearMessages(c *gin.Context) {
  userID, ok := currentUserID(c)
  if !ok {
    return
  }
  chatID, ok := chatIDParam(c)
  if !ok {
    return
  }
  if err := ch.chatService.ClearMessages(c.Request.Context(), chatID, userID); err != nil {
    abortWithError(c, err)
    return
  }
  c.JSON(http.StatusOK, gin.H{"message": "messages cleared"})
}

// Send is the plain-HTTP fallback for clients without a websocket: the reply
// streams back as a chunked text body, flushed per fragment. The realtime
// path through the socket coordinator is the primary surface.
func (ch *ChatHandler) Send(c *gin.Context) {
  userID, ok := currentUserID(c)
  if !ok {
    return
  }
  chatID, ok := chatIDParam(c)
  if !ok {
    return
  }
  var req struct {
    Content         string          `json:"content"`
  }
  if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Content) == "" {
    c.JSON(http.StatusBadRequest, gin.H{"error": "message content is required"})
    return
  }
  ctx := c.Request.Context()
  if err := ch.chatService.EnsureOwned(ctx, chatID, userID); err != nil {
    abortWithError(c, err)
    return
  }
  history, err := ch.chatService.GetRecentHistory(ctx, chatID, services.DefaultHistoryLimit)
  if err != nil {
    ch.log.Warn("history fetch failed, continuing without history", "error", err, "chat", chatID)
    history = nil
  }
  if _, err := ch.chatService.SaveUserMessage(ctx, chatID, req.Content, nil); err != nil {
    abortWithError(c, err)
    return
  }
  if _, _, err := ch.chatService.MaybeAutoTitle(ctx, chatID, userID, req.Content); err != nil {
    ch.log.Warn("auto-title check failed", "error", err, "chat", chatID)
  }

  c.Writer.Header().Set("Content-Type", "text/plain; charset=utf-8")
  c.Writer.Header().Set("X-Accel-Buffering", "no")
  c.Status(http.StatusOK)

  var full strings.Builder
  streamErr := ch.gateway.GenerateStream(ctx, req.Content, services.ShapeHistory(history), func(chunk string) error {
    full.WriteString(chunk)
    if _, err := c.Writer.WriteString(chunk); err != nil {
      return err
    }
    c.Writer.Flush()
    return nil
  })
  if streamErr != nil {
    // No partial assistant message is persisted on generation failure.
    // Headers may already be out; all we can do is end the body.
    ch.log.Warn("generation failed, discarding partial reply", "error", streamErr, "chat", chatID)
    return
  }
  if full.Len() > 0 {
    if _, err := ch.chatService.SaveAssistantMessage(ctx, chatID, full.String()); err != nil {
      ch.log.Warn("assistant message save failed", "error", err, "chat", chatID)
    }
  }
}
