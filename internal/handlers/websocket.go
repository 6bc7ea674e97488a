package handlers

import (
  "context"
  "net/http"

  "github.com/gin-gonic/gin"
  "github.com/google/uuid"
  "github.com/gorilla/websocket"

  "github.com/pockettalk/pockettalk-backend/internal/logger"
  "github.com/pockettalk/pockettalk-backend/internal/requestdata"
  "github.com/pockettalk/pockettalk-backend/internal/services"
  "github.com/pockettalk/pockettalk-backend/internal/socket"
)

var upgrader = websocket.Upgrader{
  ReadBufferSize:  4096,
  WriteBufferSize: 4096,
  CheckOrigin: func(r *http.Request) bool {
    return true
  },
}

// WsHandler upgrades an authenticated request to a websocket connection and
// wires up its per-connection coordinator. The connection outlives the HTTP
// request, so the pumps run on a detached context cancelled only when the
// client goes away.
func WsHandler(hub *socket.Hub, chatService services.ChatService, gateway services.ModelGateway, log *logger.Logger) gin.HandlerFunc {
  return func(c *gin.Context) {
    rd := requestdata.GetRequestData(c.Request.Context())
    if rd == nil || rd.UserID == uuid.Nil {
      c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
      return
    }
    conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
    if err != nil {
      log.Warn("Failed to upgrade to websocket", "error", err)
      return
    }
    ctx, cancel := context.WithCancel(context.Background())

    client := socket.NewClient(conn, hub, rd.UserID, cancel, log)
    client.Coordinator = socket.NewCoordinator(log, chatService, gateway, hub, client, rd.UserID)

    hub.Subscribe(client, []string{socket.UserChannel(rd.UserID)})

    go client.WriteLoop(ctx)
    go client.ReadLoop(ctx)
  }
}
