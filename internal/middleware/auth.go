package middleware

import (
  "net/http"
  "strings"

  "github.com/gin-gonic/gin"
  "github.com/google/uuid"

  "github.com/pockettalk/pockettalk-backend/internal/logger"
  "github.com/pockettalk/pockettalk-backend/internal/requestdata"
  "github.com/pockettalk/pockettalk-backend/internal/services"
)

type AuthMiddleware struct {
  log               *logger.Logger
  sessionService    services.SessionService
}

func NewAuthMiddleware(log *logger.Logger, sessionService services.SessionService) *AuthMiddleware {
  middlewareLogger := log.With("Middleware", "AuthMiddleware")
  return &AuthMiddleware{log: middlewareLogger, sessionService: sessionService}
}

func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
  return func(c *gin.Context) {
    tokenString := extractToken(c)
    if tokenString == "" {
      c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid token"})
      return
    }
    identity, err := am.sessionService.Verify(tokenString, services.TokenTypeSession)
    if err != nil {
      c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
      return
    }
    if identity.UserID == uuid.Nil {
      c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
      return
    }
    ctx := requestdata.WithRequestData(c.Request.Context(), &requestdata.RequestData{
      TokenString: tokenString,
      UserID:      identity.UserID,
      Email:       identity.Email,
    })
    c.Request = c.Request.WithContext(ctx)
    c.Next()
  }
}

// extractToken prefers the Authorization header; the query parameter exists
// for the websocket upgrade, where browsers cannot set headers.
func extractToken(c *gin.Context) string {
  authHeader := c.GetHeader("Authorization")
  if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
    return authHeader[7:]
  }
  if qToken := c.Query("token"); qToken != "" {
    return qToken
  }
  return ""
}
