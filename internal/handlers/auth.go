package handlers

import (
  "net/http"

  "github.com/gin-gonic/gin"
  "github.com/google/uuid"

  "github.com/pockettalk/pockettalk-backend/internal/apperr"
  "github.com/pockettalk/pockettalk-backend/internal/requestdata"
  "github.com/pockettalk/pockettalk-backend/internal/services"
  "github.com/pockettalk/pockettalk-backend/internal/types"
)

type AuthHandler struct {
  authService     services.AuthService
  sessionService  services.SessionService
}

func NewAuthHandler(authService services.AuthService, sessionService services.SessionService) *AuthHandler {
  return &AuthHandler{authService: authService, sessionService: sessionService}
}

func userBody(user *types.User) gin.H {
  return gin.H{
    "id":           user.ID,
    "email":        user.Email,
    "display_name": user.DisplayName,
    "created_at":   user.CreatedAt,
  }
}

func abortWithError(c *gin.Context, err error) {
  body := gin.H{"error": apperr.UserMessage(err)}
  if fields := apperr.FieldsOf(err); len(fields) > 0 {
    body["fields"] = fields
  }
  c.JSON(apperr.HTTPStatus(err), body)
}

func (ah *AuthHandler) Register(c *gin.Context) {
  var req struct {
    Email           string          `json:"email"`
    Password        string          `json:"password"`
    DisplayName     string          `json:"display_name"`
  }
  if err := c.ShouldBindJSON(&req); err != nil {
    c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
    return
  }
  user, token, err := ah.authService.Register(c.Request.Context(), req.Email, req.Password, req.DisplayName)
  if err != nil {
    abortWithError(c, err)
    return
  }
  expiresIn := int(ah.sessionService.SessionTTL().Seconds())
  c.JSON(http.StatusCreated, gin.H{"token": token, "expires_in": expiresIn, "user": userBody(user)})
}

func (ah *AuthHandler) Login(c *gin.Context) {
  var req struct {
    Email           string          `json:"email"`
    Password        string          `json:"password"`
  }
  if err := c.ShouldBindJSON(&req); err != nil {
    c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
    return
  }
  user, token, err := ah.authService.Login(c.Request.Context(), req.Email, req.Password)
  if err != nil {
    abortWithError(c, err)
    return
  }
  expiresIn := int(ah.sessionService.SessionTTL().Seconds())
  c.JSON(http.StatusOK, gin.H{"token": token, "expires_in": expiresIn, "user": userBody(user)})
}

// RequestPasswordReset answers 200 whether or not the address is known, so
// the endpoint cannot be used to probe for accounts.
func (ah *AuthHandler) RequestPasswordReset(c *gin.Context) {
  var req struct {
    Email           string          `json:"email"`
  }
  if err := c.ShouldBindJSON(&req); err != nil {
    c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
    return
  }
  if err := ah.authService.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
    abortWithError(c, err)
    return
  }
  c.JSON(http.StatusOK, gin.H{"message": "if the address exists, a reset email has been sent"})
}

func (ah *AuthHandler) CompletePasswordReset(c *gin.Context) {
  var req struct {
    Token           string          `json:"token"`
    NewPassword     string          `json:"new_password"`
  }
  if err := c.ShouldBindJSON(&req); err != nil {
    c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
    return
  }
  if err := ah.authService.CompletePasswordReset(c.Request.Context(), req.Token, req.NewPassword); err != nil {
    abortWithError(c, err)
    return
  }
  c.JSON(http.StatusOK, gin.H{"message": "password updated successfully"})
}

func (ah *AuthHandler) Me(c *gin.Context) {
  rd := requestdata.GetRequestData(c.Request.Context())
  if rd == nil || rd.UserID == uuid.Nil {
    c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
    return
  }
  user, err := ah.authService.GetUser(c.Request.Context(), rd.UserID)
  if err != nil {
    abortWithError(c, err)
    return
  }
  c.JSON(http.StatusOK, userBody(user))
}
