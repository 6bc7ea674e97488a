package services

import (
  "time"

  "github.com/golang-jwt/jwt/v5"
  "github.com/google/uuid"

  "github.com/pockettalk/pockettalk-backend/internal/apperr"
  "github.com/pockettalk/pockettalk-backend/internal/logger"
)

// Token type tags. A reset token presented where a session token is expected
// (or vice versa) fails verification even when the signature is valid.
const (
  TokenTypeSession = "session"
  TokenTypeReset   = "password_reset"
)

type SessionClaims struct {
  jwt.RegisteredClaims
  Email     string `json:"email,omitempty"`
  TokenType string `json:"token_type"`
}

// Identity is what a verified token resolves to.
type Identity struct {
  UserID uuid.UUID
  Email  string
}

type SessionService interface {
  IssueSessionToken(userID uuid.UUID, email string) (string, error)
  IssueResetToken(userID uuid.UUID, email string) (string, error)
  // Verify checks signature, expiry and the type tag. Issuance and
  // verification are both stateless.
  Verify(tokenString, wantType string) (*Identity, error)
  SessionTTL() time.Duration
}

type sessionService struct {
  log          *logger.Logger
  jwtSecretKey string
  sessionTTL   time.Duration
  resetTTL     time.Duration
}

func NewSessionService(log *logger.Logger, jwtSecretKey string, sessionTTL, resetTTL time.Duration) SessionService {
  serviceLog := log.With("service", "SessionService")
  return &sessionService{
    log:          serviceLog,
    jwtSecretKey: jwtSecretKey,
    sessionTTL:   sessionTTL,
    resetTTL:     resetTTL,
  }
}

func (ss *sessionService) IssueSessionToken(userID uuid.UUID, email string) (string, error) {
  return ss.issue(userID, email, TokenTypeSession, ss.sessionTTL)
}

func (ss *sessionService) IssueResetToken(userID uuid.UUID, email string) (string, error) {
  return ss.issue(userID, email, TokenTypeReset, ss.resetTTL)
}

func (ss *sessionService) issue(userID uuid.UUID, email, tokenType string, ttl time.Duration) (string, error) {
  claims := SessionClaims{
    RegisteredClaims: jwt.RegisteredClaims{
      Subject:   userID.String(),
      ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
      IssuedAt:  jwt.NewNumericDate(time.Now()),
    },
    Email:     email,
    TokenType: tokenType,
  }
  token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
  return token.SignedString([]byte(ss.jwtSecretKey))
}

func (ss *sessionService) Verify(tokenString, wantType string) (*Identity, error) {
  parsedToken, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
    if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
      return nil, apperr.New(apperr.KindAuth, "unexpected signing method")
    }
    return []byte(ss.jwtSecretKey), nil
  })
  if err != nil {
    return nil, apperr.Wrap(apperr.KindAuth, "invalid or expired token", err)
  }
  claims, ok := parsedToken.Claims.(*SessionClaims)
  if !ok || !parsedToken.Valid {
    return nil, apperr.New(apperr.KindAuth, "invalid or expired token")
  }
  if claims.TokenType != wantType {
    ss.log.Warn("token type mismatch", "want", wantType, "got", claims.TokenType)
    return nil, apperr.New(apperr.KindAuth, "invalid or expired token")
  }
  userID, err := uuid.Parse(claims.Subject)
  if err != nil {
    return nil, apperr.Wrap(apperr.KindAuth, "invalid user id in token", err)
  }
  return &Identity{UserID: userID, Email: claims.Email}, nil
}

func (ss *sessionService) SessionTTL() time.Duration {
  return ss.sessionTTL
}
