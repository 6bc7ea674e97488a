package services

import (
  "context"
  "errors"
  "time"

  "github.com/google/uuid"
  "gorm.io/gorm"

  "github.com/pockettalk/pockettalk-backend/internal/apperr"
  "github.com/pockettalk/pockettalk-backend/internal/logger"
  "github.com/pockettalk/pockettalk-backend/internal/repos"
  "github.com/pockettalk/pockettalk-backend/internal/types"
  "github.com/pockettalk/pockettalk-backend/internal/utils"
)

type AuthService interface {
  Register(ctx context.Context, email, password, displayName string) (*types.User, string, error)
  Login(ctx context.Context, email, password string) (*types.User, string, error)
  // RequestPasswordReset never reports whether the address exists; the REST
  // surface answers 200 either way.
  RequestPasswordReset(ctx context.Context, email string) error
  CompletePasswordReset(ctx context.Context, token, newPassword string) error
  GetUser(ctx context.Context, userID uuid.UUID) (*types.User, error)
}

type authService struct {
  db             *gorm.DB
  log            *logger.Logger
  userRepo       repos.UserRepo
  resetRepo      repos.PasswordResetRepo
  sessionService SessionService
  emailService   EmailService
  resetTTL       time.Duration
}

func NewAuthService(
  db *gorm.DB,
  log *logger.Logger,
  userRepo repos.UserRepo,
  resetRepo repos.PasswordResetRepo,
  sessionService SessionService,
  emailService EmailService,
  resetTTL time.Duration,
) AuthService {
  serviceLog := log.With("service", "AuthService")
  return &authService{
    db:             db,
    log:            serviceLog,
    userRepo:       userRepo,
    resetRepo:      resetRepo,
    sessionService: sessionService,
    emailService:   emailService,
    resetTTL:       resetTTL,
  }
}

func (as *authService) Register(ctx context.Context, email, password, displayName string) (*types.User, string, error) {
  email = utils.NormalizeEmail(email)
  if vErr := utils.ValidateRegistration(email, password); vErr != nil {
    return nil, "", vErr
  }
  exists, err := as.userRepo.EmailExists(ctx, nil, email)
  if err != nil {
    as.log.Warn("Failed to check email existence, cannot proceed. Returning error.", "error", err)
    return nil, "", apperr.Wrap(apperr.KindPersistence, "failed to check email", err)
  }
  if exists {
    return nil, "", apperr.Validation("email is already in use", apperr.FieldError{Field: "email", Message: "email is already in use"})
  }
  hashed, err := utils.HashPassword(password)
  if err != nil {
    as.log.Warn("Failed to hash password, cannot proceed. Returning error.", "error", err)
    return nil, "", apperr.Wrap(apperr.KindPersistence, "failed to hash password", err)
  }
  user := &types.User{
    ID:          uuid.New(),
    Email:       email,
    Password:    hashed,
    DisplayName: displayName,
  }
  if _, err := as.userRepo.Create(ctx, nil, user); err != nil {
    as.log.Warn("Failed to create user, cannot proceed. Returning error.", "error", err)
    return nil, "", apperr.Wrap(apperr.KindPersistence, "failed to create user", err)
  }
  token, err := as.sessionService.IssueSessionToken(user.ID, user.Email)
  if err != nil {
    as.log.Warn("Failed to issue session token after register. Returning error.", "error", err)
    return nil, "", apperr.Wrap(apperr.KindPersistence, "failed to issue session token", err)
  }
  return user, token, nil
}

func (as *authService) Login(ctx context.Context, email, password string) (*types.User, string, error) {
  email = utils.NormalizeEmail(email)
  if vErr := utils.ValidateLogin(email, password); vErr != nil {
    return nil, "", vErr
  }
  user, err := as.userRepo.GetByEmail(ctx, nil, email)
  if err != nil {
    if errors.Is(err, gorm.ErrRecordNotFound) {
      return nil, "", apperr.New(apperr.KindAuth, "invalid email or password")
    }
    as.log.Warn("Failed to fetch user by email, cannot proceed. Returning error.", "error", err)
    return nil, "", apperr.Wrap(apperr.KindPersistence, "failed to fetch user", err)
  }
  if !utils.CheckPassword(user.Password, password) {
    return nil, "", apperr.New(apperr.KindAuth, "invalid email or password")
  }
  token, err := as.sessionService.IssueSessionToken(user.ID, user.Email)
  if err != nil {
    as.log.Warn("Failed to issue session token on login. Returning error.", "error", err)
    return nil, "", apperr.Wrap(apperr.KindPersistence, "failed to issue session token", err)
  }
  return user, token, nil
}

func (as *authService) RequestPasswordReset(ctx context.Context, email string) error {
  email = utils.NormalizeEmail(email)
  user, err := as.userRepo.GetByEmail(ctx, nil, email)
  if err != nil {
    // Unknown address: succeed quietly so callers cannot enumerate emails.
    if errors.Is(err, gorm.ErrRecordNotFound) {
      as.log.Debug("Password reset requested for unknown email", "email", email)
      return nil
    }
    as.log.Warn("Failed to fetch user for password reset.", "error", err)
    return nil
  }
  token, err := as.sessionService.IssueResetToken(user.ID, user.Email)
  if err != nil {
    as.log.Warn("Failed to issue reset token.", "error", err)
    return nil
  }
  reset := &types.PasswordReset{
    ID:        uuid.New(),
    UserID:    user.ID,
    Token:     token,
    ExpiresAt: time.Now().Add(as.resetTTL),
  }
  if _, err := as.resetRepo.Create(ctx, nil, reset); err != nil {
    as.log.Warn("Failed to persist password reset record.", "error", err)
    return nil
  }
  if as.emailService != nil {
    if err := as.emailService.SendPasswordResetEmail(ctx, user.Email, token); err != nil {
      as.log.Warn("Failed to send password reset email.", "error", err)
    }
  }
  return nil
}

func (as *authService) CompletePasswordReset(ctx context.Context, token, newPassword string) error {
  if newPassword == "" {
    return apperr.Validation("new password is required", apperr.FieldError{Field: "password", Message: "password is required"})
  }
  if len(newPassword) < 8 {
    return apperr.Validation("password must be at least 8 characters", apperr.FieldError{Field: "password", Message: "password must be at least 8 characters"})
  }
  identity, err := as.sessionService.Verify(token, TokenTypeReset)
  if err != nil {
    return apperr.New(apperr.KindValidation, "invalid or expired reset token")
  }
  return as.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
    reset, err := as.resetRepo.GetByToken(ctx, tx, token)
    if err != nil {
      as.log.Warn("No password reset record for token, cannot proceed. Returning error.", "error", err)
      return apperr.New(apperr.KindValidation, "invalid or expired reset token")
    }
    if reset.Used || time.Now().After(reset.ExpiresAt) {
      return apperr.New(apperr.KindValidation, "invalid or expired reset token")
    }
    hashed, err := utils.HashPassword(newPassword)
    if err != nil {
      as.log.Warn("Failed to hash new password, cannot proceed. Returning error.", "error", err)
      return apperr.Wrap(apperr.KindPersistence, "failed to hash password", err)
    }
    if err := as.userRepo.UpdatePassword(ctx, tx, identity.UserID, hashed); err != nil {
      as.log.Warn("Failed to update password, cannot proceed. Returning error.", "error", err)
      return apperr.Wrap(apperr.KindPersistence, "failed to update password", err)
    }
    if err := as.resetRepo.MarkUsed(ctx, tx, reset.ID); err != nil {
      as.log.Warn("Failed to mark reset used, cannot proceed. Returning error.", "error", err)
      return apperr.Wrap(apperr.KindPersistence, "failed to mark reset used", err)
    }
    return nil
  })
}

func (as *authService) GetUser(ctx context.Context, userID uuid.UUID) (*types.User, error) {
  user, err := as.userRepo.GetByID(ctx, nil, userID)
  if err != nil {
    if errors.Is(err, gorm.ErrRecordNotFound) {
      return nil, apperr.New(apperr.KindNotFound, "user not found")
    }
    return nil, apperr.Wrap(apperr.KindPersistence, "failed to fetch user", err)
  }
  return user, nil
}
