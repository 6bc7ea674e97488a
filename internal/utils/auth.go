package utils

import (
  "fmt"
  "net/mail"
  "strings"

  "golang.org/x/crypto/bcrypt"

  "github.com/pockettalk/pockettalk-backend/internal/apperr"
)

func HashPassword(plain string) (string, error) {
  hashed, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
  if err != nil {
    return "", fmt.Errorf("failed to hash password: %w", err)
  }
  return string(hashed), nil
}

func CheckPassword(hashed, plain string) bool {
  return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain)) == nil
}

func NormalizeEmail(email string) string {
  return strings.ToLower(strings.TrimSpace(email))
}

// ValidateRegistration collects field-level problems so the client can show
// them next to the inputs rather than as one blob.
func ValidateRegistration(email, password string) error {
  var fields []apperr.FieldError
  if email == "" {
    fields = append(fields, apperr.FieldError{Field: "email", Message: "email is required"})
  } else if _, err := mail.ParseAddress(email); err != nil {
    fields = append(fields, apperr.FieldError{Field: "email", Message: "email is not a valid address"})
  }
  if password == "" {
    fields = append(fields, apperr.FieldError{Field: "password", Message: "password is required"})
  } else if len(password) < 8 {
    fields = append(fields, apperr.FieldError{Field: "password", Message: "password must be at least 8 characters"})
  }
  if len(fields) > 0 {
    return apperr.Validation("invalid registration input", fields...)
  }
  return nil
}

func ValidateLogin(email, password string) error {
  if email == "" || password == "" {
    return apperr.Validation("email and password are required")
  }
  return nil
}
