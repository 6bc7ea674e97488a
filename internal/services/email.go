package services

import (
  "context"
  "fmt"
  "os"

  "github.com/sendgrid/sendgrid-go"
  "github.com/sendgrid/sendgrid-go/helpers/mail"

  "github.com/pockettalk/pockettalk-backend/internal/logger"
)

type EmailService interface {
  SendPasswordResetEmail(ctx context.Context, toEmail, resetToken string) error
}

type emailService struct {
  log        *logger.Logger
  client     *sendgrid.Client
  fromEmail  string
  appBaseURL string
}

func NewEmailService(log *logger.Logger) (EmailService, error) {
  serviceLog := log.With("service", "EmailService")
  apiKey := os.Getenv("SENDGRID_API_KEY")
  if apiKey == "" {
    return nil, fmt.Errorf("missing SENDGRID_API_KEY environment variable")
  }
  fromEmail := os.Getenv("SENDGRID_FROM_EMAIL")
  if fromEmail == "" {
    serviceLog.Warn("SENDGRID_FROM_EMAIL not set; using fallback no-reply@pockettalk.app")
    fromEmail = "no-reply@pockettalk.app"
  }
  appBaseURL := os.Getenv("APP_BASE_URL")
  if appBaseURL == "" {
    appBaseURL = "https://pockettalk.app"
  }
  client := sendgrid.NewSendClient(apiKey)

  return &emailService{
    log:        serviceLog,
    client:     client,
    fromEmail:  fromEmail,
    appBaseURL: appBaseURL,
  }, nil
}

func (es *emailService) SendPasswordResetEmail(ctx context.Context, toEmail, resetToken string) error {
  from := mail.NewEmail("PocketTalk", es.fromEmail)
  to := mail.NewEmail("", toEmail)
  resetLink := fmt.Sprintf("%s/reset-password?token=%s", es.appBaseURL, resetToken)
  subject := "Reset your PocketTalk password"
  plainText := fmt.Sprintf("We received a request to reset your password.\n\nOpen this link to choose a new one (valid for 1 hour):\n%s\n\nIf you didn't ask for this, you can ignore this email.", resetLink)
  htmlContent := fmt.Sprintf(`<p>We received a request to reset your password.</p><p><a href="%s">Choose a new password</a> (valid for 1 hour).</p><p>If you didn't ask for this, you can ignore this email.</p>`, resetLink)

  message := mail.NewSingleEmail(from, subject, to, plainText, htmlContent)
  response, err := es.client.SendWithContext(ctx, message)
  if err != nil {
    es.log.Warn("Sendgrid email send failed", "error", err)
    return err
  }
  es.log.Info("Password reset email sent", "to", toEmail, "statusCode", response.StatusCode)
  return nil
}
