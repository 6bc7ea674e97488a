package db

import (
  "fmt"

  "gorm.io/driver/postgres"
  "gorm.io/gorm"

  "github.com/pockettalk/pockettalk-backend/internal/logger"
  "github.com/pockettalk/pockettalk-backend/internal/types"
  "github.com/pockettalk/pockettalk-backend/internal/utils"
)

type PostgresService struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
  serviceLog := log.With("service", "PostgresService")

  //1) Get and Set Environment Variables
  postgresHost := utils.GetEnv("POSTGRES_HOST", "localhost", log)
  postgresPort := utils.GetEnv("POSTGRES_PORT", "5432", log)
  postgresUser := utils.GetEnv("POSTGRES_USER", "postgres", log)
  postgresPassword := utils.GetEnv("POSTGRES_PASSWORD", "", log)
  postgresName := utils.GetEnv("POSTGRES_NAME", "pockettalk", log)

  //2) Construct DSN From Environment Variables
  dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", postgresUser, postgresPassword, postgresHost, postgresPort, postgresName)

  //3) Attempt DB Connection
  serviceLog.Info("Attempting to connect to Postgres DB now...")
  gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
    DisableForeignKeyConstraintWhenMigrating: true,
  })
  if err != nil {
    serviceLog.Error("Failed to connect to Postgres DB", "error", err)
    return nil, fmt.Errorf("failed to connect to Postgres DB: %w", err)
  }
  serviceLog.Info("Successfully connected to Postgres DB")

  return &PostgresService{db: gdb, log: serviceLog}, nil
}

func (s *PostgresService) AutoMigrateAll() error {
  s.log.Info("Starting AutoMigrateAll for all GORM models now...")

  err := s.db.AutoMigrate(
    &types.User{},
    &types.Chat{},
    &types.Message{},
    &types.PasswordReset{},
  )
  if err != nil {
    s.log.Error("AutoMigrateAll failed", "error", err)
    return err
  }

  s.log.Info("Configuring foreign key relationships now...")
  // -- Chat.user_id => users.id (ON DELETE CASCADE)
  if err := s.db.Exec(`
      ALTER TABLE "chats"
      ADD CONSTRAINT "fk_chats_user_id"
      FOREIGN KEY ("user_id")
      REFERENCES "users"("id")
      ON DELETE CASCADE
  `).Error; err != nil {
    return fmt.Errorf("failed to add fk_chats_user_id: %w", err)
  }
  // -- Message.chat_id => chats.id (ON DELETE CASCADE)
  if err := s.db.Exec(`
      ALTER TABLE "messages"
      ADD CONSTRAINT "fk_messages_chat_id"
      FOREIGN KEY ("chat_id")
      REFERENCES "chats"("id")
      ON DELETE CASCADE
  `).Error; err != nil {
    return fmt.Errorf("failed to add fk_messages_chat_id: %w", err)
  }
  // -- PasswordReset.user_id => users.id (ON DELETE CASCADE)
  if err := s.db.Exec(`
      ALTER TABLE "password_resets"
      ADD CONSTRAINT "fk_password_resets_user_id"
      FOREIGN KEY ("user_id")
      REFERENCES "users"("id")
      ON DELETE CASCADE
  `).Error; err != nil {
    return fmt.Errorf("failed to add fk_password_resets_user_id: %w", err)
  }
  s.log.Info("Successfully added foreign key relationships")

  return nil
}

func (s *PostgresService) DB() *gorm.DB {
  return s.db
}
