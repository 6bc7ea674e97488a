package main

import (
  "fmt"
  "os"
  "strings"
  "time"

  "github.com/joho/godotenv"

  "github.com/pockettalk/pockettalk-backend/internal/db"
  "github.com/pockettalk/pockettalk-backend/internal/handlers"
  "github.com/pockettalk/pockettalk-backend/internal/logger"
  "github.com/pockettalk/pockettalk-backend/internal/middleware"
  "github.com/pockettalk/pockettalk-backend/internal/repos"
  "github.com/pockettalk/pockettalk-backend/internal/server"
  "github.com/pockettalk/pockettalk-backend/internal/services"
  "github.com/pockettalk/pockettalk-backend/internal/socket"
  "github.com/pockettalk/pockettalk-backend/internal/utils"
)

func main() {
  // .env is optional; real deployments inject the environment directly.
  _ = godotenv.Load()

  // Logger Setup
  logMode := os.Getenv("LOG_MODE")
  if logMode == "" {
    logMode = "development"
  }
  log, err := logger.New(logMode)
  if err != nil {
    fmt.Printf("failed to init logger: %v\n", err)
    os.Exit(1)
  }
  defer log.Sync()

  // Environment Variables
  log.Info("Attempting to load environment variables for Main now...")
  jwtSecretKey := utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log)
  sessionTokenTTL := utils.GetEnvAsInt("SESSION_TOKEN_TTL", 604800, log)
  resetTokenTTL := utils.GetEnvAsInt("RESET_TOKEN_TTL", 3600, log)
  redisAddress := utils.GetEnv("REDIS_ADDRESS", "localhost:6379", log)
  redisPassword := utils.GetEnv("REDIS_PASSWORD", "", log)
  corsOrigins := utils.GetEnv("CORS_ALLOW_ORIGINS", "", log)
  log.Debug("Environment variables loaded for Main :)",
    "sessionTokenTTL", sessionTokenTTL,
    "resetTokenTTL", resetTokenTTL,
    "redisAddress", redisAddress,
  )

  // Postgres Setup
  log.Info("Setting Up Postgres from Main now...")
  postgresService, err := db.NewPostgresService(log)
  if err != nil {
    log.Error("DB init failed", "error", err)
    os.Exit(1)
  }
  if err = postgresService.AutoMigrateAll(); err != nil {
    log.Warn("Postgres auto migration failed", "error", err)
  }
  thePG := postgresService.DB()
  log.Info("Postgres Setup From Main Successful :)")

  // Repositories Setup
  log.Info("Setting Up Repositories from Main now...")
  userRepo := repos.NewUserRepo(thePG, log)
  chatRepo := repos.NewChatRepo(thePG, log)
  messageRepo := repos.NewMessageRepo(thePG, log)
  resetRepo := repos.NewPasswordResetRepo(thePG, log)
  log.Info("Repositories Set Up From Main Successful :)")

  // Websocket Setup
  log.Info("Setting Up Websocket Hub From Main Now :)")
  wsHub := socket.NewHub(log)
  log.Info("Websocket Hub Set Up From Main Successful :)")

  // Redis PubSub
  log.Info("Setting Up Redis PubSub From Main Now :)")
  redisChanName := "pockettalk_hub_broadcast"
  redisPubSub, err := socket.NewRedisPubSub(log, redisAddress, redisPassword, redisChanName)
  if err != nil {
    log.Warn("Failed to init redis pubsub", "error", err)
  } else {
    if err := redisPubSub.StartSubscriber(wsHub); err != nil {
      log.Warn("Failed to subscribe to Redis pub/sub", "error", err)
    } else {
      wsHub.SetRedisPubSub(redisPubSub)
      log.Info("Redis pubsub is active!")
    }
  }

  // Services Setup
  log.Info("Setting up Services from Main now...")
  sessionService := services.NewSessionService(log, jwtSecretKey,
    time.Duration(sessionTokenTTL)*time.Second, time.Duration(resetTokenTTL)*time.Second)
  emailService, err := services.NewEmailService(log)
  if err != nil {
    log.Warn("Could not init EmailService, password reset emails disabled", "error", err)
    emailService = nil
  }
  gateway, err := services.NewOpenAIGateway(log)
  if err != nil {
    log.Error("Fatal error: Cannot init model gateway", "error", err)
    os.Exit(1)
  }
  authService := services.NewAuthService(thePG, log, userRepo, resetRepo, sessionService, emailService,
    time.Duration(resetTokenTTL)*time.Second)
  chatService := services.NewChatService(thePG, log, chatRepo, messageRepo)
  log.Info("Services Set Up From Main Successful :)")

  // Handler Setup
  log.Info("Setting Up Handlers from Main now...")
  authHandler := handlers.NewAuthHandler(authService, sessionService)
  chatHandler := handlers.NewChatHandler(log, chatService, gateway)
  wsHandler := handlers.WsHandler(wsHub, chatService, gateway, log)
  log.Info("Handlers Set Up From Main Successful :)")

  // MiddleWare Setup
  authMiddleware := middleware.NewAuthMiddleware(log, sessionService)

  // Router Setup
  log.Info("Setting Up Router from Main now...")
  var allowOrigins []string
  if corsOrigins != "" {
    allowOrigins = strings.Split(corsOrigins, ",")
  }
  router := server.NewRouter(server.RouterConfig{
    AuthHandler:    authHandler,
    AuthMiddleware: authMiddleware,
    ChatHandler:    chatHandler,
    WsHandler:      wsHandler,
    AllowOrigins:   allowOrigins,
  })
  log.Info("Router Set Up From Main Successful :)")

  port := utils.GetEnv("PORT", "8080", log)
  fmt.Printf("Server listening on :%s\n", port)
  if err := router.Run(":" + port); err != nil {
    log.Warn("Server failed", "error", err)
  }

  // On Shutdown
  if redisPubSub != nil {
    redisPubSub.Stop()
  }
}
