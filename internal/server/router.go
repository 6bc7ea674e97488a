package server

import (
  "github.com/gin-contrib/cors"
  "github.com/gin-gonic/gin"

  "github.com/pockettalk/pockettalk-backend/internal/handlers"
  "github.com/pockettalk/pockettalk-backend/internal/middleware"
)

type RouterConfig struct {
  AuthHandler           *handlers.AuthHandler
  AuthMiddleware        *middleware.AuthMiddleware
  ChatHandler           *handlers.ChatHandler
  WsHandler             gin.HandlerFunc
  AllowOrigins          []string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
  router := gin.Default()

  //-----------------------------------------
  // Cors Setup
  //-----------------------------------------
  allowOrigins := cfg.AllowOrigins
  if len(allowOrigins) == 0 {
    allowOrigins = []string{
      "http://localhost:3000",
      "https://pockettalk.app",
      "https://www.pockettalk.app",
    }
  }
  router.Use(cors.New(cors.Config{
    AllowOrigins:     allowOrigins,
    AllowMethods:     []string{"GET","POST","PUT","DELETE","PATCH","OPTIONS"},
    AllowHeaders:     []string{"Authorization","Content-Type","X-Requested-With"},
    AllowCredentials: true,
  }))

  //-----------------------------------------
  // Health Routes
  //-----------------------------------------
  router.GET("/healthz", handlers.Healthz)

  //-----------------------------------------
  // Public Routes
  //-----------------------------------------
  api := router.Group("/api")
  {
    api.POST("/register", cfg.AuthHandler.Register)
    api.POST("/login", cfg.AuthHandler.Login)
    api.POST("/password-reset/request", cfg.AuthHandler.RequestPasswordReset)
    api.POST("/password-reset/complete", cfg.AuthHandler.CompletePasswordReset)
  }

  //------------------------------------------
  // Protected Routes
  //------------------------------------------
  protected := api.Group("/")
  protected.Use(cfg.AuthMiddleware.RequireAuth())
  protected.GET("/ws", cfg.WsHandler)

  //ME
  protected.GET("/me", cfg.AuthHandler.Me)

  //Chats
  protected.GET("/chats", cfg.ChatHandler.List)
  protected.POST("/chats", cfg.ChatHandler.Create)
  protected.GET("/chats/:chatID", cfg.ChatHandler.Get)
  protected.PATCH("/chats/:chatID", cfg.ChatHandler.Rename)
  protected.DELETE("/chats/:chatID", cfg.ChatHandler.Delete)
  protected.DELETE("/chats/:chatID/messages", cfg.ChatHandler.ClearMessages)
  protected.POST("/chats/:chatID/messages", cfg.ChatHandler.Send)

  return router
}
