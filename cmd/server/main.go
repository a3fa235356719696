package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"docent/internal/auth"
	"docent/internal/config"
	"docent/internal/handler"
	"docent/internal/kb"
	"docent/internal/middleware"
	"docent/internal/repository/dynamo"
	"docent/internal/service"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/joho/godotenv"
	"github.com/rs/cors"
)

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	cfg := config.Load()

	// Setup structured logging
	logLevel := slog.LevelInfo
	if cfg.Environment == "dev" {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"knowledge_base_id", cfg.KnowledgeBaseID,
		"model_arn", cfg.ModelARN,
	)

	if cfg.KnowledgeBaseID == "" {
		log.Fatal("KNOWLEDGE_BASE_ID is required")
	}

	ctx := context.Background()
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		log.Fatalf("Failed to load AWS config: %v", err)
	}

	// Knowledge base client (Bedrock agent runtime)
	kbClient := kb.NewBedrockClient(
		bedrockagentruntime.NewFromConfig(awsCfg),
		cfg.KnowledgeBaseID,
		cfg.ModelARN,
		logger,
	)

	// Repositories
	repoConfig := &dynamo.RepositoryConfig{
		Client:        dynamodb.NewFromConfig(awsCfg),
		Table:         cfg.ConversationTable,
		UserTable:     cfg.UserTable,
		DateIndex:     cfg.DateIndex,
		FeedbackIndex: cfg.FeedbackIndex,
		Logger:        logger,
	}
	conversationRepo := dynamo.NewConversationRepository(repoConfig)
	userRepo := dynamo.NewUserRepository(repoConfig)

	// Services
	chatService := service.NewChatService(kbClient, conversationRepo, cfg, logger)
	feedbackService := service.NewFeedbackService(conversationRepo, logger)
	adminService := service.NewAdminService(conversationRepo, logger)
	userService := service.NewUserService(userRepo, logger)

	// Handlers
	chatHandler := handler.NewChatHandler(chatService, cfg.DefaultResults, cfg.KeepAliveInterval, logger)
	feedbackHandler := handler.NewFeedbackHandler(feedbackService, logger)
	adminHandler := handler.NewAdminHandler(adminService, logger)
	userHandler := handler.NewUserHandler(userService, logger)

	// Admin auth (Cognito user pool JWKS)
	var verifier auth.TokenVerifier
	if cfg.CognitoJWKSURL != "" {
		jwtVerifier, err := auth.NewJWTVerifier(cfg.CognitoJWKSURL, logger)
		if err != nil {
			log.Fatalf("Failed to create JWT verifier: %v", err)
		}
		verifier = jwtVerifier
	} else if cfg.Environment == "prod" {
		log.Fatal("COGNITO_JWKS_URL is required in prod")
	} else {
		logger.Warn("admin auth disabled: COGNITO_JWKS_URL not set (NEVER run like this in production!)")
	}
	adminOnly := middleware.RequireAuth(verifier, logger)

	logger.Info("services initialized")

	// HTTP router (Go 1.22+ enhanced patterns)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", chatHandler.Health)

	// Chat + feedback (public, visitor-facing)
	mux.HandleFunc("POST /api/chat", chatHandler.Chat)
	mux.HandleFunc("POST /api/feedback", feedbackHandler.Submit)

	// Visitor contact records
	mux.HandleFunc("POST /api/users", userHandler.Create)
	mux.HandleFunc("GET /api/users/{id}", userHandler.Get)
	mux.HandleFunc("PUT /api/users/{id}", userHandler.Update)
	mux.HandleFunc("DELETE /api/users/{id}", userHandler.Delete)

	// Admin dashboard (Cognito-protected)
	mux.Handle("GET /api/admin/stats", adminOnly(http.HandlerFunc(adminHandler.GetStats)))
	mux.Handle("GET /api/admin/conversations", adminOnly(http.HandlerFunc(adminHandler.ListConversations)))
	mux.Handle("GET /api/admin/conversations/{id}", adminOnly(http.HandlerFunc(adminHandler.GetConversation)))
	mux.Handle("GET /api/admin/feedback-summary", adminOnly(http.HandlerFunc(adminHandler.GetFeedbackSummary)))
	mux.Handle("GET /api/admin/users", adminOnly(http.HandlerFunc(userHandler.List)))

	// Build middleware chain (applied in reverse order, they wrap each other)
	var root http.Handler = mux
	root = middleware.Recovery(logger)(root)

	// CORS - must be outermost to handle OPTIONS pre-flight requests
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization", "Last-Event-ID"},
		AllowCredentials: true,
	})
	root = corsHandler.Handler(root)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // Disabled to allow long-lived SSE streams
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("server listening", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start server: %v", err)
	}
}
