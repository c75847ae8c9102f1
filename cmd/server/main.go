package main

import (
	"context"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"arbor/internal/auth"
	"arbor/internal/blob"
	"arbor/internal/capabilities"
	"arbor/internal/config"
	"arbor/internal/credentials"
	"arbor/internal/handler"
	"arbor/internal/handler/sse"
	"arbor/internal/httputil"
	"arbor/internal/middleware"
	"arbor/internal/repository/memory"
	"arbor/internal/repository/postgres"
	postgresConv "arbor/internal/repository/postgres/conv"
	"arbor/internal/scheduler"
	"arbor/internal/service/branch"
	"arbor/internal/service/chat"
	"arbor/internal/service/imagegen"
	"arbor/internal/service/multi"
	"arbor/internal/service/provider"
	"arbor/internal/service/search"
	"arbor/internal/service/streaming"

	"arbor/internal/domain/repositories"
)

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	cfg := config.Load()

	// Setup structured logging
	logLevel := slog.LevelInfo
	if cfg.Debug {
		logLevel = slog.LevelDebug
	}

	var logOut io.Writer = os.Stdout
	if cfg.Environment == "dev" {
		if f, err := config.SetupLogFile("./logs", 5); err == nil {
			defer f.Close()
			logOut = io.MultiWriter(os.Stdout, f)
		} else {
			slog.Warn("log file setup failed, logging to stdout only", "error", err)
		}
	}

	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"table_prefix", cfg.TablePrefix,
	)

	// JWT verifier. Without a JWKS URL the server runs in dev mode and
	// accepts every request as a single local user.
	var jwtVerifier auth.JWTVerifier
	if cfg.JWKSURL == "" {
		jwtVerifier = auth.NewDevVerifier("dev-user", logger)
	} else {
		var err error
		jwtVerifier, err = auth.NewJWTVerifier(cfg.JWKSURL, logger)
		if err != nil {
			log.Fatalf("Failed to create JWT verifier: %v", err)
		}
	}
	defer jwtVerifier.Close()

	ctx := context.Background()

	// Repositories. DATABASE_URL selects Postgres; without it everything
	// lives in process memory, which is enough for local development.
	var (
		chatRepo   repositories.ChatRepository
		branchRepo repositories.BranchRepository
		msgRepo    repositories.MessageRepository
		txManager  repositories.TransactionManager
		credStore  credentials.UserKeyStore
	)
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory store (state is lost on restart)")
		store := memory.NewStore()
		chatRepo = store.Chats()
		branchRepo = store.Branches()
		msgRepo = store.Messages()
		txManager = store.TxManager()
		credStore = memory.NewCredentialStore()
	} else {
		pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to create connection pool: %v", err)
		}
		defer pool.Close()

		logger.Info("database connected",
			"max_conns", 25,
			"min_conns", 5,
		)

		repoConfig := &postgres.RepositoryConfig{
			Pool:   pool,
			Tables: postgres.NewTableNames(cfg.TablePrefix),
			Logger: logger,
		}
		chatRepo = postgresConv.NewChatRepository(repoConfig)
		branchRepo = postgresConv.NewBranchRepository(repoConfig)
		msgRepo = postgresConv.NewMessageRepository(repoConfig)
		txManager = postgres.NewTransactionManager(pool)
		credStore = postgres.NewCredentialStore(repoConfig)
	}

	// Initialize capability registry
	capabilityRegistry, err := capabilities.NewRegistry()
	if err != nil {
		log.Fatalf("Failed to initialize capability registry: %v", err)
	}
	logger.Info("capability registry initialized")

	// Attachment blob storage and per-provider upload cache
	blobStore, err := blob.NewFSStore(cfg.BlobDir)
	if err != nil {
		log.Fatalf("Failed to create blob store: %v", err)
	}
	uploads := provider.NewUploadCache(blobStore, logger)

	// Provider credentials: environment defaults overridden per user
	keyResolver := credentials.NewLayeredResolver(credentials.NewStaticResolver(cfg), credStore)

	// Streaming infrastructure
	streamRegistry := streaming.NewRegistry()
	orchestrator := streaming.NewOrchestrator(streamRegistry, logger)
	coordinator := multi.NewCoordinator(msgRepo, orchestrator, streamRegistry, logger)

	branches := branch.NewManager(chatRepo, branchRepo, msgRepo, logger)

	// No client timeout: provider streams are long-lived and bounded by
	// request contexts instead.
	httpClient := &http.Client{}

	searcher := search.NewSearcher(cfg.TavilyAPIKey, cfg.SerperAPIKey, httpClient, logger)
	images := imagegen.NewGenerator(capabilityRegistry, logger)

	jobs := scheduler.New(logger)
	defer jobs.Close()

	chatService := chat.NewService(chat.Deps{
		ChatRepo:     chatRepo,
		BranchRepo:   branchRepo,
		MessageRepo:  msgRepo,
		TxManager:    txManager,
		Branches:     branches,
		Registry:     streamRegistry,
		Orchestrator: orchestrator,
		Coordinator:  coordinator,
		Capabilities: capabilityRegistry,
		Credentials:  keyResolver,
		Uploads:      uploads,
		Searcher:     searcher,
		Images:       images,
		Scheduler:    jobs,
		HTTPClient:   httpClient,
		DefaultModel: cfg.DefaultModel,
		Logger:       logger,
	})

	// Handlers
	chatHandler := handler.NewChatHandler(chatService, logger)
	messageHandler := handler.NewMessageHandler(chatService, logger)
	streamHandler := handler.NewStreamHandler(chatService, streamRegistry, sse.DefaultConfig(), logger)
	modelsHandler := handler.NewModelsHandler(capabilityRegistry, logger)
	credentialsHandler := handler.NewCredentialsHandler(credStore, logger)

	logger.Info("services initialized")

	// Create HTTP router (Go 1.22+ enhanced patterns)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		httputil.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Chat routes
	mux.HandleFunc("POST /api/v1/chats", chatHandler.CreateChat)
	mux.HandleFunc("GET /api/v1/chats", chatHandler.ListChats)
	mux.HandleFunc("GET /api/v1/chats/{id}", chatHandler.GetChat)
	mux.HandleFunc("PATCH /api/v1/chats/{id}", chatHandler.UpdateChat)
	mux.HandleFunc("DELETE /api/v1/chats/{id}", chatHandler.DeleteChat)
	mux.HandleFunc("GET /api/v1/chats/{id}/messages", chatHandler.GetTranscript)
	mux.HandleFunc("POST /api/v1/chats/{id}/messages", messageHandler.SendMessage)
	mux.HandleFunc("POST /api/v1/chats/{id}/branch", chatHandler.SwitchBranch)

	// Message routes
	mux.HandleFunc("POST /api/v1/messages/{id}/edit", messageHandler.EditMessage)
	mux.HandleFunc("POST /api/v1/messages/{id}/retry", messageHandler.Retry)
	mux.HandleFunc("POST /api/v1/messages/{id}/stop", messageHandler.Stop)
	mux.HandleFunc("DELETE /api/v1/messages/{id}", messageHandler.Delete)
	mux.HandleFunc("POST /api/v1/messages/{id}/version", messageHandler.SwitchVersion)
	mux.HandleFunc("PUT /api/v1/messages/{id}/responses/{responseID}/primary", messageHandler.SetPrimaryResponse)
	mux.HandleFunc("DELETE /api/v1/messages/{id}/responses/{responseID}", messageHandler.DeleteResponse)

	// Streaming routes
	mux.HandleFunc("GET /api/v1/messages/{id}/stream", streamHandler.Stream) // SSE streaming endpoint

	// Model capabilities routes
	mux.HandleFunc("GET /api/v1/models/capabilities", modelsHandler.GetCapabilities)

	// User credential routes
	mux.HandleFunc("GET /api/v1/users/me/credentials", credentialsHandler.ListKeys)
	mux.HandleFunc("PUT /api/v1/users/me/credentials/{provider}", credentialsHandler.SetKey)
	mux.HandleFunc("DELETE /api/v1/users/me/credentials/{provider}", credentialsHandler.DeleteKey)

	// Build middleware chain
	var httpHandler http.Handler = mux

	// Apply middleware in reverse order (they wrap each other)
	// Order: CORS → Recovery → Auth → Routes
	httpHandler = middleware.Auth(jwtVerifier)(httpHandler)
	httpHandler = middleware.Recovery(logger)(httpHandler)

	// CORS - Must be before auth to handle OPTIONS pre-flight requests
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization", "Last-Event-ID"},
		AllowCredentials: true,
	})
	httpHandler = corsHandler.Handler(httpHandler)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httpHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // Disabled to allow long-lived SSE streams
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("server listening", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start server: %v", err)
	}
}
