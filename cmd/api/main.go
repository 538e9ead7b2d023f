package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"consult-room/internal/config"
	"consult-room/internal/db"
	"consult-room/internal/hub"
	apihttp "consult-room/internal/http"
	"consult-room/internal/repository"
	"consult-room/internal/rolestore"
	"consult-room/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sessionRepo, messageRepo, closeStore := openArchive(ctx, cfg, logger)
	defer closeStore()

	limiter := service.NewSendLimiter(cfg.SendRateWindow(), cfg.SendRateMax)
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed, using in-memory send limiter", zap.Error(err))
		} else {
			limiter = service.NewRedisSendLimiter(redisClient, logger, cfg.SendRateWindow(), cfg.SendRateMax)
		}
		cancel()
	}

	var roleStore rolestore.FieldUpdater
	if cfg.RoleStore == config.RoleStoreFirestore {
		fsStore, err := rolestore.NewFirestoreStore(ctx, cfg.FirestoreProject)
		if err != nil {
			logger.Fatal("firestore init", zap.Error(err))
		}
		defer fsStore.Close()
		roleStore = fsStore
	} else {
		memStore := rolestore.NewMemoryStore()
		seeded := memStore.Seed(cfg.UsersCollection, cfg.RoleStoreSeedUsers, map[string]any{"isAdmin": false})
		if seeded == 0 {
			logger.Warn("in-memory role store has no users, PUT /users/:id/admin will answer 404 (set ROLE_STORE_SEED_USERS)")
		} else {
			logger.Info("in-memory role store seeded", zap.Int("users", seeded))
		}
		roleStore = memStore
	}

	connHub := hub.NewHub(logger, 0)
	relaySvc := service.NewRelayService(logger, sessionRepo, messageRepo, limiter, connHub)
	transcriptSvc := service.NewTranscriptService(messageRepo)
	roleSvc := service.NewRoleService(logger, roleStore, cfg.UsersCollection)

	chatHandler := apihttp.NewChatHandler(logger, relaySvc, transcriptSvc)
	userHandler := apihttp.NewUserHandler(logger, roleSvc)
	wsHandler := apihttp.NewWSHandler(logger, apihttp.WSConfig{
		PingInterval:   cfg.WSPingInterval(),
		WriteTimeout:   cfg.WSWriteTimeout(),
		ReadTimeout:    cfg.WSReadTimeout(),
		MaxMessageSize: cfg.WSMaxMessageSize,
	}, connHub, relaySvc)
	router := apihttp.NewRouter(logger, chatHandler, userHandler, wsHandler)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           corsHandler.Handler(router),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", zap.Error(err))
		}
	}()

	logger.Info("starting server",
		zap.String("port", cfg.HTTPPort),
		zap.String("storage", cfg.StorageBackend),
		zap.String("role_store", cfg.RoleStore),
	)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
}

// openArchive elige el backend de sesiones y mensajes segun STORAGE_BACKEND.
func openArchive(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.SessionRepository, repository.MessageRepository, func()) {
	switch cfg.StorageBackend {
	case config.StoragePostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("db connect", zap.Error(err))
		}
		if err := db.Ping(ctx, pool); err != nil {
			pool.Close()
			logger.Fatal("db ping", zap.Error(err))
		}
		if err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			logger.Fatal("db migrate", zap.Error(err))
		}
		return repository.NewPgSessionRepository(pool), repository.NewPgMessageRepository(pool), closePool(pool)
	case config.StorageSQLite:
		conn, err := db.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			logger.Fatal("sqlite open", zap.Error(err))
		}
		return repository.NewSQLiteSessionRepository(conn), repository.NewSQLiteMessageRepository(conn), closeDB(conn, logger)
	default:
		logger.Warn("using in-memory storage, sessions are lost on restart")
		return repository.NewInMemorySessionRepository(), repository.NewInMemoryMessageRepository(), func() {}
	}
}

func closePool(pool *pgxpool.Pool) func() {
	return pool.Close
}

func closeDB(conn *sql.DB, logger *zap.Logger) func() {
	return func() {
		if err := conn.Close(); err != nil {
			logger.Warn("sqlite close", zap.Error(err))
		}
	}
}
