package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gameserver/internal/config"
	"gameserver/internal/database/db_client"
	"gameserver/internal/database/mongo_client"
	"gameserver/internal/handlers/chathandler"
	"gameserver/internal/http/adminhandler"
	"gameserver/internal/http/http_server"
	"gameserver/internal/presence"
	"gameserver/internal/presencesync"
	"gameserver/internal/redis/redis_client"
	"gameserver/internal/redis/redis_functions"
	"gameserver/internal/redis/watcher/presencewatcher"
	"gameserver/internal/services/user"
	"gameserver/internal/sessionlog"
	"gameserver/internal/ws"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	Log, _ = zap.NewDevelopment()
)

func main() {
	defer Log.Sync()
	zap.ReplaceGlobals(Log)

	// 1. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		Log.Fatal("Failed to load configuration", zap.Error(err))
	}
	Log.Debug("Configuration loaded successfully", zap.Any("config", cfg))

	// 2. Context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	// 3. Postgres db client, only when something writes to it
	var pgDb *sql.DB
	if cfg.UserStore == "postgres" || cfg.SessionLogEnabled {
		pgDb, err = db_client.Open(cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDb)
		if err != nil {
			Log.Fatal("pg-open", zap.Error(err))
		}
		defer pgDb.Close()
		if err := db_client.EnsureSchema(ctx, pgDb); err != nil {
			Log.Fatal("pg-schema", zap.Error(err))
		}
	}

	// 4. User directory
	var userService user.IUserService
	switch cfg.UserStore {
	case "postgres":
		userService = user.NewPostgresStore(pgDb)
	case "mongo":
		mongoClient, mongoDb, err := mongo_client.Open(ctx, cfg.MongoURI, cfg.MongoDb)
		if err != nil {
			Log.Fatal("mongo-open", zap.Error(err))
		}
		defer mongoClient.Disconnect(context.Background())
		if err := mongo_client.EnsureIndexes(ctx, mongoDb); err != nil {
			Log.Fatal("mongo-index", zap.Error(err))
		}
		userService = user.NewMongoStore(mongoDb)
	default:
		userService = user.NewMemoryStore()
	}
	Log.Debug("User store ready", zap.String("store", cfg.UserStore))

	// 5. Hub: registries + broadcast scheduler
	scheduler := ws.NewScheduler(ws.SchedulerConfig{
		RetryAttempts: cfg.BroadcastRetryAttempts,
		RetryBackoff:  cfg.BroadcastRetryBackoff,
	})
	hub := ws.NewHub(scheduler)
	defer hub.Close()

	// 6. Redis presence, optional
	var (
		presenceSvc ws.Presence
		online      adminhandler.OnlineCounter
	)
	if cfg.RedisEnabled {
		redisClient, err := redis_client.NewRedisClient(redis_client.Options{
			Host:     cfg.RedisHost,
			Port:     int(cfg.RedisPort),
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDb,
		})
		if err != nil {
			Log.Fatal("Failed to create Redis client", zap.Error(err))
		}
		defer redisClient.Close()

		// Load the Redis Functions lua
		if err := redis_functions.LoadAll(ctx, redisClient); err != nil {
			Log.Fatal("load-redis-funcs", zap.Error(err))
		}

		tracker := presence.NewTracker(redisClient, cfg.PresenceTTL)
		presenceSvc, online = tracker, tracker

		// Background: key-expiry watcher, TTL refresher, session log
		go presencewatcher.Run(ctx, redisClient, tracker)
		presencesync.Run(ctx, redisClient, tracker, hub.Connections(), cfg.PresenceRefreshInterval)
		if cfg.SessionLogEnabled {
			sessionlog.Run(ctx, redisClient, pgDb)
		}
	} else if cfg.SessionLogEnabled {
		Log.Warn("SESSION_LOG_ENABLED has no effect without REDIS_ENABLED")
	}

	// 7. Feature handlers
	router := ws.NewRouter()
	chathandler.New(chathandler.Policies{
		Chat:  ws.Policy{Interval: cfg.ChatBatchInterval, BatchSize: cfg.ChatBatchSize},
		Group: ws.Policy{Interval: cfg.GroupBatchInterval, BatchSize: cfg.GroupBatchSize},
	}).Register(router)

	// 8. Initialize the WS server
	wsSrv := ws.NewWsServer(hub, router, userService, presenceSvc, ws.ServerConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		Session: ws.SessionConfig{
			HeartbeatInterval:    cfg.HeartbeatInterval,
			HeartbeatTimeout:     cfg.HeartbeatTimeout,
			ReadLimit:            cfg.ReadLimit,
			HandlerTimeout:       cfg.HandlerTimeout,
			RejectDuplicateLogin: cfg.DuplicateLogin == "reject",
			RateLimit:            rate.Limit(cfg.RateLimitPerSecond),
			RateBurst:            cfg.RateLimitBurst,
		},
	})

	// 9. HTTP + WS server
	httpServer := http_server.NewHttpServer(ctx, cfg.HttpServerPort, cfg.WsPath, wsSrv, online)
	if err := httpServer.Listen(); err != nil {
		Log.Fatal("Failed to start HTTP server", zap.Error(err))
	}
	go func() {
		if err := httpServer.Serve(); err != nil {
			Log.Error("http-serve", zap.Error(err))
			stop()
		}
	}()
	Log.Info("Server listening", zap.Uint16("port", cfg.HttpServerPort), zap.String("ws_path", cfg.WsPath))

	<-ctx.Done()
	Log.Info("Shutting down")

	_ = httpServer.Dispose()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = wsSrv.Shutdown(shutdownCtx)
}
