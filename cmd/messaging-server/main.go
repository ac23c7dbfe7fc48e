package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Shockvaluemedia/directfanz-messaging/internal/config"
	"github.com/Shockvaluemedia/directfanz-messaging/internal/fanout"
	"github.com/Shockvaluemedia/directfanz-messaging/internal/gateway"
	"github.com/Shockvaluemedia/directfanz-messaging/internal/hub"
	"github.com/Shockvaluemedia/directfanz-messaging/internal/identity"
	"github.com/Shockvaluemedia/directfanz-messaging/internal/pipeline"
	"github.com/Shockvaluemedia/directfanz-messaging/internal/presence"
	"github.com/Shockvaluemedia/directfanz-messaging/internal/push"
	"github.com/Shockvaluemedia/directfanz-messaging/internal/ratelimit"
	"github.com/Shockvaluemedia/directfanz-messaging/internal/rooms"
	"github.com/Shockvaluemedia/directfanz-messaging/internal/store"
	"github.com/Shockvaluemedia/directfanz-messaging/pkg/database"
	"github.com/Shockvaluemedia/directfanz-messaging/pkg/log"
	"github.com/Shockvaluemedia/directfanz-messaging/pkg/pubsub"
	"github.com/Shockvaluemedia/directfanz-messaging/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log.Init(log.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Pretty,
		ServiceName: "messaging-server",
	})
	logger := log.L()

	instanceID := cfg.Server.InstanceID
	if instanceID == "" {
		instanceID = uuid.New().String()
	}
	logger.Info().
		Str(log.FieldInstance, instanceID).
		Int("port", cfg.Server.Port).
		Msg("starting messaging server")

	if cfg.Auth.JWTSecret == "" {
		logger.Fatal().Msg("auth.jwt_secret is required")
	}

	db, err := database.New(&database.Config{
		Driver:   cfg.Database.Driver,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.Name,
		FilePath: cfg.Database.Path,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open database")
	}
	if err := database.AutoMigrate(db, store.Models()...); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}

	// Backplane. A single instance can run without Redis: the bridge,
	// rate limits, and presence all fall back to in-process state.
	var (
		bridge        pubsub.Bridge
		limiter       ratelimit.Limiter
		presenceStore presence.Store
	)
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			cancel()
			logger.Fatal().Err(err).Str("address", cfg.Redis.Address).Msg("failed to connect to redis")
		}
		cancel()
		logger.Info().Str("address", cfg.Redis.Address).Msg("connected to redis")

		bridge = pubsub.NewRedisBridge(rdb)
		limiter = ratelimit.NewRedisLimiter(rdb, ratelimit.DefaultRules())
		presenceStore = presence.NewRedisStore(rdb, cfg.Presence.PresenceTTL)
	} else {
		logger.Warn().Msg("redis disabled, running standalone")
		bridge = pubsub.NewChannelBridge()
		limiter = ratelimit.NewLocalLimiter(ratelimit.DefaultRules())
		presenceStore = presence.NewLocalStore()
	}
	defer bridge.Close()

	var blobs storage.Store
	switch cfg.Storage.Backend {
	case "s3":
		blobs, err = storage.NewS3Store(context.Background(), storage.S3Config{
			Endpoint:        cfg.Storage.S3Endpoint,
			Region:          cfg.Storage.S3Region,
			Bucket:          cfg.Storage.S3Bucket,
			AccessKeyID:     cfg.Storage.S3AccessKey,
			SecretAccessKey: cfg.Storage.S3SecretKey,
			UsePathStyle:    cfg.Storage.S3UsePathStyle,
			PublicURL:       cfg.Storage.S3PublicURL,
		})
	case "local":
		blobs, err = storage.NewLocalStore(cfg.Storage.LocalPath)
	default:
		logger.Fatal().Str("backend", cfg.Storage.Backend).Msg("unknown storage backend")
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize storage")
	}

	var notifier push.Notifier = push.NopNotifier{}
	if cfg.Push.WebhookURL != "" {
		notifier = push.NewWebhookNotifier(cfg.Push.WebhookURL, cfg.Push.Timeout)
		logger.Info().Str("webhook", cfg.Push.WebhookURL).Msg("push notifications enabled")
	}

	roomSvc := rooms.NewService(store.NewGormRoomStore(db))

	wsHub := hub.NewHub(nil)
	fan := fanout.New(wsHub, bridge, instanceID)
	tracker := presence.NewTracker(presenceStore, roomSvc, fan, wsHub, cfg.Presence.TypingTTL)
	wsHub.SetListener(tracker)
	go wsHub.Run()
	defer wsHub.Stop()

	pipe := pipeline.NewService(
		roomSvc,
		store.NewGormMessageStore(db),
		limiter,
		fan,
		presenceStore,
		notifier,
		blobs,
	)

	verifier := identity.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	wsHandler := gateway.NewWSHandler(wsHub, verifier, pipe, roomSvc, tracker, presenceStore, fan, cfg.WebSocket)

	relayCtx, relayCancel := context.WithCancel(context.Background())
	defer relayCancel()
	relay := gateway.NewRelay(bridge, wsHub, roomSvc, instanceID)
	go func() {
		if err := relay.Run(relayCtx); err != nil && relayCtx.Err() == nil {
			logger.Error().Err(err).Msg("relay stopped")
		}
	}()

	// Keep online TTLs ahead of their expiry for connected users.
	if interval := cfg.Presence.PresenceTTL / 2; interval > 0 {
		go tracker.RefreshLoop(relayCtx, interval, wsHub.OnlineUsers)
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	wsHandler.RegisterRoutes(r)
	gateway.NewAttachmentHandler(verifier, blobs).RegisterRoutes(r)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "instance_id": instanceID})
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("address", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
