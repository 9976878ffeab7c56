// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/chirp-social/realtime/internal/config"
	"github.com/chirp-social/realtime/internal/handler"
	"github.com/chirp-social/realtime/internal/middleware"
	"github.com/chirp-social/realtime/internal/model"
	natsclient "github.com/chirp-social/realtime/internal/nats"
	"github.com/chirp-social/realtime/internal/presence"
	"github.com/chirp-social/realtime/internal/realtime"
	"github.com/chirp-social/realtime/internal/registry"
	"github.com/chirp-social/realtime/internal/service"
	"github.com/chirp-social/realtime/internal/store"
	"github.com/chirp-social/realtime/pkg/logger"
	"github.com/chirp-social/realtime/pkg/tracing"
)

func main() {
	// a local .env is optional; real environment variables win
	_ = godotenv.Load()
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server", zap.String("instance", cfg.InstanceID))

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "realtime", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to open store", zap.Error(err))
	}

	var hubOpts []realtime.Option

	// NATS event tap (optional)
	var natsStatus handler.ConnectionStatus
	if cfg.NATSURL != "" {
		natsClient, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsClient.Close()

		tap := natsclient.NewTap(natsClient, cfg.NATSSubjectPrefix, cfg.InstanceID)
		if err := tap.EnsureStream(ctx); err != nil {
			log.Warn("event stream unavailable, publishing without retention", zap.Error(err))
		}
		hubOpts = append(hubOpts, realtime.WithTap(tap), realtime.WithObserver(tap))
		natsStatus = natsClient
	}

	// Redis presence mirror (optional)
	var mirror *presence.RedisMirror
	if cfg.RedisAddr != "" {
		mirror, err = presence.NewRedisMirror(ctx, presence.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.PresenceTTL,
			Instance: cfg.InstanceID,
		}, log)
		if err != nil {
			log.Fatal("failed to connect to Redis", zap.Error(err))
		}
		defer mirror.Close()
		hubOpts = append(hubOpts, realtime.WithObserver(mirror))
	}

	hub := realtime.NewHub(registry.New(), log, hubOpts...)
	if mirror != nil {
		go mirror.KeepAlive(ctx, hub.Online)
	}

	messageSvc := service.NewMessageService(st, hub, log)
	postSvc := service.NewPostService(st, service.NewNotifier(st, hub, log), log)

	healthHandler := handler.NewHealthHandler(st, natsStatus)
	messageHandler := handler.NewMessageHandler(messageSvc, log)
	postHandler := handler.NewPostHandler(postSvc, log)
	realtimeHandler := handler.NewRealtimeHandler(hub, realtime.ConnOptions{
		SendBuffer:      cfg.WSSendBuffer,
		PingInterval:    cfg.WSPingInterval,
		WriteTimeout:    cfg.WSWriteTimeout,
		MaxMessageBytes: cfg.WSMaxMessageBytes,
	}, cfg.AllowedOrigins, log)

	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// no auth
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.With(middleware.Auth(cfg.JWTSecret)).Get("/ws", realtimeHandler.Connect)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/message", func(r chi.Router) {
			r.Post("/send/{receiverId}", messageHandler.Send)
			r.Get("/all/{otherUserId}", messageHandler.List)
		})

		r.Route("/post/{id}", func(r chi.Router) {
			r.Post("/like", postHandler.Like)
			r.Post("/dislike", postHandler.Dislike)
		})

		r.Get("/user/online", realtimeHandler.Online)
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// hijacked websockets are not tracked by Shutdown
	hub.CloseAll()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	if err := st.Close(shutdownCtx); err != nil {
		log.Error("failed to close store", zap.Error(err))
	}

	log.Info("server stopped")
}

func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreMemory:
		mem := store.NewMemory()
		for _, id := range cfg.DevUsers {
			mem.PutUser(model.User{ID: id, Username: id})
		}
		log.Warn("using in-memory store, data is lost on restart", zap.Int("seeded_users", len(cfg.DevUsers)))
		return mem, nil
	case config.StoreMongo:
		connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		m, err := store.NewMongo(connectCtx, store.MongoConfig{
			URI:         cfg.MongoURI,
			Database:    cfg.MongoDatabase,
			MaxPoolSize: cfg.MongoMaxPoolSize,
		})
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
