package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"betweenus/backend/internal/account"
	"betweenus/backend/internal/api"
	"betweenus/backend/internal/api/handler"
	"betweenus/backend/internal/binding"
	"betweenus/backend/internal/chat"
	"betweenus/backend/internal/chathub"
	"betweenus/backend/internal/config"
	"betweenus/backend/internal/coze"
	"betweenus/backend/internal/llm"
	"betweenus/backend/internal/localization"
	"betweenus/backend/internal/metrics"
	"betweenus/backend/internal/session"
	"betweenus/backend/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// connectRedis is only called when a Redis-backed component is configured.
func connectRedis(cfg *config.Config) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		log.Fatalf("Failed to connect Redis: %v", err)
	}
	return rdb
}

func newProvider(cfg *config.Config) chat.Provider {
	if cfg.AIProvider == "openai" {
		p, err := llm.NewOpenAIProvider(cfg.OpenAIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL)
		if err != nil {
			log.Fatalf("Failed to set up AI provider: %v", err)
		}
		return p
	}
	return coze.NewClient(cfg.CozeAPIURL, cfg.CozeAPIKey, config.UpstreamTimeout)
}

type app struct {
	store   storage.Storage
	hub     *chathub.ManagerService
	binding *binding.Service
	handler *handler.Handler
}

func setupDependencies(cfg *config.Config) *app {
	// 1. Storage
	store, err := storage.Open(cfg)
	if err != nil {
		log.Fatalf("Failed to open %s storage: %v", cfg.StorageBackend, err)
	}

	// 2. Redis, shared by sessions and the lounge fan-out when either asks for it
	var rdb *redis.Client
	if cfg.SessionBackend == "redis" || cfg.HubBackend == "redis" {
		rdb = connectRedis(cfg)
	}

	ttl := time.Duration(cfg.SessionTTLHours) * time.Hour
	var sessions session.Store = session.NewMemoryStore(ttl)
	if cfg.SessionBackend == "redis" {
		sessions = session.NewRedisStore(rdb, ttl)
	}
	if cfg.JWTSecret == "" {
		log.Println("WARNING: JWT_SECRET is empty, bearer tokens will not survive a restart")
	}
	tokens, err := session.NewTokenIssuer(cfg.JWTSecret, ttl)
	if err != nil {
		log.Fatalf("Failed to set up tokens: %v", err)
	}

	// 3. Lounge hub
	m := metrics.New(prometheus.DefaultRegisterer)
	var publisher chathub.Publisher = chathub.NewLocalPublisher()
	if cfg.HubBackend == "redis" {
		publisher = chathub.NewRedisPublisher(rdb)
	}
	hub := chathub.NewManagerService(publisher, m)

	// 4. Services
	l, err := localization.Default(cfg.DefaultLang)
	if err != nil {
		log.Fatalf("Failed to load messages: %v", err)
	}
	opts := chat.Options{
		Storage:   store,
		Provider:  newProvider(cfg),
		Localizer: l,
		Lang:      cfg.DefaultLang,
		Metrics:   m,
	}
	bindingSvc := binding.NewService(store, l, cfg.DefaultLang)

	h := handler.NewHandler(handler.Deps{
		Accounts:     account.NewService(store),
		Binding:      bindingSvc,
		Coach:        chat.NewCoachService(opts, cfg.CozeBotCoach),
		Lounge:       chat.NewLoungeService(opts, cfg.CozeBotLounge, hub),
		Hub:          hub,
		Sessions:     sessions,
		Tokens:       tokens,
		Localizer:    l,
		Lang:         cfg.DefaultLang,
		SessionTTL:   ttl,
		CookieSecure: cfg.CookieSecure,
	})

	log.Printf("INFO: Dependencies ready (storage=%s, sessions=%s, hub=%s, ai=%s)",
		cfg.StorageBackend, cfg.SessionBackend, cfg.HubBackend, cfg.AIProvider)
	return &app{store: store, hub: hub, binding: bindingSvc, handler: h}
}

func main() {
	log.Println("Starting BetweenUs Backend...")

	cfg := config.Load()
	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}

	// 1. Dependencies
	a := setupDependencies(cfg)
	defer a.store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Background goroutines
	go a.hub.Run(ctx)
	if cfg.SweepUnbinding {
		go a.binding.RunSweeper(ctx, config.UnbindSweepPeriod)
	}

	// 3. HTTP server. No write timeout: SSE responses stay open for the
	// whole upstream stream.
	server := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        api.NewRouter(a.handler, prometheus.DefaultGatherer),
		ReadTimeout:    config.ServerReadTimeout,
		IdleTimeout:    config.ServerIdleTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		log.Printf("INFO: Listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("INFO: Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("ERROR: Server shutdown: %v", err)
	}
	<-a.hub.Done()
}
