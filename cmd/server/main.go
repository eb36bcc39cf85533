package main

import (
	"flag"
	"log"
	"log/slog"
	"net/http"
	"time"

	"docchat/internal/app"
	"docchat/internal/config"
	"docchat/internal/ratelimit"
	"docchat/internal/server"
	"docchat/internal/util"
	"docchat/pkg/ai"
	"docchat/pkg/auth"
	"docchat/pkg/storage"
	"docchat/pkg/store"
)

func main() {
	configPath := flag.String("config", config.ConfigPath, "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session TTL: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	var (
		records  store.Store
		counters ratelimit.CounterStore
	)
	if cfg.DatabaseURL != "" {
		gormStore, err := store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		rateStore, err := ratelimit.NewGormStore(gormStore.DB())
		if err != nil {
			log.Fatalf("failed to init rate limit store: %v", err)
		}
		records = gormStore
		counters = rateStore
	} else {
		slog.Warn("no databaseURL configured, using in-memory storage")
		records = store.NewMemoryStore()
		counters = ratelimit.NewMemoryStore()
	}

	stager, err := storage.NewFileStore(cfg.DataDir)
	if err != nil {
		log.Fatalf("failed to init data dir: %v", err)
	}
	var previews storage.PreviewStore
	if cfg.MinioEndpoint != "" {
		minioStore, err := storage.NewMinioStore(cfg.MinioEndpoint,
			cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("failed to init object storage: %v", err)
		}
		previews = minioStore
	}

	clientOpts := []ai.Option{}
	if cfg.GeminiModel != "" {
		clientOpts = append(clientOpts, ai.WithModel(cfg.GeminiModel))
	}
	searchClient, err := ai.NewClient(cfg.GeminiAPIKey, clientOpts...)
	if err != nil {
		log.Fatalf("failed to init search client: %v", err)
	}

	sessions, err := auth.NewSessions(cfg.SessionSecret, sessionTTL)
	if err != nil {
		log.Fatalf("failed to init sessions: %v", err)
	}

	// The edge IP shield prefers Redis so limits hold across instances;
	// without Redis it falls back to the shared counter store.
	var ipShield ratelimit.Allower
	if cfg.RedisAddr != "" {
		redisShield, err := ratelimit.NewRedisLimiter(cfg.RedisAddr, cfg.RedisPassword,
			"docchat:ratelimit:ip", cfg.GlobalRateLimitPerMinute, time.Minute)
		if err != nil {
			log.Fatalf("failed to init redis limiter: %v", err)
		}
		ipShield = redisShield
	} else {
		ipShield = ratelimit.New(ratelimit.NewMemoryStore()).
			Windowed(cfg.GlobalRateLimitPerMinute, time.Minute)
	}

	proxies, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	appCore := app.New(app.Options{
		Store:    records,
		Search:   searchClient,
		Stager:   stager,
		Previews: previews,
		Model:    cfg.GeminiModel,
	})

	httpServer, err := server.New(server.Config{
		App:                      appCore,
		Sessions:                 sessions,
		Limiter:                  ratelimit.New(counters),
		IPShield:                 ipShield,
		TrustedProxies:           proxies,
		AllowedOrigins:           cfg.AllowedOrigins,
		AdminKey:                 cfg.AdminKey,
		ChatRateLimitPerMinute:   cfg.ChatRateLimitPerMinute,
		UploadRateLimitPerHour:   cfg.UploadRateLimitPerHour,
		LibraryRateLimitPer10Min: cfg.LibraryRateLimitPer10Min,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // uploads poll the vendor operation
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
