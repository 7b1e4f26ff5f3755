package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"FleetAlertEngine/internal/adapter"
	"FleetAlertEngine/internal/alarm"
	"FleetAlertEngine/internal/config"
	"FleetAlertEngine/internal/cooldown"
	"FleetAlertEngine/internal/database"
	"FleetAlertEngine/internal/dispatch"
	"FleetAlertEngine/internal/engine"
	"FleetAlertEngine/internal/handler"
	"FleetAlertEngine/internal/logger"
	"FleetAlertEngine/internal/metrics"
	"FleetAlertEngine/internal/normalizer"
	"FleetAlertEngine/internal/notify"
	"FleetAlertEngine/internal/pipeline"
	"FleetAlertEngine/internal/repository"
	"FleetAlertEngine/internal/server"
	"FleetAlertEngine/internal/websocket"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	// 1. Load Config
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// 2. Initialize Logger
	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format, "fleet-alert-engine")
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("configuration validation failed", zap.Error(err))
	}

	log.Info("starting fleet alert engine")

	// 3. Database Connection
	db, err := database.New(&cfg.Database)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.Health(ctx); err != nil {
		log.Fatal("database health check failed", zap.Error(err))
	}
	log.Info("database connected")

	// 4. Redis (latest-value store for composite evaluation)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	var latest engine.LatestStore
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn("redis unavailable, composite state held in memory", zap.Error(err))
		latest = engine.NewMemoryLatestStore()
	} else {
		latest = engine.NewRedisLatestStore(redisClient, cfg.Redis.KeyPrefix)
		log.Info("redis connected", zap.String("addr", cfg.Redis.Addr))
	}

	// 5. Metrics
	promRegistry := prometheus.NewRegistry()
	m := metrics.New(promRegistry)

	// 6. Repositories
	deviceRepo := repository.NewDeviceRepository(db.DB)
	ruleRepo := repository.NewRuleRepository(db.DB)
	eventRepo := repository.NewAlertEventRepository(db.DB)
	alarmRepo := repository.NewAlarmRepository(db.DB)
	channelRepo := repository.NewChannelRepository(db.DB)

	// 7. Evaluation Engine
	eng := engine.New(latest, log, m)
	rules, err := ruleRepo.ListEnabled(ctx)
	if err != nil {
		log.Fatal("failed to load rules", zap.Error(err))
	}
	eng.ReplaceRules(rules)
	log.Info("rule index built", zap.Int("rules", len(rules)))

	// 8. Websocket Hub
	hub := websocket.NewHub(log)
	hubCtx, hubCancel := context.WithCancel(ctx)
	defer hubCancel()
	go hub.Run(hubCtx)

	// 9. Notification Channels and Dispatcher
	httpClient := &http.Client{Timeout: cfg.Pipeline.SendTimeout}
	senders := notify.NewRegistry()
	senders.Register(notify.NewEmailSender())
	senders.Register(notify.NewSlackSender(httpClient))
	senders.Register(notify.NewWebhookSender(httpClient))

	dispatcher := dispatch.New(channelRepo, senders, eventRepo, hub, dispatch.Config{
		Workers:     cfg.Pipeline.DispatchWorkers,
		QueueSize:   cfg.Pipeline.DispatchQueueSize,
		SendTimeout: cfg.Pipeline.SendTimeout,
	}, log, m)
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	// 10. Pipeline
	suppressor := cooldown.NewPostgresSuppressor(db.DB)
	alarms := alarm.NewManager(alarmRepo, log)

	pipe := pipeline.New(eng, suppressor, alarms, dispatcher, eventRepo, pipeline.Config{
		Shards:    cfg.Pipeline.Shards,
		QueueSize: cfg.Pipeline.QueueSize,
	}, log, m)
	pipe.Start(ctx)
	defer pipe.Stop()

	// 11. Protocol Adapters
	deps := adapter.Deps{
		Resolver:   deviceRepo,
		DataModels: deviceRepo,
		Normalizer: normalizer.New(log),
		Sink:       pipe,
		Log:        log,
		Metrics:    m,
	}

	registry := adapter.NewRegistry()
	registry.Register(adapter.ProtocolMQTT, adapter.NewMQTTAdapter)
	registry.Register(adapter.ProtocolHTTP, adapter.NewHTTPAdapter)
	registry.Register(adapter.ProtocolLoRaWAN, adapter.NewLoRaWANAdapter)

	adapters := make(map[string]adapter.Adapter)
	for _, protocol := range registry.Protocols() {
		a, err := registry.Create(protocol, deps, cfg)
		if err != nil {
			log.Fatal("failed to create adapter", zap.String("protocol", protocol), zap.Error(err))
		}
		if err := a.Start(ctx); err != nil {
			log.Fatal("failed to start adapter", zap.String("protocol", protocol), zap.Error(err))
		}
		defer a.Stop()
		adapters[protocol] = a
	}
	log.Info("protocol adapters started", zap.Strings("protocols", registry.Protocols()))

	mqttAdapter := adapters[adapter.ProtocolMQTT].(*adapter.MQTTAdapter)

	// 12. Handlers and HTTP Server
	alarmHandler := handler.NewAlarmHandler(alarms, alarmRepo, log)
	ruleHandler := handler.NewRuleHandler(ruleRepo, eventRepo, eng, log)
	healthHandler := handler.NewHealthHandler(db, mqttAdapter, log)

	srv := server.New(cfg, log)
	srv.RegisterHandlers(alarmHandler, ruleHandler, healthHandler, hub, promRegistry,
		adapters[adapter.ProtocolHTTP].(*adapter.HTTPAdapter),
		adapters[adapter.ProtocolLoRaWAN].(*adapter.LoRaWANAdapter),
	)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	log.Info("engine ready",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
	)

	// 13. Periodic Rule Sync
	syncCtx, syncCancel := context.WithCancel(ctx)
	defer syncCancel()
	go ruleSyncLoop(syncCtx, eng, ruleRepo, cfg.Pipeline.RuleSyncInterval, log)

	// 14. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Warn("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	}

	log.Info("shutdown complete")
}

// ruleSyncLoop rebuilds the rule index on a fixed interval so rule writes
// from the management API reach evaluation without a restart.
func ruleSyncLoop(ctx context.Context, eng *engine.Engine, repo *repository.RuleRepository, interval time.Duration, log *zap.Logger) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			loadCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			rules, err := repo.ListEnabled(loadCtx)
			cancel()
			if err != nil {
				log.Error("rule sync failed", zap.Error(err))
				continue
			}
			eng.ReplaceRules(rules)
			log.Debug("rule index refreshed", zap.Int("rules", len(rules)))
		}
	}
}
