package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"smartbuilding/api/server"
	"smartbuilding/internal/alert"
	"smartbuilding/internal/cache"
	"smartbuilding/internal/config"
	"smartbuilding/internal/database"
	"smartbuilding/internal/elasticsearch"
	"smartbuilding/internal/grpc"
	"smartbuilding/internal/health"
	"smartbuilding/internal/logger"
	"smartbuilding/internal/monitor"
	"smartbuilding/internal/notify"
	"smartbuilding/internal/realtime"
)

var (
	configFile = flag.String("config", "etc/config.yaml", "Path to configuration file")
	version    = "1.0.0"
)

const shutdownTimeout = 10 * time.Second

func loadConfig() (*config.Config, string) {
	// 优先从配置文件加载，如果失败则从环境变量加载
	if _, err := os.Stat(*configFile); err == nil {
		cfg, err := config.LoadFromFile(*configFile)
		if err == nil {
			return cfg, *configFile
		}
		fmt.Fprintf(os.Stderr, "Failed to load config from file: %v\n", err)
	} else {
		fmt.Fprintln(os.Stderr, "Config file not found, loading from environment variables...")
	}
	return config.Load(), ""
}

func main() {
	flag.Parse()

	cfg, configPath := loadConfig()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志系统
	if err := logger.Init(logger.Config{
		Level:  cfg.Logger.Level,
		Output: cfg.Logger.Output,
		Format: cfg.Logger.Format,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting alerting service",
		zap.String("version", version),
		zap.String("config_file", configPath),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 初始化数据库
	if err := database.InitDB(database.Config{
		Driver:   cfg.Database.Driver,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	}, logger.Named("gorm")); err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer database.Close()
	db := database.GetDB()

	logger.Info("Database initialized",
		zap.String("driver", cfg.Database.Driver),
		zap.String("database", cfg.Database.DBName),
	)

	// 初始化 Elasticsearch（如果启用）
	esClient, err := elasticsearch.NewClient(cfg.Elasticsearch, logger.Named("elasticsearch"))
	if err != nil {
		logger.Fatal("Failed to initialize Elasticsearch", zap.Error(err))
	}
	if esClient != nil {
		if err := esClient.CreateIndexTemplate(ctx); err != nil {
			logger.Warn("Failed to create index template", zap.Error(err))
		}
		logger.Info("Elasticsearch initialized")
	} else {
		logger.Info("Elasticsearch is disabled")
	}

	if cfg.Logger.TriggerLogDir != "" {
		if err := logger.InitTriggerLog(cfg.Logger.TriggerLogDir); err != nil {
			logger.Fatal("Failed to initialize trigger log", zap.Error(err))
		}
	}

	checks := []health.Check{
		{Name: "database", Required: true, Probe: func(ctx context.Context) error { return database.Ping(ctx, db) }},
		{Name: "elasticsearch", Probe: func(ctx context.Context) error {
			err := esClient.Ping(ctx)
			if errors.Is(err, elasticsearch.ErrDisabled) {
				return health.ErrDisabled
			}
			return err
		}},
	}

	deps := monitor.Deps{
		Rules:         alert.NewService(db, logger.Named("alert")),
		Source:        esClient,
		TriggerLogDir: cfg.Logger.TriggerLogDir,
	}

	if cfg.Redis.Enabled {
		rdb := cache.NewRedisClient(cfg.Redis)
		defer rdb.Close()
		kv := cache.NewRedisKVStore(rdb)
		deps.Stats = cache.NewStatsCache(kv, time.Duration(cfg.Redis.StatsTTL)*time.Second)
		checks = append(checks, health.Check{Name: "redis", Probe: kv.Ping})
		logger.Info("Redis stats cache enabled", zap.String("addr", cfg.Redis.Addr))
	}

	if cfg.Notify.Enabled {
		deps.Notifier = notify.NewDispatcher(cfg.Notify, cfg.Mail, logger.Named("notify"))
		mailAddr := cfg.Mail.Server + ":" + strconv.Itoa(cfg.Mail.Port)
		checks = append(checks, health.Check{Name: "smtp", Probe: health.TCP(mailAddr)})
	}

	hub := realtime.NewHub(0, logger.Named("realtime"))
	publisher := realtime.NewMulti(logger.Named("realtime")).Add("sse", hub)
	if cfg.NATS.Enabled {
		pub, err := realtime.NewNATSPublisher(cfg.NATS)
		if err != nil {
			logger.Warn("NATS publisher unavailable", zap.Error(err))
		} else {
			publisher.Add("nats", pub)
		}
	}
	if cfg.MQTT.Enabled {
		pub, err := realtime.NewMQTTPublisher(cfg.MQTT)
		if err != nil {
			logger.Warn("MQTT publisher unavailable", zap.Error(err))
		} else {
			publisher.Add("mqtt", pub)
		}
	}
	if cfg.Kafka.Enabled {
		pub, err := realtime.NewKafkaPublisher(cfg.Kafka)
		if err != nil {
			logger.Warn("Kafka publisher unavailable", zap.Error(err))
		} else {
			publisher.Add("kafka", pub)
		}
	}
	defer publisher.Close()
	deps.Publisher = publisher
	logger.Info("Realtime transports ready", zap.Strings("transports", publisher.Transports()))

	// 初始化轮询服务
	monitorService := monitor.NewService(cfg.Monitor, deps, logger.Named("monitor"))
	if cfg.Monitor.AlwaysOn {
		monitorService.Connect()
		defer monitorService.Disconnect()
		logger.Info("Poller pinned by always_on")
	}

	registry := health.NewRegistry(5*time.Second, checks...)

	var wg sync.WaitGroup

	// 启动HTTP服务器
	apiServer := server.NewServer(cfg, configPath, server.Deps{
		Rules:         deps.Rules,
		Poller:        monitorService,
		Hub:           hub,
		Health:        registry,
		TriggerLogDir: cfg.Logger.TriggerLogDir,
	}, logger.Named("http"))
	defer apiServer.Close()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("Starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", zap.Error(err))
			stop()
		}
	}()

	// 启动gRPC服务器
	var grpcServer *grpc.Server
	if cfg.Server.GRPCPort > 0 {
		grpcServer = grpc.NewServer(registry, 15*time.Second, logger.Named("grpc"))
		grpcAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort)
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("Starting gRPC server", zap.String("address", grpcAddr))
			if err := grpc.StartServer(ctx, grpcAddr, grpcServer); err != nil {
				logger.Error("gRPC server failed", zap.Error(err))
				stop()
			}
		}()
	}

	logger.Info("Alerting service is running",
		zap.Int("http_port", cfg.Server.HTTPPort),
		zap.Int("grpc_port", cfg.Server.GRPCPort),
	)

	// 等待信号
	<-ctx.Done()
	logger.Info("Shutting down...")

	// 优雅关闭, 先断开 SSE 长连接
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown incomplete", zap.Error(err))
	}
	if grpcServer != nil {
		grpcServer.Stop()
	}
	wg.Wait()

	logger.Info("Alerting service stopped")
}
