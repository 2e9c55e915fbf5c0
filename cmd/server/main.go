package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/annel0/room-server/internal/api"
	"github.com/annel0/room-server/internal/auth"
	"github.com/annel0/room-server/internal/cache"
	"github.com/annel0/room-server/internal/config"
	"github.com/annel0/room-server/internal/eventbus"
	"github.com/annel0/room-server/internal/logging"
	"github.com/annel0/room-server/internal/network"
	"github.com/annel0/room-server/internal/observability"
	"github.com/annel0/room-server/internal/room"
	"github.com/annel0/room-server/internal/room/entity"
	"github.com/annel0/room-server/internal/storage"
)

const (
	serviceName = "room-server"
	version     = "0.3.0"
)

// closers закрываются в обратном порядке при остановке
type closers []io.Closer

func (c closers) closeAll() {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i].Close(); err != nil {
			logging.Warn("Ошибка закрытия ресурса: %v", err)
		}
	}
}

func main() {
	configPath := flag.String("config", "", "Путь к YAML конфигурации (или ROOM_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	if err := logging.InitDefaultLogger(logging.Config{
		Dir:          cfg.Logging.Dir,
		Service:      "server",
		ConsoleLevel: logging.ParseLevel(cfg.Logging.ConsoleLevel),
		FileLevel:    logging.ParseLevel(cfg.Logging.FileLevel),
	}); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	if err := run(cfg); err != nil {
		logging.Error("❌ %v", err)
		logging.CloseDefaultLogger()
		os.Exit(1)
	}
	logging.Info("👋 Сервер успешно остановлен")
}

func run(cfg *config.Config) error {
	logging.Info("🏠 Запуск Room Server %s", version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Комнаты и сессии живут до явного Shutdown, а не до сигнала:
	// позиции сохраняются уже после ctx.Done()
	appCtx, cancelApp := context.WithCancel(context.Background())
	defer cancelApp()

	// === ТЕЛЕМЕТРИЯ ===
	shutdownTracing, err := observability.InitTelemetry(ctx, observability.TelemetryConfig{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Endpoint:       cfg.Telemetry.OTLPEndpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("телеметрия: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// === ХРАНИЛИЩА ===
	var resources closers
	defer resources.closeAll()

	models, err := storage.OpenBadgerModelStore(cfg.Storage.BadgerPath)
	if err != nil {
		return fmt.Errorf("хранилище моделей: %w", err)
	}
	resources = append(resources, models)
	if n, err := models.Seed(ctx, storage.DefaultModels()); err != nil {
		return fmt.Errorf("начальные модели: %w", err)
	} else if n > 0 {
		logging.Info("🌱 Добавлено моделей по умолчанию: %d", n)
	}

	coldInfos, positions, err := openRepositories(ctx, &cfg.Storage, &resources)
	if err != nil {
		return err
	}
	infos, err := openRoomCache(ctx, cfg, coldInfos, &resources)
	if err != nil {
		return err
	}

	// === ШИНА СОБЫТИЙ ===
	bus, err := openEventBus(&cfg.EventBus)
	if err != nil {
		return err
	}
	resources = append(resources, bus)

	if sub, err := eventbus.StartLoggingListener(bus); err == nil {
		defer sub.Unsubscribe()
	}
	exporter := eventbus.NewMetricsExporter(bus, registry, time.Second)
	exporter.Start()
	defer exporter.Stop()

	bridge := room.NewBusBridge(bus, serviceName, 4096)
	go bridge.Run()
	defer bridge.Stop()

	// === КОМНАТЫ ===
	roomCfg := room.Config{
		Entity: entity.Config{
			WalkInterval:   cfg.Room.WalkInterval(),
			RequestTimeout: cfg.Room.RequestTimeout(),
		},
		MaxStepHeight:       cfg.Room.MaxStepHeight,
		SubscriberBuffer:    cfg.Room.SubscriberBuffer,
		IdleUnload:          cfg.Room.IdleUnload(),
		ShutdownParallelism: cfg.Room.ShutdownParallelism,
	}
	rooms := room.NewManager(appCtx, models, infos, positions, roomCfg, room.NewMetrics(registry))
	rooms.AddForwarder(bridge)
	go rooms.Run(appCtx)

	// === СЕТЬ ===
	sessionCfg := network.DefaultSessionConfig()
	if cfg.Server.MaxFrameBody > 0 {
		sessionCfg.MaxFrameBody = cfg.Server.MaxFrameBody
	}
	if cfg.Server.SendQueue > 0 {
		sessionCfg.SendQueue = cfg.Server.SendQueue
	}
	sessionCfg.RequestTimeout = cfg.Room.RequestTimeout()
	sessionCfg.AllowTeleport = cfg.Server.AllowTeleport

	server := network.NewServer(appCtx, rooms, sessionCfg, network.NewMetrics(registry))
	if _, err := server.ListenTCP(fmt.Sprintf(":%d", cfg.Server.GetTCPPort())); err != nil {
		return err
	}
	if _, err := server.ListenKCP(fmt.Sprintf(":%d", cfg.Server.GetKCPPort())); err != nil {
		return err
	}

	wsMux := http.NewServeMux()
	wsMux.Handle("/ws", server.WebSocketHandler())
	wsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.GetWSPort()),
		Handler:           wsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go serveHTTP("WebSocket", wsServer)

	health := network.NewHealthServer()
	if _, err := health.Listen(fmt.Sprintf(":%d", cfg.Server.GetGRPCPort())); err != nil {
		return err
	}
	defer health.Stop()

	// === REST API И МЕТРИКИ ===
	issuer, err := newIssuer(cfg.Auth.JWTSecret)
	if err != nil {
		return err
	}
	gin.SetMode(gin.ReleaseMode)
	rest := api.NewRestServer(api.Config{
		Port:     fmt.Sprintf(":%d", cfg.Server.GetRESTPort()),
		Rooms:    rooms,
		Sessions: server,
		Cache:    infos,
		Issuer:   issuer,
		Registry: registry,
		Version:  version,
		Timeout:  cfg.Room.RequestTimeout(),
	})
	go func() {
		if err := rest.Start(); err != nil {
			logging.Error("❌ REST API остановлен: %v", err)
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.GetMetricsPort()),
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go serveHTTP("Prometheus", metricsServer)

	health.SetServing(true)
	logging.Info("✅ Все сервисы запущены и готовы принимать соединения")
	logging.Info("   🎮 Клиенты: TCP :%d, KCP :%d, WebSocket :%d/ws",
		cfg.Server.GetTCPPort(), cfg.Server.GetKCPPort(), cfg.Server.GetWSPort())
	logging.Info("   🌐 REST API: http://localhost:%d", cfg.Server.GetRESTPort())
	logging.Info("   📊 Метрики: http://localhost:%d/metrics", cfg.Server.GetMetricsPort())

	<-ctx.Done()
	logging.Info("📡 Получен сигнал завершения, останавливаемся...")

	// === GRACEFUL SHUTDOWN ===
	health.SetServing(false)
	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(sctx); err != nil {
		logging.Warn("Сетевой сервер: %v", err)
	}
	_ = wsServer.Shutdown(sctx)
	if err := rest.Stop(sctx); err != nil {
		logging.Warn("REST API: %v", err)
	}
	rooms.Shutdown(sctx)
	_ = metricsServer.Shutdown(sctx)
	return nil
}

func serveHTTP(name string, srv *http.Server) {
	logging.Info("🌐 %s на %s", name, srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logging.Error("❌ %s остановлен: %v", name, err)
	}
}

// openRepositories MariaDB и Redis, если заданы; иначе память
func openRepositories(ctx context.Context, cfg *config.StorageConfig, resources *closers) (room.InfoProvider, room.PositionStore, error) {
	var (
		infos     room.InfoProvider
		positions room.PositionStore
	)

	if cfg.MariaDSN != "" {
		repo, err := storage.NewMariaRoomRepo(cfg.MariaDSN)
		if err != nil {
			return nil, nil, err
		}
		*resources = append(*resources, repo)
		if err := seedRooms(ctx, repo); err != nil {
			return nil, nil, err
		}
		infos = repo

		mariaPositions, err := storage.NewMariaPositionRepo(repo.DB())
		if err != nil {
			return nil, nil, err
		}
		positions = mariaPositions
		logging.Info("🗄️ Комнаты и позиции в MariaDB")
	} else {
		infos = storage.NewMemoryRoomRepo(storage.DefaultRooms()...)
		positions = storage.NewMemoryPositionRepo()
		logging.Warn("⚠️ MariaDB не настроена, комнаты и позиции в памяти")
	}

	// Redis для позиций приоритетнее MariaDB
	if cfg.RedisAddr != "" {
		redisCfg := storage.DefaultRedisConfig()
		redisCfg.Addr = cfg.RedisAddr
		repo, err := storage.NewRedisPositionRepo(ctx, redisCfg)
		if err != nil {
			return nil, nil, err
		}
		*resources = append(*resources, repo)
		positions = repo
	}
	return infos, positions, nil
}

// openRoomCache кеш описаний комнат: Redis, если задан, иначе память узла;
// инвалидации между узлами идут через NATS
func openRoomCache(ctx context.Context, cfg *config.Config, cold room.InfoProvider, resources *closers) (*cache.RoomInfoCache, error) {
	var hot cache.Cache = cache.NewMemoryCache()
	if cfg.Storage.RedisAddr != "" {
		redisCache, err := cache.NewRedisCache(&cache.CacheConfig{RedisURL: cfg.Storage.RedisAddr})
		if err != nil {
			return nil, err
		}
		hot = redisCache
	}
	*resources = append(*resources, hot)

	var invalidator cache.CacheInvalidator
	if cfg.EventBus.URL != "" {
		nodeID := uuid.NewString()
		natsInv, err := cache.NewNATSInvalidator(&cache.InvalidatorConfig{NATSURL: cfg.EventBus.URL}, nodeID)
		if err != nil {
			return nil, err
		}
		*resources = append(*resources, natsInv)
		invalidator = natsInv
	}

	ttl := time.Duration(cfg.Storage.InfoCacheSeconds) * time.Second
	infos := cache.NewRoomInfoCache(cold, hot, invalidator, ttl)
	if err := infos.Listen(ctx); err != nil {
		return nil, err
	}
	return infos, nil
}

func seedRooms(ctx context.Context, repo *storage.MariaRoomRepo) error {
	existing, err := repo.ListRooms(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	for _, info := range storage.DefaultRooms() {
		if err := repo.SaveRoom(ctx, info); err != nil {
			return err
		}
	}
	logging.Info("🌱 Созданы комнаты по умолчанию")
	return nil
}

func openEventBus(cfg *config.EventBusConfig) (eventbus.EventBus, error) {
	if cfg.URL == "" {
		logging.Info("🚌 Шина событий в памяти")
		return eventbus.NewMemoryBus(4096), nil
	}
	bus, err := eventbus.NewJetStreamBus(cfg.URL, cfg.Stream, time.Duration(cfg.Retention)*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("JetStream: %w", err)
	}
	return bus, nil
}

func newIssuer(secret string) (*auth.Issuer, error) {
	if secret == "" {
		logging.Warn("⚠️ auth.jwt_secret не задан, админские токены действуют до перезапуска")
		return auth.NewRandomIssuer(), nil
	}
	issuer, err := auth.NewIssuer(secret)
	if err != nil {
		return nil, fmt.Errorf("JWT секрет: %w", err)
	}
	return issuer, nil
}
