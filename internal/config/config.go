package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации сервера комнат.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Room      RoomConfig      `yaml:"room"`
	Logging   LoggingConfig   `yaml:"logging"`
	EventBus  EventBusConfig  `yaml:"eventbus"`
	Storage   StorageConfig   `yaml:"storage"`
	Auth      AuthConfig      `yaml:"auth"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	TCPPort     int `yaml:"tcp_port"`
	KCPPort     int `yaml:"kcp_port"`
	WSPort      int `yaml:"ws_port"`
	RESTPort    int `yaml:"rest_port"`
	MetricsPort int `yaml:"metrics_port"`
	GRPCPort    int `yaml:"grpc_port"`
	// MaxFrameBody ограничивает размер тела входящего кадра
	MaxFrameBody int `yaml:"max_frame_body"`
	SendQueue    int `yaml:"send_queue"`
	// AllowTeleport разрешает клиентам служебный кадр телепорта
	AllowTeleport bool `yaml:"allow_teleport"`
}

type RoomConfig struct {
	WalkIntervalMs      int     `yaml:"walk_interval_ms"`
	RequestTimeoutMs    int     `yaml:"request_timeout_ms"`
	MaxStepHeight       float64 `yaml:"max_step_height"`
	SubscriberBuffer    int     `yaml:"subscriber_buffer"`
	IdleUnloadSeconds   int     `yaml:"idle_unload_seconds"`
	ShutdownParallelism int     `yaml:"shutdown_parallelism"`
}

type LoggingConfig struct {
	Dir          string `yaml:"dir"`
	ConsoleLevel string `yaml:"console_level"`
	FileLevel    string `yaml:"file_level"`
}

type EventBusConfig struct {
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
}

type StorageConfig struct {
	BadgerPath string `yaml:"badger_path"`
	RedisAddr  string `yaml:"redis_addr"`
	MariaDSN   string `yaml:"maria_dsn"`
	// InfoCacheSeconds срок кеширования описаний комнат
	InfoCacheSeconds int `yaml:"info_cache_seconds"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type TelemetryConfig struct {
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	Insecure     bool    `yaml:"insecure"`
	SampleRatio  float64 `yaml:"sample_ratio"`
}

// Default возвращает конфигурацию со значениями по умолчанию
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			MaxFrameBody: 8192,
			SendQueue:    256,
		},
		Room: RoomConfig{
			WalkIntervalMs:      499,
			RequestTimeoutMs:    2000,
			MaxStepHeight:       1.5,
			SubscriberBuffer:    128,
			IdleUnloadSeconds:   60,
			ShutdownParallelism: 8,
		},
		Logging: LoggingConfig{
			Dir:          "logs",
			ConsoleLevel: "info",
			FileLevel:    "debug",
		},
		EventBus: EventBusConfig{
			Stream:    "ROOM_EVENTS",
			Retention: 24,
		},
		Storage: StorageConfig{
			BadgerPath:       "data",
			InfoCacheSeconds: 300,
		},
		Telemetry: TelemetryConfig{
			SampleRatio: 0.1,
		},
	}
}

// GetTCPPort возвращает TCP порт с поддержкой fallback значений
func (s *ServerConfig) GetTCPPort() int {
	return getPortWithEnvFallback(s.TCPPort, "ROOM_TCP_PORT", 30000)
}

// GetKCPPort возвращает KCP (UDP) порт с поддержкой fallback значений
func (s *ServerConfig) GetKCPPort() int {
	return getPortWithEnvFallback(s.KCPPort, "ROOM_KCP_PORT", 30001)
}

// GetWSPort возвращает порт WebSocket (путь /ws)
func (s *ServerConfig) GetWSPort() int {
	return getPortWithEnvFallback(s.WSPort, "ROOM_WS_PORT", 30002)
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "ROOM_REST_PORT", 8088)
}

// GetMetricsPort возвращает Prometheus метрики порт с поддержкой fallback значений
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "ROOM_METRICS_PORT", 2112)
}

// GetGRPCPort возвращает порт gRPC health сервиса
func (s *ServerConfig) GetGRPCPort() int {
	return getPortWithEnvFallback(s.GRPCPort, "ROOM_GRPC_PORT", 9090)
}

func (r *RoomConfig) WalkInterval() time.Duration {
	return millisOr(r.WalkIntervalMs, 499)
}

func (r *RoomConfig) RequestTimeout() time.Duration {
	return millisOr(r.RequestTimeoutMs, 2000)
}

func (r *RoomConfig) IdleUnload() time.Duration {
	if r.IdleUnloadSeconds <= 0 {
		return 0
	}
	return time.Duration(r.IdleUnloadSeconds) * time.Second
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}

func millisOr(ms, def int) time.Duration {
	if ms <= 0 {
		ms = def
	}
	return time.Duration(ms) * time.Millisecond
}

// Load читает YAML файл поверх значений по умолчанию.
// Если path == "", берёт путь из ENV ROOM_CONFIG; без него возвращает Default().
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("ROOM_CONFIG")
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	// Секрет из окружения приоритетнее файла
	if v := os.Getenv("ROOM_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}

	return cfg, nil
}
