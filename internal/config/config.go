package config

import (
	"time"

	"github.com/spf13/viper"

	pkgconfig "github.com/Shockvaluemedia/directfanz-messaging/pkg/config"
)

type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	Auth      AuthConfig
	Push      PushConfig
	Storage   StorageConfig
	Presence  PresenceConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host       string
	Port       int
	InstanceID string `mapstructure:"instance_id"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
	// Enabled false runs the node standalone: in-process bridge,
	// local rate limits, no shared presence.
	Enabled bool
}

type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	// Path is used by the sqlite driver only.
	Path string
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string
}

type PushConfig struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type StorageConfig struct {
	Backend   string // "s3" or "local"
	LocalPath string `mapstructure:"local_path"`

	S3Endpoint     string `mapstructure:"s3_endpoint"`
	S3Region       string `mapstructure:"s3_region"`
	S3Bucket       string `mapstructure:"s3_bucket"`
	S3AccessKey    string `mapstructure:"s3_access_key"`
	S3SecretKey    string `mapstructure:"s3_secret_key"`
	S3UsePathStyle bool   `mapstructure:"s3_use_path_style"`
	S3PublicURL    string `mapstructure:"s3_public_url"`
}

type PresenceConfig struct {
	TypingTTL   time.Duration `mapstructure:"typing_ttl"`
	PresenceTTL time.Duration `mapstructure:"presence_ttl"`
}

type LogConfig struct {
	Level  string
	Pretty bool
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.instance_id", "")
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 65536)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.enabled", true)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "messaging")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "messaging")
	v.SetDefault("database.path", "./messaging.db")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "directfanz")
	v.SetDefault("push.webhook_url", "")
	v.SetDefault("push.timeout", "5s")
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_path", "./uploads")
	v.SetDefault("storage.s3_region", "us-east-1")
	v.SetDefault("storage.s3_use_path_style", false)
	v.SetDefault("presence.typing_ttl", "3s")
	v.SetDefault("presence.presence_ttl", "60s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.instance_id", "INSTANCE_ID")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.enabled", "REDIS_ENABLED")
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.name", "DB_NAME")
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("push.webhook_url", "PUSH_WEBHOOK_URL")
	v.BindEnv("storage.s3_access_key", "S3_ACCESS_KEY")
	v.BindEnv("storage.s3_secret_key", "S3_SECRET_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = parseDuration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)
	cfg.Push.Timeout = parseDuration(v, "push.timeout", 5*time.Second)
	cfg.Presence.TypingTTL = parseDuration(v, "presence.typing_ttl", 3*time.Second)
	cfg.Presence.PresenceTTL = parseDuration(v, "presence.presence_ttl", 60*time.Second)

	return &cfg, nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	str := v.GetString(key)
	d, err := time.ParseDuration(str)
	if err != nil {
		return defaultVal
	}
	return d
}
