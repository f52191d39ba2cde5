package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	HttpServerPort uint16   `env:"HTTP_SERVER_PORT" envDefault:"8085" validate:"min=1000,max=65535"`
	WsPath         string   `env:"WS_PATH"          envDefault:"/ws"  validate:"startswith=/"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS"  envDefault:"*"    envSeparator:","`

	UserStore string `env:"USER_STORE" envDefault:"memory" validate:"oneof=memory postgres mongo"`

	PostgresHost     string `env:"POSTGRES_HOST"     envDefault:"localhost"`
	PostgresPort     string `env:"POSTGRES_PORT"     envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER"     envDefault:"game_user"`
	PostgresPassword string `env:"POSTGRES_PASSWORD" envDefault:"game_password"`
	PostgresDb       string `env:"POSTGRES_DB"       envDefault:"game_db"`

	MongoURI string `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
	MongoDb  string `env:"MONGO_DB"  envDefault:"gameserver"`

	RedisEnabled  bool   `env:"REDIS_ENABLED"  envDefault:"false"`
	RedisHost     string `env:"REDIS_HOST"     envDefault:"localhost"`
	RedisPort     uint16 `env:"REDIS_PORT"     envDefault:"6379" validate:"min=1000,max=65535"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDb       int    `env:"REDIS_DB"       envDefault:"0"    validate:"min=0"`

	PresenceTTL             time.Duration `env:"PRESENCE_TTL"              envDefault:"90s"`
	PresenceRefreshInterval time.Duration `env:"PRESENCE_REFRESH_INTERVAL" envDefault:"30s"`
	SessionLogEnabled       bool          `env:"SESSION_LOG_ENABLED"       envDefault:"false"`

	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"30s"`
	HeartbeatTimeout  time.Duration `env:"HEARTBEAT_TIMEOUT"  envDefault:"2m"`
	ReadLimit         int64         `env:"READ_LIMIT"         envDefault:"4096" validate:"min=128"`
	HandlerTimeout    time.Duration `env:"HANDLER_TIMEOUT"    envDefault:"5s"`
	DuplicateLogin    string        `env:"DUPLICATE_LOGIN"    envDefault:"evict" validate:"oneof=evict reject"`

	RateLimitPerSecond float64 `env:"RATE_LIMIT_PER_SECOND" envDefault:"20" validate:"min=0"`
	RateLimitBurst     int     `env:"RATE_LIMIT_BURST"      envDefault:"40" validate:"min=0"`

	BroadcastRetryAttempts int           `env:"BROADCAST_RETRY_ATTEMPTS" envDefault:"3"  validate:"min=1,max=10"`
	BroadcastRetryBackoff  time.Duration `env:"BROADCAST_RETRY_BACKOFF"  envDefault:"1s"`

	ChatBatchInterval  time.Duration `env:"CHAT_BATCH_INTERVAL"  envDefault:"0s"`
	ChatBatchSize      int           `env:"CHAT_BATCH_SIZE"      envDefault:"0"     validate:"min=0"`
	GroupBatchInterval time.Duration `env:"GROUP_BATCH_INTERVAL" envDefault:"100ms"`
	GroupBatchSize     int           `env:"GROUP_BATCH_SIZE"     envDefault:"4096"  validate:"min=0"`
}

func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	err := godotenv.Load(".env")
	if err != nil {
		zap.L().Debug(".env file not found", zap.Error(err))
	}

	cfg := &Config{}
	if err = env.Parse(cfg); err != nil {
		zap.L().Error("config_load_failed", zap.Error(err))
		return nil, err
	}

	validate := validator.New()
	validate.RegisterStructValidation(validateDurations, Config{})
	if err = validate.Struct(cfg); err != nil {
		zap.L().Error("config_validation_failed", zap.Error(err))
		return nil, err
	}
	return cfg, nil
}

// the heartbeat check must run more often than the staleness window it enforces
func validateDurations(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(Config)
	if cfg.HeartbeatInterval <= 0 || cfg.HeartbeatTimeout < cfg.HeartbeatInterval {
		sl.ReportError(cfg.HeartbeatTimeout, "HeartbeatTimeout", "HeartbeatTimeout", "gtefield_interval", "")
	}
	if cfg.BroadcastRetryBackoff < 0 {
		sl.ReportError(cfg.BroadcastRetryBackoff, "BroadcastRetryBackoff", "BroadcastRetryBackoff", "min", "0")
	}
	if cfg.RedisEnabled && cfg.PresenceRefreshInterval >= cfg.PresenceTTL {
		sl.ReportError(cfg.PresenceRefreshInterval, "PresenceRefreshInterval", "PresenceRefreshInterval", "ltfield_ttl", "")
	}
}
