package config

import (
	"time"

	"github.com/korosenseiac/Teloks/internal/util"
)

// Telegram holds the credentials for the delivery identity (the bot) and the
// application identity used when no per-user credentials exist yet.
type Telegram struct {
	BotToken string
	AppID    int
	AppHash  string
}

// Mongo is the durable store connection.
type Mongo struct {
	URI      string
	Database string
}

// Redis backs the transient login-attempt records.
type Redis struct {
	Addr     string
	Password string
	DB       int
}

// Login tunes the interactive login flow.
type Login struct {
	AttemptTTL time.Duration
	MaxRetries int
}

// Relay tunes the content relay pipeline and client manager.
type Relay struct {
	IntermediaryGroupID int64
	OwnerID             int64
	JobConcurrency      int
	JobQueueDepth       int
	TransferRetries     int
	ClientIdleWindow    time.Duration
	MaxFileBytes        int64
	ChunkBytes          int
}

// Dashboard is the read-only HTTP surface.
type Dashboard struct {
	Enabled bool
	Addr    string
}

// Logger controls the zerolog output.
type Logger struct {
	Level              string
	PrettyPrintConsole bool
}

// Server is the single immutable configuration structure, validated once at
// startup and injected into components.
type Server struct {
	Telegram  Telegram
	Mongo     Mongo
	Redis     Redis
	Login     Login
	Relay     Relay
	Dashboard Dashboard
	Logger    Logger
}

// DefaultServerConfigFromEnv assembles the Server config from environment
// variables, applying documented defaults for every tunable.
func DefaultServerConfigFromEnv() Server {
	return Server{
		Telegram: Telegram{
			BotToken: util.GetEnv("RELAY_BOT_TOKEN", ""),
			AppID:    util.GetEnvAsInt("RELAY_APP_ID", 0),
			AppHash:  util.GetEnv("RELAY_APP_HASH", ""),
		},
		Mongo: Mongo{
			URI:      util.GetEnv("RELAY_MONGO_URI", "mongodb://localhost:27017"),
			Database: util.GetEnv("RELAY_MONGO_DATABASE", "telegram_forwarder"),
		},
		Redis: Redis{
			Addr:     util.GetEnv("RELAY_REDIS_ADDR", "localhost:6379"),
			Password: util.GetEnv("RELAY_REDIS_PASSWORD", ""),
			DB:       util.GetEnvAsInt("RELAY_REDIS_DB", 0),
		},
		Login: Login{
			AttemptTTL: util.GetEnvAsDurationSec("RELAY_LOGIN_ATTEMPT_TTL_SEC", 10*time.Minute),
			MaxRetries: util.GetEnvAsInt("RELAY_LOGIN_MAX_RETRIES", 3),
		},
		Relay: Relay{
			IntermediaryGroupID: util.GetEnvAsInt64("RELAY_GROUP_ID", 0),
			OwnerID:             util.GetEnvAsInt64("RELAY_OWNER_ID", 0),
			JobConcurrency:      util.GetEnvAsInt("RELAY_JOB_CONCURRENCY", 4),
			JobQueueDepth:       util.GetEnvAsInt("RELAY_JOB_QUEUE_DEPTH", 64),
			TransferRetries:     util.GetEnvAsInt("RELAY_TRANSFER_RETRIES", 3),
			ClientIdleWindow:    util.GetEnvAsDurationSec("RELAY_CLIENT_IDLE_SEC", 15*time.Minute),
			MaxFileBytes:        util.GetEnvAsInt64("RELAY_MAX_FILE_BYTES", 600*1024*1024),
			ChunkBytes:          util.GetEnvAsInt("RELAY_CHUNK_BYTES", 512*1024),
		},
		Dashboard: Dashboard{
			Enabled: util.GetEnvAsBool("RELAY_DASHBOARD_ENABLED", true),
			Addr:    util.GetEnv("RELAY_DASHBOARD_ADDR", ":8080"),
		},
		Logger: Logger{
			Level:              util.GetEnv("RELAY_LOG_LEVEL", "info"),
			PrettyPrintConsole: util.GetEnvAsBool("RELAY_LOG_PRETTY", false),
		},
	}
}
