package config

import (
	"errors"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"

	RoleStoreMemory    = "memory"
	RoleStoreFirestore = "firestore"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config centraliza la configuración del servidor de consultas.
type Config struct {
	HTTPPort       string `env:"HTTP_PORT" envDefault:"8080"`
	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"memory"`
	DatabaseURL    string `env:"DATABASE_URL"`
	SQLitePath     string `env:"SQLITE_PATH" envDefault:"consult-room.db"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	SendRateWindowSeconds int `env:"SEND_RATE_WINDOW_SECONDS" envDefault:"10"`
	SendRateMax           int `env:"SEND_RATE_MAX" envDefault:"20"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	WSPingIntervalMS int   `env:"WS_PING_INTERVAL_MS" envDefault:"30000"`
	WSWriteTimeoutMS int   `env:"WS_WRITE_TIMEOUT_MS" envDefault:"10000"`
	WSReadTimeoutMS  int   `env:"WS_READ_TIMEOUT_MS" envDefault:"60000"`
	WSMaxMessageSize int64 `env:"WS_MAX_MESSAGE_SIZE" envDefault:"65536"`

	RoleStore        string `env:"ROLE_STORE" envDefault:"memory"`
	FirestoreProject string `env:"FIRESTORE_PROJECT"`
	UsersCollection  string `env:"USERS_COLLECTION" envDefault:"users"`

	// Usuarios que el role store en memoria crea al arrancar.
	RoleStoreSeedUsers []string `env:"ROLE_STORE_SEED_USERS" envSeparator:","`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	cfg.StorageBackend = strings.ToLower(strings.TrimSpace(cfg.StorageBackend))
	cfg.RoleStore = strings.ToLower(strings.TrimSpace(cfg.RoleStore))
	seeds := cfg.RoleStoreSeedUsers[:0]
	for _, id := range cfg.RoleStoreSeedUsers {
		if id = strings.TrimSpace(id); id != "" {
			seeds = append(seeds, id)
		}
	}
	cfg.RoleStoreSeedUsers = seeds
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate revisa los requisitos de cada backend.
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case StorageMemory:
	case StoragePostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return errors.Join(ErrInvalidConfig, errors.New("DATABASE_URL is required for postgres storage"))
		}
	case StorageSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return errors.Join(ErrInvalidConfig, errors.New("SQLITE_PATH is required for sqlite storage"))
		}
	default:
		return errors.Join(ErrInvalidConfig, errors.New("unknown STORAGE_BACKEND "+c.StorageBackend))
	}

	switch c.RoleStore {
	case RoleStoreMemory:
	case RoleStoreFirestore:
		if strings.TrimSpace(c.FirestoreProject) == "" {
			return errors.Join(ErrInvalidConfig, errors.New("FIRESTORE_PROJECT is required for firestore role store"))
		}
	default:
		return errors.Join(ErrInvalidConfig, errors.New("unknown ROLE_STORE "+c.RoleStore))
	}
	return nil
}

func (c *Config) SendRateWindow() time.Duration {
	return time.Duration(c.SendRateWindowSeconds) * time.Second
}

func (c *Config) WSPingInterval() time.Duration {
	return time.Duration(c.WSPingIntervalMS) * time.Millisecond
}

func (c *Config) WSWriteTimeout() time.Duration {
	return time.Duration(c.WSWriteTimeoutMS) * time.Millisecond
}

func (c *Config) WSReadTimeout() time.Duration {
	return time.Duration(c.WSReadTimeoutMS) * time.Millisecond
}

// ClientConfig configura el cliente de terminal.
type ClientConfig struct {
	ServerURL           string        `env:"SERVER_URL" envDefault:"ws://localhost:8080"`
	SessionID           string        `env:"SESSION_ID"`
	UserID              string        `env:"USER_ID"`
	DeliveryTimeout     time.Duration `env:"DELIVERY_TIMEOUT" envDefault:"10s"`
	HandshakeTimeout    time.Duration `env:"HANDSHAKE_TIMEOUT" envDefault:"10s"`
	ReconnectInterval   time.Duration `env:"RECONNECT_INTERVAL" envDefault:"1s"`
	MaxReconnectElapsed time.Duration `env:"MAX_RECONNECT_ELAPSED" envDefault:"2m"`
}

// LoadClientConfig carga la configuración del cliente desde el entorno.
func LoadClientConfig() (*ClientConfig, error) {
	var cfg ClientConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	cfg.ServerURL = strings.TrimRight(strings.TrimSpace(cfg.ServerURL), "/")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *ClientConfig) Validate() error {
	var errs []error
	if !strings.HasPrefix(c.ServerURL, "ws://") && !strings.HasPrefix(c.ServerURL, "wss://") {
		errs = append(errs, errors.New("SERVER_URL must start with ws:// or wss://"))
	}
	if strings.TrimSpace(c.SessionID) == "" {
		errs = append(errs, errors.New("SESSION_ID is required"))
	}
	if strings.TrimSpace(c.UserID) == "" {
		errs = append(errs, errors.New("USER_ID is required"))
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidConfig}, errs...)...)
	}
	return nil
}
