package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type Config struct {
	ServerAddress string `env:"SERVER_ADDRESS" envDefault:"0.0.0.0:8080"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	CookieSecure  bool   `env:"COOKIE_SECURE" envDefault:"false"`
	SupabaseConfig
	PostgresConfig
	NotifyConfig
	RateConfig
}

// NewConfig reads an optional .env file from the working directory and then the process environment.
// Variables already set in the environment win over the file.
func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	config := &Config{}

	err := env.Parse(config)
	if err != nil {
		err = fmt.Errorf("config.NewConfig: %w", err)
	}
	return config, err
}

type SupabaseConfig struct {
	URL       string        `env:"SUPABASE_URL,required,notEmpty"`
	AnonKey   string        `env:"SUPABASE_ANON_KEY,required,notEmpty"`
	JWTSecret string        `env:"SUPABASE_JWT_SECRET"`
	Timeout   time.Duration `env:"SUPABASE_TIMEOUT" envDefault:"0s"`
}

// PostgresConfig is only used for schema migrations. Leaving Conn empty disables them.
type PostgresConfig struct {
	Conn            string `env:"POSTGRES_CONN"`
	AutoMigrateUp   string `env:"AUTO_MIGRATE_UP" envDefault:"true"`
	AutoMigrateDown string `env:"AUTO_MIGRATE_DOWN" envDefault:"false"`
}

func NewPostgresConfig() (*PostgresConfig, error) {
	config := &PostgresConfig{}

	err := env.Parse(config)
	if err != nil {
		err = fmt.Errorf("config.NewPostgresConfig: %w", err)
	}
	return config, err
}

type NotifyConfig struct {
	TTL   time.Duration `env:"NOTIFY_TTL" envDefault:"3s"`
	Limit int           `env:"NOTIFY_LIMIT" envDefault:"5"`
}

// RateConfig limits /api/auth per client address. Forwarding headers are only trusted
// with TrustProxy set, otherwise the socket address is the client.
type RateConfig struct {
	AuthRateLimit float64       `env:"AUTH_RATE_LIMIT" envDefault:"5"`
	AuthRateBurst int           `env:"AUTH_RATE_BURST" envDefault:"10"`
	AuthRateIdle  time.Duration `env:"AUTH_RATE_IDLE" envDefault:"10m"`
	TrustProxy    bool          `env:"TRUST_PROXY" envDefault:"false"`
}
