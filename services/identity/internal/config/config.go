package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"

	base "github.com/sodmaq/NestMongo/libs/config"
)

type Argon2Params struct {
	Memory      uint32 `env:"MEMORY" envDefault:"65536"`
	Iterations  uint32 `env:"ITERATIONS" envDefault:"3"`
	Parallelism uint8  `env:"PARALLELISM" envDefault:"2"`
	SaltLength  uint32 `env:"SALT_LENGTH" envDefault:"16"`
	KeyLength   uint32 `env:"KEY_LENGTH" envDefault:"32"`
}

type TokenConfig struct {
	Secret string        `env:"SECRET"`
	TTL    time.Duration `env:"TTL"`
}

type JWTConfig struct {
	Issuer       string      `env:"ISSUER" envDefault:"identity"`
	Access       TokenConfig `envPrefix:"ACCESS_"`
	Refresh      TokenConfig `envPrefix:"REFRESH_"`
	Verification TokenConfig `envPrefix:"VERIFICATION_"`
}

type RecoveryConfig struct {
	OTPTTL        time.Duration `env:"OTP_TTL" envDefault:"600s"`
	RateLimitTTL  time.Duration `env:"RATE_LIMIT_TTL" envDefault:"120s"`
	ResetTokenTTL time.Duration `env:"RESET_TOKEN_TTL" envDefault:"600s"`
	MaxAttempts   int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	OTPHashCost   int           `env:"OTP_HASH_COST" envDefault:"10"`
}

type DBConfig struct {
	Host     string `env:"HOST" envDefault:"localhost"`
	Port     int    `env:"PORT" envDefault:"5432"`
	Name     string `env:"DB" envDefault:"identity"`
	User     string `env:"USER" envDefault:"identity"`
	Password string `env:"PASSWORD" envDefault:"identity"`
	SSLMode  string `env:"SSLMODE" envDefault:"disable"`
	Migrate  bool   `env:"MIGRATE" envDefault:"true"`
}

func (c DBConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.Name,
		RawQuery: url.Values{"sslmode": []string{c.SSLMode}}.Encode(),
	}
	return u.String()
}

type RedisConfig struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
	Prefix   string `env:"PREFIX" envDefault:"identity:"`
}

type KafkaConfig struct {
	Brokers  []string `env:"BROKERS" envSeparator:","`
	Topic    string   `env:"TOPIC" envDefault:"identity.notifications"`
	DLQTopic string   `env:"DLQ_TOPIC" envDefault:"identity.notifications.dlq"`
	ClientID string   `env:"CLIENT_ID" envDefault:"identity"`
}

type Config struct {
	App       base.AppConfig
	ClientURL string         `env:"IDENTITY_CLIENT_URL" envDefault:"http://localhost:3000"`
	JWT       JWTConfig      `envPrefix:"IDENTITY_JWT_"`
	Argon2    Argon2Params   `envPrefix:"IDENTITY_ARGON2_"`
	Recovery  RecoveryConfig `envPrefix:"IDENTITY_RECOVERY_"`
	DB        DBConfig       `envPrefix:"POSTGRES_"`
	Redis     RedisConfig    `envPrefix:"IDENTITY_REDIS_"`
	Kafka     KafkaConfig    `envPrefix:"IDENTITY_KAFKA_"`
}

func Load() (*Config, error) {
	appCfg, err := base.Load(os.Getenv("IDENTITY_CONFIG"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		JWT: JWTConfig{
			Access:       TokenConfig{TTL: 15 * time.Minute},
			Refresh:      TokenConfig{TTL: 7 * 24 * time.Hour},
			Verification: TokenConfig{TTL: 24 * time.Hour},
		},
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.App = *appCfg

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	secrets := map[string]string{
		"IDENTITY_JWT_ACCESS_SECRET":       c.JWT.Access.Secret,
		"IDENTITY_JWT_REFRESH_SECRET":      c.JWT.Refresh.Secret,
		"IDENTITY_JWT_VERIFICATION_SECRET": c.JWT.Verification.Secret,
	}
	for name, secret := range secrets {
		if secret == "" {
			return fmt.Errorf("%s must be set", name)
		}
	}
	if c.JWT.Access.Secret == c.JWT.Refresh.Secret ||
		c.JWT.Access.Secret == c.JWT.Verification.Secret ||
		c.JWT.Refresh.Secret == c.JWT.Verification.Secret {
		return fmt.Errorf("jwt secrets must differ per token class")
	}
	if c.Recovery.MaxAttempts <= 0 {
		return fmt.Errorf("IDENTITY_RECOVERY_MAX_ATTEMPTS must be positive")
	}
	return nil
}
