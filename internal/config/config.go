package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Storage   StorageConfig
	Images    ImagesConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Kafka     KafkaConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	DSN            string
	AutoMigrate    bool
	ConnectRetries uint64
}

type StorageConfig struct {
	Driver string // "local" or "s3"
	Local  LocalStorageConfig
	S3     S3StorageConfig
}

type LocalStorageConfig struct {
	Root    string
	BaseURL string
}

// S3StorageConfig covers AWS S3 and S3 compatible stores such as
// Cloudflare R2. When AccountID is set the R2 endpoint is derived from it.
type S3StorageConfig struct {
	Bucket          string
	Region          string
	AccountID       string
	Endpoint        string
	AccessKeyID     string
	AccessKeySecret string
	PublicURL       string
}

type ImagesConfig struct {
	Processor      string // "imaging" or "vips"
	Scale          float64
	Quality        int
	MaxUploadBytes int64
}

type AuthConfig struct {
	JWTSecret     string
	TokenTTL      time.Duration
	SessionSecret string
	SecureCookie  bool
	GoogleKey     string
	GoogleSecret  string
	CallbackURL   string
}

type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

type KafkaConfig struct {
	Brokers        []string
	Topic          string
	ClientID       string
	PublishTimeout time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads .env (if present), then an optional config file, then BABL_*
// environment variables, over the defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("babl")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return errors.New("config: database.dsn is required")
	}
	switch c.Storage.Driver {
	case "local":
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return errors.New("config: storage.s3.bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Images.Processor {
	case "imaging", "vips":
	default:
		return fmt.Errorf("config: unknown image processor %q", c.Images.Processor)
	}
	if c.Images.Scale < 1 {
		return fmt.Errorf("config: images.scale must be >= 1, got %v", c.Images.Scale)
	}
	if c.Images.Quality < 1 || c.Images.Quality > 100 {
		return fmt.Errorf("config: images.quality must be within 1..100, got %d", c.Images.Quality)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("config: auth.jwtsecret is required")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":3000")
	v.SetDefault("server.readTimeout", "15s")
	v.SetDefault("server.writeTimeout", "30s")
	v.SetDefault("server.idleTimeout", "120s")
	v.SetDefault("server.shutdownTimeout", "10s")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.autoMigrate", true)
	v.SetDefault("database.connectRetries", 5)

	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.local.root", "media")
	v.SetDefault("storage.local.baseURL", "/media")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.region", "auto")
	v.SetDefault("storage.s3.accountID", "")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.accessKeyID", "")
	v.SetDefault("storage.s3.accessKeySecret", "")
	v.SetDefault("storage.s3.publicURL", "")

	v.SetDefault("images.processor", "imaging")
	v.SetDefault("images.scale", 1.5)
	v.SetDefault("images.quality", 25)
	v.SetDefault("images.maxUploadBytes", 10<<20)

	v.SetDefault("auth.jwtSecret", "")
	v.SetDefault("auth.tokenTTL", "720h")
	v.SetDefault("auth.sessionSecret", "")
	v.SetDefault("auth.secureCookie", false)
	v.SetDefault("auth.googleKey", "")
	v.SetDefault("auth.googleSecret", "")
	v.SetDefault("auth.callbackURL", "http://localhost:3000/auth/google/callback")

	v.SetDefault("rateLimit.requests", 20)
	v.SetDefault("rateLimit.window", "1m")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "babl.events")
	v.SetDefault("kafka.clientID", "babl-api")
	v.SetDefault("kafka.publishTimeout", "2s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
