package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type AppConfig struct {
	Name            string `mapstructure:"name"`
	Env             string `mapstructure:"env"`
	Port            int    `mapstructure:"port"`
	ShutdownTimeout string `mapstructure:"shutdown_timeout"`
	AccessLog       bool   `mapstructure:"access_log"`
	BodyLimitBytes  int    `mapstructure:"body_limit_bytes"`
	CORSOrigins     string `mapstructure:"cors_origins"`
}

func (a AppConfig) Addr() string { return fmt.Sprintf(":%d", a.Port) }

func (a AppConfig) Dev() bool { return a.Env == "" || a.Env == "dev" || a.Env == "development" }

type StoreConfig struct {
	// Backend is "memory" or "mongo".
	Backend string `mapstructure:"backend"`
}

type MongoConfig struct {
	URI             string `mapstructure:"uri"`
	Database        string `mapstructure:"database"`
	NodesCollection string `mapstructure:"nodes_collection"`
	UsersCollection string `mapstructure:"users_collection"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type S3Config struct {
	Region            string `mapstructure:"region"`
	Bucket            string `mapstructure:"bucket"`
	Endpoint          string `mapstructure:"endpoint"`
	PublicRead        bool   `mapstructure:"public_read"`
	PresignTTLMinutes int    `mapstructure:"presign_ttl_minutes"`
}

type JWTConfig struct {
	Alg           string `mapstructure:"alg"`
	PublicKeyPath string `mapstructure:"public_key_path"`
	HSSecret      string `mapstructure:"hs_secret"`
}

type CryptoConfig struct {
	Secret string `mapstructure:"secret"`
}

type LimitsConfig struct {
	MaxImageDimension int   `mapstructure:"max_image_dimension"`
	MaxImageBytes     int64 `mapstructure:"max_image_bytes"`
	MaxVideoBytes     int64 `mapstructure:"max_video_bytes"`
	MaxVideoSeconds   int   `mapstructure:"max_video_seconds"`
	MaxVoiceBytes     int64 `mapstructure:"max_voice_bytes"`
	MaxInlineBytes    int   `mapstructure:"max_inline_bytes"`
	MaxWSFrameBytes   int64 `mapstructure:"max_ws_frame_bytes"`
}

type RateLimitConfig struct {
	PerMinute int `mapstructure:"per_minute"`
	Burst     int `mapstructure:"burst"`
}

type UsersConfig struct {
	CacheSize       int `mapstructure:"cache_size"`
	CacheTTLSeconds int `mapstructure:"cache_ttl_seconds"`
}

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Store     StoreConfig     `mapstructure:"store"`
	Mongo     MongoConfig     `mapstructure:"mongo"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	NATS      NATSConfig      `mapstructure:"nats"`
	S3        S3Config        `mapstructure:"s3"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Crypto    CryptoConfig    `mapstructure:"crypto"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Users     UsersConfig     `mapstructure:"users"`
}

func (c *Config) ShutdownTimeout() time.Duration {
	d, err := time.ParseDuration(c.App.ShutdownTimeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

func (c *Config) PresignTTL() time.Duration {
	return time.Duration(c.S3.PresignTTLMinutes) * time.Minute
}

func (c *Config) UsersCacheTTL() time.Duration {
	return time.Duration(c.Users.CacheTTLSeconds) * time.Second
}

func (c *Config) MaxVideoDuration() time.Duration {
	return time.Duration(c.Limits.MaxVideoSeconds) * time.Second
}

// envOnly are keys with no default that are usually set from the environment.
var envOnly = []string{
	"crypto.secret",
	"jwt.public_key_path", "jwt.hs_secret",
	"mongo.uri",
	"redis.addr", "redis.password", "redis.db",
	"kafka.brokers",
	"nats.url",
	"s3.region", "s3.bucket", "s3.endpoint", "s3.public_read",
	"app.access_log", "app.cors_origins",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "travel-chat")
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.port", 8085)
	v.SetDefault("app.shutdown_timeout", "10s")
	v.SetDefault("app.body_limit_bytes", 32<<20)

	v.SetDefault("store.backend", "memory")
	v.SetDefault("mongo.database", "chatdb")
	v.SetDefault("mongo.nodes_collection", "nodes")
	v.SetDefault("mongo.users_collection", "users")
	v.SetDefault("redis.prefix", "chat")
	v.SetDefault("kafka.topic", "chat.messages")
	v.SetDefault("s3.presign_ttl_minutes", 7*24*60)

	v.SetDefault("jwt.alg", "RS256")

	v.SetDefault("limits.max_image_dimension", 1280)
	v.SetDefault("limits.max_image_bytes", 20<<20)
	v.SetDefault("limits.max_video_bytes", 25<<20)
	v.SetDefault("limits.max_video_seconds", 60)
	v.SetDefault("limits.max_voice_bytes", 5<<20)
	v.SetDefault("limits.max_inline_bytes", 8<<20)
	v.SetDefault("limits.max_ws_frame_bytes", 32<<20)

	v.SetDefault("ratelimit.per_minute", 120)
	v.SetDefault("ratelimit.burst", 10)

	v.SetDefault("users.cache_size", 1024)
	v.SetDefault("users.cache_ttl_seconds", 300)
}

// Load reads .env, then the YAML file at path (or $CONFIG_PATH), then env
// overrides such as MONGO_URI for mongo.uri. A missing file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if p := os.Getenv("CONFIG_PATH"); p != "" {
		path = p
	}
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Unmarshal only sees keys viper already knows about.
	for _, k := range envOnly {
		_ = v.BindEnv(k)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.App.Port <= 0 {
		return errors.New("app.port missing or invalid")
	}
	if cfg.Crypto.Secret == "" {
		return errors.New("crypto.secret missing")
	}

	switch cfg.Store.Backend {
	case "memory":
	case "mongo":
		if cfg.Mongo.URI == "" {
			return errors.New("mongo.uri required for the mongo backend")
		}
		if cfg.Redis.Addr == "" {
			return errors.New("redis.addr required for the mongo backend")
		}
	default:
		return fmt.Errorf("store.backend %q unsupported", cfg.Store.Backend)
	}

	switch strings.ToUpper(cfg.JWT.Alg) {
	case "RS256":
		if cfg.JWT.PublicKeyPath == "" {
			return errors.New("jwt.public_key_path required for RS256")
		}
	case "HS256":
		if cfg.JWT.HSSecret == "" {
			return errors.New("jwt.hs_secret required for HS256")
		}
	default:
		return fmt.Errorf("jwt.alg %q unsupported", cfg.JWT.Alg)
	}

	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.Topic == "" {
		return errors.New("kafka.topic missing")
	}
	return nil
}
