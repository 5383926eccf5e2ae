// README: Config loader backed by viper: optional .env file, env overrides, tag driven defaults.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/viper"
)

// Config holds the dispatch service configuration.
// Tags used:
// - mapstructure: env key read by viper
// - default: value used when the key is missing
// - required: if "true", error if missing
type Config struct {
	Environment string `mapstructure:"APP_ENV" default:"development"`
	LogLevel    string `mapstructure:"LOG_LEVEL" default:"info"`
	// TimeZone decides which calendar day "today" is for tour requests.
	TimeZone string `mapstructure:"DISPATCH_TIMEZONE" default:"UTC"`

	HTTP        HTTPConfig        `mapstructure:",squash"`
	DB          DBConfig          `mapstructure:",squash"`
	Redis       RedisConfig       `mapstructure:",squash"`
	Firebase    FirebaseConfig    `mapstructure:",squash"`
	Scoring     ScoringConfig     `mapstructure:",squash"`
	Dispatch    DispatchConfig    `mapstructure:",squash"`
	Feed        FeedConfig        `mapstructure:",squash"`
	Maintenance MaintenanceConfig `mapstructure:",squash"`
	Maps        MapsConfig        `mapstructure:",squash"`
}

type HTTPConfig struct {
	Addr           string  `mapstructure:"DISPATCH_HTTP_ADDR" default:":8080"`
	AuthDisabled   bool    `mapstructure:"DISPATCH_AUTH_DISABLED" default:"false"`
	RateLimitRPS   float64 `mapstructure:"DISPATCH_RATE_LIMIT_RPS" default:"5"`
	RateLimitBurst int     `mapstructure:"DISPATCH_RATE_LIMIT_BURST" default:"10"`
}

type DBConfig struct {
	DSN string `mapstructure:"DISPATCH_DB_DSN" required:"true"`
}

type RedisConfig struct {
	Addr string `mapstructure:"DISPATCH_REDIS_ADDR" default:"localhost:6379"`
}

type FirebaseConfig struct {
	ProjectID       string `mapstructure:"DISPATCH_FIREBASE_PROJECT_ID"`
	CredentialsFile string `mapstructure:"DISPATCH_FIREBASE_CREDENTIALS"`
}

// ScoringConfig holds the demand priority weights and saturation horizons.
type ScoringConfig struct {
	AgeWeight           float64 `mapstructure:"DISPATCH_SCORE_AGE_WEIGHT" default:"0.4"`
	DeadlineWeight      float64 `mapstructure:"DISPATCH_SCORE_DEADLINE_WEIGHT" default:"0.4"`
	QuantityWeight      float64 `mapstructure:"DISPATCH_SCORE_QUANTITY_WEIGHT" default:"0.2"`
	AgeHorizonDays      float64 `mapstructure:"DISPATCH_SCORE_AGE_HORIZON_DAYS" default:"30"`
	DeadlineHorizonDays float64 `mapstructure:"DISPATCH_SCORE_DEADLINE_HORIZON_DAYS" default:"30"`
	QuantitySaturation  float64 `mapstructure:"DISPATCH_SCORE_QUANTITY_SATURATION" default:"3000"`
	// NoDeadlineDays stands in for the days left when a demand has no deadline.
	NoDeadlineDays float64 `mapstructure:"DISPATCH_SCORE_NO_DEADLINE_DAYS" default:"999"`
}

type DispatchConfig struct {
	PriorityDivisor float64 `mapstructure:"DISPATCH_BUILD_PRIORITY_DIVISOR" default:"50"`
	MaxIterations   int     `mapstructure:"DISPATCH_BUILD_MAX_ITERATIONS" default:"100"`
	PoolLimit       int     `mapstructure:"DISPATCH_POOL_LIMIT" default:"500"`
	LockTTLSeconds  int     `mapstructure:"DISPATCH_LOCK_TTL_SECONDS" default:"5"`
}

// FeedConfig configures the external demand feed. An empty URL disables sync.
type FeedConfig struct {
	URL             string `mapstructure:"DISPATCH_FEED_URL"`
	Token           string `mapstructure:"DISPATCH_FEED_TOKEN"`
	IntervalSeconds int    `mapstructure:"DISPATCH_FEED_INTERVAL_SECONDS" default:"300"`
	TimeoutSeconds  int    `mapstructure:"DISPATCH_FEED_TIMEOUT_SECONDS" default:"15"`
	MaxRetries      int    `mapstructure:"DISPATCH_FEED_MAX_RETRIES" default:"3"`
}

type MaintenanceConfig struct {
	IntervalSeconds int `mapstructure:"DISPATCH_MAINTENANCE_INTERVAL_SECONDS" default:"3600"`
	RetentionDays   int `mapstructure:"DISPATCH_RETENTION_DAYS" default:"90"`
	ExpireGraceDays int `mapstructure:"DISPATCH_EXPIRE_GRACE_DAYS" default:"7"`
}

type MapsConfig struct {
	APIKey string `mapstructure:"DISPATCH_MAPS_API_KEY"`
}

// Load loads configuration from a .env file in path and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.AutomaticEnv()

	v.AddConfigPath(path)
	v.SetConfigName(".env")
	v.SetConfigType("env")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := processTags(v, &cfg); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := validateRequired(&cfg); err != nil {
		return nil, err
	}
	if _, err := time.LoadLocation(cfg.TimeZone); err != nil {
		return nil, fmt.Errorf("invalid DISPATCH_TIMEZONE %q: %w", cfg.TimeZone, err)
	}
	return &cfg, nil
}

// Location is the configured operating time zone. Load has already validated it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.Dispatch.LockTTLSeconds) * time.Second
}

// processTags binds every tagged field to its env key and registers defaults.
func processTags(v *viper.Viper, cfg interface{}) error {
	val := reflect.ValueOf(cfg)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	t := val.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		if field.Type.Kind() == reflect.Struct {
			if err := processTags(v, val.Field(i).Addr().Interface()); err != nil {
				return err
			}
			continue
		}

		key := field.Tag.Get("mapstructure")
		if key == "" {
			continue
		}
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
		if def := field.Tag.Get("default"); def != "" {
			v.SetDefault(key, def)
		}
	}
	return nil
}

// validateRequired checks that fields marked as required have non-zero values.
func validateRequired(cfg interface{}) error {
	val := reflect.ValueOf(cfg)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	t := val.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		if field.Type.Kind() == reflect.Struct {
			if err := validateRequired(val.Field(i).Addr().Interface()); err != nil {
				return err
			}
			continue
		}

		if field.Tag.Get("required") == "true" && val.Field(i).IsZero() {
			return fmt.Errorf("missing required configuration: %s", field.Tag.Get("mapstructure"))
		}
	}
	return nil
}
