package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DataDir        string        `mapstructure:"DATA_DIR"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	AppPassword    string        `mapstructure:"APP_PASSWORD"`
	SessionSecret  string        `mapstructure:"SESSION_SECRET"`
	SessionTTL     time.Duration `mapstructure:"SESSION_TTL"`
	BlockMinutes   int           `mapstructure:"BLOCK_MINUTES"`
	WorkdayStart   string        `mapstructure:"WORKDAY_START"`
	WorkdayEnd     string        `mapstructure:"WORKDAY_END"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DATA_DIR", "./data")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("SESSION_TTL", "12h")
	v.SetDefault("BLOCK_MINUTES", 30)
	v.SetDefault("WORKDAY_START", "09:00")
	v.SetDefault("WORKDAY_END", "18:30")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("REQUEST_TIMEOUT", "15s")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DATA_DIR")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("APP_PASSWORD")
	v.BindEnv("SESSION_SECRET")
	v.BindEnv("SESSION_TTL")
	v.BindEnv("BLOCK_MINUTES")
	v.BindEnv("WORKDAY_START")
	v.BindEnv("WORKDAY_END")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("REQUEST_TIMEOUT")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if !cfg.UsesDatabase() {
		log.Println("WARNING: DATABASE_URL is not set; using flat files under", cfg.DataDir)
		log.Println("WARNING: the file backend has no cross-process write protection; use it for local testing only.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// UsesDatabase reports whether a relational store is configured.
func (c *Config) UsesDatabase() bool {
	return strings.TrimSpace(c.DatabaseURL) != ""
}

// Validate checks the scheduling defaults. The workday bounds must be
// HH:MM clock values with the end not before the start, and the block size
// must be positive.
func (c *Config) Validate() error {
	if c.BlockMinutes <= 0 {
		return fmt.Errorf("BLOCK_MINUTES must be positive, got %d", c.BlockMinutes)
	}
	start, err := time.Parse("15:04", c.WorkdayStart)
	if err != nil {
		return fmt.Errorf("WORKDAY_START must be HH:MM: %w", err)
	}
	end, err := time.Parse("15:04", c.WorkdayEnd)
	if err != nil {
		return fmt.Errorf("WORKDAY_END must be HH:MM: %w", err)
	}
	if end.Before(start) {
		return fmt.Errorf("WORKDAY_END (%s) is before WORKDAY_START (%s)", c.WorkdayEnd, c.WorkdayStart)
	}
	if c.UsesDatabase() && c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
