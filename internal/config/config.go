package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port           string
	AllowedOrigin  string
	DatabaseURL    string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	AuthSecret     string
	AccessTokenTTL time.Duration
	ManagerPIN     string
	HistoryTTL     time.Duration
	HistorySweep   time.Duration
	HistoryTimeout time.Duration
	Timezone       string
	LogLevel       string
	LogFormat      string
	AutoMigrate    bool
}

// Load reads configuration from PASAL_* environment variables. A .env file in
// the working directory is loaded first when present; real environment
// variables win over it.
func Load() Config {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("PASAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", "8080")
	v.SetDefault("allowed_origin", "http://127.0.0.1:3000")
	v.SetDefault("database_url", "")
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("auth_secret", "")
	v.SetDefault("access_token_ttl", "8h")
	v.SetDefault("manager_pin", "")
	v.SetDefault("history_ttl", "5m")
	v.SetDefault("history_sweep", "60s")
	v.SetDefault("history_timeout", "3s")
	v.SetDefault("timezone", "Asia/Kathmandu")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("auto_migrate", true)

	cfg := Config{
		Port:           v.GetString("port"),
		AllowedOrigin:  v.GetString("allowed_origin"),
		DatabaseURL:    strings.TrimSpace(v.GetString("database_url")),
		RedisAddr:      strings.TrimSpace(v.GetString("redis_addr")),
		RedisPassword:  v.GetString("redis_password"),
		RedisDB:        v.GetInt("redis_db"),
		AuthSecret:     strings.TrimSpace(v.GetString("auth_secret")),
		AccessTokenTTL: positiveDuration(v.GetDuration("access_token_ttl"), 8*time.Hour),
		ManagerPIN:     strings.TrimSpace(v.GetString("manager_pin")),
		HistoryTTL:     positiveDuration(v.GetDuration("history_ttl"), 5*time.Minute),
		HistorySweep:   positiveDuration(v.GetDuration("history_sweep"), time.Minute),
		HistoryTimeout: positiveDuration(v.GetDuration("history_timeout"), 3*time.Second),
		Timezone:       v.GetString("timezone"),
		LogLevel:       v.GetString("log_level"),
		LogFormat:      v.GetString("log_format"),
		AutoMigrate:    v.GetBool("auto_migrate"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// Location resolves Timezone, falling back to UTC when the zone database
// does not know it.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func positiveDuration(d time.Duration, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
