// Package appconfig loads service configuration: tuning and trigger routing
// from a YAML file, connection settings from the environment.
package appconfig

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/overlayworks/arcade/internal/trigger"
)

// Config is the YAML-backed part of the configuration.
type Config struct {
	Queue struct {
		MaxSize        int `yaml:"max_size"`
		WarnSize       int `yaml:"warn_size"`
		RestartDelayMS int `yaml:"restart_delay_ms"`
	} `yaml:"queue"`

	Dedup struct {
		WindowMS int `yaml:"window_ms"`
	} `yaml:"dedup"`

	BallDrop struct {
		MinFlightTimeMS int `yaml:"min_flight_time_ms"`
		MaxBallAgeMS    int `yaml:"max_ball_age_ms"`
		SweepIntervalMS int `yaml:"sweep_interval_ms"`
	} `yaml:"ball_drop"`

	Routing []trigger.Rule `yaml:"routing"`
}

// Load reads and parses the YAML config file, filling defaults for any
// omitted tuning values. Routing has no default; an empty table means no
// trigger reaches a game.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Queue.MaxSize == 0 {
		c.Queue.MaxSize = 20
	}
	if c.Queue.WarnSize == 0 {
		c.Queue.WarnSize = 15
	}
	if c.Queue.RestartDelayMS == 0 {
		c.Queue.RestartDelayMS = 500
	}
	if c.Dedup.WindowMS == 0 {
		c.Dedup.WindowMS = 1000
	}
	if c.BallDrop.MinFlightTimeMS == 0 {
		c.BallDrop.MinFlightTimeMS = 2000
	}
	if c.BallDrop.MaxBallAgeMS == 0 {
		c.BallDrop.MaxBallAgeMS = 5 * 60 * 1000
	}
	if c.BallDrop.SweepIntervalMS == 0 {
		c.BallDrop.SweepIntervalMS = 30 * 1000
	}
}

// RestartDelay returns the inter-item pause as a duration.
func (c *Config) RestartDelay() time.Duration {
	return time.Duration(c.Queue.RestartDelayMS) * time.Millisecond
}

// DedupWindow returns the duplicate-suppression window as a duration.
func (c *Config) DedupWindow() time.Duration {
	return time.Duration(c.Dedup.WindowMS) * time.Millisecond
}

// MinFlightTime returns the minimum believable ball flight duration.
func (c *Config) MinFlightTime() time.Duration {
	return time.Duration(c.BallDrop.MinFlightTimeMS) * time.Millisecond
}

// MaxBallAge returns the age past which an unlanded ball is swept.
func (c *Config) MaxBallAge() time.Duration {
	return time.Duration(c.BallDrop.MaxBallAgeMS) * time.Millisecond
}

// SweepInterval returns the stale-ball sweep cadence.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.BallDrop.SweepIntervalMS) * time.Millisecond
}

// DBConfig holds Postgres connection settings.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// DBConfigFromEnv reads DB_* environment variables (with defaults).
func DBConfigFromEnv() DBConfig {
	return DBConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvAsInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", "postgres"),
		Database: getEnv("DB_NAME", "arcade"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}
}

// DSN returns the Postgres connection URL.
func (c DBConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// NATSURL reads the NATS server URL from the environment.
func NATSURL() string {
	return getEnv("NATS_URL", "nats://localhost:4222")
}

// HTTPPort reads the gateway listen port from the environment.
func HTTPPort() string {
	return getEnv("HTTP_PORT", "8090")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
