package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"pulse-analytics/internal/geo"
)

// Config holds service configuration sourced from environment variables.
type Config struct {
	HTTPAddr          string
	DataDir           string
	LogLevel          string
	KafkaBrokers      []string
	KafkaTopicRecords string
	SessionTimeout    time.Duration
	GeoConfigPath     string
	GeoProviders      []geo.Provider
	GeoDemoIP         string
	CORSAllowOrigins  []string
}

type geoFile struct {
	Providers []geo.Provider `yaml:"providers"`
}

// Load parses process environment variables into a Config struct, applying
// defaults when unset. An empty DATA_DIR runs the store in memory; empty
// KAFKA_BROKERS disables the firehose.
func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		DataDir:           os.Getenv("DATA_DIR"),
		LogLevel:          getenv("LOG_LEVEL", "info"),
		KafkaBrokers:      splitAndTrim(os.Getenv("KAFKA_BROKERS")),
		KafkaTopicRecords: getenv("KAFKA_TOPIC_RECORDS", "analytics.records"),
		SessionTimeout:    hoursDefault("SESSION_TIMEOUT_HOURS", 2),
		GeoConfigPath:     os.Getenv("GEO_CONFIG_PATH"),
		GeoDemoIP:         getenv("GEO_DEMO_IP", "8.8.8.8"),
		CORSAllowOrigins:  splitAndTrim(getenv("CORS_ALLOW_ORIGINS", "*")),
	}
	if cfg.GeoConfigPath != "" {
		providers, err := loadGeoConfig(cfg.GeoConfigPath)
		if err != nil {
			return Config{}, fmt.Errorf("load geo config: %w", err)
		}
		cfg.GeoProviders = providers
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return def
}

func splitAndTrim(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func hoursDefault(key string, defHours int) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil && parsed > 0 {
			return time.Duration(parsed) * time.Hour
		}
	}
	return time.Duration(defHours) * time.Hour
}

func loadGeoConfig(path string) ([]geo.Provider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file geoFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	if len(file.Providers) == 0 {
		return nil, fmt.Errorf("no geolocation providers configured in %s", path)
	}
	for _, p := range file.Providers {
		if p.Name == "" || p.URL == "" || p.CountryField == "" {
			return nil, fmt.Errorf("provider entries need name, url and country_field in %s", path)
		}
	}
	return file.Providers, nil
}
