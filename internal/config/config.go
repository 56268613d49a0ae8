package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	MinIO    MinIOConfig    `yaml:"minio"`
	Cluster  ClusterConfig  `yaml:"cluster"`
	Batch    BatchConfig    `yaml:"batch"`
	Hub      HubConfig      `yaml:"hub"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// ClusterConfig holds the geo-temporal clustering policy. Both values are
// injected; a stream is assigned to the nearest active incident opened
// within TimeWindow and at most RadiusMeters away.
type ClusterConfig struct {
	RadiusMeters float64       `yaml:"radius_meters"`
	TimeWindow   time.Duration `yaml:"time_window"`
}

// BatchConfig holds the hybrid flush policy for the observation batcher.
type BatchConfig struct {
	MinSize         int           `yaml:"min_size"`
	MaxSize         int           `yaml:"max_size"`
	Window          time.Duration `yaml:"window"`
	AnalysisTimeout time.Duration `yaml:"analysis_timeout"`
}

type HubConfig struct {
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
	ClientBuffer      int           `yaml:"client_buffer"`
}

type AnalysisConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	// MaxInlinePayload is the largest observation payload stored inline in
	// Postgres; larger payloads are archived to object storage.
	MaxInlinePayload int `yaml:"max_inline_payload"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Cluster.RadiusMeters == 0 {
		cfg.Cluster.RadiusMeters = 500
	}
	if cfg.Cluster.TimeWindow == 0 {
		cfg.Cluster.TimeWindow = 2 * time.Hour
	}
	if cfg.Batch.MinSize == 0 {
		cfg.Batch.MinSize = 3
	}
	if cfg.Batch.MaxSize == 0 {
		cfg.Batch.MaxSize = 10
	}
	if cfg.Batch.Window == 0 {
		cfg.Batch.Window = 30 * time.Second
	}
	if cfg.Batch.AnalysisTimeout == 0 {
		cfg.Batch.AnalysisTimeout = 15 * time.Second
	}
	if cfg.Hub.KeepaliveInterval == 0 {
		cfg.Hub.KeepaliveInterval = 25 * time.Second
	}
	if cfg.Hub.ClientBuffer == 0 {
		cfg.Hub.ClientBuffer = 64
	}
	if cfg.Analysis.Timeout == 0 {
		cfg.Analysis.Timeout = 30 * time.Second
	}
	if cfg.Analysis.MaxInlinePayload == 0 {
		cfg.Analysis.MaxInlinePayload = 64 * 1024
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SW_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SW_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("SW_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("SW_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("SW_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("SW_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("SW_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("SW_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("SW_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("SW_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("SW_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("SW_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("SW_CLUSTER_RADIUS_METERS"); v != "" {
		if r, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Cluster.RadiusMeters = r
		}
	}
	if v := os.Getenv("SW_CLUSTER_TIME_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cluster.TimeWindow = d
		}
	}
	if v := os.Getenv("SW_ANALYSIS_URL"); v != "" {
		cfg.Analysis.BaseURL = v
	}
}
