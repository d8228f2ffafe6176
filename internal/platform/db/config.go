package db

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // inventory.timezone をコンテナでも解決できるように

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath     = "config/config.yaml"
	defaultLowStock       = 2
	defaultIdempotencyTTL = 24 * time.Hour
)

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
}

type Certs struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"` // mysql | memory
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type IdempotencyConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type InventoryConfig struct {
	LowStockThreshold int    `yaml:"low_stock_threshold"`
	Timezone          string `yaml:"timezone"`
}

type TracingConfig struct {
	ServiceName string `yaml:"service_name"`
	Endpoint    string `yaml:"endpoint"` // 空なら OTEL_EXPORTER_OTLP_ENDPOINT を見る
}

type Config struct {
	Version     string            `yaml:"version"`
	Mode        string            `yaml:"mode"`
	Server      ServerConfig      `yaml:"server"`
	DB          DatabaseConfig    `yaml:"database"`
	Certificate Certs             `yaml:"certificate"`
	Storage     StorageConfig     `yaml:"storage"`
	Auth        AuthConfig        `yaml:"auth"`
	Redis       RedisConfig       `yaml:"redis"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	Inventory   InventoryConfig   `yaml:"inventory"`
	Tracing     TracingConfig     `yaml:"tracing"`
}

// LoadConfig: YAML を読み、.env / 環境変数で秘密情報を上書きする
func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("設定ファイルの読み込み失敗: %w", err)
	}
	return ParseConfig(buf)
}

func ParseConfig(buf []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("設定ファイルのパース失敗: %w", err)
	}

	// .env は無くてもよい
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[WARN] .env not loaded: %v", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("LABY_DB_PASSWORD"); v != "" {
		c.DB.Password = v
	}
	if v := os.Getenv("LABY_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("LABY_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8443"
	}
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "" {
		c.Storage.Driver = "mysql"
	}
	if c.Inventory.LowStockThreshold <= 0 {
		c.Inventory.LowStockThreshold = defaultLowStock
	}
	if c.Inventory.Timezone == "" {
		c.Inventory.Timezone = "UTC"
	}
	if c.Idempotency.TTL <= 0 {
		c.Idempotency.TTL = defaultIdempotencyTTL
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "laby-backend"
	}
}

func (c *Config) Validate() error {
	if c.Mode != "dev" && c.Mode != "release" {
		return errors.New("mode must be dev or release")
	}
	switch c.Storage.Driver {
	case "mysql", "memory":
	default:
		return fmt.Errorf("storage.driver must be mysql or memory: %q", c.Storage.Driver)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret (or LABY_JWT_SECRET) is required")
	}
	if _, err := time.LoadLocation(c.Inventory.Timezone); err != nil {
		return fmt.Errorf("inventory.timezone: %w", err)
	}
	return nil
}

// Location: Validate 済みなので失敗しない
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Inventory.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
