package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
//
// Sources, later ones winning: an optional .env file, an optional YAML file,
// environment variables. Unset fields take the `default` tags and the
// result is validated.
type Config struct {
	App        AppConfig        `yaml:"app"`
	Binance    BinanceConfig    `yaml:"binance"`
	Redis      RedisConfig      `yaml:"redis"`
	SQLite     SQLiteConfig     `yaml:"sqlite"`
	Backtest   BacktestConfig   `yaml:"backtest"`
	Labeling   LabelingConfig   `yaml:"labeling"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Indicators IndicatorConfig  `yaml:"indicators"`
	Server     ServerConfig     `yaml:"server"`
	Live       LiveConfig       `yaml:"live"`
}

type AppConfig struct {
	Service   string `yaml:"service" default:"tradelab"`
	LogLevel  string `yaml:"log_level" default:"info" validate:"oneof=debug info warn error"`
	LogFormat string `yaml:"log_format" default:"json" validate:"oneof=json console"`
}

type BinanceConfig struct {
	RESTURL       string        `yaml:"rest_url" default:"https://api.binance.com" validate:"required,url"`
	StreamURL     string        `yaml:"stream_url" default:"wss://stream.binance.com:9443" validate:"required,url"`
	Interval      string        `yaml:"interval" default:"1h" validate:"oneof=1m 3m 5m 15m 30m 1h 2h 4h 6h 12h 1d"`
	RatePerSecond float64       `yaml:"rate_per_second" default:"10" validate:"gt=0"`
	Timeout       time.Duration `yaml:"timeout" default:"15s" validate:"gt=0"`
	MaxFailures   uint32        `yaml:"max_failures" default:"5" validate:"gte=1"`
	ResetTimeout  time.Duration `yaml:"reset_timeout" default:"30s" validate:"gt=0"`
}

type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr" default:"localhost:6379" validate:"required_if=Enabled true"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db" validate:"gte=0"`
	Prefix   string        `yaml:"prefix" default:"series:"`
	TTL      time.Duration `yaml:"ttl" default:"1h" validate:"gt=0"`
}

type SQLiteConfig struct {
	Path string `yaml:"path" default:"data/tradelab.db" validate:"required"`
}

type BacktestConfig struct {
	Source           string  `yaml:"source" default:"binance" validate:"oneof=binance sqlite"`
	Strategy         string  `yaml:"strategy" default:"technical" validate:"oneof=technical ml hybrid"`
	Days             int     `yaml:"days" default:"30" validate:"gte=1,lte=1000"`
	InitialCapital   float64 `yaml:"initial_capital" default:"10000" validate:"gt=0"`
	PositionFraction float64 `yaml:"position_fraction" default:"0.95" validate:"gt=0,lte=1"`
}

type LabelingConfig struct {
	Lookahead int     `yaml:"lookahead" default:"4" validate:"gte=1,lte=100"`
	Threshold float64 `yaml:"threshold" default:"0.02" validate:"gt=0,lt=1"`
}

type ClassifierConfig struct {
	LearningRate      float64       `yaml:"learning_rate" default:"0.01" validate:"gt=0,lte=1"`
	Seed              int64         `yaml:"seed" default:"1"`
	TrainingDelay     time.Duration `yaml:"training_delay" default:"2s" validate:"gte=0"`
	TrainTimeout      time.Duration `yaml:"train_timeout" default:"5m" validate:"gte=0"`
	PredictionHistory int           `yaml:"prediction_history" default:"100" validate:"gte=1"`
	TrainingHistory   int           `yaml:"training_history" default:"50" validate:"gte=1"`
}

type IndicatorConfig struct {
	TrueMACDSignal bool `yaml:"true_macd_signal"`
	LiveWindow     int  `yaml:"live_window" default:"1000" validate:"gte=60"`
}

type ServerConfig struct {
	Addr           string        `yaml:"addr" default:":8080" validate:"required"`
	RequestTimeout time.Duration `yaml:"request_timeout" default:"30s" validate:"gt=0"`
	HealthInterval time.Duration `yaml:"health_interval" default:"15s" validate:"gt=0"`
}

type LiveConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Source      string   `yaml:"source" default:"stream" validate:"oneof=stream replay"`
	Symbols     []string `yaml:"symbols" default:"[\"BTCUSDT\"]" validate:"required_if=Enabled true,dive,alphanum"`
	SeedDays    int      `yaml:"seed_days" default:"7" validate:"gte=0,lte=1000"`
	ReplayDays  int      `yaml:"replay_days" default:"7" validate:"gte=1,lte=1000"`
	ReplaySpeed float64  `yaml:"replay_speed" default:"3600" validate:"gt=0"`
	UseModel    bool     `yaml:"use_model"`
	Learn       bool     `yaml:"learn"`
}

// Load reads configuration. path may be empty, in which case only the
// environment is consulted.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("component", "config").Msg(".env not loaded")
	}

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("apply config defaults: %w", err)
	}
	for i, s := range cfg.Live.Symbols {
		cfg.Live.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides fields from environment variables. An empty variable
// leaves the field unchanged.
func (c *Config) applyEnv() {
	c.App.LogLevel = getEnv("LOG_LEVEL", c.App.LogLevel)
	c.App.LogFormat = getEnv("LOG_FORMAT", c.App.LogFormat)

	c.Binance.RESTURL = getEnv("BINANCE_REST_URL", c.Binance.RESTURL)
	c.Binance.StreamURL = getEnv("BINANCE_STREAM_URL", c.Binance.StreamURL)
	c.Binance.Interval = getEnv("BINANCE_INTERVAL", c.Binance.Interval)
	c.Binance.RatePerSecond = getEnvFloat("BINANCE_RATE_PER_SECOND", c.Binance.RatePerSecond)

	c.Redis.Enabled = getEnvBool("REDIS_ENABLED", c.Redis.Enabled)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)
	c.Redis.TTL = getEnvDuration("REDIS_TTL", c.Redis.TTL)

	c.SQLite.Path = getEnv("SQLITE_PATH", c.SQLite.Path)

	c.Backtest.Source = getEnv("BACKTEST_SOURCE", c.Backtest.Source)
	c.Backtest.Strategy = getEnv("BACKTEST_STRATEGY", c.Backtest.Strategy)
	c.Backtest.Days = getEnvInt("BACKTEST_DAYS", c.Backtest.Days)
	c.Backtest.InitialCapital = getEnvFloat("BACKTEST_INITIAL_CAPITAL", c.Backtest.InitialCapital)

	c.Labeling.Lookahead = getEnvInt("LABEL_LOOKAHEAD", c.Labeling.Lookahead)
	c.Labeling.Threshold = getEnvFloat("LABEL_THRESHOLD", c.Labeling.Threshold)

	c.Classifier.LearningRate = getEnvFloat("CLASSIFIER_LEARNING_RATE", c.Classifier.LearningRate)
	c.Classifier.Seed = int64(getEnvInt("CLASSIFIER_SEED", int(c.Classifier.Seed)))
	c.Classifier.TrainingDelay = getEnvDuration("CLASSIFIER_TRAINING_DELAY", c.Classifier.TrainingDelay)

	c.Indicators.TrueMACDSignal = getEnvBool("TRUE_MACD_SIGNAL", c.Indicators.TrueMACDSignal)

	c.Server.Addr = getEnv("SERVER_ADDR", c.Server.Addr)

	c.Live.Enabled = getEnvBool("LIVE_ENABLED", c.Live.Enabled)
	c.Live.Source = getEnv("LIVE_SOURCE", c.Live.Source)
	if v := getEnv("LIVE_SYMBOLS", ""); v != "" {
		c.Live.Symbols = splitList(v)
	}
	c.Live.UseModel = getEnvBool("LIVE_USE_MODEL", c.Live.UseModel)
	c.Live.Learn = getEnvBool("LIVE_LEARN", c.Live.Learn)
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("component", "config").Str("key", key).Str("value", v).Msg("ignoring invalid integer")
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Warn().Str("component", "config").Str("key", key).Str("value", v).Msg("ignoring invalid number")
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn().Str("component", "config").Str("key", key).Str("value", v).Msg("ignoring invalid boolean")
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("component", "config").Str("key", key).Str("value", v).Msg("ignoring invalid duration")
		return fallback
	}
	return d
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
