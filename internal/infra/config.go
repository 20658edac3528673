package infra

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"volume_miner/internal/domain"
)

const (
	// DefaultConfigPath is used when neither --config nor CONFIG_PATH is set.
	DefaultConfigPath = "config.yaml"

	envPrefix = "VOLBOT_"
)

// Config holds every setting of the bot. LoadConfig fills it from a YAML or
// TOML file and then lets VOLBOT_* environment variables override secrets and
// endpoints.
type Config struct {
	General GeneralConfig `yaml:"general" toml:"general"`
	Bitget  BitgetConfig  `yaml:"bitget" toml:"bitget"`
	O2      O2Config      `yaml:"o2" toml:"o2"`
	Retry   RetryConfig   `yaml:"retry" toml:"retry"`
	Guard   GuardConfig   `yaml:"guard" toml:"guard"`
	Notify  NotifyConfig  `yaml:"notify" toml:"notify"`
	Storage StorageConfig `yaml:"storage" toml:"storage"`
}

type GeneralConfig struct {
	LogLevel               string `yaml:"log_level" toml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	LogDir                 string `yaml:"log_dir" toml:"log_dir"`
	ShutdownGraceSeconds   int    `yaml:"shutdown_grace_seconds" toml:"shutdown_grace_seconds" validate:"gte=0"`
	MetricsIntervalSeconds int    `yaml:"metrics_interval_seconds" toml:"metrics_interval_seconds" validate:"gte=0"`
}

type BitgetConfig struct {
	RestURL           string `yaml:"rest_url" toml:"rest_url" validate:"omitempty,url"`
	WSURL             string `yaml:"ws_url" toml:"ws_url" validate:"omitempty,url"`
	Mode              string `yaml:"mode" toml:"mode" validate:"oneof=rest stream"`
	USDCUSDTSymbol    string `yaml:"usdc_usdt_symbol" toml:"usdc_usdt_symbol"`
	StaleAfterSeconds int    `yaml:"stale_after_seconds" toml:"stale_after_seconds" validate:"gte=0"`
}

type AccountConfig struct {
	Type       string `yaml:"type" toml:"type" validate:"oneof=evm fuel"`
	PrivateKey string `yaml:"private_key" toml:"private_key" validate:"required"`
}

type O2Config struct {
	BaseURL         string                `yaml:"base_url" toml:"base_url" validate:"required,url"`
	NetworkURL      string                `yaml:"network_url" toml:"network_url" validate:"required,url"`
	TradingContract string                `yaml:"trading_contract" toml:"trading_contract"`
	Mode            string                `yaml:"mode" toml:"mode" validate:"oneof=live paper"`
	Account         AccountConfig         `yaml:"account" toml:"account"`
	Markets         []domain.MarketConfig `yaml:"markets" toml:"markets" validate:"required,min=1,dive"`
}

type RetryConfig struct {
	SellMaxAttempts       int     `yaml:"sell_max_attempts" toml:"sell_max_attempts" validate:"gte=1"`
	SellDelayMS           int     `yaml:"sell_delay_ms" toml:"sell_delay_ms" validate:"gte=0"`
	SellBackoffMultiplier float64 `yaml:"sell_backoff_multiplier" toml:"sell_backoff_multiplier" validate:"gte=0"`
	SellMaxDelayMS        int     `yaml:"sell_max_delay_ms" toml:"sell_max_delay_ms" validate:"gte=0"`
}

type GuardConfig struct {
	RedisAddr      string `yaml:"redis_addr" toml:"redis_addr"`
	RedisPassword  string `yaml:"redis_password" toml:"redis_password"`
	RedisDB        int    `yaml:"redis_db" toml:"redis_db" validate:"gte=0"`
	LockTTLSeconds int    `yaml:"lock_ttl_seconds" toml:"lock_ttl_seconds" validate:"gte=0"`
}

type TelegramConfig struct {
	Token  string `yaml:"token" toml:"token"`
	ChatID string `yaml:"chat_id" toml:"chat_id"`
}

type DiscordConfig struct {
	WebhookURL string `yaml:"webhook_url" toml:"webhook_url" validate:"omitempty,url"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `yaml:"telegram" toml:"telegram"`
	Discord  DiscordConfig  `yaml:"discord" toml:"discord"`
}

type StorageConfig struct {
	IncidentsDB string `yaml:"incidents_db" toml:"incidents_db"`
}

// ResolveConfigPath picks the flag value, then CONFIG_PATH, then the default.
func ResolveConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return DefaultConfigPath
}

// LoadConfig reads and validates the configuration file at path. A .env file
// in the working directory, when present, is loaded into the environment
// first.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		}
		return nil, err
	}

	cfg, err := ParseConfig(data, filepath.Ext(path))
	if err != nil {
		return nil, err
	}

	overrideWithEnv(cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ParseConfig decodes data as TOML when ext is .toml and as YAML otherwise.
func ParseConfig(data []byte, ext string) (*Config, error) {
	var cfg Config
	switch strings.ToLower(ext) {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("parse toml: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.General.LogLevel == "" {
		c.General.LogLevel = "info"
	}
	if c.General.LogDir == "" {
		c.General.LogDir = "logs"
	}
	if c.General.ShutdownGraceSeconds == 0 {
		c.General.ShutdownGraceSeconds = 30
	}
	if c.General.MetricsIntervalSeconds == 0 {
		c.General.MetricsIntervalSeconds = 60
	}

	if c.Bitget.Mode == "" {
		c.Bitget.Mode = "rest"
	}
	if c.Bitget.USDCUSDTSymbol == "" {
		c.Bitget.USDCUSDTSymbol = "USDCUSDT"
	}
	if c.Bitget.StaleAfterSeconds == 0 {
		c.Bitget.StaleAfterSeconds = 30
	}

	if c.O2.Mode == "" {
		c.O2.Mode = "live"
	}
	if c.O2.Account.Type == "" {
		c.O2.Account.Type = "fuel"
	}
	for i := range c.O2.Markets {
		if c.O2.Markets[i].OrderType == "" {
			c.O2.Markets[i].OrderType = "spot"
		}
	}

	if c.Retry.SellMaxAttempts == 0 {
		c.Retry.SellMaxAttempts = 10
	}
	if c.Retry.SellDelayMS == 0 {
		c.Retry.SellDelayMS = 500
	}
	if c.Retry.SellBackoffMultiplier == 0 {
		c.Retry.SellBackoffMultiplier = 1
	}

	if c.Guard.LockTTLSeconds == 0 {
		c.Guard.LockTTLSeconds = 300
	}
}

// Validate checks struct tags, then the rules tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.O2.Markets))
	for _, m := range c.O2.Markets {
		if seen[m.ID] {
			return &domain.ConfigError{Field: "o2.markets", Err: fmt.Errorf("duplicate market id %q", m.ID)}
		}
		seen[m.ID] = true
		if err := m.ValidateAmounts(); err != nil {
			return &domain.ConfigError{Field: "o2.markets", Err: err}
		}
	}

	if (c.Notify.Telegram.Token == "") != (c.Notify.Telegram.ChatID == "") {
		return &domain.ConfigError{Field: "notify.telegram", Err: errors.New("token and chat_id must be set together")}
	}
	if c.Retry.SellMaxDelayMS > 0 && c.Retry.SellMaxDelayMS < c.Retry.SellDelayMS {
		return &domain.ConfigError{Field: "retry.sell_max_delay_ms", Err: errors.New("must not be below sell_delay_ms")}
	}
	if c.Retry.SellBackoffMultiplier > 1 && c.Retry.SellMaxDelayMS <= 0 {
		return &domain.ConfigError{Field: "retry.sell_max_delay_ms", Err: errors.New("required when sell_backoff_multiplier > 1")}
	}

	if c.Guard.RedisAddr != "" {
		ttl, budget := c.Guard.LockTTL(), c.CycleBudget()
		if ttl <= budget {
			return &domain.ConfigError{
				Field: "guard.lock_ttl_seconds",
				Err:   fmt.Errorf("lock ttl %s must exceed the longest cycle %s", ttl, budget),
			}
		}
	}
	return nil
}

// requestAllowance bounds one venue or price request (the O2 client timeout).
const requestAllowance = 15 * time.Second

// CycleBudget is an upper bound on how long one cycle of the slowest market
// can run: market lookup, two price reads, the buy, the inter-leg wait and
// every sell attempt with its backoff.
func (c *Config) CycleBudget() time.Duration {
	var interval time.Duration
	for _, m := range c.O2.Markets {
		interval = max(interval, m.OrderInterval())
	}
	attempts := time.Duration(max(c.Retry.SellMaxAttempts, 1))
	return interval + c.Retry.worstCaseWait() + (attempts+4)*requestAllowance
}

// worstCaseWait bounds the total sell backoff; each wait is at most the
// larger of the base and the capped delay.
func (r RetryConfig) worstCaseWait() time.Duration {
	step := r.SellDelay()
	if r.SellBackoffMultiplier > 1 {
		step = max(step, r.SellMaxDelay())
	}
	return time.Duration(max(r.SellMaxAttempts-1, 0)) * step
}

// SellDelay and the other helpers convert config integers to durations.
func (r RetryConfig) SellDelay() time.Duration {
	return time.Duration(r.SellDelayMS) * time.Millisecond
}

func (r RetryConfig) SellMaxDelay() time.Duration {
	return time.Duration(r.SellMaxDelayMS) * time.Millisecond
}

func (g GeneralConfig) ShutdownGrace() time.Duration {
	return time.Duration(g.ShutdownGraceSeconds) * time.Second
}

func (g GeneralConfig) MetricsInterval() time.Duration {
	return time.Duration(g.MetricsIntervalSeconds) * time.Second
}

func (b BitgetConfig) StaleAfter() time.Duration {
	return time.Duration(b.StaleAfterSeconds) * time.Second
}

func (g GuardConfig) LockTTL() time.Duration {
	return time.Duration(g.LockTTLSeconds) * time.Second
}

// BitgetSymbols lists every symbol the price source must serve.
func (c *Config) BitgetSymbols() []string {
	out := make([]string, 0, len(c.O2.Markets)+1)
	usdc := false
	for _, m := range c.O2.Markets {
		out = append(out, m.BitgetSymbol)
		usdc = usdc || m.ConvertToUSDC
	}
	if usdc {
		out = append(out, c.Bitget.USDCUSDTSymbol)
	}
	return out
}

// overrideWithEnv replaces values with VOLBOT_* variables when they are set.
func overrideWithEnv(cfg *Config) {
	str := map[string]*string{
		"PRIVATE_KEY":      &cfg.O2.Account.PrivateKey,
		"ACCOUNT_TYPE":     &cfg.O2.Account.Type,
		"O2_URL":           &cfg.O2.BaseURL,
		"NETWORK_URL":      &cfg.O2.NetworkURL,
		"TRADING_CONTRACT": &cfg.O2.TradingContract,
		"MODE":             &cfg.O2.Mode,
		"BITGET_URL":       &cfg.Bitget.RestURL,
		"BITGET_WS_URL":    &cfg.Bitget.WSURL,
		"REDIS_ADDR":       &cfg.Guard.RedisAddr,
		"REDIS_PASSWORD":   &cfg.Guard.RedisPassword,
		"TELEGRAM_TOKEN":   &cfg.Notify.Telegram.Token,
		"TELEGRAM_CHAT_ID": &cfg.Notify.Telegram.ChatID,
		"DISCORD_WEBHOOK":  &cfg.Notify.Discord.WebhookURL,
		"LOG_LEVEL":        &cfg.General.LogLevel,
		"INCIDENTS_DB":     &cfg.Storage.IncidentsDB,
	}
	for name, dst := range str {
		if v := os.Getenv(envPrefix + name); v != "" {
			*dst = v
		}
	}
	if v := os.Getenv(envPrefix + "REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Guard.RedisDB = n
		}
	}
}
