package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"token-buy-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Explorer ExplorerConfig `mapstructure:"explorer"`
	Pricing  PricingConfig  `mapstructure:"pricing"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Alert    AlertConfig    `mapstructure:"alert"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Server   ServerConfig   `mapstructure:"server"`
	Export   ExportConfig   `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates the optional PostgreSQL alert history store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// TelegramConfig 描述 Telegram 机器人参数。
type TelegramConfig struct {
	BotToken       string `mapstructure:"bot_token"`
	ChatID         int64  `mapstructure:"chat_id"`
	AdminChatID    int64  `mapstructure:"admin_chat_id"`
	WebhookBaseURL string `mapstructure:"webhook_base_url"`
}

// ExplorerConfig covers the ledger-indexing (BscScan style) API.
type ExplorerConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	APIKey          string        `mapstructure:"api_key"`
	ContractAddress string        `mapstructure:"contract_address"`
	WatchedAddress  string        `mapstructure:"watched_address"`
	PageSize        int           `mapstructure:"page_size"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
}

// PricingConfig drives the price resolver fallback chain.
type PricingConfig struct {
	Sources             []string      `mapstructure:"sources"`
	GeckoBaseURL        string        `mapstructure:"gecko_base_url"`
	GeckoNetwork        string        `mapstructure:"gecko_network"`
	CMCBaseURL          string        `mapstructure:"cmc_base_url"`
	CMCAPIKey           string        `mapstructure:"cmc_api_key"`
	RPCURL              string        `mapstructure:"rpc_url"`
	PairAddress         string        `mapstructure:"pair_address"`
	NativeTokenAddress  string        `mapstructure:"native_token_address"`
	NativeSymbol        string        `mapstructure:"native_symbol"`
	FallbackTokenPrice  float64       `mapstructure:"fallback_token_price"`
	FallbackNativePrice float64       `mapstructure:"fallback_native_price"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	CacheTTL            time.Duration `mapstructure:"cache_ttl"`
	RetryAttempts       int           `mapstructure:"retry_attempts"`
	RetryBaseDelay      time.Duration `mapstructure:"retry_base_delay"`
}

// MonitorConfig governs the polling cycle.
type MonitorConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	ErrorBufferSize int           `mapstructure:"error_buffer_size"`
	StartTracking   bool          `mapstructure:"start_tracking"`
}

// AlertConfig shapes the rendered notification.
type AlertConfig struct {
	TokenSymbol   string            `mapstructure:"token_symbol"`
	TokenDecimals int               `mapstructure:"token_decimals"`
	MinUSD        float64           `mapstructure:"min_usd"`
	ThresholdsUSD []float64         `mapstructure:"thresholds_usd"`
	SupplyCap     float64           `mapstructure:"supply_fallback"`
	VideoBaseURL  string            `mapstructure:"video_base_url"`
	Videos        map[string]string `mapstructure:"videos"`
	TxURLPrefix   string            `mapstructure:"tx_url_prefix"`
	BuyURL        string            `mapstructure:"buy_url"`
	ChartURL      string            `mapstructure:"chart_url"`
	StakingURL    string            `mapstructure:"staking_url"`
}

// LedgerConfig locates the posted-transactions file.
type LedgerConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the webhook HTTP listener.
type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BUYWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "buywatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("explorer.base_url", "https://api.bscscan.com/api")
	v.SetDefault("explorer.page_size", 50)
	v.SetDefault("explorer.request_timeout", "30s")
	v.SetDefault("explorer.cache_ttl", "2m")

	v.SetDefault("pricing.sources", []string{"gecko", "cmc", "pair", "static"})
	v.SetDefault("pricing.gecko_base_url", "https://api.geckoterminal.com/api/v2")
	v.SetDefault("pricing.gecko_network", "bsc")
	v.SetDefault("pricing.cmc_base_url", "https://pro-api.coinmarketcap.com")
	v.SetDefault("pricing.native_token_address", "0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c")
	v.SetDefault("pricing.native_symbol", "BNB")
	v.SetDefault("pricing.fallback_token_price", 0.00003886)
	v.SetDefault("pricing.fallback_native_price", 600)
	v.SetDefault("pricing.request_timeout", "10s")
	v.SetDefault("pricing.cache_ttl", "60s")
	v.SetDefault("pricing.retry_attempts", 3)
	v.SetDefault("pricing.retry_base_delay", "2s")

	v.SetDefault("monitor.poll_interval", "60s")
	v.SetDefault("monitor.startup_delay", "0s")
	v.SetDefault("monitor.error_buffer_size", 5)
	v.SetDefault("monitor.start_tracking", false)

	v.SetDefault("alert.token_symbol", "PETS")
	v.SetDefault("alert.token_decimals", 18)
	v.SetDefault("alert.min_usd", 1)
	v.SetDefault("alert.thresholds_usd", []float64{100, 500, 1000})
	v.SetDefault("alert.supply_fallback", 6_604_885_020)
	v.SetDefault("alert.tx_url_prefix", "https://bscscan.com/tx/")

	v.SetDefault("ledger.path", "posted_transactions.txt")

	v.SetDefault("server.listen_addr", ":8080")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
// Missing credentials are fatal: the process must refuse to start rather
// than run in a silently degraded state.
func (c *Config) Validate() error {
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token 必须配置")
	}
	if c.Telegram.ChatID == 0 {
		return fmt.Errorf("telegram.chat_id 必须配置")
	}
	if c.Telegram.AdminChatID == 0 {
		return fmt.Errorf("telegram.admin_chat_id 必须配置")
	}
	if c.Explorer.APIKey == "" {
		return fmt.Errorf("explorer.api_key is required")
	}
	if c.Explorer.ContractAddress == "" {
		return fmt.Errorf("explorer.contract_address is required")
	}
	if c.Explorer.WatchedAddress == "" {
		return fmt.Errorf("explorer.watched_address is required")
	}
	if c.Explorer.PageSize <= 0 {
		return fmt.Errorf("explorer.page_size must be greater than zero")
	}
	if c.Monitor.PollInterval <= 0 {
		return fmt.Errorf("monitor.poll_interval must be greater than zero")
	}
	if c.Alert.TokenDecimals <= 0 {
		return fmt.Errorf("alert.token_decimals must be greater than zero")
	}
	if c.Alert.MinUSD < 0 {
		return fmt.Errorf("alert.min_usd cannot be negative")
	}
	if len(c.Alert.ThresholdsUSD) == 0 {
		return fmt.Errorf("alert.thresholds_usd must not be empty")
	}
	for i := 1; i < len(c.Alert.ThresholdsUSD); i++ {
		if c.Alert.ThresholdsUSD[i] <= c.Alert.ThresholdsUSD[i-1] {
			return fmt.Errorf("alert.thresholds_usd must be strictly ascending")
		}
	}
	if c.Pricing.FallbackTokenPrice <= 0 {
		return fmt.Errorf("pricing.fallback_token_price must be greater than zero")
	}
	if c.Pricing.FallbackNativePrice <= 0 {
		return fmt.Errorf("pricing.fallback_native_price must be greater than zero")
	}
	if c.Ledger.Path == "" {
		return fmt.Errorf("ledger.path is required")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
