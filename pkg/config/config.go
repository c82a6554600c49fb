package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ChainConfig 链节点地址
type ChainConfig struct {
	RESTURL      string // LCD REST 地址
	WebsocketURL string // CometBFT websocket 地址（.../websocket）
	ProxyURL     string // websocket 代理（可选）
}

// CacheConfig 查询缓存
type CacheConfig struct {
	Backend string // memory 或 badger
	Path    string // badger 数据目录
}

// RateLimitConfig 客户端限速
type RateLimitConfig struct {
	PerSecond float64
	Burst     int
}

// TradingConfig 撮合预览与订单簿刷新
type TradingConfig struct {
	CollapseSingleFill bool          // 只有一笔吃单时改用对手价挂单
	RefreshDebounce    time.Duration // 链上事件触发订单簿刷新的防抖间隔
	MaxSubmitFailures  int64         // 连续广播失败多少次后暂停提交，0 表示不限制
	BreakerCooldown    time.Duration
}

// Config 应用配置
type Config struct {
	Chain           ChainConfig
	AggregatorURL   string
	DefaultMarketID string
	Address         string // 关注余额/抽奖的地址（可选）
	HTTPAddr        string
	MetricsAddr     string // expvar/pprof，空表示不启动
	Cache           CacheConfig
	JournalPath     string // SQLite 提交记录
	RateLimit       RateLimitConfig
	Trading         TradingConfig
	LogLevel        string
	LogFile         string
}

var globalConfig *Config
var configFilePath string

// SetConfigPath 设置配置文件路径
func SetConfigPath(path string) {
	configFilePath = path
}

// GetConfigPath 获取配置文件路径
func GetConfigPath() string {
	return configFilePath
}

// ConfigFile 配置文件结构（用于 YAML/JSON 解析）
type ConfigFile struct {
	Chain struct {
		RESTURL      string `yaml:"rest_url" json:"rest_url"`
		WebsocketURL string `yaml:"websocket_url" json:"websocket_url"`
		ProxyURL     string `yaml:"proxy_url" json:"proxy_url"`
	} `yaml:"chain" json:"chain"`
	AggregatorURL   string `yaml:"aggregator_url" json:"aggregator_url"`
	DefaultMarketID string `yaml:"default_market_id" json:"default_market_id"`
	Address         string `yaml:"address" json:"address"`
	HTTPAddr        string `yaml:"http_addr" json:"http_addr"`
	MetricsAddr     string `yaml:"metrics_addr" json:"metrics_addr"`
	Cache           struct {
		Backend string `yaml:"backend" json:"backend"`
		Path    string `yaml:"path" json:"path"`
	} `yaml:"cache" json:"cache"`
	JournalPath string `yaml:"journal_path" json:"journal_path"`
	RateLimit   struct {
		PerSecond float64 `yaml:"per_second" json:"per_second"`
		Burst     int     `yaml:"burst" json:"burst"`
	} `yaml:"rate_limit" json:"rate_limit"`
	Trading struct {
		CollapseSingleFill *bool  `yaml:"collapse_single_fill" json:"collapse_single_fill"`
		RefreshDebounceMs  int    `yaml:"refresh_debounce_ms" json:"refresh_debounce_ms"`
		MaxSubmitFailures  *int64 `yaml:"max_submit_failures" json:"max_submit_failures"`
		BreakerCooldownSec int    `yaml:"breaker_cooldown_sec" json:"breaker_cooldown_sec"`
	} `yaml:"trading" json:"trading"`
	LogLevel string `yaml:"log_level" json:"log_level"`
	LogFile  string `yaml:"log_file" json:"log_file"`
}

// Defaults 默认配置
func Defaults() *Config {
	return &Config{
		Chain: ChainConfig{
			RESTURL:      "https://rest.getbze.com",
			WebsocketURL: "wss://rpc.getbze.com/websocket",
		},
		AggregatorURL:   "https://getbze.com",
		DefaultMarketID: "ubze/uusdc",
		HTTPAddr:        ":8080",
		Cache:           CacheConfig{Backend: "memory", Path: "data/cache"},
		JournalPath:     "data/journal.db",
		RateLimit:       RateLimitConfig{PerSecond: 10, Burst: 20},
		Trading: TradingConfig{
			RefreshDebounce:   300 * time.Millisecond,
			MaxSubmitFailures: 3,
			BreakerCooldown:   time.Minute,
		},
		LogLevel: "info",
	}
}

// Load 加载配置
func Load() (*Config, error) {
	return LoadFromFile(configFilePath)
}

// LoadFromFile 从指定文件加载配置。优先级：环境变量 > 配置文件 > 默认值
func LoadFromFile(filePath string) (*Config, error) {
	cfg := Defaults()

	if filePath != "" {
		configFile, err := loadConfigFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
		}
		applyFile(cfg, configFile)
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	globalConfig = cfg
	return cfg, nil
}

// loadConfigFile 加载配置文件（支持 YAML 和 JSON）
func loadConfigFile(filePath string) (*ConfigFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var configFile ConfigFile
	ext := strings.ToLower(filepath.Ext(filePath))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}

	return &configFile, nil
}

// applyFile 配置文件中非零值覆盖默认值
func applyFile(cfg *Config, cf *ConfigFile) {
	setString(&cfg.Chain.RESTURL, cf.Chain.RESTURL)
	setString(&cfg.Chain.WebsocketURL, cf.Chain.WebsocketURL)
	setString(&cfg.Chain.ProxyURL, cf.Chain.ProxyURL)
	setString(&cfg.AggregatorURL, cf.AggregatorURL)
	setString(&cfg.DefaultMarketID, cf.DefaultMarketID)
	setString(&cfg.Address, cf.Address)
	setString(&cfg.HTTPAddr, cf.HTTPAddr)
	setString(&cfg.MetricsAddr, cf.MetricsAddr)
	setString(&cfg.Cache.Backend, cf.Cache.Backend)
	setString(&cfg.Cache.Path, cf.Cache.Path)
	setString(&cfg.JournalPath, cf.JournalPath)
	setString(&cfg.LogLevel, cf.LogLevel)
	setString(&cfg.LogFile, cf.LogFile)

	if cf.RateLimit.PerSecond > 0 {
		cfg.RateLimit.PerSecond = cf.RateLimit.PerSecond
	}
	if cf.RateLimit.Burst > 0 {
		cfg.RateLimit.Burst = cf.RateLimit.Burst
	}
	if cf.Trading.CollapseSingleFill != nil {
		cfg.Trading.CollapseSingleFill = *cf.Trading.CollapseSingleFill
	}
	if cf.Trading.RefreshDebounceMs > 0 {
		cfg.Trading.RefreshDebounce = time.Duration(cf.Trading.RefreshDebounceMs) * time.Millisecond
	}
	if cf.Trading.MaxSubmitFailures != nil {
		cfg.Trading.MaxSubmitFailures = *cf.Trading.MaxSubmitFailures
	}
	if cf.Trading.BreakerCooldownSec > 0 {
		cfg.Trading.BreakerCooldown = time.Duration(cf.Trading.BreakerCooldownSec) * time.Second
	}
}

// applyEnv 环境变量覆盖
func applyEnv(cfg *Config) {
	cfg.Chain.RESTURL = getEnv("DEX_REST_URL", cfg.Chain.RESTURL)
	cfg.Chain.WebsocketURL = getEnv("DEX_WS_URL", cfg.Chain.WebsocketURL)
	cfg.Chain.ProxyURL = getEnv("DEX_PROXY_URL", cfg.Chain.ProxyURL)
	cfg.AggregatorURL = getEnv("DEX_AGGREGATOR_URL", cfg.AggregatorURL)
	cfg.DefaultMarketID = getEnv("DEX_MARKET_ID", cfg.DefaultMarketID)
	cfg.Address = getEnv("DEX_ADDRESS", cfg.Address)
	cfg.HTTPAddr = getEnv("DEX_HTTP_ADDR", cfg.HTTPAddr)
	cfg.MetricsAddr = getEnv("DEX_METRICS_ADDR", cfg.MetricsAddr)
	cfg.Cache.Backend = getEnv("DEX_CACHE_BACKEND", cfg.Cache.Backend)
	cfg.Cache.Path = getEnv("DEX_CACHE_PATH", cfg.Cache.Path)
	cfg.JournalPath = getEnv("DEX_JOURNAL_PATH", cfg.JournalPath)
	cfg.RateLimit.PerSecond = parseFloatEnv("DEX_RATE_LIMIT_PER_SECOND", cfg.RateLimit.PerSecond)
	cfg.RateLimit.Burst = parseIntEnv("DEX_RATE_LIMIT_BURST", cfg.RateLimit.Burst)
	cfg.Trading.CollapseSingleFill = parseBoolEnv("DEX_COLLAPSE_SINGLE_FILL", cfg.Trading.CollapseSingleFill)
	if ms := parseIntEnv("DEX_REFRESH_DEBOUNCE_MS", -1); ms >= 0 {
		cfg.Trading.RefreshDebounce = time.Duration(ms) * time.Millisecond
	}
	cfg.Trading.MaxSubmitFailures = int64(parseIntEnv("DEX_MAX_SUBMIT_FAILURES", int(cfg.Trading.MaxSubmitFailures)))
	if sec := parseIntEnv("DEX_BREAKER_COOLDOWN_SEC", 0); sec > 0 {
		cfg.Trading.BreakerCooldown = time.Duration(sec) * time.Second
	}
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)
}

// Get 获取全局配置（如果已加载）
func Get() *Config {
	return globalConfig
}

// Validate 验证配置
func (c *Config) Validate() error {
	if err := validateURL("chain.rest_url", c.Chain.RESTURL, "http", "https"); err != nil {
		return err
	}
	if err := validateURL("chain.websocket_url", c.Chain.WebsocketURL, "ws", "wss"); err != nil {
		return err
	}
	if c.AggregatorURL != "" {
		if err := validateURL("aggregator_url", c.AggregatorURL, "http", "https"); err != nil {
			return err
		}
	}
	switch c.Cache.Backend {
	case "memory":
	case "badger":
		if strings.TrimSpace(c.Cache.Path) == "" {
			return fmt.Errorf("cache.backend=badger 需要配置 cache.path")
		}
	default:
		return fmt.Errorf("不支持的缓存后端: %q (支持 memory, badger)", c.Cache.Backend)
	}
	if c.RateLimit.PerSecond <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate_limit.per_second 和 rate_limit.burst 必须大于 0")
	}
	if c.Trading.RefreshDebounce < 0 {
		return fmt.Errorf("trading.refresh_debounce_ms 不能为负数")
	}
	if c.Trading.MaxSubmitFailures < 0 {
		return fmt.Errorf("trading.max_submit_failures 不能为负数")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("无效的日志级别 %q: %w", c.LogLevel, err)
	}
	return nil
}

func validateURL(name, raw string, schemes ...string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%s 未配置", name)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s 无效: %w", name, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s 必须是 %s 地址: %s", name, strings.Join(schemes, "/"), raw)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv 解析整数环境变量
func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

// parseFloatEnv 解析浮点数环境变量
func parseFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

// parseBoolEnv 解析布尔环境变量
func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}
