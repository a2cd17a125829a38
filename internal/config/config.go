package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"ZK-Intent-Fusion/internal/auth"
	"ZK-Intent-Fusion/internal/intent"
	"ZK-Intent-Fusion/pkg/logger"
)

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = "INTENTD_CONFIG"

// Config 描述了 intentd 在启动阶段需要加载的核心配置。
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server" toml:"server"`
	Storage   StorageConfig   `json:"storage" yaml:"storage" toml:"storage"`
	Events    EventsConfig    `json:"events" yaml:"events" toml:"events"`
	Auction   AuctionConfig   `json:"auction" yaml:"auction" toml:"auction"`
	Solvers   SolversConfig   `json:"solvers" yaml:"solvers" toml:"solvers"`
	Lifecycle LifecycleConfig `json:"lifecycle" yaml:"lifecycle" toml:"lifecycle"`
	Web3      Web3Config      `json:"web3" yaml:"web3" toml:"web3"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics" toml:"metrics"`
	Alerting  AlertingConfig  `json:"alerting" yaml:"alerting" toml:"alerting"`
	Auth      auth.Config     `json:"auth" yaml:"auth" toml:"auth"`
	LLM       LLMConfig       `json:"llm" yaml:"llm" toml:"llm"`
	Logging   logger.Config   `json:"logging" yaml:"logging" toml:"logging"`
}

// ServerConfig 控制 API 服务的监听地址与限流参数。
type ServerConfig struct {
	Address   string          `json:"address" yaml:"address" toml:"address"`
	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit" toml:"rate_limit"`
}

// RateLimitConfig 是按客户端 IP 的令牌桶参数，RequestsPerSecond 为 0 表示不限流。
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int     `json:"burst" yaml:"burst" toml:"burst"`
}

// StorageConfig 描述生命周期记录的存储后端。
type StorageConfig struct {
	Lifecycle LifecycleStoreConfig `json:"lifecycle" yaml:"lifecycle" toml:"lifecycle"`
}

// LifecycleStoreConfig 支持 memory、mysql、sqlite 与 redis 四种驱动。
type LifecycleStoreConfig struct {
	Driver                 string      `json:"driver" yaml:"driver" toml:"driver"`
	DSN                    string      `json:"dsn" yaml:"dsn" toml:"dsn"`
	MaxOpenConns           int         `json:"max_open_conns" yaml:"max_open_conns" toml:"max_open_conns"`
	MaxIdleConns           int         `json:"max_idle_conns" yaml:"max_idle_conns" toml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int         `json:"conn_max_lifetime_seconds" yaml:"conn_max_lifetime_seconds" toml:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int         `json:"conn_max_idle_time_seconds" yaml:"conn_max_idle_time_seconds" toml:"conn_max_idle_time_seconds"`
	Redis                  RedisConfig `json:"redis" yaml:"redis" toml:"redis"`
}

// RedisConfig 描述 Redis 连接。
type RedisConfig struct {
	Address          string `json:"address" yaml:"address" toml:"address"`
	Password         string `json:"password" yaml:"password" toml:"password"`
	DB               int    `json:"db" yaml:"db" toml:"db"`
	Prefix           string `json:"prefix" yaml:"prefix" toml:"prefix"`
	Queue            string `json:"queue" yaml:"queue" toml:"queue"`
	BlockWaitSeconds int    `json:"block_wait_seconds" yaml:"block_wait_seconds" toml:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 连接。
type RabbitMQConfig struct {
	URL        string `json:"url" yaml:"url" toml:"url"`
	Queue      string `json:"queue" yaml:"queue" toml:"queue"`
	Prefetch   int    `json:"prefetch" yaml:"prefetch" toml:"prefetch"`
	Durable    bool   `json:"durable" yaml:"durable" toml:"durable"`
	AutoDelete bool   `json:"auto_delete" yaml:"auto_delete" toml:"auto_delete"`
}

// EventsConfig 描述生命周期事件总线。
type EventsConfig struct {
	Driver     string         `json:"driver" yaml:"driver" toml:"driver"`
	BufferSize int            `json:"buffer_size" yaml:"buffer_size" toml:"buffer_size"`
	Workers    int            `json:"workers" yaml:"workers" toml:"workers"`
	Redis      RedisConfig    `json:"redis" yaml:"redis" toml:"redis"`
	RabbitMQ   RabbitMQConfig `json:"rabbitmq" yaml:"rabbitmq" toml:"rabbitmq"`
}

// AuctionConfig 控制报价征集。
type AuctionConfig struct {
	AgentTimeoutMS  int    `json:"agent_timeout_ms" yaml:"agent_timeout_ms" toml:"agent_timeout_ms"`
	DefaultStrategy string `json:"default_strategy" yaml:"default_strategy" toml:"default_strategy"`
}

// AgentTimeout 返回单个求解者的报价时限。
func (a AuctionConfig) AgentTimeout() time.Duration {
	return time.Duration(a.AgentTimeoutMS) * time.Millisecond
}

// SolversConfig 指向求解者注册表文件，为空时使用内置求解者。
type SolversConfig struct {
	Registry string `json:"registry" yaml:"registry" toml:"registry"`
}

// LifecycleConfig 控制生命周期编排的可选行为。
type LifecycleConfig struct {
	VerifySignatures bool `json:"verify_signatures" yaml:"verify_signatures" toml:"verify_signatures"`
}

// Web3Config 包含访问区块链节点所需的 RPC 地址。
type Web3Config struct {
	RPCURL       string `json:"rpc_url" yaml:"rpc_url" toml:"rpc_url"`
	ChainConfig  string `json:"chain_config" yaml:"chain_config" toml:"chain_config"`
	DefaultChain string `json:"default_chain" yaml:"default_chain" toml:"default_chain"`
}

// Enabled 判断是否配置了任何链访问。
func (w Web3Config) Enabled() bool {
	return strings.TrimSpace(w.RPCURL) != "" || strings.TrimSpace(w.ChainConfig) != ""
}

// MetricsConfig 控制独立的指标监听地址，为空时仅通过 API 的 /metrics 暴露。
type MetricsConfig struct {
	Address string `json:"address" yaml:"address" toml:"address"`
}

// AlertingConfig 描述告警投递。
type AlertingConfig struct {
	WebhookURL string `json:"webhook_url" yaml:"webhook_url" toml:"webhook_url"`
}

// LLMConfig 选择辅助解析意图的大模型，Provider 为空或 none 时只使用关键字规则。
type LLMConfig struct {
	Provider string       `json:"provider" yaml:"provider" toml:"provider"`
	OpenAI   OpenAIConfig `json:"openai" yaml:"openai" toml:"openai"`
}

// Enabled 判断是否启用了模型解析。
func (l LLMConfig) Enabled() bool {
	return l.Provider != "" && l.Provider != "none"
}

// OpenAIConfig 描述 OpenAI Chat Completions 的访问参数。
type OpenAIConfig struct {
	APIKey         string `json:"api_key" yaml:"api_key" toml:"api_key"`
	APIKeyEnv      string `json:"api_key_env" yaml:"api_key_env" toml:"api_key_env"`
	BaseURL        string `json:"base_url" yaml:"base_url" toml:"base_url"`
	Model          string `json:"model" yaml:"model" toml:"model"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds" toml:"timeout_seconds"`
}

// ResolveAPIKey 优先使用显式配置的密钥，其次读取环境变量。
func (o OpenAIConfig) ResolveAPIKey() string {
	if key := strings.TrimSpace(o.APIKey); key != "" {
		return key
	}
	if o.APIKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(o.APIKeyEnv))
}

// Timeout 返回单次请求的超时时间。
func (o OpenAIConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutSeconds) * time.Second
}

// PathFromEnv 返回环境变量指定的配置路径，未设置时返回 fallback。
func PathFromEnv(fallback string) string {
	if path := strings.TrimSpace(os.Getenv(EnvConfigPath)); path != "" {
		return path
	}
	return fallback
}

// Load 按扩展名解析 JSON、YAML 或 TOML 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg, err := Parse(content, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse 按格式解析配置内容，不填充默认值。
func Parse(content []byte, ext string) (*Config, error) {
	var cfg Config
	var err error
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "json", "":
		err = json.Unmarshal(content, &cfg)
	case "yaml", "yml":
		err = yaml.Unmarshal(content, &cfg)
	case "toml":
		err = toml.Unmarshal(content, &cfg)
	default:
		return nil, fmt.Errorf("不支持的配置格式: %s", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	return &cfg, nil
}

// Default 返回全部使用默认值的配置。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults(".")
	return cfg
}

// Validate 校验驱动名与策略名，未知值在启动阶段即报错。
func (c *Config) Validate() error {
	switch c.Storage.Lifecycle.Driver {
	case "memory", "mysql", "sqlite", "redis":
	default:
		return fmt.Errorf("未知的存储驱动: %s", c.Storage.Lifecycle.Driver)
	}
	switch c.Events.Driver {
	case "memory", "redis", "rabbitmq", "none":
	default:
		return fmt.Errorf("未知的事件总线驱动: %s", c.Events.Driver)
	}
	if _, err := intent.ParseStrategy(c.Auction.DefaultStrategy); err != nil {
		return fmt.Errorf("auction.default_strategy: %w", err)
	}
	switch c.Auth.Mode {
	case "", auth.ModeDisabled, auth.ModeToken:
	default:
		return fmt.Errorf("未知的认证模式: %s", c.Auth.Mode)
	}
	switch c.LLM.Provider {
	case "", "none":
	case "openai":
		if c.LLM.OpenAI.ResolveAPIKey() == "" {
			return fmt.Errorf("llm.openai 未提供 API Key（api_key 或环境变量 %s）", c.LLM.OpenAI.APIKeyEnv)
		}
	default:
		return fmt.Errorf("未知的大模型提供方: %s", c.LLM.Provider)
	}
	if c.Server.RateLimit.RequestsPerSecond < 0 {
		return errors.New("server.rate_limit.requests_per_second 不能为负数")
	}
	return nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.RateLimit.RequestsPerSecond > 0 && c.Server.RateLimit.Burst <= 0 {
		c.Server.RateLimit.Burst = int(c.Server.RateLimit.RequestsPerSecond) * 2
		if c.Server.RateLimit.Burst < 1 {
			c.Server.RateLimit.Burst = 1
		}
	}

	store := &c.Storage.Lifecycle
	store.Driver = strings.ToLower(strings.TrimSpace(store.Driver))
	if store.Driver == "" {
		store.Driver = "memory"
	}
	if store.Driver == "sqlite" {
		if store.DSN == "" {
			store.DSN = filepath.Join(baseDir, "data", "lifecycle.db")
		} else if !filepath.IsAbs(store.DSN) && !strings.Contains(store.DSN, ":") {
			store.DSN = filepath.Join(baseDir, store.DSN)
		}
	}
	if store.Redis.Prefix == "" {
		store.Redis.Prefix = "intentfusion"
	}

	c.Events.Driver = strings.ToLower(strings.TrimSpace(c.Events.Driver))
	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}
	if c.Events.BufferSize <= 0 {
		c.Events.BufferSize = 1024
	}
	if c.Events.Workers <= 0 {
		c.Events.Workers = 1
	}

	if c.Auction.AgentTimeoutMS <= 0 {
		c.Auction.AgentTimeoutMS = 3000
	}
	if c.Auction.DefaultStrategy == "" {
		c.Auction.DefaultStrategy = string(intent.StrategyBalanced)
	}

	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.OpenAI.APIKeyEnv == "" {
		c.LLM.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.LLM.OpenAI.TimeoutSeconds <= 0 {
		c.LLM.OpenAI.TimeoutSeconds = 15
	}

	c.Solvers.Registry = resolvePath(baseDir, c.Solvers.Registry)
	c.Web3.ChainConfig = resolvePath(baseDir, c.Web3.ChainConfig)
	c.Logging.Audit.Path = resolvePath(baseDir, c.Logging.Audit.Path)
}

func resolvePath(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
