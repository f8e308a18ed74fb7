package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ALiFe-Chain/internal/auth"
	"ALiFe-Chain/internal/observability/alerting"
	"ALiFe-Chain/internal/observability/tracing"
	"ALiFe-Chain/internal/realtime"
	"ALiFe-Chain/pkg/logger"

	"github.com/caarlos0/env/v11"
)

// DefaultPath 是未设置 ALIFE_CONFIG 时使用的配置文件。
var DefaultPath = filepath.Join("configs", "alife.json")

// Config 描述了 alifed 在启动阶段需要加载的全部配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Logging  logger.Config  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Realtime RealtimeConfig `json:"realtime"`
	Web3     Web3Config     `json:"web3"`
	Conway   ConwayConfig   `json:"conway"`
	Launch   LaunchConfig   `json:"launch"`
	Webhook  WebhookConfig  `json:"webhook"`
	Auth     auth.Config    `json:"auth"`
	Alerting AlertingConfig `json:"alerting"`
	Tracing  tracing.Config `json:"tracing"`
	Metrics  MetricsConfig  `json:"metrics"`
}

// ServerConfig 控制 HTTP 服务。
type ServerConfig struct {
	Address                  string `json:"address"`
	ReadHeaderTimeoutSeconds int    `json:"read_header_timeout_seconds"`
	ShutdownTimeoutSeconds   int    `json:"shutdown_timeout_seconds"`
}

// ReadHeaderTimeout 返回读取请求头的超时。
func (c ServerConfig) ReadHeaderTimeout() time.Duration {
	return time.Duration(c.ReadHeaderTimeoutSeconds) * time.Second
}

// ShutdownTimeout 返回优雅关闭的等待时间。
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// StorageConfig 选择智能体状态的存储后端。
type StorageConfig struct {
	Driver string      `json:"driver"`
	MySQL  MySQLConfig `json:"mysql"`
}

// MySQLConfig 描述 MySQL 连接池。
type MySQLConfig struct {
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
	AutoMigrate            bool   `json:"auto_migrate"`
}

// RealtimeConfig 选择变更推送的驱动：memory、redis、rabbitmq 或 none。
type RealtimeConfig struct {
	Driver   string                  `json:"driver"`
	Redis    realtime.RedisConfig    `json:"redis"`
	RabbitMQ realtime.RabbitMQConfig `json:"rabbitmq"`
}

// Web3Config 包含链节点、合约地址与签名私钥。
type Web3Config struct {
	ChainConfig  string `json:"chain_config"`
	RPCURL       string `json:"rpc_url"`
	ChainID      int64  `json:"chain_id"`
	DefaultChain string `json:"default_chain"`

	// 合约地址为空时使用链定义中的值。
	LaunchpadAddress      string `json:"launchpad_address"`
	RevenueManagerAddress string `json:"revenue_manager_address"`

	CallTimeoutSeconds int `json:"call_timeout_seconds"`

	LauncherPrivateKey string `json:"-"`
	TreasuryPrivateKey string `json:"-"`
}

// CallTimeout 返回只读合约调用与领取交易的超时。
func (c Web3Config) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSeconds) * time.Second
}

// ConwayConfig 描述托管服务。
type ConwayConfig struct {
	BaseURL        string `json:"base_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	APIKey         string `json:"-"`
}

// Timeout 返回单次 HTTP 请求的超时。
func (c ConwayConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// LaunchConfig 描述发射流程中外部调用的超时。
type LaunchConfig struct {
	MintTimeoutSeconds         int    `json:"mint_timeout_seconds"`
	ProvisionTimeoutSeconds    int    `json:"provision_timeout_seconds"`
	ProviderCallTimeoutSeconds int    `json:"provider_call_timeout_seconds"`
	PersistTimeoutSeconds      int    `json:"persist_timeout_seconds"`
	FundingCurrency            string `json:"funding_currency"`
}

// WebhookConfig 描述 webhook 共享密钥与生存等级阈值。
type WebhookConfig struct {
	LowComputeBelow float64 `json:"low_compute_below"`
	CriticalBelow   float64 `json:"critical_below"`
	Secret          string  `json:"-"`
}

// AlertingConfig 描述告警渠道，未配置的渠道不会启用。
type AlertingConfig struct {
	Log      bool           `json:"log"`
	Slack    SlackConfig    `json:"slack"`
	DingTalk DingTalkConfig `json:"dingtalk"`
	Email    EmailConfig    `json:"email"`
}

// SlackConfig 描述 Slack incoming webhook。
type SlackConfig struct {
	WebhookURL string `json:"webhook_url"`
	Channel    string `json:"channel"`
}

// DingTalkConfig 描述钉钉机器人。
type DingTalkConfig struct {
	WebhookURL string `json:"webhook_url"`
}

// EmailConfig 描述邮件告警。
type EmailConfig struct {
	SMTP          alerting.SMTPConfig `json:"smtp"`
	SubjectPrefix string              `json:"subject_prefix"`
}

// MetricsConfig 控制 Prometheus 指标。Address 为空时挂载在主服务的 /metrics。
type MetricsConfig struct {
	Address string `json:"address"`
}

// secretsEnv 列出允许从环境变量覆盖的字段。
type secretsEnv struct {
	WebhookSecret      string `env:"ALIFE_WEBHOOK_SECRET"`
	ConwayAPIKey       string `env:"ALIFE_CONWAY_API_KEY"`
	MySQLDSN           string `env:"ALIFE_MYSQL_DSN"`
	LauncherPrivateKey string `env:"ALIFE_LAUNCHER_PRIVATE_KEY"`
	TreasuryPrivateKey string `env:"ALIFE_TREASURY_PRIVATE_KEY"`
	JWTSecret          string `env:"ALIFE_JWT_SECRET"`
	SMTPPassword       string `env:"ALIFE_SMTP_PASSWORD"`
	OTelEndpoint       string `env:"ALIFE_OTEL_ENDPOINT"`
	RedisPassword      string `env:"ALIFE_REDIS_PASSWORD"`
	RabbitMQURL        string `env:"ALIFE_RABBITMQ_URL"`
	RPCURL             string `env:"ALIFE_RPC_URL"`
}

// Path 返回配置文件路径，优先读取 ALIFE_CONFIG。
func Path() string {
	if path := strings.TrimSpace(os.Getenv("ALIFE_CONFIG")); path != "" {
		return path
	}
	return DefaultPath
}

// Load 解析指定路径的 JSON 配置文件，应用环境变量覆盖与默认值并校验。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv 用非空的环境变量覆盖配置。
func (c *Config) applyEnv() error {
	var secrets secretsEnv
	if err := env.Parse(&secrets); err != nil {
		return fmt.Errorf("解析环境变量失败: %w", err)
	}
	override := func(dst *string, value string) {
		if value = strings.TrimSpace(value); value != "" {
			*dst = value
		}
	}
	override(&c.Webhook.Secret, secrets.WebhookSecret)
	override(&c.Conway.APIKey, secrets.ConwayAPIKey)
	override(&c.Storage.MySQL.DSN, secrets.MySQLDSN)
	override(&c.Web3.LauncherPrivateKey, secrets.LauncherPrivateKey)
	override(&c.Web3.TreasuryPrivateKey, secrets.TreasuryPrivateKey)
	override(&c.Auth.JWT.Secret, secrets.JWTSecret)
	override(&c.Alerting.Email.SMTP.Password, secrets.SMTPPassword)
	override(&c.Tracing.Endpoint, secrets.OTelEndpoint)
	override(&c.Realtime.Redis.Password, secrets.RedisPassword)
	override(&c.Realtime.RabbitMQ.URL, secrets.RabbitMQURL)
	override(&c.Web3.RPCURL, secrets.RPCURL)
	return nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ReadHeaderTimeoutSeconds <= 0 {
		c.Server.ReadHeaderTimeoutSeconds = 5
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = 10
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Realtime.Driver == "" {
		c.Realtime.Driver = "memory"
	}

	if c.Web3.ChainConfig != "" && !filepath.IsAbs(c.Web3.ChainConfig) {
		c.Web3.ChainConfig = filepath.Join(baseDir, c.Web3.ChainConfig)
	}
	if c.Web3.CallTimeoutSeconds <= 0 {
		c.Web3.CallTimeoutSeconds = 30
	}

	if c.Conway.TimeoutSeconds <= 0 {
		c.Conway.TimeoutSeconds = 30
	}

	if c.Launch.MintTimeoutSeconds <= 0 {
		c.Launch.MintTimeoutSeconds = 180
	}
	if c.Launch.ProvisionTimeoutSeconds <= 0 {
		c.Launch.ProvisionTimeoutSeconds = 60
	}
	if c.Launch.ProviderCallTimeoutSeconds <= 0 {
		c.Launch.ProviderCallTimeoutSeconds = 30
	}
	if c.Launch.PersistTimeoutSeconds <= 0 {
		c.Launch.PersistTimeoutSeconds = 15
	}
	if c.Launch.FundingCurrency == "" {
		c.Launch.FundingCurrency = "USDC"
	}

	if c.Webhook.LowComputeBelow == 0 && c.Webhook.CriticalBelow == 0 {
		c.Webhook.LowComputeBelow = 5
		c.Webhook.CriticalBelow = 1
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = auth.ModeJWT
	}
	if c.Auth.JWT.Issuer == "" {
		c.Auth.JWT.Issuer = "alifed"
	}

	if c.Logging.Audit.Path != "" && !filepath.IsAbs(c.Logging.Audit.Path) {
		c.Logging.Audit.Path = filepath.Join(baseDir, c.Logging.Audit.Path)
	}
}

// Validate 检查驱动名称与相互依赖的字段。
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "mysql":
		if strings.TrimSpace(c.Storage.MySQL.DSN) == "" {
			return errors.New("mysql 存储需要配置 DSN（ALIFE_MYSQL_DSN）")
		}
	default:
		return fmt.Errorf("未知的存储驱动: %s", c.Storage.Driver)
	}

	switch c.Realtime.Driver {
	case "memory", "none":
	case "redis":
		if strings.TrimSpace(c.Realtime.Redis.Address) == "" {
			return errors.New("redis 实时驱动需要配置 address")
		}
	case "rabbitmq":
		if strings.TrimSpace(c.Realtime.RabbitMQ.URL) == "" {
			return errors.New("rabbitmq 实时驱动需要配置 url（ALIFE_RABBITMQ_URL）")
		}
	default:
		return fmt.Errorf("未知的实时驱动: %s", c.Realtime.Driver)
	}

	if c.Webhook.CriticalBelow > c.Webhook.LowComputeBelow {
		return fmt.Errorf("critical_below (%v) 不能大于 low_compute_below (%v)", c.Webhook.CriticalBelow, c.Webhook.LowComputeBelow)
	}
	if c.Auth.Mode == auth.ModeJWT && strings.TrimSpace(c.Auth.JWT.Secret) == "" {
		return errors.New("jwt 认证需要配置 ALIFE_JWT_SECRET")
	}
	return nil
}

// LaunchTimeouts 将秒数转换为时长。
func (c LaunchConfig) LaunchTimeouts() (mint, provision, providerCall, persist time.Duration) {
	return time.Duration(c.MintTimeoutSeconds) * time.Second,
		time.Duration(c.ProvisionTimeoutSeconds) * time.Second,
		time.Duration(c.ProviderCallTimeoutSeconds) * time.Second,
		time.Duration(c.PersistTimeoutSeconds) * time.Second
}
