package config

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"golang.org/x/crypto/bcrypt"
)

// DefaultJWTSecret is used when JWT_SECRET is unset. Fine for local runs only.
const DefaultJWTSecret = "your-secret-key"

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig
	Auth      AuthConfig
	Store     StoreConfig
	AI        AIConfig
	Relay     RelayConfig
	Telemetry TelemetryConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	addr, err := normalizeAddr(cfg.Server.Port)
	if err != nil {
		return nil, err
	}
	cfg.Server.Addr = addr

	if err := cfg.Auth.validate(); err != nil {
		return nil, err
	}
	if err := cfg.AI.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Port        string   `env:"PORT"         envDefault:"4000"`
	CORSOrigins []string `env:"CORS_ORIGINS" envDefault:"*" envSeparator:","`

	// Addr is derived from Port.
	Addr string
}

// normalizeAddr 解析服务器监听地址。
func normalizeAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "4000"
	}

	if strings.ContainsAny(port, " \t") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":4000" 或 "127.0.0.1:4000"。
		return port, nil
	}

	if _, err := strconv.Atoi(port); err != nil {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}
	return ":" + port, nil
}

// AuthConfig 描述令牌与密码哈希配置。
type AuthConfig struct {
	JWTSecret  string        `env:"JWT_SECRET"  envDefault:"your-secret-key"`
	TokenTTL   time.Duration `env:"JWT_TTL"     envDefault:"24h"`
	BcryptCost int           `env:"BCRYPT_COST" envDefault:"10"`
}

func (c AuthConfig) validate() error {
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("invalid BCRYPT_COST value %d: want %d..%d", c.BcryptCost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("invalid JWT_TTL value %s", c.TokenTTL)
	}
	if c.JWTSecret == DefaultJWTSecret {
		log.Printf("[config] JWT_SECRET not set, using the development default")
	}
	return nil
}

// StoreConfig 描述持久化配置，DATABASE_PATH 为空时使用内存存储。
type StoreConfig struct {
	DatabasePath string `env:"DATABASE_PATH"`
}

// Persistent reports whether a SQLite database is configured.
func (c StoreConfig) Persistent() bool {
	return strings.TrimSpace(c.DatabasePath) != ""
}

// AI backend names reported by Backend.
const (
	BackendHTTP     = "http"
	BackendArk      = "ark"
	BackendDisabled = "disabled"
)

// AIConfig 描述 AI 服务与大模型相关配置。
type AIConfig struct {
	ServiceURL   string        `env:"AI_SERVICE_URL"`
	Timeout      time.Duration `env:"AI_TIMEOUT"       envDefault:"10s"`
	HistoryLimit int           `env:"AI_HISTORY_LIMIT" envDefault:"10"`

	APIKey    string `env:"ARK_API_KEY"`
	AccessKey string `env:"ARK_ACCESS_KEY"`
	SecretKey string `env:"ARK_SECRET_KEY"`
	Model     string `env:"ARK_MODEL"`
	BaseURL   string `env:"ARK_BASE_URL" envDefault:"https://ark.cn-beijing.volces.com/api/v3"`
	Region    string `env:"ARK_REGION"   envDefault:"cn-beijing"`

	// 采样参数未设置时保持为 nil，使用模型默认值。
	Temperature *float64 `env:"ARK_TEMPERATURE"`
	TopP        *float64 `env:"ARK_TOP_P"`
	MaxTokens   *int     `env:"ARK_MAX_TOKENS"`
}

func (c *AIConfig) validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("invalid AI_TIMEOUT value %s: must be positive", c.Timeout)
	}
	if c.HistoryLimit < 0 {
		c.HistoryLimit = 0
	}
	return nil
}

// ArkEnabled 表示是否提供了必需的密钥。
func (c AIConfig) ArkEnabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// Backend names the AI backend that will answer user turns. An HTTP
// service wins over Ark when both are configured.
func (c AIConfig) Backend() string {
	switch {
	case strings.TrimSpace(c.ServiceURL) != "":
		return BackendHTTP
	case c.ArkEnabled():
		return BackendArk
	default:
		return BackendDisabled
	}
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.ArkEnabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

// RelayConfig 描述 WebSocket 中继的传输限制。
type RelayConfig struct {
	SendBuffer    int           `env:"RELAY_SEND_BUFFER"     envDefault:"256"`
	PongWait      time.Duration `env:"RELAY_PONG_WAIT"       envDefault:"60s"`
	WriteWait     time.Duration `env:"RELAY_WRITE_WAIT"      envDefault:"10s"`
	MaxFrameBytes int64         `env:"RELAY_MAX_FRAME_BYTES" envDefault:"65536"`
	FrameRate     float64       `env:"RELAY_FRAME_RATE"      envDefault:"20"`
	FrameBurst    int           `env:"RELAY_FRAME_BURST"     envDefault:"40"`
}

// TelemetryConfig 描述链路追踪导出配置。
type TelemetryConfig struct {
	Enabled     bool   `env:"OTEL_ENABLED"`
	Endpoint    string `env:"OTEL_ENDPOINT"`
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"healthchat-api"`
}
