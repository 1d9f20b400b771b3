package configs

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// LogConfig 日志配置
type LogConfig struct {
	LogFormat string `yaml:"log_format"`
	LogLevel  string `yaml:"log_level"`
	LogDir    string `yaml:"log_dir"`
	LogFile   string `yaml:"log_file"`

	MaxSizeMB  int `yaml:"max_size_mb"` // 单个日志文件上限，超过后切割
	MaxBackups int `yaml:"max_backups"`
	MaxAgeDays int `yaml:"max_age_days"`
}

// AuthConfig 认证配置
type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Secret  string `yaml:"secret" env:"JWT_SECRET"`
}

// DatabaseConfig 数据库配置，URL 形如 mysql:// postgres:// sqlite://
type DatabaseConfig struct {
	URL         string `yaml:"url" env:"DATABASE_URL"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

// UploadConfig 上传图片配置
type UploadConfig struct {
	Dir            string `yaml:"dir"`
	URLPrefix      string `yaml:"url_prefix"`
	MaxFileSize    int64  `yaml:"max_file_size"`    // 最大文件大小（字节）
	EnableDeepScan bool   `yaml:"enable_deep_scan"` // 解码文件头校验
	ThumbnailWidth int    `yaml:"thumbnail_width"`  // 0 表示不生成缩略图
}

// InferenceConfig 远程识别服务配置
type InferenceConfig struct {
	Type           string        `yaml:"type"`
	BaseURL        string        `yaml:"url" env:"AI_SERVICE_URL"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
}

// ChatConfig 对话大模型配置
type ChatConfig struct {
	Type           string        `yaml:"type"`
	ModelName      string        `yaml:"model_name"`
	BaseURL        string        `yaml:"url" env:"CHAT_API_URL"`
	APIKey         string        `yaml:"api_key" env:"CHAT_API_KEY"`
	Temperature    float64       `yaml:"temperature"`
	MaxTokens      int           `yaml:"max_tokens"`
	SystemPrompt   string        `yaml:"system_prompt"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
	MaxSessions    int64         `yaml:"max_sessions"`
	MaxHistory     int           `yaml:"max_history"`
}

// RateLimitConfig 接口限流配置，按用户或客户端IP计数
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// MetricsConfig Prometheus指标配置
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Config 主配置结构
type Config struct {
	Server struct {
		IP   string     `yaml:"ip"`
		Port int        `yaml:"port"`
		Auth AuthConfig `yaml:"auth"`
	} `yaml:"server"`

	Log LogConfig `yaml:"log"`

	Web struct {
		StaticDir      string          `yaml:"static_dir"`
		AllowedOrigins []string        `yaml:"allowed_origins"`
		RateLimit      RateLimitConfig `yaml:"rate_limit"`
		Metrics        MetricsConfig   `yaml:"metrics"`
	} `yaml:"web"`

	Database  DatabaseConfig  `yaml:"database"`
	Upload    UploadConfig    `yaml:"upload"`
	Inference InferenceConfig `yaml:"inference"`
	Chat      ChatConfig      `yaml:"chat"`

	TaxonomyFile string `yaml:"taxonomy_file"`
}

const defaultSystemPrompt = "你是SCNAI植物病虫害智能助手，专注于植物病虫害识别、防治建议和栽培管理指导。请用专业但易懂的语言回答问题。"

// ApplyDefaults 为未配置的字段填充默认值
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Log.LogDir == "" {
		c.Log.LogDir = "logs"
	}
	if c.Log.LogFile == "" {
		c.Log.LogFile = "server.log"
	}
	if c.Log.LogLevel == "" {
		c.Log.LogLevel = "info"
	}
	if c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.Web.RateLimit.RequestsPerMinute <= 0 {
		c.Web.RateLimit.RequestsPerMinute = 30
	}
	if c.Web.RateLimit.Burst <= 0 {
		c.Web.RateLimit.Burst = 10
	}
	if c.Web.Metrics.Path == "" {
		c.Web.Metrics.Path = "/metrics"
	}
	if c.Upload.Dir == "" {
		c.Upload.Dir = "uploads/recognition"
	}
	if c.Upload.URLPrefix == "" {
		c.Upload.URLPrefix = "/uploads/recognition"
	}
	if c.Upload.MaxFileSize <= 0 {
		c.Upload.MaxFileSize = 10 * 1024 * 1024
	}
	if c.Inference.Type == "" {
		c.Inference.Type = "remote"
	}
	if c.Inference.BaseURL == "" {
		c.Inference.BaseURL = "http://localhost:5001"
	}
	if c.Inference.ConnectTimeout <= 0 {
		c.Inference.ConnectTimeout = 30 * time.Second
	}
	if c.Inference.ReadTimeout <= 0 {
		c.Inference.ReadTimeout = 60 * time.Second
	}
	if c.Chat.Type == "" {
		c.Chat.Type = "openai"
	}
	if c.Chat.BaseURL == "" {
		c.Chat.BaseURL = "https://api.deepseek.com/v1/chat/completions"
	}
	if c.Chat.ModelName == "" {
		c.Chat.ModelName = "deepseek-chat"
	}
	if c.Chat.MaxTokens <= 0 {
		c.Chat.MaxTokens = 2000
	}
	if c.Chat.SystemPrompt == "" {
		c.Chat.SystemPrompt = defaultSystemPrompt
	}
	if c.Chat.ConnectTimeout <= 0 {
		c.Chat.ConnectTimeout = 30 * time.Second
	}
	if c.Chat.SessionTimeout <= 0 {
		c.Chat.SessionTimeout = 120 * time.Second
	}
	if c.Chat.MaxSessions <= 0 {
		c.Chat.MaxSessions = 64
	}
	if c.Chat.MaxHistory <= 0 {
		c.Chat.MaxHistory = 20
	}
	if c.TaxonomyFile == "" {
		c.TaxonomyFile = "taxonomy.yaml"
	}
}

// ParseConfig 解析YAML配置并用环境变量覆盖敏感项
func ParseConfig(data []byte) (*Config, error) {
	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// 环境变量中的密钥优先于配置文件
	if err := env.Parse(config); err != nil {
		return nil, fmt.Errorf("解析环境变量失败: %w", err)
	}

	config.ApplyDefaults()
	return config, nil
}

// LoadConfig 从文件加载配置
func LoadConfig() (*Config, string, error) {
	path := ".config.yaml"
	if _, err := os.Stat(path); os.IsNotExist(err) {
		path = "config.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, err
	}

	config, err := ParseConfig(data)
	if err != nil {
		return nil, path, err
	}

	return config, path, nil
}
