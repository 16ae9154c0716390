package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 应用程序配置
type Config struct {
	// Mistral OCR与对话模型共用同一套凭证
	Mistral MistralConfig `yaml:"mistral"`

	// Structurer 简历结构化器配置
	Structurer StructurerConfig `yaml:"structurer"`

	// Cleaner PDF背景清理配置
	Cleaner CleanerConfig `yaml:"cleaner"`

	// Logger 日志配置
	Logger LoggerConfig `yaml:"logger"`

	// Tracing 链路追踪配置
	Tracing TracingConfig `yaml:"tracing"`
}

// MistralConfig Mistral服务配置结构
type MistralConfig struct {
	APIKey         string `yaml:"api_key"`
	APIURL         string `yaml:"api_url"`         // OCR与文件接口的根地址
	OCRModel       string `yaml:"ocr_model"`       // OCR专用模型
	ChatModel      string `yaml:"chat_model"`      // 结构化用的对话模型
	TimeoutSeconds int    `yaml:"timeout_seconds"` // 单次HTTP请求超时(秒)
}

// StructurerConfig 简历结构化器配置结构
type StructurerConfig struct {
	MaxRetries     int `yaml:"max_retries"`     // 限流重试的最大尝试次数
	BaseDelayMS    int `yaml:"base_delay_ms"`   // 首次重试等待(毫秒)，逐次翻倍
	TimeoutSeconds int `yaml:"timeout_seconds"` // 单次LLM调用超时(秒)
}

// CleanerConfig PDF背景清理配置结构
type CleanerConfig struct {
	Scale     float64 `yaml:"scale"`      // 栅格化放大倍数
	BlockSize int     `yaml:"block_size"` // 自适应阈值的邻域边长(奇数)
	Offset    float64 `yaml:"offset"`     // 阈值偏移量
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level        string `yaml:"level"`         // debug, info, warn, error
	Format       string `yaml:"format"`        // json, pretty
	TimeFormat   string `yaml:"time_format"`   // 时间格式
	ReportCaller bool   `yaml:"report_caller"` // 是否报告调用位置
}

// TracingConfig 链路追踪配置
type TracingConfig struct {
	Endpoint string `yaml:"endpoint"` // OTLP gRPC端点，空表示不启用
}

// LoadConfig 从文件加载配置
// configPath为空时在常见位置查找；文件存在但解析失败始终报错
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		searchPaths := []string{
			"config.yaml",
			"./config.yaml",
			"../config.yaml",
			filepath.Join(os.Getenv("HOME"), ".cv-ingest", "config.yaml"),
		}

		// 可执行文件所在目录也纳入查找
		if execPath, err := os.Executable(); err == nil {
			execDir := filepath.Dir(execPath)
			searchPaths = append(searchPaths, filepath.Join(execDir, "config.yaml"))
		}

		for _, path := range searchPaths {
			if _, err := os.Stat(path); err == nil {
				configPath = path
				break
			}
		}

		// 找不到配置文件时以默认值启动，API密钥仍可经环境变量注入
		if configPath == "" {
			config := defaultConfig()
			applyEnvOverrides(config)
			return config, nil
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	applyEnvOverrides(config)
	return config, nil
}

// applyEnvOverrides 从环境变量覆盖配置（如果存在）
func applyEnvOverrides(config *Config) {
	if envKey := os.Getenv("MISTRAL_API_KEY"); envKey != "" {
		config.Mistral.APIKey = envKey
	}
	if envURL := os.Getenv("MISTRAL_API_URL"); envURL != "" {
		config.Mistral.APIURL = envURL
	}
}

// defaultConfig 返回带默认值的配置
func defaultConfig() *Config {
	config := &Config{}

	config.Mistral.APIURL = "https://api.mistral.ai"
	config.Mistral.OCRModel = "mistral-ocr-latest"
	config.Mistral.ChatModel = "ministral-8b-latest"
	config.Mistral.TimeoutSeconds = 60

	config.Structurer.MaxRetries = 5
	config.Structurer.BaseDelayMS = 1000
	config.Structurer.TimeoutSeconds = 60

	config.Cleaner.Scale = 2.0
	config.Cleaner.BlockSize = 11
	config.Cleaner.Offset = 2.0

	config.Logger.Level = "info"
	config.Logger.Format = "pretty"
	config.Logger.TimeFormat = "2006-01-02 15:04:05"
	config.Logger.ReportCaller = false

	return config
}

// MistralTimeout HTTP超时配置的时长形式
func (c *Config) MistralTimeout() time.Duration {
	if c.Mistral.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Mistral.TimeoutSeconds) * time.Second
}

// StructurerBaseDelay 首次重试等待的时长形式
func (c *Config) StructurerBaseDelay() time.Duration {
	if c.Structurer.BaseDelayMS <= 0 {
		return time.Second
	}
	return time.Duration(c.Structurer.BaseDelayMS) * time.Millisecond
}

// StructurerTimeout 单次LLM调用超时的时长形式
func (c *Config) StructurerTimeout() time.Duration {
	if c.Structurer.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Structurer.TimeoutSeconds) * time.Second
}
