package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// 密钥只接受环境变量注入。
const (
	EnvOpenAIKey = "CHAINPILOT_OPENAI_KEY"
	EnvWalletKey = "CHAINPILOT_WALLET_KEY"
	EnvAPIKey    = "CHAINPILOT_API_KEY"
)

// Config 描述了 ChainPilot 在启动阶段需要加载的核心配置。
type Config struct {
	Server  ServerConfig  `json:"server"`
	Storage StorageConfig `json:"storage"`
	Queue   QueueConfig   `json:"queue"`
	LLM     LLMConfig     `json:"llm"`
	Web3    Web3Config    `json:"web3"`
	Agent   AgentConfig   `json:"agent"`
	Runtime RuntimeConfig `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址与访问密钥。
type ServerConfig struct {
	Address string `json:"address"`
	// APIKey 为空时接口不做鉴权，仅建议在本地调试时使用。
	APIKey string `json:"-"`
}

// StorageConfig 统一描述任务存储后端的连接信息。
type StorageConfig struct {
	TaskStore TaskStoreConfig `json:"task_store"`
}

// TaskStoreConfig 支持 memory 与 mysql 两种驱动。
type TaskStoreConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// QueueConfig 描述异步任务队列的驱动，支持 memory、redis、rabbitmq。
type QueueConfig struct {
	Driver   string `json:"driver"`
	RedisURL string `json:"redis_url"`
	AMQPURL  string `json:"amqp_url"`
	Name     string `json:"name"`
	Workers  int    `json:"workers"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider string       `json:"provider"`
	OpenAI   OpenAIConfig `json:"openai"`
}

// OpenAIConfig 描述 OpenAI 兼容接口的调用参数。APIKey 从环境变量读取。
type OpenAIConfig struct {
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	APIKey         string `json:"-"`
}

// Web3Config 包含链配置文件路径与签名钱包。WalletKey 从环境变量读取。
type Web3Config struct {
	ChainConfig  string `json:"chain_config"`
	DefaultChain string `json:"default_chain"`
	WalletKey    string `json:"-"`
}

// AgentConfig 控制会话状态机的运行参数。
type AgentConfig struct {
	MaxTurns     int    `json:"max_turns"`
	SystemPrompt string `json:"system_prompt"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件，并叠加环境变量中的密钥。
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

	cfg.applyDefaults(filepath.Dir(path))
	cfg.applyEnv()

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Storage.TaskStore.Driver == "" {
		c.Storage.TaskStore.Driver = "memory"
	}
	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Name == "" {
		c.Queue.Name = "chainpilot.tasks"
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 4
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.OpenAI.TimeoutSeconds <= 0 {
		c.LLM.OpenAI.TimeoutSeconds = 60
	}

	if c.Web3.ChainConfig == "" {
		c.Web3.ChainConfig = filepath.Join(baseDir, "chains.yaml")
	} else if !filepath.IsAbs(c.Web3.ChainConfig) {
		c.Web3.ChainConfig = filepath.Join(baseDir, c.Web3.ChainConfig)
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}

// applyEnv 从环境变量读取密钥类字段。
func (c *Config) applyEnv() {
	c.LLM.OpenAI.APIKey = strings.TrimSpace(os.Getenv(EnvOpenAIKey))
	c.Web3.WalletKey = strings.TrimSpace(os.Getenv(EnvWalletKey))
	c.Server.APIKey = strings.TrimSpace(os.Getenv(EnvAPIKey))
}

// Validate 校验启动所必需的凭证，缺失时进程不应继续启动。
func (c *Config) Validate() error {
	if c.LLM.OpenAI.APIKey == "" {
		return fmt.Errorf("缺少环境变量 %s", EnvOpenAIKey)
	}
	if c.Web3.WalletKey == "" {
		return fmt.Errorf("缺少环境变量 %s", EnvWalletKey)
	}
	switch c.Storage.TaskStore.Driver {
	case "memory":
	case "mysql":
		if strings.TrimSpace(c.Storage.TaskStore.DSN) == "" {
			return errors.New("mysql 驱动需要配置 dsn")
		}
	default:
		return fmt.Errorf("不支持的任务存储驱动: %s", c.Storage.TaskStore.Driver)
	}
	switch c.Queue.Driver {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.Queue.RedisURL) == "" {
			return errors.New("redis 队列需要配置 redis_url")
		}
	case "rabbitmq":
		if strings.TrimSpace(c.Queue.AMQPURL) == "" {
			return errors.New("rabbitmq 队列需要配置 amqp_url")
		}
	default:
		return fmt.Errorf("不支持的队列驱动: %s", c.Queue.Driver)
	}
	return nil
}
