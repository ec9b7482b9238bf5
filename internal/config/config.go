package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 描述了 obru 在启动阶段需要加载的全部配置。
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Tools     ToolsConfig     `mapstructure:"tools"`
	Workflows WorkflowsConfig `mapstructure:"workflows"`
	TaskQueue TaskQueueConfig `mapstructure:"task_queue"`
	TaskStore TaskStoreConfig `mapstructure:"task_store"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	MetricsAddress  string        `mapstructure:"metrics_address"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig 列出允许访问 API 的密钥，为空表示不鉴权。
type AuthConfig struct {
	Keys []string `mapstructure:"keys"`
}

// LLMConfig 用于配置模型服务。
type LLMConfig struct {
	Provider    string        `mapstructure:"provider"`
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
	Referer     string        `mapstructure:"referer"`
	Title       string        `mapstructure:"title"`
	Bedrock     bool          `mapstructure:"bedrock"`
	AWSRegion   string        `mapstructure:"aws_region"`
	AWSProfile  string        `mapstructure:"aws_profile"`
}

// AgentConfig 控制编排器的行为。
type AgentConfig struct {
	BasePrompt       string        `mapstructure:"base_prompt"`
	LLMTimeout       time.Duration `mapstructure:"llm_timeout"`
	ToolTimeout      time.Duration `mapstructure:"tool_timeout"`
	MaxParallelTools int           `mapstructure:"max_parallel_tools"`
	SessionTTL       time.Duration `mapstructure:"session_ttl"`
}

// ToolsConfig 描述启动时注册的工具。
type ToolsConfig struct {
	Manifest    string `mapstructure:"manifest"`
	CurrentTime bool   `mapstructure:"current_time"`
	Knowledge   string `mapstructure:"knowledge"`
}

// WorkflowsConfig 描述提示链工作流文件。
type WorkflowsConfig struct {
	ChainFile string `mapstructure:"chain_file"`
	Watch     bool   `mapstructure:"watch"`
}

// TaskQueueConfig 选择异步任务的队列实现。
type TaskQueueConfig struct {
	Driver   string         `mapstructure:"driver"`
	Workers  int            `mapstructure:"workers"`
	Size     int            `mapstructure:"size"`
	Redis    RedisConfig    `mapstructure:"redis"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
}

// RedisConfig 是 Redis 队列的连接参数。
type RedisConfig struct {
	Address   string        `mapstructure:"address"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	Queue     string        `mapstructure:"queue"`
	BlockWait time.Duration `mapstructure:"block_wait"`
}

// RabbitMQConfig 是 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL      string `mapstructure:"url"`
	Queue    string `mapstructure:"queue"`
	Prefetch int    `mapstructure:"prefetch"`
	Durable  bool   `mapstructure:"durable"`
}

// TaskStoreConfig 选择任务状态的存储实现。
type TaskStoreConfig struct {
	Driver      string        `mapstructure:"driver"`
	DSN         string        `mapstructure:"dsn"`
	MaxRetries  int           `mapstructure:"max_retries"`
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
}

// AlertingConfig 配置任务失败时的通知渠道。
type AlertingConfig struct {
	WebhookURL  string `mapstructure:"webhook_url"`
	SlackURL    string `mapstructure:"slack_url"`
	MinSeverity string `mapstructure:"min_severity"`
}

// LogConfig 对应 pkg/logger 的配置。
type LogConfig struct {
	Level     string   `mapstructure:"level"`
	Format    string   `mapstructure:"format"`
	Outputs   []string `mapstructure:"outputs"`
	AuditPath string   `mapstructure:"audit_path"`
}

// DefaultBasePrompt 是未配置时使用的系统提示。
const DefaultBasePrompt = "You are a helpful assistant."

// Load 读取配置文件并叠加环境变量。path 为空时依次查找当前目录与 ~/.config/obru 下的 obru.yaml，
// 找不到文件时仅使用默认值和环境变量。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("obru")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "obru"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	v.SetEnvPrefix("OBRU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	baseDir := "."
	if used := v.ConfigFileUsed(); used != "" {
		baseDir = filepath.Dir(used)
	}
	cfg.applyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.metrics_address", "")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "180s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("auth.keys", []string{})

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 1000)
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.max_retries", 0)
	v.SetDefault("llm.referer", "")
	v.SetDefault("llm.title", "")
	v.SetDefault("llm.bedrock", false)
	v.SetDefault("llm.aws_region", "")
	v.SetDefault("llm.aws_profile", "")

	v.SetDefault("agent.base_prompt", DefaultBasePrompt)
	v.SetDefault("agent.llm_timeout", "0s")
	v.SetDefault("agent.tool_timeout", "0s")
	v.SetDefault("agent.max_parallel_tools", 0)
	v.SetDefault("agent.session_ttl", "0s")

	v.SetDefault("tools.manifest", "")
	v.SetDefault("tools.current_time", true)
	v.SetDefault("tools.knowledge", "")

	v.SetDefault("workflows.chain_file", "")
	v.SetDefault("workflows.watch", false)

	v.SetDefault("task_queue.driver", "memory")
	v.SetDefault("task_queue.workers", 4)
	v.SetDefault("task_queue.size", 256)
	v.SetDefault("task_queue.redis.address", "")
	v.SetDefault("task_queue.redis.password", "")
	v.SetDefault("task_queue.redis.db", 0)
	v.SetDefault("task_queue.redis.queue", "obru:tasks")
	v.SetDefault("task_queue.redis.block_wait", "5s")
	v.SetDefault("task_queue.rabbitmq.url", "")
	v.SetDefault("task_queue.rabbitmq.queue", "obru.tasks")
	v.SetDefault("task_queue.rabbitmq.prefetch", 8)
	v.SetDefault("task_queue.rabbitmq.durable", true)

	v.SetDefault("task_store.driver", "memory")
	v.SetDefault("task_store.dsn", "")
	v.SetDefault("task_store.max_retries", 3)
	v.SetDefault("task_store.task_timeout", "5m")

	v.SetDefault("alerting.webhook_url", "")
	v.SetDefault("alerting.slack_url", "")
	v.SetDefault("alerting.min_severity", "warning")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.outputs", []string{"stderr"})
	v.SetDefault("log.audit_path", "")
}

// applyDefaults 补全依赖其他字段的默认值，并把相对路径解析到配置文件所在目录。
func (c *Config) applyDefaults(baseDir string) {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.APIKey == "" {
		switch c.LLM.Provider {
		case "openai":
			c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		case "openrouter":
			c.LLM.APIKey = os.Getenv("OPENROUTER_API_KEY")
		case "anthropic":
			c.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}
	c.LLM.APIKey = os.ExpandEnv(c.LLM.APIKey)

	c.TaskQueue.Driver = strings.ToLower(strings.TrimSpace(c.TaskQueue.Driver))
	c.TaskStore.Driver = strings.ToLower(strings.TrimSpace(c.TaskStore.Driver))
	if c.TaskStore.Driver == "sqlite" && c.TaskStore.DSN == "" {
		c.TaskStore.DSN = "obru.db"
	}

	c.Tools.Manifest = resolvePath(baseDir, c.Tools.Manifest)
	c.Tools.Knowledge = resolvePath(baseDir, c.Tools.Knowledge)
	c.Workflows.ChainFile = resolvePath(baseDir, c.Workflows.ChainFile)
	if c.TaskStore.Driver == "sqlite" && !strings.HasPrefix(c.TaskStore.DSN, "file:") && c.TaskStore.DSN != ":memory:" {
		c.TaskStore.DSN = resolvePath(baseDir, c.TaskStore.DSN)
	}
	if c.Log.AuditPath != "" {
		c.Log.AuditPath = resolvePath(baseDir, c.Log.AuditPath)
	}

	keys := c.Auth.Keys[:0]
	for _, key := range c.Auth.Keys {
		if key = strings.TrimSpace(os.ExpandEnv(key)); key != "" {
			keys = append(keys, key)
		}
	}
	c.Auth.Keys = keys
}

// Validate 检查驱动与提供方是否受支持。
func (c *Config) Validate() error {
	var errs []error
	switch c.LLM.Provider {
	case "openai", "openrouter", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("不支持的 llm.provider %q", c.LLM.Provider))
	}
	switch c.TaskQueue.Driver {
	case "memory":
	case "redis":
		if c.TaskQueue.Redis.Address == "" {
			errs = append(errs, errors.New("task_queue.redis.address 不能为空"))
		}
	case "rabbitmq":
		if c.TaskQueue.RabbitMQ.URL == "" {
			errs = append(errs, errors.New("task_queue.rabbitmq.url 不能为空"))
		}
	default:
		errs = append(errs, fmt.Errorf("不支持的 task_queue.driver %q", c.TaskQueue.Driver))
	}
	switch c.TaskStore.Driver {
	case "memory", "sqlite":
	case "mysql":
		if c.TaskStore.DSN == "" {
			errs = append(errs, errors.New("task_store.dsn 不能为空"))
		}
	default:
		errs = append(errs, fmt.Errorf("不支持的 task_store.driver %q", c.TaskStore.Driver))
	}
	if c.Agent.MaxParallelTools < 0 {
		errs = append(errs, errors.New("agent.max_parallel_tools 不能为负数"))
	}
	return errors.Join(errs...)
}

func resolvePath(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
