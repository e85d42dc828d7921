package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 是 feedagg 单次运行的顶层配置结构。
type Config struct {
	FeedsFile      string        `yaml:"feeds_file"`
	OutputFile     string        `yaml:"output_file"`
	ItemsPerFeed   int           `yaml:"items_per_feed"`
	TotalMaxItems  int           `yaml:"total_max_items"`
	TimeoutSeconds int           `yaml:"timeout_seconds"`
	Workers        int           `yaml:"workers"`
	UserAgent      string        `yaml:"user_agent"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	Summary        SummaryConfig `yaml:"summary"`
	Archive        ArchiveConfig `yaml:"archive"`
	Log            LogConfig     `yaml:"log"`
}

// SummaryConfig 摘要后处理配置，默认保持订阅源原文。
type SummaryConfig struct {
	StripHTML bool `yaml:"strip_html"`
	// MaxRunes 摘要最大字符数，0 表示不截断。
	MaxRunes int `yaml:"max_runes"`
}

// ArchiveConfig 运行历史归档配置。
type ArchiveConfig struct {
	// Path 为 SQLite 数据库路径，为空则不归档。
	Path string `yaml:"path"`
}

// LogConfig 日志配置。
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
}

// Timeout 返回单个订阅源的网络超时。
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Default 返回全部使用默认值的配置。
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

// Load 读取 YAML 配置文件并返回 Config。
// 支持 ${VAR_NAME} 形式的环境变量展开。
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件 %s 失败: %w", path, err)
	}

	expanded := os.Expand(string(data), func(key string) string {
		return os.Getenv(key)
	})

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件 %s 失败: %w", path, err)
	}

	setDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置文件 %s 无效: %w", path, err)
	}
	return cfg, nil
}

// Validate 检查数值参数是否合法。
func (c *Config) Validate() error {
	if c.ItemsPerFeed < 0 {
		return fmt.Errorf("items_per_feed 不能为负数: %d", c.ItemsPerFeed)
	}
	if c.TotalMaxItems < 0 {
		return fmt.Errorf("total_max_items 不能为负数: %d", c.TotalMaxItems)
	}
	if c.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout_seconds 不能为负数: %d", c.TimeoutSeconds)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers 不能为负数: %d", c.Workers)
	}
	if c.Summary.MaxRunes < 0 {
		return fmt.Errorf("summary.max_runes 不能为负数: %d", c.Summary.MaxRunes)
	}
	return nil
}

// setDefaults 为未设置的配置项填充默认值。
func setDefaults(cfg *Config) {
	if cfg.FeedsFile == "" {
		cfg.FeedsFile = "feeds.json"
	}
	if cfg.OutputFile == "" {
		cfg.OutputFile = "news.json"
	}
	if cfg.ItemsPerFeed == 0 {
		cfg.ItemsPerFeed = 5
	}
	if cfg.TotalMaxItems == 0 {
		cfg.TotalMaxItems = 100
	}
	if cfg.TimeoutSeconds == 0 {
		cfg.TimeoutSeconds = 10
	}
	if cfg.Workers == 0 {
		cfg.Workers = 4
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "feedagg/1.0 (+https://github.com/iabetor/feedagg)"
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = 10 << 20
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	// Go 不会自动展开 ~，需要手动替换为用户主目录
	cfg.Archive.Path = expandHome(cfg.Archive.Path)
	cfg.Log.File = expandHome(cfg.Log.File)

	cfg.UserAgent = strings.TrimSpace(cfg.UserAgent)
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, _ := os.UserHomeDir()
	if home == "" {
		return path
	}
	return home + path[1:]
}
