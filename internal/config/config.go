// Package config 统一配置管理
//
// 配置加载策略：
//  1. 从 .env 加载敏感信息（API 密钥）和 APP_ENV
//  2. 根据 APP_ENV 加载对应的 configs/{env}.yaml 配置文件
//  3. 环境变量可覆盖 YAML 配置
//
// 使用方式：
//   - 开发环境: APP_ENV=dev (默认)
//   - 测试环境: APP_ENV=test
//   - 生产环境: APP_ENV=prod
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"ctf-forge/internal/sandbox"
)

// Duration time.Duration 的 YAML 包装，接受 "24h"、"5m" 这类写法
type Duration time.Duration

// UnmarshalYAML 实现 yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"24h\": %v", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %v", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std 转回标准库类型
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Environment 环境类型
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test"
	EnvDevelopment Environment = "dev"
)

// YAMLConfig YAML 配置文件结构
type YAMLConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Storage   StorageConfig   `yaml:"storage"`
	Generator GeneratorConfig `yaml:"generator"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	DB   int    `yaml:"db"`
}

// StorageConfig 结果库配置
type StorageConfig struct {
	// ResultsDSN SQLite DSN（如 file:data/results.db?cache=shared&mode=rwc）
	ResultsDSN string `yaml:"results_dsn"`
}

// GeneratorConfig 生成循环配置
type GeneratorConfig struct {
	Model            string        `yaml:"model"`
	SystemPrompt     string        `yaml:"system_prompt"`
	WorkspaceBase    string        `yaml:"workspace_base"`
	MaxIterations    int      `yaml:"max_iterations"`
	MaxIterationsCap int      `yaml:"max_iterations_cap"`
	JobTimeout       Duration `yaml:"job_timeout"`
	RetentionMaxAge  Duration `yaml:"retention_max_age"`
	CleanupInterval  Duration `yaml:"cleanup_interval"`
}

// SandboxConfig 沙箱安全策略配置
type SandboxConfig struct {
	ForbiddenPatterns     []string      `yaml:"forbidden_patterns"`
	AllowedCommands       []string      `yaml:"allowed_commands"`
	AllowSystemInstall    bool          `yaml:"allow_system_install"`
	AllowPipInstall       bool          `yaml:"allow_pip_install"`
	AllowedSystemPackages []string `yaml:"allowed_system_packages"`
	AllowedPipPackages    []string `yaml:"allowed_pip_packages"`
	DefaultManager        string   `yaml:"default_manager"`
	DryRun                bool     `yaml:"dry_run"`
	CreateVenv            bool     `yaml:"create_venv"`
	PipTimeout            Duration `yaml:"pip_timeout"`
	InputWait             Duration `yaml:"input_wait"`
}

// Config 应用配置（最终使用的配置）
type Config struct {
	Env          Environment
	APIPort      string
	RedisURL     string
	ResultsDSN   string
	GeminiAPIKey string
	Generator    GeneratorConfig
	Sandbox      SandboxConfig
}

var configPaths = []string{
	"configs",
	"../configs",
	"../../configs",
	"../../../configs",
}

var envPaths = []string{
	".env",
	"../.env",
	"../../.env",
	"../../../.env",
}

// Load 加载配置
// 1. 加载 .env（敏感信息 + APP_ENV）
// 2. 根据 APP_ENV 加载 configs/{env}.yaml
// 3. 环境变量覆盖
func Load() *Config {
	for _, p := range envPaths {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}

	env := parseEnv(getEnv("APP_ENV", "dev"))
	yamlCfg := loadYAMLConfig(env)

	cfg := &Config{
		Env:          env,
		APIPort:      getEnv("PORT", yamlCfg.Server.Port),
		RedisURL:     getEnv("REDIS_URL", buildRedisURL(yamlCfg.Redis)),
		ResultsDSN:   getEnv("RESULTS_DSN", yamlCfg.Storage.ResultsDSN),
		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		Generator:    yamlCfg.Generator,
		Sandbox:      yamlCfg.Sandbox,
	}

	if v := getEnv("WORKSPACE_BASE", ""); v != "" {
		cfg.Generator.WorkspaceBase = v
	}
	if v := getEnv("GENERATOR_MODEL", ""); v != "" {
		cfg.Generator.Model = v
	}

	return cfg
}

// loadYAMLConfig 加载 YAML 配置文件
// 加载顺序：默认值 → common.yaml → {env}.yaml
func loadYAMLConfig(env Environment) *YAMLConfig {
	cfg := &YAMLConfig{
		Server:  ServerConfig{Port: "8080"},
		Redis:   RedisConfig{Host: "localhost", Port: 6379, DB: 0},
		Storage: StorageConfig{ResultsDSN: "file:data/results.db?cache=shared&mode=rwc"},
		Generator: GeneratorConfig{
			Model:            "gemini-2.0-flash",
			WorkspaceBase:    "data/workspaces",
			MaxIterations:    30,
			MaxIterationsCap: 100,
			RetentionMaxAge:  Duration(24 * time.Hour),
			CleanupInterval:  Duration(time.Hour),
		},
		Sandbox: defaultSandboxConfig(),
	}

	for _, base := range configPaths {
		path := filepath.Join(base, "common.yaml")
		if data, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				log.Printf("[Config] Failed to parse %s: %v", path, err)
			}
			break
		}
	}

	filename := fmt.Sprintf("%s.yaml", env)
	for _, base := range configPaths {
		path := filepath.Join(base, filename)
		if data, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				log.Printf("[Config] Failed to parse %s: %v", path, err)
			}
			break
		}
	}

	return cfg
}

// defaultSandboxConfig 默认沙箱策略（与 sandbox.DefaultPolicy 对齐）
func defaultSandboxConfig() SandboxConfig {
	policy := sandbox.DefaultPolicy()
	return SandboxConfig{
		ForbiddenPatterns: policy.ForbiddenPatterns,
		CreateVenv:        true,
		PipTimeout:        Duration(policy.PipTimeout),
		InputWait:         Duration(policy.InputWait),
	}
}

// Policy 把沙箱配置物化为不可变策略值
func (c *Config) Policy() sandbox.Policy {
	policy := sandbox.Policy{
		ForbiddenPatterns:     c.Sandbox.ForbiddenPatterns,
		AllowedCommands:       c.Sandbox.AllowedCommands,
		AllowSystemInstall:    c.Sandbox.AllowSystemInstall,
		AllowPipInstall:       c.Sandbox.AllowPipInstall,
		AllowedSystemPackages: c.Sandbox.AllowedSystemPackages,
		AllowedPipPackages:    c.Sandbox.AllowedPipPackages,
		DefaultManager:        c.Sandbox.DefaultManager,
		DryRun:                c.Sandbox.DryRun,
		CreateVenv:            c.Sandbox.CreateVenv,
		PipTimeout:            c.Sandbox.PipTimeout.Std(),
		InputWait:             c.Sandbox.InputWait.Std(),
	}
	if len(policy.ForbiddenPatterns) == 0 {
		policy.ForbiddenPatterns = sandbox.DefaultPolicy().ForbiddenPatterns
	}
	return policy
}

// buildRedisURL 构建 Redis 连接字符串
func buildRedisURL(redis RedisConfig) string {
	if redis.Host == "" {
		return ""
	}
	return fmt.Sprintf("redis://%s:%d/%d", redis.Host, redis.Port, redis.DB)
}

func parseEnv(env string) Environment {
	switch strings.ToLower(env) {
	case "test":
		return EnvTest
	case "prod", "production":
		return EnvProduction
	default:
		return EnvDevelopment
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// IsTest 是否为测试环境
func (c *Config) IsTest() bool {
	return c.Env == EnvTest
}

// String 返回配置摘要（隐藏密钥）
func (c *Config) String() string {
	key := "unset"
	if c.GeminiAPIKey != "" {
		key = "***"
	}
	return fmt.Sprintf("Config{Env: %s, Port: %s, Redis: %s, Model: %s, APIKey: %s}",
		c.Env, c.APIPort, c.RedisURL, c.Generator.Model, key)
}
