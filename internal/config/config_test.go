package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"ctf-forge/internal/sandbox"
)

func TestParseEnv(t *testing.T) {
	assert.Equal(t, EnvTest, parseEnv("test"))
	assert.Equal(t, EnvProduction, parseEnv("prod"))
	assert.Equal(t, EnvProduction, parseEnv("PRODUCTION"))
	assert.Equal(t, EnvDevelopment, parseEnv("dev"))
	assert.Equal(t, EnvDevelopment, parseEnv(""))
	assert.Equal(t, EnvDevelopment, parseEnv("garbage"))
}

func TestBuildRedisURL(t *testing.T) {
	assert.Equal(t, "redis://localhost:6379/0", buildRedisURL(RedisConfig{Host: "localhost", Port: 6379}))
	assert.Equal(t, "redis://cache:6380/2", buildRedisURL(RedisConfig{Host: "cache", Port: 6380, DB: 2}))
	assert.Equal(t, "", buildRedisURL(RedisConfig{}))
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	t.Setenv("PORT", "9999")
	t.Setenv("REDIS_URL", "redis://override:6379/1")
	t.Setenv("GEMINI_API_KEY", "sk-test")
	t.Setenv("GENERATOR_MODEL", "gemini-override")

	cfg := Load()

	assert.Equal(t, EnvTest, cfg.Env)
	assert.True(t, cfg.IsTest())
	assert.Equal(t, "9999", cfg.APIPort)
	assert.Equal(t, "redis://override:6379/1", cfg.RedisURL)
	assert.Equal(t, "sk-test", cfg.GeminiAPIKey)
	assert.Equal(t, "gemini-override", cfg.Generator.Model)
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "dev")

	cfg := Load()

	assert.NotEmpty(t, cfg.APIPort)
	assert.Greater(t, cfg.Generator.MaxIterations, 0)
	assert.Greater(t, cfg.Generator.MaxIterationsCap, 0)
	assert.Equal(t, 24*time.Hour, cfg.Generator.RetentionMaxAge.Std())
}

func TestYAMLDurations(t *testing.T) {
	var cfg YAMLConfig
	data := []byte("generator:\n  job_timeout: 90m\n  retention_max_age: 24h\nsandbox:\n  pip_timeout: 10m\n")
	require.NoError(t, yaml.Unmarshal(data, &cfg))
	assert.Equal(t, 90*time.Minute, cfg.Generator.JobTimeout.Std())
	assert.Equal(t, 24*time.Hour, cfg.Generator.RetentionMaxAge.Std())
	assert.Equal(t, 10*time.Minute, cfg.Sandbox.PipTimeout.Std())

	// 非法写法必须报错而不是静默归零
	err := yaml.Unmarshal([]byte("generator:\n  job_timeout: not-a-duration\n"), &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestPolicy_Materialization(t *testing.T) {
	cfg := &Config{
		Sandbox: SandboxConfig{
			ForbiddenPatterns:  []string{"sudo"},
			AllowedCommands:    []string{"python", "echo"},
			AllowPipInstall:    true,
			AllowedPipPackages: []string{"flask"},
			PipTimeout:         Duration(time.Minute),
			InputWait:          Duration(30 * time.Second),
		},
	}

	policy := cfg.Policy()
	assert.Equal(t, []string{"sudo"}, policy.ForbiddenPatterns)
	assert.Equal(t, []string{"python", "echo"}, policy.AllowedCommands)
	assert.True(t, policy.AllowPipInstall)
	assert.False(t, policy.AllowSystemInstall)
	assert.Equal(t, time.Minute, policy.PipTimeout)
}

func TestPolicy_EmptyForbiddenFallsBackToDefaults(t *testing.T) {
	cfg := &Config{}

	policy := cfg.Policy()
	require.NotEmpty(t, policy.ForbiddenPatterns)
	assert.Equal(t, sandbox.DefaultPolicy().ForbiddenPatterns, policy.ForbiddenPatterns)
}

func TestString_MasksAPIKey(t *testing.T) {
	cfg := &Config{GeminiAPIKey: "sk-secret", APIPort: "8080"}
	s := cfg.String()
	assert.NotContains(t, s, "sk-secret")
	assert.Contains(t, s, "***")
}
