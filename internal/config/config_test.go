package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("MUCHTODO_HOME", home)
	for _, k := range []string{
		"MUCHTODO_API_BASE_URL", "MUCHTODO_LOG_LEVEL", "MUCHTODO_LOG_FORMAT", "MUCHTODO_LOG_FILE",
		"MUCHTODO_THEME", "MUCHTODO_TIMEOUT", "MUCHTODO_HEALTH_INTERVAL", "MUCHTODO_QUERY_RETRIES",
	} {
		t.Setenv(k, "")
	}
	t.Chdir(t.TempDir())
	return home
}

func load(t *testing.T, args ...string) (*Config, []string) {
	t.Helper()
	cfg, rest, err := Load(flag.NewFlagSet("test", flag.ContinueOnError), args)
	require.NoError(t, err)
	return cfg, rest
}

func TestLoadDefaults(t *testing.T) {
	home := isolate(t)

	cfg, rest := load(t, "ls")

	assert.Equal(t, DefaultAPIBaseURL, cfg.APIBaseURL)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, 30*time.Second, cfg.HealthInterval)
	assert.Equal(t, DefaultQueryRetries, cfg.QueryRetries)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, home, cfg.Home)
	assert.Equal(t, filepath.Join(home, "muchtodo.log"), cfg.LogFile)
	assert.Equal(t, filepath.Join(home, "session.json"), cfg.CookieFile())
	assert.Empty(t, cfg.ConfigFile)
	assert.Equal(t, []string{"ls"}, rest)
}

func TestLoadPriority(t *testing.T) {
	home := isolate(t)
	file := `api_base_url = "http://file.example:9000/"
timeout = "5s"
query_retries = 1
log_level = "info"
`
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.toml"), []byte(file), 0o600))

	cfg, _ := load(t)
	assert.Equal(t, "http://file.example:9000", cfg.APIBaseURL, "trailing slash trimmed")
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, 1, cfg.QueryRetries)
	assert.Equal(t, filepath.Join(home, "config.toml"), cfg.ConfigFile)

	t.Setenv("MUCHTODO_API_BASE_URL", "http://env.example")
	t.Setenv("MUCHTODO_QUERY_RETRIES", "0")
	cfg, _ = load(t)
	assert.Equal(t, "http://env.example", cfg.APIBaseURL)
	assert.Equal(t, 0, cfg.QueryRetries)
	assert.Equal(t, "info", cfg.LogLevel)

	cfg, rest := load(t, "--api", "https://flag.example", "--group", "list")
	assert.Equal(t, "https://flag.example", cfg.APIBaseURL)
	assert.True(t, cfg.Group)
	assert.Equal(t, []string{"list"}, rest)
}

func TestLoadDotEnv(t *testing.T) {
	isolate(t)
	os.Unsetenv("MUCHTODO_HEALTH_INTERVAL")
	require.NoError(t, os.WriteFile(".env", []byte("MUCHTODO_HEALTH_INTERVAL=10s\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("MUCHTODO_HEALTH_INTERVAL") })

	cfg, _ := load(t)
	assert.Equal(t, 10*time.Second, cfg.HealthInterval)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		args []string
	}{
		{name: "bad scheme", args: []string{"--api", "localhost:8080"}},
		{name: "bad duration", env: map[string]string{"MUCHTODO_TIMEOUT": "soon"}},
		{name: "bad retries", env: map[string]string{"MUCHTODO_QUERY_RETRIES": "many"}},
		{name: "missing explicit config", args: []string{"--config", "/nonexistent/config.toml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, _, err := Load(flag.NewFlagSet("test", flag.ContinueOnError), tt.args)
			assert.Error(t, err)
		})
	}
}
