package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, root, content string) string {
	t.Helper()
	path := Path(root)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func noEnv(string) (string, bool) { return "", false }

func TestDefaults(t *testing.T) {
	var cfg Config

	assert.Equal(t, 750*time.Millisecond, cfg.Poll.GetBaseInterval())
	assert.Equal(t, 150*time.Millisecond, cfg.Poll.GetBurstInterval())
	assert.Equal(t, 8*time.Second, cfg.Poll.GetBurstWindow())
	assert.Equal(t, 1200*time.Millisecond, cfg.Poll.GetListTimeout())
	assert.Equal(t, 2500*time.Millisecond, cfg.Poll.GetItemsTimeout())

	assert.Equal(t, 10*time.Second, cfg.Selector.GetSticky())
	assert.Equal(t, 20*time.Second, cfg.Selector.GetIgnore())
	assert.Equal(t, 3, cfg.Selector.GetAbsentTolerance())
	assert.Equal(t, 2, cfg.Selector.GetMaxTracked())

	assert.Equal(t, 2, cfg.Detector.GetDoneConfirm())
	assert.Equal(t, 3, cfg.Detector.GetNoIDStreakMax())
	assert.Equal(t, 5, cfg.Detector.GetErrorTolerance())
	assert.Equal(t, 15*time.Second, cfg.Detector.GetGrace())

	assert.Equal(t, 20.0, cfg.Picqer.GetRatePerSecond())
	assert.Equal(t, 4, cfg.Picqer.GetBurst())
	assert.False(t, cfg.Breaker.Enabled)
	assert.Equal(t, 5, cfg.Breaker.GetFailureThreshold())
	assert.Equal(t, 5*time.Second, cfg.Breaker.GetOpenTimeout())
	assert.Equal(t, 15*time.Minute, cfg.Images.GetCacheTTL())
	assert.Equal(t, ":8080", cfg.Server.GetAddr())
	assert.Equal(t, "info", cfg.Log.GetLevel())
	assert.Equal(t, filepath.Join("/srv", StateDir, "journal.db"), cfg.Journal.GetPath("/srv"))
}

func TestLoad_FileValues(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, `
[picqer]
url = "https://acme.picqer.com/api/v1/"
api_key = "from-file"
open_statuses = ["open"]
rate_per_second = -1

[poll]
base_ms = 1000

[selector]
max_tracked = 1
sticky_ms = 0

[detector]
error_tolerance = 8

[journal]
enabled = true
path = "/var/lib/nextpick/events.db"

[log]
level = "DEBUG"
`)
	t.Setenv(EnvAPIURL, "")
	t.Setenv(EnvAPIKey, "")

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, "https://acme.picqer.com/api/v1", cfg.Picqer.GetURL())
	assert.Equal(t, "from-file", cfg.Picqer.APIKey)
	assert.Equal(t, []string{"open"}, cfg.Picqer.OpenStatuses)
	assert.Equal(t, -1.0, cfg.Picqer.GetRatePerSecond())
	assert.Equal(t, time.Second, cfg.Poll.GetBaseInterval())
	assert.Equal(t, 1, cfg.Selector.GetMaxTracked())
	assert.Equal(t, 10*time.Second, cfg.Selector.GetSticky(), "zero falls back to the default")
	assert.Equal(t, 8, cfg.Detector.GetErrorTolerance())
	assert.True(t, cfg.Journal.Enabled)
	assert.Equal(t, "/var/lib/nextpick/events.db", cfg.Journal.GetPath(root))
	assert.Equal(t, "debug", cfg.Log.GetLevel())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "[picqer]\nurl = \"https://file\"\napi_key = \"file\"\n")
	t.Setenv(EnvAPIURL, "https://env.picqer.com/api/v1//")
	t.Setenv(EnvAPIKey, " env-key ")

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, "https://env.picqer.com/api/v1", cfg.Picqer.GetURL())
	assert.Equal(t, "env-key", cfg.Picqer.APIKey)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv(EnvAPIURL, "https://env")
	t.Setenv(EnvAPIKey, "")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "https://env", cfg.Picqer.GetURL())
	assert.Empty(t, cfg.Picqer.APIKey)
	assert.Equal(t, 750*time.Millisecond, cfg.Poll.GetBaseInterval())
}

func TestLoad_InvalidTOML(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "[poll\nbase_ms = ")

	_, err := Load(root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestApplyEnv_IgnoresBlankValues(t *testing.T) {
	cfg := &Config{Picqer: PicqerConfig{URL: "https://file", APIKey: "file"}}
	cfg.ApplyEnv(func(k string) (string, bool) { return "  ", true })
	assert.Equal(t, "https://file", cfg.Picqer.URL)
	assert.Equal(t, "file", cfg.Picqer.APIKey)

	cfg.ApplyEnv(noEnv)
	assert.Equal(t, "file", cfg.Picqer.APIKey)
}

func TestGeneratedConfigIsValidTOML(t *testing.T) {
	cfg := &Config{
		Picqer: PicqerConfig{URL: "https://acme.picqer.com/api/v1", APIKey: "do-not-write"},
		Images: ImagesConfig{SKUTemplate: `https://cdn/"q"/{sku}.{ext}`},
	}
	content := cfg.GenerateDocumentedConfig()
	assert.NotContains(t, content, "do-not-write")

	var loaded Config
	_, err := toml.Decode(content, &loaded)
	require.NoError(t, err, "generated config is not valid TOML:\n%s", content)
	assert.Equal(t, "https://acme.picqer.com/api/v1", loaded.Picqer.URL)
	assert.Equal(t, `https://cdn/"q"/{sku}.{ext}`, loaded.Images.SKUTemplate)
	assert.False(t, loaded.Breaker.Enabled)
	assert.Nil(t, loaded.Poll.BaseMs, "defaults stay commented out")
}

func TestSaveDocumentedConfig(t *testing.T) {
	root := t.TempDir()
	path := Path(root)
	cfg := &Config{Picqer: PicqerConfig{URL: "https://acme/api/v1"}}

	require.NoError(t, cfg.SaveDocumentedConfig(path))
	t.Setenv(EnvAPIURL, "")
	loaded, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, "https://acme/api/v1", loaded.Picqer.GetURL())
}

func TestTomlString(t *testing.T) {
	assert.Equal(t, `"a\\b\"c\nd"`, tomlString("a\\b\"c\nd"))
}
