// Package config loads the nextpick configuration from .nextpick/config.toml.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed templates/config.tmpl
var configTemplateText string

const (
	// StateDir is the directory holding the config file, logs and journal.
	StateDir = ".nextpick"
	// FileName is the config file name inside StateDir.
	FileName = "config.toml"

	EnvAPIURL = "PICQER_API_URL"
	EnvAPIKey = "PICQER_API_KEY"
)

// Config represents the configuration stored in .nextpick/config.toml.
type Config struct {
	Picqer   PicqerConfig   `toml:"picqer"`
	Poll     PollConfig     `toml:"poll"`
	Selector SelectorConfig `toml:"selector"`
	Detector DetectorConfig `toml:"detector"`
	Breaker  BreakerConfig  `toml:"breaker"`
	Images   ImagesConfig   `toml:"images"`
	Journal  JournalConfig  `toml:"journal"`
	Server   ServerConfig   `toml:"server"`
	Log      LogConfig      `toml:"log"`
}

// PicqerConfig contains the upstream connection settings.
type PicqerConfig struct {
	// URL is the API base, e.g. https://example.picqer.com/api/v1.
	// PICQER_API_URL overrides it.
	URL string `toml:"url"`

	// APIKey is sent as the basic auth user. PICQER_API_KEY overrides it.
	APIKey string `toml:"api_key"`

	// OpenStatuses is the batch status allow-list.
	OpenStatuses []string `toml:"open_statuses"`

	// RatePerSecond limits upstream requests. Defaults to 20; a negative
	// value disables limiting.
	RatePerSecond *float64 `toml:"rate_per_second"`

	// Burst is the number of requests allowed back to back. Defaults to 4.
	Burst *int `toml:"burst"`
}

// GetURL returns the API base without trailing slashes.
func (p *PicqerConfig) GetURL() string {
	return strings.TrimRight(strings.TrimSpace(p.URL), "/")
}

// GetRatePerSecond returns the upstream request rate.
func (p *PicqerConfig) GetRatePerSecond() float64 {
	if p.RatePerSecond == nil || *p.RatePerSecond == 0 {
		return 20
	}
	return *p.RatePerSecond
}

// GetBurst returns the rate limiter burst.
func (p *PicqerConfig) GetBurst() int {
	if p.Burst == nil || *p.Burst <= 0 {
		return 4
	}
	return *p.Burst
}

// PollConfig contains poll loop timing.
type PollConfig struct {
	// BaseMs is the steady-state interval between ticks. Defaults to 750.
	BaseMs *int `toml:"base_ms"`

	// BurstMs is the interval used right after a change. Defaults to 150.
	BurstMs *int `toml:"burst_ms"`

	// BurstWindowMs is how long burst mode lasts. Defaults to 8000.
	BurstWindowMs *int `toml:"burst_window_ms"`

	// ListTimeoutMs bounds the batch list call. Defaults to 1200.
	ListTimeoutMs *int `toml:"list_timeout_ms"`

	// ItemsTimeoutMs bounds each item call. Defaults to 2500.
	ItemsTimeoutMs *int `toml:"items_timeout_ms"`
}

// GetBaseInterval returns the steady-state poll interval.
func (p *PollConfig) GetBaseInterval() time.Duration {
	return millis(p.BaseMs, 750)
}

// GetBurstInterval returns the burst poll interval.
func (p *PollConfig) GetBurstInterval() time.Duration {
	return millis(p.BurstMs, 150)
}

// GetBurstWindow returns how long burst mode lasts.
func (p *PollConfig) GetBurstWindow() time.Duration {
	return millis(p.BurstWindowMs, 8000)
}

// GetListTimeout returns the batch list timeout.
func (p *PollConfig) GetListTimeout() time.Duration {
	return millis(p.ListTimeoutMs, 1200)
}

// GetItemsTimeout returns the per-call item timeout.
func (p *PollConfig) GetItemsTimeout() time.Duration {
	return millis(p.ItemsTimeoutMs, 2500)
}

// SelectorConfig contains batch selection tuning.
type SelectorConfig struct {
	// StickyMs is how long a selected batch is kept regardless of upstream
	// ordering. Defaults to 10000.
	StickyMs *int `toml:"sticky_ms"`

	// IgnoreMs is how long a completed batch stays excluded. Defaults to 20000.
	IgnoreMs *int `toml:"ignore_ms"`

	// AbsentTolerance is the number of list results a held batch may be
	// missing from before it is abandoned. Defaults to 3.
	AbsentTolerance *int `toml:"absent_tolerance"`

	// MaxTracked is the number of batches shown at once. Defaults to 2.
	MaxTracked *int `toml:"max_tracked"`
}

// GetSticky returns the sticky window.
func (s *SelectorConfig) GetSticky() time.Duration {
	return millis(s.StickyMs, 10000)
}

// GetIgnore returns the ignore window for completed batches.
func (s *SelectorConfig) GetIgnore() time.Duration {
	return millis(s.IgnoreMs, 20000)
}

// GetAbsentTolerance returns the absent tolerance.
func (s *SelectorConfig) GetAbsentTolerance() int {
	return positive(s.AbsentTolerance, 3)
}

// GetMaxTracked returns the number of batches tracked at once.
func (s *SelectorConfig) GetMaxTracked() int {
	return positive(s.MaxTracked, 2)
}

// DetectorConfig contains completion detection tuning.
type DetectorConfig struct {
	// DoneConfirm is the number of consecutive empty observations that
	// confirm a batch as done. Defaults to 2.
	DoneConfirm *int `toml:"done_confirm"`

	// NoIDStreakMax is the number of consecutive empty batch lists after
	// which all tracked batches are cleared. Defaults to 3.
	NoIDStreakMax *int `toml:"no_id_streak_max"`

	// ErrorTolerance is the number of consecutive failures after which a
	// batch is released for reselection. Defaults to 5.
	ErrorTolerance *int `toml:"error_tolerance"`

	// GraceMs is how long a last-known-good model is shown. Defaults to 15000.
	GraceMs *int `toml:"grace_ms"`
}

// GetDoneConfirm returns the done confirmation count.
func (d *DetectorConfig) GetDoneConfirm() int {
	return positive(d.DoneConfirm, 2)
}

// GetNoIDStreakMax returns the empty list streak limit.
func (d *DetectorConfig) GetNoIDStreakMax() int {
	return positive(d.NoIDStreakMax, 3)
}

// GetErrorTolerance returns the per-batch error tolerance.
func (d *DetectorConfig) GetErrorTolerance() int {
	return positive(d.ErrorTolerance, 5)
}

// GetGrace returns the last-known-good grace period.
func (d *DetectorConfig) GetGrace() time.Duration {
	return millis(d.GraceMs, 15000)
}

// BreakerConfig contains circuit breaker settings.
type BreakerConfig struct {
	Enabled bool `toml:"enabled"`

	// FailureThreshold is the number of consecutive upstream faults that
	// open the breaker. Defaults to 5.
	FailureThreshold *int `toml:"failure_threshold"`

	// OpenTimeoutMs is how long the breaker stays open. Defaults to 5000.
	OpenTimeoutMs *int `toml:"open_timeout_ms"`
}

// GetFailureThreshold returns the breaker failure threshold.
func (b *BreakerConfig) GetFailureThreshold() int {
	return positive(b.FailureThreshold, 5)
}

// GetOpenTimeout returns how long the breaker stays open.
func (b *BreakerConfig) GetOpenTimeout() time.Duration {
	return millis(b.OpenTimeoutMs, 5000)
}

// ImagesConfig contains product image settings.
type ImagesConfig struct {
	// SKUTemplate builds fallback image URLs, e.g.
	// "https://cdn.example.com/img/{sku}.{ext}".
	SKUTemplate string `toml:"sku_template"`

	// CacheTTLMinutes is how long image lookups are cached. Defaults to 15.
	CacheTTLMinutes *int `toml:"cache_ttl_minutes"`
}

// GetCacheTTL returns the image cache TTL.
func (i *ImagesConfig) GetCacheTTL() time.Duration {
	return time.Duration(positive(i.CacheTTLMinutes, 15)) * time.Minute
}

// JournalConfig contains event journal settings.
type JournalConfig struct {
	Enabled bool `toml:"enabled"`

	// Path is the sqlite file, relative to the state directory.
	// Defaults to "journal.db".
	Path string `toml:"path"`
}

// GetPath returns the journal path resolved against root.
func (j *JournalConfig) GetPath(root string) string {
	p := j.Path
	if p == "" {
		p = "journal.db"
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, StateDir, p)
}

// ServerConfig contains kiosk server settings.
type ServerConfig struct {
	// Addr is the listen address. Defaults to ":8080".
	Addr string `toml:"addr"`
}

// GetAddr returns the listen address.
func (s *ServerConfig) GetAddr() string {
	if s.Addr == "" {
		return ":8080"
	}
	return s.Addr
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Defaults to "info".
	Level string `toml:"level"`
}

// GetLevel returns the configured log level.
func (l *LogConfig) GetLevel() string {
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "error":
		return strings.ToLower(l.Level)
	default:
		return "info"
	}
}

var lookupEnv = os.LookupEnv

func millis(v *int, def int) time.Duration {
	return time.Duration(positive(v, def)) * time.Millisecond
}

func positive(v *int, def int) int {
	if v == nil || *v <= 0 {
		return def
	}
	return *v
}

// Path returns the config file path under root.
func Path(root string) string {
	return filepath.Join(root, StateDir, FileName)
}

// LoadConfig reads and parses a config.toml file.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Load reads the config under root and applies environment overrides.
// A missing file is not an error; the defaults and environment are used.
func Load(root string) (*Config, error) {
	cfg, err := LoadConfig(Path(root))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		cfg = &Config{}
	}
	cfg.ApplyEnv(lookupEnv)
	return cfg, nil
}

// ApplyEnv overrides the connection settings from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvAPIURL); ok && strings.TrimSpace(v) != "" {
		c.Picqer.URL = v
	}
	if v, ok := lookup(EnvAPIKey); ok && strings.TrimSpace(v) != "" {
		c.Picqer.APIKey = strings.TrimSpace(v)
	}
}

// configTemplateData holds the data used to render the config template.
type configTemplateData struct {
	URL         string
	SKUTemplate string
}

// tomlString formats a string for TOML output with proper escaping.
func tomlString(s string) string {
	escaped := strings.ReplaceAll(s, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	escaped = strings.ReplaceAll(escaped, "\n", `\n`)
	escaped = strings.ReplaceAll(escaped, "\r", `\r`)
	escaped = strings.ReplaceAll(escaped, "\t", `\t`)
	return `"` + escaped + `"`
}

var configTemplate = template.Must(template.New("config").Funcs(template.FuncMap{
	"tomlString": tomlString,
}).Parse(configTemplateText))

// GenerateDocumentedConfig renders a config.toml with every option
// documented. The API key is never written; it belongs in PICQER_API_KEY.
func (c *Config) GenerateDocumentedConfig() string {
	data := configTemplateData{
		URL:         c.Picqer.GetURL(),
		SKUTemplate: c.Images.SKUTemplate,
	}
	var buf bytes.Buffer
	if err := configTemplate.Execute(&buf, data); err != nil {
		return fmt.Sprintf("[picqer]\nurl = %s\n", tomlString(data.URL))
	}
	return buf.String()
}

// SaveDocumentedConfig writes a fully documented config to path, creating
// the parent directory.
func (c *Config) SaveDocumentedConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, []byte(c.GenerateDocumentedConfig()), 0o600)
}
