// Package config loads the four declarative YAML configuration files
// (application, store, accelerator, instruments). The application,
// store and accelerator loaders check every "must be > 0" / "power of
// ten" / "unique id" invariant at load time, so a bad config aborts
// startup instead of failing deep inside a running component; the
// instruments loader only parses, and its entries are checked when
// loaded into instrument.Registry.
package config

import (
	"fmt"
	"os"

	"github.com/feedmesh/ingestd/internal/apperr"
	"github.com/feedmesh/ingestd/internal/instrument"
	"gopkg.in/yaml.v3"
)

// ScalesConfig mirrors instrument.Scales in YAML-friendly form.
type ScalesConfig struct {
	Price        int64 `yaml:"price"`
	Qty          int64 `yaml:"qty"`
	OpenInterest int64 `yaml:"open_interest"`
	Funding      int64 `yaml:"funding"`
}

func (s ScalesConfig) ToScales() instrument.Scales {
	return instrument.Scales{Price: s.Price, Qty: s.Qty, OpenInterest: s.OpenInterest, Funding: s.Funding}
}

// LimitsConfig bounds how much of the process an exchange can occupy.
type LimitsConfig struct {
	MaxActiveStreams int64 `yaml:"max_active_streams"`
	MaxEventsPerSec  int64 `yaml:"max_events_per_sec"`
}

// RateLimitConfig is one named limiter's rate/burst pair (§4.3).
type RateLimitConfig struct {
	RatePerSec float64 `yaml:"rate_per_sec"`
	Burst      int      `yaml:"burst"`
}

// WsTemplateConfig is the declarative per-exchange push-feed wiring:
// the endpoint to dial, the subscribe/unsubscribe control templates
// (rendered by internal/endpoint), and heartbeat behavior (§4.4).
type WsTemplateConfig struct {
	BaseURL                  string `yaml:"base_url"`
	SubscribeTemplate        any    `yaml:"subscribe_template"`
	UnsubscribeTemplate      any    `yaml:"unsubscribe_template"`
	UseNonce                 bool   `yaml:"use_nonce"`
	ConnectionTimeoutSeconds int64  `yaml:"connection_timeout_seconds"`
	HeartbeatType            string `yaml:"heartbeat_type"`
	HeartbeatTimeoutSeconds  int64  `yaml:"heartbeat_timeout_seconds"`
	HeartbeatFrameText       string `yaml:"heartbeat_frame_text"`
}

// ExchangeConfig is one exchange's toggle, rate limits, and push-feed
// template wiring.
type ExchangeConfig struct {
	Enabled   bool             `yaml:"enabled"`
	Subscribe RateLimitConfig  `yaml:"subscribe"`
	Reconnect RateLimitConfig  `yaml:"reconnect"`
	Ws        WsTemplateConfig `yaml:"ws"`
}

// AppConfig is the application-wide declarative config: identity,
// scales, per-exchange toggles/wiring, and limits.
type AppConfig struct {
	ID            string                    `yaml:"id"`
	Env           string                    `yaml:"env"`
	ConfigVersion int                       `yaml:"config_version"`
	Scales        ScalesConfig              `yaml:"scales"`
	Exchanges     map[string]ExchangeConfig `yaml:"exchanges"`
	Limits        LimitsConfig              `yaml:"limits"`
}

// ExchangeToggle reports, for every configured exchange, whether it
// is enabled — kept for callers that only care about the toggle.
func (c AppConfig) ExchangeToggle() map[string]bool {
	out := make(map[string]bool, len(c.Exchanges))
	for name, e := range c.Exchanges {
		out[name] = e.Enabled
	}
	return out
}

// LoadAppConfig reads and validates path, following the teacher's
// LoadXConfig(path) (*XConfig, error) pattern.
func LoadAppConfig(path string) (*AppConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.New(apperr.KindConfig, "config.LoadAppConfig", err)
	}
	var c AppConfig
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, apperr.New(apperr.KindConfig, "config.LoadAppConfig", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate enforces §3/§6: non-empty id, config_version >= 1, each
// scale a positive power of ten, and both limits > 0.
func (c AppConfig) Validate() error {
	if c.ID == "" {
		return apperr.New(apperr.KindConfig, "AppConfig.Validate", fmt.Errorf("id must not be empty"))
	}
	if c.ConfigVersion < 1 {
		return apperr.New(apperr.KindConfig, "AppConfig.Validate", fmt.Errorf("config_version must be >= 1"))
	}
	if c.Limits.MaxActiveStreams <= 0 {
		return apperr.New(apperr.KindConfig, "AppConfig.Validate", fmt.Errorf("limits.max_active_streams must be > 0"))
	}
	if c.Limits.MaxEventsPerSec <= 0 {
		return apperr.New(apperr.KindConfig, "AppConfig.Validate", fmt.Errorf("limits.max_events_per_sec must be > 0"))
	}
	if err := c.Scales.ToScales().Validate(); err != nil {
		return err
	}
	return nil
}
