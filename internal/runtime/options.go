package runtime

import (
	"fmt"
	"log/slog"

	"github.com/tjfontaine/callbridge/internal/config"
	"github.com/tjfontaine/callbridge/internal/core/ports"
)

// Option is a functional option for configuring a Bridge.
type Option func(*Bridge) error

// WithConfigFile loads configuration from path and watches it for log level
// changes once the bridge starts.
func WithConfigFile(path string) Option {
	return func(b *Bridge) error {
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		b.cfg = cfg
		b.configPath = path
		return nil
	}
}

// WithConfig uses an already loaded configuration.
func WithConfig(cfg *config.Config) Option {
	return func(b *Bridge) error {
		if cfg == nil {
			return fmt.Errorf("config cannot be nil")
		}
		b.cfg = cfg
		return nil
	}
}

// WithLogger sets the logger. lv, when non-nil, is adjusted on config reloads.
func WithLogger(logger *slog.Logger, lv *slog.LevelVar) Option {
	return func(b *Bridge) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		b.logger = logger
		b.level = lv
		return nil
	}
}

// WithSessionStore replaces the store selected by storage.type.
func WithSessionStore(store ports.SessionStore) Option {
	return func(b *Bridge) error {
		b.store = store
		return nil
	}
}

// WithCallControl replaces the telephony client.
func WithCallControl(calls ports.CallControl) Option {
	return func(b *Bridge) error {
		b.calls = calls
		return nil
	}
}

// WithAnalyticsDialer replaces the analytics dialer.
func WithAnalyticsDialer(d ports.AnalyticsDialer) Option {
	return func(b *Bridge) error {
		b.analytics = d
		return nil
	}
}

// WithAudioRelay replaces the monitor stream relay.
func WithAudioRelay(r ports.AudioRelay) Option {
	return func(b *Bridge) error {
		b.relay = r
		return nil
	}
}
