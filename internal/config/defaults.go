package config

import "time"

const (
	DefaultHeartbeatInterval    = 15 * time.Second
	DefaultRequestTimeout       = 30 * time.Second
	DefaultBroadcastConcurrency = 4
	DefaultMetricsAddress       = ":9464"
	DefaultJournalPath          = "holocommander.db"
	DefaultNATSSubject          = "holocommander.devices"
	DefaultNATSKVBucket         = "holocommander-status"
)

// DefaultApplier applies defaults for a specific configuration domain.
type DefaultApplier interface {
	ApplyDefaults(cfg *Config) error
	Domain() string
}

type settingsDefaults struct{}

func (settingsDefaults) Domain() string { return "settings" }

func (settingsDefaults) ApplyDefaults(cfg *Config) error {
	if cfg.Settings.HeartbeatInterval <= 0 {
		cfg.Settings.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.Settings.RequestTimeout <= 0 {
		cfg.Settings.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Settings.BroadcastConcurrency <= 0 {
		cfg.Settings.BroadcastConcurrency = DefaultBroadcastConcurrency
	}
	return nil
}

type outputDefaults struct{}

func (outputDefaults) Domain() string { return "output" }

func (outputDefaults) ApplyDefaults(cfg *Config) error {
	cfg.Logging.Level = NormalizeLogLevel(string(cfg.Logging.Level))
	cfg.Logging.Format = NormalizeLogFormat(string(cfg.Logging.Format))
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = DefaultMetricsAddress
	}
	if cfg.Journal.Path == "" {
		cfg.Journal.Path = DefaultJournalPath
	}
	if cfg.NATS.Subject == "" {
		cfg.NATS.Subject = DefaultNATSSubject
	}
	if cfg.NATS.KVBucket == "" {
		cfg.NATS.KVBucket = DefaultNATSKVBucket
	}
	return nil
}

type retryDefaults struct{}

func (retryDefaults) Domain() string { return "retry" }

func (retryDefaults) ApplyDefaults(cfg *Config) error {
	if mode := NormalizeRetryBackoff(string(cfg.Retry.Mode)); mode != "" {
		cfg.Retry.Mode = mode
	} else {
		cfg.Retry.Mode = RetryBackoffExponential
	}
	if cfg.Retry.Initial <= 0 {
		cfg.Retry.Initial = time.Second
	}
	if cfg.Retry.Max <= 0 {
		cfg.Retry.Max = 30 * time.Second
	}
	if cfg.Retry.MaxRetries <= 0 {
		cfg.Retry.MaxRetries = 5
	}
	return nil
}

var defaultAppliers = []DefaultApplier{settingsDefaults{}, outputDefaults{}, retryDefaults{}}

func applyDefaults(cfg *Config) error {
	for _, applier := range defaultAppliers {
		if err := applier.ApplyDefaults(cfg); err != nil {
			return err
		}
	}
	return nil
}
