package config

import (
	"strings"

	ferrors "git.home.luguber.info/inful/holocommander/internal/foundation/errors"
)

// Validate checks cross-field invariants after defaults have been applied.
func (c *Config) Validate() error {
	seen := make(map[string]int, len(c.Devices))
	for i, d := range c.Devices {
		if strings.TrimSpace(d.Address) == "" {
			return ferrors.ValidationError("device address is required").
				WithContext("index", i).
				WithContext("name", d.Name).Build()
		}
		name := d.Name
		if name == "" {
			name = d.Address
		}
		if prev, dup := seen[name]; dup {
			return ferrors.ValidationError("duplicate device name").
				WithContext("name", name).
				WithContext("first_index", prev).
				WithContext("index", i).Build()
		}
		seen[name] = i
		if d.DeployName && d.Name == "" {
			return ferrors.ValidationError("deploy_name requires an explicit device name").
				WithContext("address", d.Address).Build()
		}
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return ferrors.ValidationError("nats.url is required when nats is enabled").Build()
	}
	if c.Retry.Initial > c.Retry.Max {
		return ferrors.ValidationError("retry.initial must not exceed retry.max").Build()
	}
	return nil
}
