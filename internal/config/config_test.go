package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/holocommander/internal/foundation/errors"
)

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
devices:
  - name: lab-01
    address: 192.168.1.10
`))
	require.NoError(t, err)

	assert.Equal(t, DefaultHeartbeatInterval, cfg.Settings.HeartbeatInterval)
	assert.Equal(t, DefaultRequestTimeout, cfg.Settings.RequestTimeout)
	assert.Equal(t, DefaultBroadcastConcurrency, cfg.Settings.BroadcastConcurrency)
	assert.Equal(t, LogLevelInfo, cfg.Logging.Level)
	assert.Equal(t, LogFormatText, cfg.Logging.Format)
	assert.Equal(t, RetryBackoffExponential, cfg.Retry.Mode)
	assert.Equal(t, DefaultNATSSubject, cfg.NATS.Subject)
	assert.True(t, cfg.Settings.ShouldAutoReconnect())
}

func TestParse_DurationsAndEnvExpansion(t *testing.T) {
	t.Setenv("HOLO_TEST_PASSWORD", "s3cret")

	cfg, err := Parse([]byte(`
settings:
  heartbeat_interval: 45s
  default_username: admin
  default_password: ${HOLO_TEST_PASSWORD}
devices:
  - address: 10.0.0.7
`))
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.Settings.HeartbeatInterval)

	d, ok := cfg.Device("10.0.0.7")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.7", d.Name)
	assert.Equal(t, "admin", d.Username)
	assert.Equal(t, "s3cret", d.Password)
	require.NotNil(t, d.UseInstalledCertificate)
	assert.False(t, *d.UseInstalledCertificate)
}

func TestResolveDevice_KeepsExplicitValues(t *testing.T) {
	cfg := Default()
	cfg.Settings.DefaultSSID = "lab-wifi"
	cfg.Settings.DefaultNetworkKey = "lab-key"
	installed := true

	d := cfg.ResolveDevice(DeviceConfig{
		Name:                    "lab-02",
		Address:                 "10.0.0.8",
		SSID:                    "other",
		UseInstalledCertificate: &installed,
	})

	assert.Equal(t, "other", d.SSID)
	assert.Empty(t, d.NetworkKey, "default key belongs to the default ssid only")
	assert.True(t, *d.UseInstalledCertificate)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing address", "devices:\n  - name: a\n"},
		{"duplicate name", "devices:\n  - {name: a, address: 1.1.1.1}\n  - {name: a, address: 2.2.2.2}\n"},
		{"deploy without name", "devices:\n  - {address: 1.1.1.1, deploy_name: true}\n"},
		{"nats without url", "nats:\n  enabled: true\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
}

func TestInit_WritesLoadableExample(t *testing.T) {
	t.Setenv("HOLO_USERNAME", "admin")
	t.Setenv("HOLO_PASSWORD", "pw")
	path := filepath.Join(t.TempDir(), "holocommander.yaml")

	require.NoError(t, Init(path, false))
	require.Error(t, Init(path, false), "existing file without force")
	require.NoError(t, Init(path, true))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Devices, 2)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestNormalizers(t *testing.T) {
	assert.Equal(t, LogLevelWarn, NormalizeLogLevel(" WARNING "))
	assert.Equal(t, LogLevelInfo, NormalizeLogLevel("verbose"))
	assert.Equal(t, LogFormatJSON, NormalizeLogFormat("JSON"))
	assert.Equal(t, RetryBackoffLinear, NormalizeRetryBackoff("Linear"))
	assert.Equal(t, RetryBackoffMode(""), NormalizeRetryBackoff("random"))
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "holocommander.yaml")
	require.NoError(t, os.WriteFile(path, []byte("devices:\n  - {name: a, address: 1.1.1.1}\n"), 0o600))

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(_ context.Context, cfg *Config) error {
		select {
		case reloaded <- cfg:
		default:
		}
		return nil
	})
	require.NoError(t, err)
	w.SetDebounce(20 * time.Millisecond)
	require.NoError(t, w.Start(t.Context()))
	t.Cleanup(func() { _ = w.Stop() })

	require.NoError(t, os.WriteFile(path, []byte("devices:\n  - {name: a, address: 1.1.1.1}\n  - {name: b, address: 2.2.2.2}\n"), 0o600))

	select {
	case cfg := <-reloaded:
		assert.Len(t, cfg.Devices, 2)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}
