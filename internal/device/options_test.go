package device

import (
	"testing"

	"git.home.luguber.info/inful/holocommander/internal/config"
	ferrors "git.home.luguber.info/inful/holocommander/internal/foundation/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		desktop bool
		want    string
	}{
		{"lan ip gets https", "192.168.1.10", false, "https://192.168.1.10"},
		{"hostname gets https", "hololens-lab", false, "https://hololens-lab"},
		{"loopback ip gets http", "127.0.0.1", false, "http://127.0.0.1"},
		{"localhost gets http", "localhost", false, "http://localhost"},
		{"emulator ip gets http", "127.0.0.1:10080", false, "http://127.0.0.1:10080"},
		{"emulator host gets http", "LocalHost:10080", false, "http://localhost:10080"},
		{"loopback desktop gets port", "127.0.0.1", true, "http://127.0.0.1:50443"},
		{"lan desktop gets port", "192.168.1.20", true, "https://192.168.1.20:50443"},
		{"desktop keeps explicit port", "192.168.1.20:8443", true, "https://192.168.1.20:8443"},
		{"explicit scheme kept", "HTTP://10.0.0.2", false, "http://10.0.0.2"},
		{"explicit scheme desktop", "https://pc.local", true, "https://pc.local:50443"},
		{"whitespace trimmed", "  192.168.1.10 ", false, "https://192.168.1.10"},
		{"non-desktop keeps no port", "10.1.1.1", false, "https://10.1.1.1"},
		{"desktop port goes on the host", "https://pc.local/portal", true, "https://pc.local:50443/portal"},
		{"desktop trailing slash dropped", "pc.local/", true, "https://pc.local:50443"},
		{"desktop ipv6 host", "[fe80::1]", true, "https://[fe80::1]:50443"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeAddress(tt.address, tt.desktop)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeAddress_Invalid(t *testing.T) {
	for _, address := range []string{"", "   ", "http://", "https://bad host"} {
		_, err := NormalizeAddress(address, false)
		require.Error(t, err, address)
		assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConnection), address)
	}
}

func TestConnectOptions_Validate(t *testing.T) {
	require.NoError(t, ConnectOptions{Address: "10.0.0.1"}.Validate())

	err := ConnectOptions{}.Validate()
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConnection))

	err = ConnectOptions{Address: "10.0.0.1", DeployNameOnConnect: true}.Validate()
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Settings.DefaultUsername = "admin"
	cfg.Settings.DefaultPassword = "secret"
	cfg.Settings.DefaultSSID = "lab-wifi"
	cfg.Settings.DefaultNetworkKey = "key"
	cfg.Settings.UseInstalledCertificate = true

	d := cfg.ResolveDevice(config.DeviceConfig{Name: "lab-01", Address: "192.168.1.10", DeployName: true, Desktop: true})
	opts := OptionsFromConfig(d)

	assert.Equal(t, ConnectOptions{
		Address:                 "192.168.1.10",
		IsDesktopTarget:         true,
		DeployNameOnConnect:     true,
		DesiredName:             "lab-01",
		NetworkSSID:             "lab-wifi",
		NetworkKey:              "key",
		Username:                "admin",
		Password:                "secret",
		UseInstalledCertificate: true,
	}, opts)
}
