package device

import (
	"net"
	"net/url"
	"strings"

	"git.home.luguber.info/inful/holocommander/internal/config"
	ferrors "git.home.luguber.info/inful/holocommander/internal/foundation/errors"
)

// DesktopPort is the portal port implied for desktop targets.
const DesktopPort = "50443"

// localAddresses are reached over plain http when no scheme is given.
var localAddresses = map[string]struct{}{
	"localhost":       {},
	"127.0.0.1":       {},
	"localhost:10080": {},
	"127.0.0.1:10080": {},
}

// ConnectOptions describes how to reach and authenticate to one device.
// It is copied when a connection attempt starts.
type ConnectOptions struct {
	Address                      string
	IsDesktopTarget              bool
	DeployNameOnConnect          bool
	DesiredName                  string
	NetworkSSID                  string
	NetworkKey                   string
	Username                     string
	Password                     string
	UpdateConnectionOnWifiChange bool
	UseInstalledCertificate      bool
}

// Validate reports a ConnectionError for an empty address.
func (o ConnectOptions) Validate() error {
	if strings.TrimSpace(o.Address) == "" {
		return ferrors.ConnectionError("device address is required").Build()
	}
	if o.DeployNameOnConnect && strings.TrimSpace(o.DesiredName) == "" {
		return ferrors.ValidationError("deploy name on connect requires a desired name").
			WithContext("address", o.Address).
			Build()
	}
	return nil
}

// NormalizeAddress turns a user supplied address into an absolute portal URL.
//
// Addresses without a scheme get https, except the well-known local addresses
// which get http. Desktop targets without an explicit port get DesktopPort.
func NormalizeAddress(address string, desktop bool) (string, error) {
	addr := strings.ToLower(strings.TrimSpace(address))
	if addr == "" {
		return "", ferrors.ErrInvalidAddress.WithContext("address", address)
	}

	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		scheme := "https://"
		if _, ok := localAddresses[addr]; ok {
			scheme = "http://"
		}
		addr = scheme + addr
	}

	u, err := url.Parse(addr)
	if err != nil || u.Host == "" {
		return "", ferrors.WrapError(errOrNil(err), ferrors.CategoryConnection, "invalid device address").
			WithContext("address", address).
			UserAction().
			Build()
	}

	if desktop && u.Port() == "" {
		u.Host = net.JoinHostPort(u.Hostname(), DesktopPort)
		if u.Path == "/" {
			u.Path = ""
		}
		addr = u.String()
	}
	return addr, nil
}

func errOrNil(err error) error {
	if err != nil {
		return err
	}
	return ferrors.ErrInvalidAddress
}

// OptionsFromConfig converts a device entry resolved by config.ResolveDevice.
func OptionsFromConfig(d config.DeviceConfig) ConnectOptions {
	opts := ConnectOptions{
		Address:                      d.Address,
		IsDesktopTarget:              d.Desktop,
		DeployNameOnConnect:          d.DeployName,
		DesiredName:                  d.Name,
		NetworkSSID:                  d.SSID,
		NetworkKey:                   d.NetworkKey,
		Username:                     d.Username,
		Password:                     d.Password,
		UpdateConnectionOnWifiChange: d.UpdateConnection,
	}
	if d.UseInstalledCertificate != nil {
		opts.UseInstalledCertificate = *d.UseInstalledCertificate
	}
	return opts
}
