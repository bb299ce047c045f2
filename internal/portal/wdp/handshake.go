package wdp

import (
	"context"
	"crypto/x509"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	ferrors "git.home.luguber.info/inful/holocommander/internal/foundation/errors"
	"git.home.luguber.info/inful/holocommander/internal/logfields"
	"git.home.luguber.info/inful/holocommander/internal/portal"
)

// Handshake phases reported with Connecting and Failed statuses.
const (
	PhasePinning      = "pinning_certificate"
	PhaseOSInfo       = "requesting_os_information"
	PhaseWifi         = "connecting_to_target_network"
	PhaseUpdateTarget = "updating_device_address"
	PhaseIdle         = "idle"
)

const maxCertificateSize = 64 << 10

type deviceFamily struct {
	DeviceType string `json:"DeviceType"`
}

type osInfo struct {
	ComputerName string `json:"ComputerName"`
	OSEdition    string `json:"OsEdition"`
	OSVersion    string `json:"OsVersion"`
	Platform     string `json:"Platform"`
}

type wifiInterfaces struct {
	Interfaces []struct {
		GUID        string `json:"GUID"`
		Description string `json:"Description"`
	} `json:"Interfaces"`
}

type ipConfig struct {
	Adapters []struct {
		Description string `json:"Description"`
		Type        string `json:"Type"`
		IPAddresses []struct {
			IPAddress string `json:"IpAddress"`
		} `json:"IpAddresses"`
	} `json:"Adapters"`
}

// RootCertificate downloads the device root certificate. acceptUntrusted
// allows the download over a connection that is not yet trusted.
func (c *Client) RootCertificate(ctx context.Context, acceptUntrusted bool) (*x509.Certificate, error) {
	httpClient, _, err := newHTTPClient(nil, acceptUntrusted, c.timeout, c.jar)
	if err != nil {
		return nil, err
	}
	defer httpClient.CloseIdleConnections()

	u := c.endpoint("/config/rootcertificate", nil)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryInternal, "failed to build certificate request").Build()
	}
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryNetwork, "failed to download root certificate").
			WithContext("address", u.Host).
			Retryable().
			Build()
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, statusError(resp, http.MethodGet, u.Path)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxCertificateSize))
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryNetwork, "failed to read root certificate").Build()
	}
	cert, err := parseCertificate(data)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryOperation, "device returned an invalid root certificate").Build()
	}
	return cert, nil
}

// Connect runs the portal handshake. Progress and the outcome are reported as
// connection status events; a failed handshake emits Failed and returns nil.
// Only cancellation of ctx is returned as an error.
func (c *Client) Connect(ctx context.Context, req portal.ConnectRequest) error {
	if req.Certificate != nil {
		c.emitStatus(portal.StatusConnecting, PhasePinning, "")
		if err := c.pin(req.Certificate); err != nil {
			return c.failConnect(ctx, PhasePinning, err)
		}
	}

	c.emitStatus(portal.StatusConnecting, PhaseOSInfo, "")
	var family deviceFamily
	if err := c.getJSON(ctx, "/api/os/devicefamily", nil, &family); err != nil {
		return c.failConnect(ctx, PhaseOSInfo, err)
	}
	var info osInfo
	if err := c.getJSON(ctx, "/api/os/info", nil, &info); err != nil {
		return c.failConnect(ctx, PhaseOSInfo, err)
	}
	c.mu.Lock()
	c.platform = family.DeviceType
	c.osVersion = info.OSVersion
	c.mu.Unlock()

	if req.SSID != "" {
		c.emitStatus(portal.StatusConnecting, PhaseWifi, req.SSID)
		if err := c.connectWifi(ctx, req.SSID, req.NetworkKey); err != nil {
			return c.failConnect(ctx, PhaseWifi, err)
		}
	}

	if req.UpdateConnection {
		c.emitStatus(portal.StatusConnecting, PhaseUpdateTarget, "")
		if err := c.updateConnection(ctx); err != nil {
			return c.failConnect(ctx, PhaseUpdateTarget, err)
		}
	}

	c.emitStatus(portal.StatusConnected, PhaseIdle, "Device connection established")
	return nil
}

func (c *Client) failConnect(ctx context.Context, phase string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	slog.Debug("Portal handshake failed",
		logfields.Address(c.Address()),
		slog.String("phase", phase),
		logfields.Error(err))
	c.emitStatus(portal.StatusFailed, phase, err.Error())
	return nil
}

func (c *Client) connectWifi(ctx context.Context, ssid, key string) error {
	var ifaces wifiInterfaces
	if err := c.getJSON(ctx, "/api/wifi/interfaces", nil, &ifaces); err != nil {
		return err
	}
	if len(ifaces.Interfaces) == 0 {
		return ferrors.OperationFailed("device has no wireless interface").Build()
	}

	guid := strings.Trim(ifaces.Interfaces[0].GUID, "{}")
	query := url.Values{
		"interface":     {guid},
		"ssid":          {encodeParam(ssid)},
		"op":            {"connect"},
		"createprofile": {"yes"},
	}
	if key != "" {
		query.Set("key", encodeParam(key))
	}
	return c.send(ctx, http.MethodPost, "/api/wifi/network", query)
}

// updateConnection retargets the client at the device's wireless address.
func (c *Client) updateConnection(ctx context.Context) error {
	var cfg ipConfig
	if err := c.getJSON(ctx, "/api/networking/ipconfig", nil, &cfg); err != nil {
		return err
	}

	for _, adapter := range cfg.Adapters {
		if !isWireless(adapter.Type, adapter.Description) {
			continue
		}
		for _, addr := range adapter.IPAddresses {
			ip := net.ParseIP(addr.IPAddress)
			if ip == nil || ip.IsUnspecified() {
				continue
			}
			c.retarget(ip.String())
			return nil
		}
	}
	return ferrors.OperationFailed("device reports no wireless address").Build()
}

func isWireless(adapterType, description string) bool {
	t := strings.ToLower(adapterType)
	d := strings.ToLower(description)
	return strings.Contains(t, "80211") || strings.Contains(t, "wireless") ||
		strings.Contains(d, "wireless") || strings.Contains(d, "wi-fi")
}

func (c *Client) retarget(host string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := *c.base
	if port := c.base.Port(); port != "" {
		next.Host = net.JoinHostPort(host, port)
	} else {
		next.Host = host
	}
	slog.Info("Portal address updated",
		logfields.Address(next.String()),
		slog.String("previous", c.base.String()))
	c.base = &next
}
