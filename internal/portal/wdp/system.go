package wdp

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

type machineName struct {
	ComputerName string `json:"ComputerName"`
}

func (c *Client) DeviceName(ctx context.Context) (string, error) {
	var out machineName
	if err := c.getJSON(ctx, "/api/os/machinename", nil, &out); err != nil {
		return "", err
	}
	return out.ComputerName, nil
}

// SetDeviceName takes effect after the next reboot.
func (c *Client) SetDeviceName(ctx context.Context, name string) error {
	return c.send(ctx, http.MethodPost, "/api/os/machinename", url.Values{"name": {encodeParam(name)}})
}

func (c *Client) Reboot(ctx context.Context) error {
	return c.send(ctx, http.MethodPost, "/api/control/restart", nil)
}

func (c *Client) Shutdown(ctx context.Context) error {
	return c.send(ctx, http.MethodPost, "/api/control/shutdown", nil)
}

// SetInterPupilaryDistance sends ipd in millimeters; the portal expects
// thousandths of a millimeter.
func (c *Client) SetInterPupilaryDistance(ctx context.Context, ipd float32) error {
	value := strconv.Itoa(int(ipd * 1000))
	return c.send(ctx, http.MethodPost, "/api/holographic/os/settings/ipd", url.Values{"ipd": {value}})
}
