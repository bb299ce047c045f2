package wdp

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	ferrors "git.home.luguber.info/inful/holocommander/internal/foundation/errors"
	"git.home.luguber.info/inful/holocommander/internal/logfields"
	"git.home.luguber.info/inful/holocommander/internal/portal"
)

const processesPath = "/api/resourcemanager/processes"

func (c *Client) RunningProcesses(ctx context.Context) (portal.RunningProcesses, error) {
	var out portal.RunningProcesses
	err := c.getJSON(ctx, processesPath, nil, &out)
	return out, err
}

// WatchRunningProcesses streams snapshots pushed over the portal's process
// WebSocket. A dropped socket is redialed under the retry policy; the channel
// closes when ctx is done or the policy is exhausted.
func (c *Client) WatchRunningProcesses(ctx context.Context) (<-chan portal.RunningProcesses, error) {
	conn, err := c.dialProcesses(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan portal.RunningProcesses, 1)
	go c.streamProcesses(ctx, conn, out)
	return out, nil
}

func (c *Client) streamProcesses(ctx context.Context, conn *websocket.Conn, out chan<- portal.RunningProcesses) {
	defer close(out)

	retries := 0
	for {
		if conn != nil {
			if c.readProcesses(ctx, conn, out) {
				retries = 0
			}
		}
		if ctx.Err() != nil {
			return
		}

		retries++
		if c.policy.Exhausted(retries) {
			slog.Warn("Process stream gave up",
				logfields.Address(c.Address()),
				slog.Int("retries", retries-1))
			return
		}
		if err := c.policy.Wait(ctx, retries); err != nil {
			return
		}

		var err error
		conn, err = c.dialProcesses(ctx)
		if err != nil {
			slog.Debug("Process stream redial failed",
				logfields.Address(c.Address()),
				logfields.Error(err))
			conn = nil
		}
	}
}

// readProcesses forwards snapshots until the socket fails or ctx is done and
// reports whether any snapshot arrived.
func (c *Client) readProcesses(ctx context.Context, conn *websocket.Conn, out chan<- portal.RunningProcesses) bool {
	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), closeDeadline())
		_ = conn.Close()
	})
	defer func() {
		stop()
		_ = conn.Close()
	}()

	received := false
	for {
		var snapshot portal.RunningProcesses
		if err := conn.ReadJSON(&snapshot); err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				slog.Debug("Process stream interrupted",
					logfields.Address(c.Address()),
					logfields.Error(err))
			}
			return received
		}
		received = true
		select {
		case out <- snapshot:
		case <-ctx.Done():
			return received
		}
	}
}

func (c *Client) dialProcesses(ctx context.Context) (*websocket.Conn, error) {
	u := c.endpoint(processesPath, nil)
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	c.mu.RLock()
	tlsConfig := c.tlsConfig.Clone()
	c.mu.RUnlock()
	// The upgrade handshake needs HTTP/1.1; the shared config also offers h2.
	tlsConfig.NextProtos = []string{"http/1.1"}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		TLSClientConfig:  tlsConfig,
		HandshakeTimeout: websocketHandshakeTimeout,
		Jar:              c.jar,
	}
	header := http.Header{}
	if c.username != "" || c.password != "" {
		req := &http.Request{Header: header}
		req.SetBasicAuth(c.username, c.password)
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		b := ferrors.WrapError(err, ferrors.CategoryNetwork, "failed to open process stream").
			WithContext("url", u.String()).
			Retryable()
		if resp != nil {
			b = b.WithContext("status", resp.StatusCode)
		}
		return nil, b.Build()
	}
	return conn, nil
}
