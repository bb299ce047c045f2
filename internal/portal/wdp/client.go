// Package wdp binds portal.Client to the device portal REST and WebSocket API.
//
// Requests use basic authentication and carry the portal's CSRF cookie back as
// the X-CSRF-Token header. String parameters are base64 encoded the way the
// portal expects. The device's self-signed root certificate, once fetched, is
// pinned for every later TLS connection.
package wdp

import (
	"crypto/tls"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"

	ferrors "git.home.luguber.info/inful/holocommander/internal/foundation/errors"
	"git.home.luguber.info/inful/holocommander/internal/portal"
	"git.home.luguber.info/inful/holocommander/internal/retry"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultInstallPoll  = 500 * time.Millisecond
	csrfCookie          = "CSRF-Token"
	csrfHeader          = "X-CSRF-Token"
	maxErrorBody        = 4096
	launchPidLookups    = 5
	launchPidLookupWait = 200 * time.Millisecond

	websocketHandshakeTimeout = 10 * time.Second
	websocketCloseGrace       = time.Second
)

func closeDeadline() time.Time { return time.Now().Add(websocketCloseGrace) }

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds every REST request. Zero disables the bound.
func WithTimeout(d time.Duration) Option { return func(c *Client) { c.timeout = d } }

// WithRetryPolicy sets the reconnect backoff of the process stream.
func WithRetryPolicy(p retry.Policy) Option { return func(c *Client) { c.policy = p } }

// WithInstallPollInterval sets how often install state is polled.
func WithInstallPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.installPoll = d
		}
	}
}

// Client talks to one device portal.
type Client struct {
	username    string
	password    string
	timeout     time.Duration
	installPoll time.Duration
	policy      retry.Policy
	jar         http.CookieJar

	mu        sync.RWMutex
	base      *url.URL
	http      *http.Client
	tlsConfig *tls.Config
	platform  string
	osVersion string

	subMu       sync.Mutex
	nextSub     uint64
	statusSubs  map[uint64]func(portal.ConnectionStatusEvent)
	installSubs map[uint64]func(portal.InstallStatusEvent)
}

// Factory returns a portal.Factory building Clients with options.
func Factory(options ...Option) portal.Factory {
	return func(address, username, password string) (portal.Client, error) {
		return New(address, username, password, options...)
	}
}

// New returns a client for the absolute http(s) address. No I/O is performed.
func New(address, username, password string, options ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(address, "/"))
	if err != nil || base.Host == "" || (base.Scheme != "http" && base.Scheme != "https") {
		return nil, ferrors.ConnectionError("invalid portal address").
			WithContext("address", address).
			WithCause(err).
			Build()
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryInternal, "failed to create cookie jar").Build()
	}

	c := &Client{
		username:    username,
		password:    password,
		timeout:     defaultTimeout,
		installPoll: defaultInstallPoll,
		policy:      retry.DefaultPolicy(),
		jar:         jar,
		base:        base,
		statusSubs:  make(map[uint64]func(portal.ConnectionStatusEvent)),
		installSubs: make(map[uint64]func(portal.InstallStatusEvent)),
	}
	for _, opt := range options {
		opt(c)
	}

	httpClient, tlsConfig, err := newHTTPClient(nil, false, c.timeout, jar)
	if err != nil {
		return nil, err
	}
	c.http, c.tlsConfig = httpClient, tlsConfig
	return c, nil
}

// Address returns the current base address. UpdateConnection may change it.
func (c *Client) Address() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.base.String()
}

// Platform returns the device family reported during the handshake.
func (c *Client) Platform() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.platform
}

// OSVersion returns the OS version reported during the handshake.
func (c *Client) OSVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.osVersion
}

func (c *Client) OnConnectionStatus(fn func(portal.ConnectionStatusEvent)) func() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.nextSub++
	id := c.nextSub
	c.statusSubs[id] = fn
	return func() {
		c.subMu.Lock()
		delete(c.statusSubs, id)
		c.subMu.Unlock()
	}
}

func (c *Client) OnInstallStatus(fn func(portal.InstallStatusEvent)) func() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.nextSub++
	id := c.nextSub
	c.installSubs[id] = fn
	return func() {
		c.subMu.Lock()
		delete(c.installSubs, id)
		c.subMu.Unlock()
	}
}

func (c *Client) emitStatus(status portal.ConnectionStatus, phase, message string) {
	c.subMu.Lock()
	handlers := make([]func(portal.ConnectionStatusEvent), 0, len(c.statusSubs))
	for _, fn := range c.statusSubs {
		handlers = append(handlers, fn)
	}
	c.subMu.Unlock()

	evt := portal.ConnectionStatusEvent{Status: status, Phase: phase, Message: message}
	for _, fn := range handlers {
		fn(evt)
	}
}

func (c *Client) emitInstall(phase portal.InstallPhase, message string) {
	c.subMu.Lock()
	handlers := make([]func(portal.InstallStatusEvent), 0, len(c.installSubs))
	for _, fn := range c.installSubs {
		handlers = append(handlers, fn)
	}
	c.subMu.Unlock()

	evt := portal.InstallStatusEvent{Phase: phase, Message: message}
	for _, fn := range handlers {
		fn(evt)
	}
}

var _ portal.Client = (*Client)(nil)
