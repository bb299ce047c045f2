package wdp

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/http2"

	ferrors "git.home.luguber.info/inful/holocommander/internal/foundation/errors"
	"git.home.luguber.info/inful/holocommander/internal/logfields"
)

// newHTTPClient builds an HTTP/2 capable client. With cert the peer chain must
// verify against cert alone; device certificates do not name the address they
// are reached on, so the host name is not checked.
func newHTTPClient(cert *x509.Certificate, acceptUntrusted bool, timeout time.Duration, jar http.CookieJar) (*http.Client, *tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	switch {
	case cert != nil:
		pool := x509.NewCertPool()
		pool.AddCert(cert)
		tlsConfig.InsecureSkipVerify = true //nolint:gosec // replaced by VerifyPeerCertificate
		tlsConfig.VerifyPeerCertificate = pinnedVerifier(pool)
	case acceptUntrusted:
		tlsConfig.InsecureSkipVerify = true //nolint:gosec // only used to download the root certificate
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSClientConfig:     tlsConfig,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, nil, ferrors.WrapError(err, ferrors.CategoryInternal, "failed to configure http2 transport").Build()
	}

	return &http.Client{Transport: transport, Jar: jar, Timeout: timeout}, tlsConfig, nil
}

func pinnedVerifier(roots *x509.CertPool) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return errors.New("device presented no certificate")
		}
		certs := make([]*x509.Certificate, 0, len(rawCerts))
		for _, raw := range rawCerts {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				return err
			}
			certs = append(certs, cert)
		}
		intermediates := x509.NewCertPool()
		for _, cert := range certs[1:] {
			intermediates.AddCert(cert)
		}
		_, err := certs[0].Verify(x509.VerifyOptions{Roots: roots, Intermediates: intermediates})
		return err
	}
}

// pin switches every later connection to trust only cert.
func (c *Client) pin(cert *x509.Certificate) error {
	httpClient, tlsConfig, err := newHTTPClient(cert, false, c.timeout, c.jar)
	if err != nil {
		return err
	}
	c.mu.Lock()
	old := c.http
	c.http, c.tlsConfig = httpClient, tlsConfig
	c.mu.Unlock()
	old.CloseIdleConnections()
	return nil
}

// parseCertificate accepts DER or PEM.
func parseCertificate(data []byte) (*x509.Certificate, error) {
	if block, _ := pem.Decode(data); block != nil {
		data = block.Bytes
	}
	return x509.ParseCertificate(data)
}

func encodeParam(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func (c *Client) endpoint(path string, query url.Values) *url.URL {
	c.mu.RLock()
	u := *c.base
	c.mu.RUnlock()
	u.Path = path
	u.RawQuery = query.Encode()
	return &u
}

func (c *Client) httpClient() *http.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.http
}

func (c *Client) csrfToken(u *url.URL) string {
	for _, cookie := range c.jar.Cookies(u) {
		if cookie.Name == csrfCookie {
			return cookie.Value
		}
	}
	return ""
}

// do sends one request. Responses with a status of 400 or above are closed and
// returned as classified errors.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string) (*http.Response, error) {
	return c.doWith(ctx, c.httpClient(), method, path, query, body, contentType)
}

// uploadClient shares the pinned transport but has no overall timeout.
func (c *Client) uploadClient() *http.Client {
	hc := *c.httpClient()
	hc.Timeout = 0
	return &hc
}

func (c *Client) doWith(ctx context.Context, hc *http.Client, method, path string, query url.Values, body io.Reader, contentType string) (*http.Response, error) {
	u := c.endpoint(path, query)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryInternal, "failed to build portal request").
			WithContext("path", path).
			Build()
	}
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if method != http.MethodGet {
		if token := c.csrfToken(u); token != "" {
			req.Header.Set(csrfHeader, token)
		}
	}

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryNetwork, "portal request failed").
			WithContext("method", method).
			WithContext("path", path).
			Retryable().
			Build()
	}
	slog.Debug("Portal request",
		slog.String("method", method),
		logfields.Path(path),
		slog.Int("status", resp.StatusCode),
		logfields.Duration(time.Since(start)))

	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		return nil, statusError(resp, method, path)
	}
	return resp, nil
}

// errorBody is the portal's error payload.
type errorBody struct {
	Code    int    `json:"Code"`
	Message string `json:"ErrorMessage"`
	Reason  string `json:"Reason"`
	Success bool   `json:"Success"`
}

func statusError(resp *http.Response, method, path string) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	message := http.StatusText(resp.StatusCode)
	var body errorBody
	if json.Unmarshal(data, &body) == nil {
		switch {
		case body.Reason != "":
			message = body.Reason
		case body.Message != "":
			message = body.Message
		}
	}

	var b *ferrors.ErrorBuilder
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		b = ferrors.AuthError(message)
	case http.StatusNotFound:
		b = ferrors.NotFoundError(message)
	default:
		b = ferrors.OperationFailed(message)
	}
	return b.WithContext("status", resp.StatusCode).
		WithContext("method", method).
		WithContext("path", path).
		Build()
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, query, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryOperation, "malformed portal response").
			WithContext("path", path).
			Build()
	}
	return nil
}

// send issues a request whose response body is not needed.
func (c *Client) send(ctx context.Context, method, path string, query url.Values) error {
	resp, err := c.do(ctx, method, path, query, nil, "")
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}
