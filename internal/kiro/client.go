// Package kiro speaks the Kiro conversational RPC protocol: request
// construction, response event-stream translation, and account usage.
package kiro

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/awsl-project/kirod/internal/auth"
	"github.com/awsl-project/kirod/internal/domain"
)

// RequestKind selects the upstream endpoint.
type RequestKind string

const (
	KindConverseStream            RequestKind = "converse-stream"
	KindGenerateAssistantResponse RequestKind = "generate-assistant-response"
	KindUsageLimits               RequestKind = "usage-limits"
)

// DefaultRegion is used when the configuration names none.
const DefaultRegion = "us-east-1"

// ClientOptions carries the identity and transport knobs from configuration.
type ClientOptions struct {
	Region string

	// BaseURL overrides the region-derived endpoint. Used by tests and
	// self-hosted gateways.
	BaseURL string

	// Identity headers sent on every upstream call. SystemVersion is
	// generated once at process start when the configuration leaves it
	// empty, then held constant.
	KiroVersion   string
	SystemVersion string
	NodeVersion   string

	// Outbound proxy, http/https/socks5, with optional basic auth.
	ProxyURL      string
	ProxyUsername string
	ProxyPassword string
}

// Client issues upstream requests on behalf of pool credentials.
type Client struct {
	opts       ClientOptions
	tokens     *auth.TokenManager
	httpClient *http.Client
}

// NewClient builds the upstream client. The returned error is non-nil only
// for an unparsable proxy URL.
func NewClient(opts ClientOptions, tokens *auth.TokenManager) (*Client, error) {
	if opts.Region == "" {
		opts.Region = DefaultRegion
	}

	httpClient, err := newHTTPClient(opts)
	if err != nil {
		return nil, err
	}

	return &Client{opts: opts, tokens: tokens, httpClient: httpClient}, nil
}

// HTTPClient exposes the shared transport for the count-tokens delegate.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

func (c *Client) baseURL() string {
	if c.opts.BaseURL != "" {
		return c.opts.BaseURL
	}
	return fmt.Sprintf("https://codewhisperer.%s.amazonaws.com", c.opts.Region)
}

func (c *Client) endpoint(kind RequestKind) string {
	switch kind {
	case KindConverseStream:
		return c.baseURL() + "/converse-stream"
	case KindUsageLimits:
		return c.baseURL() + "/getUsageLimits"
	default:
		return c.baseURL() + "/generateAssistantResponse"
	}
}

// Send posts body to the endpoint for kind using cred's access token and
// returns the raw response for streaming consumption. A 401/403 triggers one
// forced token refresh and retry before the credential is reported fatal.
// All errors are classified transient or fatal for the orchestrator.
func (c *Client) Send(ctx context.Context, cred *domain.Credential, kind RequestKind, body []byte) (*http.Response, error) {
	token, err := c.tokens.AccessToken(ctx, cred)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, cred, kind, body, token)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()

		token, err = c.tokens.ForceRefresh(ctx, cred)
		if err != nil {
			return nil, err
		}
		resp, err = c.do(ctx, cred, kind, body, token)
		if err != nil {
			return nil, err
		}
	}

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
		resp.Body.Close()
		return nil, classifyStatus(resp.StatusCode, respBody)
	}

	return resp, nil
}

func (c *Client) do(ctx context.Context, cred *domain.Credential, kind RequestKind, body []byte, token string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(kind), bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewFatalError(err, "build upstream request")
	}
	c.setHeaders(req, cred, token)
	if kind == KindConverseStream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.NewTransientError(err, "upstream connection failed")
	}
	return resp, nil
}

// setHeaders applies the identity headers the upstream expects. The device
// fingerprint rides in the user-agent pair, binding the session to the
// credential's machine id.
func (c *Client) setHeaders(req *http.Request, cred *domain.Credential, token string) {
	agentSuffix := fmt.Sprintf("KiroIDE-%s-%s", c.opts.KiroVersion, cred.MachineID)

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-amzn-kiro-agent-mode", "spec")
	req.Header.Set("kiro-version", c.opts.KiroVersion)
	req.Header.Set("system-version", c.opts.SystemVersion)
	req.Header.Set("node-version", c.opts.NodeVersion)
	req.Header.Set("x-amz-user-agent", fmt.Sprintf("aws-sdk-js/1.0.18 %s", agentSuffix))
	req.Header.Set("user-agent", fmt.Sprintf(
		"aws-sdk-js/1.0.18 ua/2.1 os/%s lang/js md/nodejs#%s api/codewhispererstreaming#1.0.18 m/E %s",
		c.opts.SystemVersion, c.opts.NodeVersion, agentSuffix))
}

func classifyStatus(status int, body []byte) error {
	err := fmt.Errorf("upstream status %d: %s", status, bytes.TrimSpace(body))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.NewFatalError(err, "credential rejected by upstream")
	case status == http.StatusTooManyRequests:
		return domain.NewTransientError(err, "upstream throttled")
	case status >= 500:
		return domain.NewTransientError(err, "upstream server error")
	default:
		pe := domain.NewFatalError(err, "upstream rejected request")
		pe.HTTPStatusCode = status
		return pe
	}
}

// newHTTPClient builds the shared TLS transport. Dialing and the TLS
// handshake each time out after 15 s; there is no overall request deadline,
// so a request runs until it completes or its context is cancelled.
func newHTTPClient(opts ClientOptions) (*http.Client, error) {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   15 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 15 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		ForceAttemptHTTP2: false,
	}

	if opts.ProxyURL != "" {
		proxyURL, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		if opts.ProxyUsername != "" {
			proxyURL.User = url.UserPassword(opts.ProxyUsername, opts.ProxyPassword)
		}
		// http.Transport routes socks5:// schemes through the built-in
		// SOCKS dialer.
		transport.Proxy = http.ProxyURL(proxyURL)
		log.Debugf("kiro: outbound proxy enabled (%s)", proxyURL.Scheme)
	}

	return &http.Client{Transport: transport}, nil
}
