package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	http "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
)

// Doer is the transport seam; tls_client.HttpClient satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewClient builds the TLS-fingerprinted transport. Cookies are managed by
// Credentials, so no jar is attached.
func NewClient(logger tls_client.Logger, proxyURL string) (tls_client.HttpClient, error) {
	if logger == nil {
		logger = tls_client.NewNoopLogger()
	}

	options := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(30),
		tls_client.WithClientProfile(SunoProfile.TLSProfile),
		tls_client.WithRandomTLSExtensionOrder(),
	}

	if proxyURL != "" {
		options = append(options, tls_client.WithProxyUrl(proxyURL))
	}

	return tls_client.NewHttpClient(logger, options...)
}

// APIClient injects the bearer token and cookie header into every outgoing
// request and absorbs Set-Cookie from every response.
type APIClient struct {
	doer    Doer
	creds   *Credentials
	profile *BrowserProfile
	timeout time.Duration
	logger  Logger

	mu    sync.RWMutex
	token string
}

func NewAPIClient(doer Doer, creds *Credentials, timeout time.Duration, logger Logger) *APIClient {
	return &APIClient{
		doer:    doer,
		creds:   creds,
		profile: SunoProfile,
		timeout: timeout,
		logger:  logger,
	}
}

func (c *APIClient) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *APIClient) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

type callOptions struct {
	// authorization replaces the bearer header verbatim (the Clerk endpoints
	// authenticate with the raw __client value).
	authorization string
	query         url.Values
}

type callOption func(*callOptions)

func withAuthorization(value string) callOption {
	return func(o *callOptions) { o.authorization = value }
}

func withQuery(q url.Values) callOption {
	return func(o *callOptions) { o.query = q }
}

// doJSON sends in (if non-nil) as JSON and decodes a 2xx body into out (if
// non-nil). It returns the raw body for callers that probe it with gjson.
func (c *APIClient) doJSON(ctx context.Context, method, rawURL string, in, out any, opts ...callOption) ([]byte, error) {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}

	if o.query != nil {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, err
		}
		q := u.Query()
		for k, vs := range o.query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
		rawURL = u.String()
	}

	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	attempts := 1
	if method == http.MethodGet {
		attempts = 2
	}

	var (
		status int
		body   []byte
		err    error
	)
	for attempt := range attempts {
		status, body, err = c.do(ctx, method, rawURL, payload, o.authorization)
		if err == nil || !IsRetryableError(err) || ctx.Err() != nil {
			break
		}
		if attempt < attempts-1 {
			c.logger.Log("%s %s -> retrying after %v", method, rawURL, err)
		}
	}
	if err != nil {
		return nil, err
	}

	if status < 200 || status > 299 {
		return body, &RemoteError{Status: status, Detail: remoteDetail(body), Message: jsonDetail(body)}
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return body, fmt.Errorf("decode %s response: %w", rawURL, err)
		}
	}
	return body, nil
}

func (c *APIClient) do(ctx context.Context, method, rawURL string, payload []byte, authorization string) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return 0, nil, err
	}

	if authorization == "" {
		if token := c.Token(); token != "" {
			authorization = "Bearer " + token
		}
	}

	req.Header = http.Header{
		"Affiliate-Id":       {"undefined"},
		"Device-Id":          {`"` + c.creds.DeviceID() + `"`},
		"x-suno-client":      {SunoClientName},
		"X-Requested-With":   {SunoRequestApp},
		"sec-ch-ua":          {c.profile.SecChUa},
		"sec-ch-ua-mobile":   {c.profile.Mobile},
		"sec-ch-ua-platform": {c.profile.Platform},
		"User-Agent":         {c.profile.UserAgent},
		"Accept":             {"application/json, text/plain, */*"},
		"Accept-Encoding":    {"gzip, deflate, br"},
		"Cookie":             {c.creds.Header()},
		http.HeaderOrderKey: {
			"Affiliate-Id",
			"Device-Id",
			"x-suno-client",
			"X-Requested-With",
			"sec-ch-ua",
			"sec-ch-ua-mobile",
			"sec-ch-ua-platform",
			"User-Agent",
			"Authorization",
			"Content-Type",
			"Accept",
			"Accept-Encoding",
			"Cookie",
		},
		http.PHeaderOrderKey: PseudoHeaderOrder,
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		c.logger.Log("%s %s -> error: %v", method, req.URL.Path, err)
		return 0, nil, &NetworkError{Op: method + " " + req.URL.Path, Err: err}
	}
	defer resp.Body.Close()
	c.logger.Log("%s %s -> %d", method, req.URL.Path, resp.StatusCode)

	c.creds.Absorb(resp.Cookies())

	data, err := readResponseBody(resp)
	if err != nil {
		return resp.StatusCode, nil, &NetworkError{Op: "read " + req.URL.Path, Err: err}
	}
	return resp.StatusCode, data, nil
}
