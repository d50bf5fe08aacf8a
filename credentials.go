package main

import (
	"sort"
	"strings"
	"sync"

	http "github.com/bogdanfinn/fhttp"
	"github.com/google/uuid"
)

const (
	clerkClientCookie = "__client"
	sessionCookie     = "__session"
	anonymousIDCookie = "ajs_anonymous_id"
)

// Credentials holds the user-supplied cookie set of one client. Responses keep
// it fresh through Absorb; the last write for a name wins.
type Credentials struct {
	mu       sync.RWMutex
	cookies  map[string]string
	deviceID string
}

// ParseCredentials reads a raw Cookie header ("a=1; b=2").
func ParseCredentials(raw string) (*Credentials, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrNoCookie
	}

	req := &http.Request{Header: http.Header{"Cookie": {raw}}}
	cookies := make(map[string]string)
	for _, c := range req.Cookies() {
		cookies[c.Name] = c.Value
	}
	if len(cookies) == 0 {
		return nil, &AuthError{Reason: "cookie string contains no cookies"}
	}

	deviceID := cookies[anonymousIDCookie]
	if deviceID == "" {
		deviceID = uuid.New().String()
	}

	return &Credentials{cookies: cookies, deviceID: deviceID}, nil
}

// DeviceID is stable for the lifetime of the credential set.
func (c *Credentials) DeviceID() string {
	return c.deviceID
}

func (c *Credentials) Get(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.cookies[name]
	return v, ok
}

func (c *Credentials) Set(name, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cookies[name] = value
}

// Snapshot returns a copy safe to hand to another goroutine.
func (c *Credentials) Snapshot() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.cookies))
	for k, v := range c.cookies {
		out[k] = v
	}
	return out
}

// Absorb stores every cookie set by a response and reports how many changed.
func (c *Credentials) Absorb(cookies []*http.Cookie) int {
	if len(cookies) == 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := 0
	for _, ck := range cookies {
		if ck.Name == "" {
			continue
		}
		if c.cookies[ck.Name] != ck.Value {
			changed++
		}
		c.cookies[ck.Name] = ck.Value
	}
	return changed
}

// Header renders the Cookie request header, sorted by name.
func (c *Credentials) Header() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.cookies))
	for name := range c.cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(c.cookies[name])
	}
	return b.String()
}
