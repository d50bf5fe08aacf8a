package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"sync"
	"time"

	http "github.com/bogdanfinn/fhttp"
	"github.com/tidwall/gjson"
)

// Session is the authenticated state of one client.
type Session struct {
	ID       string
	Token    string
	IssuedAt time.Time
}

// sleepFunc suspends the caller for d or until ctx is done.
type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// randomDelay returns a duration uniformly drawn from [lo, hi).
func randomDelay(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int63n(int64(hi-lo)))
}

// SessionManager owns session-id bootstrap and bearer-token renewal against Clerk.
type SessionManager struct {
	api    *APIClient
	creds  *Credentials
	cfg    RemoteConfig
	logger Logger
	sleep  sleepFunc
	now    func() time.Time

	mu       sync.Mutex
	sid      string
	issuedAt time.Time
}

func NewSessionManager(api *APIClient, creds *Credentials, cfg RemoteConfig, logger Logger) *SessionManager {
	return &SessionManager{
		api:    api,
		creds:  creds,
		cfg:    cfg,
		logger: logger,
		sleep:  sleepCtx,
		now:    time.Now,
	}
}

func (s *SessionManager) clerkURL(path string) string {
	q := url.Values{}
	q.Set("_is_native", "true")
	q.Set("_clerk_js_version", s.cfg.ClerkVersion)
	return s.cfg.ClerkBaseURL + path + "?" + q.Encode()
}

func (s *SessionManager) clientCookie() (string, error) {
	v, ok := s.creds.Get(clerkClientCookie)
	if !ok || v == "" {
		return "", &AuthError{Reason: "the " + clerkClientCookie + " cookie is missing, update SUNO_COOKIE"}
	}
	return v, nil
}

// EnsureSession fetches the session id once per credential set.
func (s *SessionManager) EnsureSession(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sid != "" {
		return nil
	}

	client, err := s.clientCookie()
	if err != nil {
		return err
	}

	s.logger.Log("Getting the session ID")
	body, err := s.api.doJSON(ctx, http.MethodGet, s.clerkURL("/v1/client"), nil, nil, withAuthorization(client))
	if err != nil {
		return fmt.Errorf("session bootstrap: %w", err)
	}

	sid := gjson.GetBytes(body, "response.last_active_session_id").String()
	if sid == "" {
		return &AuthError{Reason: "failed to get session id, you may need to update the SUNO_COOKIE"}
	}
	s.sid = sid
	return nil
}

// RenewToken mints a fresh bearer token. With block set it pauses for a short
// random interval afterwards so bursts of calls do not look scripted.
func (s *SessionManager) RenewToken(ctx context.Context, block bool) error {
	s.mu.Lock()
	sid := s.sid
	s.mu.Unlock()
	if sid == "" {
		return &AuthError{Reason: "session ID is not set, cannot renew token"}
	}

	client, err := s.clientCookie()
	if err != nil {
		return err
	}

	s.logger.Log("KeepAlive...")
	body, err := s.api.doJSON(ctx, http.MethodPost, s.clerkURL("/v1/client/sessions/"+url.PathEscape(sid)+"/tokens"), struct{}{}, nil, withAuthorization(client))
	if err != nil {
		return fmt.Errorf("renew token: %w", err)
	}

	jwt := gjson.GetBytes(body, "jwt").String()
	if jwt == "" {
		return &AuthError{Reason: "token renewal returned no jwt"}
	}
	s.adopt(jwt)
	s.logger.Log("Token renewed: %s", redact(jwt))

	if block {
		return s.sleep(ctx, randomDelay(time.Second, 2*time.Second))
	}
	return nil
}

// AdoptToken installs a bearer token obtained elsewhere (the challenge flow).
func (s *SessionManager) AdoptToken(token string) {
	if token == "" {
		return
	}
	s.adopt(token)
}

func (s *SessionManager) adopt(token string) {
	s.api.SetToken(token)
	s.mu.Lock()
	s.issuedAt = s.now()
	s.mu.Unlock()
}

func (s *SessionManager) Session() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Session{ID: s.sid, Token: s.api.Token(), IssuedAt: s.issuedAt}
}
