package main

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	http "github.com/bogdanfinn/fhttp"
)

// =============================================================================
// Remote service fake
// =============================================================================

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte
}

type routeHandler func(req *recordedRequest) (*http.Response, error)

// fakeRemote answers requests by "METHOD /path" and records every call.
type fakeRemote struct {
	mu       sync.Mutex
	routes   map[string]routeHandler
	requests []*recordedRequest
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{routes: make(map[string]routeHandler)}
}

func (f *fakeRemote) handle(method, path string, h routeHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[method+" "+path] = h
}

func (f *fakeRemote) reply(method, path string, status int, body string) {
	f.handle(method, path, func(*recordedRequest) (*http.Response, error) {
		return jsonResponse(status, body), nil
	})
}

func (f *fakeRemote) Do(req *http.Request) (*http.Response, error) {
	rec := &recordedRequest{
		Method: req.Method,
		Path:   req.URL.Path,
		Query:  req.URL.RawQuery,
		Header: req.Header.Clone(),
	}
	if req.Body != nil {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		rec.Body = body
	}

	f.mu.Lock()
	f.requests = append(f.requests, rec)
	h, ok := f.routes[req.Method+" "+req.URL.Path]
	f.mu.Unlock()

	if !ok {
		return jsonResponse(http.StatusNotFound, `{"detail":"no route `+req.Method+" "+req.URL.Path+`"}`), nil
	}
	resp, err := h(rec)
	if resp != nil {
		resp.Request = req
	}
	return resp, err
}

func (f *fakeRemote) calls(method, path string) []*recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*recordedRequest
	for _, r := range f.requests {
		if r.Method == method && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func jsonResponse(status int, body string, setCookies ...string) *http.Response {
	header := http.Header{"Content-Type": {"application/json"}}
	for _, c := range setCookies {
		header.Add("Set-Cookie", c)
	}
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

const (
	testCookie    = "__client=client-secret; ajs_anonymous_id=device-42; other=1"
	testSessionID = "sess_1"
)

// withSession installs the Clerk endpoints and a challenge check that never
// asks for a CAPTCHA. Every token renewal returns jwt-<n>.
func (f *fakeRemote) withSession() *fakeRemote {
	f.reply(http.MethodGet, "/v1/client", http.StatusOK, `{"response":{"last_active_session_id":"`+testSessionID+`"}}`)

	var mu sync.Mutex
	n := 0
	f.handle(http.MethodPost, "/v1/client/sessions/"+testSessionID+"/tokens", func(*recordedRequest) (*http.Response, error) {
		mu.Lock()
		n++
		jwt := "jwt-" + strconv.Itoa(n)
		mu.Unlock()
		return jsonResponse(http.StatusOK, `{"jwt":"`+jwt+`"}`), nil
	})
	f.reply(http.MethodPost, "/api/c/check", http.StatusOK, `{"required":false}`)
	return f
}

// =============================================================================
// Clock
// =============================================================================

// fakeClock advances only when something sleeps on it.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// =============================================================================
// Logger
// =============================================================================

// recordingLogger is safe to use from goroutines that outlive the test.
type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) Log(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, format)
}

func (l *recordingLogger) contains(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

// =============================================================================
// Clients
// =============================================================================

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Remote.StudioBaseURL = "https://studio.test"
	cfg.Remote.ClerkBaseURL = "https://clerk.test"
	cfg.Browser.ChallengeWaitTimeout = Duration(time.Second)
	cfg.Browser.ChallengeDrainWindow = Duration(10 * time.Millisecond)
	return cfg
}

type testClientOptions struct {
	launcher BrowserLauncher
	solver   CoordinateSolver
	clock    *fakeClock
}

// newTestClient builds an initialized client whose every sleep runs on a fake clock.
func newTestClient(t *testing.T, remote *fakeRemote, opts testClientOptions) *SunoClient {
	t.Helper()

	creds, err := ParseCredentials(testCookie)
	if err != nil {
		t.Fatalf("parse credentials: %v", err)
	}
	client := NewSunoClient(testConfig(), creds, ClientDeps{
		Doer:     remote,
		Launcher: opts.launcher,
		Solver:   opts.solver,
		Logger:   &recordingLogger{},
	})

	clock := opts.clock
	if clock == nil {
		clock = newFakeClock()
	}
	client.sleep = clock.Sleep
	client.now = clock.Now
	client.session.sleep = clock.Sleep
	client.session.now = clock.Now

	if err := client.Init(context.Background()); err != nil {
		t.Fatalf("init client: %v", err)
	}
	return client
}

// =============================================================================
// Browser fakes
// =============================================================================

// fakeSession scripts the challenge surface. WaitForChallengeImage pops its
// results from waits; once they run out it blocks until the session closes.
type fakeSession struct {
	mu           sync.Mutex
	waits        []error
	prompts      []string
	snapshot     []byte
	clicks       []Point
	submits      int
	retriggers   int
	retriggerErr error
	navigateErr  error
	triggerErr   error
	closeCount   int
	onSubmit     func(s *fakeSession)

	intercepted chan *InterceptedRequest
	closed      chan struct{}
	aborted     chan struct{}
}

func newFakeSession(waits ...error) *fakeSession {
	return &fakeSession{
		waits:       waits,
		snapshot:    []byte("png"),
		intercepted: make(chan *InterceptedRequest, 1),
		closed:      make(chan struct{}),
		aborted:     make(chan struct{}, 1),
	}
}

// publish emits the generation request the page would have sent.
func (s *fakeSession) publish(authorization, body string) {
	s.intercepted <- &InterceptedRequest{
		URL:     "https://studio.test/api/generate/v2/",
		Headers: map[string]string{"authorization": authorization},
		Body:    []byte(body),
		abort: func() error {
			s.aborted <- struct{}{}
			return nil
		},
	}
}

func (s *fakeSession) NavigateToChallengeSurface(ctx context.Context) error {
	return s.navigateErr
}

func (s *fakeSession) TriggerChallenge(ctx context.Context) error {
	return s.triggerErr
}

func (s *fakeSession) Retrigger(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retriggers++
	return s.retriggerErr
}

func (s *fakeSession) WaitForChallengeImage(ctx context.Context, timeout time.Duration) error {
	s.mu.Lock()
	if len(s.waits) > 0 {
		err := s.waits[0]
		s.waits = s.waits[1:]
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	select {
	case <-s.closed:
		return ErrBrowserClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *fakeSession) ChallengePrompt(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.prompts) == 0 {
		return "Please click each image containing a bicycle", nil
	}
	p := s.prompts[0]
	s.prompts = s.prompts[1:]
	return p, nil
}

func (s *fakeSession) ChallengeSnapshot(ctx context.Context) ([]byte, error) {
	return s.snapshot, nil
}

func (s *fakeSession) ClickChallenge(ctx context.Context, p Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clicks = append(s.clicks, p)
	return nil
}

func (s *fakeSession) SubmitChallenge(ctx context.Context) error {
	s.mu.Lock()
	s.submits++
	hook := s.onSubmit
	s.mu.Unlock()
	if hook != nil {
		hook(s)
	}
	return nil
}

func (s *fakeSession) Intercepted() <-chan *InterceptedRequest {
	return s.intercepted
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCount++
	if s.closeCount == 1 {
		close(s.closed)
	}
	return nil
}

func (s *fakeSession) stats() (clicks []Point, submits, retriggers, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Point(nil), s.clicks...), s.submits, s.retriggers, s.closeCount
}

type fakeLauncher struct {
	mu       sync.Mutex
	session  *fakeSession
	err      error
	launches int
	seeds    []BrowserSeed
}

func (l *fakeLauncher) Launch(ctx context.Context, seed BrowserSeed) (ChallengeSession, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches++
	l.seeds = append(l.seeds, seed)
	if l.err != nil {
		return nil, l.err
	}
	return l.session, nil
}

func (l *fakeLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

// fakeSolver fails with errs in order, then answers points.
type fakeSolver struct {
	mu     sync.Mutex
	errs   []error
	points []Point
	calls  int
	langs  []string
}

func (s *fakeSolver) Coordinates(ctx context.Context, imageBase64, lang string) ([]Point, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.langs = append(s.langs, lang)
	if imageBase64 == "" {
		return nil, errors.New("empty image")
	}
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}
	return s.points, nil
}

func (s *fakeSolver) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
