package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

const (
	challengeFrameSelector = `iframe[title*="hCaptcha"]`
	interfaceMarker        = ".react-aria-GridList"
	promptInputSelector    = ".custom-textarea"
	createButtonSelector   = `button[aria-label="Create"]`
	fillerText             = "Lorem ipsum"
	typingDelayMs          = 80
)

// chromiumArgs switch off the obvious automation fingerprints.
var chromiumArgs = []string{
	"--disable-blink-features=AutomationControlled",
	"--disable-web-security",
	"--no-sandbox",
	"--disable-dev-shm-usage",
	"--disable-features=site-per-process",
	"--disable-features=IsolateOrigins",
	"--disable-extensions",
	"--disable-infobars",
}

type playwrightLauncher struct {
	cfg    BrowserConfig
	logger Logger
}

func newPlaywrightLauncher(cfg BrowserConfig, logger Logger) *playwrightLauncher {
	return &playwrightLauncher{cfg: cfg, logger: logger}
}

// Launch starts the configured engine and returns a seeded session. Anything
// started before a failure is torn down again.
func (l *playwrightLauncher) Launch(ctx context.Context, seed BrowserSeed) (ChallengeSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	s := &playwrightSession{
		pw:          pw,
		cfg:         l.cfg,
		logger:      l.logger,
		images:      make(chan struct{}, 64),
		intercepted: make(chan *InterceptedRequest, 1),
		closed:      make(chan struct{}),
	}
	if err := s.open(seed); err != nil {
		if cerr := s.Close(); cerr != nil {
			l.logger.Log("Browser cleanup after failed launch: %v", cerr)
		}
		return nil, err
	}
	return s, nil
}

type playwrightSession struct {
	pw     *playwright.Playwright
	cfg    BrowserConfig
	logger Logger

	browser      playwright.Browser
	page         playwright.Page
	frame        playwright.FrameLocator
	challenge    playwright.Locator
	createButton playwright.Locator
	pointer      *humanPointer

	images        chan struct{}
	intercepted   chan *InterceptedRequest
	interceptOnce sync.Once

	closed    chan struct{}
	closeOnce sync.Once
}

func (s *playwrightSession) open(seed BrowserSeed) error {
	browserType, args := s.pw.Chromium, chromiumArgs
	if s.cfg.Engine == "firefox" {
		browserType, args = s.pw.Firefox, nil
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(s.cfg.Headless),
		Args:     args,
	}
	if seed.Proxy != "" {
		proxy, err := playwrightProxy(seed.Proxy)
		if err != nil {
			return err
		}
		launchOpts.Proxy = proxy
	}

	browser, err := browserType.Launch(launchOpts)
	if err != nil {
		return fmt.Errorf("launch %s: %w", s.cfg.Engine, err)
	}
	s.browser = browser

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent:  playwright.String(seed.UserAgent),
		Locale:     playwright.String(s.cfg.Locale),
		NoViewport: playwright.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("new browser context: %w", err)
	}
	if err := bctx.AddCookies(seedCookies(seed, s.cfg.CookieDomain)); err != nil {
		return fmt.Errorf("seed cookies: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		return fmt.Errorf("new page: %w", err)
	}
	s.page = page

	page.OnResponse(func(resp playwright.Response) {
		if !isChallengeImageURL(resp.URL()) {
			return
		}
		select {
		case s.images <- struct{}{}:
		default:
		}
	})
	if err := page.Route(generationRoutePattern, s.intercept); err != nil {
		return fmt.Errorf("install interception route: %w", err)
	}

	s.frame = page.FrameLocator(challengeFrameSelector)
	s.challenge = s.frame.Locator(".challenge-container")
	s.createButton = page.Locator(createButtonSelector).Locator("div.flex")
	return nil
}

// intercept publishes the first matched submission and aborts any later one.
func (s *playwrightSession) intercept(route playwright.Route) {
	req := route.Request()
	body, err := req.PostData()
	if err != nil {
		s.logger.Log("Intercepted request without readable body: %v", err)
	}

	ir := &InterceptedRequest{
		URL:     req.URL(),
		Headers: req.Headers(),
		Body:    []byte(body),
		abort:   func() error { return route.Abort() },
	}

	published := false
	s.interceptOnce.Do(func() {
		s.intercepted <- ir
		published = true
	})
	if !published {
		_ = route.Abort()
	}
}

func (s *playwrightSession) Intercepted() <-chan *InterceptedRequest {
	return s.intercepted
}

func (s *playwrightSession) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// wrap normalizes driver errors; after Close every failure means "closed".
func (s *playwrightSession) wrap(err error) error {
	if err == nil {
		return nil
	}
	if s.isClosed() || errors.Is(err, playwright.ErrTargetClosed) {
		return fmt.Errorf("%w: %v", ErrBrowserClosed, err)
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %v", ErrChallengeExpired, err)
	}
	return classifyBrowserError(err)
}

func (s *playwrightSession) NavigateToChallengeSurface(ctx context.Context) error {
	if s.isClosed() {
		return ErrBrowserClosed
	}
	_, err := s.page.Goto(s.cfg.CreatePageURL, playwright.PageGotoOptions{
		Referer:   playwright.String("https://www.google.com/"),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(0),
	})
	if err != nil {
		return s.wrap(err)
	}

	s.logger.Log("Waiting for the interface to load")
	err = s.page.Locator(interfaceMarker).WaitFor(playwright.LocatorWaitForOptions{
		Timeout: playwright.Float(float64(s.cfg.NavigationTimeout.Std().Milliseconds())),
	})
	if err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			return fmt.Errorf("%w: %s never showed %s", ErrNavigationTimeout, s.cfg.CreatePageURL, interfaceMarker)
		}
		return s.wrap(err)
	}

	if s.cfg.GhostCursor {
		s.pointer = newHumanPointer(s.page.Mouse())
	}
	return nil
}

func (s *playwrightSession) TriggerChallenge(ctx context.Context) error {
	s.logger.Log("Triggering the challenge")
	// Clicking the page corner closes whatever popup is open.
	if err := s.click(pageTarget{s.page}, &Point{X: 318, Y: 13}); err != nil {
		return err
	}

	input := s.page.Locator(promptInputSelector)
	if err := s.click(locatorTarget{input}, nil); err != nil {
		return err
	}
	if err := input.PressSequentially(fillerText, playwright.LocatorPressSequentiallyOptions{
		Delay: playwright.Float(typingDelayMs),
	}); err != nil {
		return s.wrap(err)
	}
	return s.click(locatorTarget{s.createButton}, nil)
}

func (s *playwrightSession) Retrigger(ctx context.Context) error {
	return s.click(locatorTarget{s.createButton}, nil)
}

func (s *playwrightSession) WaitForChallengeImage(ctx context.Context, timeout time.Duration) error {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-s.images:
		return nil
	case <-t.C:
		return fmt.Errorf("%w: no challenge image within %v", ErrChallengeExpired, timeout)
	case <-s.closed:
		return ErrBrowserClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *playwrightSession) ChallengePrompt(ctx context.Context) (string, error) {
	text, err := s.challenge.Locator(".prompt-text").First().InnerText()
	return text, s.wrap(err)
}

func (s *playwrightSession) ChallengeSnapshot(ctx context.Context) ([]byte, error) {
	shot, err := s.challenge.Screenshot()
	return shot, s.wrap(err)
}

func (s *playwrightSession) ClickChallenge(ctx context.Context, p Point) error {
	return s.click(locatorTarget{s.challenge}, &p)
}

func (s *playwrightSession) SubmitChallenge(ctx context.Context) error {
	return s.click(locatorTarget{s.frame.Locator(".button-submit")}, nil)
}

func (s *playwrightSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		var errs []error
		if s.browser != nil {
			errs = append(errs, s.browser.Close())
		}
		errs = append(errs, s.pw.Stop())
		err = errors.Join(errs...)
	})
	return err
}

// clickTarget is either the whole page or an element on it.
type clickTarget interface {
	bounds() (*playwright.Rect, error)
	direct(offset *Point) error
}

type pageTarget struct{ page playwright.Page }

func (t pageTarget) bounds() (*playwright.Rect, error) {
	return &playwright.Rect{}, nil
}

func (t pageTarget) direct(offset *Point) error {
	var p Point
	if offset != nil {
		p = *offset
	}
	return t.page.Mouse().Click(p.X, p.Y)
}

type locatorTarget struct{ loc playwright.Locator }

func (t locatorTarget) bounds() (*playwright.Rect, error) {
	box, err := t.loc.BoundingBox()
	if err != nil {
		return nil, err
	}
	if box == nil {
		return nil, errors.New("element is outside of the viewport")
	}
	return box, nil
}

func (t locatorTarget) direct(offset *Point) error {
	opts := playwright.LocatorClickOptions{Force: playwright.Bool(true)}
	if offset != nil {
		opts.Position = &playwright.Position{X: offset.X, Y: offset.Y}
	}
	return t.loc.Click(opts)
}

// click routes through the human pointer when enabled and clicks directly
// otherwise. offset is relative to the target's top-left corner.
func (s *playwrightSession) click(target clickTarget, offset *Point) error {
	if s.isClosed() {
		return ErrBrowserClosed
	}
	if s.pointer == nil {
		return s.wrap(target.direct(offset))
	}
	box, err := target.bounds()
	if err != nil {
		return s.wrap(err)
	}
	return s.wrap(s.pointer.ClickAt(aimPoint(box, offset, s.pointer.rng)))
}

// seedCookies scopes the bearer token and every credential cookie to the
// remote domain.
func seedCookies(seed BrowserSeed, domain string) []playwright.OptionalCookie {
	cookie := func(name, value string) playwright.OptionalCookie {
		return playwright.OptionalCookie{
			Name:     name,
			Value:    value,
			Domain:   playwright.String(domain),
			Path:     playwright.String("/"),
			SameSite: playwright.SameSiteAttributeLax,
		}
	}

	cookies := []playwright.OptionalCookie{cookie(sessionCookie, seed.BearerToken)}
	for name, value := range seed.Cookies {
		if name == sessionCookie {
			continue
		}
		cookies = append(cookies, cookie(name, value))
	}
	return cookies
}

// playwrightProxy converts a proxy URL into the engine's proxy settings.
func playwrightProxy(raw string) (*playwright.Proxy, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid proxy url %q", raw)
	}
	proxy := &playwright.Proxy{Server: u.Scheme + "://" + u.Host}
	if u.User != nil {
		proxy.Username = playwright.String(u.User.Username())
		if password, ok := u.User.Password(); ok {
			proxy.Password = playwright.String(password)
		}
	}
	return proxy, nil
}
