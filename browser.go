package main

import (
	"context"
	"net/url"
	"strings"
	"time"
)

// Point is a coordinate relative to the challenge region (or the page).
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// BrowserSeed is everything a fresh browsing context starts with.
type BrowserSeed struct {
	BearerToken string
	Cookies     map[string]string
	UserAgent   string
	Proxy       string
}

// BrowserLauncher starts a browser context seeded with the client's session.
type BrowserLauncher interface {
	Launch(ctx context.Context, seed BrowserSeed) (ChallengeSession, error)
}

// ChallengeSession is one live browser context driving the challenge surface.
// Implementations report a closed browser as ErrBrowserClosed and a stale
// challenge surface as ErrChallengeExpired.
type ChallengeSession interface {
	// NavigateToChallengeSurface opens the page that can raise the challenge
	// and waits for it to become interactive (ErrNavigationTimeout otherwise).
	NavigateToChallengeSurface(ctx context.Context) error

	// TriggerChallenge dismisses overlays, types filler text and presses Create.
	TriggerChallenge(ctx context.Context) error

	// Retrigger presses Create again after the challenge surface expired.
	Retrigger(ctx context.Context) error

	// WaitForChallengeImage blocks until a challenge image starts loading.
	// It returns ErrChallengeExpired when none arrives within timeout.
	WaitForChallengeImage(ctx context.Context, timeout time.Duration) error

	ChallengePrompt(ctx context.Context) (string, error)
	ChallengeSnapshot(ctx context.Context) ([]byte, error)
	ClickChallenge(ctx context.Context, p Point) error
	SubmitChallenge(ctx context.Context) error

	// Intercepted yields the generation-submission request the page tried to
	// send. It fires at most once per session.
	Intercepted() <-chan *InterceptedRequest

	Close() error
}

// generationRoutePattern matches the submission endpoint inside the browser.
const generationRoutePattern = "**/api/generate/v2/**"

// isChallengeImageURL matches https://img*.hcaptcha.com/... assets.
func isChallengeImageURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" {
		return false
	}
	host := u.Hostname()
	return strings.HasPrefix(host, "img") && strings.HasSuffix(host, ".hcaptcha.com")
}
