package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

// InterceptedRequest is the generation submission the browser tried to send.
// The subscriber decides when to abort it.
type InterceptedRequest struct {
	URL     string
	Headers map[string]string
	Body    []byte

	abort func() error
}

// Abort stops the request from ever reaching the remote server.
func (r *InterceptedRequest) Abort() error {
	if r.abort == nil {
		return nil
	}
	return r.abort()
}

func (r *InterceptedRequest) header(name string) string {
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// ChallengeResult is what a solved challenge leaves behind.
type ChallengeResult struct {
	Token       string
	BearerToken string
}

// extractChallengeTokens reads the bearer token from the Authorization header
// and the bypass token from the JSON body.
func extractChallengeTokens(r *InterceptedRequest) (*ChallengeResult, error) {
	token := gjson.GetBytes(r.Body, "token").String()
	if token == "" {
		return nil, errors.New("intercepted request carries no challenge token")
	}
	bearer := strings.TrimSpace(r.header("Authorization"))
	if i := strings.LastIndex(bearer, "Bearer "); i >= 0 {
		bearer = bearer[i+len("Bearer "):]
	}
	return &ChallengeResult{Token: token, BearerToken: bearer}, nil
}

// loopStopGrace bounds how long a stopped solver loop may keep the browser open.
const loopStopGrace = 2 * time.Second

// ChallengeTimeouts bounds the waits of the solver loop.
type ChallengeTimeouts struct {
	Wait  time.Duration
	Drain time.Duration
}

// ChallengeResolver drives one browser through the challenge: the solver loop
// and the interception race, and the first intercepted submission wins.
type ChallengeResolver struct {
	launcher BrowserLauncher
	solver   CoordinateSolver
	locale   string
	timeouts ChallengeTimeouts
	logger   Logger
}

func NewChallengeResolver(launcher BrowserLauncher, solver CoordinateSolver, locale string, timeouts ChallengeTimeouts, logger Logger) *ChallengeResolver {
	return &ChallengeResolver{
		launcher: launcher,
		solver:   solver,
		locale:   locale,
		timeouts: timeouts,
		logger:   logger,
	}
}

// Resolve launches a browser, triggers the challenge and returns the bypass
// token. The browser is closed exactly once on every path.
func (r *ChallengeResolver) Resolve(ctx context.Context, seed BrowserSeed) (*ChallengeResult, error) {
	if r.solver == nil {
		return nil, errors.New("a challenge is required but no solver is configured")
	}

	r.logger.Log("Challenge required. Launching browser...")
	session, err := r.launcher.Launch(ctx, seed)
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	var closeOnce sync.Once
	closeBrowser := func() {
		closeOnce.Do(func() {
			if err := session.Close(); err != nil {
				r.logger.Log("Closing browser: %v", err)
			}
		})
	}
	defer closeBrowser()

	if err := session.NavigateToChallengeSurface(ctx); err != nil {
		return nil, err
	}
	if err := session.TriggerChallenge(ctx); err != nil {
		// A stale trigger is picked up again by the loop's wait timeout.
		if !errors.Is(err, ErrChallengeExpired) {
			return nil, err
		}
		r.logger.Log("Trigger did not settle, the solver loop will retry: %v", err)
	}

	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()

	loopDone := make(chan error, 1)
	go func() {
		loopDone <- r.runSolverLoop(loopCtx, session)
	}()

	accept := func(req *InterceptedRequest, loopRunning bool) (*ChallengeResult, error) {
		r.logger.Log("Challenge token received. Closing browser")
		stopLoop()
		if err := req.Abort(); err != nil {
			r.logger.Log("Aborting intercepted request: %v", err)
		}
		if loopRunning {
			// Let an in-flight click or submit finish before the browser goes.
			// Anything the loop reports now comes after the result and is dropped.
			select {
			case err := <-loopDone:
				if err != nil {
					r.logger.Log("Solver loop ended after the token was received: %v", err)
				}
			case <-time.After(loopStopGrace):
				r.logger.Log("Solver loop still busy after %v, closing the browser under it", loopStopGrace)
			}
		}
		closeBrowser()
		return extractChallengeTokens(req)
	}

	select {
	case req := <-session.Intercepted():
		return accept(req, true)
	case err := <-loopDone:
		// An interception that landed together with the loop's exit still wins.
		select {
		case req := <-session.Intercepted():
			return accept(req, false)
		default:
		}
		if err != nil {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w before a challenge token was intercepted", ErrBrowserClosed)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
