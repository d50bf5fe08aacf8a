package main

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
)

const maxSolveAttempts = 3

// runSolverLoop keeps answering challenges until ctx is cancelled (the token
// was intercepted), the browser is closed, or a fatal error occurs. A nil
// return means the loop was stopped, not that it failed.
func (r *ChallengeResolver) runSolverLoop(ctx context.Context, session ChallengeSession) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		err := r.solveOnce(ctx, session)
		switch {
		case err == nil:
			continue
		case ctx.Err() != nil, errors.Is(err, ErrBrowserClosed):
			return nil
		case errors.Is(err, ErrChallengeExpired):
			r.logger.Log("Challenge surface expired (%v), triggering it again", err)
			if err := session.Retrigger(ctx); err != nil {
				if ctx.Err() != nil || errors.Is(err, ErrBrowserClosed) {
					return nil
				}
				if !errors.Is(err, ErrChallengeExpired) {
					return err
				}
			}
		default:
			return err
		}
	}
}

// solveOnce walks one challenge through wait, drain, classify, solve and replay.
func (r *ChallengeResolver) solveOnce(ctx context.Context, session ChallengeSession) error {
	if err := session.WaitForChallengeImage(ctx, r.timeouts.Wait); err != nil {
		return err
	}
	for {
		err := session.WaitForChallengeImage(ctx, r.timeouts.Drain)
		if errors.Is(err, ErrChallengeExpired) {
			break
		}
		if err != nil {
			return err
		}
	}

	prompt, err := session.ChallengePrompt(ctx)
	if err != nil {
		return err
	}
	if strings.Contains(strings.ToLower(prompt), "drag") {
		r.logger.Log("Got a dragging challenge. This type is not supported, skipping...")
		return session.SubmitChallenge(ctx)
	}

	snapshot, err := session.ChallengeSnapshot(ctx)
	if err != nil {
		return err
	}
	points, err := r.solve(ctx, snapshot)
	if err != nil {
		return err
	}

	for _, p := range points {
		r.logger.Log("Clicking challenge at (%.0f, %.0f)", p.X, p.Y)
		if err := session.ClickChallenge(ctx, p); err != nil {
			return err
		}
	}
	return session.SubmitChallenge(ctx)
}

// solve asks the solver for click coordinates, retrying transient failures.
func (r *ChallengeResolver) solve(ctx context.Context, snapshot []byte) ([]Point, error) {
	image := base64.StdEncoding.EncodeToString(snapshot)

	var lastErr error
	attempt := 0
	for attempt < maxSolveAttempts {
		attempt++
		r.logger.Log("Sending the challenge to the solver (attempt %d/%d)", attempt, maxSolveAttempts)
		points, err := r.solver.Coordinates(ctx, image, r.locale)
		if err == nil {
			return points, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if IsFatalError(err) {
			break
		}
		r.logger.Log("Solver error: %v", err)
		if attempt < maxSolveAttempts {
			r.logger.Log("Retrying...")
		}
	}
	return nil, &SolverError{Attempts: attempt, Err: lastErr}
}
