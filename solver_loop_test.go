package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSolverLoopStopsOnBrowserClosed(t *testing.T) {
	session := newFakeSession()
	require.NoError(t, session.Close())
	r, _ := newTestResolver(nil, &fakeSolver{})

	assert.NoError(t, r.runSolverLoop(context.Background(), session))
}

func TestSolverLoopStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r, _ := newTestResolver(nil, &fakeSolver{})

	assert.NoError(t, r.runSolverLoop(ctx, newFakeSession()))
}

func TestSolverLoopRetriggerFailure(t *testing.T) {
	session := newFakeSession(ErrChallengeExpired)
	session.retriggerErr = errors.New("element is not attached to the DOM")
	r, _ := newTestResolver(nil, &fakeSolver{})

	err := r.runSolverLoop(context.Background(), session)
	assert.EqualError(t, err, "element is not attached to the DOM")
}

func TestSolverLoopRetriggerAgainWhenStillExpired(t *testing.T) {
	session := newFakeSession(ErrChallengeExpired, ErrChallengeExpired)
	session.retriggerErr = ErrChallengeExpired
	r, _ := newTestResolver(nil, &fakeSolver{})

	// Once the scripted waits run out the loop idles until the deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	assert.NoError(t, r.runSolverLoop(ctx, session))
	_, _, retriggers, _ := session.stats()
	assert.Equal(t, 2, retriggers)
}

func TestSolveEncodesSnapshot(t *testing.T) {
	solver := &fakeSolver{points: []Point{{X: 1, Y: 2}}}
	r, _ := newTestResolver(nil, solver)

	points, err := r.solve(context.Background(), nil)
	// An empty snapshot encodes to an empty string, which the fake rejects.
	var solverErr *SolverError
	require.True(t, errors.As(err, &solverErr))
	assert.Nil(t, points)

	points, err = r.solve(context.Background(), []byte{0x89, 'P', 'N', 'G'})
	require.NoError(t, err)
	assert.Equal(t, []Point{{X: 1, Y: 2}}, points)
}
