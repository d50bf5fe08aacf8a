package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingFactory struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
}

func (f *countingFactory) build(ctx context.Context, cookie string) (*SunoClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[cookie]++
	if f.err != nil {
		return nil, f.err
	}
	creds, err := ParseCredentials(cookie)
	if err != nil {
		return nil, err
	}
	return NewSunoClient(testConfig(), creds, ClientDeps{}), nil
}

func (f *countingFactory) count(cookie string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[cookie]
}

func TestRegistryReusesClients(t *testing.T) {
	factory := &countingFactory{}
	r := NewRegistry(factory.build)
	ctx := context.Background()

	a, err := r.Get(ctx, "__client=a")
	require.NoError(t, err)
	again, err := r.Get(ctx, "  __client=a ")
	require.NoError(t, err)
	b, err := r.Get(ctx, "__client=b")
	require.NoError(t, err)

	assert.Same(t, a, again)
	assert.NotSame(t, a, b)
	assert.Equal(t, 1, factory.count("__client=a"))
	assert.Equal(t, 2, r.Len())
}

func TestRegistryEmptyCookie(t *testing.T) {
	factory := &countingFactory{}
	r := NewRegistry(factory.build)

	_, err := r.Get(context.Background(), " ")
	assert.ErrorIs(t, err, ErrNoCookie)
	assert.Equal(t, 0, r.Len())
}

func TestRegistryDoesNotCacheFailures(t *testing.T) {
	factory := &countingFactory{err: errors.New("bootstrap failed")}
	r := NewRegistry(factory.build)
	ctx := context.Background()

	_, err := r.Get(ctx, "__client=a")
	require.Error(t, err)

	factory.mu.Lock()
	factory.err = nil
	factory.mu.Unlock()

	_, err = r.Get(ctx, "__client=a")
	require.NoError(t, err)
	assert.Equal(t, 2, factory.count("__client=a"))
	assert.Equal(t, 1, r.Len())
}

func TestRegistryTTL(t *testing.T) {
	clock := newFakeClock()
	factory := &countingFactory{}
	r := NewRegistry(factory.build, WithTTL(time.Hour), WithClock(clock.Now))
	ctx := context.Background()

	first, err := r.Get(ctx, "__client=a")
	require.NoError(t, err)

	clock.Advance(59 * time.Minute)
	same, err := r.Get(ctx, "__client=a")
	require.NoError(t, err)
	assert.Same(t, first, same)

	clock.Advance(time.Minute)
	fresh, err := r.Get(ctx, "__client=a")
	require.NoError(t, err)
	assert.NotSame(t, first, fresh)
	assert.Equal(t, 2, factory.count("__client=a"))
}

func TestRegistryWithoutTTLNeverEvicts(t *testing.T) {
	clock := newFakeClock()
	factory := &countingFactory{}
	r := NewRegistry(factory.build, WithClock(clock.Now))
	ctx := context.Background()

	first, err := r.Get(ctx, "__client=a")
	require.NoError(t, err)
	clock.Advance(24 * 365 * time.Hour)
	again, err := r.Get(ctx, "__client=a")
	require.NoError(t, err)
	assert.Same(t, first, again)
}

func TestRegistryConcurrentFirstUse(t *testing.T) {
	factory := &countingFactory{}
	r := NewRegistry(factory.build)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Get(context.Background(), "__client=a")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Duplicate bootstraps are allowed; exactly one client stays cached.
	assert.GreaterOrEqual(t, factory.count("__client=a"), 1)
	assert.Equal(t, 1, r.Len())
}
