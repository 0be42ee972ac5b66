package configcache

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	scouterrors "github.com/adalundhe/scout/core/errors"
	"github.com/adalundhe/scout/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test helpers
// =============================================================================

type fakeSource struct {
	mu            sync.Mutex
	configCalls   int
	failConfigFor int
	config        *model.Configuration

	bundleCalls int
	bundleErr   error
	bundles     []string
}

func (s *fakeSource) FetchConfig(context.Context) (*model.Configuration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configCalls++
	if s.configCalls <= s.failConfigFor {
		return nil, errors.New("connection refused")
	}
	return s.config, nil
}

func (s *fakeSource) FetchBundleExtensions(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bundleCalls++
	if s.bundleErr != nil {
		return nil, s.bundleErr
	}
	return s.bundles, nil
}

func (s *fakeSource) calls() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configCalls, s.bundleCalls
}

func sampleConfig() *model.Configuration {
	return model.NewConfiguration(&model.Configuration{
		MonitoredFolders: []model.MonitoredDirectory{
			{Path: "/docs", AuthStatus: model.AuthAuthorized},
			{Path: "/downloads", AuthStatus: model.AuthPending},
			{Path: "/docs/secret", IsBlacklist: true},
		},
	})
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// =============================================================================
// Fetch / WaitReady
// =============================================================================

func TestCache_GetBeforeFetchIsNil(t *testing.T) {
	t.Parallel()

	c := New(&fakeSource{config: sampleConfig()}, Options{})
	assert.Nil(t, c.Get())
	assert.False(t, c.Ready())
	assert.Empty(t, c.WatchSet())
}

func TestCache_FetchDerivesSets(t *testing.T) {
	t.Parallel()

	c := New(&fakeSource{config: sampleConfig()}, Options{})
	cfg, err := c.Fetch(context.Background())
	require.NoError(t, err)

	assert.Same(t, cfg, c.Get())
	assert.Equal(t, []string{"/docs"}, c.WatchSet())
	assert.Equal(t, []string{"/docs/secret"}, c.Blacklist())
}

func TestCache_FailedFetchKeepsLastGood(t *testing.T) {
	t.Parallel()

	src := &fakeSource{config: sampleConfig()}
	c := New(src, Options{})
	first, err := c.Fetch(context.Background())
	require.NoError(t, err)

	src.mu.Lock()
	src.failConfigFor = 100
	src.mu.Unlock()

	_, err = c.Fetch(context.Background())
	require.Error(t, err)
	assert.Same(t, first, c.Get())
}

func TestCache_WaitReadySucceedsOnThirtiethAttempt(t *testing.T) {
	t.Parallel()

	src := &fakeSource{config: sampleConfig(), failConfigFor: 29}
	c := New(src, Options{})

	var watchSetAtFirstChange []string
	var callsAtFirstChange int
	c.OnChange(func(old, current *model.Configuration) {
		if old == nil {
			callsAtFirstChange = src.configCalls
			watchSetAtFirstChange = current.WatchSet()
		}
	})

	cfg, err := c.WaitReady(context.Background(), 30, time.Millisecond)
	require.NoError(t, err)

	calls, _ := src.calls()
	assert.Equal(t, 30, calls)
	assert.Equal(t, 30, callsAtFirstChange)
	assert.Equal(t, []string{"/docs"}, watchSetAtFirstChange)
	assert.Same(t, cfg, c.Get())
}

func TestCache_WaitReadyExhaustedIsConfigUnavailable(t *testing.T) {
	t.Parallel()

	src := &fakeSource{failConfigFor: 1000}
	c := New(src, Options{})

	var changes atomic.Int32
	c.OnChange(func(_, _ *model.Configuration) { changes.Add(1) })

	_, err := c.WaitReady(context.Background(), 5, time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, scouterrors.ErrConfigUnavailable)
	assert.True(t, scouterrors.IsFatal(err))
	assert.Zero(t, changes.Load())
	assert.Nil(t, c.Get())
}

func TestCache_RunRefreshPicksUpChanges(t *testing.T) {
	t.Parallel()

	src := &fakeSource{config: sampleConfig()}
	c := New(src, Options{})
	_, err := c.Fetch(context.Background())
	require.NoError(t, err)

	updated := model.NewConfiguration(&model.Configuration{
		MonitoredFolders: []model.MonitoredDirectory{{Path: "/music", AuthStatus: model.AuthAuthorized}},
	})
	src.mu.Lock()
	src.config = updated
	src.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.RunRefresh(ctx, 5*time.Millisecond) }()

	require.Eventually(t, func() bool {
		return c.Get() == updated
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"/music"}, c.WatchSet())
}

// =============================================================================
// Bundle extensions
// =============================================================================

func TestCache_BundleExtensionsCachedWithinTTL(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	src := &fakeSource{bundles: []string{"app", ".Bundle"}}
	c := New(src, Options{Now: clock.Now, BundleTTL: time.Hour})

	first := c.BundleExtensions(context.Background())
	clock.Advance(30 * time.Minute)
	second := c.BundleExtensions(context.Background())

	assert.Equal(t, []string{".app", ".bundle"}, first)
	assert.Equal(t, first, second)
	_, bundleCalls := src.calls()
	assert.Equal(t, 1, bundleCalls)
}

func TestCache_BundleExtensionsExpiredAndRefreshFailsReturnsFallback(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	src := &fakeSource{bundles: []string{".custombundle"}}
	c := New(src, Options{Now: clock.Now, BundleTTL: time.Hour})

	require.Equal(t, []string{".custombundle"}, c.BundleExtensions(context.Background()))

	clock.Advance(time.Hour + time.Second)
	src.mu.Lock()
	src.bundleErr = errors.New("service down")
	src.mu.Unlock()

	got := c.BundleExtensions(context.Background())
	assert.NotEmpty(t, got)
	assert.Equal(t, FallbackBundleExtensions, got)
	assert.EqualValues(t, 2, c.BundleRefreshes())
}

func TestCache_BundleExtensionsFailureIsRememberedForRetryWindow(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	src := &fakeSource{bundleErr: errors.New("service down")}
	c := New(src, Options{
		Now:         clock.Now,
		BundleRetry: time.Minute,
		Logger:      slog.New(slog.NewJSONHandler(&logs, nil)),
	})

	for i := 0; i < 1000; i++ {
		require.Equal(t, FallbackBundleExtensions, c.BundleExtensions(context.Background()))
	}
	_, bundleCalls := src.calls()
	assert.Equal(t, 1, bundleCalls)
	assert.EqualValues(t, 1, c.BundleRefreshes())
	assert.Equal(t, 1, strings.Count(logs.String(), "bundle extension refresh failed"))

	clock.Advance(time.Minute)
	src.mu.Lock()
	src.bundleErr = nil
	src.bundles = []string{".logicx"}
	src.mu.Unlock()

	assert.Equal(t, []string{".logicx"}, c.BundleExtensions(context.Background()))
	assert.EqualValues(t, 2, c.BundleRefreshes())
}

func TestCache_BundleExtensionsEmptyReplyIsRememberedForRetryWindow(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	src := &fakeSource{bundles: nil}
	c := New(src, Options{Now: clock.Now})

	for i := 0; i < 10; i++ {
		c.BundleExtensions(context.Background())
	}
	assert.EqualValues(t, 1, c.BundleRefreshes())

	clock.Advance(DefaultBundleRetry + time.Second)
	c.BundleExtensions(context.Background())
	assert.EqualValues(t, 2, c.BundleRefreshes())
}

func TestCache_ConfigClearsBundleRetryWindow(t *testing.T) {
	t.Parallel()

	cfg := sampleConfig()
	cfg.BundleExtensions = []string{".app"}
	src := &fakeSource{config: cfg, bundleErr: errors.New("down")}
	c := New(src, Options{})

	require.Equal(t, FallbackBundleExtensions, c.BundleExtensions(context.Background()))

	_, err := c.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{".app"}, c.BundleExtensions(context.Background()))
}

func TestCache_BundleExtensionsEmptyReplyReturnsFallback(t *testing.T) {
	t.Parallel()

	c := New(&fakeSource{bundles: nil}, Options{})
	assert.Equal(t, FallbackBundleExtensions, c.BundleExtensions(context.Background()))
}

func TestCache_ConfigPrimesBundleCache(t *testing.T) {
	t.Parallel()

	cfg := sampleConfig()
	cfg.BundleExtensions = []string{".app", ".logicx"}
	src := &fakeSource{config: cfg, bundleErr: errors.New("unused")}
	c := New(src, Options{})

	_, err := c.Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{".app", ".logicx"}, c.BundleExtensions(context.Background()))
	_, bundleCalls := src.calls()
	assert.Zero(t, bundleCalls)
}

func TestCache_FallbackIsNotAliased(t *testing.T) {
	t.Parallel()

	c := New(&fakeSource{bundleErr: errors.New("down")}, Options{})
	got := c.BundleExtensions(context.Background())
	got[0] = ".mutated"

	assert.Equal(t, ".app", FallbackBundleExtensions[0])
}
