package crosstab_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/crosstab"
	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/metrics"
	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/models"
	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/session"
	"github.com/sixcolors/gofiber-react-session-csrf-example/pkg/logger"
)

type fakeChannel struct {
	mu         sync.Mutex
	published  []models.ActivityMarker
	publishErr error
	feed       chan models.ActivityMarker
	latest     *models.ActivityMarker
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{feed: make(chan models.ActivityMarker, 8)}
}

func (c *fakeChannel) Publish(_ context.Context, m models.ActivityMarker) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, m)
	return c.publishErr
}

func (c *fakeChannel) Subscribe(context.Context) (<-chan models.ActivityMarker, error) {
	return c.feed, nil
}

func (c *fakeChannel) Latest(context.Context) (models.ActivityMarker, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest == nil {
		return models.ActivityMarker{}, fmt.Errorf("fake: %w", crosstab.ErrNoMarker)
	}
	return *c.latest, nil
}

type recheckCounter struct{ calls atomic.Int32 }

func (r *recheckCounter) InvokeAsync(context.Context) { r.calls.Add(1) }

type fixture struct {
	sync    *crosstab.Synchronizer
	channel *fakeChannel
	store   *session.Store
	recheck *recheckCounter
	clock   *clockwork.FakeClock
	metrics *metrics.Metrics
}

func newSynchronizer(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		channel: newFakeChannel(),
		store:   session.NewStore(),
		recheck: &recheckCounter{},
		clock:   clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)),
		metrics: metrics.NewUnregistered(),
	}
	f.sync = crosstab.New(f.channel, f.store, f.recheck, f.clock, crosstab.Config{
		Origin:     "tab-a",
		LapseGrace: time.Second,
	}, f.metrics, logger.NewDiscard())
	t.Cleanup(f.sync.Stop)
	return f
}

func (f *fixture) login(timeout int) {
	f.store.SetAuthenticated(models.AuthStatus{LoggedIn: true, Username: "admin", SessionTimeout: &timeout})
}

func TestNew_GeneratesOrigin(t *testing.T) {
	a := crosstab.New(newFakeChannel(), session.NewStore(), &recheckCounter{}, nil, crosstab.Config{}, nil, logger.NewDiscard())
	b := crosstab.New(newFakeChannel(), session.NewStore(), &recheckCounter{}, nil, crosstab.Config{}, nil, logger.NewDiscard())

	assert.NotEmpty(t, a.Origin())
	assert.NotEqual(t, a.Origin(), b.Origin())
}

func TestSynchronizer_Record(t *testing.T) {
	f := newSynchronizer(t)
	now := f.clock.Now()

	f.sync.Record(context.Background(), now)

	snap := f.store.Snapshot()
	assert.Equal(t, uint64(1), snap.ActivityCounter)
	assert.Equal(t, now, snap.LastActivity)
	require.Len(t, f.channel.published, 1)
	assert.Equal(t, models.ActivityMarker{TimestampMillis: now.UnixMilli(), Origin: "tab-a"}, f.channel.published[0])
}

func TestSynchronizer_RecordSurvivesPublishFailure(t *testing.T) {
	f := newSynchronizer(t)
	f.channel.publishErr = errors.New("disk full")

	f.sync.Record(context.Background(), f.clock.Now())

	assert.Equal(t, uint64(1), f.store.Snapshot().ActivityCounter)
}

func TestSynchronizer_ApplyIgnoresOwnMarkers(t *testing.T) {
	f := newSynchronizer(t)
	f.login(3600)

	f.sync.Apply(models.NewActivityMarker(f.clock.Now(), "tab-a"))

	assert.Zero(t, f.store.Snapshot().ActivityCounter)
	assert.False(t, f.sync.LapseCheckPending())
}

func TestSynchronizer_ApplyIgnoredWhenNotTracking(t *testing.T) {
	f := newSynchronizer(t)

	f.sync.Apply(models.NewActivityMarker(f.clock.Now(), "tab-b"))
	f.login(0)
	f.sync.Apply(models.NewActivityMarker(f.clock.Now(), "tab-b"))

	assert.Zero(t, f.store.Snapshot().ActivityCounter)
	assert.False(t, f.sync.LapseCheckPending())
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.PeerMarkers.WithLabelValues(metrics.PeerIgnored)))
}

func TestSynchronizer_ApplyFreshPeerMarker(t *testing.T) {
	f := newSynchronizer(t)
	f.login(3600)

	markerTime := f.clock.Now().Add(-100 * time.Second)
	f.sync.Apply(models.NewActivityMarker(markerTime, "tab-b"))

	snap := f.store.Snapshot()
	assert.Equal(t, uint64(1), snap.ActivityCounter)
	assert.Equal(t, markerTime.UnixMilli(), snap.LastActivity.UnixMilli())
	assert.True(t, f.sync.LapseCheckPending())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PeerMarkers.WithLabelValues(metrics.PeerRearmed)))

	// remaining 3500s plus one second of grace
	f.clock.Advance(3501*time.Second - time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(0), f.recheck.calls.Load())

	f.clock.Advance(time.Millisecond)
	require.Eventually(t, func() bool { return f.recheck.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, f.sync.LapseCheckPending())
}

func TestSynchronizer_ApplyReplacesLapseCheck(t *testing.T) {
	f := newSynchronizer(t)
	f.login(100)

	f.sync.Apply(models.NewActivityMarker(f.clock.Now(), "tab-b"))
	f.clock.Advance(50 * time.Second)
	f.sync.Apply(models.NewActivityMarker(f.clock.Now(), "tab-b"))

	// the first check would have fired at 101s
	f.clock.Advance(60 * time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(0), f.recheck.calls.Load())

	f.clock.Advance(41 * time.Second)
	require.Eventually(t, func() bool { return f.recheck.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSynchronizer_ApplyExpiredPeerMarker(t *testing.T) {
	f := newSynchronizer(t)
	f.login(60)

	f.sync.Apply(models.NewActivityMarker(f.clock.Now().Add(-60*time.Second), "tab-b"))

	assert.Zero(t, f.store.Snapshot().ActivityCounter)
	assert.False(t, f.sync.LapseCheckPending())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PeerMarkers.WithLabelValues(metrics.PeerExpired)))
}

func TestSynchronizer_LogoutCancelsLapseCheck(t *testing.T) {
	f := newSynchronizer(t)
	cancel := f.store.Subscribe(f.sync.Observe)
	defer cancel()
	f.login(60)

	f.sync.Apply(models.NewActivityMarker(f.clock.Now(), "tab-b"))
	require.True(t, f.sync.LapseCheckPending())

	f.store.Reset()
	assert.False(t, f.sync.LapseCheckPending())

	f.clock.Advance(2 * time.Minute)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(0), f.recheck.calls.Load())
}

func TestSynchronizer_Run(t *testing.T) {
	f := newSynchronizer(t)
	f.login(3600)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.sync.Run(ctx) }()

	f.channel.feed <- models.NewActivityMarker(f.clock.Now(), "tab-a")
	f.channel.feed <- models.NewActivityMarker(f.clock.Now(), "tab-b")

	require.Eventually(t, func() bool { return f.store.Snapshot().ActivityCounter == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

func TestSynchronizer_RunStopsWhenChannelCloses(t *testing.T) {
	f := newSynchronizer(t)
	close(f.channel.feed)

	assert.NoError(t, f.sync.Run(context.Background()))
}

func TestSynchronizer_CatchUp(t *testing.T) {
	f := newSynchronizer(t)
	f.login(3600)

	require.NoError(t, f.sync.CatchUp(context.Background()), "no marker yet is not an error")
	assert.Zero(t, f.store.Snapshot().ActivityCounter)

	marker := models.NewActivityMarker(f.clock.Now().Add(-time.Minute), "tab-b")
	f.channel.latest = &marker
	require.NoError(t, f.sync.CatchUp(context.Background()))
	assert.Equal(t, uint64(1), f.store.Snapshot().ActivityCounter)
}
