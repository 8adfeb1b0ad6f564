package alert_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/alert"
	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/models"
	"github.com/sixcolors/gofiber-react-session-csrf-example/pkg/logger"
)

const (
	waitFor = 2 * time.Second
	poll    = 5 * time.Millisecond
)

type invokeCounter struct{ calls atomic.Int32 }

func (i *invokeCounter) Invoke(context.Context) error {
	i.calls.Add(1)
	return nil
}

func newAlert(t *testing.T) (*alert.Alert, *clockwork.FakeClock, *invokeCounter, *atomic.Int32) {
	t.Helper()

	clock := clockwork.NewFakeClock()
	extend := &invokeCounter{}
	var logouts atomic.Int32
	a := alert.New(clock, 60*time.Second, extend, func(context.Context) error {
		logouts.Add(1)
		return nil
	}, logger.NewDiscard())
	t.Cleanup(a.Stop)
	return a, clock, extend, &logouts
}

func secondsRemaining(a *alert.Alert, want int) func() bool {
	return func() bool { return a.State().SecondsRemaining == want }
}

func TestAlert_ShowClampsToThreshold(t *testing.T) {
	a, _, _, _ := newAlert(t)

	a.Show(600)
	assert.Equal(t, models.AlertState{Visible: true, SecondsRemaining: 60}, a.State())

	a.Show(-5)
	assert.Equal(t, models.AlertState{}, a.State())
}

func TestAlert_CountdownHidesWithoutLogout(t *testing.T) {
	a, clock, extend, logouts := newAlert(t)

	a.Show(3)
	assert.Equal(t, 3, a.State().SecondsRemaining)

	clock.Advance(time.Second)
	require.Eventually(t, secondsRemaining(a, 2), waitFor, poll)

	clock.Advance(time.Second)
	require.Eventually(t, secondsRemaining(a, 1), waitFor, poll)

	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return !a.State().Visible }, waitFor, poll)

	assert.Equal(t, 0, a.State().SecondsRemaining)
	assert.Equal(t, int32(0), logouts.Load(), "reaching zero must not log out")
	assert.Equal(t, int32(0), extend.calls.Load())
}

func TestAlert_ShowRestartsCountdown(t *testing.T) {
	a, clock, _, _ := newAlert(t)

	a.Show(5)
	clock.Advance(time.Second)
	require.Eventually(t, secondsRemaining(a, 4), waitFor, poll)

	a.Show(10)
	assert.Equal(t, 10, a.State().SecondsRemaining)

	clock.Advance(time.Second)
	require.Eventually(t, secondsRemaining(a, 9), waitFor, poll)
}

func TestAlert_HideStopsCountdown(t *testing.T) {
	a, clock, _, _ := newAlert(t)
	var changes atomic.Int32
	a.OnChange(func(models.AlertState) { changes.Add(1) })

	a.Show(5)
	a.Hide()
	a.Hide()

	clock.Advance(3 * time.Second)
	// give a stale callback the chance to run if it had escaped cancellation
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, models.AlertState{}, a.State())
	assert.Equal(t, int32(2), changes.Load(), "show then one hide; the second hide is a no-op")
}

func TestAlert_Extend(t *testing.T) {
	a, _, extend, logouts := newAlert(t)

	a.Show(30)
	require.NoError(t, a.Extend(context.Background()))

	assert.False(t, a.State().Visible)
	assert.Equal(t, int32(1), extend.calls.Load())
	assert.Equal(t, int32(0), logouts.Load())
}

func TestAlert_Logout(t *testing.T) {
	a, _, extend, logouts := newAlert(t)

	a.Show(30)
	require.NoError(t, a.Logout(context.Background()))

	assert.False(t, a.State().Visible)
	assert.Equal(t, int32(1), logouts.Load())
	assert.Equal(t, int32(0), extend.calls.Load())
}

func TestAlert_DismissOutside(t *testing.T) {
	a, _, extend, logouts := newAlert(t)

	a.Show(30)
	a.DismissOutside()

	assert.False(t, a.State().Visible)
	assert.Equal(t, int32(0), logouts.Load())
	assert.Equal(t, int32(0), extend.calls.Load())
}

func TestAlert_OnChangeReportsTransitions(t *testing.T) {
	a, clock, _, _ := newAlert(t)

	var (
		mu     sync.Mutex
		states []models.AlertState
	)
	cancel := a.OnChange(func(s models.AlertState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	a.Show(2)
	clock.Advance(time.Second)
	require.Eventually(t, secondsRemaining(a, 1), waitFor, poll)
	clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) == 3
	}, waitFor, poll)

	cancel()
	a.Show(5)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []models.AlertState{
		{Visible: true, SecondsRemaining: 2},
		{Visible: true, SecondsRemaining: 1},
		{},
	}, states)
}
