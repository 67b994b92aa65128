package platform

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeAdapter records update calls and optionally fails them.
type fakeAdapter struct {
	name      string
	err       error
	liveErr   error
	live      bool
	titles    []string
	categorys []string
	liveCalls int
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) UpdateTitle(_ context.Context, title string) error {
	f.titles = append(f.titles, title)
	return f.err
}

func (f *fakeAdapter) UpdateCategory(_ context.Context, category string) error {
	f.categorys = append(f.categorys, category)
	return f.err
}

func (f *fakeAdapter) UpdateStreamInfo(_ context.Context, title, category string) error {
	f.titles = append(f.titles, title)
	f.categorys = append(f.categorys, category)
	return f.err
}

func (f *fakeAdapter) IsLive(_ context.Context) (bool, error) {
	f.liveCalls++
	return f.live, f.liveErr
}

func TestManagerFansOutToAllAdapters(t *testing.T) {
	good := &fakeAdapter{name: "twitch"}
	bad := &fakeAdapter{name: "kick", err: errors.New("api down")}

	m := NewManager(testLogger(), good, bad)
	results := m.UpdateStreamInfo(context.Background(), "24/7 rotation", "Just Chatting")

	assert.Equal(t, map[string]bool{"twitch": true, "kick": false}, results)
	assert.Equal(t, []string{"24/7 rotation"}, good.titles)
	assert.Equal(t, []string{"Just Chatting"}, good.categorys)
	// The failing adapter was still attempted.
	assert.Equal(t, []string{"24/7 rotation"}, bad.titles)
}

func TestManagerEmptyAdapterSet(t *testing.T) {
	m := NewManager(testLogger())
	results := m.UpdateStreamInfo(context.Background(), "title", "cat")
	assert.Empty(t, results)
	assert.Empty(t, m.Names())
}

func TestManagerLiveCheckers(t *testing.T) {
	a := &fakeAdapter{name: "twitch"}
	b := &fakeAdapter{name: "kick"}
	m := NewManager(testLogger(), a, b)

	checkers := m.LiveCheckers()
	require.Len(t, checkers, 2)
	assert.Equal(t, "twitch", checkers[0].Name())
}

func TestStreamerWatchRespectsCadence(t *testing.T) {
	checker := &fakeAdapter{name: "twitch", live: false}
	w := NewStreamerWatch(30*time.Second, testLogger(), checker)

	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	live, changed := w.Poll(context.Background(), now)
	assert.False(t, live)
	assert.False(t, changed)
	assert.Equal(t, 1, checker.liveCalls)

	// Within the interval: served from cache.
	live, changed = w.Poll(context.Background(), now.Add(10*time.Second))
	assert.False(t, live)
	assert.False(t, changed)
	assert.Equal(t, 1, checker.liveCalls)

	// Interval elapsed and the streamer went live.
	checker.live = true
	live, changed = w.Poll(context.Background(), now.Add(31*time.Second))
	assert.True(t, live)
	assert.True(t, changed)
	assert.Equal(t, 2, checker.liveCalls)
	assert.True(t, w.Live())
}

func TestStreamerWatchKeepsVerdictWhenAllCheckersFail(t *testing.T) {
	checker := &fakeAdapter{name: "twitch", live: true}
	w := NewStreamerWatch(time.Second, testLogger(), checker)

	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	live, changed := w.Poll(context.Background(), now)
	require.True(t, live)
	require.True(t, changed)

	// Platform API outage must not flip the verdict to offline.
	checker.liveErr = errors.New("503")
	live, changed = w.Poll(context.Background(), now.Add(2*time.Second))
	assert.True(t, live)
	assert.False(t, changed)
}

func TestStreamerWatchAnyLiveWins(t *testing.T) {
	offline := &fakeAdapter{name: "twitch", live: false}
	online := &fakeAdapter{name: "kick", live: true}
	w := NewStreamerWatch(time.Second, testLogger(), offline, online)

	live, changed := w.Poll(context.Background(), time.Now())
	assert.True(t, live)
	assert.True(t, changed)
}

func TestStreamerWatchWithoutCheckers(t *testing.T) {
	w := NewStreamerWatch(time.Second, testLogger())
	assert.False(t, w.Enabled())

	live, changed := w.Poll(context.Background(), time.Now())
	assert.False(t, live)
	assert.False(t, changed)
}
