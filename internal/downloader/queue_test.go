package downloader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistrationQueuePushDrain(t *testing.T) {
	q := NewRegistrationQueue(4)

	require.True(t, q.Push(VideoRegistration{Filename: "a.mp4"}))
	require.True(t, q.Push(VideoRegistration{Filename: "b.mp4"}))
	assert.Equal(t, 2, q.Len())

	out := q.Drain(0)
	require.Len(t, out, 2)
	assert.Equal(t, "a.mp4", out[0].Filename)
	assert.Equal(t, "b.mp4", out[1].Filename)
	assert.Equal(t, 0, q.Len())

	assert.Empty(t, q.Drain(0))
}

func TestRegistrationQueueBounded(t *testing.T) {
	q := NewRegistrationQueue(2)

	assert.True(t, q.Push(VideoRegistration{Filename: "a.mp4"}))
	assert.True(t, q.Push(VideoRegistration{Filename: "b.mp4"}))
	// Full queue drops instead of blocking the worker.
	assert.False(t, q.Push(VideoRegistration{Filename: "c.mp4"}))

	out := q.Drain(1)
	require.Len(t, out, 1)
	assert.Equal(t, "a.mp4", out[0].Filename)
}

func TestNameHandoffAddTake(t *testing.T) {
	h := &NameHandoff{}

	h.Add("alpha", "beta")
	h.Add("beta", "gamma")
	assert.Equal(t, 3, h.Len())

	names := h.Take()
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, names)
	assert.Empty(t, h.Take())
	assert.Equal(t, 0, h.Len())
}
