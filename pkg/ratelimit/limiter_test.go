package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSlidingWindow(t *testing.T) {
	sw := NewSlidingWindow(3, 200*time.Millisecond)

	for i := 0; i < 3; i++ {
		assert.True(t, sw.allow(), "request %d should be allowed", i+1)
	}
	assert.False(t, sw.allow())

	time.Sleep(250 * time.Millisecond)
	assert.True(t, sw.allow(), "window should slide")

	sw.Reset()
	assert.Empty(t, sw.requests)
}

func TestWaitHonoursContext(t *testing.T) {
	sw := NewSlidingWindow(1, time.Hour)
	assert.True(t, sw.allow())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sw.Wait(ctx), context.DeadlineExceeded)
}

func TestWaitReturnsWhenSlotFrees(t *testing.T) {
	sw := NewSlidingWindow(1, 50*time.Millisecond)
	assert.True(t, sw.allow())

	start := time.Now()
	assert.NoError(t, sw.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestNew(t *testing.T) {
	assert.IsType(t, Unlimited{}, New(0))
	assert.IsType(t, &SlidingWindow{}, New(30))

	assert.NoError(t, Unlimited{}.Wait(context.Background()))
}
