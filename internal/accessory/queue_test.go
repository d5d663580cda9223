package accessory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueRunsInOrder(t *testing.T) {
	q := newQueue("test", 10, nil)

	var mu sync.Mutex
	var got []int
	for i := range 5 {
		require.True(t, q.push(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.run(ctx)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 5
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestQueueDropsWhenFull(t *testing.T) {
	logger := &recordingLogger{}
	q := newQueue("test", 1, logger)

	assert.True(t, q.push(func() {}))
	assert.False(t, q.push(func() {}))
	assert.Equal(t, uint64(1), q.dropped.Load())
	assert.Len(t, logger.Warnings(), 1)
}

func TestQueueRecoversPanics(t *testing.T) {
	logger := &recordingLogger{}
	q := newQueue("test", 0, logger)

	ran := false
	q.push(func() { panic("boom") })
	q.push(func() { ran = true })
	q.drain()

	assert.True(t, ran, "a panicking job does not stop later jobs")
	assert.Len(t, logger.Errors(), 1)
	assert.Equal(t, defaultQueueSize, cap(q.ch))
}
