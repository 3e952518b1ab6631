package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryQueue_PriorityThenFIFO(t *testing.T) {
	q := NewInMemoryQueue(0)
	require.NoError(t, q.Push(&Task{ID: "low-1", Priority: 0}))
	require.NoError(t, q.Push(&Task{ID: "high", Priority: 5}))
	require.NoError(t, q.Push(&Task{ID: "low-2", Priority: 0}))

	var order []string
	for q.Size() > 0 {
		task, err := q.Pop(context.Background())
		require.NoError(t, err)
		order = append(order, task.ID)
	}
	assert.Equal(t, []string{"high", "low-1", "low-2"}, order)
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue(1)
	require.NoError(t, q.Push(&Task{ID: "a"}))
	assert.ErrorIs(t, q.Push(&Task{ID: "b"}), ErrQueueFull)
}

func TestInMemoryQueue_PopBlocksUntilPush(t *testing.T) {
	q := NewInMemoryQueue(0)

	got := make(chan *Task)
	go func() {
		task, err := q.Pop(context.Background())
		assert.NoError(t, err)
		got <- task
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Push(&Task{ID: "late"}))

	select {
	case task := <-got:
		assert.Equal(t, "late", task.ID)
		assert.False(t, task.CreatedAt.IsZero())
	case <-time.After(time.Second):
		t.Fatal("pop did not wake up")
	}
}

func TestInMemoryQueue_PopHonoursContext(t *testing.T) {
	q := NewInMemoryQueue(0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInMemoryQueue_CloseWakesAllConsumers(t *testing.T) {
	q := NewInMemoryQueue(0)

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Pop(context.Background())
			assert.ErrorIs(t, err, ErrQueueClosed)
		}()
	}

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Close())
	wg.Wait()

	assert.ErrorIs(t, q.Push(&Task{}), ErrQueueClosed)
	require.NoError(t, q.Close(), "close is idempotent")
}

func TestInMemoryQueue_DrainsAfterClose(t *testing.T) {
	q := NewInMemoryQueue(0)
	require.NoError(t, q.Push(&Task{ID: "queued"}))
	require.NoError(t, q.Close())

	task, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "queued", task.ID)

	_, err = q.TryPop()
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestInMemoryQueue_TryPopEmpty(t *testing.T) {
	_, err := NewInMemoryQueue(0).TryPop()
	assert.ErrorIs(t, err, ErrQueueEmpty)
}
