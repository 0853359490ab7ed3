package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cleanup := func() {
		client.Close()
		mr.Close()
	}

	return client, cleanup
}

func TestNewQueue(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	q := NewQueue(client, "test_queue", 0)

	assert.NotNil(t, q)
	assert.Equal(t, "test_queue", q.queueName)
	assert.Equal(t, client, q.client)
}

func TestQueue_Backlog(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	q := NewQueue(client, "test_backlog_queue", 2)

	require.NoError(t, q.Push(ctx, &JobMessage{AnalysisID: "a"}))
	require.NoError(t, q.Push(ctx, &JobMessage{AnalysisID: "b"}))
	assert.ErrorIs(t, q.Push(ctx, &JobMessage{AnalysisID: "c"}), ErrFull)

	length, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), length)

	// 出队后可以继续投递
	_, err = q.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.NoError(t, q.Push(ctx, &JobMessage{AnalysisID: "c"}))
}

func TestQueue_PushPop(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	q := NewQueue(client, "test_pop_queue", 0)

	msg := &JobMessage{
		AnalysisID: "5f0c9a6e",
		SourceType: "github",
		RepoURL:    "https://github.com/pallets/flask",
		APIKeys:    []string{"k1", "k2"},
	}
	require.NoError(t, q.Push(ctx, msg))

	length, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), length)

	result, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, msg, result)
}

func TestQueue_FIFO(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	q := NewQueue(client, "test_fifo_queue", 0)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Push(ctx, &JobMessage{AnalysisID: id}))
	}

	for _, id := range []string{"a", "b", "c"} {
		result, err := q.Pop(ctx, time.Second)
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.Equal(t, id, result.AnalysisID)
	}
}

func TestQueue_PopEmpty(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	q := NewQueue(client, "test_empty_queue", 0)

	// miniredis doesn't support BRPop timeout properly, so check for nil or error
	result, err := q.Pop(context.Background(), 10*time.Millisecond)
	if err == nil {
		assert.Nil(t, result)
	}
}

func TestQueue_MultipleQueues(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	q1 := NewQueue(client, "queue_1", 0)
	q2 := NewQueue(client, "queue_2", 0)

	require.NoError(t, q1.Push(ctx, &JobMessage{AnalysisID: "one"}))
	require.NoError(t, q2.Push(ctx, &JobMessage{AnalysisID: "two"}))

	result1, err := q1.Pop(ctx, time.Second)
	require.NoError(t, err)
	result2, err := q2.Pop(ctx, time.Second)
	require.NoError(t, err)

	assert.Equal(t, "one", result1.AnalysisID)
	assert.Equal(t, "two", result2.AnalysisID)
}
