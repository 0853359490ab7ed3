package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/doc_gen_server/internal/model"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis, func()) {
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

	return client, mr, cleanup
}

// 两种实现跑同一组用例
func eachRegistry(t *testing.T, fn func(t *testing.T, r Registry)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemory())
	})
	t.Run("redis", func(t *testing.T) {
		client, _, cleanup := setupTestRedis(t)
		defer cleanup()
		fn(t, NewRedis(client, time.Hour))
	})
}

func TestRegistry_CreateGet(t *testing.T) {
	eachRegistry(t, func(t *testing.T, r Registry) {
		ctx := context.Background()
		job := model.NewAnalysisJob("a1", "https://github.com/pallets/flask", model.SourceGithub, base)
		require.NoError(t, r.Create(ctx, job))
		assert.ErrorIs(t, r.Create(ctx, job), ErrExists)

		got, err := r.Get(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, model.StatusPending, got.Status)
		assert.Equal(t, job.Target, got.Target)

		_, err = r.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRegistry_GetReturnsCopy(t *testing.T) {
	eachRegistry(t, func(t *testing.T, r Registry) {
		ctx := context.Background()
		require.NoError(t, r.Create(ctx, model.NewAnalysisJob("a1", "t", model.SourceGithub, base)))

		got, err := r.Get(ctx, "a1")
		require.NoError(t, err)
		got.Progress = 77

		again, err := r.Get(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, 0, again.Progress)
	})
}

func TestRegistry_Update(t *testing.T) {
	eachRegistry(t, func(t *testing.T, r Registry) {
		ctx := context.Background()
		require.NoError(t, r.Create(ctx, model.NewAnalysisJob("a1", "t", model.SourceGithub, base)))

		updated, err := r.Update(ctx, "a1", func(j *model.AnalysisJob) error {
			return j.Advance(model.StatusCloning, "cloning", base.Add(time.Second))
		})
		require.NoError(t, err)
		assert.Equal(t, model.StatusCloning, updated.Status)

		// fn 出错时不写回
		_, err = r.Update(ctx, "a1", func(j *model.AnalysisJob) error {
			j.Progress = 50
			return j.Advance(model.StatusAssembling, "skip", base)
		})
		assert.ErrorIs(t, err, model.ErrInvalidTransition)

		got, err := r.Get(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, model.StatusCloning, got.Status)
		assert.Equal(t, 0, got.Progress)

		_, err = r.Update(ctx, "missing", func(j *model.AnalysisJob) error { return nil })
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRegistry_ConcurrentUpdates(t *testing.T) {
	eachRegistry(t, func(t *testing.T, r Registry) {
		ctx := context.Background()
		require.NoError(t, r.Create(ctx, model.NewAnalysisJob("a1", "t", model.SourceGithub, base)))

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := r.Update(ctx, "a1", func(j *model.AnalysisJob) error {
					j.FileCount++
					return nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := r.Get(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, 8, got.FileCount)
	})
}

func TestRegistry_ListNewestFirst(t *testing.T) {
	eachRegistry(t, func(t *testing.T, r Registry) {
		ctx := context.Background()
		for i := 0; i < 3; i++ {
			job := model.NewAnalysisJob(fmt.Sprintf("a%d", i), "t", model.SourceGithub, base.Add(time.Duration(i)*time.Minute))
			require.NoError(t, r.Create(ctx, job))
		}

		jobs, err := r.List(ctx)
		require.NoError(t, err)
		require.Len(t, jobs, 3)
		assert.Equal(t, "a2", jobs[0].ID)
		assert.Equal(t, "a0", jobs[2].ID)
	})
}

func TestRegistry_DeleteAndExpire(t *testing.T) {
	eachRegistry(t, func(t *testing.T, r Registry) {
		ctx := context.Background()

		old := model.NewAnalysisJob("old", "t", model.SourceGithub, base)
		require.NoError(t, old.Fail("boom", base.Add(time.Minute)))
		running := model.NewAnalysisJob("running", "t", model.SourceGithub, base)
		recent := model.NewAnalysisJob("recent", "t", model.SourceGithub, base)
		require.NoError(t, recent.Fail("boom", base.Add(3*time.Hour)))

		for _, j := range []*model.AnalysisJob{old, running, recent} {
			require.NoError(t, r.Create(ctx, j))
		}

		ids, err := r.Expire(ctx, base.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, []string{"old"}, ids)

		_, err = r.Get(ctx, "old")
		assert.True(t, errors.Is(err, ErrNotFound))
		_, err = r.Get(ctx, "running")
		assert.NoError(t, err)

		require.NoError(t, r.Delete(ctx, "recent"))
		assert.ErrorIs(t, r.Delete(ctx, "recent"), ErrNotFound)

		jobs, err := r.List(ctx)
		require.NoError(t, err)
		assert.Len(t, jobs, 1)
	})
}

func TestRedis_TTL(t *testing.T) {
	client, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	r := NewRedis(client, time.Hour)
	ctx := context.Background()
	require.NoError(t, r.Create(ctx, model.NewAnalysisJob("a1", "t", model.SourceGithub, base)))

	assert.Equal(t, time.Hour, mr.TTL(defaultKeyPrefix+"a1"))

	// TTL 到期后 List 会清理索引
	mr.FastForward(2 * time.Hour)
	jobs, err := r.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	members, err := client.ZRange(ctx, defaultIndexKey, 0, -1).Result()
	require.NoError(t, err)
	assert.Empty(t, members)
}
