package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/qs3c/doc_gen_server/internal/model"
)

const (
	defaultKeyPrefix = "docgen:job:"
	defaultIndexKey  = "docgen:jobs"
	maxTxRetries     = 10
)

// Redis 基于 Redis 的注册表，多个进程共享；记录带 TTL，Update 使用 WATCH 乐观锁
type Redis struct {
	client *redis.Client
	prefix string
	index  string
	ttl    time.Duration
}

// NewRedis 创建 Redis 注册表，ttl<=0 表示记录不过期
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{
		client: client,
		prefix: defaultKeyPrefix,
		index:  defaultIndexKey,
		ttl:    ttl,
	}
}

func (r *Redis) key(id string) string {
	return r.prefix + id
}

func (r *Redis) Create(ctx context.Context, job *model.AnalysisJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	ok, err := r.client.SetNX(ctx, r.key(job.ID), data, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	if !ok {
		return ErrExists
	}
	return r.client.ZAdd(ctx, r.index, &redis.Z{
		Score:  float64(job.CreatedAt.UnixNano()),
		Member: job.ID,
	}).Err()
}

func (r *Redis) Get(ctx context.Context, id string) (*model.AnalysisJob, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return decode(data)
}

func (r *Redis) Update(ctx context.Context, id string, fn func(*model.AnalysisJob) error) (*model.AnalysisJob, error) {
	key := r.key(id)
	var result *model.AnalysisJob
	var fnErr error

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if err == redis.Nil {
				return ErrNotFound
			}
			return err
		}
		job, err := decode(data)
		if err != nil {
			return err
		}
		if fnErr = fn(job); fnErr != nil {
			// 不写回，返回原记录
			result, _ = decode(data)
			return nil
		}
		out, err := json.Marshal(job)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, r.ttl)
			return nil
		})
		if err == nil {
			result = job
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return result, fnErr
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update job: %w", err)
	}
	return nil, fmt.Errorf("failed to update job %s: too much contention", id)
}

func (r *Redis) List(ctx context.Context) ([]*model.AnalysisJob, error) {
	ids, err := r.client.ZRevRange(ctx, r.index, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	jobs := make([]*model.AnalysisJob, 0, len(ids))
	if len(ids) == 0 {
		return jobs, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load jobs: %w", err)
	}

	var stale []interface{}
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			// 记录已因 TTL 过期，顺手清理索引
			stale = append(stale, ids[i])
			continue
		}
		job, err := decode([]byte(s))
		if err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	if len(stale) > 0 {
		r.client.ZRem(ctx, r.index, stale...)
	}
	sortNewestFirst(jobs)
	return jobs, nil
}

func (r *Redis) Delete(ctx context.Context, id string) error {
	n, err := r.client.Del(ctx, r.key(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	r.client.ZRem(ctx, r.index, id)
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Redis) Expire(ctx context.Context, before time.Time) ([]string, error) {
	jobs, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, job := range jobs {
		if !expired(job, before) {
			continue
		}
		if err := r.Delete(ctx, job.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return ids, err
		}
		ids = append(ids, job.ID)
	}
	return ids, nil
}

func decode(data []byte) (*model.AnalysisJob, error) {
	var job model.AnalysisJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}
