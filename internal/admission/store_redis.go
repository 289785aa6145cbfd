package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// commitWindowScript applies the fixed-window check-and-increment atomically
// on the server: load the bucket, roll the window when elapsed, admit and
// increment only when under max. Times are unix milliseconds.
var commitWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])
local bucket = redis.call('HMGET', key, 'count', 'start')
local count = tonumber(bucket[1]) or 0
local start = tonumber(bucket[2]) or now
if now - start >= window then
  count = 0
  start = now
end
if count + 1 > max then
  local retry = start + window - now
  if retry < 0 then retry = 0 end
  return {0, count, start, retry}
end
count = count + 1
redis.call('HMSET', key, 'count', count, 'start', start)
redis.call('PEXPIRE', key, ttl)
return {1, count, start, 0}
`)

// releaseWindowScript decrements a window count, flooring at zero.
var releaseWindowScript = redis.NewScript(`
local key = KEYS[1]
local count = tonumber(redis.call('HGET', key, 'count')) or 0
if count > 0 then
  redis.call('HSET', key, 'count', count - 1)
end
return count
`)

// RedisStore backs the admission core with Redis. Works against single
// instances, sentinel failover groups and clusters.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing go-redis client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	return val, err
}

func (s *RedisStore) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	return n > 0, err
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *RedisStore) CommitWindow(ctx context.Context, key string, window time.Duration, max int64, ttl time.Duration) (CommitResult, error) {
	now := time.Now().UnixMilli()
	res, err := commitWindowScript.Run(ctx, s.client, []string{key},
		now, window.Milliseconds(), max, ttl.Milliseconds()).Result()
	if err != nil {
		return CommitResult{}, err
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 4 {
		return CommitResult{}, fmt.Errorf("unexpected redis script result: %v", res)
	}
	allowed, _ := vals[0].(int64)
	count, _ := vals[1].(int64)
	start, _ := vals[2].(int64)
	retry, _ := vals[3].(int64)
	return CommitResult{
		Allowed:     allowed == 1,
		Count:       count,
		WindowStart: time.UnixMilli(start),
		RetryAfter:  time.Duration(retry) * time.Millisecond,
	}, nil
}

func (s *RedisStore) PeekWindow(ctx context.Context, key string, window time.Duration) (CommitResult, error) {
	vals, err := s.client.HMGet(ctx, key, "count", "start").Result()
	if err != nil {
		return CommitResult{}, err
	}
	result := CommitResult{WindowStart: time.Now()}
	if len(vals) == 2 {
		if c, ok := vals[0].(string); ok {
			fmt.Sscanf(c, "%d", &result.Count)
		}
		if st, ok := vals[1].(string); ok {
			var ms int64
			fmt.Sscanf(st, "%d", &ms)
			if ms > 0 {
				result.WindowStart = time.UnixMilli(ms)
			}
		}
	}
	if time.Since(result.WindowStart) >= window {
		result.Count = 0
		result.WindowStart = time.Now()
	}
	return result, nil
}

func (s *RedisStore) ReleaseWindow(ctx context.Context, key string) error {
	return releaseWindowScript.Run(ctx, s.client, []string{key}).Err()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
