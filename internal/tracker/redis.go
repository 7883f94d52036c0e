package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "ppe:job:"

// finishScript moves a processing job to a terminal status in one round trip
// so concurrent finishers cannot both succeed, and a finisher holding a stale
// attempt id cannot touch a replaced entry.
var finishScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
  return 0
end
local job = cjson.decode(raw)
if (job.attempt or '') ~= ARGV[5] then
  return -2
end
if job.status ~= 'processing' then
  return -1
end
job.status = ARGV[1]
job.error = ARGV[2]
job.updated_at = ARGV[3]
redis.call('SET', KEYS[1], cjson.encode(job), 'EX', ARGV[4])
return 1
`)

// Redis keeps jobs as JSON values with a TTL, so finished entries expire on
// their own and every API and worker process sees the same state.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

var _ Tracker = (*Redis)(nil)

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Redis{client: client, ttl: ttl, now: time.Now}
}

func redisKey(key string) string {
	return redisKeyPrefix + key
}

func (r *Redis) Create(ctx context.Context, job Job) error {
	job, err := prepare(job, r.now())
	if err != nil {
		return err
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	if err := r.client.Set(ctx, redisKey(job.Key), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("create job %s: %w", job.Key, err)
	}
	return nil
}

func (r *Redis) SetStatus(ctx context.Context, key, attempt string, status Status, reason string) error {
	if err := checkTransition(status); err != nil {
		return err
	}

	res, err := finishScript.Run(ctx, r.client, []string{redisKey(key)},
		string(status),
		reason,
		r.now().UTC().Format(time.RFC3339Nano),
		int(r.ttl.Seconds()),
		attempt,
	).Int()
	if err != nil {
		return fmt.Errorf("set status %s: %w", key, err)
	}

	switch res {
	case 0:
		return ErrNotFound
	case -1:
		return ErrTerminal
	case -2:
		return ErrSuperseded
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, key string) (Job, error) {
	data, err := r.client.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("get job %s: %w", key, err)
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return Job{}, fmt.Errorf("decode job %s: %w", key, err)
	}
	return job, nil
}

func (r *Redis) Status(ctx context.Context, key string) (Status, error) {
	return statusFromGet(r.Get(ctx, key))
}
