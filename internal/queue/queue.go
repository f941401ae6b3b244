// Package queue carries email jobs between the API process and the worker on
// a redis list.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mwaller89/accounthub/internal/jobs"
)

const defaultKey = "accounthub:mail:jobs"

var ErrEmpty = errors.New("queue empty")

type Queue struct {
	rdb *redis.Client
	key string
}

func New(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb, key: defaultKey}
}

func (q *Queue) Enqueue(ctx context.Context, j jobs.Job) error {
	b, err := json.Marshal(j)

	if err != nil {
		return err
	}

	return q.rdb.LPush(ctx, q.key, b).Err()
}

// Dequeue blocks up to timeout for the next job. ErrEmpty signals an idle
// poll rather than a failure.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (jobs.Job, error) {
	res, err := q.rdb.BRPop(ctx, timeout, q.key).Result()

	if err != nil {
		if errors.Is(err, redis.Nil) {
			return jobs.Job{}, ErrEmpty
		}
		return jobs.Job{}, err
	}

	// BRPOP returns [key, value]
	if len(res) != 2 {
		return jobs.Job{}, ErrEmpty
	}

	var j jobs.Job

	if err := json.Unmarshal([]byte(res[1]), &j); err != nil {
		return jobs.Job{}, err
	}

	return j, nil
}

func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.key).Result()
}
