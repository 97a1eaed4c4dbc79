package jobqueue

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// JobQueue is the collaborator the dispatcher's orphan GC and shutdown
// re-enqueue paths push jobs into (spec.md §6). A single method by
// design: the dispatcher is a producer only, never a consumer, of this
// queue.
type JobQueue interface {
	Push(ctx context.Context, job Job) (jid string, err error)
}

// RedisJobQueue pushes jobs onto a Redis list with LPUSH, the same
// producer idiom the teacher's worker pool uses on the consuming side
// with BRPopLPush.
type RedisJobQueue struct {
	client *redis.Client
	key    string
}

// NewRedisJobQueue returns a JobQueue that LPUSHes serialized jobs onto
// listKey.
func NewRedisJobQueue(client *redis.Client, listKey string) *RedisJobQueue {
	return &RedisJobQueue{client: client, key: listKey}
}

func (q *RedisJobQueue) Push(ctx context.Context, job Job) (string, error) {
	if job.JID == "" {
		job.JID = uuid.NewString()
	}
	data, err := job.Marshal()
	if err != nil {
		return "", err
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return "", fmt.Errorf("push job: %w", err)
	}
	return job.JID, nil
}
