package jobqueue

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisJobQueuePushRoundTrips(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	q := NewRedisJobQueue(client, "callbacks")
	jid, err := q.Push(context.Background(), Job{Class: "WebhookCallback", Args: []any{"task-1"}})
	require.NoError(t, err)
	require.NotEmpty(t, jid)

	raw, err := client.LPop(context.Background(), "callbacks").Result()
	require.NoError(t, err)

	job, err := UnmarshalJob([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, "WebhookCallback", job.Class)
	require.Equal(t, jid, job.JID)
}

func TestRedisJobQueueKeepsExplicitJID(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	q := NewRedisJobQueue(client, "callbacks")
	jid, err := q.Push(context.Background(), Job{Class: "Retry", JID: "explicit-jid"})
	require.NoError(t, err)
	require.Equal(t, "explicit-jid", jid)
}

func TestMemoryJobQueueRecordsPushOrder(t *testing.T) {
	m := NewMemory()
	_, err := m.Push(context.Background(), Job{Class: "A"})
	require.NoError(t, err)
	_, err = m.Push(context.Background(), Job{Class: "B"})
	require.NoError(t, err)

	jobs := m.Jobs()
	require.Len(t, jobs, 2)
	require.Equal(t, "A", jobs[0].Class)
	require.Equal(t, "B", jobs[1].Class)
	require.Equal(t, 2, m.Len())
}
