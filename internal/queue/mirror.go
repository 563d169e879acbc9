package queue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// TicketMirror mirrors a BrandQueue's in-flight ticket ids into a side
// channel visible outside this process. The in-memory `inflight` map
// remains the source of truth for dispatch decisions — the mirror exists
// so a second process (or a restarted one) can observe what is already
// queued or running, per spec's durable-queue design note.
type TicketMirror interface {
	Add(ctx context.Context, ticketID string) error
	Remove(ctx context.Context, ticketID string) error
}

// noopMirror is used when no Redis client is wired in (e.g. unit tests).
type noopMirror struct{}

func (noopMirror) Add(ctx context.Context, ticketID string) error    { return nil }
func (noopMirror) Remove(ctx context.Context, ticketID string) error { return nil }

// RedisMirror backs TicketMirror with a Redis set named
// queue:{brand}:tickets, using the same go-redis client LockService uses.
type RedisMirror struct {
	client *redis.Client
	key    string
}

// NewRedisMirror builds a RedisMirror for one brand's queue.
func NewRedisMirror(client *redis.Client, brand string) *RedisMirror {
	return &RedisMirror{client: client, key: fmt.Sprintf("queue:%s:tickets", brand)}
}

func (m *RedisMirror) Add(ctx context.Context, ticketID string) error {
	return m.client.SAdd(ctx, m.key, ticketID).Err()
}

func (m *RedisMirror) Remove(ctx context.Context, ticketID string) error {
	return m.client.SRem(ctx, m.key, ticketID).Err()
}
