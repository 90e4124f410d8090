package eventbus

import (
	"context"

	"github.com/go-redis/redis/v8"

	"github.com/isqad/livelook-mesh/internal/hub"
)

type RedisPublisher struct {
	rdb *redis.Client
}

// RedisPubSub publishes presence to the redis channel presence:<room>
func RedisPubSub(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func (p *RedisPublisher) Publish(ctx context.Context, event hub.PresenceEvent) error {
	msg, err := encode(event)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, presenceChannel+":"+event.Room, msg).Err()
}

func (p *RedisPublisher) Close() error {
	return p.rdb.Close()
}
