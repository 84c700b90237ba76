// README: Realtime topic publisher over Redis pub/sub.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"unipool/internal/types"
)

// Topic names for the push channel.
func UserTopic(userID types.ID) string         { return fmt.Sprintf("user/%s/notifications", userID) }
func RideStartedTopic(rideID types.ID) string  { return fmt.Sprintf("ride/%s/started", rideID) }
func RideLocationTopic(rideID types.ID) string { return fmt.Sprintf("ride/%s/location", rideID) }

// Publisher pushes a payload to a topic. Implementations must not retry;
// delivery bookkeeping belongs to the caller.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// RedisPublisher fans payloads out through Redis pub/sub.
type RedisPublisher struct {
	redis *redis.Client
}

func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{redis: rdb}
}

func (p *RedisPublisher) Publish(ctx context.Context, topic string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return p.redis.Publish(ctx, topic, b).Err()
}
