package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/types"
)

const DefaultChannelPrefix = "quiz:session:"

type RedisOptions struct {
	Addrs      []string
	Password   string
	DB         int
	MasterName string
}

// NewRedisClient builds a single, sentinel or cluster client depending on opts and pings it.
func NewRedisClient(ctx context.Context, opts RedisOptions) (redis.UniversalClient, error) {
	if len(opts.Addrs) == 0 {
		return nil, fmt.Errorf("redis: at least one address is required")
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:           opts.Addrs,
		Password:        opts.Password,
		DB:              opts.DB,
		MasterName:      opts.MasterName,
		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %v: %w", opts.Addrs, err)
	}
	return client, nil
}

// RedisRelay fans events out across server instances. Publish goes to redis; Run
// receives every session channel and hands the payloads to the local hub, so the
// publishing instance gets its own events back the same way as everyone else.
type RedisRelay struct {
	client redis.UniversalClient
	local  *Hub
	prefix string
	log    *zap.Logger
}

func NewRedisRelay(client redis.UniversalClient, local *Hub, prefix string, log *zap.Logger) *RedisRelay {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &RedisRelay{client: client, local: local, prefix: prefix, log: log}
}

func (r *RedisRelay) Channel(sessionID string) string { return r.prefix + sessionID }

func (r *RedisRelay) Publish(ctx context.Context, sessionID string, msg types.ServerMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type, err)
	}
	if err := r.client.Publish(ctx, r.Channel(sessionID), payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", msg.Type, err)
	}
	return nil
}

// Run blocks until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.PSubscribe(ctx, r.prefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis psubscribe: %w", err)
	}
	r.log.Info("redis relay subscribed", zap.String("pattern", r.prefix+"*"))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			sessionID := strings.TrimPrefix(m.Channel, r.prefix)
			if err := r.local.Deliver(ctx, sessionID, []byte(m.Payload)); err != nil {
				r.log.Warn("relay delivery failed", zap.String("session_id", sessionID), zap.Error(err))
			}
		}
	}
}
