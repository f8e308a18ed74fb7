package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ALiFe-Chain/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// RedisConfig 描述 Redis 总线的连接参数。
type RedisConfig struct {
	Address       string `json:"address"`
	Password      string `json:"password"`
	DB            int    `json:"db"`
	ChannelPrefix string `json:"channel_prefix"`
	Buffer        int    `json:"buffer"`
}

// RedisBus 通过 Redis pub/sub 在多实例之间分发变更，每个智能体一个频道。
type RedisBus struct {
	client *redis.Client
	prefix string
	buffer int
	log    *slog.Logger
}

// NewRedisBus 创建 Redis 总线并检查连通性。
func NewRedisBus(ctx context.Context, cfg RedisConfig) (*RedisBus, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return newRedisBus(client, cfg), nil
}

func newRedisBus(client *redis.Client, cfg RedisConfig) *RedisBus {
	prefix := cfg.ChannelPrefix
	if prefix == "" {
		prefix = "alife:agent:"
	}
	return &RedisBus{client: client, prefix: prefix, buffer: cfg.Buffer, log: logger.Named("realtime.redis")}
}

func (b *RedisBus) channel(agentID string) string {
	return b.prefix + agentID
}

// Publish 将变更发布到智能体频道。
func (b *RedisBus) Publish(ctx context.Context, change Change) error {
	payload, err := encodeChange(change)
	if err != nil {
		return fmt.Errorf("编码变更失败: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel(change.AgentID), payload).Err(); err != nil {
		return fmt.Errorf("Redis 发布变更失败: %w", err)
	}
	return nil
}

// SubscribeAgent 订阅智能体频道，返回前确认订阅已建立。
func (b *RedisBus) SubscribeAgent(ctx context.Context, agentID string) (*Subscription, error) {
	pubsub := b.client.Subscribe(ctx, b.channel(agentID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("Redis 订阅失败: %w", err)
	}

	sub := newSubscription(agentID, b.buffer, func() { pubsub.Close() })
	messages := pubsub.Channel()
	go func() {
		for {
			select {
			case <-sub.done:
				return
			case msg, ok := <-messages:
				if !ok {
					sub.Close()
					return
				}
				change, err := decodeChange([]byte(msg.Payload))
				if err != nil {
					b.log.Warn("丢弃无法解析的变更", "channel", msg.Channel, "error", err)
					continue
				}
				sub.deliver(change)
			}
		}
	}()
	closeOnDone(ctx, sub)
	return sub, nil
}

// Close 关闭 Redis 连接。
func (b *RedisBus) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}
