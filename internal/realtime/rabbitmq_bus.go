package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ALiFe-Chain/pkg/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQConfig 描述 RabbitMQ 总线的连接参数。
type RabbitMQConfig struct {
	URL      string `json:"url"`
	Exchange string `json:"exchange"`
	Durable  bool   `json:"durable"`
	Buffer   int    `json:"buffer"`
}

// RabbitMQBus 通过 topic exchange 分发变更，路由键为 agent.<id>.<kind>。
type RabbitMQBus struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	mu       sync.Mutex
	exchange string
	buffer   int
	log      *slog.Logger
}

// NewRabbitMQBus 建立连接并声明 exchange。
func NewRabbitMQBus(cfg RabbitMQConfig) (*RabbitMQBus, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "alife.agents"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, cfg.Durable, !cfg.Durable, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("声明 RabbitMQ exchange 失败: %w", err)
	}
	return &RabbitMQBus{
		conn:     conn,
		ch:       ch,
		exchange: exchange,
		buffer:   cfg.Buffer,
		log:      logger.Named("realtime.rabbitmq"),
	}, nil
}

func routingKey(change Change) string {
	suffix := "update"
	if change.Kind == KindLogInserted {
		suffix = "log"
	}
	return "agent." + change.AgentID + "." + suffix
}

func bindingKey(agentID string) string {
	return "agent." + agentID + ".*"
}

// Publish 将变更发布到 exchange。
func (b *RabbitMQBus) Publish(ctx context.Context, change Change) error {
	if b == nil || b.ch == nil {
		return errors.New("RabbitMQ 总线未初始化")
	}
	payload, err := encodeChange(change)
	if err != nil {
		return fmt.Errorf("编码变更失败: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ch.PublishWithContext(ctx, b.exchange, routingKey(change), false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.UnixMilli(change.At),
		Type:        string(change.Kind),
		Body:        payload,
	})
}

// SubscribeAgent 为订阅创建独占的临时队列并绑定到智能体路由键。
func (b *RabbitMQBus) SubscribeAgent(ctx context.Context, agentID string) (*Subscription, error) {
	if b == nil || b.conn == nil {
		return nil, errors.New("RabbitMQ 总线未初始化")
	}
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	queue, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("声明 RabbitMQ 队列失败: %w", err)
	}
	if err := ch.QueueBind(queue.Name, bindingKey(agentID), b.exchange, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("绑定 RabbitMQ 队列失败: %w", err)
	}
	deliveries, err := ch.Consume(queue.Name, "", true, true, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("订阅 RabbitMQ 队列失败: %w", err)
	}

	sub := newSubscription(agentID, b.buffer, func() { ch.Close() })
	go func() {
		for {
			select {
			case <-sub.done:
				return
			case msg, ok := <-deliveries:
				if !ok {
					sub.Close()
					return
				}
				change, err := decodeChange(msg.Body)
				if err != nil {
					b.log.Warn("丢弃无法解析的变更", "routing_key", msg.RoutingKey, "error", err)
					continue
				}
				sub.deliver(change)
			}
		}
	}()
	closeOnDone(ctx, sub)
	return sub, nil
}

// Close 关闭 RabbitMQ 连接。
func (b *RabbitMQBus) Close() error {
	if b == nil {
		return nil
	}
	if b.ch != nil {
		_ = b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
