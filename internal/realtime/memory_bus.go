package realtime

import (
	"context"
	"errors"
	"sync"
)

// MemoryBus 在进程内分发变更，用于单实例部署与测试。
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
	closed bool
}

// NewMemoryBus 创建内存总线，buffer 为每个订阅的缓冲大小。
func NewMemoryBus(buffer int) *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[*Subscription]struct{}), buffer: buffer}
}

// Publish 将变更投递给该智能体的所有订阅者。
func (b *MemoryBus) Publish(ctx context.Context, change Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errors.New("realtime 总线已关闭")
	}
	for sub := range b.subs[change.AgentID] {
		sub.deliver(change)
	}
	return nil
}

// SubscribeAgent 订阅单个智能体，ctx 结束时自动取消。
func (b *MemoryBus) SubscribeAgent(ctx context.Context, agentID string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("realtime 总线已关闭")
	}
	var sub *Subscription
	sub = newSubscription(agentID, b.buffer, func() { b.remove(agentID, sub) })
	set, ok := b.subs[agentID]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[agentID] = set
	}
	set[sub] = struct{}{}
	closeOnDone(ctx, sub)
	return sub, nil
}

func (b *MemoryBus) remove(agentID string, sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[agentID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subs, agentID)
		}
	}
}

// Close 关闭总线及全部订阅。
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*Subscription
	for _, set := range b.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	b.mu.Unlock()
	for _, sub := range all {
		sub.Close()
	}
	return nil
}
