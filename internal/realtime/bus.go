package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"ALiFe-Chain/internal/agent"
)

// Kind 区分变更类型。
type Kind string

const (
	KindAgentUpdated Kind = "agent.updated"
	KindLogInserted  Kind = "log.inserted"
)

// Change 是推送给订阅者的一条变更。
type Change struct {
	Kind    Kind         `json:"kind"`
	AgentID string       `json:"agent_id"`
	Agent   *agent.Agent `json:"agent,omitempty"`
	Log     *agent.Log   `json:"log,omitempty"`
	At      int64        `json:"at"`
}

// AgentChange 构造行更新事件。
func AgentChange(a *agent.Agent) Change {
	return Change{Kind: KindAgentUpdated, AgentID: a.ID, Agent: a.Clone(), At: time.Now().UnixMilli()}
}

// LogChange 构造日志插入事件。
func LogChange(log *agent.Log) Change {
	return Change{Kind: KindLogInserted, AgentID: log.AgentID, Log: log.Clone(), At: time.Now().UnixMilli()}
}

// Bus 发布并订阅单个智能体的变更。
type Bus interface {
	Publish(ctx context.Context, change Change) error
	SubscribeAgent(ctx context.Context, agentID string) (*Subscription, error)
	Close() error
}

const defaultSubscriptionBuffer = 64

// Subscription 是一个智能体变更流。缓冲区满时丢弃最新事件，订阅者应以行快照为准。
type Subscription struct {
	AgentID string

	ch      chan Change
	done    chan struct{}
	mu      sync.Mutex
	closed  bool
	once    sync.Once
	release func()
	dropped int
}

func newSubscription(agentID string, buffer int, release func()) *Subscription {
	if buffer <= 0 {
		buffer = defaultSubscriptionBuffer
	}
	return &Subscription{AgentID: agentID, ch: make(chan Change, buffer), done: make(chan struct{}), release: release}
}

// Changes 返回变更通道，订阅关闭后通道关闭。
func (s *Subscription) Changes() <-chan Change {
	return s.ch
}

// Dropped 返回因缓冲区已满而丢弃的事件数。
func (s *Subscription) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Subscription) deliver(change Change) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- change:
		return true
	default:
		s.dropped++
		return false
	}
}

// Close 取消订阅，可重复调用。
func (s *Subscription) Close() error {
	s.once.Do(func() {
		if s.release != nil {
			s.release()
		}
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		close(s.done)
		s.mu.Unlock()
	})
	return nil
}

// closeOnDone 在 ctx 结束时关闭订阅。
func closeOnDone(ctx context.Context, sub *Subscription) {
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()
}

func encodeChange(change Change) ([]byte, error) {
	return json.Marshal(change)
}

func decodeChange(data []byte) (Change, error) {
	var change Change
	err := json.Unmarshal(data, &change)
	return change, err
}
