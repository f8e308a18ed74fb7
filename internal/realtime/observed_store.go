package realtime

import (
	"context"
	"log/slog"

	"ALiFe-Chain/internal/agent"
	"ALiFe-Chain/pkg/logger"
)

// ObservedStore 包装 agent.Store，在写入成功后向总线发布行快照与新日志。
// 发布失败只记录日志，不影响写入结果。
type ObservedStore struct {
	agent.Store
	bus Bus
	log *slog.Logger
}

var _ agent.Store = (*ObservedStore)(nil)

// NewObservedStore 创建带变更推送的存储。
func NewObservedStore(store agent.Store, bus Bus) *ObservedStore {
	return &ObservedStore{Store: store, bus: bus, log: logger.Named("realtime")}
}

// CreateAgent 实现 agent.Store。
func (s *ObservedStore) CreateAgent(ctx context.Context, a *agent.Agent) error {
	if err := s.Store.CreateAgent(ctx, a); err != nil {
		return err
	}
	s.publish(ctx, AgentChange(a))
	return nil
}

// UpdateFeeSplit 实现 agent.Store。
func (s *ObservedStore) UpdateFeeSplit(ctx context.Context, id string, creatorPct, platformPct int) error {
	if err := s.Store.UpdateFeeSplit(ctx, id, creatorPct, platformPct); err != nil {
		return err
	}
	s.refresh(ctx, id)
	return nil
}

// RecordHeartbeat 实现 agent.Store。
func (s *ObservedStore) RecordHeartbeat(ctx context.Context, id string, hb agent.Heartbeat) error {
	if err := s.Store.RecordHeartbeat(ctx, id, hb); err != nil {
		return err
	}
	s.refresh(ctx, id)
	return nil
}

// RecordEarning 实现 agent.Store。
func (s *ObservedStore) RecordEarning(ctx context.Context, earning *agent.Earning, log *agent.Log) error {
	if err := s.Store.RecordEarning(ctx, earning, log); err != nil {
		return err
	}
	s.refresh(ctx, earning.AgentID)
	s.publishLog(ctx, log)
	return nil
}

// RecordExpense 实现 agent.Store。
func (s *ObservedStore) RecordExpense(ctx context.Context, expense *agent.Expense) error {
	if err := s.Store.RecordExpense(ctx, expense); err != nil {
		return err
	}
	s.refresh(ctx, expense.AgentID)
	return nil
}

// RecordFunding 实现 agent.Store。
func (s *ObservedStore) RecordFunding(ctx context.Context, funding *agent.Funding, log *agent.Log) error {
	if err := s.Store.RecordFunding(ctx, funding, log); err != nil {
		return err
	}
	s.publishLog(ctx, log)
	return nil
}

// RecordReplication 实现 agent.Store。
func (s *ObservedStore) RecordReplication(ctx context.Context, id string, childrenCount int, log *agent.Log) error {
	if err := s.Store.RecordReplication(ctx, id, childrenCount, log); err != nil {
		return err
	}
	s.refresh(ctx, id)
	s.publishLog(ctx, log)
	return nil
}

// MarkDead 实现 agent.Store。
func (s *ObservedStore) MarkDead(ctx context.Context, id string, log *agent.Log) error {
	if err := s.Store.MarkDead(ctx, id, log); err != nil {
		return err
	}
	s.refresh(ctx, id)
	s.publishLog(ctx, log)
	return nil
}

// CompleteProvisioning 实现 agent.Store。
func (s *ObservedStore) CompleteProvisioning(ctx context.Context, id, sandboxID, walletAddress string, status agent.Status) error {
	if err := s.Store.CompleteProvisioning(ctx, id, sandboxID, walletAddress, status); err != nil {
		return err
	}
	s.refresh(ctx, id)
	return nil
}

// AppendLog 实现 agent.Store。
func (s *ObservedStore) AppendLog(ctx context.Context, log *agent.Log) error {
	if err := s.Store.AppendLog(ctx, log); err != nil {
		return err
	}
	s.publishLog(ctx, log)
	return nil
}

func (s *ObservedStore) refresh(ctx context.Context, id string) {
	a, err := s.Store.GetAgent(ctx, id)
	if err != nil {
		s.log.Warn("读取智能体快照失败", "agent_id", id, "error", err)
		return
	}
	s.publish(ctx, AgentChange(a))
}

func (s *ObservedStore) publishLog(ctx context.Context, log *agent.Log) {
	if log == nil {
		return
	}
	s.publish(ctx, LogChange(log))
}

func (s *ObservedStore) publish(ctx context.Context, change Change) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, change); err != nil {
		s.log.Warn("发布变更失败", "agent_id", change.AgentID, "kind", change.Kind, "error", err)
	}
}
