package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ALiFe-Chain/internal/agent"
	"ALiFe-Chain/internal/auth"
	xerrors "ALiFe-Chain/internal/errors"
	"ALiFe-Chain/pkg/logger"
)

// MsgDeath 是死亡事件写入的日志。
const MsgDeath = "Agent has died — insufficient compute credits"

var (
	// ErrUnauthorized 表示共享密钥不匹配。
	ErrUnauthorized = xerrors.New(xerrors.CodeUnauthorized, "webhook secret mismatch")
	// ErrUnknownAgent 表示沙箱 ID 没有对应的智能体。
	ErrUnknownAgent = xerrors.New(xerrors.CodeUnknownAgent, "unknown sandbox")
)

// Recorder 接收 webhook 事件指标。
type Recorder interface {
	ObserveWebhookEvent(event, outcome string)
}

// Ingestor 校验并应用生命周期事件。
type Ingestor struct {
	store    agent.Store
	secret   auth.SharedSecret
	policy   agent.TierPolicy
	recorder Recorder
	log      *slog.Logger
	now      func() time.Time
}

// Option 自定义 Ingestor。
type Option func(*Ingestor)

// WithTierPolicy 覆盖生存等级阈值。
func WithTierPolicy(policy agent.TierPolicy) Option {
	return func(i *Ingestor) { i.policy = policy }
}

// WithRecorder 注册指标记录器。
func WithRecorder(r Recorder) Option {
	return func(i *Ingestor) { i.recorder = r }
}

// WithLogger 覆盖日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(i *Ingestor) {
		if l != nil {
			i.log = l
		}
	}
}

// NewIngestor 构造 Ingestor。
func NewIngestor(store agent.Store, secret auth.SharedSecret, opts ...Option) *Ingestor {
	i := &Ingestor{
		store:  store,
		secret: secret,
		policy: agent.DefaultTierPolicy(),
		log:    logger.Named("webhook"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Authenticate 校验请求携带的共享密钥。
func (i *Ingestor) Authenticate(presented string) error {
	if !i.secret.Verify(presented) {
		i.observe("", "unauthorized")
		return ErrUnauthorized
	}
	return nil
}

// Ingest 解码并应用一个事件。对已死亡智能体的修改类事件记录后视为成功。
func (i *Ingestor) Ingest(ctx context.Context, env Envelope) error {
	event, err := Decode(env)
	if err != nil {
		i.observe(env.Event, "invalid")
		return err
	}

	if agent.IsPendingSandbox(env.SandboxID) {
		i.observe(env.Event, "unknown_agent")
		return ErrUnknownAgent
	}
	record, err := i.store.GetAgentBySandbox(ctx, env.SandboxID)
	if errors.Is(err, agent.ErrAgentNotFound) {
		i.log.Warn("未知沙箱的 webhook 事件", "sandbox_id", env.SandboxID, "event", env.Event)
		i.observe(env.Event, "unknown_agent")
		return ErrUnknownAgent
	}
	if err != nil {
		i.observe(env.Event, "error")
		return err
	}

	if record.Status == agent.StatusDead && event.Kind() != KindError {
		i.ignoreDead(record, event)
		return nil
	}

	err = i.apply(ctx, record, event)
	switch {
	case errors.Is(err, agent.ErrAgentDead):
		i.ignoreDead(record, event)
		return nil
	case err != nil:
		i.observe(event.Kind(), "error")
		i.log.Error("应用 webhook 事件失败", "agent_id", record.ID, "event", event.Kind(), "error", err)
		return err
	}
	i.observe(event.Kind(), "applied")
	return nil
}

func (i *Ingestor) apply(ctx context.Context, record *agent.Agent, event Event) error {
	switch ev := event.(type) {
	case HeartbeatEvent:
		tier := ev.SurvivalTier
		if tier == "" {
			tier = i.policy.Derive(ev.CreditBalance)
		}
		return i.store.RecordHeartbeat(ctx, record.ID, agent.Heartbeat{
			Balance:       ev.CreditBalance,
			Tier:          tier,
			WalletAddress: ev.WalletAddress,
			At:            i.now().UnixMilli(),
		})

	case EarningEvent:
		return i.store.RecordEarning(ctx, &agent.Earning{
			AgentID:     record.ID,
			Amount:      ev.Amount,
			Source:      ev.Source,
			Description: ev.Description,
			TxHash:      ev.TxHash,
		}, &agent.Log{
			AgentID:  record.ID,
			Level:    agent.LogEarning,
			Message:  fmt.Sprintf("Earned $%s from %s", agent.FormatAmount(ev.Amount), ev.Source),
			Metadata: metadataOf(ev),
		})

	case ExpenseEvent:
		return i.store.RecordExpense(ctx, &agent.Expense{
			AgentID:     record.ID,
			Amount:      ev.Amount,
			Category:    ev.Category,
			Description: ev.Description,
			TxHash:      ev.TxHash,
		})

	case ErrorEvent:
		return i.store.AppendLog(ctx, &agent.Log{
			AgentID:  record.ID,
			Level:    agent.LogError,
			Message:  ev.Message,
			Metadata: metadataOf(ev),
		})

	case DeathEvent:
		err := i.store.MarkDead(ctx, record.ID, &agent.Log{
			AgentID:  record.ID,
			Level:    agent.LogError,
			Message:  MsgDeath,
			Metadata: metadataOf(ev),
		})
		if err == nil {
			logger.Audit().Info("agent_died", "agent_id", record.ID, "sandbox_id", record.SandboxID, "reason", ev.Reason)
		}
		return err

	case ReplicationEvent:
		return i.store.RecordReplication(ctx, record.ID, ev.ChildrenCount, &agent.Log{
			AgentID:  record.ID,
			Level:    agent.LogAction,
			Message:  fmt.Sprintf("Replicated — spawned child agent %s", ev.ChildName),
			Metadata: metadataOf(ev),
		})
	}
	return invalidPayload(fmt.Sprintf("未知的事件类型 %q", event.Kind()))
}

func (i *Ingestor) ignoreDead(record *agent.Agent, event Event) {
	i.log.Info("智能体已死亡，忽略事件", "agent_id", record.ID, "sandbox_id", record.SandboxID, "event", event.Kind())
	i.observe(event.Kind(), "ignored_dead")
}

func (i *Ingestor) observe(kind Kind, outcome string) {
	if i.recorder == nil {
		return
	}
	switch kind {
	case KindHeartbeat, KindEarning, KindExpense, KindError, KindDeath, KindReplication:
	default:
		kind = "unknown"
	}
	i.recorder.ObserveWebhookEvent(string(kind), outcome)
}

func metadataOf(event Event) map[string]any {
	src := event.Payload()
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
