package agent

import "context"

// Heartbeat 描述一次心跳写入。Tier 为空时由调用方按 TierPolicy 推导。
type Heartbeat struct {
	Balance       float64
	Tier          SurvivalTier
	WalletAddress string
	At            int64
}

// Store 抽象了智能体状态的持久化接口。
//
// 所有修改智能体行的方法都是单条条件更新（或单个事务内的流水插入 + 聚合更新），
// 对已死亡的智能体返回 ErrAgentDead 且不产生任何部分写入。
type Store interface {
	CreateAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	GetAgentBySandbox(ctx context.Context, sandboxID string) (*Agent, error)
	GetAgentByToken(ctx context.Context, tokenAddress string) (*Agent, error)
	ListAgents(ctx context.Context, opts ListOptions) ([]*Agent, error)

	UpdateFeeSplit(ctx context.Context, id string, creatorPct, platformPct int) error
	RecordHeartbeat(ctx context.Context, id string, hb Heartbeat) error
	RecordEarning(ctx context.Context, earning *Earning, log *Log) error
	RecordExpense(ctx context.Context, expense *Expense) error
	RecordFunding(ctx context.Context, funding *Funding, log *Log) error
	RecordReplication(ctx context.Context, id string, childrenCount int, log *Log) error
	MarkDead(ctx context.Context, id string, log *Log) error
	CompleteProvisioning(ctx context.Context, id, sandboxID, walletAddress string, status Status) error

	AppendLog(ctx context.Context, log *Log) error
	ListLogs(ctx context.Context, agentID string, limit int) ([]*Log, error)
	ListEarnings(ctx context.Context, agentID string, limit int) ([]*Earning, error)
	ListExpenses(ctx context.Context, agentID string, limit int) ([]*Expense, error)
	ReconcileTotals(ctx context.Context, agentID string) (Totals, error)

	Close() error
}

// IsTradingFeeSource 判断收入来源是否计入交易手续费汇总。
func IsTradingFeeSource(source string) bool {
	return source == "swap_fee" || source == "trading_fee"
}
