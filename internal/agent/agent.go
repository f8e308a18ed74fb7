package agent

import (
	"fmt"
	"strconv"
	"strings"

	xerrors "ALiFe-Chain/internal/errors"

	"github.com/google/uuid"
)

// Status 表示智能体在生命周期中的状态。
type Status string

const (
	StatusPending    Status = "pending"
	StatusDeploying  Status = "deploying"
	StatusAlive      Status = "alive"
	StatusLowCompute Status = "low_compute"
	StatusCritical   Status = "critical"
	StatusDead       Status = "dead"
)

// SurvivalTier 描述智能体的经济健康度。
type SurvivalTier string

const (
	TierNormal     SurvivalTier = "normal"
	TierLowCompute SurvivalTier = "low_compute"
	TierCritical   SurvivalTier = "critical"
	TierDead       SurvivalTier = "dead"
)

// LogLevel 是日志条目的类别标签。
type LogLevel string

const (
	LogInfo      LogLevel = "info"
	LogWarn      LogLevel = "warn"
	LogError     LogLevel = "error"
	LogAction    LogLevel = "action"
	LogEarning   LogLevel = "earning"
	LogDirective LogLevel = "directive"
)

const (
	// PendingWallet 是沙箱尚未上报钱包地址时的占位值。
	PendingWallet = "0x0000000000000000000000000000000000000000"
	// PendingSandboxPrefix 标记由编排器合成的占位沙箱 ID，真实沙箱 ID 不会带此前缀。
	PendingSandboxPrefix = "pending-"

	DefaultModel          = "claude-sonnet-4-20250514"
	DefaultChainID  int64 = 8453
	DefaultCreatorPct     = 70
	DefaultPlatformPct    = 30
)

// Agent 是一次发射（代币 + 链下自治进程）的持久化记录。
type Agent struct {
	ID             string `json:"id"`
	CreatorID      string `json:"creator_id"`
	CreatorAddress string `json:"creator_address"`
	Name           string `json:"name"`
	Ticker         string `json:"ticker"`
	Description    string `json:"description"`
	GenesisPrompt  string `json:"genesis_prompt"`
	Model          string `json:"model"`

	Status       Status       `json:"status"`
	SurvivalTier SurvivalTier `json:"survival_tier"`

	CurrentBalance   float64 `json:"current_balance"`
	TotalEarned      float64 `json:"total_earned"`
	TotalSpent       float64 `json:"total_spent"`
	TotalTradingFees float64 `json:"total_trading_fees"`
	FeeCreatorPct    int     `json:"fee_creator_pct"`
	FeePlatformPct   int     `json:"fee_platform_pct"`

	// PoolID 是 PoolCreated 事件中的池 ID（bytes32），该池没有独立的合约地址。
	TokenAddress          string `json:"flaunch_token_address"`
	PoolID                string `json:"flaunch_pool_id,omitempty"`
	TokenID               string `json:"flaunch_nft_id,omitempty"`
	RevenueManagerAddress string `json:"revenue_manager_address,omitempty"`
	LaunchTxHash          string `json:"launch_tx_hash"`
	ChainID               int64  `json:"base_chain_id"`

	SandboxID     string `json:"conway_sandbox_id"`
	WalletAddress string `json:"agent_wallet_address"`

	Generation    int    `json:"generation"`
	ParentID      string `json:"parent_id,omitempty"`
	ChildrenCount int    `json:"children_count"`

	LastHeartbeat int64 `json:"last_heartbeat,omitempty"`
	CreatedAt     int64 `json:"created_at"`
	UpdatedAt     int64 `json:"updated_at"`
}

// Log 是只追加的事件记录。Seq 在创建时间相同时保持插入顺序。
type Log struct {
	ID        string         `json:"id"`
	AgentID   string         `json:"agent_id"`
	Level     LogLevel       `json:"level"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Seq       int64          `json:"seq"`
	CreatedAt int64          `json:"created_at"`
}

// Earning 是收入流水。
type Earning struct {
	ID          string  `json:"id"`
	AgentID     string  `json:"agent_id"`
	Amount      float64 `json:"amount"`
	Source      string  `json:"source"`
	Description string  `json:"description,omitempty"`
	TxHash      string  `json:"tx_hash,omitempty"`
	CreatedAt   int64   `json:"created_at"`
}

// Expense 是支出流水。
type Expense struct {
	ID          string  `json:"id"`
	AgentID     string  `json:"agent_id"`
	Amount      float64 `json:"amount"`
	Category    string  `json:"category"`
	Description string  `json:"description,omitempty"`
	TxHash      string  `json:"tx_hash,omitempty"`
	CreatedAt   int64   `json:"created_at"`
}

// Funding 记录创建者为智能体注资。
type Funding struct {
	ID        string  `json:"id"`
	AgentID   string  `json:"agent_id"`
	FunderID  string  `json:"funder_id"`
	Amount    float64 `json:"amount"`
	TxHash    string  `json:"tx_hash,omitempty"`
	CreatedAt int64   `json:"created_at"`
}

// Totals 是从流水重新汇总得到的聚合值，仅用于对账。
type Totals struct {
	Earned      float64 `json:"earned"`
	Spent       float64 `json:"spent"`
	TradingFees float64 `json:"trading_fees"`
}

var (
	// ErrAgentNotFound 表示智能体不存在。
	ErrAgentNotFound = xerrors.New(xerrors.CodeNotFound, "agent not found")
	// ErrAgentConflict 表示 ID、沙箱或代币地址已被占用。
	ErrAgentConflict = xerrors.New(xerrors.CodeConflict, "agent already exists")
	// ErrAgentDead 表示智能体已处于终止状态，写入被拒绝。
	ErrAgentDead = xerrors.New(xerrors.CodeAgentDead, "agent is dead")
	// ErrAlreadyProvisioned 表示沙箱与钱包已经写入最终值。
	ErrAlreadyProvisioned = xerrors.New(xerrors.CodeConflict, "agent sandbox already provisioned")
)

// InvariantError 构造不变量冲突错误。
func InvariantError(format string, args ...any) *xerrors.Error {
	return xerrors.New(xerrors.CodeInvariantViolation, fmt.Sprintf(format, args...))
}

// IsValidStatus 判断状态是否合法。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusDeploying, StatusAlive, StatusLowCompute, StatusCritical, StatusDead:
		return true
	}
	return false
}

// IsValidTier 判断生存等级是否合法。
func IsValidTier(tier SurvivalTier) bool {
	switch tier {
	case TierNormal, TierLowCompute, TierCritical, TierDead:
		return true
	}
	return false
}

// IsValidLogLevel 判断日志级别是否合法。
func IsValidLogLevel(level LogLevel) bool {
	switch level {
	case LogInfo, LogWarn, LogError, LogAction, LogEarning, LogDirective:
		return true
	}
	return false
}

// NewID 生成实体 ID。
func NewID() string {
	return uuid.NewString()
}

// NewPendingSandboxID 生成占位沙箱 ID。
func NewPendingSandboxID() string {
	return PendingSandboxPrefix + uuid.NewString()
}

// IsPendingSandbox 判断沙箱 ID 是否仍为占位值。
func IsPendingSandbox(id string) bool {
	return id == "" || strings.HasPrefix(id, PendingSandboxPrefix)
}

// IsPendingWallet 判断钱包地址是否仍为占位值。
func IsPendingWallet(addr string) bool {
	return addr == "" || strings.EqualFold(addr, PendingWallet)
}

// NormalizeTicker 保证 ticker 以 $ 开头。
func NormalizeTicker(ticker string) string {
	ticker = strings.TrimSpace(ticker)
	if ticker == "" || strings.HasPrefix(ticker, "$") {
		return ticker
	}
	return "$" + ticker
}

// Symbol 返回链上使用的代币符号（去掉 $）。
func Symbol(ticker string) string {
	return strings.TrimPrefix(strings.TrimSpace(ticker), "$")
}

// ValidateFeeSplit 校验分成比例之和为 100。
func ValidateFeeSplit(creatorPct, platformPct int) error {
	if creatorPct < 0 || platformPct < 0 || creatorPct > 100 || platformPct > 100 {
		return InvariantError("fee split out of range: creator=%d platform=%d", creatorPct, platformPct)
	}
	if creatorPct+platformPct != 100 {
		return InvariantError("fee split must sum to 100: creator=%d platform=%d", creatorPct, platformPct)
	}
	return nil
}

// Validate 在写入前校验新建记录的不变量。
func (a *Agent) Validate() error {
	if a == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "agent 不能为空")
	}
	if strings.TrimSpace(a.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "agent ID 不能为空")
	}
	if strings.TrimSpace(a.Name) == "" || strings.TrimSpace(a.Ticker) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "agent name 与 ticker 不能为空")
	}
	if strings.TrimSpace(a.GenesisPrompt) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "genesis prompt 不能为空")
	}
	if err := ValidateFeeSplit(a.FeeCreatorPct, a.FeePlatformPct); err != nil {
		return err
	}
	if !IsValidStatus(a.Status) {
		return InvariantError("unknown status %q", a.Status)
	}
	if !IsValidTier(a.SurvivalTier) {
		return InvariantError("unknown survival tier %q", a.SurvivalTier)
	}
	if (a.Status == StatusDead) != (a.SurvivalTier == TierDead) {
		return InvariantError("status %q inconsistent with survival tier %q", a.Status, a.SurvivalTier)
	}
	if strings.TrimSpace(a.SandboxID) == "" {
		return InvariantError("sandbox id must be set or pending")
	}
	if a.ChildrenCount < 0 || a.Generation < 1 {
		return InvariantError("invalid lineage: generation=%d children=%d", a.Generation, a.ChildrenCount)
	}
	return nil
}

// ApplyDefaults 为空字段填充默认值。
func (a *Agent) ApplyDefaults() {
	if a.Model == "" {
		a.Model = DefaultModel
	}
	if a.Status == "" {
		a.Status = StatusDeploying
	}
	if a.SurvivalTier == "" {
		a.SurvivalTier = TierNormal
	}
	if a.FeeCreatorPct == 0 && a.FeePlatformPct == 0 {
		a.FeeCreatorPct = DefaultCreatorPct
		a.FeePlatformPct = DefaultPlatformPct
	}
	if a.ChainID == 0 {
		a.ChainID = DefaultChainID
	}
	if a.Generation == 0 {
		a.Generation = 1
	}
	if a.SandboxID == "" {
		a.SandboxID = NewPendingSandboxID()
	}
	if a.WalletAddress == "" {
		a.WalletAddress = PendingWallet
	}
	a.Ticker = NormalizeTicker(a.Ticker)
}

// Clone 返回深拷贝。
func (a *Agent) Clone() *Agent {
	if a == nil {
		return nil
	}
	clone := *a
	return &clone
}

// Clone 返回深拷贝。
func (l *Log) Clone() *Log {
	if l == nil {
		return nil
	}
	clone := *l
	clone.Metadata = cloneMetadata(l.Metadata)
	return &clone
}

func cloneMetadata(metadata map[string]any) map[string]any {
	if len(metadata) == 0 {
		return nil
	}
	clone := make(map[string]any, len(metadata))
	for k, v := range metadata {
		clone[k] = v
	}
	return clone
}

// FormatAmount 以最短形式格式化金额（12.5、10），用于日志消息。
func FormatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', -1, 64)
}
