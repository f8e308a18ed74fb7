package agent

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "ALiFe-Chain/internal/errors"
)

// MemoryStore 以内存方式保存智能体状态，用于开发与测试。
type MemoryStore struct {
	mu        sync.RWMutex
	agents    map[string]*Agent
	bySandbox map[string]string
	byToken   map[string]string
	logs      []*Log
	earnings  []*Earning
	expenses  []*Expense
	fundings  []*Funding
	seq       int64
	now       func() time.Time
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:    make(map[string]*Agent),
		bySandbox: make(map[string]string),
		byToken:   make(map[string]string),
		now:       time.Now,
	}
}

func (m *MemoryStore) timestamp() int64 {
	return m.now().UnixMilli()
}

// CreateAgent 实现 Store 接口。
func (m *MemoryStore) CreateAgent(_ context.Context, agent *Agent) error {
	if err := agent.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.agents[agent.ID]; ok {
		return ErrAgentConflict
	}
	if _, ok := m.bySandbox[agent.SandboxID]; ok {
		return ErrAgentConflict
	}
	token := tokenKey(agent.TokenAddress)
	if token != "" {
		if _, ok := m.byToken[token]; ok {
			return ErrAgentConflict
		}
	}

	now := m.timestamp()
	if agent.CreatedAt == 0 {
		agent.CreatedAt = now
	}
	agent.UpdatedAt = now

	m.agents[agent.ID] = agent.Clone()
	m.bySandbox[agent.SandboxID] = agent.ID
	if token != "" {
		m.byToken[token] = agent.ID
	}
	return nil
}

// GetAgent 返回智能体。
func (m *MemoryStore) GetAgent(_ context.Context, id string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agent, ok := m.agents[id]
	if !ok {
		return nil, ErrAgentNotFound
	}
	return agent.Clone(), nil
}

// GetAgentBySandbox 通过沙箱 ID 查找智能体。
func (m *MemoryStore) GetAgentBySandbox(_ context.Context, sandboxID string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.bySandbox[sandboxID]
	if !ok {
		return nil, ErrAgentNotFound
	}
	return m.agents[id].Clone(), nil
}

// GetAgentByToken 通过代币地址查找智能体。
func (m *MemoryStore) GetAgentByToken(_ context.Context, tokenAddress string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byToken[tokenKey(tokenAddress)]
	if !ok {
		return nil, ErrAgentNotFound
	}
	return m.agents[id].Clone(), nil
}

// ListAgents 按累计收入降序返回智能体。
func (m *MemoryStore) ListAgents(_ context.Context, opts ListOptions) ([]*Agent, error) {
	opts.ApplyDefaults()
	m.mu.RLock()
	defer m.mu.RUnlock()

	statusSet := make(map[Status]struct{}, len(opts.Statuses))
	for _, status := range opts.Statuses {
		statusSet[status] = struct{}{}
	}

	matched := make([]*Agent, 0, len(m.agents))
	for _, agent := range m.agents {
		if len(statusSet) > 0 {
			if _, ok := statusSet[agent.Status]; !ok {
				continue
			}
		}
		if opts.CreatorID != "" && agent.CreatorID != opts.CreatorID {
			continue
		}
		matched = append(matched, agent)
	}

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if opts.Order == SortByEarnedDesc && a.TotalEarned != b.TotalEarned {
			return a.TotalEarned > b.TotalEarned
		}
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt > b.CreatedAt
		}
		return a.ID > b.ID
	})

	if opts.Offset >= len(matched) {
		return []*Agent{}, nil
	}
	end := opts.Offset + opts.Limit
	if end > len(matched) {
		end = len(matched)
	}
	result := make([]*Agent, 0, end-opts.Offset)
	for _, agent := range matched[opts.Offset:end] {
		result = append(result, agent.Clone())
	}
	return result, nil
}

// UpdateFeeSplit 更新分成比例。
func (m *MemoryStore) UpdateFeeSplit(_ context.Context, id string, creatorPct, platformPct int) error {
	if err := ValidateFeeSplit(creatorPct, platformPct); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	agent, err := m.living(id)
	if err != nil {
		return err
	}
	agent.FeeCreatorPct = creatorPct
	agent.FeePlatformPct = platformPct
	agent.UpdatedAt = m.timestamp()
	return nil
}

// RecordHeartbeat 覆盖余额并推导生存等级与状态。
func (m *MemoryStore) RecordHeartbeat(_ context.Context, id string, hb Heartbeat) error {
	if err := ValidateHeartbeat(hb); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	agent, err := m.living(id)
	if err != nil {
		return err
	}
	if hb.WalletAddress != "" && IsPendingWallet(agent.WalletAddress) {
		agent.WalletAddress = hb.WalletAddress
	}
	agent.Status = NextStatus(agent.Status, !IsPendingWallet(agent.WalletAddress), hb.Tier)
	agent.SurvivalTier = hb.Tier
	agent.CurrentBalance = hb.Balance
	now := m.timestamp()
	agent.LastHeartbeat = hb.At
	if agent.LastHeartbeat == 0 {
		agent.LastHeartbeat = now
	}
	agent.UpdatedAt = now
	return nil
}

// RecordEarning 追加收入流水与日志，并更新累计收入。
func (m *MemoryStore) RecordEarning(_ context.Context, earning *Earning, log *Log) error {
	if earning == nil || strings.TrimSpace(earning.AgentID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "earning 缺少 agent ID")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	agent, err := m.living(earning.AgentID)
	if err != nil {
		return err
	}
	if err := m.checkLog(log, agent.ID); err != nil {
		return err
	}
	now := m.timestamp()
	fillEntity(&earning.ID, &earning.CreatedAt, now)
	copyEarning := *earning
	m.earnings = append(m.earnings, &copyEarning)

	agent.TotalEarned += earning.Amount
	if IsTradingFeeSource(earning.Source) {
		agent.TotalTradingFees += earning.Amount
	}
	agent.UpdatedAt = now
	m.appendLogLocked(log, now)
	return nil
}

// RecordExpense 追加支出流水并更新累计支出。
func (m *MemoryStore) RecordExpense(_ context.Context, expense *Expense) error {
	if expense == nil || strings.TrimSpace(expense.AgentID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "expense 缺少 agent ID")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	agent, err := m.living(expense.AgentID)
	if err != nil {
		return err
	}
	now := m.timestamp()
	fillEntity(&expense.ID, &expense.CreatedAt, now)
	copyExpense := *expense
	m.expenses = append(m.expenses, &copyExpense)
	agent.TotalSpent += expense.Amount
	agent.UpdatedAt = now
	return nil
}

// RecordFunding 记录一次注资及对应日志。
func (m *MemoryStore) RecordFunding(_ context.Context, funding *Funding, log *Log) error {
	if funding == nil || strings.TrimSpace(funding.AgentID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "funding 缺少 agent ID")
	}
	if funding.Amount <= 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "注资金额必须为正数")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	agent, err := m.living(funding.AgentID)
	if err != nil {
		return err
	}
	if err := m.checkLog(log, agent.ID); err != nil {
		return err
	}
	now := m.timestamp()
	fillEntity(&funding.ID, &funding.CreatedAt, now)
	copyFunding := *funding
	m.fundings = append(m.fundings, &copyFunding)
	agent.UpdatedAt = now
	m.appendLogLocked(log, now)
	return nil
}

// RecordReplication 更新子代数量并记录日志。
func (m *MemoryStore) RecordReplication(_ context.Context, id string, childrenCount int, log *Log) error {
	if childrenCount < 0 {
		return InvariantError("children count cannot be negative: %d", childrenCount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	agent, err := m.living(id)
	if err != nil {
		return err
	}
	if err := m.checkLog(log, agent.ID); err != nil {
		return err
	}
	now := m.timestamp()
	agent.ChildrenCount = childrenCount
	agent.UpdatedAt = now
	m.appendLogLocked(log, now)
	return nil
}

// MarkDead 将智能体标记为死亡并记录原因。
func (m *MemoryStore) MarkDead(_ context.Context, id string, log *Log) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	agent, err := m.living(id)
	if err != nil {
		return err
	}
	if err := m.checkLog(log, agent.ID); err != nil {
		return err
	}
	now := m.timestamp()
	agent.Status = StatusDead
	agent.SurvivalTier = TierDead
	agent.UpdatedAt = now
	m.appendLogLocked(log, now)
	return nil
}

// CompleteProvisioning 将占位的沙箱与钱包替换为最终值，只允许一次。
func (m *MemoryStore) CompleteProvisioning(_ context.Context, id, sandboxID, walletAddress string, status Status) error {
	if err := ValidateProvisioning(sandboxID, status); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	agent, err := m.living(id)
	if err != nil {
		return err
	}
	if !IsPendingSandbox(agent.SandboxID) {
		return ErrAlreadyProvisioned
	}
	if _, taken := m.bySandbox[sandboxID]; taken {
		return ErrAgentConflict
	}
	delete(m.bySandbox, agent.SandboxID)
	agent.SandboxID = sandboxID
	m.bySandbox[sandboxID] = agent.ID
	if walletAddress != "" && IsPendingWallet(agent.WalletAddress) {
		agent.WalletAddress = walletAddress
	}
	if status == StatusAlive && IsPendingWallet(agent.WalletAddress) {
		status = StatusDeploying
	}
	agent.Status = status
	agent.UpdatedAt = m.timestamp()
	return nil
}

// AppendLog 追加一条日志。死亡的智能体仍然可以追加日志。
func (m *MemoryStore) AppendLog(_ context.Context, log *Log) error {
	if log == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "log 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[log.AgentID]; !ok {
		return ErrAgentNotFound
	}
	if err := m.checkLog(log, log.AgentID); err != nil {
		return err
	}
	m.appendLogLocked(log, m.timestamp())
	return nil
}

// ListLogs 返回最近的日志，按创建时间与插入顺序倒序。
func (m *MemoryStore) ListLogs(_ context.Context, agentID string, limit int) ([]*Log, error) {
	limit = clampLimit(limit)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched []*Log
	for _, log := range m.logs {
		if log.AgentID == agentID {
			matched = append(matched, log)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].CreatedAt != matched[j].CreatedAt {
			return matched[i].CreatedAt > matched[j].CreatedAt
		}
		return matched[i].Seq > matched[j].Seq
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	result := make([]*Log, 0, len(matched))
	for _, log := range matched {
		result = append(result, log.Clone())
	}
	return result, nil
}

// ListEarnings 返回最近的收入流水。
func (m *MemoryStore) ListEarnings(_ context.Context, agentID string, limit int) ([]*Earning, error) {
	limit = clampLimit(limit)
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*Earning, 0, limit)
	for i := len(m.earnings) - 1; i >= 0 && len(result) < limit; i-- {
		if m.earnings[i].AgentID == agentID {
			copyEarning := *m.earnings[i]
			result = append(result, &copyEarning)
		}
	}
	return result, nil
}

// ListExpenses 返回最近的支出流水。
func (m *MemoryStore) ListExpenses(_ context.Context, agentID string, limit int) ([]*Expense, error) {
	limit = clampLimit(limit)
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*Expense, 0, limit)
	for i := len(m.expenses) - 1; i >= 0 && len(result) < limit; i-- {
		if m.expenses[i].AgentID == agentID {
			copyExpense := *m.expenses[i]
			result = append(result, &copyExpense)
		}
	}
	return result, nil
}

// ReconcileTotals 从流水重新汇总聚合值。
func (m *MemoryStore) ReconcileTotals(_ context.Context, agentID string) (Totals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.agents[agentID]; !ok {
		return Totals{}, ErrAgentNotFound
	}
	var totals Totals
	for _, e := range m.earnings {
		if e.AgentID != agentID {
			continue
		}
		totals.Earned += e.Amount
		if IsTradingFeeSource(e.Source) {
			totals.TradingFees += e.Amount
		}
	}
	for _, e := range m.expenses {
		if e.AgentID == agentID {
			totals.Spent += e.Amount
		}
	}
	return totals, nil
}

// Close 实现 Store 接口。
func (m *MemoryStore) Close() error { return nil }

// living 返回可修改的智能体，调用方需持有写锁。
func (m *MemoryStore) living(id string) (*Agent, error) {
	agent, ok := m.agents[id]
	if !ok {
		return nil, ErrAgentNotFound
	}
	if agent.Status == StatusDead {
		return nil, ErrAgentDead
	}
	return agent, nil
}

func (m *MemoryStore) checkLog(log *Log, agentID string) error {
	return PrepareLog(log, agentID)
}

// PrepareLog 将日志绑定到智能体并校验级别，log 为空时直接返回。
func PrepareLog(log *Log, agentID string) error {
	if log == nil {
		return nil
	}
	if log.AgentID == "" {
		log.AgentID = agentID
	}
	if log.AgentID != agentID {
		return InvariantError("log agent %s does not match %s", log.AgentID, agentID)
	}
	if !IsValidLogLevel(log.Level) {
		return xerrors.New(xerrors.CodeInvalidArgument, "未知的日志级别: "+string(log.Level))
	}
	return nil
}

func (m *MemoryStore) appendLogLocked(log *Log, now int64) {
	if log == nil {
		return
	}
	m.seq++
	log.Seq = m.seq
	fillEntity(&log.ID, &log.CreatedAt, now)
	m.logs = append(m.logs, log.Clone())
}

// ValidateHeartbeat 拒绝试图通过心跳杀死智能体或写入未知等级的请求。
func ValidateHeartbeat(hb Heartbeat) error {
	if !IsValidTier(hb.Tier) || hb.Tier == TierDead {
		return InvariantError("heartbeat cannot set survival tier %q", hb.Tier)
	}
	return nil
}

// ValidateProvisioning 校验沙箱最终值与目标状态。
func ValidateProvisioning(sandboxID string, status Status) error {
	if IsPendingSandbox(sandboxID) {
		return InvariantError("sandbox id %q is still a placeholder", sandboxID)
	}
	if status != StatusAlive && status != StatusDeploying {
		return InvariantError("provisioning cannot set status %q", status)
	}
	return nil
}

func fillEntity(id *string, createdAt *int64, now int64) {
	if *id == "" {
		*id = NewID()
	}
	if *createdAt == 0 {
		*createdAt = now
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func tokenKey(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
