package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	"ALiFe-Chain/internal/agent"
	xerrors "ALiFe-Chain/internal/errors"

	"github.com/go-sql-driver/mysql"
)

const (
	mysqlErrDuplicateEntry = 1062
	mysqlErrNoReferenced   = 1452
)

const agentColumns = `id, creator_id, creator_address, name, ticker, description, genesis_prompt, model,
        status, survival_tier, current_balance, total_earned, total_spent, total_trading_fees,
        fee_creator_pct, fee_platform_pct, flaunch_token_address, flaunch_pool_id, flaunch_nft_id,
        revenue_manager_address, launch_tx_hash, base_chain_id, conway_sandbox_id, agent_wallet_address,
        generation, parent_id, children_count, last_heartbeat, created_at, updated_at`

// AgentStore 基于 MySQL 实现 agent.Store。
type AgentStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ agent.Store = (*AgentStore)(nil)

// NewAgentStore 建立连接，cfg.AutoMigrate 为 true 时执行内嵌迁移。
func NewAgentStore(ctx context.Context, cfg Config) (*AgentStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 MySQL 失败")
	}
	return setupAgentStore(ctx, db, cfg.AutoMigrate)
}

func setupAgentStore(ctx context.Context, db *sql.DB, autoMigrate bool) (*AgentStore, error) {
	store := newAgentStore(db)
	if !autoMigrate {
		return store, nil
	}
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func newAgentStore(db *sql.DB) *AgentStore {
	return &AgentStore{db: db, now: time.Now}
}

func (s *AgentStore) timestamp() int64 {
	return s.now().UnixMilli()
}

// CreateAgent 插入新的智能体记录。
func (s *AgentStore) CreateAgent(ctx context.Context, a *agent.Agent) error {
	if err := a.Validate(); err != nil {
		return err
	}
	now := s.timestamp()
	if a.CreatedAt == 0 {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	const stmt = `INSERT INTO agents (` + agentColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, stmt,
		a.ID, a.CreatorID, a.CreatorAddress, a.Name, a.Ticker, a.Description, a.GenesisPrompt, a.Model,
		string(a.Status), string(a.SurvivalTier), a.CurrentBalance, a.TotalEarned, a.TotalSpent, a.TotalTradingFees,
		a.FeeCreatorPct, a.FeePlatformPct, a.TokenAddress, a.PoolID, a.TokenID,
		a.RevenueManagerAddress, a.LaunchTxHash, a.ChainID, a.SandboxID, a.WalletAddress,
		a.Generation, a.ParentID, a.ChildrenCount, a.LastHeartbeat, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if isMySQLError(err, mysqlErrDuplicateEntry) {
			return agent.ErrAgentConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入智能体失败")
	}
	return nil
}

// GetAgent 查询指定智能体。
func (s *AgentStore) GetAgent(ctx context.Context, id string) (*agent.Agent, error) {
	return s.getBy(ctx, "id", id)
}

// GetAgentBySandbox 通过沙箱 ID 查询智能体。
func (s *AgentStore) GetAgentBySandbox(ctx context.Context, sandboxID string) (*agent.Agent, error) {
	return s.getBy(ctx, "conway_sandbox_id", sandboxID)
}

// GetAgentByToken 通过代币地址查询智能体，列排序规则不区分大小写。
func (s *AgentStore) GetAgentByToken(ctx context.Context, tokenAddress string) (*agent.Agent, error) {
	return s.getBy(ctx, "flaunch_token_address", strings.TrimSpace(tokenAddress))
}

func (s *AgentStore) getBy(ctx context.Context, column, value string) (*agent.Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE `+column+` = ?`, value)
	a, err := scanAgent(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, agent.ErrAgentNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询智能体失败")
	}
	return a, nil
}

// ListAgents 默认按累计收入降序返回智能体。
func (s *AgentStore) ListAgents(ctx context.Context, opts agent.ListOptions) ([]*agent.Agent, error) {
	opts.ApplyDefaults()

	var (
		clauses []string
		args    []any
	)
	if len(opts.Statuses) > 0 {
		placeholders := make([]string, len(opts.Statuses))
		for i, status := range opts.Statuses {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		clauses = append(clauses, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if opts.CreatorID != "" {
		clauses = append(clauses, "creator_id = ?")
		args = append(args, opts.CreatorID)
	}

	query := `SELECT ` + agentColumns + ` FROM agents`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	if opts.Order == agent.SortByCreatedDesc {
		query += ` ORDER BY created_at DESC, id DESC`
	} else {
		query += ` ORDER BY total_earned DESC, created_at DESC, id DESC`
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询智能体列表失败")
	}
	defer rows.Close()

	result := make([]*agent.Agent, 0, opts.Limit)
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析智能体失败")
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历智能体失败")
	}
	return result, nil
}

// UpdateFeeSplit 更新分成比例。
func (s *AgentStore) UpdateFeeSplit(ctx context.Context, id string, creatorPct, platformPct int) error {
	if err := agent.ValidateFeeSplit(creatorPct, platformPct); err != nil {
		return err
	}
	const stmt = `UPDATE agents SET fee_creator_pct = ?, fee_platform_pct = ?, updated_at = ?
        WHERE id = ? AND status <> ?`
	return s.execLiving(ctx, id, stmt, creatorPct, platformPct, s.timestamp(), id, string(agent.StatusDead))
}

// RecordHeartbeat 以单条条件更新覆盖余额，并在同一语句中推导状态与回填钱包。
// MySQL 自左向右求值 SET 子句，status 必须位于 agent_wallet_address 之前。
func (s *AgentStore) RecordHeartbeat(ctx context.Context, id string, hb agent.Heartbeat) error {
	if err := agent.ValidateHeartbeat(hb); err != nil {
		return err
	}
	now := s.timestamp()
	at := hb.At
	if at == 0 {
		at = now
	}
	wallet := strings.TrimSpace(hb.WalletAddress)

	const stmt = `UPDATE agents SET
        status = CASE WHEN status IN (?, ?) AND agent_wallet_address IN ('', ?) AND ? = '' THEN status ELSE ? END,
        agent_wallet_address = CASE WHEN agent_wallet_address IN ('', ?) AND ? <> '' THEN ? ELSE agent_wallet_address END,
        survival_tier = ?, current_balance = ?, last_heartbeat = ?, updated_at = ?
        WHERE id = ? AND status <> ?`

	return s.execLiving(ctx, id, stmt,
		string(agent.StatusPending), string(agent.StatusDeploying), agent.PendingWallet, wallet, string(agent.StatusForTier(hb.Tier)),
		agent.PendingWallet, wallet, wallet,
		string(hb.Tier), hb.Balance, at, now,
		id, string(agent.StatusDead),
	)
}

// RecordEarning 在同一事务中累加收入、写入流水与日志。
func (s *AgentStore) RecordEarning(ctx context.Context, earning *agent.Earning, log *agent.Log) error {
	if earning == nil || strings.TrimSpace(earning.AgentID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "earning 缺少 agent ID")
	}
	if err := agent.PrepareLog(log, earning.AgentID); err != nil {
		return err
	}
	now := s.timestamp()
	fillEntity(&earning.ID, &earning.CreatedAt, now)

	tradingFees := 0.0
	if agent.IsTradingFeeSource(earning.Source) {
		tradingFees = earning.Amount
	}

	return s.mutate(ctx, earning.AgentID, func(tx *sql.Tx) (bool, error) {
		const update = `UPDATE agents SET total_earned = total_earned + ?, total_trading_fees = total_trading_fees + ?, updated_at = ?
        WHERE id = ? AND status <> ?`
		ok, err := execMatched(ctx, tx, update, earning.Amount, tradingFees, now, earning.AgentID, string(agent.StatusDead))
		if err != nil || !ok {
			return ok, err
		}
		const insert = `INSERT INTO agent_earnings (id, agent_id, amount, source, description, tx_hash, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, insert, earning.ID, earning.AgentID, earning.Amount, earning.Source,
			earning.Description, earning.TxHash, earning.CreatedAt); err != nil {
			return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入收入流水失败")
		}
		return true, insertLog(ctx, tx, log, now)
	})
}

// RecordExpense 在同一事务中累加支出并写入流水。
func (s *AgentStore) RecordExpense(ctx context.Context, expense *agent.Expense) error {
	if expense == nil || strings.TrimSpace(expense.AgentID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "expense 缺少 agent ID")
	}
	now := s.timestamp()
	fillEntity(&expense.ID, &expense.CreatedAt, now)

	return s.mutate(ctx, expense.AgentID, func(tx *sql.Tx) (bool, error) {
		const update = `UPDATE agents SET total_spent = total_spent + ?, updated_at = ? WHERE id = ? AND status <> ?`
		ok, err := execMatched(ctx, tx, update, expense.Amount, now, expense.AgentID, string(agent.StatusDead))
		if err != nil || !ok {
			return ok, err
		}
		const insert = `INSERT INTO agent_expenses (id, agent_id, amount, category, description, tx_hash, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, insert, expense.ID, expense.AgentID, expense.Amount, expense.Category,
			expense.Description, expense.TxHash, expense.CreatedAt); err != nil {
			return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入支出流水失败")
		}
		return true, nil
	})
}

// RecordFunding 记录一次注资及对应日志。
func (s *AgentStore) RecordFunding(ctx context.Context, funding *agent.Funding, log *agent.Log) error {
	if funding == nil || strings.TrimSpace(funding.AgentID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "funding 缺少 agent ID")
	}
	if funding.Amount <= 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "注资金额必须为正数")
	}
	if err := agent.PrepareLog(log, funding.AgentID); err != nil {
		return err
	}
	now := s.timestamp()
	fillEntity(&funding.ID, &funding.CreatedAt, now)

	return s.mutate(ctx, funding.AgentID, func(tx *sql.Tx) (bool, error) {
		ok, err := execMatched(ctx, tx, `UPDATE agents SET updated_at = ? WHERE id = ? AND status <> ?`,
			now, funding.AgentID, string(agent.StatusDead))
		if err != nil || !ok {
			return ok, err
		}
		const insert = `INSERT INTO funding_events (id, agent_id, funder_id, amount, tx_hash, created_at)
        VALUES (?, ?, ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, insert, funding.ID, funding.AgentID, funding.FunderID, funding.Amount,
			funding.TxHash, funding.CreatedAt); err != nil {
			return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入注资记录失败")
		}
		return true, insertLog(ctx, tx, log, now)
	})
}

// RecordReplication 更新子代数量并记录日志。
func (s *AgentStore) RecordReplication(ctx context.Context, id string, childrenCount int, log *agent.Log) error {
	if childrenCount < 0 {
		return agent.InvariantError("children count cannot be negative: %d", childrenCount)
	}
	if err := agent.PrepareLog(log, id); err != nil {
		return err
	}
	now := s.timestamp()
	return s.mutate(ctx, id, func(tx *sql.Tx) (bool, error) {
		ok, err := execMatched(ctx, tx, `UPDATE agents SET children_count = ?, updated_at = ? WHERE id = ? AND status <> ?`,
			childrenCount, now, id, string(agent.StatusDead))
		if err != nil || !ok {
			return ok, err
		}
		return true, insertLog(ctx, tx, log, now)
	})
}

// MarkDead 将智能体置为终止状态并记录原因。已死亡时返回 ErrAgentDead 且不写日志。
func (s *AgentStore) MarkDead(ctx context.Context, id string, log *agent.Log) error {
	if err := agent.PrepareLog(log, id); err != nil {
		return err
	}
	now := s.timestamp()
	return s.mutate(ctx, id, func(tx *sql.Tx) (bool, error) {
		ok, err := execMatched(ctx, tx, `UPDATE agents SET status = ?, survival_tier = ?, updated_at = ? WHERE id = ? AND status <> ?`,
			string(agent.StatusDead), string(agent.TierDead), now, id, string(agent.StatusDead))
		if err != nil || !ok {
			return ok, err
		}
		return true, insertLog(ctx, tx, log, now)
	})
}

// CompleteProvisioning 仅当沙箱仍为占位值时写入最终沙箱与钱包。
func (s *AgentStore) CompleteProvisioning(ctx context.Context, id, sandboxID, walletAddress string, status agent.Status) error {
	if err := agent.ValidateProvisioning(sandboxID, status); err != nil {
		return err
	}
	wallet := strings.TrimSpace(walletAddress)

	const stmt = `UPDATE agents SET conway_sandbox_id = ?,
        status = CASE WHEN ? = ? AND agent_wallet_address IN ('', ?) AND ? = '' THEN ? ELSE ? END,
        agent_wallet_address = CASE WHEN agent_wallet_address IN ('', ?) AND ? <> '' THEN ? ELSE agent_wallet_address END,
        updated_at = ?
        WHERE id = ? AND status <> ? AND conway_sandbox_id LIKE ?`

	res, err := s.db.ExecContext(ctx, stmt,
		sandboxID,
		string(status), string(agent.StatusAlive), agent.PendingWallet, wallet, string(agent.StatusDeploying), string(status),
		agent.PendingWallet, wallet, wallet,
		s.timestamp(),
		id, string(agent.StatusDead), agent.PendingSandboxPrefix+"%",
	)
	if err != nil {
		if isMySQLError(err, mysqlErrDuplicateEntry) {
			return agent.ErrAgentConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入沙箱信息失败")
	}
	if affected, err := res.RowsAffected(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	} else if affected > 0 {
		return nil
	}
	if err := s.classifyMiss(ctx, id); err != nil {
		return err
	}
	return agent.ErrAlreadyProvisioned
}

// AppendLog 追加日志，死亡的智能体同样允许。
func (s *AgentStore) AppendLog(ctx context.Context, log *agent.Log) error {
	if log == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "log 不能为空")
	}
	if err := agent.PrepareLog(log, log.AgentID); err != nil {
		return err
	}
	return insertLog(ctx, s.db, log, s.timestamp())
}

// ListLogs 按创建时间与插入顺序倒序返回日志。
func (s *AgentStore) ListLogs(ctx context.Context, agentID string, limit int) ([]*agent.Log, error) {
	const stmt = `SELECT id, agent_id, level, message, metadata, seq, created_at
        FROM agent_logs WHERE agent_id = ? ORDER BY created_at DESC, seq DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, stmt, agentID, clampLimit(limit))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询日志失败")
	}
	defer rows.Close()

	var logs []*agent.Log
	for rows.Next() {
		var (
			entry    agent.Log
			level    string
			metadata sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.AgentID, &level, &entry.Message, &metadata, &entry.Seq, &entry.CreatedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析日志失败")
		}
		entry.Level = agent.LogLevel(level)
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &entry.Metadata); err != nil {
				return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析日志 metadata 失败")
			}
		}
		logs = append(logs, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历日志失败")
	}
	return logs, nil
}

// ListEarnings 返回最近的收入流水。
func (s *AgentStore) ListEarnings(ctx context.Context, agentID string, limit int) ([]*agent.Earning, error) {
	const stmt = `SELECT id, agent_id, amount, source, description, tx_hash, created_at
        FROM agent_earnings WHERE agent_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, stmt, agentID, clampLimit(limit))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询收入流水失败")
	}
	defer rows.Close()

	var earnings []*agent.Earning
	for rows.Next() {
		var e agent.Earning
		if err := rows.Scan(&e.ID, &e.AgentID, &e.Amount, &e.Source, &e.Description, &e.TxHash, &e.CreatedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析收入流水失败")
		}
		earnings = append(earnings, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历收入流水失败")
	}
	return earnings, nil
}

// ListExpenses 返回最近的支出流水。
func (s *AgentStore) ListExpenses(ctx context.Context, agentID string, limit int) ([]*agent.Expense, error) {
	const stmt = `SELECT id, agent_id, amount, category, description, tx_hash, created_at
        FROM agent_expenses WHERE agent_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, stmt, agentID, clampLimit(limit))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询支出流水失败")
	}
	defer rows.Close()

	var expenses []*agent.Expense
	for rows.Next() {
		var e agent.Expense
		if err := rows.Scan(&e.ID, &e.AgentID, &e.Amount, &e.Category, &e.Description, &e.TxHash, &e.CreatedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析支出流水失败")
		}
		expenses = append(expenses, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历支出流水失败")
	}
	return expenses, nil
}

// ReconcileTotals 从流水表重新汇总聚合值。
func (s *AgentStore) ReconcileTotals(ctx context.Context, agentID string) (agent.Totals, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents WHERE id = ?`, agentID).Scan(&count); err != nil {
		return agent.Totals{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询智能体失败")
	}
	if count == 0 {
		return agent.Totals{}, agent.ErrAgentNotFound
	}

	var totals agent.Totals
	const earned = `SELECT COALESCE(SUM(amount), 0), COALESCE(SUM(CASE WHEN source IN ('swap_fee', 'trading_fee') THEN amount ELSE 0 END), 0)
        FROM agent_earnings WHERE agent_id = ?`
	if err := s.db.QueryRowContext(ctx, earned, agentID).Scan(&totals.Earned, &totals.TradingFees); err != nil {
		return agent.Totals{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "汇总收入失败")
	}
	const spent = `SELECT COALESCE(SUM(amount), 0) FROM agent_expenses WHERE agent_id = ?`
	if err := s.db.QueryRowContext(ctx, spent, agentID).Scan(&totals.Spent); err != nil {
		return agent.Totals{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "汇总支出失败")
	}
	return totals, nil
}

// Close 关闭连接池。
func (s *AgentStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// execLiving 执行针对存活智能体的单条条件更新。
func (s *AgentStore) execLiving(ctx context.Context, id, stmt string, args ...any) error {
	ok, err := execMatched(ctx, s.db, stmt, args...)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if err := s.classifyMiss(ctx, id); err != nil {
		return err
	}
	return xerrors.New(xerrors.CodeConflict, "智能体并发更新，请重试")
}

// mutate 在事务中执行 fn，fn 返回 false 表示条件更新未命中。
// 未命中时先回滚再分类，避免在单连接池上自锁。
func (s *AgentStore) mutate(ctx context.Context, id string, fn func(tx *sql.Tx) (bool, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}
	ok, err := fn(tx)
	if err != nil {
		tx.Rollback()
		return err
	}
	if !ok {
		tx.Rollback()
		if err := s.classifyMiss(ctx, id); err != nil {
			return err
		}
		return xerrors.New(xerrors.CodeConflict, "智能体并发更新，请重试")
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交事务失败")
	}
	return nil
}

// classifyMiss 区分条件更新未命中的原因：不存在或已死亡。两者都不是时返回 nil。
func (s *AgentStore) classifyMiss(ctx context.Context, id string) error {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM agents WHERE id = ?`, id).Scan(&status)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return agent.ErrAgentNotFound
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询智能体状态失败")
	}
	if agent.Status(status) == agent.StatusDead {
		return agent.ErrAgentDead
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func execMatched(ctx context.Context, db execer, stmt string, args ...any) (bool, error) {
	res, err := db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新智能体失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	return affected > 0, nil
}

func insertLog(ctx context.Context, db execer, log *agent.Log, now int64) error {
	if log == nil {
		return nil
	}
	fillEntity(&log.ID, &log.CreatedAt, now)
	metadata, err := marshalMetadata(log.Metadata)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码日志 metadata 失败")
	}
	const stmt = `INSERT INTO agent_logs (id, agent_id, level, message, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	res, err := db.ExecContext(ctx, stmt, log.ID, log.AgentID, string(log.Level), log.Message, metadata, log.CreatedAt)
	if err != nil {
		if isMySQLError(err, mysqlErrNoReferenced) {
			return agent.ErrAgentNotFound
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入日志失败")
	}
	if seq, err := res.LastInsertId(); err == nil {
		log.Seq = seq
	}
	return nil
}

func scanAgent(row rowScanner) (*agent.Agent, error) {
	var (
		a      agent.Agent
		status string
		tier   string
	)
	err := row.Scan(
		&a.ID, &a.CreatorID, &a.CreatorAddress, &a.Name, &a.Ticker, &a.Description, &a.GenesisPrompt, &a.Model,
		&status, &tier, &a.CurrentBalance, &a.TotalEarned, &a.TotalSpent, &a.TotalTradingFees,
		&a.FeeCreatorPct, &a.FeePlatformPct, &a.TokenAddress, &a.PoolID, &a.TokenID,
		&a.RevenueManagerAddress, &a.LaunchTxHash, &a.ChainID, &a.SandboxID, &a.WalletAddress,
		&a.Generation, &a.ParentID, &a.ChildrenCount, &a.LastHeartbeat, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Status = agent.Status(status)
	a.SurvivalTier = agent.SurvivalTier(tier)
	return &a, nil
}

func marshalMetadata(metadata map[string]any) (any, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func isMySQLError(err error, number uint16) bool {
	var mysqlErr *mysql.MySQLError
	return stdErrors.As(err, &mysqlErr) && mysqlErr.Number == number
}

func fillEntity(id *string, createdAt *int64, now int64) {
	if *id == "" {
		*id = agent.NewID()
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
