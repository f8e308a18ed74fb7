package launch

import (
	"context"
	"fmt"
	"strings"

	"ALiFe-Chain/internal/agent"
	"ALiFe-Chain/internal/conway"
	xerrors "ALiFe-Chain/internal/errors"
	"ALiFe-Chain/pkg/logger"
)

// MsgTerminated 是终止智能体时写入的日志。
const MsgTerminated = "Agent terminated by creator"

// RetryProvisioning 为仍处于占位沙箱的智能体重新申请沙箱，成功后一次性写入沙箱与钱包。
func (c *Coordinator) RetryProvisioning(ctx context.Context, agentID string) (*agent.Agent, error) {
	ctx = context.WithoutCancel(ctx)
	ctx, span := c.tracer.Start(ctx, "launch.RetryProvisioning")
	defer span.End()

	record, err := c.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if record.Status == agent.StatusDead {
		return nil, agent.ErrAgentDead
	}
	if !agent.IsPendingSandbox(record.SandboxID) {
		return nil, agent.ErrAlreadyProvisioned
	}
	if c.provisioner == nil {
		return nil, xerrors.New(xerrors.CodeExternalProviderUnavailable, "未配置托管服务", xerrors.WithMetadata("step", "provision"))
	}

	provisionCtx, cancel := context.WithTimeout(ctx, c.cfg.ProvisionTimeout)
	sandbox, err := c.provisioner.Provision(provisionCtx, conway.ProvisionRequest{
		AgentID:        record.ID,
		Name:           record.Name,
		Ticker:         record.Ticker,
		GenesisPrompt:  record.GenesisPrompt,
		CreatorAddress: record.CreatorAddress,
		TokenAddress:   record.TokenAddress,
		Model:          record.Model,
	})
	cancel()
	if err == nil && (sandbox == nil || agent.IsPendingSandbox(sandbox.SandboxID)) {
		err = xerrors.New(xerrors.CodeExternalProviderUnavailable, "托管服务返回了无效的沙箱 ID")
	}
	if err != nil {
		c.step("retry_provision", "failed")
		span.RecordError(err)
		if xerrors.CodeOf(err) == xerrors.CodeUnknown {
			err = xerrors.Wrap(xerrors.CodeExternalProviderUnavailable, err, "申请沙箱失败", xerrors.WithMetadata("step", "provision"))
		}
		return nil, err
	}

	wallet := sandbox.WalletAddress
	status := agent.StatusDeploying
	if sandbox.Alive() && !agent.IsPendingWallet(wallet) {
		status = agent.StatusAlive
	}
	if agent.IsPendingWallet(wallet) {
		wallet = ""
	}
	if err := c.store.CompleteProvisioning(ctx, record.ID, sandbox.SandboxID, wallet, status); err != nil {
		c.step("retry_provision", "failed")
		c.log.Error("写入沙箱信息失败，托管服务中可能残留沙箱", "agent_id", record.ID, "sandbox_id", sandbox.SandboxID, "error", err)
		return nil, err
	}
	c.step("retry_provision", "ok")

	entry := &agent.Log{
		AgentID: record.ID,
		Level:   agent.LogAction,
		Message: "Agent provisioned | Sandbox: " + sandbox.SandboxID,
		Metadata: map[string]any{
			"sandbox_id":   sandbox.SandboxID,
			"agent_wallet": sandbox.WalletAddress,
		},
	}
	if err := c.store.AppendLog(ctx, entry); err != nil {
		c.log.Warn("写入沙箱日志失败", "agent_id", record.ID, "error", err)
	}
	return c.store.GetAgent(ctx, record.ID)
}

// Fund 记录一次注资。沙箱已就绪时同时请求托管服务为智能体钱包注资，失败不影响记录。
func (c *Coordinator) Fund(ctx context.Context, agentID, funderID string, amount float64) (*agent.Funding, error) {
	if amount <= 0 {
		return nil, invalid("注资金额必须为正数")
	}
	if strings.TrimSpace(funderID) == "" {
		return nil, invalid("funder_id 不能为空")
	}
	record, err := c.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if record.Status == agent.StatusDead {
		return nil, agent.ErrAgentDead
	}

	funding := &agent.Funding{AgentID: record.ID, FunderID: funderID, Amount: amount}
	if c.provisioner != nil && !agent.IsPendingSandbox(record.SandboxID) {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.ProviderCallTimeout)
		res, err := c.provisioner.Fund(callCtx, record.SandboxID, amount, c.cfg.FundingCurrency)
		cancel()
		if err != nil {
			c.log.Warn("托管服务注资失败，仅记录注资事件", "agent_id", record.ID, "error", err)
		} else if res != nil {
			funding.TxHash = res.TxHash
		}
	}

	entry := &agent.Log{
		AgentID: record.ID,
		Level:   agent.LogAction,
		Message: fmt.Sprintf("Received $%s funding from creator", agent.FormatAmount(amount)),
	}
	if err := c.store.RecordFunding(ctx, funding, entry); err != nil {
		return nil, err
	}
	logger.Audit().Info("agent_funded", "agent_id", record.ID, "funder_id", funderID, "amount", amount, "tx_hash", funding.TxHash)
	return funding, nil
}

// Terminate 停止沙箱并将智能体标记为死亡。停止沙箱失败不会阻止标记。
func (c *Coordinator) Terminate(ctx context.Context, agentID string) error {
	record, err := c.store.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if record.Status == agent.StatusDead {
		return agent.ErrAgentDead
	}

	if c.provisioner != nil && !agent.IsPendingSandbox(record.SandboxID) {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.ProviderCallTimeout)
		err := c.provisioner.Kill(callCtx, record.SandboxID)
		cancel()
		if err != nil {
			c.log.Warn("停止沙箱失败", "agent_id", record.ID, "sandbox_id", record.SandboxID, "error", err)
		}
	}

	if err := c.store.MarkDead(ctx, record.ID, &agent.Log{AgentID: record.ID, Level: agent.LogError, Message: MsgTerminated}); err != nil {
		return err
	}
	logger.Audit().Info("agent_terminated", "agent_id", record.ID, "sandbox_id", record.SandboxID)
	return nil
}
