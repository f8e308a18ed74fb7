package launch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ALiFe-Chain/internal/agent"
	"ALiFe-Chain/internal/conway"
	xerrors "ALiFe-Chain/internal/errors"
	"ALiFe-Chain/internal/observability/alerting"
	"ALiFe-Chain/internal/web3"
	"ALiFe-Chain/internal/web3/flaunch"
	"ALiFe-Chain/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// 进度消息，按步骤编号依次发出。
const (
	MsgDeployingToken   = "Deploying token on Flaunch..."
	MsgTokenDeployed    = "Token deployed! Provisioning agent..."
	MsgSpinningSandbox  = "Spinning up Conway sandbox..."
	MsgWalletGenerated  = "Agent wallet generated..."
	MsgWritingGenesis   = "Writing genesis prompt..."
	MsgSaving           = "Saving to database..."
	MsgAlive            = "Agent is ALIVE ⚡"
	MsgPendingProvision = "Agent saved, provisioning pending"
)

const (
	launchTracerName     = "ALiFe-Chain/internal/launch"
	defaultPersistBudget = 15 * time.Second
)

// Minter 在链上铸造代币。
type Minter interface {
	Mint(ctx context.Context, signer web3.Signer, req flaunch.LaunchRequest) (*flaunch.MintResult, error)
}

// Provisioner 是托管服务的最小接口。
type Provisioner interface {
	Provision(ctx context.Context, req conway.ProvisionRequest) (*conway.Sandbox, error)
	Fund(ctx context.Context, sandboxID string, amount float64, currency string) (*conway.FundResult, error)
	Kill(ctx context.Context, sandboxID string) error
}

// Recorder 接收发射相关指标。
type Recorder interface {
	ObserveLaunch(outcome string, duration time.Duration)
	ObserveLaunchStep(step, outcome string)
}

// ProgressFunc 接收步骤编号与进度消息。回调同步执行，panic 会被吞掉，不会重试。
type ProgressFunc func(step int, message string)

// Result 是一次成功发射的结果。
type Result struct {
	Agent        *agent.Agent `json:"agent"`
	TokenAddress string       `json:"token_address"`
	TxHash       string       `json:"tx_hash"`
	SandboxID    string       `json:"sandbox_id"`
}

// Config 控制外部调用的超时与落库的默认值。
type Config struct {
	MintTimeout           time.Duration `json:"mint_timeout"`
	ProvisionTimeout      time.Duration `json:"provision_timeout"`
	ProviderCallTimeout   time.Duration `json:"provider_call_timeout"`
	PersistTimeout        time.Duration `json:"persist_timeout"`
	ChainID               int64         `json:"chain_id"`
	RevenueManagerAddress string        `json:"revenue_manager_address"`
	FundingCurrency       string        `json:"funding_currency"`
}

// DefaultConfig 返回默认超时配置。
func DefaultConfig() Config {
	return Config{
		MintTimeout:         3 * time.Minute,
		ProvisionTimeout:    60 * time.Second,
		ProviderCallTimeout: 30 * time.Second,
		PersistTimeout:      defaultPersistBudget,
		ChainID:             agent.DefaultChainID,
		FundingCurrency:     "USDC",
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MintTimeout <= 0 {
		c.MintTimeout = def.MintTimeout
	}
	if c.ProvisionTimeout <= 0 {
		c.ProvisionTimeout = def.ProvisionTimeout
	}
	if c.ProviderCallTimeout <= 0 {
		c.ProviderCallTimeout = def.ProviderCallTimeout
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = def.PersistTimeout
	}
	if c.ChainID == 0 {
		c.ChainID = def.ChainID
	}
	if c.FundingCurrency == "" {
		c.FundingCurrency = def.FundingCurrency
	}
	return c
}

// Coordinator 编排发射流程与发射后的生命周期操作。
type Coordinator struct {
	store       agent.Store
	minter      Minter
	provisioner Provisioner
	alerts      alerting.Dispatcher
	recorder    Recorder
	tracer      trace.Tracer
	cfg         Config
	log         *slog.Logger
	now         func() time.Time
}

// Option 自定义协调器。
type Option func(*Coordinator)

// WithConfig 覆盖超时等配置。
func WithConfig(cfg Config) Option {
	return func(c *Coordinator) { c.cfg = cfg.withDefaults() }
}

// WithAlerts 注册告警分发器。
func WithAlerts(d alerting.Dispatcher) Option {
	return func(c *Coordinator) { c.alerts = d }
}

// WithRecorder 注册指标记录器。
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) { c.recorder = r }
}

// WithLogger 覆盖日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}

// NewCoordinator 构造协调器。provisioner 可以为 nil，此时沙箱申请总是软失败。
func NewCoordinator(store agent.Store, minter Minter, provisioner Provisioner, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:       store,
		minter:      minter,
		provisioner: provisioner,
		tracer:      otel.Tracer(launchTracerName),
		cfg:         DefaultConfig(),
		log:         logger.Named("launch"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Launch 依次执行铸造、申请沙箱、落库与审计日志。
//
// 铸造失败时不产生任何记录；申请沙箱失败时以占位沙箱落库，状态为 deploying；
// 落库失败时返回 PERSISTENCE_FAILURE，错误附带代币地址、交易哈希与恢复令牌。
// 调用方取消不会中断发射，各步骤只受自身超时约束。
func (c *Coordinator) Launch(ctx context.Context, signer web3.Signer, params Params, progress ProgressFunc) (result *Result, err error) {
	started := c.now()
	ctx = context.WithoutCancel(ctx)
	ctx, span := c.tracer.Start(ctx, "launch.Launch")
	defer func() {
		c.finish(span, started, err)
	}()

	if err := params.Normalize(); err != nil {
		return nil, err
	}
	if signer == nil {
		return nil, invalid("未提供交易签名器")
	}
	span.SetAttributes(
		attribute.String("agent.name", params.Name),
		attribute.String("agent.ticker", params.Ticker),
		attribute.String("creator.address", params.CreatorAddress),
	)

	emit := safeProgress(progress, c.log)
	agentID := agent.NewID()

	emit(0, MsgDeployingToken)
	mint, err := c.mint(ctx, signer, params)
	if err != nil {
		return nil, err
	}

	emit(1, MsgTokenDeployed)
	emit(2, MsgSpinningSandbox)
	sandbox := c.provision(ctx, agentID, params, mint.TokenAddress)

	emit(3, MsgWalletGenerated)
	emit(4, MsgWritingGenesis)

	return c.persist(ctx, ResumeToken{
		AgentID: agentID,
		Params:  params,
		Mint:    mint,
		Sandbox: sandbox,
	}, emit)
}

// Resume 凭恢复令牌只重做落库与审计日志步骤。若代币对应的记录已经存在则直接返回。
func (c *Coordinator) Resume(ctx context.Context, encoded string, progress ProgressFunc) (result *Result, err error) {
	started := c.now()
	ctx = context.WithoutCancel(ctx)
	ctx, span := c.tracer.Start(ctx, "launch.Resume")
	defer func() {
		c.finish(span, started, err)
	}()

	token, err := DecodeResumeToken(encoded)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("agent.id", token.AgentID), attribute.String("token.address", token.Mint.TokenAddress))

	if existing, err := c.store.GetAgentByToken(ctx, token.Mint.TokenAddress); err == nil {
		return resultFor(existing), nil
	} else if !errors.Is(err, agent.ErrAgentNotFound) {
		return nil, c.persistenceFailure(ctx, err, token)
	}
	return c.persist(ctx, token, safeProgress(progress, c.log))
}

func (c *Coordinator) mint(ctx context.Context, signer web3.Signer, params Params) (MintOutcome, error) {
	ctx, span := c.tracer.Start(ctx, "launch.mint")
	defer span.End()

	mintCtx, cancel := context.WithTimeout(ctx, c.cfg.MintTimeout)
	defer cancel()

	res, err := c.minter.Mint(mintCtx, signer, params.launchRequest())
	if err == nil && (res == nil || res.TokenAddress == (common.Address{})) {
		err = xerrors.New(xerrors.CodeTokenMintFailed, "铸造结果缺少代币地址", xerrors.WithMetadata("step", "mint"))
	}
	if err != nil {
		if errors.Is(mintCtx.Err(), context.DeadlineExceeded) && xerrors.CodeOf(err) == xerrors.CodeUnknown {
			err = xerrors.Wrap(xerrors.CodeExternalProviderUnavailable, err, "铸造超时",
				xerrors.WithMetadata("step", "mint"), xerrors.WithMetadata("reason", "timeout"))
		}
		err = web3.ClassifyTxError(err, xerrors.CodeTokenMintFailed, "mint")
		span.RecordError(err)
		span.SetStatus(codes.Error, string(xerrors.CodeOf(err)))
		c.step("mint", "failed")
		c.log.Warn("代币铸造失败", "creator", params.CreatorAddress, "code", xerrors.CodeOf(err), "error", err)
		if xerrors.CodeOf(err) != xerrors.CodeUserRejectedSignature {
			c.alert(ctx, alerting.FromError(err, "mint", ""))
		}
		return MintOutcome{}, err
	}

	c.step("mint", "ok")
	outcome := MintOutcome{
		TxHash:       res.TxHash.Hex(),
		TokenAddress: res.TokenAddress.Hex(),
	}
	if res.TokenID != nil {
		outcome.TokenID = res.TokenID.String()
	}
	if res.PoolID != (common.Hash{}) {
		outcome.PoolID = res.PoolID.Hex()
	}
	span.SetAttributes(attribute.String("token.address", outcome.TokenAddress), attribute.String("tx.hash", outcome.TxHash))
	return outcome, nil
}

// provision 申请沙箱；失败时合成占位沙箱而不是中止发射。
func (c *Coordinator) provision(ctx context.Context, agentID string, params Params, tokenAddress string) SandboxOutcome {
	ctx, span := c.tracer.Start(ctx, "launch.provision")
	defer span.End()

	placeholder := SandboxOutcome{SandboxID: agent.NewPendingSandboxID(), WalletAddress: agent.PendingWallet}

	var err error
	var sandbox *conway.Sandbox
	if c.provisioner == nil {
		err = xerrors.New(xerrors.CodeExternalProviderUnavailable, "未配置托管服务", xerrors.WithMetadata("step", "provision"))
	} else {
		provisionCtx, cancel := context.WithTimeout(ctx, c.cfg.ProvisionTimeout)
		sandbox, err = c.provisioner.Provision(provisionCtx, conway.ProvisionRequest{
			AgentID:        agentID,
			Name:           params.Name,
			Ticker:         params.Ticker,
			GenesisPrompt:  params.GenesisPrompt,
			CreatorAddress: params.CreatorAddress,
			TokenAddress:   tokenAddress,
			Model:          params.Model,
		})
		cancel()
		if err == nil && (sandbox == nil || agent.IsPendingSandbox(sandbox.SandboxID)) {
			err = xerrors.New(xerrors.CodeExternalProviderUnavailable, "托管服务返回了无效的沙箱 ID", xerrors.WithMetadata("step", "provision"))
		}
	}
	if err != nil {
		span.RecordError(err)
		c.step("provision", "soft_fail")
		c.log.Warn("申请沙箱失败，以占位沙箱继续", "agent_id", agentID, "token_address", tokenAddress,
			"placeholder", placeholder.SandboxID, "error", err)
		event := alerting.FromError(err, "provision", agentID)
		event.Metadata["token_address"] = tokenAddress
		c.alert(ctx, event)
		return placeholder
	}

	c.step("provision", "ok")
	outcome := SandboxOutcome{SandboxID: sandbox.SandboxID, WalletAddress: sandbox.WalletAddress}
	if agent.IsPendingWallet(outcome.WalletAddress) {
		outcome.WalletAddress = agent.PendingWallet
	}
	outcome.Alive = sandbox.Alive() && !agent.IsPendingWallet(outcome.WalletAddress)
	span.SetAttributes(attribute.String("sandbox.id", outcome.SandboxID), attribute.Bool("sandbox.alive", outcome.Alive))
	return outcome
}

func (c *Coordinator) persist(ctx context.Context, token ResumeToken, emit ProgressFunc) (*Result, error) {
	ctx, span := c.tracer.Start(ctx, "launch.persist")
	defer span.End()

	emit(5, MsgSaving)
	record := c.buildAgent(token)

	persistCtx, cancel := context.WithTimeout(ctx, c.cfg.PersistTimeout)
	err := c.store.CreateAgent(persistCtx, record)
	cancel()
	if err != nil && errors.Is(err, agent.ErrAgentConflict) {
		if existing, getErr := c.store.GetAgentByToken(ctx, token.Mint.TokenAddress); getErr == nil {
			c.step("persist", "existing")
			return resultFor(existing), nil
		}
	}
	if err != nil {
		span.RecordError(err)
		c.step("persist", "failed")
		return nil, c.persistenceFailure(ctx, err, token)
	}
	c.step("persist", "ok")

	c.auditLaunch(ctx, record, token)
	if record.Status == agent.StatusAlive {
		emit(6, MsgAlive)
	} else {
		emit(6, MsgPendingProvision)
	}
	return resultFor(record), nil
}

func (c *Coordinator) buildAgent(token ResumeToken) *agent.Agent {
	status := agent.StatusDeploying
	if token.Sandbox.Alive {
		status = agent.StatusAlive
	}
	record := &agent.Agent{
		ID:                    token.AgentID,
		CreatorID:             token.Params.CreatorID,
		CreatorAddress:        token.Params.CreatorAddress,
		Name:                  token.Params.Name,
		Ticker:                token.Params.Ticker,
		Description:           token.Params.Description,
		GenesisPrompt:         token.Params.GenesisPrompt,
		Model:                 token.Params.Model,
		Status:                status,
		SurvivalTier:          agent.TierNormal,
		FeeCreatorPct:         agent.DefaultCreatorPct,
		FeePlatformPct:        agent.DefaultPlatformPct,
		TokenAddress:          token.Mint.TokenAddress,
		PoolID:                token.Mint.PoolID,
		TokenID:               token.Mint.TokenID,
		RevenueManagerAddress: c.cfg.RevenueManagerAddress,
		LaunchTxHash:          token.Mint.TxHash,
		ChainID:               c.cfg.ChainID,
		SandboxID:             token.Sandbox.SandboxID,
		WalletAddress:         token.Sandbox.WalletAddress,
	}
	record.ApplyDefaults()
	return record
}

func (c *Coordinator) persistenceFailure(ctx context.Context, cause error, token ResumeToken) error {
	opts := []xerrors.Option{
		xerrors.WithMetadata("step", "persist"),
		xerrors.WithMetadata("agent_id", token.AgentID),
		xerrors.WithMetadata("token_address", token.Mint.TokenAddress),
		xerrors.WithMetadata("tx_hash", token.Mint.TxHash),
		xerrors.WithMetadata("sandbox_id", token.Sandbox.SandboxID),
	}
	if encoded, err := token.Encode(); err == nil {
		opts = append(opts, xerrors.WithMetadata("resume_token", encoded))
	}
	err := xerrors.Wrap(xerrors.CodePersistenceFailure, cause, "代币已铸造但保存智能体失败，可凭恢复令牌重试保存", opts...)
	c.log.Error("保存智能体失败", "agent_id", token.AgentID, "token_address", token.Mint.TokenAddress,
		"tx_hash", token.Mint.TxHash, "error", cause)
	c.alert(context.WithoutCancel(ctx), alerting.FromError(err, "persist", token.AgentID))
	return err
}

// auditLaunch 写入发射日志，失败只记录告警日志。
func (c *Coordinator) auditLaunch(ctx context.Context, record *agent.Agent, token ResumeToken) {
	entry := &agent.Log{
		AgentID: record.ID,
		Level:   agent.LogAction,
		Message: fmt.Sprintf("Agent launched! Token: %s... | Sandbox: %s", prefix(token.Mint.TokenAddress, 10), record.SandboxID),
		Metadata: map[string]any{
			"tx_hash":       token.Mint.TxHash,
			"token_address": token.Mint.TokenAddress,
			"token_id":      token.Mint.TokenID,
			"sandbox_id":    record.SandboxID,
			"agent_wallet":  record.WalletAddress,
		},
	}
	if err := c.store.AppendLog(ctx, entry); err != nil {
		c.step("audit", "failed")
		c.log.Warn("写入发射日志失败", "agent_id", record.ID, "error", err)
	} else {
		c.step("audit", "ok")
	}
	logger.Audit().Info("agent_launched",
		"agent_id", record.ID,
		"creator_id", record.CreatorID,
		"token_address", record.TokenAddress,
		"tx_hash", record.LaunchTxHash,
		"sandbox_id", record.SandboxID,
		"status", string(record.Status),
	)
}

func (c *Coordinator) finish(span trace.Span, started time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = string(xerrors.CodeOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	if c.recorder != nil {
		c.recorder.ObserveLaunch(outcome, c.now().Sub(started))
	}
	span.End()
}

func (c *Coordinator) step(name, outcome string) {
	if c.recorder != nil {
		c.recorder.ObserveLaunchStep(name, outcome)
	}
}

func (c *Coordinator) alert(ctx context.Context, event alerting.Event) {
	if c.alerts == nil {
		return
	}
	if err := c.alerts.Notify(ctx, event); err != nil {
		c.log.Warn("发送告警失败", "code", event.Code, "error", err)
	}
}

func safeProgress(progress ProgressFunc, log *slog.Logger) ProgressFunc {
	return func(step int, message string) {
		if progress == nil {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				log.Warn("进度回调 panic", "step", step, "panic", r)
			}
		}()
		progress(step, message)
	}
}

func resultFor(record *agent.Agent) *Result {
	return &Result{
		Agent:        record,
		TokenAddress: record.TokenAddress,
		TxHash:       record.LaunchTxHash,
		SandboxID:    record.SandboxID,
	}
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
