// Package feeclaim 提供手续费领取网关：查询可领取余额与发起领取交易。
package feeclaim

import (
	"context"
	"math/big"
	"time"

	xerrors "ALiFe-Chain/internal/errors"
	"ALiFe-Chain/internal/web3"
	"ALiFe-Chain/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultCallTimeout 约束单次链上调用（包含等待回执）。
const DefaultCallTimeout = 30 * time.Second

// ErrNothingToClaim 表示签名账户当前没有可领取的余额。
var ErrNothingToClaim = xerrors.New(xerrors.CodeNothingToClaim, "nothing to claim")

// RevenueSource 是收益管理合约的最小读写接口。
type RevenueSource interface {
	Balance(ctx context.Context, recipient common.Address) (*big.Int, error)
	Claim(ctx context.Context, signer web3.Signer) (common.Hash, error)
	ProtocolFeeBps(ctx context.Context) (*big.Int, error)
	ProtocolRecipient(ctx context.Context) (common.Address, error)
}

// ProtocolTerms 是合约上生效的平台抽成配置。
type ProtocolTerms struct {
	FeeBps    *big.Int
	Recipient common.Address
}

// Recorder 接收领取结果，用于指标统计。
type Recorder interface {
	ObserveFeeClaim(outcome string)
}

// Gateway 是手续费领取的门面，不做任何自动重试。
type Gateway struct {
	source   RevenueSource
	timeout  time.Duration
	recorder Recorder
}

// Option 自定义网关行为。
type Option func(*Gateway)

// WithTimeout 覆盖链上调用超时。
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithRecorder 注册指标记录器。
func WithRecorder(r Recorder) Option {
	return func(g *Gateway) {
		g.recorder = r
	}
}

// NewGateway 基于收益管理合约构造网关。
func NewGateway(source RevenueSource, opts ...Option) *Gateway {
	g := &Gateway{source: source, timeout: DefaultCallTimeout}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// GetClaimable 返回 recipient 可领取的余额（wei）。
func (g *Gateway) GetClaimable(ctx context.Context, recipient common.Address) (*big.Int, error) {
	if recipient == (common.Address{}) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "收款地址不能为空")
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.source.Balance(ctx, recipient)
}

// Protocol 读取平台抽成基点与平台收款地址。
func (g *Gateway) Protocol(ctx context.Context) (ProtocolTerms, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	fee, err := g.source.ProtocolFeeBps(ctx)
	if err != nil {
		return ProtocolTerms{}, err
	}
	recipient, err := g.source.ProtocolRecipient(ctx)
	if err != nil {
		return ProtocolTerms{}, err
	}
	return ProtocolTerms{FeeBps: fee, Recipient: recipient}, nil
}

// Claim 领取 signer 的累计余额。余额为零时返回 ErrNothingToClaim，不发送交易。
func (g *Gateway) Claim(ctx context.Context, signer web3.Signer) (common.Hash, error) {
	if signer == nil {
		return common.Hash{}, xerrors.New(xerrors.CodeInvalidArgument, "未提供交易签名器")
	}
	log := logger.Named("feeclaim").With("recipient", signer.Address().Hex())

	balance, err := g.GetClaimable(ctx, signer.Address())
	if err != nil {
		g.observe("error")
		return common.Hash{}, err
	}
	if balance == nil || balance.Sign() <= 0 {
		g.observe("nothing")
		return common.Hash{}, ErrNothingToClaim
	}

	claimCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	hash, err := g.source.Claim(claimCtx, signer)
	if err != nil {
		g.observe("error")
		log.Warn("领取手续费失败", "balance", balance.String(), "error", err)
		return common.Hash{}, err
	}
	g.observe("claimed")
	log.Info("领取手续费成功", "balance", balance.String(), "tx_hash", hash.Hex())
	return hash, nil
}

func (g *Gateway) observe(outcome string) {
	if g.recorder != nil {
		g.recorder.ObserveFeeClaim(outcome)
	}
}
