package flaunch

import (
	"context"
	"math/big"

	xerrors "ALiFe-Chain/internal/errors"
	"ALiFe-Chain/internal/web3"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

// RevenueManager 封装收益管理合约：按固定协议费率拆分交易手续费，
// 创建者与平台各自领取累计余额。
type RevenueManager struct {
	bound boundContract
}

// NewRevenueManager 绑定收益管理合约实例。
func NewRevenueManager(address common.Address, client web3.Client) (*RevenueManager, error) {
	bound, err := newBoundContract(address, client, revenueManagerABI)
	if err != nil {
		return nil, err
	}
	return &RevenueManager{bound: bound}, nil
}

// Address 返回合约地址。
func (m *RevenueManager) Address() common.Address {
	return m.bound.address
}

// Balance 返回 recipient 当前可领取的余额（wei）。
func (m *RevenueManager) Balance(ctx context.Context, recipient common.Address) (*big.Int, error) {
	balance, err := m.bound.callBig(ctx, "balances", recipient)
	if err != nil {
		return nil, web3.ClassifyTxError(err, xerrors.CodeExternalProviderUnavailable, "balance")
	}
	return balance, nil
}

// ProtocolFeeBps 返回平台抽成（基点）。
func (m *RevenueManager) ProtocolFeeBps(ctx context.Context) (*big.Int, error) {
	fee, err := m.bound.callBig(ctx, "protocolFee")
	if err != nil {
		return nil, web3.ClassifyTxError(err, xerrors.CodeExternalProviderUnavailable, "protocol_fee")
	}
	return fee, nil
}

// ProtocolRecipient 返回平台收款地址。
func (m *RevenueManager) ProtocolRecipient(ctx context.Context) (common.Address, error) {
	out, err := m.bound.call(ctx, "protocolRecipient")
	if err != nil {
		return common.Address{}, web3.ClassifyTxError(err, xerrors.CodeExternalProviderUnavailable, "protocol_recipient")
	}
	addr, _ := out.(common.Address)
	return addr, nil
}

// Claim 以 signer 身份领取累计余额并等待交易上链，返回交易哈希。
func (m *RevenueManager) Claim(ctx context.Context, signer web3.Signer) (common.Hash, error) {
	if signer == nil {
		return common.Hash{}, xerrors.New(xerrors.CodeInvalidArgument, "未提供交易签名器")
	}
	tx, receipt, err := m.bound.transact(ctx, signer, nil, "claim")
	if err != nil {
		var opts []xerrors.Option
		if tx != nil {
			opts = append(opts, xerrors.WithMetadata("tx_hash", tx.Hash().Hex()))
		}
		return common.Hash{}, web3.ClassifyTxError(err, xerrors.CodeExternalProviderUnavailable, "claim", opts...)
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		return receipt.TxHash, xerrors.New(xerrors.CodeExternalProviderUnavailable, "领取交易执行失败",
			xerrors.WithMetadata("step", "claim"),
			xerrors.WithMetadata("tx_hash", receipt.TxHash.Hex()))
	}
	return receipt.TxHash, nil
}
