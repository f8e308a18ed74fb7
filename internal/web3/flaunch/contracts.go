package flaunch

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"math/big"

	xerrors "ALiFe-Chain/internal/errors"
	"ALiFe-Chain/internal/web3"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

//go:embed abi/*.json
var abiFiles embed.FS

var (
	launchpadABI      = mustLoadABI("abi/launchpad.json")
	revenueManagerABI = mustLoadABI("abi/revenue_manager.json")
)

func mustLoadABI(name string) abi.ABI {
	raw, err := abiFiles.ReadFile(name)
	if err != nil {
		panic(fmt.Sprintf("flaunch: read %s: %v", name, err))
	}
	parsed, err := abi.JSON(bytes.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("flaunch: parse %s: %v", name, err))
	}
	return parsed
}

// boundContract pairs a chain client with a go-ethereum bound contract.
type boundContract struct {
	address  common.Address
	client   web3.Client
	contract *bind.BoundContract
}

func newBoundContract(address common.Address, client web3.Client, parsed abi.ABI) (boundContract, error) {
	if address == (common.Address{}) {
		return boundContract{}, xerrors.New(xerrors.CodeInvalidArgument, "合约地址未配置")
	}
	if client == nil {
		return boundContract{}, xerrors.New(xerrors.CodeInvalidArgument, "链客户端未配置")
	}
	backend := client.Backend()
	if backend == nil {
		return boundContract{}, xerrors.New(xerrors.CodeInvalidArgument, "链客户端缺少后端")
	}
	return boundContract{
		address:  address,
		client:   client,
		contract: bind.NewBoundContract(address, parsed, backend, backend, backend),
	}, nil
}

// call runs a read-only method and returns its single output.
func (b boundContract) call(ctx context.Context, method string, args ...any) (any, error) {
	var out []any
	if err := b.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s 返回为空", method)
	}
	return out[0], nil
}

func (b boundContract) callBig(ctx context.Context, method string, args ...any) (*big.Int, error) {
	out, err := b.call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	value, ok := out.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s 返回类型异常: %T", method, out)
	}
	return value, nil
}

// transact signs and sends a transaction, then waits until it is mined.
// The returned transaction is non-nil whenever it was broadcast, even if
// waiting failed.
func (b boundContract) transact(ctx context.Context, signer web3.Signer, value *big.Int, method string, args ...any) (*coretypes.Transaction, *coretypes.Receipt, error) {
	chainID, err := b.client.ChainID(ctx)
	if err != nil {
		return nil, nil, err
	}
	opts, err := signer.TransactOpts(ctx, chainID)
	if err != nil {
		return nil, nil, err
	}
	if value != nil && value.Sign() > 0 {
		opts.Value = value
	}
	tx, err := b.contract.Transact(opts, method, args...)
	if err != nil {
		return nil, nil, err
	}
	receipt, err := bind.WaitMined(ctx, b.client.Backend(), tx)
	if err != nil {
		return tx, nil, err
	}
	return tx, receipt, nil
}
