package web3

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer authorises transactions on behalf of a single account.
type Signer interface {
	Address() common.Address
	TransactOpts(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error)
}

// KeySigner signs with an in-memory secp256k1 key.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewKeySigner parses a hex encoded private key, with or without 0x prefix.
func NewKeySigner(hexKey string) (*KeySigner, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, errors.New("私钥不能为空")
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("解析私钥失败: %w", err)
	}
	return NewKeySignerFromKey(key), nil
}

// NewKeySignerFromKey wraps an existing private key.
func NewKeySignerFromKey(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// Address returns the account controlled by the signer.
func (s *KeySigner) Address() common.Address {
	return s.address
}

// TransactOpts builds keyed transact options bound to ctx.
func (s *KeySigner) TransactOpts(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error) {
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, errors.New("未配置链 ID")
	}
	opts, err := bind.NewKeyedTransactorWithChainID(s.key, chainID)
	if err != nil {
		return nil, fmt.Errorf("创建交易签名器失败: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}
