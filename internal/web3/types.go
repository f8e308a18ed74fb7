package web3

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
)

// ChainSnapshot represents summarized network metadata for health reporting.
type ChainSnapshot struct {
	Name        string `json:"name"`
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
	Notes       string `json:"notes,omitempty"`
}

// Backend is everything a contract binding needs: calls, transactions,
// log filtering and receipt lookups.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Client defines the common interface that any chain implementation must
// provide so higher layers can interact with different networks uniformly.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	Backend() Backend
	Close()
}
