package web3

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Call describes a single contract interaction prepared by an adapter.
// The sender is always the wallet configured on the executing client.
type Call struct {
	To    common.Address
	Data  []byte
	Value *big.Int
}

// ChainSnapshot represents summarized network metadata for reporting.
type ChainSnapshot struct {
	ChainID     string
	BlockNumber string
	Notes       string
}

// Client defines the common interface that any chain implementation must
// provide so adapters can interact with different networks uniformly.
//
// SendCalls submits the given calls strictly in order, waiting for each
// transaction to be mined before the next one is signed. Ordering matters:
// a later call routinely depends on state written by an earlier one, for
// example a token approval that must land before the swap spending it.
type Client interface {
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	NativeBalance(ctx context.Context, account common.Address) (*big.Int, error)
	CallContract(ctx context.Context, call Call) ([]byte, error)
	SendCalls(ctx context.Context, calls []Call) ([]common.Hash, error)
	Sender() common.Address
	Close()
}
