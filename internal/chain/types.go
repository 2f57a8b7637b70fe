package chain

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Account is the watched account. Key is the signing credential for Address.
type Account struct {
	Address common.Address
	Key     *ecdsa.PrivateKey
}

// PendingTx is a snapshot of a transaction seen in the node's pending pool.
type PendingTx struct {
	Hash     common.Hash
	From     common.Address
	To       *common.Address
	Nonce    uint64
	GasPrice *big.Int // fee per unit
	Gas      uint64   // fee limit
	Value    *big.Int
	Type     uint8
}

// Confirmation is one confirmation-count update for a broadcast transaction.
type Confirmation struct {
	Count   uint64
	Receipt *types.Receipt
}

// ConfirmationSub delivers confirmation counts for a single transaction hash.
type ConfirmationSub interface {
	Confirmations() <-chan Confirmation
	Err() <-chan error
	Unsubscribe()
}

func NetworkName(chainID *big.Int) string {
	if chainID == nil {
		return "unknown"
	}
	switch chainID.Uint64() {
	case 1:
		return "mainnet"
	case 11155111:
		return "sepolia"
	case 17000:
		return "holesky"
	default:
		return fmt.Sprintf("chain-%s", chainID.String())
	}
}
