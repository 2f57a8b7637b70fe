package chain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetworkName(t *testing.T) {
	assert.Equal(t, "mainnet", NetworkName(big.NewInt(1)))
	assert.Equal(t, "sepolia", NetworkName(big.NewInt(11155111)))
	assert.Equal(t, "holesky", NetworkName(big.NewInt(17000)))
	assert.Equal(t, "chain-1337", NetworkName(big.NewInt(1337)))
	assert.Equal(t, "unknown", NetworkName(nil))
}

func TestConfirmationsAt(t *testing.T) {
	n, ok := confirmationsAt(big.NewInt(100), big.NewInt(100))
	require.True(t, ok)
	assert.Equal(t, uint64(0), n)

	n, ok = confirmationsAt(big.NewInt(113), big.NewInt(100))
	require.True(t, ok)
	assert.Equal(t, uint64(13), n)

	_, ok = confirmationsAt(big.NewInt(99), big.NewInt(100))
	assert.False(t, ok, "head behind inclusion block (reorg) must not count")

	_, ok = confirmationsAt(big.NewInt(100), nil)
	assert.False(t, ok)
}

func TestSnapshot_CopiesFields(t *testing.T) {
	to := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	from := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	gp := big.NewInt(100)

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    5,
		To:       &to,
		Value:    big.NewInt(7),
		Gas:      21000,
		GasPrice: gp,
	})

	p := snapshot(tx, from)
	assert.Equal(t, tx.Hash(), p.Hash)
	assert.Equal(t, from, p.From)
	require.NotNil(t, p.To)
	assert.Equal(t, to, *p.To)
	assert.Equal(t, uint64(5), p.Nonce)
	assert.Equal(t, uint64(21000), p.Gas)
	assert.Equal(t, int64(100), p.GasPrice.Int64())
	assert.Equal(t, int64(7), p.Value.Int64())

	p.GasPrice.SetInt64(1)
	assert.Equal(t, int64(100), tx.GasPrice().Int64(), "snapshot must not alias tx fields")
}

func TestConfirmationSub_UnsubscribeIdempotent(t *testing.T) {
	s := newConfirmationSub()
	s.Unsubscribe()
	s.Unsubscribe()

	select {
	case <-s.quit:
	default:
		t.Fatal("expected quit to be closed")
	}
}
