package ethwatch

import (
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/pvzzle/nonceguard/internal/chain"

	"github.com/ethereum/go-ethereum/common"
)

func TestWeiToEthString(t *testing.T) {
	oneEth := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	if got := WeiToEthString(oneEth); got != "1.000000" {
		t.Fatalf("expected 1.000000, got %q", got)
	}

	half := new(big.Int).Div(oneEth, big.NewInt(2))
	if got := WeiToEthString(half); got != "0.500000" {
		t.Fatalf("expected 0.500000, got %q", got)
	}

	if got := WeiToEthString(nil); got != "0" {
		t.Fatalf("expected 0 for nil, got %q", got)
	}
}

func TestWeiToGweiString(t *testing.T) {
	if got := WeiToGweiString(big.NewInt(41_250_000_000)); got != "41.25" {
		t.Fatalf("expected 41.25, got %q", got)
	}
	if got := WeiToGweiString(big.NewInt(110)); got != "0.00000011" {
		t.Fatalf("expected 0.00000011, got %q", got)
	}
}

func TestFormatEvent(t *testing.T) {
	account := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	to := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	orig := common.HexToHash("0x" + strings.Repeat("11", 32))
	repl := common.HexToHash("0x" + strings.Repeat("22", 32))

	race := &Race{
		Original: chain.PendingTx{
			Hash:     orig,
			From:     account,
			To:       &to,
			Nonce:    5,
			GasPrice: big.NewInt(30_000_000_000),
			Gas:      21000,
			Value:    new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil),
		},
		Replacement:   repl,
		GasPrice:      big.NewInt(33_000_000_000),
		Confirmations: 13,
	}

	txt := FormatEvent(Event{Kind: EventCompleted, Race: race}, account, "mainnet")
	for _, want := range []string{"✅", orig.Hex(), repl.Hex(), "Nonce: 5", "1.000000 ETH", "33 gwei", "Confirmations: 13"} {
		if !strings.Contains(txt, want) {
			t.Fatalf("expected %q in text: %s", want, txt)
		}
	}

	txt = FormatEvent(Event{Kind: EventSubscribed}, account, "mainnet")
	if !strings.Contains(txt, account.Hex()) || !strings.Contains(txt, "mainnet") {
		t.Fatalf("unexpected subscribed text: %s", txt)
	}

	txt = FormatEvent(Event{Kind: EventInsufficientFunds, Race: race, Err: errors.New("boom")}, account, "mainnet")
	if !strings.Contains(txt, "Error: boom") {
		t.Fatalf("expected error in text: %s", txt)
	}
}
