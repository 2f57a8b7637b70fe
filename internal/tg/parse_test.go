package tg

import (
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestValidators(t *testing.T) {
	if !IsTxHash("0x" + strings.Repeat("a", 64)) {
		t.Fatalf("expected valid tx hash")
	}
	if !IsTxHash("  " + strings.Repeat("A", 64) + "\n") {
		t.Fatalf("expected valid tx hash without prefix")
	}
	if IsTxHash("0x123") {
		t.Fatalf("expected invalid tx hash")
	}
	if IsTxHash("0x" + strings.Repeat("b", 40)) {
		t.Fatalf("address is not a tx hash")
	}
}

func TestParseTxHash(t *testing.T) {
	want := common.HexToHash("0x" + strings.Repeat("ab", 32))

	got, err := ParseTxHash(strings.Repeat("AB", 32))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got != want {
		t.Fatalf("expected %s, got %s", want.Hex(), got.Hex())
	}

	_, err = ParseTxHash("hello")
	if !errors.Is(err, ErrInvalidTxHash) {
		t.Fatalf("expected ErrInvalidTxHash, got %v", err)
	}
}
