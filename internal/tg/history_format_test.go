package tg

import (
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/pvzzle/nonceguard/internal/races"
	"github.com/pvzzle/nonceguard/internal/storage"

	"github.com/ethereum/go-ethereum/common"
)

func TestFormatHistory(t *testing.T) {
	now := time.Date(2026, 2, 14, 10, 0, 0, 0, time.UTC)
	repl := "0x" + strings.Repeat("2", 64)
	gp := "110000000000"

	items := []storage.HistoryItem{
		{
			At:              now,
			EventType:       storage.EventCompleted,
			OriginalHash:    "0x" + strings.Repeat("1", 64),
			ReplacementHash: &repl,
			GasPriceWei:     &gp,
			Confirmations:   13,
		},
		{
			At:           now.Add(-time.Minute),
			EventType:    storage.EventBroadcastFailed,
			OriginalHash: "0x" + strings.Repeat("3", 64),
			Detail:       "broadcast: nonce too low",
		},
	}

	txt := FormatHistory(items)

	for _, want := range []string{
		"последние 2",
		"0x11111111…1111",
		"0x22222222…2222",
		"110 gwei",
		"completed",
		"confirmations: 13",
		"✅",
		"broadcast_failed",
		"nonce too low",
		"2026-02-14 10:00:00",
	} {
		if !strings.Contains(txt, want) {
			t.Fatalf("expected %q in: %s", want, txt)
		}
	}
}

func TestFormatRaceHistory(t *testing.T) {
	orig := common.HexToHash("0x" + strings.Repeat("1", 64))
	nonce := uint64(5)

	txt := FormatRaceHistory(orig, []storage.HistoryItem{
		{At: time.Now(), EventType: storage.EventDetected, OriginalHash: orig.Hex(), Nonce: &nonce},
	})
	if !strings.Contains(txt, orig.Hex()) || !strings.Contains(txt, "Nonce: 5") || !strings.Contains(txt, "detected") {
		t.Fatalf("unexpected text: %s", txt)
	}

	txt = FormatRaceHistory(orig, nil)
	if !strings.Contains(txt, "не найдено") {
		t.Fatalf("expected empty marker: %s", txt)
	}
}

func TestFormatStatus(t *testing.T) {
	account := common.HexToAddress("0x" + strings.Repeat("a", 40))

	txt := FormatStatus(account, "mainnet", false, nil)
	if !strings.Contains(txt, "нет") || !strings.Contains(txt, "mainnet") {
		t.Fatalf("unexpected text: %s", txt)
	}

	repl := common.HexToHash("0x" + strings.Repeat("2", 64))
	txt = FormatStatus(account, "mainnet", true, []races.Snapshot{{
		Original:      common.HexToHash("0x" + strings.Repeat("1", 64)),
		Nonce:         7,
		Replacement:   &repl,
		GasPriceWei:   big.NewInt(33_000_000_000),
		State:         "tracking",
		Confirmations: 4,
	}})
	for _, want := range []string{"остановлен", "nonce 7", "tracking", "33 gwei", "4/13"} {
		if !strings.Contains(txt, want) {
			t.Fatalf("expected %q in: %s", want, txt)
		}
	}
}
