package tg

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/pvzzle/nonceguard/internal/ethwatch"
	"github.com/pvzzle/nonceguard/internal/races"
	"github.com/pvzzle/nonceguard/internal/storage"

	"github.com/ethereum/go-ethereum/common"
)

var eventIcons = map[storage.RaceEventType]string{
	storage.EventDetected:          "⚠️",
	storage.EventEvaluationFailed:  "❌",
	storage.EventInsufficientFunds: "🛑",
	storage.EventBroadcast:         "🚀",
	storage.EventBroadcastFailed:   "❌",
	storage.EventConfirmation:      "⏳",
	storage.EventTrackingFailed:    "❌",
	storage.EventCompleted:         "✅",
}

func FormatHistory(items []storage.HistoryItem) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🕘 History (последние %d)\n\n", len(items))

	for _, it := range items {
		writeHistoryLine(&sb, it, true)
	}

	return sb.String()
}

// FormatRaceHistory печатает все события одной гонки в хронологическом порядке.
func FormatRaceHistory(original common.Hash, items []storage.HistoryItem) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🔎 Race %s\n", original.Hex())

	if len(items) == 0 {
		sb.WriteString("\nСобытий не найдено.")
		return sb.String()
	}

	if n := items[0].Nonce; n != nil {
		fmt.Fprintf(&sb, "Nonce: %d\n", *n)
	}
	sb.WriteString("\n")

	for _, it := range items {
		writeHistoryLine(&sb, it, false)
	}

	return sb.String()
}

func writeHistoryLine(sb *strings.Builder, it storage.HistoryItem, withOriginal bool) {
	icon, ok := eventIcons[it.EventType]
	if !ok {
		icon = "•"
	}

	fmt.Fprintf(sb, "%s %s %s", icon, it.At.UTC().Format(time.DateTime), it.EventType)
	if withOriginal {
		fmt.Fprintf(sb, " %s", shortenHash(it.OriginalHash))
	}
	sb.WriteString("\n")

	if it.ReplacementHash != nil && it.EventType != storage.EventDetected {
		fmt.Fprintf(sb, "  → %s", shortenHash(*it.ReplacementHash))
		if it.GasPriceWei != nil {
			wei, ok := new(big.Int).SetString(*it.GasPriceWei, 10)
			if ok {
				fmt.Fprintf(sb, " @ %s gwei", ethwatch.WeiToGweiString(wei))
			}
		}
		sb.WriteString("\n")
	}
	if it.Confirmations > 0 {
		fmt.Fprintf(sb, "  confirmations: %d\n", it.Confirmations)
	}
	if it.Detail != "" {
		fmt.Fprintf(sb, "  %s\n", it.Detail)
	}
}

// FormatStatus описывает вотчер и гонки, которые сейчас в работе.
func FormatStatus(account common.Address, network string, halted bool, active []races.Snapshot) string {
	var sb strings.Builder

	state := "👀 работает"
	if halted {
		state = "🛑 остановлен (не хватает баланса)"
	}
	fmt.Fprintf(&sb, "Account: %s\nNetwork: %s\nWatcher: %s\n\n", account.Hex(), network, state)

	if len(active) == 0 {
		sb.WriteString("Активных гонок нет.")
		return sb.String()
	}

	fmt.Fprintf(&sb, "Активные гонки (%d):\n", len(active))
	for _, s := range active {
		fmt.Fprintf(&sb, "• %s nonce %d, %s", shortenHash(s.Original.Hex()), s.Nonce, s.State)
		if s.Replacement != nil {
			fmt.Fprintf(&sb, "\n  → %s", shortenHash(s.Replacement.Hex()))
		}
		if s.GasPriceWei != nil {
			fmt.Fprintf(&sb, " @ %s gwei", ethwatch.WeiToGweiString(s.GasPriceWei))
		}
		fmt.Fprintf(&sb, "\n  confirmations: %d/%d\n", s.Confirmations, ethwatch.RequiredConfirmations+1)
	}

	return sb.String()
}

func shortenHash(h string) string {
	if len(h) <= 14 {
		return h
	}
	return h[:10] + "…" + h[len(h)-4:]
}
