package ethwatch

import (
	"context"

	"github.com/pvzzle/nonceguard/internal/bus"
	"github.com/pvzzle/nonceguard/internal/chain"
	"github.com/pvzzle/nonceguard/internal/storage"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type EventKind string

const (
	EventSubscribed         EventKind = "subscribed"
	EventSubscriptionFailed EventKind = "subscription_failed"

	EventDetected          = EventKind(storage.EventDetected)
	EventEvaluationFailed  = EventKind(storage.EventEvaluationFailed)
	EventInsufficientFunds = EventKind(storage.EventInsufficientFunds)
	EventBroadcast         = EventKind(storage.EventBroadcast)
	EventBroadcastFailed   = EventKind(storage.EventBroadcastFailed)
	EventConfirmation      = EventKind(storage.EventConfirmation)
	EventTrackingFailed    = EventKind(storage.EventTrackingFailed)
	EventCompleted         = EventKind(storage.EventCompleted)
)

// Event is one observable step of the watcher. Race is nil for watcher-level events.
type Event struct {
	Kind    EventKind
	Race    *Race
	Receipt *types.Receipt
	Err     error
}

// report logs, persists and forwards ev to the operator. It never blocks on the
// notification channel.
func (w *Watcher) report(ctx context.Context, ev Event) {
	w.logEvent(ev)
	w.persist(ctx, ev)

	if w.notifyCh == nil || ev.Kind == EventConfirmation {
		return
	}

	n := bus.Notification{
		Kind: string(ev.Kind),
		Text: FormatEvent(ev, w.account.Address, chain.NetworkName(w.cfg.ChainID)),
	}
	select {
	case w.notifyCh <- n:
	default:
		w.log.Warn("notification queue full, dropping", zap.String("kind", n.Kind))
	}
}

func (w *Watcher) logEvent(ev Event) {
	fields := []zap.Field{zap.String("event", string(ev.Kind))}

	if r := ev.Race; r != nil {
		fields = append(fields,
			zap.Stringer("original", r.Original.Hash),
			zap.Uint64("nonce", r.Original.Nonce),
			zap.String("state", r.State.String()),
		)
		if r.Replacement != (common.Hash{}) {
			fields = append(fields, zap.Stringer("replacement", r.Replacement))
		}
		if r.GasPrice != nil {
			fields = append(fields, zap.Stringer("gas_price_wei", r.GasPrice))
		}
		if r.Confirmations > 0 {
			fields = append(fields, zap.Uint64("confirmations", r.Confirmations))
		}
	} else {
		fields = append(fields,
			zap.Stringer("account", w.account.Address),
			zap.String("network", chain.NetworkName(w.cfg.ChainID)),
		)
	}
	if ev.Err != nil {
		fields = append(fields, zap.Error(ev.Err))
	}

	level := zapcore.InfoLevel
	switch ev.Kind {
	case EventConfirmation:
		level = zapcore.DebugLevel
	case EventDetected:
		level = zapcore.WarnLevel
	case EventEvaluationFailed, EventBroadcastFailed, EventTrackingFailed,
		EventInsufficientFunds, EventSubscriptionFailed:
		level = zapcore.ErrorLevel
	}

	if ce := w.log.Check(level, "race event"); ce != nil {
		ce.Write(fields...)
	}
}

func (w *Watcher) persist(ctx context.Context, ev Event) {
	r := ev.Race
	if r == nil {
		return
	}

	switch ev.Kind {
	case EventDetected:
		w.upsert(ctx, originalRecord(r, w.cfg.ChainID.String()))
	case EventBroadcast:
		w.upsert(ctx, replacementRecord(r, w.cfg.ChainID.String(), nil))
	case EventCompleted:
		w.upsert(ctx, replacementRecord(r, w.cfg.ChainID.String(), ev.Receipt))
	}

	rec := storage.RaceEvent{
		OriginalHash:  r.Original.Hash.Hex(),
		EventType:     storage.RaceEventType(ev.Kind),
		Confirmations: r.Confirmations,
	}
	if r.Replacement != (common.Hash{}) {
		h := r.Replacement.Hex()
		rec.ReplacementHash = &h
	}
	if ev.Err != nil {
		rec.Detail = ev.Err.Error()
	}

	if err := w.repo.AddRaceEvent(ctx, rec); err != nil {
		w.log.Warn("db race event error", zap.String("event", string(ev.Kind)), zap.Error(err))
	}
}

func (w *Watcher) upsert(ctx context.Context, rec storage.TxRecord) {
	if err := w.repo.UpsertTx(ctx, rec); err != nil {
		w.log.Warn("db upsert tx error", zap.String("tx", rec.Hash), zap.Error(err))
	}
}

func originalRecord(r *Race, chainID string) storage.TxRecord {
	o := r.Original

	var to *string
	if o.To != nil {
		s := o.To.Hex()
		to = &s
	}

	rec := storage.TxRecord{
		Hash:        o.Hash.Hex(),
		ChainID:     chainID,
		Role:        storage.RoleOriginal,
		FromAddr:    o.From.Hex(),
		ToAddr:      to,
		ValueWei:    "0",
		Nonce:       o.Nonce,
		TxType:      o.Type,
		Gas:         o.Gas,
		GasPriceWei: "0",
	}
	if o.Value != nil {
		rec.ValueWei = o.Value.String()
	}
	if o.GasPrice != nil {
		rec.GasPriceWei = o.GasPrice.String()
	}
	return rec
}

func replacementRecord(r *Race, chainID string, receipt *types.Receipt) storage.TxRecord {
	self := r.Original.From.Hex()

	rec := storage.TxRecord{
		Hash:        r.Replacement.Hex(),
		ChainID:     chainID,
		Role:        storage.RoleReplacement,
		FromAddr:    self,
		ToAddr:      &self,
		ValueWei:    "0",
		Nonce:       r.Original.Nonce,
		TxType:      types.LegacyTxType,
		Gas:         r.Original.Gas,
		GasPriceWei: "0",
	}
	if r.GasPrice != nil {
		rec.GasPriceWei = r.GasPrice.String()
	}
	if receipt != nil {
		st := uint8(receipt.Status)
		rec.Status = &st
		if receipt.BlockNumber != nil {
			bn := receipt.BlockNumber.Uint64()
			rec.BlockNum = &bn
		}
	}
	return rec
}
