package storage

import "context"

type Repository interface {
	EnsureSchema(ctx context.Context) error

	UpsertTx(ctx context.Context, tx TxRecord) error
	AddRaceEvent(ctx context.Context, ev RaceEvent) error

	ListHistory(ctx context.Context, limit int) ([]HistoryItem, error)
	RaceHistory(ctx context.Context, originalHash string) ([]HistoryItem, error)
}

// Nop discards writes and returns empty history. Used when no database is configured.
type Nop struct{}

func (Nop) EnsureSchema(ctx context.Context) error { return nil }
func (Nop) UpsertTx(ctx context.Context, tx TxRecord) error { return nil }
func (Nop) AddRaceEvent(ctx context.Context, ev RaceEvent) error { return nil }
func (Nop) ListHistory(ctx context.Context, limit int) ([]HistoryItem, error) {
	return nil, nil
}
func (Nop) RaceHistory(ctx context.Context, originalHash string) ([]HistoryItem, error) {
	return nil, nil
}
