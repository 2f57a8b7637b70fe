package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/pvzzle/nonceguard/internal/storage"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Postgres struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Postgres { return &Postgres{pool: pool} }

func (r *Postgres) EnsureSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS transactions (
  hash TEXT PRIMARY KEY,
  chain_id TEXT NOT NULL,
  role TEXT NOT NULL, -- original|replacement

  block_number BIGINT NULL,

  from_addr TEXT NOT NULL,
  to_addr   TEXT NULL,

  value_wei NUMERIC(78,0) NOT NULL,
  nonce     BIGINT NOT NULL,
  tx_type   INT NOT NULL,
  gas       BIGINT NOT NULL,
  gas_price_wei NUMERIC(78,0) NOT NULL,

  status SMALLINT NULL, -- 1 success, 0 failed

  first_seen_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS race_events (
  id BIGSERIAL PRIMARY KEY,
  original_hash TEXT NOT NULL,
  replacement_hash TEXT NULL,
  event_type TEXT NOT NULL,
  confirmations BIGINT NOT NULL DEFAULT 0,
  detail TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS race_events_original_idx ON race_events(original_hash, created_at);
CREATE INDEX IF NOT EXISTS race_events_created_idx ON race_events(created_at DESC);
`
	_, err := r.pool.Exec(ctx, ddl)
	return err
}

func (r *Postgres) UpsertTx(ctx context.Context, tx storage.TxRecord) error {
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var (
		blockNum any = nil
		toAddr   any = nil
		status   any = nil
	)

	if tx.BlockNum != nil {
		blockNum = int64(*tx.BlockNum)
	}
	if tx.ToAddr != nil {
		toAddr = *tx.ToAddr
	}
	if tx.Status != nil {
		status = int16(*tx.Status)
	}

	q := `
INSERT INTO transactions(
  hash, chain_id, role, block_number,
  from_addr, to_addr,
  value_wei, nonce, tx_type, gas, gas_price_wei, status
) VALUES (
  $1, $2, $3, $4,
  $5, $6,
  $7::numeric, $8, $9, $10, $11::numeric, $12
)
ON CONFLICT(hash) DO UPDATE SET
  block_number = COALESCE(EXCLUDED.block_number, transactions.block_number),
  status       = COALESCE(EXCLUDED.status, transactions.status),
  updated_at   = now()
`
	_, err := r.pool.Exec(cctx, q,
		tx.Hash, tx.ChainID, string(tx.Role), blockNum,
		tx.FromAddr, toAddr,
		tx.ValueWei, int64(tx.Nonce), int(tx.TxType), int64(tx.Gas), tx.GasPriceWei, status,
	)
	return err
}

func (r *Postgres) AddRaceEvent(ctx context.Context, ev storage.RaceEvent) error {
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var repl any = nil
	if ev.ReplacementHash != nil {
		repl = *ev.ReplacementHash
	}

	_, err := r.pool.Exec(cctx,
		`INSERT INTO race_events(original_hash, replacement_hash, event_type, confirmations, detail)
		 VALUES ($1, $2, $3, $4, $5)`,
		ev.OriginalHash, repl, string(ev.EventType), int64(ev.Confirmations), ev.Detail,
	)
	return err
}

const historySelect = `
SELECT
  e.created_at,
  e.event_type,
  e.original_hash,
  e.replacement_hash,
  t.nonce,
  rt.gas_price_wei::text,
  e.confirmations,
  e.detail
FROM race_events e
LEFT JOIN transactions t  ON t.hash = e.original_hash
LEFT JOIN transactions rt ON rt.hash = e.replacement_hash
`

func (r *Postgres) ListHistory(ctx context.Context, limit int) ([]storage.HistoryItem, error) {
	if limit <= 0 {
		limit = 10
	}
	cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(cctx, historySelect+`ORDER BY e.created_at DESC, e.id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return scanHistory(rows)
}

func (r *Postgres) RaceHistory(ctx context.Context, originalHash string) ([]storage.HistoryItem, error) {
	cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(cctx, historySelect+`WHERE e.original_hash = $1 ORDER BY e.created_at, e.id`, originalHash)
	if err != nil {
		return nil, err
	}
	return scanHistory(rows)
}

func scanHistory(rows pgx.Rows) ([]storage.HistoryItem, error) {
	defer rows.Close()

	var out []storage.HistoryItem
	for rows.Next() {
		var (
			at       time.Time
			etype    string
			orig     string
			repl     *string
			nonce    *int64
			gasPrice *string
			confs    int64
			detail   string
		)

		if err := rows.Scan(&at, &etype, &orig, &repl, &nonce, &gasPrice, &confs, &detail); err != nil {
			return nil, err
		}

		var n *uint64
		if nonce != nil {
			u := uint64(*nonce)
			n = &u
		}

		out = append(out, storage.HistoryItem{
			At: at, EventType: storage.RaceEventType(etype),
			OriginalHash: orig, ReplacementHash: repl,
			Nonce: n, GasPriceWei: gasPrice,
			Confirmations: uint64(confs), Detail: detail,
		})
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return out, nil
}

func (r *Postgres) String() string { return fmt.Sprintf("pgrepo(%p)", r.pool) }
