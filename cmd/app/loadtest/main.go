// Command loadtest drives the Postgres audit store with a synthetic race
// workload: each write is one full race trail, reads alternate between the
// operator history screen and a single-race lookup.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pvzzle/nonceguard/internal/storage"
	"github.com/pvzzle/nonceguard/internal/storage/pg"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"
)

type opType int

const (
	opRace opType = iota
	opHistory
	opLookup
)

func main() {
	var (
		dsn       = flag.String("dsn", "", "Postgres DSN")
		dur       = flag.Duration("dur", 60*time.Second, "test duration")
		warmup    = flag.Duration("warmup", 5*time.Second, "warmup duration (not counted)")
		avgRPS    = flag.Int("avg-rps", 100, "avg RPS")
		peakRPS   = flag.Int("peak-rps", 500, "peak RPS (during ramp)")
		ramp      = flag.Duration("ramp", 10*time.Second, "ramp-up duration to peak")
		rwRatio   = flag.Int("rw", 10, "reads per race written")
		workers   = flag.Int("workers", 32, "concurrent workers")
		histLimit = flag.Int("hist-limit", 10, "history limit")
	)
	flag.Parse()

	if *dsn == "" {
		panic("dsn required")
	}

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, *dsn)
	if err != nil {
		panic(err)
	}
	defer pool.Close()

	repo := pg.New(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		panic(err)
	}

	w := &workload{repo: repo, histLimit: *histLimit}

	fmt.Println("starting warmup:", *warmup)
	w.runPhase(ctx, *workers, *avgRPS, *avgRPS, 0, *warmup, *rwRatio, false)

	fmt.Println("starting measured test:", *dur)
	res := w.runPhase(ctx, *workers, *avgRPS, *peakRPS, *ramp, *dur, *rwRatio, true)

	printReport(res)
}

type results struct {
	totalOps  uint64
	raceOps   uint64
	readOps   uint64
	errOps    uint64
	latencies map[opType][]time.Duration
	startedAt time.Time
	doneAt    time.Time
}

type workload struct {
	repo      storage.Repository
	histLimit int

	mu    sync.Mutex
	known []string // original hashes written so far
}

func (w *workload) remember(hash string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.known) < 10_000 {
		w.known = append(w.known, hash)
	}
}

func (w *workload) pick(r *rand.Rand) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.known) == 0 {
		return "", false
	}
	return w.known[r.Intn(len(w.known))], true
}

func (w *workload) runPhase(
	ctx context.Context,
	workers int,
	avgRPS int,
	peakRPS int,
	ramp time.Duration,
	dur time.Duration,
	rw int,
	collect bool,
) results {
	ctx, cancel := context.WithTimeout(ctx, dur)
	defer cancel()

	lim := rate.NewLimiter(rate.Limit(avgRPS), avgRPS)
	jobs := make(chan opType, 1024)

	var (
		res results
		mu  sync.Mutex
	)
	res.latencies = make(map[opType][]time.Duration)
	res.startedAt = time.Now()

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			for op := range jobs {
				t0 := time.Now()
				err := w.do(ctx, op, r)
				dt := time.Since(t0)

				atomic.AddUint64(&res.totalOps, 1)
				if op == opRace {
					atomic.AddUint64(&res.raceOps, 1)
				} else {
					atomic.AddUint64(&res.readOps, 1)
				}
				if err != nil {
					atomic.AddUint64(&res.errOps, 1)
					continue
				}
				if collect {
					mu.Lock()
					res.latencies[op] = append(res.latencies[op], dt)
					mu.Unlock()
				}
			}
		}(time.Now().UnixNano() + int64(i))
	}

	go func() {
		defer close(jobs)

		// rw чтений на одну запись, чтения чередуют history и lookup
		pattern := []opType{opRace}
		for i := 0; i < rw; i++ {
			if i%2 == 0 {
				pattern = append(pattern, opHistory)
			} else {
				pattern = append(pattern, opLookup)
			}
		}
		idx := 0
		rampStart := time.Now()

		for {
			if err := lim.Wait(ctx); err != nil {
				return
			}

			if ramp > 0 {
				el := time.Since(rampStart)
				if el < ramp {
					cur := float64(avgRPS) + (float64(peakRPS-avgRPS) * (float64(el) / float64(ramp)))
					lim.SetLimit(rate.Limit(cur))
				} else {
					lim.SetLimit(rate.Limit(peakRPS))
				}
			}

			select {
			case jobs <- pattern[idx]:
			case <-ctx.Done():
				return
			}
			idx = (idx + 1) % len(pattern)
		}
	}()

	wg.Wait()
	res.doneAt = time.Now()
	return res
}

func (w *workload) do(ctx context.Context, op opType, r *rand.Rand) error {
	switch op {
	case opHistory:
		_, err := w.repo.ListHistory(ctx, w.histLimit)
		return err
	case opLookup:
		h, ok := w.pick(r)
		if !ok {
			_, err := w.repo.ListHistory(ctx, w.histLimit)
			return err
		}
		_, err := w.repo.RaceHistory(ctx, h)
		return err
	case opRace:
		return w.writeRace(ctx, r)
	default:
		return nil
	}
}

// writeRace пишет то же, что вотчер пишет за одну успешную гонку.
func (w *workload) writeRace(ctx context.Context, r *rand.Rand) error {
	from := fmt.Sprintf("0x%040x", r.Uint64())
	to := fmt.Sprintf("0x%040x", r.Uint64())
	nonce := uint64(r.Intn(1000))
	gp := uint64(1_000_000_000 + r.Intn(100_000_000_000))

	orig := storage.TxRecord{
		Hash:        fmt.Sprintf("0x%064x", r.Uint64()),
		ChainID:     "1",
		Role:        storage.RoleOriginal,
		FromAddr:    from,
		ToAddr:      &to,
		ValueWei:    "1000000000000000000",
		Nonce:       nonce,
		Gas:         21000,
		GasPriceWei: fmt.Sprint(gp),
	}
	repl := storage.TxRecord{
		Hash:        fmt.Sprintf("0x%064x", r.Uint64()),
		ChainID:     "1",
		Role:        storage.RoleReplacement,
		FromAddr:    from,
		ToAddr:      &from,
		ValueWei:    "0",
		Nonce:       nonce,
		Gas:         21000,
		GasPriceWei: fmt.Sprint(gp + gp/10),
	}

	if err := w.repo.UpsertTx(ctx, orig); err != nil {
		return err
	}
	if err := w.repo.AddRaceEvent(ctx, storage.RaceEvent{OriginalHash: orig.Hash, EventType: storage.EventDetected}); err != nil {
		return err
	}
	if err := w.repo.UpsertTx(ctx, repl); err != nil {
		return err
	}
	if err := w.repo.AddRaceEvent(ctx, storage.RaceEvent{
		OriginalHash:    orig.Hash,
		ReplacementHash: &repl.Hash,
		EventType:       storage.EventBroadcast,
	}); err != nil {
		return err
	}

	bn := uint64(r.Intn(30_000_000))
	st := uint8(1)
	repl.BlockNum = &bn
	repl.Status = &st
	if err := w.repo.UpsertTx(ctx, repl); err != nil {
		return err
	}
	if err := w.repo.AddRaceEvent(ctx, storage.RaceEvent{
		OriginalHash:    orig.Hash,
		ReplacementHash: &repl.Hash,
		EventType:       storage.EventCompleted,
		Confirmations:   13,
	}); err != nil {
		return err
	}

	w.remember(orig.Hash)
	return nil
}

func printReport(res results) {
	d := res.doneAt.Sub(res.startedAt)
	total := atomic.LoadUint64(&res.totalOps)

	fmt.Printf("\n== REPORT ==\n")
	fmt.Printf("duration: %s\n", d)
	fmt.Printf("ops: total=%d races=%d reads=%d errors=%d\n",
		total, atomic.LoadUint64(&res.raceOps), atomic.LoadUint64(&res.readOps), atomic.LoadUint64(&res.errOps))
	if d > 0 {
		fmt.Printf("throughput: %.2f ops/s\n", float64(total)/d.Seconds())
	}

	for _, op := range []struct {
		t    opType
		name string
	}{{opRace, "race"}, {opHistory, "history"}, {opLookup, "lookup"}} {
		lat := res.latencies[op.t]
		if len(lat) == 0 {
			fmt.Printf("%-8s no latency samples\n", op.name)
			continue
		}
		sort.Slice(lat, func(i, j int) bool { return lat[i] < lat[j] })
		p := func(q float64) time.Duration { return lat[int(q*float64(len(lat)-1))] }
		fmt.Printf("%-8s p50=%s p95=%s p99=%s max=%s\n", op.name, p(0.50), p(0.95), p(0.99), lat[len(lat)-1])
	}
}
