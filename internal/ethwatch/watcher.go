package ethwatch

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pvzzle/nonceguard/internal/bus"
	"github.com/pvzzle/nonceguard/internal/chain"
	"github.com/pvzzle/nonceguard/internal/fee"
	"github.com/pvzzle/nonceguard/internal/metrics"
	"github.com/pvzzle/nonceguard/internal/races"
	"github.com/pvzzle/nonceguard/internal/storage"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

var (
	ErrInsufficientFunds  = errors.New("insufficient funds to outbid pending transaction")
	ErrSubscriptionFailed = errors.New("pending transaction subscription failed")

	errNoSigningKey = errors.New("no signing key configured")
)

// Network is everything the watcher needs from the node.
type Network interface {
	SubscribePendingTransactions(ctx context.Context, ch chan<- common.Hash) (ethereum.Subscription, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*chain.PendingTx, error)
	BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error)
	BroadcastRaw(ctx context.Context, raw []byte) (common.Hash, error)
	SubscribeConfirmations(ctx context.Context, hash common.Hash) (chain.ConfirmationSub, error)
}

type WatcherConfig struct {
	Workers     int
	TasksBuffer int

	BumpPercent int64
	ChainID     *big.Int
}

type TxTask struct {
	Hash   common.Hash
	SeenAt time.Time
}

// Watcher races every pending transaction sent from the watched account with a
// same-nonce, zero-value self-transfer at a higher gas price.
type Watcher struct {
	net       Network
	account   chain.Account
	escalator *fee.Escalator
	signer    types.Signer

	registry *races.Registry
	notifyCh chan<- bus.Notification
	repo     storage.Repository
	metrics  *metrics.WatcherMetrics
	log      *zap.Logger

	cfg WatcherConfig

	state  atomic.Int32
	halted atomic.Bool
	fatal  chan error

	tasks    chan TxTask
	wg       sync.WaitGroup
	trackers sync.WaitGroup
}

func NewWatcher(
	net Network,
	account chain.Account,
	registry *races.Registry,
	notifyCh chan<- bus.Notification,
	repo storage.Repository,
	m *metrics.WatcherMetrics,
	log *zap.Logger,
	cfg WatcherConfig,
) *Watcher {

	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}

	if cfg.TasksBuffer <= 0 {
		cfg.TasksBuffer = 1024
	}

	if cfg.BumpPercent < fee.MinBumpPercent {
		cfg.BumpPercent = fee.MinBumpPercent
	}

	if cfg.ChainID == nil {
		cfg.ChainID = big.NewInt(1)
	}

	if registry == nil {
		registry = races.NewRegistry(false)
	}
	if repo == nil {
		repo = storage.Nop{}
	}
	if m == nil {
		m = metrics.NewWatcherMetrics()
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Watcher{
		net:       net,
		account:   account,
		escalator: fee.NewEscalator(net),
		signer:    types.NewEIP155Signer(cfg.ChainID),
		registry:  registry,
		notifyCh:  notifyCh,
		repo:      repo,
		metrics:   m,
		log:       log.Named("watcher"),
		cfg:       cfg,
		fatal:     make(chan error, 1),
		tasks:     make(chan TxTask, cfg.TasksBuffer),
	}
}

func (w *Watcher) State() State { return State(w.state.Load()) }

// Halted reports whether the watcher gave up after an unaffordable replacement.
func (w *Watcher) Halted() bool { return w.halted.Load() }

// Start blocks until ctx is done, the pending feed fails, or the account can no
// longer afford a replacement. It may only be called once.
func (w *Watcher) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hashes := make(chan common.Hash, 128)

	sub, err := w.net.SubscribePendingTransactions(ctx, hashes)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrSubscriptionFailed, err)
		w.report(ctx, Event{Kind: EventSubscriptionFailed, Err: err})
		return err
	}
	defer sub.Unsubscribe()

	w.state.Store(int32(StateSubscribed))
	defer w.state.Store(int32(StateIdle))
	w.report(ctx, Event{Kind: EventSubscribed})

	w.startWorkers(ctx)
	defer w.stopWorkers(cancel)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-w.fatal:
			return err

		case err := <-sub.Err():
			if err == nil {
				err = errors.New("closed by node")
			}
			return fmt.Errorf("pending subscription: %w", err)

		case h := <-hashes:
			w.metrics.PendingSeen.Inc()

			select {
			case w.tasks <- TxTask{Hash: h, SeenAt: time.Now()}:
			case err := <-w.fatal:
				return err
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (w *Watcher) startWorkers(ctx context.Context) {
	for i := 0; i < w.cfg.Workers; i++ {
		w.wg.Add(1)
		go func(workerID int) {
			defer w.wg.Done()

			for {
				select {
				case <-ctx.Done():
					return

				case task, ok := <-w.tasks:
					if !ok {
						return
					}
					w.handleTask(ctx, task)
				}
			}
		}(i)
	}
}

func (w *Watcher) stopWorkers(cancel context.CancelFunc) {
	cancel()
	close(w.tasks)
	w.wg.Wait()
	w.trackers.Wait()
}

func (w *Watcher) handleTask(ctx context.Context, task TxTask) {
	if w.halted.Load() || w.registry.IsOwn(task.Hash) {
		return
	}

	tx, err := w.net.TransactionByHash(ctx, task.Hash)
	if err != nil || tx == nil {
		// the feed reports hashes that are gone from the mempool by the time we ask
		w.metrics.LookupMisses.Inc()
		w.log.Debug("pending lookup miss", zap.Stringer("tx", task.Hash), zap.Error(err))
		return
	}

	if tx.From != w.account.Address {
		return
	}
	w.log.Debug("pending tx from watched account",
		zap.Stringer("tx", tx.Hash),
		zap.Uint64("nonce", tx.Nonce),
		zap.Stringer("gas_price_wei", tx.GasPrice),
		zap.Uint64("gas", tx.Gas),
	)

	w.metrics.WatchedDetected.Inc()

	if !w.registry.Claim(tx.Hash, tx.Nonce) {
		w.log.Debug("original already raced", zap.Stringer("tx", tx.Hash), zap.Uint64("nonce", tx.Nonce))
		return
	}

	race := &Race{
		Original:  *tx,
		State:     StateEvaluating,
		StartedAt: task.SeenAt,
	}
	w.registry.Update(tx.Hash, race.snapshot())
	w.report(ctx, Event{Kind: EventDetected, Race: race})

	ok, err := w.escalator.HasSufficientBalance(ctx, w.account.Address, tx, w.cfg.BumpPercent)
	if err != nil {
		w.registry.Release(tx.Hash)
		w.metrics.EvaluationFailures.Inc()
		w.report(ctx, Event{Kind: EventEvaluationFailed, Race: race, Err: err})
		return
	}
	if !ok {
		w.halt(ctx, race)
		return
	}

	// another worker may have halted while we were querying the balance
	if w.halted.Load() {
		w.registry.Release(tx.Hash)
		return
	}

	race.State = StateBroadcasting
	w.registry.Update(tx.Hash, race.snapshot())

	signed, err := w.buildReplacement(tx)
	if err != nil {
		w.registry.Release(tx.Hash)
		w.report(ctx, Event{Kind: EventBroadcastFailed, Race: race, Err: err})
		return
	}
	race.GasPrice = signed.GasPrice()

	raw, err := signed.MarshalBinary()
	if err != nil {
		w.registry.Release(tx.Hash)
		w.report(ctx, Event{Kind: EventBroadcastFailed, Race: race, Err: err})
		return
	}

	// the replacement shows up in our own pending feed
	w.registry.MarkOwn(signed.Hash())

	hash, err := w.net.BroadcastRaw(ctx, raw)
	if err != nil {
		w.registry.Release(tx.Hash)
		w.metrics.BroadcastFailures.Inc()
		w.report(ctx, Event{Kind: EventBroadcastFailed, Race: race, Err: fmt.Errorf("broadcast: %w", err)})
		return
	}
	if hash == (common.Hash{}) {
		hash = signed.Hash()
	}
	if hash != signed.Hash() {
		w.registry.MarkOwn(hash)
	}
	race.Replacement = hash

	w.metrics.ReplacementsBroadcast.Inc()
	w.metrics.ReplacementGasPrice.Observe(weiToGwei(race.GasPrice))
	w.report(ctx, Event{Kind: EventBroadcast, Race: race})

	confs, err := w.net.SubscribeConfirmations(ctx, hash)
	if err != nil {
		w.registry.Finish(tx.Hash)
		w.report(ctx, Event{Kind: EventTrackingFailed, Race: race, Err: err})
		return
	}

	race.State = StateTracking
	w.registry.Update(tx.Hash, race.snapshot())
	w.metrics.ActiveRaces.Inc()

	w.trackers.Add(1)
	go w.track(ctx, race, confs)
}

func (w *Watcher) buildReplacement(orig *chain.PendingTx) (*types.Transaction, error) {
	if w.account.Key == nil {
		return nil, errNoSigningKey
	}

	to := orig.From
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    orig.Nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      orig.Gas,
		GasPrice: fee.ReplacementGasPrice(orig.GasPrice, w.cfg.BumpPercent),
	})

	signed, err := types.SignTx(tx, w.signer, w.account.Key)
	if err != nil {
		return nil, fmt.Errorf("sign replacement: %w", err)
	}
	return signed, nil
}

func (w *Watcher) halt(ctx context.Context, race *Race) {
	err := fmt.Errorf("%w: %s (nonce %d, gas price %s wei, bump %d%%)",
		ErrInsufficientFunds, race.Original.Hash.Hex(), race.Original.Nonce, race.Original.GasPrice, w.cfg.BumpPercent)

	w.halted.Store(true)
	w.report(ctx, Event{Kind: EventInsufficientFunds, Race: race, Err: err})

	select {
	case w.fatal <- err:
	default:
	}
}
