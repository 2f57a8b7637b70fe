package ethwatch

import (
	"context"
	"errors"

	"github.com/pvzzle/nonceguard/internal/chain"

	"go.uber.org/zap"
)

// track owns race until it completes, tracking fails, or ctx ends.
// Confirmations are applied in delivery order.
func (w *Watcher) track(ctx context.Context, race *Race, sub chain.ConfirmationSub) {
	defer w.trackers.Done()
	defer w.metrics.ActiveRaces.Dec()

	log := w.log.Named("tracker").With(zap.Stringer("replacement", race.Replacement))
	errs := sub.Err()

	for {
		select {
		case <-ctx.Done():
			sub.Unsubscribe()
			return

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err == nil {
				err = errors.New("confirmation feed closed")
			}
			sub.Unsubscribe()
			w.registry.Finish(race.Original.Hash)
			w.report(ctx, Event{Kind: EventTrackingFailed, Race: race, Err: err})
			return

		case c, ok := <-sub.Confirmations():
			if !ok {
				log.Warn("confirmation feed closed before completion", zap.Uint64("confirmations", race.Confirmations))
				w.registry.Finish(race.Original.Hash)
				return
			}

			done, changed := race.observe(c)
			if !changed {
				continue
			}

			w.registry.Update(race.Original.Hash, race.snapshot())

			if !done {
				w.report(ctx, Event{Kind: EventConfirmation, Race: race})
				continue
			}

			sub.Unsubscribe()
			w.registry.Finish(race.Original.Hash)
			w.metrics.RacesCompleted.Inc()
			w.report(ctx, Event{Kind: EventCompleted, Race: race, Receipt: c.Receipt})
			return
		}
	}
}
