package storage

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically marks pending proposals whose deadline has passed so
// they stop occupying the inbound queue.
type Sweeper struct {
	store    Store
	log      *slog.Logger
	interval time.Duration
	notify   func(proposalID string)
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSweeper creates a sweeper. notify, when non-nil, is called once per
// expired proposal. Call Start to begin sweeping.
func NewSweeper(store Store, log *slog.Logger, interval time.Duration, notify func(proposalID string)) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		store:    store,
		log:      log,
		interval: interval,
		notify:   notify,
		done:     make(chan struct{}),
	}
}

// Start launches the background sweep goroutine.
func (sw *Sweeper) Start(ctx context.Context) {
	ctx, sw.cancel = context.WithCancel(ctx)

	go func() {
		defer close(sw.done)

		sw.runSweep()

		ticker := time.NewTicker(sw.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sw.runSweep()
			}
		}
	}()
}

// Stop cancels the sweep goroutine and waits for it to finish.
func (sw *Sweeper) Stop() {
	if sw.cancel != nil {
		sw.cancel()
	}
	<-sw.done
}

func (sw *Sweeper) runSweep() {
	expired, err := sw.store.ExpirePendingProposals(time.Now().UTC())
	if err != nil {
		sw.log.Warn("proposal sweep", "error", err)
		return
	}
	if len(expired) == 0 {
		return
	}
	sw.log.Info("expired pending proposals", "count", len(expired))
	if sw.notify != nil {
		for _, id := range expired {
			sw.notify(id)
		}
	}
}
