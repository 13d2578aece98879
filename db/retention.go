package db

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const purgeTimeout = time.Minute

// Retention periodically deletes analyses that outlived maxAge.
type Retention struct {
	cron   *cron.Cron
	store  Store
	maxAge time.Duration
	log    zerolog.Logger
	now    func() time.Time
}

func NewRetention(store Store, schedule string, maxAge time.Duration, log zerolog.Logger) (*Retention, error) {
	r := &Retention{
		cron:   cron.New(),
		store:  store,
		maxAge: maxAge,
		log:    log.With().Str("component", "retention").Logger(),
		now:    time.Now,
	}

	if _, err := r.cron.AddFunc(schedule, r.run); err != nil {
		return nil, fmt.Errorf("invalid purge schedule %q: %w", schedule, err)
	}

	return r, nil
}

func (r *Retention) Start() {
	r.cron.Start()
}

// Stop halts the schedule and waits for a running purge to finish.
func (r *Retention) Stop() {
	<-r.cron.Stop().Done()
}

// Purge removes every analysis older than maxAge right now.
func (r *Retention) Purge(ctx context.Context) (int64, error) {
	return r.store.PurgeAnalyses(ctx, r.now().Add(-r.maxAge))
}

func (r *Retention) run() {
	ctx, cancel := context.WithTimeout(context.Background(), purgeTimeout)
	defer cancel()

	n, err := r.Purge(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("could not purge analyses")
		return
	}
	if n > 0 {
		r.log.Info().Int64("count", n).Msg("purged expired analyses")
	}
}
