package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/haniot/mhealth-sub002/internal/platform/metrics"
)

// Publisher is the bus side the task needs.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
	PublisherOpen() bool
}

// Reviver validates a stored event name and returns the envelope to publish.
// It returns ErrUnsupported for events outside the resurrectable set.
type Reviver func(eventName string, envelope json.RawMessage) (json.RawMessage, error)

// Stats summarises one scan.
type Stats struct {
	Scanned     int
	Republished int
	Failed      int
	Skipped     int
	BusClosed   bool
}

// Task periodically drains the outbox.
type Task struct {
	repo    Repository
	bus     Publisher
	revive  Reviver
	metrics *metrics.Collector
	logger  zerolog.Logger

	// Interval between scans.
	Interval time.Duration
	// BatchSize is the page size used while a scan walks the table.
	BatchSize int
	// Concurrency bounds the rows republished at the same time.
	Concurrency int
}

func NewTask(repo Repository, bus Publisher, revive Reviver, logger zerolog.Logger) *Task {
	return &Task{
		repo:        repo,
		bus:         bus,
		revive:      revive,
		logger:      logger.With().Str("component", "outbox_task").Logger(),
		Interval:    2 * time.Minute,
		BatchSize:   100,
		Concurrency: 4,
	}
}

// SetMetrics attaches an optional metrics collector.
func (t *Task) SetMetrics(c *metrics.Collector) { t.metrics = c }

// Run scans once per Interval. It blocks until ctx is cancelled.
func (t *Task) Run(ctx context.Context) {
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := t.RunOnce(ctx); err != nil {
				t.logger.Error().Err(err).Msg("outbox scan failed")
			}
		}
	}
}

// RunOnce performs a single scan. When the publisher connection is down the
// whole scan is skipped.
func (t *Task) RunOnce(ctx context.Context) (Stats, error) {
	var stats Stats
	if !t.bus.PublisherOpen() {
		stats.BusClosed = true
		t.logger.Debug().Msg("publisher connection closed, skipping outbox scan")
		return stats, nil
	}
	limit := max(t.BatchSize, 1)
	var (
		republished, failed, skipped atomic.Int64
		after                        *Cursor
	)
	// Walk the whole table; skipped and failing rows stay behind the cursor.
	for {
		records, err := t.repo.Find(ctx, after, limit)
		if err != nil {
			return stats, err
		}
		stats.Scanned += len(records)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(max(t.Concurrency, 1))
		for _, rec := range records {
			rec := rec
			g.Go(func() error {
				switch err := t.retry(gctx, rec); {
				case err == nil:
					republished.Add(1)
				case errors.Is(err, ErrUnsupported):
					skipped.Add(1)
				default:
					failed.Add(1)
				}
				return nil
			})
		}
		_ = g.Wait()

		if len(records) < limit || ctx.Err() != nil {
			break
		}
		after = CursorOf(records[len(records)-1])
	}

	stats.Republished = int(republished.Load())
	stats.Failed = int(failed.Load())
	stats.Skipped = int(skipped.Load())
	if stats.Scanned > 0 {
		t.logger.Info().Int("scanned", stats.Scanned).Int("republished", stats.Republished).
			Int("failed", stats.Failed).Int("skipped", stats.Skipped).Msg("outbox scan finished")
	}
	return stats, nil
}

// retry publishes one record and deletes it only after a confirmed publish.
func (t *Task) retry(ctx context.Context, rec Record) error {
	log := t.logger.With().Str("outbox_id", rec.ID.String()).Str("event_name", rec.EventName).Logger()

	routingKey, operation, envelope, err := rec.Target()
	if err != nil {
		log.Warn().Err(err).Msg("unreadable outbox record")
		return ErrUnsupported
	}
	if operation != OperationPublish || routingKey == "" {
		return ErrUnsupported
	}
	body, err := t.revive(rec.EventName, envelope)
	if err != nil {
		if !errors.Is(err, ErrUnsupported) {
			log.Warn().Err(err).Msg("could not revive outbox event")
		}
		return ErrUnsupported
	}

	if err := t.bus.Publish(ctx, routingKey, body); err != nil {
		t.metrics.OutboxRetry(false)
		log.Warn().Err(err).Msg("outbox republish failed, keeping record")
		return err
	}
	t.metrics.OutboxRetry(true)
	if _, err := t.repo.Delete(ctx, rec.ID); err != nil {
		log.Error().Err(err).Msg("republished outbox record could not be deleted")
		return err
	}
	log.Info().Str("routing_key", routingKey).Msg("outbox event republished")
	return nil
}
