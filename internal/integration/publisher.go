package integration

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/haniot/mhealth-sub002/internal/domain/measurement"
	"github.com/haniot/mhealth-sub002/internal/integration/outbox"
	"github.com/haniot/mhealth-sub002/internal/platform/metrics"
)

// BusPublisher sends one message to the bus, returning nil once confirmed.
type BusPublisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// EventPublisher publishes derived events and stores the ones the bus
// refused in the outbox. It never reports failure to its caller.
type EventPublisher struct {
	bus     BusPublisher
	outbox  outbox.Repository
	metrics *metrics.Collector
	logger  zerolog.Logger
}

func NewEventPublisher(bus BusPublisher, store outbox.Repository, logger zerolog.Logger) *EventPublisher {
	return &EventPublisher{bus: bus, outbox: store, logger: logger.With().Str("component", "event_publisher").Logger()}
}

// SetMetrics attaches an optional metrics collector.
func (p *EventPublisher) SetMetrics(c *metrics.Collector) { p.metrics = c }

// Publish sends the event of type et carrying payload. Delivery problems are
// absorbed: the event lands in the outbox and only a failed insert is lost.
func (p *EventPublisher) Publish(ctx context.Context, et EventType, payload interface{}) {
	// Publication outlives the request or delivery that triggered it.
	ctx = context.WithoutCancel(ctx)
	log := p.logger.With().Str("event_name", et.Name).Str("routing_key", et.RoutingKey).Logger()

	env, err := NewEnvelope(et, payload)
	if err != nil {
		log.Error().Err(err).Msg("could not build derived event")
		return
	}
	body, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Msg("could not encode derived event")
		return
	}
	publishErr := p.bus.Publish(ctx, et.RoutingKey, body)
	if publishErr == nil {
		p.metrics.DerivedEvent(et.Name, "published")
		log.Info().Msg("derived event published")
		return
	}
	log.Warn().Err(publishErr).Msg("derived event not published, saving to outbox")

	rec, err := outbox.NewRecord(et.Name, env.Timestamp, body, et.RoutingKey)
	if err != nil {
		log.Error().Err(err).Msg("could not build outbox record")
		return
	}
	if err := p.outbox.Create(ctx, rec); err != nil {
		log.Error().Err(err).Msg("derived event lost: outbox insert failed")
		return
	}
	p.metrics.DerivedEvent(et.Name, "outboxed")
}

// NotifyLastSave implements measurement.LastSaveNotifier.
func (p *EventPublisher) NotifyLastSave(ctx context.Context, m measurement.Measurement) {
	switch m.Header().Type {
	case measurement.TypeWeight:
		p.Publish(ctx, WeightLastSaveEvent, m)
	case measurement.TypeHeight:
		p.Publish(ctx, HeightLastSaveEvent, m)
	}
}
