// Package bus is the RabbitMQ event bus: a confirm-mode publisher and a
// manual-ack subscriber over a durable topic exchange, each on its own
// self-healing connection.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/haniot/mhealth-sub002/internal/platform/apperr"
)

const (
	defaultPrefetch = 10

	breakerFailures = 5
	breakerOpenFor  = 30 * time.Second
)

var errNacked = errors.New("message bus rejected the publication")

// Handler processes one delivery body. Its error is logged; the delivery is
// acknowledged either way.
type Handler func(ctx context.Context, body []byte) error

type Config struct {
	URI            string
	Exchange       string
	Queue          string
	ReconnectDelay time.Duration
	PublishTimeout time.Duration
}

type EventBus struct {
	cfg    Config
	logger zerolog.Logger

	publisher  *connection
	subscriber *connection
	breaker    *gobreaker.CircuitBreaker[struct{}]

	// publishRaw performs the confirmed publish; replaced in tests.
	publishRaw func(ctx context.Context, routingKey string, body []byte) error

	mu       sync.RWMutex
	handlers map[string]Handler

	consumeCtx    context.Context
	stopConsuming context.CancelFunc
}

func New(cfg Config, logger zerolog.Logger) *EventBus {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}
	b := &EventBus{
		cfg:      cfg,
		logger:   logger.With().Str("component", "event_bus").Logger(),
		handlers: make(map[string]Handler),
	}
	b.consumeCtx, b.stopConsuming = context.WithCancel(context.Background())
	b.publisher = newConnection("publisher", cfg.URI, cfg.ReconnectDelay, b.setupPublisher, b.logger)
	b.subscriber = newConnection("subscriber", cfg.URI, cfg.ReconnectDelay, b.setupSubscriber, b.logger)
	b.publishRaw = b.confirmedPublish
	b.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    "event-bus-publish",
		Timeout: breakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("publish circuit breaker changed state")
		},
	})
	return b
}

// Subscribe registers h for routingKey. Bindings are (re)declared on every
// subscriber connect, so register handlers before Start.
func (b *EventBus) Subscribe(routingKey string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[routingKey] = h
}

// Start opens both connections in the background.
func (b *EventBus) Start() {
	b.publisher.start()
	b.subscriber.start()
}

func (b *EventBus) PublisherOpen() bool  { return b.publisher.isOpen() }
func (b *EventBus) SubscriberOpen() bool { return b.subscriber.isOpen() }

// Close disposes both connections. In-flight publications are abandoned.
func (b *EventBus) Close(ctx context.Context) {
	b.stopConsuming()
	b.publisher.close(ctx)
	b.subscriber.close(ctx)
}

func (b *EventBus) declareExchange(ch *amqp.Channel) error {
	return ch.ExchangeDeclare(b.cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil)
}

func (b *EventBus) setupPublisher(ch *amqp.Channel) error {
	if err := b.declareExchange(ch); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("enable publisher confirms: %w", err)
	}
	return nil
}

func (b *EventBus) setupSubscriber(ch *amqp.Channel) error {
	if err := b.declareExchange(ch); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	q, err := ch.QueueDeclare(b.cfg.Queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	b.mu.RLock()
	keys := make([]string, 0, len(b.handlers))
	for key := range b.handlers {
		keys = append(keys, key)
	}
	b.mu.RUnlock()
	for _, key := range keys {
		if err := ch.QueueBind(q.Name, key, b.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	if err := ch.Qos(defaultPrefetch, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}
	deliveries, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	go b.consume(deliveries)
	return nil
}

// consume runs until the channel closes; the reconnect loop starts a new one.
func (b *EventBus) consume(deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		b.dispatch(b.consumeCtx, d)
	}
}

func (b *EventBus) dispatch(ctx context.Context, d amqp.Delivery) {
	b.mu.RLock()
	h, ok := b.handlers[d.RoutingKey]
	b.mu.RUnlock()

	log := b.logger.With().Str("routing_key", d.RoutingKey).Str("message_id", d.MessageId).Logger()
	if !ok {
		log.Warn().Msg("no handler for routing key")
	} else if err := h(ctx, d.Body); err != nil {
		log.Error().Err(err).Msg("event handler failed")
	}
	if err := d.Ack(false); err != nil {
		log.Warn().Err(err).Msg("ack failed")
	}
}

// Publish sends body to the exchange and returns nil only after the broker
// confirmed it. Repeated failures open a circuit that fails fast.
func (b *EventBus) Publish(ctx context.Context, routingKey string, body []byte) error {
	_, err := b.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, b.publishRaw(ctx, routingKey, body)
	})
	if err != nil {
		return apperr.Publish(fmt.Errorf("publish %s: %w", routingKey, err))
	}
	return nil
}

func (b *EventBus) confirmedPublish(ctx context.Context, routingKey string, body []byte) error {
	ch, err := b.publisher.currentChannel()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, b.cfg.PublishTimeout)
	defer cancel()

	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, b.cfg.Exchange, routingKey, false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now().UTC(),
			Body:         body,
		})
	if err != nil {
		return err
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return errNacked
	}
	return nil
}
