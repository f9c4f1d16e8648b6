package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

var errNotConnected = errors.New("not connected to the message bus")

// setupFunc prepares a fresh channel after every (re)connect.
type setupFunc func(ch *amqp.Channel) error

// connection owns one AMQP connection and channel and keeps them alive until
// close is called.
type connection struct {
	name           string
	uri            string
	reconnectDelay time.Duration
	setup          setupFunc
	logger         zerolog.Logger

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newConnection(name, uri string, reconnectDelay time.Duration, setup setupFunc, logger zerolog.Logger) *connection {
	return &connection{
		name:           name,
		uri:            uri,
		reconnectDelay: reconnectDelay,
		setup:          setup,
		logger:         logger.With().Str("connection", name).Logger(),
		done:           make(chan struct{}),
	}
}

func (c *connection) start() {
	c.wg.Add(1)
	go c.handleReconnect()
}

// handleReconnect dials, runs setup and waits for the connection or channel
// to close, then starts over after the reconnect delay.
func (c *connection) handleReconnect() {
	defer c.wg.Done()
	for {
		connClose, chanClose, err := c.connect()
		if err != nil {
			c.logger.Warn().Err(err).Dur("retry_in", c.reconnectDelay).Msg("message bus connection failed")
		} else {
			c.logger.Info().Msg("connected to message bus")
			select {
			case <-c.done:
				return
			case amqpErr := <-connClose:
				c.logger.Warn().Interface("reason", amqpErr).Msg("message bus connection lost")
			case amqpErr := <-chanClose:
				c.logger.Warn().Interface("reason", amqpErr).Msg("message bus channel lost")
			}
		}
		c.reset()
		select {
		case <-c.done:
			return
		case <-time.After(c.reconnectDelay):
		}
	}
}

// connect returns the close notifications of the new connection and channel;
// either one firing means the pair must be rebuilt.
func (c *connection) connect() (<-chan *amqp.Error, <-chan *amqp.Error, error) {
	conn, err := amqp.Dial(c.uri)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	if err := c.setup(ch); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, err
	}
	connClose := conn.NotifyClose(make(chan *amqp.Error, 1))
	chanClose := ch.NotifyClose(make(chan *amqp.Error, 1))

	c.mu.Lock()
	c.conn, c.channel = conn, ch
	c.mu.Unlock()
	return connClose, chanClose, nil
}

func (c *connection) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil && !c.conn.IsClosed() {
		_ = c.conn.Close()
	}
	c.conn, c.channel = nil, nil
}

// isOpen reports whether the connection and its channel are usable.
func (c *connection) isOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.conn.IsClosed() && c.channel != nil && !c.channel.IsClosed()
}

func (c *connection) currentChannel() (*amqp.Channel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.channel == nil || c.channel.IsClosed() {
		return nil, errNotConnected
	}
	return c.channel, nil
}

// close stops the reconnect loop and closes the connection without draining
// in-flight work.
func (c *connection) close(ctx context.Context) {
	c.stopOnce.Do(func() { close(c.done) })
	c.reset()
	stopped := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
	}
}
