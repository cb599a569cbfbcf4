package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/baechuer/chatdesk-auth/internal/application/auth"
)

// Handler delivers one decoded OTP mail.
type Handler interface {
	HandleMail(ctx context.Context, messageID string, m auth.Mail) error
}

// RetryPublisher re-queues a failed delivery through the delayed retry queue.
type RetryPublisher interface {
	PublishRetry(ctx context.Context, orig amqp.Delivery, nextAttempt int) error
}

const attemptHeader = "x-attempt"

type Consumer struct {
	cfg Config

	lg      zerolog.Logger
	handler Handler

	mu      sync.Mutex
	running bool
	doneCh  chan struct{}

	conn       *amqp.Connection
	chConsume  *amqp.Channel
	chPublish  *amqp.Channel
	deliveries <-chan amqp.Delivery
	pub        RetryPublisher
}

func NewConsumer(cfg Config, h Handler, lg zerolog.Logger) *Consumer {
	if cfg.Tag == "" {
		cfg.Tag = "chatdesk-mailer"
	}
	return &Consumer{
		cfg:     cfg,
		handler: h,
		lg:      lg.With().Str("component", "rabbitmq_consumer").Logger(),
	}
}

func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}
	if c.handler == nil {
		return fmt.Errorf("nil handler")
	}

	c.doneCh = make(chan struct{})
	c.running = true
	go c.run(ctx)
	return nil
}

func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	doneCh := c.doneCh
	c.running = false
	c.mu.Unlock()

	c.closeConn()

	select {
	case <-doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the supervisor exits.
func (c *Consumer) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.doneCh == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.doneCh
}

func (c *Consumer) run(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		doneCh := c.doneCh
		c.doneCh = nil
		c.running = false
		c.mu.Unlock()

		if doneCh != nil {
			close(doneCh)
		}
	}()

	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			c.lg.Info().Msg("consumer supervisor exiting (ctx cancelled)")
			return
		default:
		}

		if !c.isRunning() {
			c.lg.Info().Msg("consumer supervisor exiting (stopped)")
			return
		}

		if err := c.connectAndDeclare(); err != nil {
			if isPreconditionFailed(err) {
				c.lg.Error().Err(err).Msg("topology precondition failed; delete and recreate the queues, then restart")
				return
			}
			c.lg.Error().Err(err).Dur("backoff", backoff).Msg("connectAndDeclare failed; retrying")
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = minDur(backoff*2, maxBackoff)
			continue
		}

		backoff = 1 * time.Second
		c.consumeLoop(ctx)

		select {
		case <-ctx.Done():
			return
		default:
		}

		c.lg.Warn().Dur("backoff", backoff).Msg("deliveries closed; reconnecting")
		c.closeConn()

		if !sleepOrDone(ctx, backoff) {
			return
		}
		backoff = minDur(backoff*2, maxBackoff)
	}
}

func (c *Consumer) isRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Consumer) connectAndDeclare() error {
	c.closeConn()

	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}

	chConsume, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("consume channel: %w", err)
	}
	chPublish, err := conn.Channel()
	if err != nil {
		_ = chConsume.Close()
		_ = conn.Close()
		return fmt.Errorf("publish channel: %w", err)
	}

	if err := declareTopology(chConsume, c.cfg); err != nil {
		closeAll(conn, chConsume, chPublish)
		return err
	}

	if c.cfg.Prefetch > 0 {
		if err := chConsume.Qos(c.cfg.Prefetch, 0, false); err != nil {
			closeAll(conn, chConsume, chPublish)
			return fmt.Errorf("qos: %w", err)
		}
	}

	dlv, err := chConsume.Consume(c.cfg.Queue, c.cfg.Tag, false, false, false, false, nil)
	if err != nil {
		closeAll(conn, chConsume, chPublish)
		return fmt.Errorf("consume: %w", err)
	}

	cf, err := newConfirmer(chPublish)
	if err != nil {
		closeAll(conn, chConsume, chPublish)
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.chConsume = chConsume
	c.chPublish = chPublish
	c.deliveries = dlv
	c.pub = &retryPublisher{cf: cf, exchange: c.cfg.retryExchange()}
	c.mu.Unlock()

	c.lg.Info().
		Str("exchange", c.cfg.Exchange).
		Str("queue", c.cfg.Queue).
		Strs("bind_keys", c.cfg.bindKeys()).
		Int("prefetch", c.cfg.Prefetch).
		Msg("rabbitmq consumer ready")
	return nil
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.lg.Info().Msg("consume loop context cancelled")
			return

		case d, ok := <-c.deliveries:
			if !ok {
				c.lg.Warn().Msg("deliveries channel closed")
				return
			}
			c.settle(d, c.handleDelivery(ctx, d))
		}
	}
}

type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// settle acks on success, requeues on a requeueError and dead-letters
// everything else.
func (c *Consumer) settle(d acknowledger, err error) {
	if err == nil {
		_ = d.Ack(false)
		return
	}

	var rerr *requeueError
	if errors.As(err, &rerr) {
		_ = d.Nack(false, true)
		c.lg.Warn().Err(err).Msg("handle failed; requeue")
		return
	}

	_ = d.Nack(false, false)
	c.lg.Error().Err(err).Msg("handle failed; dead-lettered")
}

func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery) error {
	rk := strings.TrimSpace(d.RoutingKey)
	if rk != rkRegistration && rk != rkReset {
		// ack-drop so unknown keys cannot block the queue
		c.lg.Warn().Str("routing_key", truncateString(rk, 100)).Msg("unknown routing key; dropping")
		return nil
	}

	m, err := decodeMail(d.Body)
	if err != nil {
		return fmt.Errorf("bad message: %w", err)
	}

	err = c.handler.HandleMail(ctx, d.MessageId, m)
	if err == nil {
		return nil
	}
	return c.onHandlerError(ctx, d, err)
}

func (c *Consumer) onHandlerError(ctx context.Context, d amqp.Delivery, err error) error {
	if isNonRetriable(err) {
		return fmt.Errorf("non-retriable: %w", err)
	}

	attempt := getAttempt(d.Headers)
	if attempt+1 >= c.cfg.maxAttempts() {
		return fmt.Errorf("max attempts exceeded (%d): %w", attempt+1, err)
	}

	if c.pub == nil {
		return requeue(fmt.Errorf("nil retry publisher"))
	}
	if pubErr := c.pub.PublishRetry(ctx, d, attempt+1); pubErr != nil {
		return requeue(fmt.Errorf("republish retry failed: %w", pubErr))
	}

	c.lg.Warn().Err(err).Int("attempt", attempt+1).Str("routing_key", d.RoutingKey).Msg("send failed; scheduled retry")
	return nil
}

type retryPublisher struct {
	cf       *confirmer
	exchange string
}

func (p *retryPublisher) PublishRetry(ctx context.Context, orig amqp.Delivery, nextAttempt int) error {
	headers := amqp.Table{}
	for k, v := range orig.Headers {
		headers[k] = v
	}
	headers[attemptHeader] = int64(nextAttempt)

	return p.cf.publish(ctx, p.exchange, orig.RoutingKey, amqp.Publishing{
		ContentType:  orig.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    orig.MessageId,
		Timestamp:    orig.Timestamp,
		Headers:      headers,
		Body:         orig.Body,
	})
}

func getAttempt(h amqp.Table) int {
	if h == nil {
		return 0
	}
	switch t := h[attemptHeader].(type) {
	case int:
		return t
	case int32:
		return int(t)
	case int64:
		return int(t)
	case string:
		n, _ := strconv.Atoi(t)
		return n
	default:
		return 0
	}
}

func isNonRetriable(err error) bool {
	var per interface{ Permanent() bool }
	return errors.As(err, &per) && per.Permanent()
}

type requeueError struct{ err error }

func (e *requeueError) Error() string { return e.err.Error() }
func (e *requeueError) Unwrap() error { return e.err }

func requeue(err error) error { return &requeueError{err: err} }

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func closeAll(conn *amqp.Connection, chs ...*amqp.Channel) {
	for _, ch := range chs {
		if ch != nil {
			_ = ch.Close()
		}
	}
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Consumer) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()

	closeAll(c.conn, c.chPublish, c.chConsume)
	c.conn, c.chPublish, c.chConsume = nil, nil, nil
	c.deliveries = nil
	c.pub = nil
}

func truncateString(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

func isPreconditionFailed(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToUpper(err.Error())
	return strings.Contains(msg, "PRECONDITION_FAILED") || strings.Contains(msg, "INEQUIVALENT ARG")
}
