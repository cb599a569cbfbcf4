package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/baechuer/chatdesk-auth/internal/application/auth"
	"github.com/baechuer/chatdesk-auth/internal/domain"
)

// Publisher queues OTP mails for the mail worker. It implements auth.Mailer:
// Send returns only after the broker confirmed the message.
type Publisher struct {
	cfg Config
	lg  zerolog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	pub  *confirmer
	now  func() time.Time
}

func NewPublisher(cfg Config, lg zerolog.Logger) (*Publisher, error) {
	p := &Publisher{
		cfg: cfg,
		lg:  lg.With().Str("component", "rabbitmq_publisher").Logger(),
		now: time.Now,
	}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetConn()
	return nil
}

// Ping reports whether the broker connection is up.
func (p *Publisher) Ping(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ensureConnected()
}

func (p *Publisher) Send(ctx context.Context, m auth.Mail) error {
	body, err := encodeMail(m)
	if err != nil {
		return domain.ErrInternal(err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureConnected(); err != nil {
		return domain.ErrRabbitUnavailable(err)
	}

	key := routingKeyFor(m.Purpose)
	err = p.pub.publish(ctx, p.cfg.Exchange, key, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    p.now(),
		Body:         body,
	})
	if err != nil {
		p.lg.Error().Err(err).Str("routing_key", key).Msg("otp mail publish failed")
		p.resetConn()
		return domain.ErrRabbitUnavailable(err)
	}

	p.lg.Debug().Str("routing_key", key).Msg("otp mail queued")
	return nil
}

func (p *Publisher) connect() error {
	conn, err := amqp.Dial(p.cfg.URL)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("rabbitmq channel: %w", err)
	}

	if err := declareTopology(ch, p.cfg); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	pub, err := newConfirmer(ch)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	p.conn = conn
	p.pub = pub
	return nil
}

func (p *Publisher) ensureConnected() error {
	if p.pub != nil && (p.conn == nil || !p.conn.IsClosed()) {
		return nil
	}
	p.resetConn()
	return p.connect()
}

func (p *Publisher) resetConn() {
	if p.pub != nil {
		_ = p.pub.ch.Close()
		p.pub = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}
