package rabbitmq

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Config is shared by the publisher and the mail worker.
type Config struct {
	URL      string
	Exchange string
	Queue    string
	BindKeys []string
	Prefetch int
	Tag      string

	MaxAttempts int
	RetryDelay  time.Duration
}

func (c Config) retryExchange() string { return c.Exchange + ".retry" }
func (c Config) dlxExchange() string   { return c.Exchange + ".dlx" }
func (c Config) retryQueue() string    { return c.Queue + ".retry" }
func (c Config) dlqQueue() string      { return c.Queue + ".dlq" }

func (c Config) bindKeys() []string {
	if len(c.BindKeys) == 0 {
		return []string{DefaultBindKey}
	}
	return c.BindKeys
}

func (c Config) retryDelay() time.Duration {
	if c.RetryDelay <= 0 {
		return 10 * time.Second
	}
	return c.RetryDelay
}

func (c Config) maxAttempts() int {
	if c.MaxAttempts <= 0 {
		return 5
	}
	return c.MaxAttempts
}

// declareTopology is idempotent. Both sides declare it so that a publish
// before the first worker start is still routable.
//
//	exchange --bind--> queue --dead letter--> dlx --> queue.dlq
//	retry exchange --> queue.retry (ttl) --dead letter--> exchange
func declareTopology(ch *amqp.Channel, cfg Config) error {
	for _, ex := range []string{cfg.Exchange, cfg.retryExchange(), cfg.dlxExchange()} {
		if err := ch.ExchangeDeclare(ex, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("exchange declare (%s): %w", ex, err)
		}
	}

	mainArgs := amqp.Table{"x-dead-letter-exchange": cfg.dlxExchange()}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, mainArgs); err != nil {
		return fmt.Errorf("main queue declare: %w", err)
	}
	for _, k := range cfg.bindKeys() {
		if err := ch.QueueBind(cfg.Queue, k, cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("main queue bind (%s): %w", k, err)
		}
	}

	retryArgs := amqp.Table{
		"x-message-ttl":          int64(cfg.retryDelay() / time.Millisecond),
		"x-dead-letter-exchange": cfg.Exchange,
	}
	if _, err := ch.QueueDeclare(cfg.retryQueue(), true, false, false, false, retryArgs); err != nil {
		return fmt.Errorf("retry queue declare: %w", err)
	}
	if err := ch.QueueBind(cfg.retryQueue(), "#", cfg.retryExchange(), false, nil); err != nil {
		return fmt.Errorf("retry queue bind: %w", err)
	}

	if _, err := ch.QueueDeclare(cfg.dlqQueue(), true, false, false, false, nil); err != nil {
		return fmt.Errorf("dlq declare: %w", err)
	}
	if err := ch.QueueBind(cfg.dlqQueue(), "#", cfg.dlxExchange(), false, nil); err != nil {
		return fmt.Errorf("dlq bind: %w", err)
	}
	return nil
}
