package rabbitmq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const publishWait = 2 * time.Second

type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// confirmer publishes with mandatory=true on a channel in confirm mode and
// waits for the broker's verdict.
type confirmer struct {
	ch        publishChannel
	confirmCh <-chan amqp.Confirmation
	returnCh  <-chan amqp.Return
	wait      time.Duration
}

func newConfirmer(ch *amqp.Channel) (*confirmer, error) {
	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("confirm mode: %w", err)
	}
	// must be registered after Confirm
	return &confirmer{
		ch:        ch,
		confirmCh: ch.NotifyPublish(make(chan amqp.Confirmation, 1)),
		returnCh:  ch.NotifyReturn(make(chan amqp.Return, 1)),
		wait:      publishWait,
	}, nil
}

func (c *confirmer) publish(ctx context.Context, exchange, key string, msg amqp.Publishing) error {
	// drop verdicts left over from a timed-out publish
drain:
	for {
		select {
		case <-c.confirmCh:
		case <-c.returnCh:
		default:
			break drain
		}
	}

	if err := c.ch.PublishWithContext(ctx, exchange, key, true, false, msg); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}

	timer := time.NewTimer(c.wait)
	defer timer.Stop()

	select {
	case ret := <-c.returnCh:
		return unroutable(key, ret)

	case conf := <-c.confirmCh:
		// a Return for the same message is dispatched before its Ack
		select {
		case ret := <-c.returnCh:
			return unroutable(key, ret)
		default:
		}
		if !conf.Ack {
			return fmt.Errorf("rabbitmq nack: key=%s deliveryTag=%d", key, conf.DeliveryTag)
		}
		return nil

	case <-timer.C:
		return fmt.Errorf("rabbitmq publish timeout: key=%s", key)

	case <-ctx.Done():
		return ctx.Err()
	}
}

func unroutable(key string, ret amqp.Return) error {
	return fmt.Errorf("rabbitmq unroutable: key=%s code=%d text=%s", key, ret.ReplyCode, ret.ReplyText)
}
