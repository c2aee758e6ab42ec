package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// terminalsExchange is the fanout exchange all terminals share.
const terminalsExchange = "pos.terminals"

// AMQP is a Bus over a RabbitMQ fanout exchange.
//
// Each terminal declares its own exclusive queue bound to the exchange,
// so every terminal sees every publish. Envelopes published by this
// terminal are filtered out on receive by TerminalID.
type AMQP struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	queue      string
	terminalID string
	log        *slog.Logger

	mu     sync.Mutex
	closed bool
}

// DialAMQP connects to the broker and declares the fanout exchange plus
// this terminal's exclusive queue.
func DialAMQP(host string, port int, user, pass, terminalID string, log *slog.Logger) (*AMQP, error) {
	if log == nil {
		log = slog.Default()
	}
	url := fmt.Sprintf("amqp://%s:%s@%s:%d/", user, pass, host, port)
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(terminalsExchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", terminalsExchange, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("bind queue: %w", err)
	}
	return &AMQP{
		conn:       conn,
		ch:         ch,
		queue:      q.Name,
		terminalID: terminalID,
		log:        log,
	}, nil
}

// Publish implements Bus.
func (b *AMQP) Publish(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	err = b.ch.PublishWithContext(ctx, terminalsExchange, "", false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Transient,
		CorrelationId: env.OrderID,
		Timestamp:     env.SentAt,
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("publish envelope: %w", err)
	}
	return nil
}

// Subscribe implements Bus. The consume loop runs until stop is called
// or the channel closes; malformed messages are logged and dropped.
func (b *AMQP) Subscribe(handler Handler) (func(), error) {
	deliveries, err := b.ch.Consume(b.queue, "", true, true, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal(d.Body, &env); err != nil {
					b.log.Error("drop malformed broadcast", "error", err)
					continue
				}
				if env.TerminalID == b.terminalID {
					continue
				}
				handler(env)
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }, nil
}

// Close implements Bus.
func (b *AMQP) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.ch != nil {
		_ = b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
