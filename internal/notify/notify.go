// Package notify publishes check-in events for downstream consumers
// (dashboards, messaging). Publishing is best effort: failures are returned
// to the caller, which logs them and carries on.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const RoutingKeyRedeemed = "ticket.redeemed"

// TicketRedeemed is published once the remote store has confirmed a
// redemption made by this device.
type TicketRedeemed struct {
	TicketCode string    `json:"ticket_code"`
	GroupID    string    `json:"group_id"`
	DeviceID   string    `json:"device_id"`
	RedeemedAt time.Time `json:"redeemed_at"`
	SyncedAt   time.Time `json:"synced_at"`
}

type Publisher interface {
	PublishRedeemed(ctx context.Context, ev TicketRedeemed) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) PublishRedeemed(context.Context, TicketRedeemed) error { return nil }

// AMQPPublisher publishes persistent JSON messages to a durable topic
// exchange, redialing when the connection has dropped.
type AMQPPublisher struct {
	url      string
	exchange string
	logger   *slog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPPublisher(logger *slog.Logger, url, exchange string) (*AMQPPublisher, error) {
	p := &AMQPPublisher{url: url, exchange: exchange, logger: logger}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureConnection(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *AMQPPublisher) ensureConnection() error {
	if p.conn != nil && !p.conn.IsClosed() && p.ch != nil && !p.ch.IsClosed() {
		return nil
	}
	if p.conn != nil {
		p.conn.Close()
	}

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("dialing rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("opening channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		p.exchange,
		"topic",
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declaring exchange %q: %w", p.exchange, err)
	}

	p.conn, p.ch = conn, ch
	return nil
}

func (p *AMQPPublisher) PublishRedeemed(ctx context.Context, ev TicketRedeemed) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureConnection(); err != nil {
		return err
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, RoutingKeyRedeemed, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.SyncedAt,
		MessageId:    ev.TicketCode,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publishing %s: %w", RoutingKeyRedeemed, err)
	}
	p.logger.Debug("event published", "routing_key", RoutingKeyRedeemed, "ticket_code", ev.TicketCode)
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

var (
	_ Publisher = Nop{}
	_ Publisher = (*AMQPPublisher)(nil)
)
