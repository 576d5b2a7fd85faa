/*
Package events publishes ledger events for other systems to consume.

Publishing is best-effort. A debt is recorded once the ledger write
succeeds; a broker outage only costs the event, never the write.
*/
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"github.com/warp/debt-engine/ledger"
)

// QueueDebtRecorded is the queue (and routing key) for RecordedEvent.
const QueueDebtRecorded = "debt.recorded"

// RecordedEvent is emitted after every successful ledger write.
type RecordedEvent struct {
	EventID       string          `json:"event_id"`
	TransactionID string          `json:"transaction_id"`
	CreditorID    int64           `json:"creditor_id"`
	DebitorID     int64           `json:"debitor_id"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        string          `json:"reason,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`

	// Balance is the creditor's balance against the debitor after the write.
	Balance decimal.Decimal `json:"balance"`
}

// NewRecordedEvent builds the event for tx with a fresh event id.
func NewRecordedEvent(tx ledger.Transaction, balance decimal.Decimal) RecordedEvent {
	return RecordedEvent{
		EventID:       uuid.NewString(),
		TransactionID: string(tx.ID),
		CreditorID:    int64(tx.CreditorID),
		DebitorID:     int64(tx.DebitorID),
		Amount:        tx.Amount,
		Reason:        tx.Reason,
		Timestamp:     tx.Timestamp,
		Balance:       balance,
	}
}

type Publisher interface {
	PublishRecorded(ctx context.Context, e RecordedEvent) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) PublishRecorded(context.Context, RecordedEvent) error { return nil }

// =============================================================================
// AMQP PUBLISHER
// =============================================================================

// AMQPPublisher sends events to a durable RabbitMQ queue through the
// default exchange. One channel is shared, guarded by mu.
type AMQPPublisher struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// DialAMQP connects and declares the queue.
func DialAMQP(url string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	if _, err := ch.QueueDeclare(
		QueueDebtRecorded, // name
		true,              // durable
		false,             // autoDelete
		false,             // exclusive
		false,             // noWait
		nil,               // args
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq queue declare: %w", err)
	}
	return &AMQPPublisher{conn: conn, ch: ch, queue: QueueDebtRecorded}, nil
}

func (p *AMQPPublisher) PublishRecorded(ctx context.Context, e RecordedEvent) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.PublishWithContext(ctx,
		"",      // default exchange
		p.queue, // routing key = queue name
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    e.EventID,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.ch.Close()
	return p.conn.Close()
}
