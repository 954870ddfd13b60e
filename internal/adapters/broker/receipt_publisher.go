// Package broker publishes pipeline events to RabbitMQ.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"commerce-pipeline/internal/core"
)

// ReceiptIssuedKey is the routing key of goods receipt events.
const ReceiptIssuedKey = "pipeline.receipt.issued"

// ReceiptEvent is the message body published for every goods receipt.
// The inventory service consumes it and owns the stock update.
type ReceiptEvent struct {
	EventID    string        `json:"event_id"`
	Type       string        `json:"type"`
	ReceiptID  int           `json:"receipt_id"`
	Lines      []ReceiptLine `json:"lines"`
	OccurredAt time.Time     `json:"occurred_at"`
}

type ReceiptLine struct {
	LineNumber       int    `json:"line_number"`
	ProductID        int    `json:"product_id"`
	OrderedQuantity  int64  `json:"ordered_quantity"`
	ReceivedQuantity int64  `json:"received_quantity"`
	UnitPrice        string `json:"unit_price"`
}

// Publisher is the subset of *amqp.Channel the publisher needs.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// ReceiptPublisher implements core.InventorySync by publishing a ReceiptEvent
// to a topic exchange.
type ReceiptPublisher struct {
	ch       Publisher
	exchange string
	log      *zap.Logger
	now      func() time.Time
	closer   func() error
}

var _ core.InventorySync = (*ReceiptPublisher)(nil)

// NewReceiptPublisher dials RabbitMQ and declares a durable topic exchange.
// Call Close when done.
func NewReceiptPublisher(url, exchange string, log *zap.Logger) (*ReceiptPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	p := NewReceiptPublisherWithChannel(ch, exchange, log)
	p.closer = func() error {
		if err := ch.Close(); err != nil {
			conn.Close()
			return err
		}
		return conn.Close()
	}
	return p, nil
}

// NewReceiptPublisherWithChannel publishes on an existing channel.
func NewReceiptPublisherWithChannel(ch Publisher, exchange string, log *zap.Logger) *ReceiptPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &ReceiptPublisher{ch: ch, exchange: exchange, log: log, now: time.Now}
}

func (p *ReceiptPublisher) NotifyReceipt(ctx context.Context, receiptID int, lines []core.LineItem) error {
	event := ReceiptEvent{
		EventID:    uuid.NewString(),
		Type:       ReceiptIssuedKey,
		ReceiptID:  receiptID,
		Lines:      make([]ReceiptLine, 0, len(lines)),
		OccurredAt: p.now().UTC(),
	}
	for _, l := range lines {
		received := l.Quantity
		if l.ReceivedQuantity != nil {
			received = *l.ReceivedQuantity
		}
		event.Lines = append(event.Lines, ReceiptLine{
			LineNumber:       l.LineNumber,
			ProductID:        l.ProductID,
			OrderedQuantity:  l.Quantity,
			ReceivedQuantity: received,
			UnitPrice:        l.UnitPrice.StringFixed(2),
		})
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode receipt event: %w", err)
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, ReceiptIssuedKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.EventID,
		Timestamp:    event.OccurredAt,
		Type:         event.Type,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish receipt %d: %w", receiptID, err)
	}

	p.log.Debug("receipt event published",
		zap.Int("receipt_id", receiptID),
		zap.String("event_id", event.EventID),
		zap.String("exchange", p.exchange),
	)
	return nil
}

// Close releases the channel and connection opened by NewReceiptPublisher.
func (p *ReceiptPublisher) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}
