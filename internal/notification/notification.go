// Package notification tells downstream systems about settled money movements.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Kinds of message emitted after commit.
const (
	KindDepositReceived  = "deposit.received"
	KindDepositFailed    = "deposit.failed"
	KindPayoutSuccessful = "payout.successful"
	KindPayoutFailed     = "payout.failed"
	KindAccountStatus    = "virtual_account.status"
)

// Message describes one notification. Entity is the id of the wallet or
// transaction it concerns; Destination is the business it is addressed to.
type Message struct {
	Kind        string         `json:"kind"`
	Entity      string         `json:"entity"`
	Destination string         `json:"destination"`
	Payload     map[string]any `json:"payload,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification", "kind", message.Kind, "entity", message.Entity, "destination", message.Destination)
	return nil
}

// Writer is the part of *kafka.Writer the notifier uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaNotifier publishes messages as JSON, keyed by destination so one
// business's events stay ordered within a partition.
type KafkaNotifier struct {
	writer Writer
}

// NewKafkaNotifier wraps a kafka writer.
func NewKafkaNotifier(writer Writer) *KafkaNotifier {
	return &KafkaNotifier{writer: writer}
}

func (n *KafkaNotifier) Send(ctx context.Context, message Message) error {
	value, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	return n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(message.Destination),
		Value: value,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(message.Kind)},
		},
		Time: message.OccurredAt,
	})
}

// Dispatcher sends notifications in the background. Delivery failures are
// logged and dropped so they never affect the operation that produced them.
type Dispatcher struct {
	notifier Notifier
	logger   *slog.Logger
	timeout  time.Duration
	now      func() time.Time
}

// NewDispatcher wraps notifier.
func NewDispatcher(notifier Notifier, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{notifier: notifier, logger: logger, timeout: 5 * time.Second, now: time.Now}
}

// Notify queues a message for entity. It returns immediately.
func (d *Dispatcher) Notify(ctx context.Context, kind, entity, destination string, payload map[string]any) {
	if d == nil || d.notifier == nil {
		return
	}
	msg := Message{
		Kind:        kind,
		Entity:      entity,
		Destination: destination,
		Payload:     payload,
		OccurredAt:  d.now().UTC(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("notification panicked", "kind", kind, "entity", entity, "panic", r)
			}
		}()
		if err := d.notifier.Send(ctx, msg); err != nil {
			d.logger.Warn("notification failed", "kind", kind, "entity", entity, "error", err)
		}
	}()
}
