// Package relay moves accepted orders through Kafka so that intake and
// printing can run in separate processes.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/orrn/labelrelay/internal/core"
)

const headerMessageID = "message-id"

type Config struct {
	Brokers []string
	Topic   string
	GroupID string
	// ResumeInterval is how often a worker sweeps for abandoned pending
	// attempts after the sweep it runs on start. Zero sweeps only on start.
	ResumeInterval time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer is a core.Dispatcher that publishes accepted orders instead of
// printing them in-process.
type Producer struct {
	writer messageWriter
	topic  string
	log    *logrus.Entry
}

func NewProducer(cfg Config, log *logrus.Entry) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	return newProducer(w, cfg.Topic, log)
}

func newProducer(w messageWriter, topic string, log *logrus.Entry) *Producer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Producer{writer: w, topic: topic, log: log}
}

// Dispatch keys the message by order number so redeliveries of one order
// land on the same partition.
func (p *Producer) Dispatch(ctx context.Context, order *core.Order) error {
	body, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("failed to encode order: %w", err)
	}

	id := uuid.NewString()
	msg := kafka.Message{
		Key:   []byte(order.Number()),
		Value: body,
		Headers: []kafka.Header{
			{Key: headerMessageID, Value: []byte(id)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish order to %s: %w", p.topic, err)
	}

	p.log.WithFields(logrus.Fields{"order_id": order.Number(), "message_id": id}).Info("order published")
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
