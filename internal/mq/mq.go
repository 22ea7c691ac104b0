package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/foodior/apiserver/config"
)

// AttemptAttribute carries the delivery attempt number of a message.
const AttemptAttribute = "attempt"

// Message represents a broker-agnostic payload delivered to subscribers.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Attempt returns the delivery attempt recorded on the message, starting at 1.
func (m Message) Attempt() int {
	n, err := strconv.Atoi(m.Attributes[AttemptAttribute])
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// Handler processes a message. Return an error to signal a retry/nack.
type Handler func(ctx context.Context, msg Message) error

// Backend defines the broker-agnostic operations used by the app.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

// MQ wraps a backend with JSON helpers and bounded redelivery.
type MQ struct {
	backend     Backend
	maxAttempts int
	logger      *slog.Logger
}

// New constructs an MQ wrapper for the provided backend. Messages whose
// handler keeps failing are dropped after maxAttempts deliveries.
func New(backend Backend, maxAttempts int, logger *slog.Logger) *MQ {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MQ{backend: backend, maxAttempts: maxAttempts, logger: logger}
}

// NewBackend connects to the broker selected in cfg. It returns nil when no
// broker is configured.
func NewBackend(ctx context.Context, cfg config.MQConfig) (Backend, error) {
	switch cfg.Backend {
	case config.MQBackendNone, "":
		return nil, nil
	case config.MQBackendRabbitMQ:
		return NewRabbitMQClient(cfg.RabbitMQ)
	case config.MQBackendPubSub:
		return NewPubSubClient(ctx, cfg.PubSub)
	default:
		return nil, fmt.Errorf("unsupported mq backend %q", cfg.Backend)
	}
}

// PublishJSON encodes payload as JSON and publishes it on channel.
func (m *MQ) PublishJSON(ctx context.Context, channel string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return m.backend.Publish(ctx, channel, data, map[string]string{AttemptAttribute: "1"})
}

// Subscribe consumes messages from channel. A failed message is
// republished with its attempt counter raised until maxAttempts is reached,
// then dropped with an error log.
func (m *MQ) Subscribe(ctx context.Context, channel string, handler Handler) error {
	return m.backend.Subscribe(ctx, channel, func(ctx context.Context, msg Message) error {
		err := handler(ctx, msg)
		if err == nil {
			return nil
		}

		attempt := msg.Attempt()
		if attempt >= m.maxAttempts {
			m.logger.Error("dropping message after final attempt",
				"channel", channel, "id", msg.ID, "attempt", attempt, "error", err)
			return nil
		}

		attrs := make(map[string]string, len(msg.Attributes)+1)
		for k, v := range msg.Attributes {
			attrs[k] = v
		}
		attrs[AttemptAttribute] = strconv.Itoa(attempt + 1)
		if _, pubErr := m.backend.Publish(ctx, channel, msg.Data, attrs); pubErr != nil {
			// Let the broker redeliver the original instead.
			return pubErr
		}
		m.logger.Warn("message handler failed, requeued",
			"channel", channel, "id", msg.ID, "attempt", attempt, "error", err)
		return nil
	})
}

// Close closes the underlying backend.
func (m *MQ) Close() error {
	return m.backend.Close()
}
