package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/iliyamo/playtest-sessions/internal/config"
)

// Publisher delivers committed domain events to a broker.  Publishing is
// best effort: callers log failures and never roll back for them.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

type noopPublisher struct{}

// NewNoop returns a Publisher that drops every event.
func NewNoop() Publisher { return noopPublisher{} }

func (noopPublisher) Publish(context.Context, Event) error { return nil }
func (noopPublisher) Close() error                         { return nil }

// NewPublisher builds the Publisher selected by cfg.Broker.
func NewPublisher(cfg config.EventsConfig) (Publisher, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Broker)) {
	case "", "none", "noop":
		slog.Info("event publishing disabled")
		return NewNoop(), nil
	case "rabbitmq", "amqp":
		slog.Info("publishing events to rabbitmq", "queue", cfg.Queue)
		return NewRabbitPublisher(cfg.RabbitURL, cfg.Queue), nil
	case "kafka":
		slog.Info("publishing events to kafka", "brokers", strings.Join(cfg.KafkaBrokers, ","), "topic", cfg.KafkaTopic)
		return NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	default:
		return nil, fmt.Errorf("unsupported EVENTS_BROKER %q", cfg.Broker)
	}
}
