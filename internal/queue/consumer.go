package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	kafka "github.com/segmentio/kafka-go"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/iliyamo/playtest-sessions/internal/config"
)

// ActivityLog appends one human-readable line per event to a rotating
// file.  Close it when the consumer stops.
type ActivityLog struct {
	w *lumberjack.Logger
}

// NewActivityLog returns a log writing to cfg.ActivityLogPath, rotated by
// size and pruned by count and age.
func NewActivityLog(cfg config.EventsConfig) *ActivityLog {
	path := cfg.ActivityLogPath
	if path == "" {
		path = filepath.Join("logs", "activity.log")
	}
	return &ActivityLog{w: &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.ActivityMaxSizeMB,
		MaxBackups: cfg.ActivityMaxBackups,
		MaxAge:     cfg.ActivityMaxAgeDays,
		Compress:   cfg.ActivityCompress,
	}}
}

// Handle decodes a message body and appends it to the log.
func (a *ActivityLog) Handle(body []byte) error {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return a.Append(ev)
}

// Append writes ev as a single line.
func (a *ActivityLog) Append(ev Event) error {
	if _, err := io.WriteString(a.w, FormatActivity(ev)); err != nil {
		return fmt.Errorf("write activity log: %w", err)
	}
	return nil
}

// Close releases the current log file.
func (a *ActivityLog) Close() error { return a.w.Close() }

// FormatActivity renders ev as "[time] type | key=value ..." with a
// trailing newline.  Empty fields are omitted.
func FormatActivity(ev Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", ev.OccurredAt.UTC().Format(time.RFC3339), ev.Type)
	field := func(k, v string) {
		if v != "" {
			fmt.Fprintf(&b, " | %s=%s", k, v)
		}
	}
	field("session_id", ev.SessionID)
	field("registration_id", ev.RegistrationID)
	field("participant_id", ev.ParticipantID)
	field("role", ev.Role)
	field("request_id", ev.RequestID)
	field("feedback_id", ev.FeedbackID)
	if ev.From != "" || ev.To != "" {
		fmt.Fprintf(&b, " | %s->%s", ev.From, ev.To)
	}
	if ev.Affected > 0 {
		fmt.Fprintf(&b, " | affected=%d", ev.Affected)
	}
	field("actor_id", ev.ActorID)
	b.WriteByte('\n')
	return b.String()
}

// StartConsumer consumes events from the configured broker into sink
// until ctx ends, reconnecting with exponential backoff.  It closes sink
// and returns nil on cancellation.
func StartConsumer(ctx context.Context, cfg config.EventsConfig, sink *ActivityLog) error {
	defer func() {
		if err := sink.Close(); err != nil {
			slog.Warn("activity log close failed", "err", err)
		}
	}()
	var run func(context.Context) error
	switch strings.ToLower(cfg.Broker) {
	case "rabbitmq", "amqp":
		run = func(ctx context.Context) error { return consumeRabbit(ctx, cfg.RabbitURL, cfg.Queue, sink) }
	case "kafka":
		run = func(ctx context.Context) error { return consumeKafka(ctx, cfg.KafkaBrokers, cfg.KafkaTopic, sink) }
	default:
		slog.Info("activity consumer disabled", "broker", cfg.Broker)
		<-ctx.Done()
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0
	for {
		err := run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		wait := bo.NextBackOff()
		slog.Warn("activity consumer stopped; reconnecting", "err", err, "retry_in", wait)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func consumeRabbit(ctx context.Context, url, queue string, sink *ActivityLog) error {
	conn, err := amqp.Dial(url)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		slog.Warn("activity consumer: set QoS failed", "err", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { _ = ch.Close() })
	defer stop()
	slog.Info("activity consumer connected", "queue", queue)

	for d := range msgs {
		if err := sink.Handle(d.Body); err != nil {
			slog.Error("activity consumer: handle message failed", "err", err)
			_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
			continue
		}
		_ = d.Ack(false)
	}
	return errors.New("deliveries channel closed")
}

func consumeKafka(ctx context.Context, brokers []string, topic string, sink *ActivityLog) error {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: "playtest-activity",
	})
	defer func() { _ = r.Close() }()
	slog.Info("activity consumer connected", "topic", topic)
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			return fmt.Errorf("fetch: %w", err)
		}
		if err := sink.Handle(m.Value); err != nil {
			slog.Error("activity consumer: handle message failed", "err", err, "offset", m.Offset)
		}
		if err := r.CommitMessages(ctx, m); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	}
}
