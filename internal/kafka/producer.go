package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/psds-microservice/support-service/internal/events"
	"github.com/psds-microservice/support-service/internal/logging"
	"github.com/segmentio/kafka-go"
)

// messageWriter: часть kafka.Writer, нужная продюсеру (подменяется в тестах).
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer пишет события тикетов в топик Kafka (best-effort, не блокирует API).
// Ключ сообщения: session_id, поэтому события одного тикета идут в одну партицию по порядку.
type Producer struct {
	writer messageWriter
	topic  string
	log    *slog.Logger
}

// NewProducer создаёт продюсер. Если brokers пустой или topic пустой: методы no-op.
func NewProducer(brokers []string, topic string, log *slog.Logger) *Producer {
	if log == nil {
		log = logging.Discard()
	}
	if len(brokers) == 0 || topic == "" {
		return &Producer{log: log}
	}
	return &Producer{
		topic: topic,
		log:   log,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// Enabled reports whether events are actually sent.
func (p *Producer) Enabled() bool {
	return p.writer != nil
}

// Publish implements events.Publisher.
func (p *Producer) Publish(ctx context.Context, ev events.Event) {
	if p.writer == nil {
		return
	}
	msg := map[string]interface{}{"event": ev.Name}
	for k, v := range events.Payload(&ev.Ticket) {
		msg[k] = v
	}
	body, err := json.Marshal(msg)
	if err != nil {
		p.log.Error("kafka: marshal ticket event", logging.Err(err))
		return
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Ticket.SessionID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(ev.Name)},
		},
	})
	if err != nil {
		p.log.Warn("kafka: write ticket event", slog.String("event", ev.Name), logging.Err(err))
	}
}

// Close закрывает writer.
func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// ParseBrokers разбивает строку брокеров "host1:9092,host2:9092" на слайс.
func ParseBrokers(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
