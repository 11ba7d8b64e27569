// Package events publishes search session events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/woozymasta/nearby/internal/geo"
	"github.com/woozymasta/nearby/internal/place"
	"github.com/woozymasta/nearby/internal/search"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// DefaultBuffer is the number of events held while the writer is busy.
const DefaultBuffer = 256

// HeaderKind carries the event kind on every message.
const HeaderKind = "kind"

var _ search.Sink = (*Publisher)(nil)

// Writer is the subset of *kafka.Writer used by Publisher, mockable in tests.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Message is the JSON value of a published event.
type Message struct {
	Time        time.Time      `json:"time"`
	Session     string         `json:"session"`
	Kind        string         `json:"kind"`
	State       string         `json:"state"`
	Query       string         `json:"query,omitempty"`
	Error       string         `json:"error,omitempty"`
	Results     []place.Record `json:"results,omitempty"`
	Suggestions []place.Record `json:"suggestions,omitempty"`
	Origin      geo.Coordinate `json:"origin"`
}

// Publisher is a search.Sink that forwards events to a Kafka topic from its
// own goroutine. Delivery never blocks; events are dropped when the buffer is full.
type Publisher struct {
	writer  Writer
	queue   chan kafka.Message
	done    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Uint64
	closed  atomic.Bool
}

// NewKafkaPublisher creates a publisher writing to topic on brokers,
// keyed by session so a session's events stay ordered in one partition.
func NewKafkaPublisher(brokers []string, topic string, buffer int) *Publisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return NewPublisher(w, buffer)
}

// NewPublisher wraps w.
func NewPublisher(w Writer, buffer int) *Publisher {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Publisher{
		writer: w,
		queue:  make(chan kafka.Message, buffer),
		done:   make(chan struct{}),
	}
}

// Start runs the write loop until ctx is done or Stop is called.
func (p *Publisher) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		for {
			select {
			case <-ctx.Done():
				return
			case <-p.done:
				p.flush(ctx)
				return
			case msg := <-p.queue:
				p.write(ctx, msg)
			}
		}
	}()
}

// Deliver implements search.Sink.
func (p *Publisher) Deliver(ev search.Event) {
	if p.closed.Load() {
		return
	}

	msg, err := Encode(ev)
	if err != nil {
		log.Error().Err(err).Str("kind", ev.Kind.String()).Msg("Failed to encode event")
		return
	}

	select {
	case p.queue <- msg:
	default:
		n := p.dropped.Add(1)
		log.Warn().Uint64("dropped", n).Str("kind", ev.Kind.String()).Msg("Event buffer full, dropping event")
	}
}

// Dropped returns the number of events discarded because the buffer was full.
func (p *Publisher) Dropped() uint64 { return p.dropped.Load() }

// Stop flushes queued events, ends the write loop and closes the writer.
func (p *Publisher) Stop() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(p.done)
	p.wg.Wait()
	return p.writer.Close()
}

func (p *Publisher) flush(ctx context.Context) {
	for {
		select {
		case msg := <-p.queue:
			p.write(ctx, msg)
		default:
			return
		}
	}
}

func (p *Publisher) write(ctx context.Context, msg kafka.Message) {
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		log.Error().Err(err).Str("session", string(msg.Key)).Msg("Failed to publish event")
		return
	}
	log.Trace().Str("session", string(msg.Key)).Msg("Event published")
}

// Encode converts ev to a Kafka message keyed by session id.
func Encode(ev search.Event) (kafka.Message, error) {
	m := Message{
		Time:        time.Now().UTC(),
		Session:     ev.Session,
		Kind:        ev.Kind.String(),
		State:       ev.State.String(),
		Query:       ev.Query,
		Results:     ev.Results,
		Suggestions: ev.Suggestions,
		Origin:      ev.Origin,
	}
	if ev.Err != nil {
		m.Error = ev.Err.Error()
	}

	value, err := json.Marshal(m)
	if err != nil {
		return kafka.Message{}, err
	}

	return kafka.Message{
		Key:     []byte(ev.Session),
		Value:   value,
		Time:    m.Time,
		Headers: []kafka.Header{{Key: HeaderKind, Value: []byte(m.Kind)}},
	}, nil
}
