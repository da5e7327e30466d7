package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Event is a domain event as persisted and dispatched.
type Event struct {
	ID          uuid.UUID       `json:"id"`
	Topic       string          `json:"topic"`
	AggregateID uuid.UUID       `json:"aggregateId"`
	Payload     json.RawMessage `json:"payload"`
	OccurredAt  time.Time       `json:"occurredAt"`
}

// EventStore persists emitted events.
type EventStore interface {
	InsertEvent(ctx context.Context, ev Event) error
}

// Lookup is implemented by stores that can tell whether an identical event
// was already recorded for an aggregate.
type Lookup interface {
	HasEvent(ctx context.Context, topic string, aggregateID uuid.UUID, payload json.RawMessage) (bool, error)
}

// Handler reacts to an emitted event, e.g. dropping cached reports.
type Handler interface {
	Handle(ctx context.Context, ev Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev Event) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Bus persists domain events and fans them out to subscribed handlers.
// The zero value drops events silently, so callers never need a nil check.
type Bus struct {
	Store    EventStore
	handlers map[string][]Handler
	now      func() time.Time
}

// Subscribe registers h for topic. Subscribe is not safe for concurrent use
// with Emit; wire every handler before serving traffic.
func (b *Bus) Subscribe(topic string, h Handler) {
	if b.handlers == nil {
		b.handlers = map[string][]Handler{}
	}
	b.handlers[topic] = append(b.handlers[topic], h)
}

// Emit records the event and dispatches it to the handlers of its topic.
// Handler failures are joined and returned; every handler still runs.
func (b *Bus) Emit(ctx context.Context, topic string, aggregateID uuid.UUID, payload any) (Event, error) {
	if b == nil {
		return Event{}, nil
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return Event{}, errors.New("events: topic is required")
	}
	if aggregateID == uuid.Nil {
		return Event{}, errors.New("events: aggregate id is required")
	}
	encoded, err := encodePayload(payload)
	if err != nil {
		return Event{}, fmt.Errorf("events: encode payload: %w", err)
	}
	now := time.Now
	if b.now != nil {
		now = b.now
	}
	ev := Event{
		ID:          uuid.New(),
		Topic:       topic,
		AggregateID: aggregateID,
		Payload:     encoded,
		OccurredAt:  now().UTC(),
	}
	if b.Store != nil {
		if err := b.Store.InsertEvent(ctx, ev); err != nil {
			return Event{}, fmt.Errorf("events: persist event: %w", err)
		}
	}
	var joined error
	for _, h := range b.handlers[topic] {
		if h == nil {
			continue
		}
		if hErr := h.Handle(ctx, ev); hErr != nil {
			joined = errors.Join(joined, fmt.Errorf("events: %s handler: %w", topic, hErr))
		}
	}
	return ev, joined
}

// EmitOnce emits the event unless the store already holds one with the same
// topic, aggregate and payload. It reports whether the event was emitted.
// Stores without Lookup always emit.
func (b *Bus) EmitOnce(ctx context.Context, topic string, aggregateID uuid.UUID, payload any) (bool, error) {
	if b == nil {
		return false, nil
	}
	if lookup, ok := b.Store.(Lookup); ok {
		encoded, err := encodePayload(payload)
		if err != nil {
			return false, fmt.Errorf("events: encode payload: %w", err)
		}
		seen, err := lookup.HasEvent(ctx, strings.TrimSpace(topic), aggregateID, encoded)
		if err != nil {
			return false, fmt.Errorf("events: lookup event: %w", err)
		}
		if seen {
			return false, nil
		}
		payload = json.RawMessage(encoded)
	}
	if _, err := b.Emit(ctx, topic, aggregateID, payload); err != nil {
		return true, err
	}
	return true, nil
}

func encodePayload(payload any) ([]byte, error) {
	if payload == nil {
		return []byte("{}"), nil
	}
	switch v := payload.(type) {
	case json.RawMessage:
		if len(v) == 0 {
			return []byte("{}"), nil
		}
		if !json.Valid(v) {
			return nil, errors.New("payload is not valid json")
		}
		return append([]byte(nil), v...), nil
	case []byte:
		if len(v) == 0 {
			return []byte("{}"), nil
		}
		if !json.Valid(v) {
			return nil, errors.New("payload is not valid json")
		}
		return append([]byte(nil), v...), nil
	default:
		return json.Marshal(v)
	}
}

// PGStore writes events to the domain_events table.
type PGStore struct {
	Pool *pgxpool.Pool
}

// InsertEvent implements EventStore.
func (s *PGStore) InsertEvent(ctx context.Context, ev Event) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO domain_events (id, topic, aggregate_id, payload, occurred_at) VALUES ($1, $2, $3, $4, $5)`,
		ev.ID, ev.Topic, ev.AggregateID, []byte(ev.Payload), ev.OccurredAt)
	return err
}

// HasEvent implements Lookup. Payloads compare as jsonb, so key order and
// number formatting do not matter.
func (s *PGStore) HasEvent(ctx context.Context, topic string, aggregateID uuid.UUID, payload json.RawMessage) (bool, error) {
	var exists bool
	err := s.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM domain_events WHERE topic = $1 AND aggregate_id = $2 AND payload = $3::jsonb)`,
		topic, aggregateID, []byte(payload)).Scan(&exists)
	return exists, err
}
