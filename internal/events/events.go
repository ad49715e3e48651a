package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	TypeAttendanceRecorded = "attendance.recorded"
	TypePaymentRecorded    = "payment.recorded"
	TypeSessionStarted     = "session.started"
	TypeStudentTokenIssued = "student_token.issued"

	DefaultRedisKey = "edupass:events"
)

// Event is a fact published after the owning transaction committed.
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload"`
}

func New(eventType string, at time.Time, payload map[string]any) Event {
	return Event{
		ID:         ulid.Make().String(),
		Type:       eventType,
		OccurredAt: at.UTC(),
		Payload:    payload,
	}
}

// Publisher delivers events to downstream consumers. Delivery is best
// effort; callers log failures and carry on.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// RedisPublisher pushes JSON events onto a Redis list for workers to BRPOP.
type RedisPublisher struct {
	client *redis.Client
	key    string
}

func NewRedisPublisher(client *redis.Client, key string) *RedisPublisher {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisPublisher{client: client, key: key}
}

func (p *RedisPublisher) Publish(ctx context.Context, evt Event) error {
	if p == nil || p.client == nil {
		return errors.New("redis publisher not configured")
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.client.LPush(ctx, p.key, body).Err()
}

// LogPublisher writes events to the log instead of a queue.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogPublisher{log: log.Named("events")}
}

func (p *LogPublisher) Publish(_ context.Context, evt Event) error {
	p.log.Debug("event",
		zap.String("event_id", evt.ID),
		zap.String("event_type", evt.Type),
		zap.Time("occurred_at", evt.OccurredAt),
		zap.Any("payload", evt.Payload),
	)
	return nil
}

var ErrQueueFull = errors.New("event queue full")

// InMemory is a bounded queue for tests. Publish never
// blocks; a full queue drops the event.
type InMemory struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

func NewInMemory(size int) *InMemory {
	if size <= 0 {
		size = 256
	}
	return &InMemory{ch: make(chan Event, size)}
}

func (q *InMemory) Publish(ctx context.Context, evt Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.New("event queue closed")
	}
	select {
	case q.ch <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Drain returns and removes every queued event.
func (q *InMemory) Drain() []Event {
	var out []Event
	for {
		select {
		case evt, ok := <-q.ch:
			if !ok {
				return out
			}
			out = append(out, evt)
		default:
			return out
		}
	}
}

func (q *InMemory) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}
