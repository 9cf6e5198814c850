package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/lyzr/appforge/common/logger"
)

var (
	// ErrClosed is returned when publishing to a closed queue
	ErrClosed = errors.New("queue closed")

	// ErrFull is returned when a topic's buffer has no room
	ErrFull = errors.New("queue full")
)

const defaultBuffer = 1000

// Queue carries generation jobs from the API to the executors
type Queue interface {
	Publish(ctx context.Context, topic string, key string, message []byte) error
	Subscribe(ctx context.Context, topic string, handler MessageHandler) error
	Close() error
}

// MessageHandler processes one message. Returned errors are logged; the
// message is not redelivered.
type MessageHandler func(ctx context.Context, key string, value []byte) error

type message struct {
	key   string
	value []byte
}

// MemoryQueue is a per-topic buffered channel for single-instance
// deployments and tests. Messages are lost on restart; the watchdog fails
// records left queued.
type MemoryQueue struct {
	mu     sync.Mutex
	topics map[string]chan message
	buffer int
	closed bool
	log    *logger.Logger
}

// NewMemoryQueue creates a queue with the default per-topic buffer
func NewMemoryQueue(log *logger.Logger) *MemoryQueue {
	return NewMemoryQueueSize(log, defaultBuffer)
}

// NewMemoryQueueSize creates a queue holding up to buffer messages per topic
func NewMemoryQueueSize(log *logger.Logger, buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &MemoryQueue{
		topics: make(map[string]chan message),
		buffer: buffer,
		log:    log,
	}
}

// topic returns the channel for name; callers hold mu
func (q *MemoryQueue) topic(name string) chan message {
	ch, ok := q.topics[name]
	if !ok {
		ch = make(chan message, q.buffer)
		q.topics[name] = ch
	}
	return ch
}

// Publish enqueues without blocking; a full topic returns ErrFull
func (q *MemoryQueue) Publish(ctx context.Context, topic string, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}

	select {
	case q.topic(topic) <- message{key: key, value: value}:
		return nil
	default:
		q.log.Warn("queue full", "topic", topic, "key", key, "buffer", q.buffer)
		return ErrFull
	}
}

// Subscribe delivers messages to handler on one goroutine until ctx is
// cancelled or the queue is closed
func (q *MemoryQueue) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	ch := q.topic(topic)
	q.mu.Unlock()

	q.log.Info("subscribing to topic", "topic", topic)
	go func() {
		for {
			select {
			case <-ctx.Done():
				q.log.Debug("subscription cancelled", "topic", topic)
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if err := handler(ctx, msg.key, msg.value); err != nil {
					q.log.Error("message handler error", "topic", topic, "key", msg.key, "error", err)
				}
			}
		}
	}()
	return nil
}

// Depth reports how many messages wait on topic
func (q *MemoryQueue) Depth(topic string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if ch, ok := q.topics[topic]; ok {
		return len(ch)
	}
	return 0
}

// Close stops all subscriptions; further publishes return ErrClosed
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	for _, ch := range q.topics {
		close(ch)
	}
	return nil
}
