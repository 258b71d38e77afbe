package mq

import (
	"context"
	"time"
)

// Producer publishes campaign events.
type Producer interface {
	Publish(ctx context.Context, topic string, message *Message) error
	Close() error
}

// Consumer delivers messages of one topic to a handler until ctx ends.
// Messages are committed after the handler succeeds or retries run out.
type Consumer interface {
	Consume(ctx context.Context, handler HandlerFunc) error
	Close() error
}

// Message is the broker-neutral envelope. ID doubles as the partition key,
// so every event of one campaign lands on the same partition.
type Message struct {
	ID         string            `json:"id"`
	Body       []byte            `json:"body"`
	Headers    map[string]string `json:"headers"`
	Timestamp  time.Time         `json:"timestamp"`
	RetryCount int               `json:"retry_count"`
	MaxRetries int               `json:"max_retries"`
}

// HandlerFunc processes one message. A non-nil error schedules a retry.
type HandlerFunc func(ctx context.Context, message *Message) error

const defaultMaxRetries = 3

// NewMessage creates a message keyed by id.
func NewMessage(id string, body []byte) *Message {
	return &Message{
		ID:         id,
		Body:       body,
		Headers:    make(map[string]string),
		Timestamp:  time.Now(),
		MaxRetries: defaultMaxRetries,
	}
}

func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[key] = value
}

func (m *Message) GetHeader(key string) (string, bool) {
	val, ok := m.Headers[key]
	return val, ok
}

// ShouldRetry reports whether the handler may see the message again.
func (m *Message) ShouldRetry() bool {
	return m.RetryCount < m.MaxRetries
}
