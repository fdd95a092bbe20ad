// Package memory keeps published notifications in process, for tests and
// dry runs that should not reach a broker.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/adlibrary-crawler/internal/crawler"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("memory publisher closed")

// Message is one accepted publish.
type Message struct {
	Topic        string
	Notification crawler.Notification
}

// Publisher records notifications in publish order.
type Publisher struct {
	mu       sync.RWMutex
	messages []Message
	closed   bool
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish accepts crawler.Notification payloads (by value or pointer) and
// returns a sequential ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	var n crawler.Notification
	switch v := payload.(type) {
	case crawler.Notification:
		n = v
	case *crawler.Notification:
		if v == nil {
			return "", fmt.Errorf("nil notification")
		}
		n = *v
	default:
		return "", fmt.Errorf("unsupported payload %T", payload)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", ErrClosed
	}
	p.messages = append(p.messages, Message{Topic: topic, Notification: n})
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns a copy of everything published so far.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Message(nil), p.messages...)
}

// AdIDs returns the ad ids of record notifications, in publish order.
func (p *Publisher) AdIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var ids []string
	for _, m := range p.messages {
		if m.Notification.Event == crawler.NotifyRecord {
			ids = append(ids, m.Notification.AdID)
		}
	}
	return ids
}

// Close rejects further publishes.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
