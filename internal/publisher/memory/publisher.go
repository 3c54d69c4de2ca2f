// Package memory keeps published record events in process.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/mofcom-crawler/internal/crawler"
)

// Publisher stores published payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
	err      error
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Topic   string
	Payload any
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes every later Publish return err.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Publish records the message and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Payload: payload})
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// Events returns the payloads that are record events.
func (p *Publisher) Events() []crawler.RecordEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]crawler.RecordEvent, 0, len(p.messages))
	for _, msg := range p.messages {
		if ev, ok := msg.Payload.(crawler.RecordEvent); ok {
			out = append(out, ev)
		}
	}
	return out
}

var _ crawler.Publisher = (*Publisher)(nil)
