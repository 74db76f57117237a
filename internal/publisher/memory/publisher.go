// Package memory keeps job events in process, for tests and deployments
// without Pub/Sub.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
)

type eventTyper interface {
	EventType() string
}

// PublishedMessage is one recorded event. Data is the JSON body the event
// would carry on the wire.
type PublishedMessage struct {
	ID        string
	Topic     string
	EventType string
	Payload   any
	Data      []byte
}

// Publisher records events and fans them out to topic subscribers.
type Publisher struct {
	mu       sync.RWMutex
	seq      int
	messages []PublishedMessage
	subs     map[string][]func(PublishedMessage)
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{subs: make(map[string][]func(PublishedMessage))}
}

// Subscribe registers fn for every later event on topic. fn runs on the
// publishing goroutine and must not call back into the Publisher.
func (p *Publisher) Subscribe(topic string, fn func(PublishedMessage)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs[topic] = append(p.subs[topic], fn)
}

// Publish encodes payload, records it, and hands it to subscribers.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := PublishedMessage{Topic: topic, Payload: payload, Data: data}
	if typed, ok := payload.(eventTyper); ok {
		msg.EventType = typed.EventType()
	}

	p.mu.Lock()
	p.seq++
	msg.ID = fmt.Sprintf("memory-%d", p.seq)
	p.messages = append(p.messages, msg)
	subs := slices.Clone(p.subs[topic])
	p.mu.Unlock()

	for _, fn := range subs {
		fn(msg)
	}
	return msg.ID, nil
}

// Messages returns every recorded event.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// MessagesFor returns the events recorded on topic, oldest first.
func (p *Publisher) MessagesFor(topic string) []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []PublishedMessage
	for _, m := range p.messages {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// Close drops subscribers. Recorded events stay readable.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs = make(map[string][]func(PublishedMessage))
	return nil
}
