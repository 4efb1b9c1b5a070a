// Package mailer sends the plain-text e-mails of the fulfillment workflows.
// Send reports failure synchronously so delivery can gate capture.
package mailer

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var ErrNoRecipient = errors.New("mailer: message has no recipient")

type Attachment struct {
	Name string
	Data []byte
}

type Message struct {
	To         string
	Cc         []string
	Subject    string
	Paragraphs []string
	Attachment *Attachment
}

// Body joins paragraphs with blank lines.
func (m Message) Body() string {
	return strings.Join(m.Paragraphs, "\n\n") + "\n"
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Memory keeps sent messages in order. It backs tests and the memory driver.
type Memory struct {
	mu   sync.Mutex
	sent []Message
	// FailTo makes sends to these addresses fail.
	FailTo map[string]error
}

func NewMemory() *Memory {
	return &Memory{FailTo: map[string]error{}}
}

func (m *Memory) Send(_ context.Context, msg Message) error {
	if msg.To == "" {
		return ErrNoRecipient
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailTo[msg.To]; err != nil {
		return err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *Memory) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.sent...)
}

// To returns the messages addressed to addr.
func (m *Memory) To(addr string) []Message {
	var out []Message
	for _, msg := range m.Sent() {
		if msg.To == addr {
			out = append(out, msg)
		}
	}
	return out
}
