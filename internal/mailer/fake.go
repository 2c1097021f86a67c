package mailer

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Sender for tests. It records every message and
// can be told to fail.
type Fake struct {
	mu   sync.Mutex
	sent []Message
	Err  error
}

// NewFake creates an empty fake sender.
func NewFake() *Fake {
	return &Fake{}
}

// Send records the message unless Err is set.
func (f *Fake) Send(_ context.Context, msg Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return "", f.Err
	}
	f.sent = append(f.sent, msg)
	return fmt.Sprintf("fake-%d", len(f.sent)), nil
}

// Sent returns a copy of the recorded messages.
func (f *Fake) Sent() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.sent...)
}
