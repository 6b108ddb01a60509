package messaging

import (
	"context"
	"sync"

	"github.com/BTreeMap/TriageChat/internal/models"
)

// SentMessage is a message recorded by MockSender.
type SentMessage struct {
	To   string
	Body string
}

// MockSender records messages instead of delivering them (for tests and
// the CLI).
type MockSender struct {
	mu   sync.RWMutex
	sent []SentMessage
	err  error
	receiptEmitter
}

var _ Service = (*MockSender)(nil)

// NewMockSender creates an empty mock sender.
func NewMockSender() *MockSender {
	return &MockSender{receiptEmitter: newReceiptEmitter()}
}

// FailWith makes every following send return err; nil restores success.
func (m *MockSender) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockSender) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizeWhatsAppNumber(recipient)
}

func (m *MockSender) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ErrServiceStopped
	}
	canonicalTo, err := CanonicalizeWhatsAppNumber(to)
	if err != nil {
		return err
	}
	if m.err != nil {
		m.emit(canonicalTo, models.MessageStatusFailed)
		return m.err
	}
	m.sent = append(m.sent, SentMessage{To: canonicalTo, Body: body})
	m.emit(canonicalTo, models.MessageStatusSent)
	return nil
}

// Sent returns a copy of the recorded messages.
func (m *MockSender) Sent() []SentMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]SentMessage(nil), m.sent...)
}

func (m *MockSender) Receipts() <-chan models.Receipt {
	return m.receipts
}

func (m *MockSender) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil
	}
	m.stopped = true
	close(m.receipts)
	return nil
}
