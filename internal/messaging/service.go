// Package messaging delivers assistant replies to chat channels.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/BTreeMap/TriageChat/internal/models"
)

// Constants for service configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for the receipt channel
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
	// whatsAppPrefix is the address scheme Twilio uses for WhatsApp numbers.
	whatsAppPrefix = "whatsapp:"
	// minPhoneDigits is the shortest number accepted as a recipient.
	minPhoneDigits = 6
)

// ErrServiceStopped is returned when sending through a stopped service.
var ErrServiceStopped = errors.New("messaging service stopped")

var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Receipts returns a channel of delivery receipts (sent or failed).
	Receipts() <-chan models.Receipt

	// Stop stops the service and closes the receipt channel.
	Stop() error
}

// CanonicalizeWhatsAppNumber turns "whatsapp:+57 300-123-4567" style
// addresses into E.164 form ("+573001234567").
func CanonicalizeWhatsAppNumber(recipient string) (string, error) {
	trimmed := strings.TrimSpace(recipient)
	if trimmed == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	trimmed = strings.TrimPrefix(strings.ToLower(trimmed), whatsAppPrefix)

	digits := phoneNumberRegex.ReplaceAllString(trimmed, "")
	if digits == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(digits) < minPhoneDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", digits, minPhoneDigits)
	}
	canonical := "+" + digits
	if canonical != recipient {
		slog.Debug("CanonicalizeWhatsAppNumber: canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// receiptEmitter owns the buffered receipt channel shared by the services.
type receiptEmitter struct {
	receipts chan models.Receipt
	stopped  bool
}

func newReceiptEmitter() receiptEmitter {
	return receiptEmitter{receipts: make(chan models.Receipt, DefaultChannelBufferSize)}
}

// emit must be called with the owner's read lock held.
func (e *receiptEmitter) emit(to string, status models.MessageStatus) {
	if e.stopped {
		return
	}
	select {
	case e.receipts <- models.Receipt{To: to, Status: status, Time: time.Now().Unix()}:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("messaging: receipt channel blocked, dropping receipt", "to", to, "status", status)
	}
}
