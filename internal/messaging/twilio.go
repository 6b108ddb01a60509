package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"sync"

	"github.com/BTreeMap/TriageChat/internal/models"
	"github.com/twilio/twilio-go"
	twilioClient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// messageCreator is the slice of the Twilio REST API the sender uses.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// Opts holds configuration options for the Twilio WhatsApp sender.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	creator    messageCreator
}

// Option defines a configuration option for the Twilio WhatsApp sender.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromNumber sets the sending WhatsApp number, with or without the
// "whatsapp:" prefix.
func WithFromNumber(from string) Option {
	return func(o *Opts) { o.FromNumber = from }
}

func withMessageCreator(c messageCreator) Option {
	return func(o *Opts) { o.creator = c }
}

// TwilioSender sends WhatsApp messages through the Twilio REST API.
type TwilioSender struct {
	api  messageCreator
	from string // "whatsapp:+1234567890"

	mu sync.RWMutex
	receiptEmitter
}

var _ Service = (*TwilioSender)(nil)

// NewTwilioSender creates a sender. Missing options fall back to
// TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER.
func NewTwilioSender(opts ...Option) (*TwilioSender, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromNumber == "" {
		cfg.FromNumber = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("NewTwilioSender: config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromNumber_set", cfg.FromNumber != "")

	if cfg.creator == nil && (cfg.AccountSID == "" || cfg.AuthToken == "") {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	from, err := CanonicalizeWhatsAppNumber(cfg.FromNumber)
	if err != nil {
		return nil, fmt.Errorf("from number: %w", err)
	}

	api := cfg.creator
	if api == nil {
		rest := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		})
		api = rest.Api
	}
	return &TwilioSender{
		api:            api,
		from:           whatsAppPrefix + from,
		receiptEmitter: newReceiptEmitter(),
	}, nil
}

// ValidateAndCanonicalizeRecipient returns the E.164 form of a WhatsApp number.
func (s *TwilioSender) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizeWhatsAppNumber(recipient)
}

// SendMessage sends body to the WhatsApp number to and emits a receipt.
func (s *TwilioSender) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioSender.SendMessage: invalid recipient", "error", err, "to", to)
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(whatsAppPrefix + canonicalTo)
	params.SetFrom(s.from)
	params.SetBody(body)

	if _, err := s.api.CreateMessage(params); err != nil {
		slog.Error("TwilioSender.SendMessage: Twilio request failed", "to", canonicalTo, "error", err)
		s.emit(canonicalTo, models.MessageStatusFailed)
		return fmt.Errorf("failed to send message to %s: %w", canonicalTo, err)
	}
	slog.Debug("TwilioSender.SendMessage: message sent", "to", canonicalTo, "body_length", len(body))
	s.emit(canonicalTo, models.MessageStatusSent)
	return nil
}

// Receipts returns the channel of delivery receipts.
func (s *TwilioSender) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Stop marks the sender stopped and closes the receipt channel.
func (s *TwilioSender) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.receipts)
	return nil
}

// WebhookValidator checks the X-Twilio-Signature header of inbound webhooks.
type WebhookValidator struct {
	validator twilioClient.RequestValidator
}

// NewWebhookValidator creates a validator for the account's auth token.
func NewWebhookValidator(authToken string) *WebhookValidator {
	return &WebhookValidator{validator: twilioClient.NewRequestValidator(authToken)}
}

// Validate reports whether signature matches the full request URL and the
// posted form parameters.
func (v *WebhookValidator) Validate(fullURL string, form url.Values, signature string) bool {
	params := make(map[string]string, len(form))
	for k := range form {
		params[k] = form.Get(k)
	}
	return v.validator.Validate(fullURL, params, signature)
}
