package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cajulimao/atendebot/internal/models"
	"github.com/cajulimao/atendebot/internal/twiliowhatsapp"
)

// TwilioService implements the Service interface using the Twilio API.
// Inbound messages are injected by the API server's webhook handler via
// InjectMessage, since Twilio has no live event stream.
type TwilioService struct {
	client   twiliowhatsapp.Sender
	messages chan models.Message
	receipts chan models.Receipt
	done     chan struct{}
	mu       sync.Mutex
	stopped  bool
}

// NewTwilioService creates a new TwilioService wrapping the given sender.
func NewTwilioService(client twiliowhatsapp.Sender) *TwilioService {
	return &TwilioService{
		client:   client,
		messages: make(chan models.Message, DefaultChannelBufferSize),
		receipts: make(chan models.Receipt, DefaultChannelBufferSize),
		done:     make(chan struct{}),
	}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp
// phone number to its digits-only form.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizeRecipient(recipient)
}

// Start is a no-op for Twilio (no live event stream to poll).
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes channels and stops the service.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)
	close(s.messages)
	close(s.receipts)
	return nil
}

// SendMessage sends a message and emits a sent receipt. Twilio has no typing
// indicator, so the send is immediate.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	if err := s.client.SendMessage(ctx, to, body); err != nil {
		slog.Error("TwilioService SendMessage error", "error", err, "to", to)
		return err
	}
	s.receipts <- models.Receipt{To: to, Status: models.StatusTypeSent, Time: time.Now().Unix()}
	return nil
}

// InjectMessage feeds an inbound webhook message into the message stream.
func (s *TwilioService) InjectMessage(msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	select {
	case s.messages <- msg:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService messages channel blocked, dropping message", "from", msg.From)
	}
}

// Messages returns a channel of inbound message events.
func (s *TwilioService) Messages() <-chan models.Message {
	return s.messages
}

// Receipts returns a channel of receipt events.
func (s *TwilioService) Receipts() <-chan models.Receipt {
	return s.receipts
}
