package notify

import (
	"context"
	"log"
)

// Notifier is the delivery surface the pipeline depends on. Implementations
// must be best-effort: failures are logged and swallowed, never returned.
type Notifier interface {
	Send(ctx context.Context, chatID, text string) MessageRef
	Edit(ctx context.Context, ref MessageRef, text string)
	SendLong(ctx context.Context, chatID, text string)
	SendDocument(ctx context.Context, chatID, filename string, content []byte, caption string)
}

// Service is the best-effort Notifier backed by a Telegram client.
// A nil Service is valid and drops everything.
type Service struct {
	client *Client
	logger *log.Logger
}

// NewService wraps a Telegram client in a best-effort facade. A nil client
// produces a service that silently drops all notifications.
func NewService(client *Client, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{client: client, logger: logger}
}

func (s *Service) enabled() bool {
	return s != nil && s.client != nil
}

// Send delivers a single message. Returns a zero MessageRef on failure.
// Deliveries are detached from run cancellation so a stopping run can
// still report its final state; the client's own timeout bounds them.
func (s *Service) Send(ctx context.Context, chatID, text string) MessageRef {
	if !s.enabled() || chatID == "" {
		return MessageRef{}
	}
	ref, err := s.client.SendMessage(context.WithoutCancel(ctx), chatID, text)
	if err != nil {
		s.logger.Printf("[Notify] send failed: %v", err)
		return MessageRef{}
	}
	return ref
}

// Edit updates a previously sent message. A zero ref is ignored. When the
// edit fails the text is re-sent as a new message so the update is not lost.
func (s *Service) Edit(ctx context.Context, ref MessageRef, text string) {
	if !s.enabled() || ref.MessageID == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := s.client.EditMessageText(ctx, ref, text); err != nil {
		s.logger.Printf("[Notify] edit failed, resending: %v", err)
		if _, err := s.client.SendMessage(ctx, ref.ChatID, text); err != nil {
			s.logger.Printf("[Notify] resend failed: %v", err)
		}
	}
}

// SendLong delivers text that may exceed the per-message limit, splitting
// it into sequential chunks.
func (s *Service) SendLong(ctx context.Context, chatID, text string) {
	if !s.enabled() || chatID == "" || text == "" {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, chunk := range SplitMessage(text) {
		if _, err := s.client.SendMessage(ctx, chatID, chunk); err != nil {
			s.logger.Printf("[Notify] send chunk failed: %v", err)
			return
		}
	}
}

// SendDocument uploads a file to the chat.
func (s *Service) SendDocument(ctx context.Context, chatID, filename string, content []byte, caption string) {
	if !s.enabled() || chatID == "" {
		return
	}
	if err := s.client.SendDocument(context.WithoutCancel(ctx), chatID, filename, content, caption); err != nil {
		s.logger.Printf("[Notify] send document failed: %v", err)
	}
}
