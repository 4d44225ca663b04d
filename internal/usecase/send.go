package usecase

import (
	"context"
	"errors"
	"strings"

	"bot-relay/internal/domain"
	"bot-relay/internal/integrations/twilio"
)

// MessageSender delivers one outbound message.
type MessageSender interface {
	Send(ctx context.Context, m twilio.Message) (domain.SentMessage, error)
}

type SendInput struct {
	To               string
	Body             string
	ContentSID       string
	ContentVariables map[string]string
}

// SendService sends proactive SMS and WhatsApp messages from the platform's
// sender numbers.
type SendService struct {
	sender         MessageSender
	whatsappNumber string
	smsNumber      string
}

func NewSendService(sender MessageSender, whatsappNumber, smsNumber string) (*SendService, error) {
	if sender == nil {
		return nil, errors.New("usecase: message sender must not be nil")
	}
	return &SendService{
		sender:         sender,
		whatsappNumber: strings.TrimSpace(whatsappNumber),
		smsNumber:      strings.TrimSpace(smsNumber),
	}, nil
}

func (s *SendService) SendSMS(ctx context.Context, in SendInput) (domain.SentMessage, error) {
	if s.smsNumber == "" {
		return domain.SentMessage{}, newError(ErrorConfiguration, "missing_twilio_sms_number", nil)
	}
	to := strings.TrimSpace(in.To)
	if to == "" || in.Body == "" {
		return domain.SentMessage{}, newError(ErrorInvalidInput, "invalid_payload", nil)
	}
	return s.send(ctx, twilio.Message{From: s.smsNumber, To: to, Body: in.Body})
}

// SendWhatsApp sends free text or a content template. Both addresses get the
// whatsapp: marker when it is missing.
func (s *SendService) SendWhatsApp(ctx context.Context, in SendInput) (domain.SentMessage, error) {
	if s.whatsappNumber == "" {
		return domain.SentMessage{}, newError(ErrorConfiguration, "missing_twilio_whatsapp_number", nil)
	}
	to := strings.TrimSpace(in.To)
	if to == "" {
		return domain.SentMessage{}, newError(ErrorInvalidInput, "invalid_payload", nil)
	}
	if in.Body == "" && in.ContentSID == "" {
		return domain.SentMessage{}, newError(ErrorInvalidInput, "missing_body_or_template", nil)
	}
	return s.send(ctx, twilio.Message{
		From:             domain.WhatsAppAddress(s.whatsappNumber),
		To:               domain.WhatsAppAddress(to),
		Body:             in.Body,
		ContentSID:       in.ContentSID,
		ContentVariables: in.ContentVariables,
	})
}

func (s *SendService) send(ctx context.Context, m twilio.Message) (domain.SentMessage, error) {
	sent, err := s.sender.Send(ctx, m)
	if err != nil {
		if errors.Is(err, twilio.ErrMissingCredentials) {
			return domain.SentMessage{}, newError(ErrorConfiguration, "missing_twilio_credentials", err)
		}
		return domain.SentMessage{}, newError(ErrorUpstream, "twilio_send_failed", err)
	}
	return sent, nil
}
