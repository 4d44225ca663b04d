package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"strings"
)

// inboundForm is the subset of the Twilio messaging webhook we act on.
type inboundForm struct {
	From string `json:"From" validate:"required"`
	To   string `json:"To" validate:"required"`
	Body string `json:"Body"`
}

type sendSMSRequest struct {
	To   string `json:"to" validate:"required,min=6"`
	Body string `json:"body" validate:"required"`
}

type sendWhatsAppRequest struct {
	To               string            `json:"to" validate:"required,min=6"`
	Body             string            `json:"body"`
	ContentSID       string            `json:"contentSid"`
	ContentVariables map[string]string `json:"contentVariables"`
}

type pixRequest struct {
	PlanID string `json:"planId" validate:"required,oneof=starter pro business"`
	Email  string `json:"email" validate:"required,email"`
}

func (h *Handler) bindJSON(body []byte, dst any) error {
	if len(body) == 0 {
		return errors.New("empty body")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return h.validate.Struct(dst)
}

// bindInbound accepts the form encoding Twilio sends as well as JSON.
func (h *Handler) bindInbound(contentType string, body []byte, dst *inboundForm) error {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "application/json" {
		return h.bindJSON(body, dst)
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return fmt.Errorf("decode form: %w", err)
	}
	dst.From = strings.TrimSpace(values.Get("From"))
	dst.To = strings.TrimSpace(values.Get("To"))
	dst.Body = values.Get("Body")
	return h.validate.Struct(dst)
}
