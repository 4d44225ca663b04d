package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"bot-relay/internal/domain"
	"bot-relay/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

type InboundUseCase interface {
	Handle(ctx context.Context, in usecase.InboundInput) (usecase.InboundResult, error)
}

type SendUseCase interface {
	SendSMS(ctx context.Context, in usecase.SendInput) (domain.SentMessage, error)
	SendWhatsApp(ctx context.Context, in usecase.SendInput) (domain.SentMessage, error)
}

type PaymentUseCase interface {
	CreatePlanPayment(ctx context.Context, in usecase.PixInput) (domain.PixPayment, error)
}

// Deps are the use cases served by the API Gateway routes.
type Deps struct {
	Inbound  InboundUseCase
	Send     SendUseCase
	Payments PaymentUseCase
	Logger   *slog.Logger
}

type Handler struct {
	inbound  InboundUseCase
	send     SendUseCase
	payments PaymentUseCase
	log      *slog.Logger
	validate *validator.Validate
}

type ackResponse struct {
	OK bool `json:"ok"`
}

type errorResponse struct {
	OK      bool            `json:"ok"`
	Error   string          `json:"error"`
	Code    string          `json:"code,omitempty"`
	Details json.RawMessage `json:"details,omitempty"`
}

type sendResponse struct {
	OK     bool   `json:"ok"`
	SID    string `json:"sid"`
	Status string `json:"status"`
}

type pixResponse struct {
	OK bool `json:"ok"`
	domain.PixPayment
}

type detailer interface {
	Details() json.RawMessage
}

func NewHandler(d *Deps) (*Handler, error) {
	if d == nil {
		return nil, errors.New("handler: deps must not be nil")
	}
	if d.Inbound == nil || d.Send == nil || d.Payments == nil {
		return nil, errors.New("handler: inbound, send and payment use cases are required")
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		inbound:  d.Inbound,
		send:     d.Send,
		payments: d.Payments,
		log:      logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := headerValue(event.Headers, correlationHeader)
	if corrID == "" {
		corrID = uuid.NewString()
	}
	path := strings.TrimRight(event.Path, "/")
	if path == "" {
		path = "/"
	}
	log := h.log.With("correlation_id", corrID, "route", event.HTTPMethod+" "+path)

	var resp events.APIGatewayProxyResponse
	if event.HTTPMethod == http.MethodOptions {
		resp = events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent, Headers: map[string]string{}}
	} else {
		body, err := requestBody(event)
		if err != nil {
			log.Warn("undecodable request body", "err", err)
			resp = jsonResponse(http.StatusBadRequest, errorResponse{Error: "invalid_payload", Code: string(usecase.ErrorInvalidInput)})
		} else {
			resp = h.route(ctx, log, event, path, body)
		}
	}

	resp.Headers[correlationHeader] = corrID
	for k, v := range corsHeaders(headerValue(event.Headers, "Origin")) {
		resp.Headers[k] = v
	}
	return resp, nil
}

func (h *Handler) route(ctx context.Context, log *slog.Logger, event events.APIGatewayProxyRequest, path string, body []byte) events.APIGatewayProxyResponse {
	method := event.HTTPMethod
	switch {
	case method == http.MethodGet && path == "/health":
		return jsonResponse(http.StatusOK, ackResponse{OK: true})
	case method == http.MethodPost && path == "/webhooks/twilio":
		return h.twilioWebhook(ctx, log, headerValue(event.Headers, "Content-Type"), body)
	case method == http.MethodPost && path == "/send/sms":
		return h.sendSMS(ctx, log, body)
	case method == http.MethodPost && path == "/send/whatsapp":
		return h.sendWhatsApp(ctx, log, body)
	case method == http.MethodPost && path == "/payments/pix":
		return h.createPix(ctx, log, body)
	case method == http.MethodPost && path == "/webhooks/mercadopago":
		log.Info("mp_event", "payload", logPayload(body), "topic", event.QueryStringParameters["topic"])
		return jsonResponse(http.StatusOK, ackResponse{OK: true})
	case method == http.MethodPost && path == "/webhooks/brevo":
		log.Info("brevo_event", "payload", logPayload(body))
		return jsonResponse(http.StatusOK, ackResponse{OK: true})
	default:
		return jsonResponse(http.StatusNotFound, errorResponse{Error: "not_found", Code: string(usecase.ErrorNotFound)})
	}
}

func (h *Handler) twilioWebhook(ctx context.Context, log *slog.Logger, contentType string, body []byte) events.APIGatewayProxyResponse {
	var form inboundForm
	if err := h.bindInbound(contentType, body, &form); err != nil {
		log.Warn("invalid twilio payload", "err", err)
		return invalidPayload()
	}
	log.Info("twilio_inbound", "from", form.From, "to", form.To, "body_length", len(form.Body))

	res, err := h.inbound.Handle(ctx, usecase.InboundInput{From: form.From, To: form.To, Body: form.Body})
	if err != nil {
		ucErr := usecase.AsError(err)
		if ucErr.Code == usecase.ErrorInvalidInput {
			return invalidPayload()
		}
		log.Error("inbound handling failed", "code", ucErr.Code, "reason", ucErr.Reason, "err", err)
		return twimlResponse(usecase.SoftReply(err))
	}

	log.Info("twilio_reply",
		"outcome", res.Outcome,
		"channel", res.Channel,
		"tenant_id", res.TenantID,
		"bot_id", res.BotID,
		"new_conversation", res.IsNew,
	)
	return twimlResponse(res.Reply)
}

func (h *Handler) sendSMS(ctx context.Context, log *slog.Logger, body []byte) events.APIGatewayProxyResponse {
	var req sendSMSRequest
	if err := h.bindJSON(body, &req); err != nil {
		return invalidPayload()
	}
	sent, err := h.send.SendSMS(ctx, usecase.SendInput{To: req.To, Body: req.Body})
	if err != nil {
		return errorJSON(log, err)
	}
	return jsonResponse(http.StatusOK, sendResponse{OK: true, SID: sent.SID, Status: sent.Status})
}

func (h *Handler) sendWhatsApp(ctx context.Context, log *slog.Logger, body []byte) events.APIGatewayProxyResponse {
	var req sendWhatsAppRequest
	if err := h.bindJSON(body, &req); err != nil {
		return invalidPayload()
	}
	sent, err := h.send.SendWhatsApp(ctx, usecase.SendInput{
		To:               req.To,
		Body:             req.Body,
		ContentSID:       req.ContentSID,
		ContentVariables: req.ContentVariables,
	})
	if err != nil {
		return errorJSON(log, err)
	}
	return jsonResponse(http.StatusOK, sendResponse{OK: true, SID: sent.SID, Status: sent.Status})
}

func (h *Handler) createPix(ctx context.Context, log *slog.Logger, body []byte) events.APIGatewayProxyResponse {
	var req pixRequest
	if err := h.bindJSON(body, &req); err != nil {
		return invalidPayload()
	}
	p, err := h.payments.CreatePlanPayment(ctx, usecase.PixInput{PlanID: domain.PlanID(req.PlanID), Email: req.Email})
	if err != nil {
		if usecase.AsError(err).Code == usecase.ErrorUpstream {
			log.Error("mp_payment_error", "plan_id", req.PlanID, "err", err)
		}
		return errorJSON(log, err)
	}
	return jsonResponse(http.StatusOK, pixResponse{OK: true, PixPayment: p})
}

func invalidPayload() events.APIGatewayProxyResponse {
	return jsonResponse(http.StatusBadRequest, errorResponse{Error: "invalid_payload", Code: string(usecase.ErrorInvalidInput)})
}

func errorJSON(log *slog.Logger, err error) events.APIGatewayProxyResponse {
	ucErr := usecase.AsError(err)
	out := errorResponse{Error: ucErr.Reason, Code: string(ucErr.Code)}
	status := http.StatusInternalServerError
	switch ucErr.Code {
	case usecase.ErrorInvalidInput:
		status = http.StatusBadRequest
	case usecase.ErrorNotFound:
		status = http.StatusNotFound
	case usecase.ErrorUpstream:
		status = http.StatusBadGateway
		var d detailer
		if errors.As(err, &d) {
			out.Details = d.Details()
		}
	}
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "code", ucErr.Code, "reason", ucErr.Reason, "err", err)
	}
	return jsonResponse(status, out)
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"ok":false,"error":"internal_error"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}

func twimlResponse(message string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Headers:    map[string]string{"Content-Type": "text/xml"},
		Body:       RenderTwiML(message),
	}
}

func corsHeaders(origin string) map[string]string {
	if origin == "" {
		origin = "*"
	}
	return map[string]string{
		"Access-Control-Allow-Origin":  origin,
		"Access-Control-Allow-Methods": "GET,POST,OPTIONS",
		"Access-Control-Allow-Headers": "Content-Type,Authorization," + correlationHeader,
		"Vary":                         "Origin",
	}
}

// headerValue looks a header up case-insensitively; API Gateway forwards
// header names as the client sent them.
func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func requestBody(event events.APIGatewayProxyRequest) ([]byte, error) {
	if !event.IsBase64Encoded {
		return []byte(event.Body), nil
	}
	return base64.StdEncoding.DecodeString(event.Body)
}

// logPayload keeps JSON payloads structured in the log line.
func logPayload(body []byte) any {
	if len(body) > 0 && json.Valid(body) {
		return json.RawMessage(body)
	}
	return string(body)
}
