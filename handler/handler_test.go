package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"errors"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"bot-relay/internal/domain"
	"bot-relay/internal/integrations/mercadopago"
	"bot-relay/internal/usecase"
)

type stubInbound struct {
	out   usecase.InboundResult
	err   error
	in    usecase.InboundInput
	calls int
}

func (s *stubInbound) Handle(_ context.Context, in usecase.InboundInput) (usecase.InboundResult, error) {
	s.in = in
	s.calls++
	return s.out, s.err
}

type stubSend struct {
	out     domain.SentMessage
	err     error
	in      usecase.SendInput
	channel string
}

func (s *stubSend) SendSMS(_ context.Context, in usecase.SendInput) (domain.SentMessage, error) {
	s.in, s.channel = in, "sms"
	return s.out, s.err
}

func (s *stubSend) SendWhatsApp(_ context.Context, in usecase.SendInput) (domain.SentMessage, error) {
	s.in, s.channel = in, "whatsapp"
	return s.out, s.err
}

type stubPayments struct {
	out domain.PixPayment
	err error
	in  usecase.PixInput
}

func (s *stubPayments) CreatePlanPayment(_ context.Context, in usecase.PixInput) (domain.PixPayment, error) {
	s.in = in
	return s.out, s.err
}

type stubs struct {
	inbound  *stubInbound
	send     *stubSend
	payments *stubPayments
}

func newTestHandler(t *testing.T) (*Handler, *stubs) {
	t.Helper()
	s := &stubs{inbound: &stubInbound{}, send: &stubSend{}, payments: &stubPayments{}}
	h, err := NewHandler(&Deps{Inbound: s.inbound, Send: s.send, Payments: s.payments})
	require.NoError(t, err)
	return h, s
}

func formEvent(body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/webhooks/twilio",
		Headers:    map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
		Body:       body,
	}
}

func jsonEvent(path, body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       path,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func TestNewHandler_ValidatesDependency(t *testing.T) {
	_, err := NewHandler(nil)
	require.Error(t, err)

	_, err = NewHandler(&Deps{Inbound: &stubInbound{}})
	require.Error(t, err)
}

func TestTwilioWebhook_HappyPath(t *testing.T) {
	h, s := newTestHandler(t)
	s.inbound.out = usecase.InboundResult{Outcome: usecase.OutcomeReplied, Reply: "Ola! Como posso ajudar hoje?", IsNew: true}

	resp, err := h.Handle(context.Background(), formEvent("From=whatsapp%3A%2B5511988887777&To=whatsapp%3A%2B5511900000000&Body=oi+tudo+bem"))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/xml", resp.Headers["Content-Type"])
	require.Equal(t, "<Response><Message>Ola! Como posso ajudar hoje?</Message></Response>", resp.Body)
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])
	require.Equal(t, usecase.InboundInput{From: "whatsapp:+5511988887777", To: "whatsapp:+5511900000000", Body: "oi tudo bem"}, s.inbound.in)
}

func TestTwilioWebhook_Base64Body(t *testing.T) {
	h, s := newTestHandler(t)
	s.inbound.out = usecase.InboundResult{Reply: "ok"}

	event := formEvent(base64.StdEncoding.EncodeToString([]byte("From=%2B1555&To=%2B1666")))
	event.IsBase64Encoded = true
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "+1555", s.inbound.in.From)
	require.Equal(t, "", s.inbound.in.Body)
}

func TestTwilioWebhook_JSONBody(t *testing.T) {
	h, s := newTestHandler(t)
	s.inbound.out = usecase.InboundResult{Reply: "ok"}

	event := jsonEvent("/webhooks/twilio", `{"From":"+1555","To":"+1666","Body":"preco"}`)
	event.Headers = map[string]string{"content-type": "application/json; charset=utf-8"}
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "preco", s.inbound.in.Body)
}

func TestTwilioWebhook_InvalidPayload(t *testing.T) {
	cases := map[string]events.APIGatewayProxyRequest{
		"missing to":   formEvent("From=%2B1555&Body=oi"),
		"missing from": formEvent("To=%2B1555"),
		"empty":        formEvent(""),
		"bad base64":   {HTTPMethod: http.MethodPost, Path: "/webhooks/twilio", Body: "%%%", IsBase64Encoded: true},
		"bad json":     jsonEvent("/webhooks/twilio", `{"From":`),
	}
	for name, event := range cases {
		t.Run(name, func(t *testing.T) {
			h, s := newTestHandler(t)
			resp, err := h.Handle(context.Background(), event)
			require.NoError(t, err)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			require.Equal(t, "application/json", resp.Headers["Content-Type"])
			require.JSONEq(t, `{"ok":false,"error":"invalid_payload","code":"INVALID_INPUT"}`, resp.Body)
			require.Equal(t, 0, s.inbound.calls)
		})
	}
}

func TestTwilioWebhook_ErrorsBecomeSoftReplies(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"storage not configured", &usecase.Error{Code: usecase.ErrorConfiguration, Reason: "storage_not_configured"}, usecase.StorageUnavailableMessage},
		{"store failure", &usecase.Error{Code: usecase.ErrorInternal, Reason: "conversation_write_error"}, usecase.ServiceUnavailableMessage},
		{"unexpected", errors.New("boom"), usecase.ServiceUnavailableMessage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, s := newTestHandler(t)
			s.inbound.err = tc.err

			resp, err := h.Handle(context.Background(), formEvent("From=%2B1&To=%2B2"))
			require.NoError(t, err)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			require.Equal(t, RenderTwiML(tc.want), resp.Body)
		})
	}
}

func TestTwilioWebhook_UseCaseValidationIs400(t *testing.T) {
	h, s := newTestHandler(t)
	s.inbound.err = &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_payload"}

	resp, err := h.Handle(context.Background(), jsonEvent("/webhooks/twilio", `{"From":"  ","To":"+2"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRenderTwiML_EscapesAndRoundTrips(t *testing.T) {
	msg := `Tom & Jerry <b>"oi"</b> it's 5 > 3`
	out := RenderTwiML(msg)
	require.Equal(t, "<Response><Message>Tom &amp; Jerry &lt;b&gt;&quot;oi&quot;&lt;/b&gt; it&apos;s 5 &gt; 3</Message></Response>", out)

	var doc struct {
		XMLName xml.Name `xml:"Response"`
		Message string   `xml:"Message"`
	}
	require.NoError(t, xml.Unmarshal([]byte(out), &doc))
	require.Equal(t, msg, doc.Message)
}

func TestSendSMS(t *testing.T) {
	h, s := newTestHandler(t)
	s.send.out = domain.SentMessage{SID: "SM1", Status: "queued"}

	resp, err := h.Handle(context.Background(), jsonEvent("/send/sms", `{"to":"+5511999998888","body":"Pedido enviado"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"ok":true,"sid":"SM1","status":"queued"}`, resp.Body)
	require.Equal(t, "sms", s.send.channel)
	require.Equal(t, usecase.SendInput{To: "+5511999998888", Body: "Pedido enviado"}, s.send.in)
}

func TestSendSMS_Invalid(t *testing.T) {
	for _, body := range []string{`{"to":"+55"}`, `{"to":"123","body":"x"}`, `nope`, ``} {
		h, s := newTestHandler(t)
		resp, err := h.Handle(context.Background(), jsonEvent("/send/sms", body))
		require.NoError(t, err)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, "body=%q", body)
		require.Empty(t, s.send.channel)
	}
}

func TestSendWhatsApp_Template(t *testing.T) {
	h, s := newTestHandler(t)
	s.send.out = domain.SentMessage{SID: "SM2", Status: "accepted"}

	resp, err := h.Handle(context.Background(), jsonEvent("/send/whatsapp", `{"to":"+5511999998888","contentSid":"HX1","contentVariables":{"1":"Ana"}}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "whatsapp", s.send.channel)
	require.Equal(t, "HX1", s.send.in.ContentSID)
	require.Equal(t, map[string]string{"1": "Ana"}, s.send.in.ContentVariables)
}

func TestJSONRoutes_MapUseCaseErrors(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		status  int
		reason  string
		details string
	}{
		{name: "invalid input", err: &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "missing_body_or_template"}, status: http.StatusBadRequest, reason: "missing_body_or_template"},
		{name: "configuration", err: &usecase.Error{Code: usecase.ErrorConfiguration, Reason: "missing_twilio_whatsapp_number"}, status: http.StatusInternalServerError, reason: "missing_twilio_whatsapp_number"},
		{name: "not found", err: &usecase.Error{Code: usecase.ErrorNotFound, Reason: "tenant_not_found"}, status: http.StatusNotFound, reason: "tenant_not_found"},
		{name: "upstream", err: &usecase.Error{Code: usecase.ErrorUpstream, Reason: "twilio_send_failed", Err: errors.New("timeout")}, status: http.StatusBadGateway, reason: "twilio_send_failed"},
		{name: "internal", err: &usecase.Error{Code: usecase.ErrorInternal, Reason: "x"}, status: http.StatusInternalServerError, reason: "x"},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, reason: "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, s := newTestHandler(t)
			s.send.err = tc.err

			resp, err := h.Handle(context.Background(), jsonEvent("/send/whatsapp", `{"to":"+5511999998888","body":"oi"}`))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)

			out := parseBody[errorResponse](t, resp.Body)
			require.False(t, out.OK)
			require.Equal(t, tc.reason, out.Error)
		})
	}
}

func TestCreatePix(t *testing.T) {
	h, s := newTestHandler(t)
	qr, img, ticket := "000201pix", "aW1n", "https://mp/t"
	s.payments.out = domain.PixPayment{ID: "99", Status: "pending", Amount: 149, QRCode: &qr, QRCodeBase64: &img, TicketURL: &ticket}

	resp, err := h.Handle(context.Background(), jsonEvent("/payments/pix", `{"planId":"pro","email":"ana@example.com"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"ok":true,"id":99,"status":"pending","amount":149,"qr_code":"000201pix","qr_code_base64":"aW1n","ticket_url":"https://mp/t","date_of_expiration":null}`, resp.Body)
	require.Equal(t, usecase.PixInput{PlanID: domain.PlanPro, Email: "ana@example.com"}, s.payments.in)
}

func TestCreatePix_InvalidPayload(t *testing.T) {
	for _, body := range []string{`{"planId":"gold","email":"a@b.co"}`, `{"planId":"pro","email":"not-an-email"}`, `{"planId":"pro"}`} {
		h, _ := newTestHandler(t)
		resp, err := h.Handle(context.Background(), jsonEvent("/payments/pix", body))
		require.NoError(t, err)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, "body=%s", body)
		require.JSONEq(t, `{"ok":false,"error":"invalid_payload","code":"INVALID_INPUT"}`, resp.Body)
	}
}

func TestCreatePix_GatewayDetailsPassThrough(t *testing.T) {
	h, s := newTestHandler(t)
	gwErr := &mercadopago.HTTPStatusError{StatusCode: 400, Body: []byte(`{"message":"invalid payer","cause":[{"code":4050}]}`)}
	s.payments.err = &usecase.Error{Code: usecase.ErrorUpstream, Reason: "mp_payment_failed", Err: gwErr}

	resp, err := h.Handle(context.Background(), jsonEvent("/payments/pix", `{"planId":"pro","email":"ana@example.com"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	require.JSONEq(t, `{"ok":false,"error":"mp_payment_failed","code":"UPSTREAM_ERROR","details":{"message":"invalid payer","cause":[{"code":4050}]}}`, resp.Body)
}

func TestAckRoutes(t *testing.T) {
	h, _ := newTestHandler(t)
	for _, path := range []string{"/webhooks/mercadopago", "/webhooks/brevo"} {
		resp, err := h.Handle(context.Background(), jsonEvent(path, `{"type":"payment","data":{"id":"1"}}`))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.JSONEq(t, `{"ok":true}`, resp.Body)
	}

	resp, err := h.Handle(context.Background(), events.APIGatewayProxyRequest{HTTPMethod: http.MethodGet, Path: "/health/"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"ok":true}`, resp.Body)
}

func TestUnknownRoute(t *testing.T) {
	h, _ := newTestHandler(t)
	resp, err := h.Handle(context.Background(), events.APIGatewayProxyRequest{HTTPMethod: http.MethodGet, Path: "/webhooks/twilio"})
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPreflight(t *testing.T) {
	h, s := newTestHandler(t)
	resp, err := h.Handle(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodOptions,
		Path:       "/payments/pix",
		Headers:    map[string]string{"origin": "https://app.example.com"},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Empty(t, resp.Body)
	require.Equal(t, "https://app.example.com", resp.Headers["Access-Control-Allow-Origin"])
	require.Contains(t, resp.Headers["Access-Control-Allow-Methods"], "POST")
	require.Equal(t, 0, s.inbound.calls)
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	h, s := newTestHandler(t)
	s.inbound.out = usecase.InboundResult{Reply: "ok"}

	event := formEvent("From=%2B1&To=%2B2")
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
	require.Equal(t, "*", resp.Headers["Access-Control-Allow-Origin"])
}
