package mercadopago

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"

	"bot-relay/internal/domain"
	"bot-relay/internal/integrations/paramstore"
)

const (
	defaultBaseURL = "https://api.mercadopago.com"
	qrImageSize    = 256
)

// ErrMissingCredentials means no access token is provisioned.
var ErrMissingCredentials = errors.New("mercadopago: missing access token")

// newIdempotencyKey is swapped in tests.
var newIdempotencyKey = uuid.NewString

// tokenPayload is the expected JSON shape stored in SSM under <prefix>/mercadopago.
type tokenPayload struct {
	Token string `json:"token"`
}

// PixRequest describes a single Pix charge.
type PixRequest struct {
	Amount            float64
	Description       string
	ExternalReference string
	PayerEmail        string
	NotificationURL   string
}

type payer struct {
	Email string `json:"email"`
}

type paymentRequest struct {
	TransactionAmount float64 `json:"transaction_amount"`
	Description       string  `json:"description"`
	PaymentMethodID   string  `json:"payment_method_id"`
	Payer             payer   `json:"payer"`
	NotificationURL   string  `json:"notification_url,omitempty"`
	ExternalReference string  `json:"external_reference"`
}

type paymentResponse struct {
	ID                 json.Number `json:"id"`
	Status             string      `json:"status"`
	TransactionAmount  float64     `json:"transaction_amount"`
	TicketURL          *string     `json:"ticket_url"`
	DateOfExpiration   *string     `json:"date_of_expiration"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode       *string `json:"qr_code"`
			QRCodeBase64 *string `json:"qr_code_base64"`
			TicketURL    *string `json:"ticket_url"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
}

// HTTPStatusError captures non-2xx gateway responses with the raw body.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       []byte
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("mercadopago: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Details returns the gateway payload as JSON. Non-JSON bodies are wrapped
// as a JSON string.
func (e *HTTPStatusError) Details() json.RawMessage {
	if len(e.Body) > 0 && json.Valid(e.Body) {
		return json.RawMessage(e.Body)
	}
	quoted, _ := json.Marshal(string(e.Body))
	return quoted
}

// Client creates Pix payments through the Mercado Pago payments API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	getter     paramstore.Getter
	paramName  string

	tokenMu sync.Mutex
	token   string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Client whose access token is read from SSM on first use.
func NewClient(ps paramstore.Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("mercadopago: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("mercadopago: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		getter:     ps,
		paramName:  paramPrefix + "/mercadopago",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolveToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.token != "" {
		return c.token, nil
	}

	var tp tokenPayload
	if err := paramstore.GetJSON(ctx, c.getter, c.paramName, &tp); err != nil {
		if errors.Is(err, paramstore.ErrNotFound) {
			return "", fmt.Errorf("%w: %w", ErrMissingCredentials, err)
		}
		return "", fmt.Errorf("mercadopago: load token: %w", err)
	}
	if strings.TrimSpace(tp.Token) == "" {
		return "", ErrMissingCredentials
	}
	c.token = tp.Token
	return c.token, nil
}

func paymentsURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	return base + "/v1/payments"
}

// CreatePix creates a Pix payment. Every call carries a fresh idempotency key.
func (c *Client) CreatePix(ctx context.Context, in PixRequest) (domain.PixPayment, error) {
	if in.Amount <= 0 {
		return domain.PixPayment{}, errors.New("mercadopago: amount must be positive")
	}
	if strings.TrimSpace(in.PayerEmail) == "" {
		return domain.PixPayment{}, errors.New("mercadopago: payer email is required")
	}

	token, err := c.resolveToken(ctx)
	if err != nil {
		return domain.PixPayment{}, err
	}

	body, err := json.Marshal(paymentRequest{
		TransactionAmount: in.Amount,
		Description:       in.Description,
		PaymentMethodID:   "pix",
		Payer:             payer{Email: in.PayerEmail},
		NotificationURL:   in.NotificationURL,
		ExternalReference: in.ExternalReference,
	})
	if err != nil {
		return domain.PixPayment{}, fmt.Errorf("mercadopago: marshal request: %w", err)
	}

	url := paymentsURL(c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return domain.PixPayment{}, fmt.Errorf("mercadopago: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Idempotency-Key", newIdempotencyKey())

	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return domain.PixPayment{}, fmt.Errorf("mercadopago: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return domain.PixPayment{}, fmt.Errorf("mercadopago: read response body: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return domain.PixPayment{}, &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: raw}
	}

	var payload paymentResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.PixPayment{}, fmt.Errorf("mercadopago: decode response: %w", err)
	}
	return toPixPayment(payload)
}

func toPixPayment(p paymentResponse) (domain.PixPayment, error) {
	tx := p.PointOfInteraction.TransactionData
	out := domain.PixPayment{
		ID:               p.ID,
		Status:           p.Status,
		Amount:           p.TransactionAmount,
		QRCode:           tx.QRCode,
		QRCodeBase64:     tx.QRCodeBase64,
		TicketURL:        tx.TicketURL,
		DateOfExpiration: p.DateOfExpiration,
	}
	if out.TicketURL == nil {
		out.TicketURL = p.TicketURL
	}
	if out.QRCode != nil && *out.QRCode != "" && (out.QRCodeBase64 == nil || *out.QRCodeBase64 == "") {
		img, err := RenderQR(*out.QRCode)
		if err != nil {
			return domain.PixPayment{}, err
		}
		out.QRCodeBase64 = &img
	}
	return out, nil
}

// RenderQR encodes a Pix copy-and-paste code as a base64 PNG.
func RenderQR(code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, qrImageSize)
	if err != nil {
		return "", fmt.Errorf("mercadopago: render qr code: %w", err)
	}
	return base64.StdEncoding.EncodeToString(png), nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 15 * time.Second}
}
