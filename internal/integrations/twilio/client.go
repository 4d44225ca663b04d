package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"bot-relay/internal/domain"
	"bot-relay/internal/integrations/paramstore"
)

const defaultBaseURL = "https://api.twilio.com"

// ErrMissingCredentials means the account SID or auth token is not provisioned.
var ErrMissingCredentials = errors.New("twilio: missing credentials")

// Credentials is the JSON document stored in SSM under <prefix>/twilio.
type Credentials struct {
	AccountSID string `json:"accountSid"`
	AuthToken  string `json:"authToken"`
}

// Message is an outbound message. Either Body or ContentSID must be set;
// ContentVariables only applies to content templates.
type Message struct {
	From             string
	To               string
	Body             string
	ContentSID       string
	ContentVariables map[string]string
}

// APIError is a non-2xx response from the Messages API.
type APIError struct {
	StatusCode int    `json:"status"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
	MoreInfo   string `json:"more_info"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("twilio: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("twilio: %s (code %d, status %d)", e.Message, e.Code, e.StatusCode)
}

func (e *APIError) HTTPStatusCode() int {
	return e.StatusCode
}

// Details is the provider error as JSON, for surfacing to API callers.
func (e *APIError) Details() json.RawMessage {
	raw, _ := json.Marshal(e)
	return raw
}

type sendResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// Client sends messages through the Twilio REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	getter     paramstore.Getter
	paramName  string
	limiter    *rate.Limiter

	credMu sync.Mutex
	creds  *Credentials
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

// WithRateLimit throttles sends to r messages per second with the given burst.
// A non-positive r disables throttling.
func WithRateLimit(r float64, burst int) Option {
	return func(c *Client) {
		if r <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(r), burst)
	}
}

// NewClient creates a Client whose credentials are read from SSM on first use.
func NewClient(ps paramstore.Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("twilio: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("twilio: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		getter:     ps,
		paramName:  paramPrefix + "/twilio",
		limiter:    rate.NewLimiter(rate.Limit(1), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// resolveCredentials caches the first successful lookup; failures are not
// cached so a later invocation can pick up freshly provisioned secrets.
func (c *Client) resolveCredentials(ctx context.Context) (Credentials, error) {
	c.credMu.Lock()
	defer c.credMu.Unlock()
	if c.creds != nil {
		return *c.creds, nil
	}

	var creds Credentials
	if err := paramstore.GetJSON(ctx, c.getter, c.paramName, &creds); err != nil {
		if errors.Is(err, paramstore.ErrNotFound) {
			return Credentials{}, fmt.Errorf("%w: %w", ErrMissingCredentials, err)
		}
		return Credentials{}, fmt.Errorf("twilio: load credentials: %w", err)
	}
	if strings.TrimSpace(creds.AccountSID) == "" || strings.TrimSpace(creds.AuthToken) == "" {
		return Credentials{}, ErrMissingCredentials
	}
	c.creds = &creds
	return creds, nil
}

func messagesURL(baseURL, accountSID string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	return base + "/2010-04-01/Accounts/" + url.PathEscape(accountSID) + "/Messages.json"
}

func (m Message) form() (url.Values, error) {
	form := url.Values{}
	form.Set("From", m.From)
	form.Set("To", m.To)
	switch {
	case m.ContentSID != "":
		form.Set("ContentSid", m.ContentSID)
		if len(m.ContentVariables) > 0 {
			vars, err := json.Marshal(m.ContentVariables)
			if err != nil {
				return nil, fmt.Errorf("twilio: marshal content variables: %w", err)
			}
			form.Set("ContentVariables", string(vars))
		}
	case m.Body != "":
		form.Set("Body", m.Body)
	default:
		return nil, errors.New("twilio: message needs a body or a content template")
	}
	return form, nil
}

// Send posts one message. It is not retried on failure.
func (c *Client) Send(ctx context.Context, m Message) (domain.SentMessage, error) {
	if strings.TrimSpace(m.From) == "" || strings.TrimSpace(m.To) == "" {
		return domain.SentMessage{}, errors.New("twilio: from and to are required")
	}
	form, err := m.form()
	if err != nil {
		return domain.SentMessage{}, err
	}
	creds, err := c.resolveCredentials(ctx)
	if err != nil {
		return domain.SentMessage{}, err
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return domain.SentMessage{}, fmt.Errorf("twilio: rate limit wait: %w", err)
		}
	}

	endpoint := messagesURL(c.baseURL, creds.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return domain.SentMessage{}, fmt.Errorf("twilio: create request: %w", err)
	}
	req.SetBasicAuth(creds.AccountSID, creds.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return domain.SentMessage{}, fmt.Errorf("twilio: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return domain.SentMessage{}, fmt.Errorf("twilio: read response body: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		apiErr := &APIError{}
		_ = json.Unmarshal(buf, apiErr)
		apiErr.StatusCode = res.StatusCode
		return domain.SentMessage{}, apiErr
	}

	var payload sendResponse
	if err := json.Unmarshal(buf, &payload); err != nil {
		return domain.SentMessage{}, fmt.Errorf("twilio: decode response: %w", err)
	}
	return domain.SentMessage{SID: payload.SID, Status: payload.Status}, nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}
