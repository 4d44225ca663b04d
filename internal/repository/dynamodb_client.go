package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	pkPrefixTenant = "TENANT#"
	skProfile      = "PROFILE"
	skPrefixBot    = "BOT#"
	skPrefixName   = "BOTNAME#"
	skPrefixConv   = "CONV#"
	skDashboard    = "DASHBOARD#summary"

	whatsappNumberIndex = "whatsappNumber-index"
	smsNumberIndex      = "smsNumber-index"

	defaultMaxAttempts = 5
	baseRetryDelay     = 10 * time.Millisecond
	maxRetryDelay      = 200 * time.Millisecond
)

var (
	// ErrTableNotFound means the configured table does not exist in the account/region.
	ErrTableNotFound = errors.New("repository: table not found")
	// ErrTenantNotFound is returned by writes that require an existing tenant profile.
	ErrTenantNotFound = errors.New("repository: tenant not found")
	// ErrDuplicateBotName is returned when another bot of the tenant already uses the name.
	ErrDuplicateBotName = errors.New("repository: bot name already in use")
	// ErrContention is returned when a conditional read-modify-write keeps losing races.
	ErrContention = errors.New("repository: too many concurrent writers")
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client wraps the single DynamoDB table holding tenants, bots,
// conversations and dashboard summaries.
type Client struct {
	api         dynamodbAPI
	tableName   string
	location    *time.Location
	now         func() time.Time
	maxAttempts int
}

type Option func(*Client)

// WithLocation sets the time zone used for human-readable period labels.
func WithLocation(loc *time.Location) Option {
	return func(c *Client) {
		if loc != nil {
			c.location = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithMaxAttempts bounds the retries of conditional read-modify-write cycles.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	c := &Client{
		api:         api,
		tableName:   tableName,
		location:    time.UTC,
		now:         time.Now,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func tenantPK(tenantID string) string {
	return pkPrefixTenant + tenantID
}

func botSK(botID string) string {
	return skPrefixBot + botID
}

// botNameSK is the sort key of the guard item reserving a bot name within a tenant.
func botNameSK(name string) string {
	return skPrefixName + strings.ToLower(strings.TrimSpace(name))
}

func convSK(conversationID string) string {
	return skPrefixConv + conversationID
}

func itemKey(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func (c *Client) clock() time.Time {
	return c.now().In(c.location)
}

// wrapErr prefixes err with the operation and maps well-known SDK exceptions
// to package sentinels.
func wrapErr(op string, err error) error {
	var rnf *types.ResourceNotFoundException
	if errors.As(err, &rnf) {
		return fmt.Errorf("repository: %s: %w: %w", op, ErrTableNotFound, err)
	}
	return fmt.Errorf("repository: %s: %w", op, err)
}

// isConditionFailure reports whether a write lost a conditional check, either
// directly or as part of a cancelled transaction. A TransactionConflict is not
// a lost condition and surfaces as a store error.
func isConditionFailure(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		for _, r := range tce.CancellationReasons {
			if aws.ToString(r.Code) == "ConditionalCheckFailed" {
				return true
			}
		}
	}
	return false
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

// optStrAttr returns "" for a missing attribute and fails only on a type mismatch.
func optStrAttr(item map[string]types.AttributeValue, key string) (string, error) {
	if _, ok := item[key]; !ok {
		return "", nil
	}
	return strAttr(item, key)
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func optIntAttr(item map[string]types.AttributeValue, key string) (int, error) {
	if _, ok := item[key]; !ok {
		return 0, nil
	}
	return intAttr(item, key)
}

// boolAttr treats a missing attribute as false.
func boolAttr(item map[string]types.AttributeValue, key string) (bool, error) {
	v, ok := item[key]
	if !ok {
		return false, nil
	}
	b, ok := v.(*types.AttributeValueMemberBOOL)
	if !ok {
		return false, fmt.Errorf("repository: attribute %q is not a boolean", key)
	}
	return b.Value, nil
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	s, err := optStrAttr(item, key)
	if err != nil || s == "" {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return t, nil
}

func numValue(n int) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.Itoa(n)}
}
