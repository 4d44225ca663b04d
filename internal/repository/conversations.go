package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"bot-relay/internal/domain"
)

// DecideFunc computes the update for a conversation given its current record,
// nil when the contact has never written on this channel.
type DecideFunc func(prior *domain.Conversation) (domain.ConversationUpdate, error)

// GetConversation returns the stored conversation for key, or nil if none exists.
func (c *Client) GetConversation(ctx context.Context, key domain.ConversationKey) (*domain.Conversation, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            itemKey(tenantPK(key.TenantID), convSK(key.ID())),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, wrapErr("GetConversation get item", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}
	conv, err := itemToConversation(out.Item)
	if err != nil {
		return nil, fmt.Errorf("repository: GetConversation decode: %w", err)
	}
	return &conv, nil
}

// RecordExchange runs read -> decide -> write for one inbound message. The
// conversation put is conditioned on the record still being absent (first
// message) or still at the version that was read, so only writers of the same
// key serialize. Losing a race backs off, re-reads and re-decides, so novelty
// is granted to exactly one writer per key. Once the put lands, the dashboard
// counter is bumped with a commutative ADD; a failed bump is logged and does
// not fail the exchange. The returned bool reports whether the record was
// created.
func (c *Client) RecordExchange(ctx context.Context, key domain.ConversationKey, decide DecideFunc) (domain.Conversation, bool, error) {
	if key.TenantID == "" || key.Contact == "" {
		return domain.Conversation{}, false, errors.New("repository: RecordExchange: tenant and contact are required")
	}
	if decide == nil {
		return domain.Conversation{}, false, errors.New("repository: RecordExchange: decide must not be nil")
	}

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleepCtx(ctx, retryDelay(attempt)); err != nil {
				return domain.Conversation{}, false, fmt.Errorf("repository: RecordExchange: %w", err)
			}
		}
		prior, err := c.GetConversation(ctx, key)
		if err != nil {
			return domain.Conversation{}, false, fmt.Errorf("repository: RecordExchange: %w", err)
		}
		update, err := decide(prior)
		if err != nil {
			return domain.Conversation{}, false, err
		}

		now := c.clock()
		conv := update.Apply(key, prior, now)
		in := &dynamodb.PutItemInput{
			TableName: aws.String(c.tableName),
			Item:      conversationItem(key.TenantID, conv),
		}
		switch {
		case prior == nil:
			in.ConditionExpression = aws.String("attribute_not_exists(PK)")
		case prior.Version == 0:
			in.ConditionExpression = aws.String("attribute_exists(PK) AND attribute_not_exists(#version)")
			in.ExpressionAttributeNames = map[string]string{"#version": "version"}
		default:
			in.ConditionExpression = aws.String("#version = :version")
			in.ExpressionAttributeNames = map[string]string{"#version": "version"}
			in.ExpressionAttributeValues = map[string]types.AttributeValue{":version": numValue(prior.Version)}
		}

		_, err = c.api.PutItem(ctx, in)
		if err == nil {
			if err := c.incrementDashboard(ctx, key.TenantID, formatTime(now)); err != nil {
				slog.WarnContext(ctx, "dashboard counter not updated", "tenant_id", key.TenantID, "err", err)
			}
			return conv, prior == nil, nil
		}
		if !isConditionFailure(err) {
			return domain.Conversation{}, false, wrapErr("RecordExchange", err)
		}
	}
	return domain.Conversation{}, false, fmt.Errorf("repository: RecordExchange %s: %w", key.ID(), ErrContention)
}

// retryDelay is a full-jitter exponential backoff capped at maxRetryDelay.
func retryDelay(attempt int) time.Duration {
	ceiling := baseRetryDelay << (attempt - 2)
	if ceiling <= 0 || ceiling > maxRetryDelay {
		ceiling = maxRetryDelay
	}
	return time.Duration(rand.Int64N(int64(ceiling)) + 1)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func conversationItem(tenantID string, conv domain.Conversation) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: tenantPK(tenantID)},
		"SK":             &types.AttributeValueMemberS{Value: convSK(conv.ID)},
		"conversationId": &types.AttributeValueMemberS{Value: conv.ID},
		"area":           &types.AttributeValueMemberS{Value: conv.Area},
		"period":         &types.AttributeValueMemberS{Value: conv.Period},
		"duration":       &types.AttributeValueMemberS{Value: conv.Duration},
		"status":         &types.AttributeValueMemberS{Value: conv.Status},
		"channel":        &types.AttributeValueMemberS{Value: string(conv.Channel)},
		"contact":        &types.AttributeValueMemberS{Value: conv.Contact},
		"lastMessage":    &types.AttributeValueMemberS{Value: conv.LastMessage},
		"lastResponse":   &types.AttributeValueMemberS{Value: conv.LastResponse},
		"botId":          &types.AttributeValueMemberS{Value: conv.BotID},
		"botName":        &types.AttributeValueMemberS{Value: conv.BotName},
		"updatedAt":      &types.AttributeValueMemberS{Value: formatTime(conv.UpdatedAt)},
		"version":        numValue(conv.Version),
	}
	if !conv.CreatedAt.IsZero() {
		item["createdAt"] = &types.AttributeValueMemberS{Value: formatTime(conv.CreatedAt)}
	}
	return item
}

func itemToConversation(item map[string]types.AttributeValue) (domain.Conversation, error) {
	id, err := strAttr(item, "conversationId")
	if err != nil {
		return domain.Conversation{}, err
	}
	conv := domain.Conversation{ID: id}
	var channel string
	fields := []struct {
		key string
		dst *string
	}{
		{"area", &conv.Area},
		{"period", &conv.Period},
		{"duration", &conv.Duration},
		{"status", &conv.Status},
		{"channel", &channel},
		{"contact", &conv.Contact},
		{"lastMessage", &conv.LastMessage},
		{"lastResponse", &conv.LastResponse},
		{"botId", &conv.BotID},
		{"botName", &conv.BotName},
	}
	for _, f := range fields {
		if *f.dst, err = optStrAttr(item, f.key); err != nil {
			return domain.Conversation{}, err
		}
	}
	conv.Channel = domain.Channel(channel)
	if conv.CreatedAt, err = timeAttr(item, "createdAt"); err != nil {
		return domain.Conversation{}, err
	}
	if conv.UpdatedAt, err = timeAttr(item, "updatedAt"); err != nil {
		return domain.Conversation{}, err
	}
	if conv.Version, err = optIntAttr(item, "version"); err != nil {
		return domain.Conversation{}, err
	}
	return conv, nil
}
