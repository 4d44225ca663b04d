package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"bot-relay/internal/domain"
)

// ListBots returns every bot of the tenant in sort-key (bot id) order.
func (c *Client) ListBots(ctx context.Context, tenantID string) ([]domain.Bot, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: tenantPK(tenantID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixBot},
		},
		ConsistentRead: aws.Bool(true),
	}

	var bots []domain.Bot
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, wrapErr("ListBots query", err)
		}
		if out == nil {
			break
		}
		for _, item := range out.Items {
			bot, err := itemToBot(item)
			if err != nil {
				return nil, fmt.Errorf("repository: ListBots unmarshal: %w", err)
			}
			bots = append(bots, bot)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
	return bots, nil
}

// GetBot reads one bot by storage id.
func (c *Client) GetBot(ctx context.Context, tenantID, botID string) (domain.Bot, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            itemKey(tenantPK(tenantID), botSK(botID)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Bot{}, false, wrapErr("GetBot get item", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Bot{}, false, nil
	}
	bot, err := itemToBot(out.Item)
	if err != nil {
		return domain.Bot{}, false, fmt.Errorf("repository: GetBot decode: %w", err)
	}
	return bot, true, nil
}

// PutBot writes the bot together with a guard item reserving its name within
// the tenant. A rename releases the previous guard in the same transaction.
func (c *Client) PutBot(ctx context.Context, tenantID string, bot domain.Bot) error {
	if bot.ID == "" || strings.TrimSpace(bot.Name) == "" {
		return fmt.Errorf("repository: PutBot: bot id and name are required")
	}

	prev, found, err := c.GetBot(ctx, tenantID, bot.ID)
	if err != nil {
		return fmt.Errorf("repository: PutBot: %w", err)
	}

	pk := tenantPK(tenantID)
	items := []types.TransactWriteItem{
		{
			Put: &types.Put{
				TableName: aws.String(c.tableName),
				Item:      botItem(tenantID, bot),
			},
		},
		{
			Put: &types.Put{
				TableName: aws.String(c.tableName),
				Item: map[string]types.AttributeValue{
					"PK":    &types.AttributeValueMemberS{Value: pk},
					"SK":    &types.AttributeValueMemberS{Value: botNameSK(bot.Name)},
					"botId": &types.AttributeValueMemberS{Value: bot.ID},
				},
				ConditionExpression: aws.String("attribute_not_exists(PK) OR botId = :botId"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":botId": &types.AttributeValueMemberS{Value: bot.ID},
				},
			},
		},
	}
	if found && botNameSK(prev.Name) != botNameSK(bot.Name) {
		items = append(items, types.TransactWriteItem{
			Delete: &types.Delete{
				TableName: aws.String(c.tableName),
				Key:       itemKey(pk, botNameSK(prev.Name)),
			},
		})
	}

	_, err = c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		if isConditionFailure(err) {
			return fmt.Errorf("repository: PutBot %q: %w", bot.Name, ErrDuplicateBotName)
		}
		return wrapErr("PutBot", err)
	}
	return nil
}

func botItem(tenantID string, bot domain.Bot) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":              &types.AttributeValueMemberS{Value: tenantPK(tenantID)},
		"SK":              &types.AttributeValueMemberS{Value: botSK(bot.ID)},
		"botId":           &types.AttributeValueMemberS{Value: bot.ID},
		"name":            &types.AttributeValueMemberS{Value: bot.Name},
		"area":            &types.AttributeValueMemberS{Value: bot.Area},
		"enabled":         &types.AttributeValueMemberBOOL{Value: bot.Enabled},
		"keywords":        &types.AttributeValueMemberS{Value: bot.Keywords},
		"welcomeMessage":  &types.AttributeValueMemberS{Value: bot.WelcomeMessage},
		"fallbackMessage": &types.AttributeValueMemberS{Value: bot.FallbackMessage},
		"handoffMessage":  &types.AttributeValueMemberS{Value: bot.HandoffMessage},
	}
}

// itemToBot decodes a bot item. Only the id is mandatory; every template may
// be absent and is resolved to a default by the reply policy.
func itemToBot(item map[string]types.AttributeValue) (domain.Bot, error) {
	id, err := strAttr(item, "botId")
	if err != nil {
		return domain.Bot{}, err
	}
	bot := domain.Bot{ID: id}
	fields := []struct {
		key string
		dst *string
	}{
		{"name", &bot.Name},
		{"area", &bot.Area},
		{"keywords", &bot.Keywords},
		{"welcomeMessage", &bot.WelcomeMessage},
		{"fallbackMessage", &bot.FallbackMessage},
		{"handoffMessage", &bot.HandoffMessage},
	}
	for _, f := range fields {
		if *f.dst, err = optStrAttr(item, f.key); err != nil {
			return domain.Bot{}, err
		}
	}
	if bot.Enabled, err = boolAttr(item, "enabled"); err != nil {
		return domain.Bot{}, err
	}
	return bot, nil
}
