package repository

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"bot-relay/internal/domain"
)

// FindTenantByNumber returns the id of a tenant whose channel-specific number
// equals number exactly. Which tenant wins when several share a number is
// undefined.
func (c *Client) FindTenantByNumber(ctx context.Context, ch domain.Channel, number string) (string, bool, error) {
	if strings.TrimSpace(number) == "" {
		return "", false, nil
	}
	index, attr := whatsappNumberIndex, "whatsappNumber"
	if ch == domain.ChannelSMS {
		index, attr = smsNumberIndex, "smsNumber"
	}

	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:                aws.String(c.tableName),
		IndexName:                aws.String(index),
		KeyConditionExpression:   aws.String("#num = :num"),
		ExpressionAttributeNames: map[string]string{"#num": attr},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":num": &types.AttributeValueMemberS{Value: number},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return "", false, wrapErr("FindTenantByNumber query", err)
	}
	if out == nil || len(out.Items) == 0 {
		return "", false, nil
	}
	id, err := strAttr(out.Items[0], "tenantId")
	if err != nil {
		return "", false, fmt.Errorf("repository: FindTenantByNumber decode: %w", err)
	}
	return id, true, nil
}

// GetTenant reads the tenant profile.
func (c *Client) GetTenant(ctx context.Context, tenantID string) (domain.Tenant, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            itemKey(tenantPK(tenantID), skProfile),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Tenant{}, false, wrapErr("GetTenant get item", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Tenant{}, false, nil
	}
	tenant, err := itemToTenant(out.Item)
	if err != nil {
		return domain.Tenant{}, false, fmt.Errorf("repository: GetTenant decode: %w", err)
	}
	return tenant, true, nil
}

// UpsertTenant creates the tenant profile or patches an existing one. An
// empty number leaves the stored one untouched; it is removed, and so leaves
// its number index, only when its channel is listed in unset. createdAt and
// the bot selection are only initialised when absent.
func (c *Client) UpsertTenant(ctx context.Context, t domain.Tenant, unset ...domain.Channel) error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("repository: UpsertTenant: tenant id is required")
	}
	plan := t.Plan
	if plan == "" {
		plan = domain.PlanStarter
	}

	set := []string{
		"tenantId = :id",
		"#plan = :plan",
		"createdAt = if_not_exists(createdAt, :now)",
		"selectedBots = if_not_exists(selectedBots, :empty)",
	}
	var remove []string
	values := map[string]types.AttributeValue{
		":id":    &types.AttributeValueMemberS{Value: t.ID},
		":plan":  &types.AttributeValueMemberS{Value: string(plan)},
		":now":   &types.AttributeValueMemberS{Value: formatTime(c.clock())},
		":empty": &types.AttributeValueMemberL{Value: []types.AttributeValue{}},
	}
	if t.Email != "" {
		set = append(set, "email = :email")
		values[":email"] = &types.AttributeValueMemberS{Value: t.Email}
	}
	numbers := []struct {
		ch     domain.Channel
		attr   string
		ph     string
		number string
	}{
		{domain.ChannelWhatsApp, "whatsappNumber", ":wa", t.WhatsAppNumber},
		{domain.ChannelSMS, "smsNumber", ":sms", t.SMSNumber},
	}
	for _, n := range numbers {
		switch {
		case n.number != "":
			set = append(set, n.attr+" = "+n.ph)
			values[n.ph] = &types.AttributeValueMemberS{Value: n.number}
		case slices.Contains(unset, n.ch):
			remove = append(remove, n.attr)
		}
	}

	expr := "SET " + strings.Join(set, ", ")
	if len(remove) > 0 {
		expr += " REMOVE " + strings.Join(remove, ", ")
	}

	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(c.tableName),
		Key:                       itemKey(tenantPK(t.ID), skProfile),
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeNames:  map[string]string{"#plan": "plan"},
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return wrapErr("UpsertTenant", err)
	}
	return nil
}

// SetSelectedBots replaces the tenant's bot selection.
func (c *Client) SetSelectedBots(ctx context.Context, tenantID string, selected []domain.SelectedBot) error {
	list := make([]types.AttributeValue, 0, len(selected))
	for _, sb := range selected {
		list = append(list, &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"name": &types.AttributeValueMemberS{Value: sb.Name},
			"area": &types.AttributeValueMemberS{Value: sb.Area},
		}})
	}
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 itemKey(tenantPK(tenantID), skProfile),
		UpdateExpression:    aws.String("SET selectedBots = :sel"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sel": &types.AttributeValueMemberL{Value: list},
		},
	})
	if err != nil {
		if isConditionFailure(err) {
			return fmt.Errorf("repository: SetSelectedBots: %w", ErrTenantNotFound)
		}
		return wrapErr("SetSelectedBots", err)
	}
	return nil
}

// GetDashboardSummary returns the tenant's dashboard aggregate; a missing
// summary reads as zero values.
func (c *Client) GetDashboardSummary(ctx context.Context, tenantID string) (domain.DashboardSummary, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key:       itemKey(tenantPK(tenantID), skDashboard),
	})
	if err != nil {
		return domain.DashboardSummary{}, wrapErr("GetDashboardSummary get item", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.DashboardSummary{}, nil
	}
	var s domain.DashboardSummary
	if s.ConversationsToday, err = optIntAttr(out.Item, "conversationsToday"); err != nil {
		return domain.DashboardSummary{}, fmt.Errorf("repository: GetDashboardSummary decode: %w", err)
	}
	s.AvgResponse, _ = optStrAttr(out.Item, "avgResponse")
	s.SLA, _ = optStrAttr(out.Item, "sla")
	s.DailyCost, _ = optStrAttr(out.Item, "dailyCost")
	s.UpdatedAt, _ = timeAttr(out.Item, "updatedAt")
	return s, nil
}

// EnsureDashboardSummary writes the summary only if the tenant has none yet.
func (c *Client) EnsureDashboardSummary(ctx context.Context, tenantID string, s domain.DashboardSummary) error {
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":                 &types.AttributeValueMemberS{Value: tenantPK(tenantID)},
			"SK":                 &types.AttributeValueMemberS{Value: skDashboard},
			"conversationsToday": numValue(s.ConversationsToday),
			"avgResponse":        &types.AttributeValueMemberS{Value: s.AvgResponse},
			"sla":                &types.AttributeValueMemberS{Value: s.SLA},
			"dailyCost":          &types.AttributeValueMemberS{Value: s.DailyCost},
			"updatedAt":          &types.AttributeValueMemberS{Value: formatTime(c.clock())},
		},
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		if isConditionFailure(err) {
			return nil
		}
		return wrapErr("EnsureDashboardSummary", err)
	}
	return nil
}

// incrementDashboard bumps the rolling conversation counter. ADD is
// commutative, so concurrent exchanges of one tenant never conflict here.
func (c *Client) incrementDashboard(ctx context.Context, tenantID, updatedAt string) error {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(c.tableName),
		Key:              itemKey(tenantPK(tenantID), skDashboard),
		UpdateExpression: aws.String("ADD conversationsToday :one SET updatedAt = :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": numValue(1),
			":now": &types.AttributeValueMemberS{Value: updatedAt},
		},
	})
	if err != nil {
		return wrapErr("incrementDashboard", err)
	}
	return nil
}

func itemToTenant(item map[string]types.AttributeValue) (domain.Tenant, error) {
	id, err := strAttr(item, "tenantId")
	if err != nil {
		return domain.Tenant{}, err
	}
	t := domain.Tenant{ID: id}
	plan, err := optStrAttr(item, "plan")
	if err != nil {
		return domain.Tenant{}, err
	}
	t.Plan = domain.PlanID(plan)
	if t.Email, err = optStrAttr(item, "email"); err != nil {
		return domain.Tenant{}, err
	}
	if t.WhatsAppNumber, err = optStrAttr(item, "whatsappNumber"); err != nil {
		return domain.Tenant{}, err
	}
	if t.SMSNumber, err = optStrAttr(item, "smsNumber"); err != nil {
		return domain.Tenant{}, err
	}
	if t.CreatedAt, err = timeAttr(item, "createdAt"); err != nil {
		return domain.Tenant{}, err
	}
	if t.SelectedBots, err = selectedBotsAttr(item, "selectedBots"); err != nil {
		return domain.Tenant{}, err
	}
	return t, nil
}

// selectedBotsAttr decodes the selection list, skipping malformed entries.
func selectedBotsAttr(item map[string]types.AttributeValue, key string) ([]domain.SelectedBot, error) {
	v, ok := item[key]
	if !ok {
		return nil, nil
	}
	l, ok := v.(*types.AttributeValueMemberL)
	if !ok {
		return nil, fmt.Errorf("repository: attribute %q is not a list", key)
	}
	out := make([]domain.SelectedBot, 0, len(l.Value))
	for _, entry := range l.Value {
		m, ok := entry.(*types.AttributeValueMemberM)
		if !ok {
			continue
		}
		name, _ := optStrAttr(m.Value, "name")
		area, _ := optStrAttr(m.Value, "area")
		if name == "" {
			continue
		}
		out = append(out, domain.SelectedBot{Name: name, Area: area})
	}
	return out, nil
}
