package usecase

import (
	"context"
	"errors"
	"fmt"

	"bot-relay/internal/domain"
)

// BotCatalog reads a tenant's profile and its bots.
type BotCatalog interface {
	GetTenant(ctx context.Context, tenantID string) (domain.Tenant, bool, error)
	ListBots(ctx context.Context, tenantID string) ([]domain.Bot, error)
}

// BotSelector picks the bot that answers for a tenant.
type BotSelector struct {
	catalog BotCatalog
}

func NewBotSelector(catalog BotCatalog) (*BotSelector, error) {
	if catalog == nil {
		return nil, errors.New("usecase: bot catalog must not be nil")
	}
	return &BotSelector{catalog: catalog}, nil
}

// SelectActiveBot loads the tenant's selection and bots and applies
// ChooseBot. A tenant without a stored profile has no selection.
func (s *BotSelector) SelectActiveBot(ctx context.Context, tenantID string) (domain.Bot, bool, error) {
	tenant, _, err := s.catalog.GetTenant(ctx, tenantID)
	if err != nil {
		return domain.Bot{}, false, fmt.Errorf("usecase: load tenant %s: %w", tenantID, err)
	}
	bots, err := s.catalog.ListBots(ctx, tenantID)
	if err != nil {
		return domain.Bot{}, false, fmt.Errorf("usecase: list bots of %s: %w", tenantID, err)
	}
	bot, ok := ChooseBot(bots, tenant.SelectedBotNames())
	return bot, ok, nil
}

// ChooseBot narrows bots to the selected names (ignoring a selection that
// matches nothing) and returns the first enabled candidate, or the first
// candidate when none is enabled.
func ChooseBot(bots []domain.Bot, selected []string) (domain.Bot, bool) {
	candidates := bots
	if len(selected) > 0 {
		names := make(map[string]struct{}, len(selected))
		for _, n := range selected {
			names[n] = struct{}{}
		}
		var filtered []domain.Bot
		for _, b := range bots {
			if _, ok := names[b.Name]; ok && b.Name != "" {
				filtered = append(filtered, b)
			}
		}
		if len(filtered) > 0 {
			candidates = filtered
		}
	}
	if len(candidates) == 0 {
		return domain.Bot{}, false
	}
	for _, b := range candidates {
		if b.Enabled {
			return b, true
		}
	}
	return candidates[0], true
}
