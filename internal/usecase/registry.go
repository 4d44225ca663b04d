package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"bot-relay/internal/domain"
	"bot-relay/internal/repository"
)

// RegistryStore is the write side of the tenant and bot registry.
type RegistryStore interface {
	BotCatalog
	UpsertTenant(ctx context.Context, t domain.Tenant, unset ...domain.Channel) error
	EnsureDashboardSummary(ctx context.Context, tenantID string, s domain.DashboardSummary) error
	PutBot(ctx context.Context, tenantID string, bot domain.Bot) error
	SetSelectedBots(ctx context.Context, tenantID string, selected []domain.SelectedBot) error
	GetDashboardSummary(ctx context.Context, tenantID string) (domain.DashboardSummary, error)
}

// RegistryService provisions tenants and manages their bots.
type RegistryService struct {
	store RegistryStore
}

func NewRegistryService(store RegistryStore) (*RegistryService, error) {
	if store == nil {
		return nil, errors.New("usecase: registry store must not be nil")
	}
	return &RegistryService{store: store}, nil
}

type TenantInput struct {
	ID             string
	Email          string
	Plan           domain.PlanID
	WhatsAppNumber string
	SMSNumber      string
	// ClearNumbers lists channels whose routed number is removed when no new
	// number is given for them. Other empty numbers keep their stored value.
	ClearNumbers []domain.Channel
}

// SeedTenant creates or updates a tenant profile and makes sure its
// dashboard summary exists. An empty plan means starter.
func (s *RegistryService) SeedTenant(ctx context.Context, in TenantInput) (domain.Tenant, error) {
	id := strings.TrimSpace(in.ID)
	if id == "" {
		return domain.Tenant{}, newError(ErrorInvalidInput, "missing_tenant_id", nil)
	}
	plan := in.Plan
	if plan == "" {
		plan = domain.PlanStarter
	}
	if _, ok := domain.LookupPlan(plan); !ok {
		return domain.Tenant{}, newError(ErrorInvalidInput, "unknown_plan", nil)
	}

	t := domain.Tenant{
		ID:             id,
		Email:          strings.TrimSpace(in.Email),
		Plan:           plan,
		WhatsAppNumber: domain.NormalizeNumber(strings.TrimSpace(in.WhatsAppNumber)),
		SMSNumber:      strings.TrimSpace(in.SMSNumber),
	}
	if err := s.store.UpsertTenant(ctx, t, in.ClearNumbers...); err != nil {
		return domain.Tenant{}, storeError("tenant_write_error", err)
	}
	if err := s.store.EnsureDashboardSummary(ctx, id, domain.DefaultDashboardSummary()); err != nil {
		return domain.Tenant{}, storeError("dashboard_write_error", err)
	}
	return t, nil
}

// SaveBot writes a bot. A bot without an id takes over the id of an existing
// bot with the same name, or gets a fresh one, so re-seeding is idempotent.
func (s *RegistryService) SaveBot(ctx context.Context, tenantID string, bot domain.Bot) (domain.Bot, error) {
	bot.Name = strings.TrimSpace(bot.Name)
	if strings.TrimSpace(tenantID) == "" || bot.Name == "" {
		return domain.Bot{}, newError(ErrorInvalidInput, "missing_bot_name", nil)
	}
	if bot.ID == "" {
		existing, err := s.store.ListBots(ctx, tenantID)
		if err != nil {
			return domain.Bot{}, storeError("bot_lookup_error", err)
		}
		for _, b := range existing {
			if strings.EqualFold(strings.TrimSpace(b.Name), bot.Name) {
				bot.ID = b.ID
				break
			}
		}
		if bot.ID == "" {
			bot.ID = newUUID()
		}
	}

	if err := s.store.PutBot(ctx, tenantID, bot); err != nil {
		if errors.Is(err, repository.ErrDuplicateBotName) {
			return domain.Bot{}, newError(ErrorInvalidInput, "duplicate_bot_name", err)
		}
		return domain.Bot{}, storeError("bot_write_error", err)
	}
	return bot, nil
}

// SelectBots stores the tenant's bot selection. Names match bots ignoring
// case, as bot names are unique that way; names without a matching bot are
// dropped, duplicates collapse, and the result must fit the plan limit. The
// stored selection carries each bot's own spelling.
func (s *RegistryService) SelectBots(ctx context.Context, tenantID string, names []string) ([]domain.SelectedBot, error) {
	tenant, ok, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, storeError("tenant_lookup_error", err)
	}
	if !ok {
		return nil, newError(ErrorNotFound, "tenant_not_found", nil)
	}
	plan, ok := domain.LookupPlan(tenant.Plan)
	if !ok {
		plan, _ = domain.LookupPlan(domain.PlanStarter)
	}

	bots, err := s.store.ListBots(ctx, tenantID)
	if err != nil {
		return nil, storeError("bot_lookup_error", err)
	}
	byName := make(map[string]domain.Bot, len(bots))
	for _, b := range bots {
		k := nameKey(b.Name)
		if _, dup := byName[k]; !dup && k != "" {
			byName[k] = b
		}
	}

	selected := make([]domain.SelectedBot, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		k := nameKey(n)
		b, exists := byName[k]
		if !exists {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		area := b.Area
		if area == "" {
			area = domain.DefaultArea
		}
		selected = append(selected, domain.SelectedBot{Name: b.Name, Area: area})
	}
	if len(selected) > plan.BotLimit {
		return nil, newError(ErrorInvalidInput, "bot_limit_exceeded", nil)
	}

	if err := s.store.SetSelectedBots(ctx, tenantID, selected); err != nil {
		if errors.Is(err, repository.ErrTenantNotFound) {
			return nil, newError(ErrorNotFound, "tenant_not_found", err)
		}
		return nil, storeError("selection_write_error", err)
	}
	return selected, nil
}

// Bots lists the tenant's bots in storage order.
func (s *RegistryService) Bots(ctx context.Context, tenantID string) ([]domain.Bot, error) {
	bots, err := s.store.ListBots(ctx, tenantID)
	if err != nil {
		return nil, storeError("bot_lookup_error", err)
	}
	return bots, nil
}

// Summary returns the tenant's dashboard counters.
func (s *RegistryService) Summary(ctx context.Context, tenantID string) (domain.DashboardSummary, error) {
	sum, err := s.store.GetDashboardSummary(ctx, tenantID)
	if err != nil {
		return domain.DashboardSummary{}, storeError("dashboard_read_error", err)
	}
	return sum, nil
}

// nameKey folds a bot name the way the store's name guard does.
func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

var newUUID = func() string {
	return uuid.NewString()
}
