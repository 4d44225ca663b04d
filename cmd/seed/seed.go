package main

import (
	"context"
	"fmt"
	"strings"

	"bot-relay/internal/domain"
	"bot-relay/internal/usecase"
)

type registry interface {
	SeedTenant(ctx context.Context, in usecase.TenantInput) (domain.Tenant, error)
	Bots(ctx context.Context, tenantID string) ([]domain.Bot, error)
	SaveBot(ctx context.Context, tenantID string, bot domain.Bot) (domain.Bot, error)
	SelectBots(ctx context.Context, tenantID string, names []string) ([]domain.SelectedBot, error)
}

type seedOptions struct {
	Tenant    usecase.TenantInput
	Catalog   []domain.Bot
	Select    []string
	ForceBots bool
}

type seedReport struct {
	Tenant   domain.Tenant
	Written  []string
	Skipped  []string
	Selected []domain.SelectedBot
}

// seed provisions the tenant, writes catalog bots it does not have yet (all
// of them with ForceBots) and applies the selection. Selected bots are
// written enabled.
func seed(ctx context.Context, reg registry, opts seedOptions) (seedReport, error) {
	var report seedReport
	tenant, err := reg.SeedTenant(ctx, opts.Tenant)
	if err != nil {
		return report, fmt.Errorf("seed tenant: %w", err)
	}
	report.Tenant = tenant

	existing, err := reg.Bots(ctx, tenant.ID)
	if err != nil {
		return report, fmt.Errorf("list bots: %w", err)
	}
	have := make(map[string]struct{}, len(existing))
	for _, b := range existing {
		have[b.ID] = struct{}{}
	}
	selected := make(map[string]struct{}, len(opts.Select))
	for _, n := range opts.Select {
		selected[strings.ToLower(strings.TrimSpace(n))] = struct{}{}
	}

	for _, b := range opts.Catalog {
		if _, ok := have[b.ID]; ok && !opts.ForceBots {
			report.Skipped = append(report.Skipped, b.ID)
			continue
		}
		if _, ok := selected[strings.ToLower(strings.TrimSpace(b.Name))]; ok {
			b.Enabled = true
		}
		if _, err := reg.SaveBot(ctx, tenant.ID, b); err != nil {
			return report, fmt.Errorf("save bot %s: %w", b.ID, err)
		}
		report.Written = append(report.Written, b.ID)
	}

	if len(opts.Select) > 0 {
		report.Selected, err = reg.SelectBots(ctx, tenant.ID, opts.Select)
		if err != nil {
			return report, fmt.Errorf("select bots: %w", err)
		}
	}
	return report, nil
}
