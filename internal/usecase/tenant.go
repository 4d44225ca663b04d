package usecase

import (
	"context"
	"errors"
	"strings"

	"bot-relay/internal/domain"
)

// TenantDirectory finds the tenant that registered a destination number.
type TenantDirectory interface {
	FindTenantByNumber(ctx context.Context, ch domain.Channel, number string) (string, bool, error)
}

// TenantResolver maps the destination of an inbound message to a tenant id.
type TenantResolver interface {
	ResolveTenant(ctx context.Context, destination string, ch domain.Channel) (string, bool, error)
}

// FixedTenant routes every message to one tenant (single-tenant deployments).
type FixedTenant struct {
	TenantID string
}

func (f FixedTenant) ResolveTenant(_ context.Context, _ string, _ domain.Channel) (string, bool, error) {
	return f.TenantID, true, nil
}

// NumberDirectory resolves tenants by their registered channel number, trying
// the raw destination first and then the normalized form.
type NumberDirectory struct {
	dir TenantDirectory
}

func NewNumberDirectory(dir TenantDirectory) (*NumberDirectory, error) {
	if dir == nil {
		return nil, errors.New("usecase: tenant directory must not be nil")
	}
	return &NumberDirectory{dir: dir}, nil
}

func (n *NumberDirectory) ResolveTenant(ctx context.Context, destination string, ch domain.Channel) (string, bool, error) {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return "", false, nil
	}
	id, ok, err := n.dir.FindTenantByNumber(ctx, ch, destination)
	if err != nil || ok {
		return id, ok, err
	}
	normalized := domain.NormalizeNumber(destination)
	if normalized == destination {
		return "", false, nil
	}
	return n.dir.FindTenantByNumber(ctx, ch, normalized)
}

// NewTenantResolver picks the FixedTenant strategy when defaultTenantID is set
// and the number directory otherwise.
func NewTenantResolver(defaultTenantID string, dir TenantDirectory) (TenantResolver, error) {
	if id := strings.TrimSpace(defaultTenantID); id != "" {
		return FixedTenant{TenantID: id}, nil
	}
	return NewNumberDirectory(dir)
}
