package usecase

import (
	"context"
	"errors"
	"strings"

	"bot-relay/internal/domain"
	"bot-relay/internal/integrations/mercadopago"
)

// PixGateway creates Pix charges.
type PixGateway interface {
	CreatePix(ctx context.Context, in mercadopago.PixRequest) (domain.PixPayment, error)
}

type PixInput struct {
	PlanID domain.PlanID
	Email  string
}

// PixService bills plans through Pix.
type PixService struct {
	gateway    PixGateway
	appBaseURL string
}

func NewPixService(gateway PixGateway, appBaseURL string) (*PixService, error) {
	if gateway == nil {
		return nil, errors.New("usecase: pix gateway must not be nil")
	}
	return &PixService{
		gateway:    gateway,
		appBaseURL: strings.TrimRight(strings.TrimSpace(appBaseURL), "/"),
	}, nil
}

func (s *PixService) CreatePlanPayment(ctx context.Context, in PixInput) (domain.PixPayment, error) {
	plan, ok := domain.LookupPlan(in.PlanID)
	if !ok || strings.TrimSpace(in.Email) == "" {
		return domain.PixPayment{}, newError(ErrorInvalidInput, "invalid_payload", nil)
	}

	p, err := s.gateway.CreatePix(ctx, mercadopago.PixRequest{
		Amount:            plan.Price,
		Description:       "Plano " + string(plan.ID),
		ExternalReference: "plan:" + string(plan.ID),
		PayerEmail:        strings.TrimSpace(in.Email),
		NotificationURL:   s.notificationURL(),
	})
	if err != nil {
		if errors.Is(err, mercadopago.ErrMissingCredentials) {
			return domain.PixPayment{}, newError(ErrorConfiguration, "missing_mp_access_token", err)
		}
		return domain.PixPayment{}, newError(ErrorUpstream, "mp_payment_failed", err)
	}
	return p, nil
}

// notificationURL is only set for public https deployments; the gateway
// rejects plain http callbacks.
func (s *PixService) notificationURL() string {
	if !strings.HasPrefix(s.appBaseURL, "https://") {
		return ""
	}
	return s.appBaseURL + "/webhooks/mercadopago"
}
