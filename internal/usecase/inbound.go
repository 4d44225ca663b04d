package usecase

import (
	"context"
	"errors"
	"strings"

	"bot-relay/internal/domain"
	"bot-relay/internal/repository"
)

// ConversationRecorder persists one inbound exchange atomically.
type ConversationRecorder interface {
	RecordExchange(ctx context.Context, key domain.ConversationKey, decide repository.DecideFunc) (domain.Conversation, bool, error)
}

type activeBotSelector interface {
	SelectActiveBot(ctx context.Context, tenantID string) (domain.Bot, bool, error)
}

type InboundOutcome string

const (
	OutcomeReplied  InboundOutcome = "replied"
	OutcomeNoTenant InboundOutcome = "no_tenant"
	OutcomeNoBot    InboundOutcome = "no_bot"
	OutcomePaused   InboundOutcome = "paused"
)

type InboundInput struct {
	From string
	To   string
	Body string
}

type InboundResult struct {
	Outcome      InboundOutcome
	Reply        string
	Channel      domain.Channel
	TenantID     string
	BotID        string
	IsNew        bool
	Conversation *domain.Conversation
}

// InboundService routes an inbound message to its tenant's active bot and
// records the conversation.
type InboundService struct {
	tenants  TenantResolver
	bots     activeBotSelector
	recorder ConversationRecorder
}

func NewInboundService(tenants TenantResolver, bots activeBotSelector, recorder ConversationRecorder) (*InboundService, error) {
	if tenants == nil {
		return nil, errors.New("usecase: tenant resolver must not be nil")
	}
	if bots == nil {
		return nil, errors.New("usecase: bot selector must not be nil")
	}
	if recorder == nil {
		return nil, errors.New("usecase: conversation recorder must not be nil")
	}
	return &InboundService{tenants: tenants, bots: bots, recorder: recorder}, nil
}

// Handle resolves and answers one inbound message. Only the Replied outcome
// writes to the store.
func (s *InboundService) Handle(ctx context.Context, in InboundInput) (InboundResult, error) {
	from := strings.TrimSpace(in.From)
	to := strings.TrimSpace(in.To)
	if from == "" || to == "" {
		return InboundResult{}, newError(ErrorInvalidInput, "invalid_payload", nil)
	}

	ch := domain.ChannelOf(from, to)
	res := InboundResult{Channel: ch}

	tenantID, ok, err := s.tenants.ResolveTenant(ctx, to, ch)
	if err != nil {
		return res, storeError("tenant_lookup_error", err)
	}
	if !ok || tenantID == "" {
		res.Outcome = OutcomeNoTenant
		res.Reply = NoTenantMessage
		return res, nil
	}
	res.TenantID = tenantID

	bot, ok, err := s.bots.SelectActiveBot(ctx, tenantID)
	if err != nil {
		return res, storeError("bot_lookup_error", err)
	}
	if !ok {
		res.Outcome = OutcomeNoBot
		res.Reply = NoBotMessage
		return res, nil
	}
	res.BotID = bot.ID
	if !bot.Enabled {
		res.Outcome = OutcomePaused
		res.Reply = DecideReply(bot, in.Body, false)
		return res, nil
	}

	text := strings.TrimSpace(in.Body)
	key := domain.NewConversationKey(tenantID, ch, from)
	conv, isNew, err := s.recorder.RecordExchange(ctx, key, func(prior *domain.Conversation) (domain.ConversationUpdate, error) {
		return domain.ConversationUpdate{
			LastMessage:  text,
			LastResponse: DecideReply(bot, text, prior == nil),
			Bot:          bot,
		}, nil
	})
	if err != nil {
		return res, storeError("conversation_write_error", err)
	}

	res.Outcome = OutcomeReplied
	res.Reply = conv.LastResponse
	res.IsNew = isNew
	res.Conversation = &conv
	return res, nil
}

func storeError(reason string, err error) *Error {
	if errors.Is(err, repository.ErrTableNotFound) {
		return newError(ErrorConfiguration, "storage_not_configured", err)
	}
	return newError(ErrorInternal, reason, err)
}
