package usecase

import (
	"strings"

	"bot-relay/internal/domain"
)

const (
	DefaultWelcomeMessage  = "Ola! Como posso ajudar hoje?"
	DefaultFallbackMessage = "Nao entendi. Pode repetir de outra forma?"
	DefaultHandoffMessage  = "Vou te encaminhar para um especialista."

	PausedBotMessage          = "Bot pausado. Ative no painel para responder."
	NoTenantMessage           = "Conta nao configurada para este numero."
	NoBotMessage              = "Nenhum bot configurado. Configure no painel."
	StorageUnavailableMessage = "Servico nao configurado. Configure o armazenamento."
	ServiceUnavailableMessage = "Servico indisponivel no momento. Tente novamente em instantes."
)

var handoffTriggers = []string{"humano", "atendente", "pessoa", "suporte"}

// DecideReply returns the single reply for an inbound text. Rules in order:
// paused bot, first message of a conversation, handoff trigger, keyword hit
// (welcome again), fallback.
func DecideReply(bot domain.Bot, text string, isNew bool) string {
	if !bot.Enabled {
		return PausedBotMessage
	}
	welcome := orDefault(bot.WelcomeMessage, DefaultWelcomeMessage)
	if isNew {
		return welcome
	}

	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized != "" {
		if containsAny(normalized, handoffTriggers) {
			return orDefault(bot.HandoffMessage, DefaultHandoffMessage)
		}
		if containsAny(normalized, bot.KeywordList()) {
			return welcome
		}
	}
	return orDefault(bot.FallbackMessage, DefaultFallbackMessage)
}

func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(text, n) {
			return true
		}
	}
	return false
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// SoftReply is the text sent back to a messaging contact when handling
// failed after the payload was accepted.
func SoftReply(err error) string {
	if ucErr := AsError(err); ucErr != nil && ucErr.Code == ErrorConfiguration {
		return StorageUnavailableMessage
	}
	return ServiceUnavailableMessage
}
