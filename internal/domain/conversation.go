package domain

import (
	"encoding/base64"
	"time"
)

const (
	DefaultArea          = "Geral"
	StatusInProgress     = "Em andamento"
	DurationPlaceholder  = "-"
	periodLabelPrefix    = "Hoje "
	periodLabelClockForm = "15:04"
)

// ConversationKey addresses the single conversation record kept per
// (channel, contact) pair of a tenant.
type ConversationKey struct {
	TenantID string
	Channel  Channel
	Contact  string
}

// NewConversationKey normalizes the contact address before building the key.
func NewConversationKey(tenantID string, ch Channel, contact string) ConversationKey {
	return ConversationKey{TenantID: tenantID, Channel: ch, Contact: NormalizeNumber(contact)}
}

// ID encodes channel and contact into a storage-safe identifier. The same
// pair always yields the same id and distinct pairs never collide.
func (k ConversationKey) ID() string {
	return base64.RawURLEncoding.EncodeToString([]byte(string(k.Channel) + ":" + k.Contact))
}

// Conversation is the latest exchange with one contact on one channel.
type Conversation struct {
	ID           string
	Area         string
	Period       string
	Duration     string
	Status       string
	Channel      Channel
	Contact      string
	LastMessage  string
	LastResponse string
	BotID        string
	BotName      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Version      int
}

// ConversationUpdate is the set of fields refreshed on every inbound message.
// Lifecycle fields (CreatedAt, Version) are owned by Apply.
type ConversationUpdate struct {
	LastMessage  string
	LastResponse string
	Bot          Bot
}

// Apply merges the update into prior (nil for a first message) and returns
// the record to persist. CreatedAt is set only when prior is nil.
func (u ConversationUpdate) Apply(key ConversationKey, prior *Conversation, now time.Time) Conversation {
	area := u.Bot.Area
	if area == "" {
		area = DefaultArea
	}
	c := Conversation{
		ID:           key.ID(),
		Area:         area,
		Period:       PeriodLabel(now),
		Duration:     DurationPlaceholder,
		Status:       StatusInProgress,
		Channel:      key.Channel,
		Contact:      key.Contact,
		LastMessage:  u.LastMessage,
		LastResponse: u.LastResponse,
		BotID:        u.Bot.ID,
		BotName:      u.Bot.DisplayName(),
		CreatedAt:    now,
		UpdatedAt:    now,
		Version:      1,
	}
	if prior != nil {
		c.CreatedAt = prior.CreatedAt
		c.Version = prior.Version + 1
	}
	return c
}

// PeriodLabel renders the dashboard period, e.g. "Hoje 14:05", in the
// location carried by now.
func PeriodLabel(now time.Time) string {
	return periodLabelPrefix + now.Format(periodLabelClockForm)
}
