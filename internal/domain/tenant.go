package domain

import "time"

// SelectedBot is a tenant's pick of a bot to activate, referenced by name.
type SelectedBot struct {
	Name string `toml:"name"`
	Area string `toml:"area"`
}

// Tenant is a platform customer account.
type Tenant struct {
	ID             string
	Email          string
	Plan           PlanID
	WhatsAppNumber string
	SMSNumber      string
	SelectedBots   []SelectedBot
	CreatedAt      time.Time
}

// SelectedBotNames returns the non-empty names of the tenant's selection.
func (t Tenant) SelectedBotNames() []string {
	names := make([]string, 0, len(t.SelectedBots))
	for _, sb := range t.SelectedBots {
		if sb.Name != "" {
			names = append(names, sb.Name)
		}
	}
	return names
}

// DashboardSummary is the aggregate shown on the tenant dashboard.
type DashboardSummary struct {
	ConversationsToday int
	AvgResponse        string
	SLA                string
	DailyCost          string
	UpdatedAt          time.Time
}

// DefaultDashboardSummary is written when a tenant is first provisioned.
func DefaultDashboardSummary() DashboardSummary {
	return DashboardSummary{
		ConversationsToday: 0,
		AvgResponse:        "0s",
		SLA:                "0%",
		DailyCost:          "R$ 0,00",
	}
}
