package domain

// PlanID identifies a billing plan.
type PlanID string

const (
	PlanStarter  PlanID = "starter"
	PlanPro      PlanID = "pro"
	PlanBusiness PlanID = "business"
)

// Plan describes the limits and price of a billing plan.
type Plan struct {
	ID       PlanID
	Label    string
	Price    float64
	BotLimit int
	Channels []Channel
}

// Plans is the catalog in display order.
var Plans = []Plan{
	{ID: PlanStarter, Label: "Starter", Price: 49, BotLimit: 1, Channels: []Channel{ChannelWhatsApp}},
	{ID: PlanPro, Label: "Pro", Price: 149, BotLimit: 3, Channels: []Channel{ChannelWhatsApp, ChannelSMS}},
	{ID: PlanBusiness, Label: "Business", Price: 399, BotLimit: 10, Channels: []Channel{ChannelWhatsApp, ChannelSMS}},
}

// LookupPlan returns the catalog entry for id.
func LookupPlan(id PlanID) (Plan, bool) {
	for _, p := range Plans {
		if p.ID == id {
			return p, true
		}
	}
	return Plan{}, false
}
