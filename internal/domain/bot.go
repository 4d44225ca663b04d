package domain

import "strings"

// Bot is a tenant-owned auto-reply configuration for one operational area.
type Bot struct {
	ID              string
	Name            string
	Area            string
	Enabled         bool
	Keywords        string
	WelcomeMessage  string
	FallbackMessage string
	HandoffMessage  string
}

// KeywordList splits the raw keyword field on commas and newlines, trimming
// and lowercasing every entry and dropping empties.
func (b Bot) KeywordList() []string {
	return ParseKeywords(b.Keywords)
}

func ParseKeywords(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == '\n'
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// DisplayName is the name shown in conversation records; bots without a name
// fall back to their storage id.
func (b Bot) DisplayName() string {
	if b.Name != "" {
		return b.Name
	}
	return b.ID
}
