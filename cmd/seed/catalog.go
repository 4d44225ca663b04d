package main

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"bot-relay/internal/domain"
)

//go:embed catalog.toml
var defaultCatalog string

type catalogFile struct {
	Bots []catalogBot `toml:"bot"`
}

type catalogBot struct {
	ID              string `toml:"id"`
	Name            string `toml:"name"`
	Area            string `toml:"area"`
	Enabled         bool   `toml:"enabled"`
	Keywords        string `toml:"keywords"`
	WelcomeMessage  string `toml:"welcome_message"`
	FallbackMessage string `toml:"fallback_message"`
	HandoffMessage  string `toml:"handoff_message"`
}

// loadCatalog reads the bot catalog from path, or the embedded catalog when
// path is empty.
func loadCatalog(path string) ([]domain.Bot, error) {
	var f catalogFile
	if path == "" {
		if _, err := toml.Decode(defaultCatalog, &f); err != nil {
			return nil, fmt.Errorf("decode embedded catalog: %w", err)
		}
	} else if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", path, err)
	}
	return f.toBots()
}

func (f catalogFile) toBots() ([]domain.Bot, error) {
	if len(f.Bots) == 0 {
		return nil, errors.New("catalog has no bots")
	}
	seenIDs := make(map[string]struct{}, len(f.Bots))
	seenNames := make(map[string]struct{}, len(f.Bots))
	bots := make([]domain.Bot, 0, len(f.Bots))
	for i, b := range f.Bots {
		id := strings.TrimSpace(b.ID)
		name := strings.TrimSpace(b.Name)
		if id == "" || name == "" {
			return nil, fmt.Errorf("catalog bot #%d needs an id and a name", i+1)
		}
		if _, dup := seenIDs[id]; dup {
			return nil, fmt.Errorf("catalog bot id %q is repeated", id)
		}
		if _, dup := seenNames[strings.ToLower(name)]; dup {
			return nil, fmt.Errorf("catalog bot name %q is repeated", name)
		}
		seenIDs[id] = struct{}{}
		seenNames[strings.ToLower(name)] = struct{}{}
		bots = append(bots, domain.Bot{
			ID:              id,
			Name:            name,
			Area:            strings.TrimSpace(b.Area),
			Enabled:         b.Enabled,
			Keywords:        b.Keywords,
			WelcomeMessage:  b.WelcomeMessage,
			FallbackMessage: b.FallbackMessage,
			HandoffMessage:  b.HandoffMessage,
		})
	}
	return bots, nil
}
