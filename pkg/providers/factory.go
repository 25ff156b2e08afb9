package providers

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dotsetgreg/nanobot/pkg/config"
)

// ProviderFactory builds a provider from the loaded configuration.
type ProviderFactory func(cfg *config.Config) (LLMProvider, error)

var (
	factoryMu sync.RWMutex
	factories = map[string]ProviderFactory{}
)

func RegisterFactory(name string, factory ProviderFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[NormalizeProviderName(name)] = factory
}

func CreateProvider(name string, cfg *config.Config) (LLMProvider, error) {
	normalized := NormalizeProviderName(name)

	factoryMu.RLock()
	factory, ok := factories[normalized]
	factoryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown provider %q (supported: %s)", name, strings.Join(SupportedProviders(), ", "))
	}
	return factory(cfg)
}

func SupportedProviders() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func NormalizeProviderName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
