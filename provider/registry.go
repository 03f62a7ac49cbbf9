package provider

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Config is handed to a Factory when a backend is constructed
type Config struct {
	Token   string
	BaseURL string // optional API endpoint override
	Timeout time.Duration
}

// Factory constructs a Provider from Config
type Factory func(cfg Config) (Provider, error)

var (
	mu       sync.RWMutex
	registry = map[string]Factory{}
)

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register makes a backend available under name. It panics on duplicates.
func Register(name string, factory Factory) {
	normalizedName := normalize(name)
	if normalizedName == "" {
		panic("provider: empty provider name")
	}
	if factory == nil {
		panic("provider: nil factory")
	}

	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[normalizedName]; exists {
		panic(fmt.Sprintf("provider: provider %q already registered", name))
	}

	registry[normalizedName] = factory
}

// Get constructs the backend registered under name
func Get(name string, cfg Config) (Provider, error) {
	mu.RLock()
	factory, ok := registry[normalize(name)]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("provider: unknown provider %q", name)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("provider: empty token for %q", name)
	}
	return factory(cfg)
}

// Reset clears the registry. Intended for use in tests only.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	registry = map[string]Factory{}
}

// List returns the registered backend names in order
func List() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
