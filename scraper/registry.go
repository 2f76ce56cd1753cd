package scraper

import "sync"

// registry maps retailer name to its bespoke parser. Retailer packages
// register themselves from init(); lookups fall back to JSONLDParser
// for page kinds.
var (
	registryMu sync.RWMutex
	registry   = map[string]Parser{}
)

// Register installs a bespoke parser for a retailer. Later
// registrations replace earlier ones, which keeps tests simple.
func Register(retailer string, p Parser) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[retailer] = p
}

// Lookup returns the registered parser for a retailer.
func Lookup(retailer string) (Parser, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := registry[retailer]
	return p, ok
}

// Registered lists retailers with bespoke parsers, for status output.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
