// Package catalog ships the fixed pool of condition candidates (labels and
// flavor payloads) as embedded YAML. Selection is random here, at the edge,
// so the registry itself stays deterministic: callers pick a candidate and
// a TTL, then hand both to the registry.
package catalog

import (
	_ "embed"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var rawCatalog []byte

// Entry is one candidate condition. For diagnoses the remedy is the
// recommended treatment and the tier is a severity; for experiments the
// remedy holds the side effect and the tier a success level.
type Entry struct {
	Label       string `yaml:"label"`
	Description string `yaml:"description"`
	Remedy      string `yaml:"remedy"`
	Tier        string `yaml:"tier"`
}

// Catalog is a pool of candidate entries per category.
type Catalog struct {
	categories map[string][]Entry

	mu  sync.Mutex
	rng *rand.Rand
}

// Load parses the embedded catalog, seeding randomness from the clock.
func Load() (*Catalog, error) {
	return Parse(rawCatalog, time.Now().UnixNano())
}

// Parse builds a Catalog from YAML with a fixed seed, for deterministic
// tests.
func Parse(data []byte, seed int64) (*Catalog, error) {
	var categories map[string][]Entry
	if err := yaml.Unmarshal(data, &categories); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	for category, entries := range categories {
		if len(entries) == 0 {
			return nil, fmt.Errorf("catalog category %q is empty", category)
		}
		for i, e := range entries {
			if e.Label == "" {
				return nil, fmt.Errorf("catalog category %q entry %d has no label", category, i)
			}
		}
	}
	return &Catalog{
		categories: categories,
		rng:        rand.New(rand.NewSource(seed)),
	}, nil
}

// Categories returns the known category names, sorted.
func (c *Catalog) Categories() []string {
	names := make([]string, 0, len(c.categories))
	for name := range c.categories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Pick returns a uniformly random entry from the category.
func (c *Catalog) Pick(category string) (Entry, error) {
	entries, ok := c.categories[category]
	if !ok {
		return Entry{}, fmt.Errorf("unknown catalog category %q", category)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return entries[c.rng.Intn(len(entries))], nil
}

// PickTTL returns a random whole number of hours in [min, max], matching
// the original 1-24h draw.
func (c *Catalog) PickTTL(min, max time.Duration) time.Duration {
	lo := int(min / time.Hour)
	hi := int(max / time.Hour)
	if lo < 1 {
		lo = 1
	}
	if hi < lo {
		hi = lo
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Duration(lo+c.rng.Intn(hi-lo+1)) * time.Hour
}
