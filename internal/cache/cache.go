// Package cache provides process-wide TTL memoization for deterministic,
// parameter-keyed lookups. Entries are immutable once written; concurrent
// fills of the same key are collapsed so an expensive aggregate query runs
// at most once per window.
package cache

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// Class selects the TTL policy for an entry.
type Class int

const (
	// ClassVolatile covers time-sensitive aggregates (sales rankings,
	// inactivity lists).
	ClassVolatile Class = iota
	// ClassCatalog covers slow-changing product data.
	ClassCatalog
	// ClassProfile covers per-customer purchasing statistics; callers must
	// include the reference date in the key so a stale calculation is never
	// served for a different reference point.
	ClassProfile
)

const (
	VolatileTTL = 10 * time.Minute
	CatalogTTL  = time.Hour
	ProfileTTL  = 24 * time.Hour

	entriesPerClass = 512
)

type Cache struct {
	stores map[Class]*expirable.LRU[string, string]
	group  singleflight.Group
}

func New() *Cache {
	return NewWithTTLs(VolatileTTL, CatalogTTL, ProfileTTL)
}

// NewWithTTLs exists so tests can exercise expiry without waiting for the
// production windows.
func NewWithTTLs(volatile, catalog, profile time.Duration) *Cache {
	return &Cache{
		stores: map[Class]*expirable.LRU[string, string]{
			ClassVolatile: expirable.NewLRU[string, string](entriesPerClass, nil, volatile),
			ClassCatalog:  expirable.NewLRU[string, string](entriesPerClass, nil, catalog),
			ClassProfile:  expirable.NewLRU[string, string](entriesPerClass, nil, profile),
		},
	}
}

// Do returns the cached value for key, or computes, stores and returns it.
// The bool reports whether this was a hit. Compute errors are never cached.
func (c *Cache) Do(class Class, key string, compute func() (string, error)) (string, bool, error) {
	store, ok := c.stores[class]
	if !ok {
		return "", false, fmt.Errorf("unknown cache class %d", class)
	}

	if v, found := store.Get(key); found {
		return v, true, nil
	}

	flightKey := fmt.Sprintf("%d:%s", class, key)
	v, err, _ := c.group.Do(flightKey, func() (any, error) {
		// A concurrent filler may have won the race while we queued.
		if v, found := store.Get(key); found {
			return v, nil
		}
		val, err := compute()
		if err != nil {
			return "", err
		}
		store.Add(key, val)
		return val, nil
	})
	if err != nil {
		return "", false, err
	}
	return v.(string), false, nil
}

// Purge drops every entry of every class.
func (c *Cache) Purge() {
	for _, store := range c.stores {
		store.Purge()
	}
}

// Key builds a stable cache key from a function name and its normalized
// arguments (scope included, since results vary by scope).
func Key(name string, args map[string]string) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteString("|")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(args[k])
	}
	return b.String()
}
