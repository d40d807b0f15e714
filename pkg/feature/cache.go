// pkg/feature/cache.go - memoized feature inventory with explicit invalidation.

package feature

import (
	"sync"
	"time"

	"github.com/windowsadmins/winfeature/pkg/logging"
	"github.com/windowsadmins/winfeature/pkg/platform"
	"github.com/windowsadmins/winfeature/pkg/powershell"
)

// Cache memoizes the feature inventory so repeated reads within one run
// do not re-query the OS. The inventory is replaced whole-sale: readers
// either see the previous complete snapshot or the next one, never a
// partial mix. Callers must Invalidate after any successful mutating
// action.
type Cache struct {
	mu        sync.Mutex
	inventory *Inventory
	query     func() (*Inventory, error)
}

// NewCache returns a cache whose first Read queries the OS feature list
// through the given shell.
func NewCache(shell powershell.Runner, plat *platform.Context, timeout time.Duration) *Cache {
	return &Cache{
		query: func() (*Inventory, error) {
			return queryInventory(shell, plat, timeout)
		},
	}
}

// NewCacheWithQuery returns a cache backed by a custom query function.
func NewCacheWithQuery(query func() (*Inventory, error)) *Cache {
	return &Cache{query: query}
}

// Read returns the memoized inventory, computing it on first call.
// A failed query is not memoized; the next Read tries again.
func (c *Cache) Read() (*Inventory, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inventory != nil {
		return c.inventory, nil
	}

	inv, err := c.query()
	if err != nil {
		return nil, err
	}
	c.inventory = inv
	return inv, nil
}

// Invalidate discards the memoized inventory. The next Read recomputes
// from scratch.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inventory != nil {
		logging.Debug("Invalidating Windows feature inventory cache")
	}
	c.inventory = nil
}
