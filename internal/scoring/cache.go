package scoring

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/expr-lang/expr/vm"
)

// Cache is a bounded in-memory cache of compiled scoring programs keyed by a
// hash of the expression source. Compile errors are never cached.
type Cache struct {
	mu    sync.RWMutex
	max   int
	items map[string]*vm.Program
}

func NewCache(max int) *Cache {
	if max <= 0 {
		max = 1
	}
	return &Cache{
		max:   max,
		items: make(map[string]*vm.Program, max),
	}
}

func (c *Cache) GetOrCompile(src string, fn func() (*vm.Program, error)) (*vm.Program, error) {
	key := hash(src)

	c.mu.RLock()
	if p, ok := c.items[key]; ok {
		c.mu.RUnlock()
		return p, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.items[key]; ok {
		return p, nil
	}

	p, err := fn()
	if err != nil {
		return nil, err
	}

	if len(c.items) < c.max {
		c.items[key] = p
	}

	return p, nil
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
