package erp

import (
	"container/list"
	"net/http"
	"sync"

	"github.com/gregjones/httpcache"
)

// DefaultCacheEntries bounds how many detail responses the default transport keeps.
const DefaultCacheEntries = 4096

// revalidatingTransport sends detail GETs through an ETag cache and everything
// else straight to next. Cached detail responses are always revalidated with
// the ERP, so a changed record is never answered from memory.
type revalidatingTransport struct {
	cache  *boundedCache
	cached http.RoundTripper
	next   http.RoundTripper
}

func newRevalidatingTransport(next http.RoundTripper, entries int) *revalidatingTransport {
	cache := newBoundedCache(entries)
	ct := httpcache.NewTransport(cache)
	ct.Transport = next
	return &revalidatingTransport{cache: cache, cached: ct, next: next}
}

func (t *revalidatingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// List requests carry a moving modification window; caching them only grows the map.
	if req.Method != http.MethodGet || req.URL.RawQuery != "" {
		return t.next.RoundTrip(req)
	}

	out := req.Clone(req.Context())
	out.Header.Set("Cache-Control", "max-age=0")
	return t.cached.RoundTrip(out)
}

// boundedCache is an httpcache.Cache that evicts the least recently used
// entry once it holds limit entries.
type boundedCache struct {
	mu    sync.Mutex
	limit int
	order *list.List
	items map[string]*list.Element
}

type cacheEntry struct {
	key  string
	resp []byte
}

var _ httpcache.Cache = (*boundedCache)(nil)

func newBoundedCache(limit int) *boundedCache {
	if limit <= 0 {
		limit = DefaultCacheEntries
	}
	return &boundedCache{
		limit: limit,
		order: list.New(),
		items: make(map[string]*list.Element),
	}
}

func (c *boundedCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).resp, true
}

func (c *boundedCache) Set(key string, resp []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*cacheEntry).resp = resp
		c.order.MoveToFront(el)
		return
	}

	c.items[key] = c.order.PushFront(&cacheEntry{key: key, resp: resp})
	for c.order.Len() > c.limit {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
}

func (c *boundedCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.order.Remove(el)
		delete(c.items, key)
	}
}

// Len returns the number of cached responses.
func (c *boundedCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
