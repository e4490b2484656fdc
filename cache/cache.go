// Package cache holds recently finalized scrape results in memory.
//
// Results are keyed by normalized URL plus the extraction rules and the
// rendering options that shape the output, so two requests only share an
// entry when they would have produced the same response. Entries are
// served while younger than the caller's max_age and evicted lazily.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/snaredev/snare/models"
)

type entry struct {
	response  *models.ScrapeResponse
	createdAt time.Time
}

// Cache is an in-memory result cache, safe for concurrent use.
type Cache struct {
	mu         sync.RWMutex
	store      map[string]*entry
	maxEntries int
	done       chan struct{}
}

// New creates a Cache holding at most maxEntries results. A background
// goroutine evicts entries older than 1 hour every 5 minutes; Stop ends it.
func New(maxEntries int) *Cache {
	c := &Cache{
		store:      make(map[string]*entry),
		maxEntries: maxEntries,
		done:       make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Stop terminates the background eviction loop.
func (c *Cache) Stop() {
	close(c.done)
}

// Key derives the cache key for a request. The URL is normalized (scheme
// and host lowercased, default port and fragment stripped) and hashed
// together with the rules and the options that influence the result.
func Key(req *models.ScrapeRequest) string {
	h := sha256.New()
	h.Write([]byte(normalizeURL(req.URL)))
	for _, r := range req.Rules {
		h.Write([]byte("|" + r.Name + "\x00" + r.Selector + "\x00" + r.Type + "\x00" + r.Attribute))
	}
	h.Write([]byte("|render=" + req.Options.Render))
	if req.Options.IncludeContent {
		h.Write([]byte("|content"))
	}
	if wf := req.Options.WaitFor; wf != nil {
		b, _ := json.Marshal(wf)
		h.Write([]byte("|wait="))
		h.Write(b)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if (u.Scheme == "http" && strings.HasSuffix(u.Host, ":80")) ||
		(u.Scheme == "https" && strings.HasSuffix(u.Host, ":443")) {
		u.Host = u.Host[:strings.LastIndex(u.Host, ":")]
	}
	u.Fragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String()
}

// Get returns a cached response younger than maxAgeMs milliseconds.
// maxAgeMs <= 0 disables lookup entirely.
func (c *Cache) Get(key string, maxAgeMs int) (*models.ScrapeResponse, bool) {
	if maxAgeMs <= 0 {
		return nil, false
	}

	c.mu.RLock()
	e, ok := c.store[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if time.Since(e.createdAt) > time.Duration(maxAgeMs)*time.Millisecond {
		return nil, false
	}
	return e.response, true
}

// Set stores a response. At capacity, one arbitrary entry is evicted
// (map iteration order is random in Go).
func (c *Cache) Set(key string, resp *models.ScrapeResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.store) >= c.maxEntries {
		for k := range c.store {
			delete(c.store, k)
			break
		}
	}
	c.store[key] = &entry{response: resp, createdAt: time.Now()}
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}

func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-1 * time.Hour)
			c.mu.Lock()
			for k, e := range c.store {
				if e.createdAt.Before(cutoff) {
					delete(c.store, k)
				}
			}
			c.mu.Unlock()
		}
	}
}
