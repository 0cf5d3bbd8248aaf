// Package cache implements the unified decision cache of spec.md §4.3 on
// top of github.com/patrickmn/go-cache, adopted from the dependency list
// of officialpriyam-Propel-Wings in the example pack for exactly this
// in-memory TTL-map concern.
package cache

import (
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Granularity selects how narrowly a cache entry is scoped.
type Granularity string

const (
	GranularityIP     Granularity = "Ip"
	GranularityIPHost Granularity = "IpHost"
)

// Kind distinguishes a route decision cache entry from a MOTD one; the two
// namespaces never collide even for the same (ip[,host]) key.
type Kind string

const (
	KindRoute Kind = "route"
	KindMotd  Kind = "motd"
)

// Entry is the cached value: either a concrete decision payload or a
// rejection with its reason.
type Entry struct {
	Reject       bool
	RejectReason string
	Payload      any // the RouteDecision/MotdDecision forward payload
}

// Cache wraps a go-cache instance keyed by "kind|granularity|ip[|host]".
type Cache struct {
	c *gocache.Cache
}

// New creates a Cache. cleanupInterval drives go-cache's background sweep;
// passing 0 disables the automatic sweep and relies solely on lazy eviction
// plus explicit Sweep calls, per spec.md §4.3 ("a periodic full sweep is
// optional").
func New(cleanupInterval time.Duration) *Cache {
	return &Cache{c: gocache.New(gocache.NoExpiration, cleanupInterval)}
}

func key(kind Kind, gran Granularity, ip, host string) string {
	var b strings.Builder
	b.WriteString(string(kind))
	b.WriteByte('|')
	b.WriteString(string(gran))
	b.WriteByte('|')
	b.WriteString(ip)
	if gran == GranularityIPHost {
		b.WriteByte('|')
		b.WriteString(strings.ToLower(host))
	}
	return b.String()
}

// Lookup finds a non-expired entry for (kind, ip[, host]), trying the
// IP+host scope first (more specific) and falling back to the IP-only
// scope.
func (c *Cache) Lookup(kind Kind, ip, host string) (Entry, bool) {
	if host != "" {
		if v, ok := c.c.Get(key(kind, GranularityIPHost, ip, host)); ok {
			return v.(Entry), true
		}
	}
	if v, ok := c.c.Get(key(kind, GranularityIP, ip, "")); ok {
		return v.(Entry), true
	}
	return Entry{}, false
}

// Store inserts an entry for (kind, granularity, ip[, host]) with the given
// TTL.
func (c *Cache) Store(kind Kind, gran Granularity, ip, host string, ttl time.Duration, e Entry) {
	c.c.Set(key(kind, gran, ip, host), e, ttl)
}

// Stats is the §4.3 {total_entries, expired_entries} snapshot.
type Stats struct {
	TotalEntries   int
	ExpiredEntries int
}

// Snapshot reports current cache statistics without mutating anything.
func (c *Cache) Snapshot() Stats {
	// ItemCount includes expired-but-unswept entries; Items returns only the
	// unexpired ones, so the difference is the expired count.
	total := c.c.ItemCount()
	expired := total - len(c.c.Items())
	if expired < 0 {
		expired = 0
	}
	return Stats{TotalEntries: total, ExpiredEntries: expired}
}

// Sweep forces an explicit removal of all expired entries.
func (c *Cache) Sweep() {
	c.c.DeleteExpired()
}
