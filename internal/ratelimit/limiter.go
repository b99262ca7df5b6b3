// Package ratelimit throttles inbound traffic at two layers: a connection
// admission limiter keyed by source address, and per-connection event
// limiters split by event class, per spec §4.1 and §6.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Defaults per spec's configuration table.
const (
	DefaultDocumentEventsPerSecond = 30
	DefaultGeneralEventsPerSecond  = 50
	DefaultConnectionsPerMinute    = 10
)

// ConnectionLimiter gates new connection attempts per source address using a
// token bucket per address, grounded on the same local-fallback pattern the
// pack's tenant-aware middleware uses when its shared backend is unavailable.
type ConnectionLimiter struct {
	mu       sync.Mutex
	perMin   float64
	burst    int
	limiters map[string]*rate.Limiter
}

// NewConnectionLimiter builds a limiter admitting perMinute connection
// attempts per address, refilled continuously.
func NewConnectionLimiter(perMinute int) *ConnectionLimiter {
	return &ConnectionLimiter{
		perMin:   float64(perMinute),
		burst:    perMinute,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether addr may open a new connection right now.
func (c *ConnectionLimiter) Allow(addr string) bool {
	c.mu.Lock()
	l, ok := c.limiters[addr]
	if !ok {
		l = rate.NewLimiter(rate.Limit(c.perMin/60.0), c.burst)
		c.limiters[addr] = l
	}
	c.mu.Unlock()
	return l.Allow()
}

// Sweep drops limiters whose bucket has refilled to full, bounding the map's
// memory for addresses that never reconnect.
func (c *ConnectionLimiter) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for addr, l := range c.limiters {
		if l.Tokens() >= float64(c.burst) {
			delete(c.limiters, addr)
		}
	}
}

// EventClass distinguishes the two per-connection throttling tiers the spec
// names: document-mutating events and everything else.
type EventClass int

const (
	ClassDocument EventClass = iota
	ClassGeneral
)

// ConnectionEvents is the pair of token buckets attached to one live
// connection: a tight bucket for document-mutating events (send-changes,
// save-document) and a looser bucket for all other inbound events.
type ConnectionEvents struct {
	document *rate.Limiter
	general  *rate.Limiter
}

// NewConnectionEvents builds the dual-tier limiter for one connection using
// the spec's defaults, each limiter bursting to one second's worth of
// events.
func NewConnectionEvents() *ConnectionEvents {
	return &ConnectionEvents{
		document: rate.NewLimiter(rate.Limit(DefaultDocumentEventsPerSecond), DefaultDocumentEventsPerSecond),
		general:  rate.NewLimiter(rate.Limit(DefaultGeneralEventsPerSecond), DefaultGeneralEventsPerSecond),
	}
}

// Allow reports whether an event of the given class may proceed, consuming a
// token from its tier's bucket if so.
func (c *ConnectionEvents) Allow(class EventClass) bool {
	switch class {
	case ClassDocument:
		return c.document.Allow()
	default:
		return c.general.Allow()
	}
}
