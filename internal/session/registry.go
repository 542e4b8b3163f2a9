package session

import (
	"golang.org/x/sync/singleflight"

	"rolechat/internal/chat"
)

// liveCache maps an active session id to its constructed chat service.
// It carries no lock of its own: except for the singleflight group,
// every method runs inside the UserService exclusion domain.
//
// Generations detect invalidation that races with construction: a
// builder records the generation before its unlocked slow path and
// only inserts if the generation is unchanged, so a service built from
// stale Session Info is never cached.
type liveCache struct {
	group singleflight.Group
	live  map[string]chat.Service
	gen   map[string]uint64
}

func newLiveCache() *liveCache {
	return &liveCache{
		live: make(map[string]chat.Service),
		gen:  make(map[string]uint64),
	}
}

func (c *liveCache) get(sessionID string) (chat.Service, bool) {
	svc, ok := c.live[sessionID]
	return svc, ok
}

func (c *liveCache) generation(sessionID string) uint64 {
	return c.gen[sessionID]
}

// put caches svc unless the session was invalidated since gen was
// observed. Reports whether the insert happened.
func (c *liveCache) put(sessionID string, gen uint64, svc chat.Service) bool {
	if c.gen[sessionID] != gen {
		return false
	}
	c.live[sessionID] = svc
	return true
}

// invalidate evicts any cached service and bumps the generation.
// Idempotent; safe when nothing is cached.
func (c *liveCache) invalidate(sessionID string) {
	delete(c.live, sessionID)
	c.gen[sessionID]++
}
