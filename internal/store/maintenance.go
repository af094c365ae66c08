package store

import (
	"context"
	"time"

	"github.com/bitswarm-labs/udptracker/internal/logx"
)

// DefaultEvictionHorizon is how long a peer may go unseen before a
// maintenance pass evicts it.
const DefaultEvictionHorizon = 2 * time.Hour

// DefaultCleanupInterval is how often Maintainer.Run sweeps the store.
const DefaultCleanupInterval = 120 * time.Second

// Maintainer periodically evicts stale peers, recomputes aggregates, and
// drops empty dynamic-mode swarms. It never touches a static swarm's
// lifecycle; those are removed only by an explicit Store.RemoveTorrent.
type Maintainer struct {
	store            *Store
	evictionHorizon  time.Duration
	cleanupInterval  time.Duration
}

// NewMaintainer builds a Maintainer for s. A zero horizon or interval falls
// back to the package defaults.
func NewMaintainer(s *Store, evictionHorizon, cleanupInterval time.Duration) *Maintainer {
	if evictionHorizon <= 0 {
		evictionHorizon = DefaultEvictionHorizon
	}
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	return &Maintainer{store: s, evictionHorizon: evictionHorizon, cleanupInterval: cleanupInterval}
}

// Run loops on a ticker until ctx is cancelled. A pass already under way
// finishes its current swarm before the loop observes cancellation and
// exits; it is never interrupted mid-swarm.
func (m *Maintainer) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep runs one maintenance pass immediately: evict stale peers, recompute
// aggregates, and drop empty dynamic swarms past the eviction horizon.
func (m *Maintainer) Sweep(ctx context.Context) {
	now := time.Now()

	m.store.mu.Lock()
	hashes := make([]InfoHash, 0, len(m.store.swarms))
	for h := range m.store.swarms {
		hashes = append(hashes, h)
	}
	m.store.mu.Unlock()

	for _, h := range hashes {
		select {
		case <-ctx.Done():
			return
		default:
		}
		m.sweepOne(h, now)
	}
}

func (m *Maintainer) sweepOne(h InfoHash, now time.Time) {
	m.store.mu.Lock()
	swarm, ok := m.store.swarms[h]
	if !ok {
		m.store.mu.Unlock()
		return
	}

	swarm.mu.Lock()
	changed := m.evictStale(swarm, now)
	if changed {
		swarm.lastModified = now
	}
	empty := len(swarm.peers) == 0
	static := swarm.static
	lastModified := swarm.lastModified
	seeders, leechers, completed := swarm.seeders, swarm.leechers, swarm.completed
	swarm.mu.Unlock()

	drop := !static && empty && now.Sub(lastModified) > m.evictionHorizon
	if drop {
		delete(m.store.swarms, h)
	}
	m.store.mu.Unlock()

	if drop {
		logx.Debug("store: dropped empty dynamic swarm", "info_hash", h.String())
		if m.store.backend != nil {
			if err := m.store.backend.DeleteTorrent(h); err != nil {
				logx.Error("store: backend delete on sweep failed", err, "info_hash", h.String())
			}
		}
		return
	}

	if changed && m.store.backend != nil {
		if err := m.store.backend.UpsertStats(h, seeders, leechers, completed); err != nil {
			logx.Error("store: backend upsert stats on sweep failed", err, "info_hash", h.String())
		}
	}
}

// evictStale removes peers older than the eviction horizon and recomputes
// seeders/leechers from the survivors. Caller holds swarm.mu.
func (m *Maintainer) evictStale(swarm *SwarmState, now time.Time) (changed bool) {
	for ep, p := range swarm.peers {
		if now.Sub(p.LastSeen) > m.evictionHorizon {
			delete(swarm.peers, ep)
			changed = true
		}
	}
	if !changed {
		return false
	}

	var seeders, leechers uint32
	for _, p := range swarm.peers {
		if p.IsSeeder() {
			seeders++
		} else {
			leechers++
		}
	}
	swarm.seeders = seeders
	swarm.leechers = leechers
	return true
}
