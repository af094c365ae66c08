package store

import (
	"errors"
	"sync"
	"time"

	"github.com/bitswarm-labs/udptracker/internal/logx"
)

// ErrNotAllowed is returned by UpdatePeer when the store is in static mode
// and the info-hash is not in AllowedSet.
var ErrNotAllowed = errors.New("store: info_hash not registered")

// Store holds every known swarm. Dynamic is fixed at construction: in
// dynamic mode any info-hash is accepted and swarms are materialized on
// first announce; in static mode only info-hashes added via AddTorrent are
// accepted.
type Store struct {
	mu      sync.RWMutex
	swarms  map[InfoHash]*SwarmState
	dynamic bool
	backend Backend
}

// New constructs an empty Store. backend may be nil to run purely in
// memory.
func New(dynamic bool, backend Backend) *Store {
	return &Store{
		swarms:  make(map[InfoHash]*SwarmState),
		dynamic: dynamic,
		backend: backend,
	}
}

// IsDynamic reports the store's admission mode, used by the control
// interface to report it back to callers.
func (s *Store) IsDynamic() bool { return s.dynamic }

// AddTorrent idempotently registers h as allowed. In dynamic mode this is
// implied by the first UpdatePeer; calling it explicitly still materializes
// an empty, static swarm that survives an empty-swarm maintenance sweep.
func (s *Store) AddTorrent(h InfoHash) error {
	now := time.Now()

	s.mu.Lock()
	swarm, ok := s.swarms[h]
	if !ok {
		swarm = newSwarmState(true, now)
		s.swarms[h] = swarm
	} else {
		swarm.mu.Lock()
		swarm.static = true
		swarm.mu.Unlock()
	}
	s.mu.Unlock()

	if s.backend != nil {
		if err := s.backend.UpsertTorrent(h, true); err != nil {
			logx.Error("store: backend upsert torrent failed", err, "info_hash", h.String())
		}
	}
	return nil
}

// Restore repopulates the in-memory swarm map from the backend's persisted
// rows, for startup after a restart. Peers are never persisted, so restored
// swarms start empty; their aggregate counters are seeded from the last
// write so GetStats/scrape reporting doesn't zero out until the next
// announce. A nil backend makes this a no-op.
func (s *Store) Restore() error {
	if s.backend == nil {
		return nil
	}
	rows, err := s.backend.ListTorrents()
	if err != nil {
		return err
	}

	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		swarm := newSwarmState(row.Static, now)
		swarm.seeders = row.Seeders
		swarm.leechers = row.Leechers
		swarm.completed = row.Completed
		s.swarms[row.InfoHash] = swarm
	}
	return nil
}

// RemoveTorrent destroys a swarm and all its peers atomically.
func (s *Store) RemoveTorrent(h InfoHash) error {
	s.mu.Lock()
	delete(s.swarms, h)
	s.mu.Unlock()

	if s.backend != nil {
		if err := s.backend.DeleteTorrent(h); err != nil {
			logx.Error("store: backend delete torrent failed", err, "info_hash", h.String())
		}
	}
	return nil
}

// IsAllowed reports whether h may be announced to: always true in dynamic
// mode, membership in AllowedSet (i.e. a materialized swarm) otherwise.
func (s *Store) IsAllowed(h InfoHash) bool {
	if s.dynamic {
		return true
	}
	s.mu.RLock()
	_, ok := s.swarms[h]
	s.mu.RUnlock()
	return ok
}

func (s *Store) getOrCreateSwarm(h InfoHash, now time.Time) (*SwarmState, error) {
	s.mu.RLock()
	swarm, ok := s.swarms[h]
	s.mu.RUnlock()
	if ok {
		return swarm, nil
	}

	if !s.dynamic {
		return nil, ErrNotAllowed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if swarm, ok = s.swarms[h]; ok {
		return swarm, nil
	}
	swarm = newSwarmState(false, now)
	s.swarms[h] = swarm
	return swarm, nil
}

// UpdatePeer upserts or removes a peer within swarm h per P1 (keyed by
// endpoint, not peer id), and applies the event's effect on the completed
// counter and aggregates. Returns ErrNotAllowed in static mode for an
// unregistered hash.
func (s *Store) UpdatePeer(h InfoHash, peerID [20]byte, ep Endpoint, downloaded, left, uploaded uint64, event Event) error {
	now := time.Now()
	swarm, err := s.getOrCreateSwarm(h, now)
	if err != nil {
		return err
	}

	swarm.mu.Lock()
	if event == EventStopped {
		if existing, ok := swarm.peers[ep]; ok {
			if existing.IsSeeder() {
				swarm.seeders--
			} else {
				swarm.leechers--
			}
			delete(swarm.peers, ep)
		}
	} else {
		existing, had := swarm.peers[ep]
		if had {
			if existing.IsSeeder() {
				swarm.seeders--
			} else {
				swarm.leechers--
			}
		} else {
			existing = &PeerRecord{Endpoint: ep}
			swarm.peers[ep] = existing
		}

		existing.PeerID = peerID
		existing.Downloaded = downloaded
		existing.Left = left
		existing.Uploaded = uploaded
		existing.LastSeen = now

		if existing.IsSeeder() {
			swarm.seeders++
		} else {
			swarm.leechers++
		}

		if event == EventCompleted && !existing.completedReported {
			existing.completedReported = true
			swarm.completed++
		}
	}
	swarm.lastModified = now
	seeders, leechers, completed := swarm.seeders, swarm.leechers, swarm.completed
	swarm.mu.Unlock()

	if s.backend != nil {
		if err := s.backend.UpsertStats(h, seeders, leechers, completed); err != nil {
			logx.Error("store: backend upsert stats failed", err, "info_hash", h.String())
		}
	}
	return nil
}

// GetPeers returns up to max endpoints from swarm h, excluding exclude (the
// requesting peer, per the spec's recommended self-exclusion policy). The
// subset returned is stable for the duration of this call but unspecified
// across calls.
func (s *Store) GetPeers(h InfoHash, max int, exclude Endpoint) []Endpoint {
	s.mu.RLock()
	swarm, ok := s.swarms[h]
	s.mu.RUnlock()
	if !ok || max <= 0 {
		return nil
	}

	swarm.mu.RLock()
	defer swarm.mu.RUnlock()

	out := make([]Endpoint, 0, min(max, len(swarm.peers)))
	for ep := range swarm.peers {
		if ep == exclude {
			continue
		}
		out = append(out, ep)
		if len(out) == max {
			break
		}
	}
	return out
}

// GetStats returns h's aggregate counters, zero-filled if h is unknown.
func (s *Store) GetStats(h InfoHash) (seeders, leechers, completed uint32) {
	s.mu.RLock()
	swarm, ok := s.swarms[h]
	s.mu.RUnlock()
	if !ok {
		return 0, 0, 0
	}
	swarm.mu.RLock()
	defer swarm.mu.RUnlock()
	return swarm.seeders, swarm.leechers, swarm.completed
}
