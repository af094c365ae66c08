// Package store holds the tracker's per-swarm peer state: the in-memory
// peer store (C3) and its periodic maintenance pass (C4).
package store

import (
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// Endpoint is a peer's identity within a swarm: its IPv4 address and
// announced port. Two peers with the same endpoint are the same peer,
// regardless of what PeerID they present (invariant P1).
type Endpoint struct {
	IP   [4]byte
	Port uint16
}

// InfoHash is a swarm's 20-byte identifier.
type InfoHash [20]byte

// String renders the hash as 40 lowercase hex characters.
func (h InfoHash) String() string { return hex.EncodeToString(h[:]) }

// ParseInfoHash decodes exactly 40 hex characters into an InfoHash.
func ParseInfoHash(s string) (InfoHash, error) {
	var h InfoHash
	if len(s) != 40 {
		return h, fmt.Errorf("store: info_hash must be 40 hex chars, got %d", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("store: info_hash is not valid hex: %w", err)
	}
	copy(h[:], b)
	return h, nil
}

// Event is the announce event a peer reports.
type Event uint32

const (
	EventNone      Event = 0
	EventCompleted Event = 1
	EventStarted   Event = 2
	EventStopped   Event = 3
)

// NormalizeEvent folds an unrecognized wire value to EventNone.
func NormalizeEvent(raw uint32) Event {
	switch Event(raw) {
	case EventCompleted, EventStarted, EventStopped:
		return Event(raw)
	default:
		return EventNone
	}
}

// PeerRecord is one peer's state inside a single swarm.
type PeerRecord struct {
	Endpoint   Endpoint
	PeerID     [20]byte
	Uploaded   uint64
	Downloaded uint64
	Left       uint64
	LastSeen   time.Time

	// completedReported guards P4: completed increments once per peer,
	// the first time it reports EventCompleted, never again.
	completedReported bool
}

// IsSeeder reports whether the peer has nothing left to download.
func (p *PeerRecord) IsSeeder() bool { return p.Left == 0 }

// SwarmState is the authoritative state for one info-hash: its peers and
// the aggregates derived from them.
type SwarmState struct {
	mu sync.RWMutex

	peers map[Endpoint]*PeerRecord

	seeders   uint32
	leechers  uint32
	completed uint32

	// static marks a swarm materialized via AddTorrent (control interface
	// or static-mode config). Static swarms are never dropped by
	// maintenance, only by an explicit RemoveTorrent.
	static bool

	lastModified time.Time
}

func newSwarmState(static bool, now time.Time) *SwarmState {
	return &SwarmState{
		peers:        make(map[Endpoint]*PeerRecord),
		static:       static,
		lastModified: now,
	}
}
