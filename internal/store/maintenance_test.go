package store

import (
	"context"
	"testing"
	"time"
)

func TestSweep_EvictsStalePeers(t *testing.T) {
	s := New(true, nil)
	h := InfoHash{1}
	e := ep(1, 1, 1, 1, 1)

	if err := s.UpdatePeer(h, [20]byte{}, e, 0, 1, 0, EventStarted); err != nil {
		t.Fatal(err)
	}

	s.mu.RLock()
	swarm := s.swarms[h]
	s.mu.RUnlock()
	swarm.mu.Lock()
	swarm.peers[e].LastSeen = time.Now().Add(-3 * time.Hour)
	swarm.mu.Unlock()

	m := NewMaintainer(s, time.Hour, time.Minute)
	m.Sweep(context.Background())

	if len(s.GetPeers(h, 10, Endpoint{})) != 0 {
		t.Error("expected stale peer to be evicted")
	}
	seeders, leechers, _ := s.GetStats(h)
	if seeders != 0 || leechers != 0 {
		t.Errorf("aggregates after eviction = %d/%d, want 0/0", seeders, leechers)
	}
}

func TestSweep_DropsEmptyDynamicSwarmPastHorizon(t *testing.T) {
	s := New(true, nil)
	h := InfoHash{1}
	e := ep(1, 1, 1, 1, 1)

	if err := s.UpdatePeer(h, [20]byte{}, e, 0, 1, 0, EventStarted); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdatePeer(h, [20]byte{}, e, 0, 1, 0, EventStopped); err != nil {
		t.Fatal(err)
	}

	s.mu.Lock()
	s.swarms[h].lastModified = time.Now().Add(-3 * time.Hour)
	s.mu.Unlock()

	m := NewMaintainer(s, time.Hour, time.Minute)
	m.Sweep(context.Background())

	s.mu.RLock()
	_, ok := s.swarms[h]
	s.mu.RUnlock()
	if ok {
		t.Error("expected empty dynamic swarm past the horizon to be dropped")
	}
}

func TestSweep_NeverDropsStaticSwarm(t *testing.T) {
	s := New(false, nil)
	h := InfoHash{1}
	if err := s.AddTorrent(h); err != nil {
		t.Fatal(err)
	}

	s.mu.Lock()
	s.swarms[h].lastModified = time.Now().Add(-24 * time.Hour)
	s.mu.Unlock()

	m := NewMaintainer(s, time.Hour, time.Minute)
	m.Sweep(context.Background())

	if !s.IsAllowed(h) {
		t.Error("static swarm must survive maintenance regardless of age")
	}
}

func TestRun_ExitsOnContextCancel(t *testing.T) {
	s := New(true, nil)
	m := NewMaintainer(s, time.Hour, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after context cancellation")
	}
}
