package store

import "time"

// TorrentRow is the persisted shape of one swarm, for Backend.ListTorrents.
type TorrentRow struct {
	InfoHash  InfoHash
	Static    bool
	Seeders   uint32
	Leechers  uint32
	Completed uint32
	UpdatedAt time.Time
}

// Backend is the write-through persistence contract the store drives on a
// best-effort basis. A nil Backend (the default) means the tracker runs
// purely in memory. Backend methods must not block the hot path for long;
// the store logs and carries on if one fails.
type Backend interface {
	// UpsertTorrent records that h exists, and whether it was registered
	// statically (control interface / static allow-list) or materialized
	// by a dynamic-mode announce.
	UpsertTorrent(h InfoHash, static bool) error

	// DeleteTorrent removes any persisted row for h.
	DeleteTorrent(h InfoHash) error

	// UpsertStats records h's current aggregate counters.
	UpsertStats(h InfoHash, seeders, leechers, completed uint32) error

	// ListTorrents returns every persisted swarm, for startup repopulation
	// or external inspection. The in-memory store is always the source of
	// truth while running; this is a secondary read path.
	ListTorrents() ([]TorrentRow, error)
}
