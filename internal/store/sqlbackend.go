package store

import (
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// torrentRow is the persisted row for one swarm.
type torrentRow struct {
	InfoHash  string `gorm:"primaryKey;size:40"`
	Static    bool
	UpdatedAt time.Time
}

// statsRow is the persisted aggregate counters for one swarm, kept as a
// separate table so a stats-only write doesn't touch the torrent row.
type statsRow struct {
	InfoHash  string `gorm:"primaryKey;size:40"`
	Seeders   uint32
	Leechers  uint32
	Completed uint32
	UpdatedAt time.Time
}

// SQLBackend persists torrent and stats rows to a gorm-backed SQLite
// database. It is a write-through companion to the in-memory Store, never
// the source of truth while the process is running.
type SQLBackend struct {
	db *gorm.DB
}

// OpenSQLBackend opens (and migrates) a SQLite database at dsn, e.g. a file
// path or "file::memory:?cache=shared". dsn == ":memory:" callers should
// instead pass nil for Backend; this constructor is only reached when
// db.param names a real file per SPEC_FULL.md §4.3.
func OpenSQLBackend(dsn string) (*SQLBackend, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&torrentRow{}, &statsRow{}); err != nil {
		return nil, err
	}
	return &SQLBackend{db: db}, nil
}

func (b *SQLBackend) UpsertTorrent(h InfoHash, static bool) error {
	row := torrentRow{InfoHash: h.String(), Static: static, UpdatedAt: time.Now()}
	return b.db.Save(&row).Error
}

func (b *SQLBackend) DeleteTorrent(h InfoHash) error {
	key := h.String()
	if err := b.db.Delete(&torrentRow{}, "info_hash = ?", key).Error; err != nil {
		return err
	}
	return b.db.Delete(&statsRow{}, "info_hash = ?", key).Error
}

func (b *SQLBackend) UpsertStats(h InfoHash, seeders, leechers, completed uint32) error {
	row := statsRow{
		InfoHash:  h.String(),
		Seeders:   seeders,
		Leechers:  leechers,
		Completed: completed,
		UpdatedAt: time.Now(),
	}
	return b.db.Save(&row).Error
}

func (b *SQLBackend) ListTorrents() ([]TorrentRow, error) {
	var torrents []torrentRow
	if err := b.db.Find(&torrents).Error; err != nil {
		return nil, err
	}

	stats := make(map[string]statsRow)
	var statRows []statsRow
	if err := b.db.Find(&statRows).Error; err != nil {
		return nil, err
	}
	for _, s := range statRows {
		stats[s.InfoHash] = s
	}

	out := make([]TorrentRow, 0, len(torrents))
	for _, t := range torrents {
		h, err := ParseInfoHash(t.InfoHash)
		if err != nil {
			continue
		}
		s := stats[t.InfoHash]
		out = append(out, TorrentRow{
			InfoHash:  h,
			Static:    t.Static,
			Seeders:   s.Seeders,
			Leechers:  s.Leechers,
			Completed: s.Completed,
			UpdatedAt: t.UpdatedAt,
		})
	}
	return out, nil
}
