package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/bitswarm-labs/udptracker/internal/api"
	"github.com/bitswarm-labs/udptracker/internal/config"
	"github.com/bitswarm-labs/udptracker/internal/connid"
	"github.com/bitswarm-labs/udptracker/internal/dispatch"
	"github.com/bitswarm-labs/udptracker/internal/logx"
	"github.com/bitswarm-labs/udptracker/internal/server"
	"github.com/bitswarm-labs/udptracker/internal/store"
)

var version = "dev"

func main() {
	fs := flag.NewFlagSet("udptracker", flag.ExitOnError)
	configPath := fs.String("c", "", "config file path")
	validateOnly := fs.Bool("t", false, "validate config and exit")
	foreground := fs.Bool("i", false, "run in the foreground")
	fs.Bool("h", false, "usage")
	fs.Bool("all-help", false, "usage")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "\nudptracker %s: BEP-15 UDP BitTorrent tracker\n\n", version)
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[1:])

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "udptracker: config error: %v\n", err)
		os.Exit(1)
	}

	if *validateOnly {
		fmt.Println("config OK")
		os.Exit(0)
	}

	_ = *foreground // daemonization is out of scope; the process always runs foreground

	configureLogging(cfg)

	tr, err := newTracker(cfg)
	if err != nil {
		logx.Error("udptracker: fatal startup error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := tr.run(ctx); err != nil {
		logx.Error("udptracker: exiting with error", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.New(), nil
	}
	return config.Load(path)
}

func configureLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.String("logging.level", "warn"))
	if err != nil {
		level = zerolog.WarnLevel
	}

	filename := cfg.String("logging.filename", "")
	if filename == "" {
		logx.Configure(os.Stderr, level)
		return
	}

	f, err := os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		logx.Configure(os.Stderr, level)
		logx.Warn("udptracker: could not open log file, falling back to stderr", "path", filename, "err", err.Error())
		return
	}
	logx.Configure(f, level)
}

// tracker wires every component together: the store, its maintenance loop,
// the UDP dispatcher, and the optional admin HTTP server.
type tracker struct {
	store      *store.Store
	maintainer *store.Maintainer
	udpServer  *server.Server
	apiServer  *api.Server
	apiAddr    string
}

func newTracker(cfg *config.Config) (*tracker, error) {
	var backend store.Backend
	if dbParam := cfg.String("db.param", "/var/lib/udpt.db"); dbParam != "" && dbParam != ":memory:" {
		b, err := store.OpenSQLBackend(dbParam)
		if err != nil {
			return nil, fmt.Errorf("opening persistence backend: %w", err)
		}
		backend = b
	}

	dynamic := cfg.Bool("tracker.is_dynamic", true)
	s := store.New(dynamic, backend)
	if err := s.Restore(); err != nil {
		return nil, fmt.Errorf("restoring persisted torrents: %w", err)
	}

	secret, err := trackerSecret(cfg)
	if err != nil {
		return nil, err
	}
	oracle := connid.New(secret, int64(cfg.Int("tracker.conn_id_bucket_seconds", connid.DefaultBucketSeconds)))

	handler := &dispatch.Handler{
		Store:            s,
		ConnID:           oracle,
		AllowRemotes:     cfg.Bool("tracker.allow_remotes", true),
		AllowIANAIPs:     cfg.Bool("tracker.allow_iana_ips", false),
		AnnounceInterval: cfg.Duration("tracker.announce_interval", dispatch.DefaultAnnounceInterval),
		PeerCap:          cfg.Int("tracker.peer_cap", dispatch.DefaultPeerCap),
	}

	port := cfg.Int("tracker.port", 6969)
	udpSrv := server.New(handler, fmt.Sprintf("0.0.0.0:%d", port), cfg.Int("tracker.threads", server.DefaultThreads))

	maintainer := store.NewMaintainer(s,
		cfg.Duration("tracker.eviction_horizon", store.DefaultEvictionHorizon),
		cfg.Duration("tracker.cleanup_interval", store.DefaultCleanupInterval))

	t := &tracker{store: s, maintainer: maintainer, udpServer: udpSrv}

	if cfg.Bool("apiserver.enable", false) {
		t.apiServer = api.New(s)
		t.apiAddr = fmt.Sprintf("%s:%d", cfg.String("apiserver.iface", "127.0.0.1"), cfg.Int("apiserver.port", 6969))
	}

	return t, nil
}

func trackerSecret(cfg *config.Config) ([32]byte, error) {
	if passphrase := cfg.String("tracker.secret", ""); passphrase != "" {
		return connid.DeriveSecret(passphrase), nil
	}
	var secret [32]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return secret, fmt.Errorf("generating connection-id secret: %w", err)
	}
	return secret, nil
}

func (t *tracker) run(ctx context.Context) error {
	logx.Info("udptracker: starting", "version", version)

	go t.maintainer.Run(ctx)

	var wg sync.WaitGroup
	var firstErr error
	var mu sync.Mutex
	record := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		record(t.udpServer.Run(ctx))
	}()

	if t.apiServer != nil {
		httpSrv := &httpServerAdapter{addr: t.apiAddr, handler: t.apiServer.Handler()}
		wg.Add(1)
		go func() {
			defer wg.Done()
			record(httpSrv.run(ctx))
		}()
	}

	wg.Wait()
	return firstErr
}
