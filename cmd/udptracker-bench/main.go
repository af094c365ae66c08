// Command udptracker-bench drives a fixed number of simulated peers
// against a running tracker for a fixed duration, each repeating an
// announce/scrape cycle over one connection id, and reports aggregate
// throughput and per-operation latency.
//
// Usage: udptracker-bench -target localhost:6969 -duration 30s -concurrency 100
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bitswarm-labs/udptracker/internal/connid"
	"github.com/bitswarm-labs/udptracker/internal/proto"
)

const responseTimeout = 5 * time.Second

// opStats accumulates count/failure/latency for one kind of request
// without ever sorting a sample slice: running sum and max are enough to
// report avg/max, and that's all a live progress line needs.
type opStats struct {
	ok      atomic.Uint64
	failed  atomic.Uint64
	nanoSum atomic.Int64
	nanoMax atomic.Int64
}

func (o *opStats) record(d time.Duration, err error) {
	if err != nil {
		o.failed.Add(1)
		return
	}
	o.ok.Add(1)
	o.nanoSum.Add(int64(d))
	for {
		cur := o.nanoMax.Load()
		if int64(d) <= cur || o.nanoMax.CompareAndSwap(cur, int64(d)) {
			return
		}
	}
}

func (o *opStats) avg() time.Duration {
	n := o.ok.Load()
	if n == 0 {
		return 0
	}
	return time.Duration(o.nanoSum.Load() / int64(n))
}

func (o *opStats) max() time.Duration { return time.Duration(o.nanoMax.Load()) }

type stats struct {
	connect  opStats
	announce opStats
	scrape   opStats
}

func (s *stats) report(elapsed time.Duration) {
	total := s.connect.ok.Load() + s.announce.ok.Load() + s.scrape.ok.Load()
	failed := s.connect.failed.Load() + s.announce.failed.Load() + s.scrape.failed.Load()
	fmt.Printf("\nelapsed=%s requests=%d failed=%d rps=%.0f\n",
		elapsed.Round(time.Millisecond), total, failed, float64(total)/elapsed.Seconds())
	for name, op := range map[string]*opStats{"connect": &s.connect, "announce": &s.announce, "scrape": &s.scrape} {
		if op.ok.Load() == 0 {
			continue
		}
		fmt.Printf("  %-9s n=%-8d avg=%-10s max=%s\n", name, op.ok.Load(), op.avg(), op.max())
	}
}

type config struct {
	target      string
	duration    time.Duration
	concurrency int
	numWant     int
}

func main() {
	var cfg config
	flag.StringVar(&cfg.target, "target", "localhost:6969", "tracker address (host:port)")
	duration := flag.Duration("duration", 30*time.Second, "benchmark duration")
	flag.IntVar(&cfg.concurrency, "concurrency", 100, "number of simulated peers")
	flag.IntVar(&cfg.numWant, "numwant", 50, "peers requested per announce")
	flag.Parse()
	cfg.duration = *duration

	if cfg.concurrency < 1 {
		log.Fatal("concurrency must be at least 1")
	}

	fmt.Printf("target=%s duration=%s concurrency=%d\n", cfg.target, cfg.duration, cfg.concurrency)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.duration)
	defer cancel()

	var st stats
	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < cfg.concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runPeer(ctx, id, cfg, &st)
		}(i)
	}
	wg.Wait()

	st.report(time.Since(start))
}

// runPeer simulates one BitTorrent client: connect, then repeat
// announce+scrape until ctx is done, refreshing its connection id well
// inside the tracker's two-bucket acceptance window so a long-running
// peer never gets silently dropped for a stale token.
func runPeer(ctx context.Context, id int, cfg config, st *stats) {
	conn, err := net.Dial("udp4", cfg.target)
	if err != nil {
		log.Printf("peer %d: dial: %v", id, err)
		return
	}
	defer conn.Close()
	udpConn := conn.(*net.UDPConn)

	infoHash := syntheticInfoHash(id)
	peerID := syntheticPeerID(id)

	connID, err := doConnect(udpConn, &st.connect)
	if err != nil {
		log.Printf("peer %d: initial connect: %v", id, err)
		return
	}

	refresh := time.NewTicker(connid.DefaultBucketSeconds / 2 * time.Second)
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-refresh.C:
			if newID, err := doConnect(udpConn, &st.connect); err == nil {
				connID = newID
			}
		default:
		}

		if err := doAnnounce(udpConn, connID, infoHash, peerID, cfg.numWant, &st.announce); err != nil {
			continue
		}
		_ = doScrape(udpConn, connID, infoHash, &st.scrape)
	}
}

func doConnect(conn *net.UDPConn, op *opStats) (connID uint64, err error) {
	start := time.Now()
	defer func() { op.record(time.Since(start), err) }()

	txID := uint32(time.Now().UnixNano())
	req := make([]byte, 16)
	binary.BigEndian.PutUint64(req[0:8], proto.ProtocolMagic)
	binary.BigEndian.PutUint32(req[8:12], uint32(proto.ActionConnect))
	binary.BigEndian.PutUint32(req[12:16], txID)

	resp, err := roundTrip(conn, req, 16, uint32(proto.ActionConnect), txID)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(resp[8:16]), nil
}

func doAnnounce(conn *net.UDPConn, connID uint64, infoHash, peerID [20]byte, numWant int, op *opStats) (err error) {
	start := time.Now()
	defer func() { op.record(time.Since(start), err) }()

	txID := uint32(time.Now().UnixNano())
	req := make([]byte, 98)
	binary.BigEndian.PutUint64(req[0:8], connID)
	binary.BigEndian.PutUint32(req[8:12], uint32(proto.ActionAnnounce))
	binary.BigEndian.PutUint32(req[12:16], txID)
	copy(req[16:36], infoHash[:])
	copy(req[36:56], peerID[:])
	binary.BigEndian.PutUint64(req[64:72], 100) // left=100: a leecher
	binary.BigEndian.PutUint32(req[80:84], uint32(proto.EventNone))
	binary.BigEndian.PutUint32(req[92:96], uint32(numWant))
	binary.BigEndian.PutUint16(req[96:98], 6881)

	_, err = roundTrip(conn, req, 2048, uint32(proto.ActionAnnounce), txID)
	return err
}

func doScrape(conn *net.UDPConn, connID uint64, infoHash [20]byte, op *opStats) (err error) {
	start := time.Now()
	defer func() { op.record(time.Since(start), err) }()

	txID := uint32(time.Now().UnixNano())
	req := make([]byte, 36)
	binary.BigEndian.PutUint64(req[0:8], connID)
	binary.BigEndian.PutUint32(req[8:12], uint32(proto.ActionScrape))
	binary.BigEndian.PutUint32(req[12:16], txID)
	copy(req[16:36], infoHash[:])

	_, err = roundTrip(conn, req, 8+proto.PeerEntrySize, uint32(proto.ActionScrape), txID)
	return err
}

// roundTrip writes req, reads up to respCap bytes, and validates the
// response's action and transaction id before returning its bytes.
func roundTrip(conn *net.UDPConn, req []byte, respCap int, wantAction, txID uint32) ([]byte, error) {
	if _, err := conn.Write(req); err != nil {
		return nil, err
	}
	if err := conn.SetReadDeadline(time.Now().Add(responseTimeout)); err != nil {
		return nil, err
	}

	buf := make([]byte, respCap)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, err
	}
	if n < 8 {
		return nil, fmt.Errorf("response too short: %d bytes", n)
	}
	action := binary.BigEndian.Uint32(buf[0:4])
	if action == uint32(proto.ActionError) {
		return nil, fmt.Errorf("tracker returned an error frame")
	}
	if action != wantAction || binary.BigEndian.Uint32(buf[4:8]) != txID {
		return nil, fmt.Errorf("unexpected response")
	}
	return buf[:n], nil
}

func syntheticInfoHash(workerID int) [20]byte {
	var h [20]byte
	binary.BigEndian.PutUint32(h[0:4], uint32(workerID))
	return h
}

func syntheticPeerID(workerID int) [20]byte {
	var id [20]byte
	copy(id[0:8], "-UT1000-")
	binary.BigEndian.PutUint32(id[8:12], uint32(workerID))
	return id
}
