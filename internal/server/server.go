// Package server implements the datagram I/O component (C6): it binds a
// UDP4 socket and runs a bounded pool of workers that call into the
// request dispatcher for each datagram received.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/joaovictorsl/gorkpool"

	"github.com/bitswarm-labs/udptracker/internal/dispatch"
	"github.com/bitswarm-labs/udptracker/internal/logx"
)

// DefaultThreads is the worker count absent a tracker.threads override.
const DefaultThreads = 5

// receiveTimeout bounds each recvfrom so the read loop notices shutdown
// promptly even with no traffic.
const receiveTimeout = 2 * time.Second

// shutdownDrainTimeout bounds how long Run waits for in-flight handlers to
// finish once the socket has been closed.
const shutdownDrainTimeout = 30 * time.Second

type datagramTask struct {
	buf  *[]byte
	n    int
	addr *net.UDPAddr
}

// Server owns the UDP socket and the worker pool that answers it.
type Server struct {
	Handler *dispatch.Handler
	Addr    string // "host:port"
	Threads int

	conn *net.UDPConn
	wg   sync.WaitGroup
}

// New builds a Server bound to addr once Run is called, dispatching every
// datagram to handler through n worker goroutines (n <= 0 uses
// DefaultThreads).
func New(handler *dispatch.Handler, addr string, threads int) *Server {
	if threads <= 0 {
		threads = DefaultThreads
	}
	return &Server{Handler: handler, Addr: addr, Threads: threads}
}

// Run binds the socket and blocks until ctx is cancelled, then drains
// in-flight handlers (bounded by shutdownDrainTimeout) before returning.
func (s *Server) Run(ctx context.Context) error {
	udpAddr, err := net.ResolveUDPAddr("udp4", s.Addr)
	if err != nil {
		return fmt.Errorf("server: resolve %s: %w", s.Addr, err)
	}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.Addr, err)
	}
	s.conn = conn
	logx.Info("server: listening", "addr", conn.LocalAddr().String())

	pool := gorkpool.NewBoundedGorkPool(ctx, s.Threads, func(taskCh chan datagramTask) gorkpool.BoundedGorkWorker[datagramTask] {
		return &datagramWorker{handler: s.Handler, conn: conn, wg: &s.wg, taskCh: taskCh}
	})

	go s.recvLoop(ctx, conn, pool)

	<-ctx.Done()
	logx.Info("server: shutting down")
	if err := conn.Close(); err != nil {
		logx.Warn("server: error closing socket", "err", err.Error())
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logx.Info("server: shutdown complete")
		return nil
	case <-time.After(shutdownDrainTimeout):
		logx.Warn("server: forcing shutdown, handlers still in flight")
		return fmt.Errorf("server: shutdown timed out waiting for in-flight handlers")
	}
}

func (s *Server) recvLoop(ctx context.Context, conn *net.UDPConn, pool *gorkpool.BoundedGorkPool[datagramTask]) {
	for {
		if ctx.Err() != nil {
			return
		}

		bufPtr := getBuffer()
		conn.SetReadDeadline(time.Now().Add(receiveTimeout))
		n, addr, err := conn.ReadFromUDP(*bufPtr)
		if err != nil {
			putBuffer(bufPtr)
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return // socket closed for shutdown, drain and exit
			}
			logx.Warn("server: read error", "err", err.Error())
			continue
		}

		s.wg.Add(1)
		pool.AddTask(datagramTask{buf: bufPtr, n: n, addr: addr})
	}
}

type datagramWorker struct {
	taskCh  chan datagramTask
	handler *dispatch.Handler
	conn    *net.UDPConn
	wg      *sync.WaitGroup
}

// Process drains the worker's task channel; gorkpool calls this once per
// worker goroutine.
func (w *datagramWorker) Process() {
	for task := range w.taskCh {
		w.handleOne(task)
	}
}

func (w *datagramWorker) handleOne(task datagramTask) {
	defer w.wg.Done()
	defer putBuffer(task.buf)

	packet := (*task.buf)[:task.n]

	ip4 := task.addr.IP.To4()
	if ip4 == nil {
		return // IPv4 only, per Non-goals
	}
	var srcIP [4]byte
	copy(srcIP[:], ip4)

	respBufPtr := getBuffer()
	defer putBuffer(respBufPtr)

	resp, send := w.handler.Handle(time.Now(), srcIP, uint16(task.addr.Port), packet, *respBufPtr)
	if !send {
		return
	}
	if _, err := w.conn.WriteToUDP(resp, task.addr); err != nil {
		logx.Warn("server: write failed", "err", err.Error())
	}
}
