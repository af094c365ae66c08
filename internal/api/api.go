// Package api implements the control interface (C7): a small HTTP admin
// surface that adds and removes allowed info-hashes, and serves the static
// bodies a misdirected HTTP-tracker client would hit.
package api

import (
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackpal/bencode-go"

	"github.com/bitswarm-labs/udptracker/internal/logx"
	"github.com/bitswarm-labs/udptracker/internal/store"
)

// announceFailureBody is the bencoded message told to any client that
// mistakes this tracker for an HTTP one.
const announceFailureReason = "udpt: This is a udp tracker, not HTTP(s)."

// Server wraps a gin engine bound to Store's control operations.
type Server struct {
	Store  *store.Store
	engine *gin.Engine
}

// New builds the admin HTTP server. Call Handler to get the http.Handler
// to pass to an http.Server, or Router for direct access in tests.
func New(s *store.Store) *Server {
	srv := &Server{Store: s}
	srv.engine = gin.New()
	srv.engine.Use(gin.Recovery())
	srv.routes()
	return srv
}

// Handler returns the http.Handler serving every route.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() {
	s.engine.GET("/", s.handleBanner)
	s.engine.GET("/announce", s.handleAnnounceMisdirect)
	s.engine.POST("/api/torrents", s.loopbackOnly(s.handleAddTorrent))
	s.engine.DELETE("/api/torrents", s.loopbackOnly(s.handleRemoveTorrent))
}

func (s *Server) handleBanner(c *gin.Context) {
	c.String(http.StatusOK, "udptracker: BEP-15 UDP tracker, no HTTP announce support")
}

// handleAnnounceMisdirect answers a GET /announce the way the wire tracker
// would expect an HTTP-flavor client to be told off: a bencoded failure
// reason, per spec.md §4.7.
func (s *Server) handleAnnounceMisdirect(c *gin.Context) {
	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/plain")
	if err := bencode.Marshal(c.Writer, map[string]string{"failure reason": announceFailureReason}); err != nil {
		logx.Warn("api: failed to write announce misdirect body", "err", err.Error())
	}
}

// loopbackOnly gates a handler to requests whose remote address is
// loopback, per spec.md §4.7's mutating-endpoint authorization rule.
func (s *Server) loopbackOnly(next gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
		if err != nil {
			host = c.Request.RemoteAddr
		}
		if ip := net.ParseIP(host); ip == nil || !ip.IsLoopback() {
			c.JSON(http.StatusForbidden, gin.H{"error": "only loopback callers may mutate torrents"})
			c.Abort()
			return
		}
		next(c)
	}
}

func parseInfoHashParam(c *gin.Context) (store.InfoHash, bool) {
	raw := c.Query("info_hash")
	h, err := store.ParseInfoHash(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return store.InfoHash{}, false
	}
	return h, true
}

func (s *Server) handleAddTorrent(c *gin.Context) {
	h, ok := parseInfoHashParam(c)
	if !ok {
		return
	}
	if err := s.Store.AddTorrent(h); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "dynamic": s.Store.IsDynamic()})
}

func (s *Server) handleRemoveTorrent(c *gin.Context) {
	h, ok := parseInfoHashParam(c)
	if !ok {
		return
	}
	if err := s.Store.RemoveTorrent(h); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "dynamic": s.Store.IsDynamic()})
}
