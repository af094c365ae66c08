// Package dispatch implements the request dispatcher (C5): it classifies
// inbound datagrams, applies the admission policy, drives the connection-id
// oracle and peer store, and produces the response frame (if any).
package dispatch

import (
	"encoding/binary"
	"errors"
	"net"
	"time"

	"github.com/bitswarm-labs/udptracker/internal/connid"
	"github.com/bitswarm-labs/udptracker/internal/logx"
	"github.com/bitswarm-labs/udptracker/internal/proto"
	"github.com/bitswarm-labs/udptracker/internal/store"
)

// DefaultPeerCap is the default ceiling on peers returned per announce.
const DefaultPeerCap = 30

// DefaultAnnounceInterval is the interval advertised to clients, absent a
// tracker.announce_interval override.
const DefaultAnnounceInterval = 1800 * time.Second

// Handler owns everything a single datagram's worker needs to classify,
// authorize, and answer it. It holds no per-request state; callers may
// share one Handler across any number of worker goroutines.
type Handler struct {
	Store            *store.Store
	ConnID           *connid.Oracle
	AllowRemotes     bool
	AllowIANAIPs     bool
	AnnounceInterval time.Duration
	PeerCap          int
}

func (h *Handler) peerCap() int {
	if h.PeerCap > 0 {
		return h.PeerCap
	}
	return DefaultPeerCap
}

func (h *Handler) announceInterval() time.Duration {
	if h.AnnounceInterval > 0 {
		return h.AnnounceInterval
	}
	return DefaultAnnounceInterval
}

// isReservedSource reports whether ip falls into an IANA-special range that
// the admission policy drops by default: loopback, private, or any flavor
// of link-local/multicast. net.IP already exposes exactly this predicate
// set, so this stays on the standard library.
func isReservedSource(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast()
}

// Handle classifies and answers one datagram from (srcIP, srcPort) at time
// now. packet is the raw datagram; respBuf is scratch space the caller owns
// (typically pulled from a pool) that Handle may write the response into
// and return a sub-slice of. It returns the response to send and whether
// one should be sent at all — callers must not send on send == false.
//
// Internally every failure path produces a *Error carrying a Kind; Handle
// is the single place that turns a Kind into either a response frame or a
// silent drop, per the taxonomy in spec.md §7.
func (h *Handler) Handle(now time.Time, srcIP [4]byte, srcPort uint16, packet []byte, respBuf []byte) (resp []byte, send bool) {
	if !h.AllowIANAIPs && isReservedSource(net.IPv4(srcIP[0], srcIP[1], srcIP[2], srcIP[3])) {
		return nil, false
	}

	hdr, hdrErr := proto.DecodeHeader(packet)
	if hdrErr != nil {
		return nil, false
	}

	var out []byte
	var derr error

	switch hdr.Action {
	case proto.ActionConnect:
		out, derr = h.handleConnect(now, srcIP, srcPort, hdr, respBuf)
	case proto.ActionAnnounce:
		out, derr = h.handleAnnounce(now, srcIP, srcPort, hdr, packet, respBuf)
	case proto.ActionScrape:
		out, derr = h.handleScrape(now, srcIP, srcPort, hdr, packet, respBuf)
	default:
		derr = newError(PolicyRejection, "unknown request")
	}

	if derr == nil {
		return out, true
	}
	return h.resolve(hdr.TransactionID, derr, respBuf)
}

// resolve turns a handler's error into either an Error response frame or a
// silent drop, per Kind.Silent().
func (h *Handler) resolve(transactionID uint32, derr error, respBuf []byte) ([]byte, bool) {
	var de *Error
	if !errors.As(derr, &de) {
		return nil, false
	}
	if de.Kind.Silent() {
		return nil, false
	}
	out, ok := proto.EncodeErrorResponse(respBuf, transactionID, de.Msg)
	if !ok {
		return nil, false
	}
	return out, true
}

func (h *Handler) handleConnect(now time.Time, srcIP [4]byte, srcPort uint16, hdr proto.PacketHeader, respBuf []byte) ([]byte, error) {
	if _, err := proto.DecodeConnectRequest(hdr); err != nil {
		return nil, newError(MalformedFrame, "")
	}
	token := h.ConnID.Mint(srcIP, srcPort, now.Unix())
	return proto.EncodeConnectResponse(respBuf, hdr.TransactionID, token), nil
}

func (h *Handler) handleAnnounce(now time.Time, srcIP [4]byte, srcPort uint16, hdr proto.PacketHeader, packet []byte, respBuf []byte) ([]byte, error) {
	req, err := proto.DecodeAnnounceRequest(packet)
	if err != nil {
		return nil, newError(MalformedFrame, "")
	}
	if !h.ConnID.Verify(hdr.ConnectionID, srcIP, srcPort, now.Unix()) {
		return nil, newError(BadConnectionId, "")
	}

	clientIP := srcIP
	if req.IP != 0 {
		if !h.AllowRemotes {
			return nil, newError(PolicyRejection, "remote IP not allowed")
		}
		binary.BigEndian.PutUint32(clientIP[:], req.IP)
	}

	infoHash := store.InfoHash(req.InfoHash)
	if !h.Store.IsAllowed(infoHash) {
		return nil, newError(UnknownInfoHash, "info_hash not registered")
	}

	endpoint := store.Endpoint{IP: clientIP, Port: req.Port}
	event := store.Event(req.Event)

	if err := h.Store.UpdatePeer(infoHash, req.PeerID, endpoint, req.Downloaded, req.Left, req.Uploaded, event); err != nil {
		logx.Error("dispatch: store update_peer failed", err, "info_hash", infoHash.String())
		return nil, newError(StoreFailure, "store failure")
	}

	numWant := h.peerCap()
	switch {
	case req.Event == proto.EventStopped:
		numWant = 0
	case req.NumWant >= 1 && int(req.NumWant) < numWant:
		numWant = int(req.NumWant)
	}

	peerSlicePtr := getPeerSlice()
	defer putPeerSlice(peerSlicePtr)
	peers := *peerSlicePtr
	if numWant > 0 {
		for _, ep := range h.Store.GetPeers(infoHash, numWant, endpoint) {
			peers = append(peers, proto.AnnouncePeer{IP: ep.IP, Port: ep.Port})
		}
	}

	seeders, leechers, _ := h.Store.GetStats(infoHash)
	out := proto.EncodeAnnounceResponse(respBuf, hdr.TransactionID, uint32(h.announceInterval().Seconds()), leechers, seeders, peers)
	return out, nil
}

func (h *Handler) handleScrape(now time.Time, srcIP [4]byte, srcPort uint16, hdr proto.PacketHeader, packet []byte, respBuf []byte) ([]byte, error) {
	hashes, err := proto.DecodeScrapeRequest(packet)
	if err != nil {
		return nil, newError(MalformedFrame, "")
	}
	if !h.ConnID.Verify(hdr.ConnectionID, srcIP, srcPort, now.Unix()) {
		return nil, newError(BadConnectionId, "")
	}

	stats := make([]proto.ScrapeStats, len(hashes))
	for i, raw := range hashes {
		seeders, leechers, completed := h.Store.GetStats(store.InfoHash(raw))
		stats[i] = proto.ScrapeStats{Seeders: seeders, Completed: completed, Leechers: leechers}
	}

	out := proto.EncodeScrapeResponse(respBuf, hdr.TransactionID, stats)
	return out, nil
}
