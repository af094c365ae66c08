// Package proto implements the BEP-15 UDP tracker wire frames: fixed-layout
// byte encodings for connect, announce, and scrape requests and responses,
// all in network byte order.
package proto

import (
	"encoding/binary"
	"errors"
)

// Action identifies the kind of a request or response frame.
type Action uint32

const (
	ActionConnect  Action = 0
	ActionAnnounce Action = 1
	ActionScrape   Action = 2
	ActionError    Action = 3
)

// Event is the announce event field.
type Event uint32

const (
	EventNone      Event = 0
	EventCompleted Event = 1
	EventStarted   Event = 2
	EventStopped   Event = 3
)

// NormalizeEvent folds any value the protocol doesn't recognize to EventNone.
func NormalizeEvent(raw uint32) Event {
	switch Event(raw) {
	case EventCompleted, EventStarted, EventStopped:
		return Event(raw)
	default:
		return EventNone
	}
}

// ProtocolMagic is the fixed connection_id a connect request must carry.
const ProtocolMagic uint64 = 0x41727101980

// ErrMalformedFrame is returned by the Decode* functions when a frame is
// shorter than its minimum size, has a bad magic value, or (for scrape) has
// a variable-length tail that is not a multiple of its element stride.
var ErrMalformedFrame = errors.New("proto: malformed frame")

const (
	packetHeaderSize = 16 // connection_id:8 + action:4 + transaction_id:4

	connectResponseSize = 16 // action:4 + transaction_id:4 + connection_id:8

	// connection_id:8 + action:4 + transaction_id:4 + info_hash:20 + peer_id:20 +
	// downloaded:8 + left:8 + uploaded:8 + event:4 + ip:4 + key:4 + num_want:4 + port:2
	announceRequestSize = 98

	announceHeaderSize = 20 // action:4 + transaction_id:4 + interval:4 + leechers:4 + seeders:4
	peerEntrySize       = 6  // ip:4 + port:2 (IPv4 only)

	scrapeHashSize    = 20
	scrapeHeaderSize  = 8  // action:4 + transaction_id:4
	scrapeEntrySize   = 12 // seeders:4 + completed:4 + leechers:4

	errorHeaderSize = 8 // action:4 + transaction_id:4
)

// PacketHeader is the common prefix shared by every request datagram.
type PacketHeader struct {
	ConnectionID  uint64
	Action        Action
	TransactionID uint32
}

// DecodeHeader reads the 16-byte common header. It is the first decode step
// for any inbound datagram; the dispatcher classifies on Action afterward.
func DecodeHeader(packet []byte) (PacketHeader, error) {
	if len(packet) < packetHeaderSize {
		return PacketHeader{}, ErrMalformedFrame
	}
	return PacketHeader{
		ConnectionID:  binary.BigEndian.Uint64(packet[0:8]),
		Action:        Action(binary.BigEndian.Uint32(packet[8:12])),
		TransactionID: binary.BigEndian.Uint32(packet[12:16]),
	}, nil
}

// ConnectRequest is the decoded connect frame.
type ConnectRequest struct {
	TransactionID uint32
}

// DecodeConnectRequest validates the magic connection id and extracts the
// transaction id. Callers typically already have a PacketHeader from
// DecodeHeader and can build this directly from it instead.
func DecodeConnectRequest(hdr PacketHeader) (ConnectRequest, error) {
	if hdr.ConnectionID != ProtocolMagic {
		return ConnectRequest{}, ErrMalformedFrame
	}
	return ConnectRequest{TransactionID: hdr.TransactionID}, nil
}

// EncodeConnectResponse writes the 16-byte connect response into dst,
// which must be at least connectResponseSize bytes, and returns the slice
// actually written.
func EncodeConnectResponse(dst []byte, transactionID uint32, connectionID uint64) []byte {
	dst = dst[:connectResponseSize]
	binary.BigEndian.PutUint32(dst[0:4], uint32(ActionConnect))
	binary.BigEndian.PutUint32(dst[4:8], transactionID)
	binary.BigEndian.PutUint64(dst[8:16], connectionID)
	return dst
}

// AnnounceRequest is the decoded announce frame (minus the shared header,
// which the caller already has from DecodeHeader).
type AnnounceRequest struct {
	InfoHash   [20]byte
	PeerID     [20]byte
	Downloaded uint64
	Left       uint64
	Uploaded   uint64
	Event      Event
	IP         uint32 // client-claimed IPv4, network byte order as a uint32; 0 means "use source"
	Key        uint32
	NumWant    int32
	Port       uint16
}

// DecodeAnnounceRequest parses the fixed 98-byte announce body. packet must
// be the full datagram (including the 16-byte header) as received.
func DecodeAnnounceRequest(packet []byte) (AnnounceRequest, error) {
	if len(packet) < announceRequestSize {
		return AnnounceRequest{}, ErrMalformedFrame
	}
	var req AnnounceRequest
	copy(req.InfoHash[:], packet[16:36])
	copy(req.PeerID[:], packet[36:56])
	req.Downloaded = binary.BigEndian.Uint64(packet[56:64])
	req.Left = binary.BigEndian.Uint64(packet[64:72])
	req.Uploaded = binary.BigEndian.Uint64(packet[72:80])
	req.Event = NormalizeEvent(binary.BigEndian.Uint32(packet[80:84]))
	req.IP = binary.BigEndian.Uint32(packet[84:88])
	req.Key = binary.BigEndian.Uint32(packet[88:92])
	req.NumWant = int32(binary.BigEndian.Uint32(packet[92:96]))
	req.Port = binary.BigEndian.Uint16(packet[96:98])
	return req, nil
}

// AnnouncePeer is one peer entry in an announce response body.
type AnnouncePeer struct {
	IP   [4]byte
	Port uint16
}

// EncodeAnnounceResponse writes the announce response header plus one
// 6-byte entry per peer into dst, which must have capacity for
// announceHeaderSize + len(peers)*peerEntrySize bytes.
func EncodeAnnounceResponse(dst []byte, transactionID uint32, interval, leechers, seeders uint32, peers []AnnouncePeer) []byte {
	size := announceHeaderSize + len(peers)*peerEntrySize
	dst = dst[:size]
	binary.BigEndian.PutUint32(dst[0:4], uint32(ActionAnnounce))
	binary.BigEndian.PutUint32(dst[4:8], transactionID)
	binary.BigEndian.PutUint32(dst[8:12], interval)
	binary.BigEndian.PutUint32(dst[12:16], leechers)
	binary.BigEndian.PutUint32(dst[16:20], seeders)

	off := announceHeaderSize
	for _, p := range peers {
		copy(dst[off:off+4], p.IP[:])
		binary.BigEndian.PutUint16(dst[off+4:off+6], p.Port)
		off += peerEntrySize
	}
	return dst
}

// DecodeScrapeRequest extracts the list of info hashes from a scrape
// datagram. A scrape with zero hashes (just the 16-byte header) is valid.
func DecodeScrapeRequest(packet []byte) ([][20]byte, error) {
	if len(packet) < packetHeaderSize {
		return nil, ErrMalformedFrame
	}
	tail := packet[packetHeaderSize:]
	if len(tail)%scrapeHashSize != 0 {
		return nil, ErrMalformedFrame
	}
	n := len(tail) / scrapeHashSize
	hashes := make([][20]byte, n)
	for i := 0; i < n; i++ {
		copy(hashes[i][:], tail[i*scrapeHashSize:(i+1)*scrapeHashSize])
	}
	return hashes, nil
}

// ScrapeStats is one torrent's counters in a scrape response.
type ScrapeStats struct {
	Seeders   uint32
	Completed uint32
	Leechers  uint32
}

// EncodeScrapeResponse writes the scrape response header plus one 12-byte
// entry per requested hash, in request order, into dst.
func EncodeScrapeResponse(dst []byte, transactionID uint32, stats []ScrapeStats) []byte {
	size := scrapeHeaderSize + len(stats)*scrapeEntrySize
	dst = dst[:size]
	binary.BigEndian.PutUint32(dst[0:4], uint32(ActionScrape))
	binary.BigEndian.PutUint32(dst[4:8], transactionID)

	off := scrapeHeaderSize
	for _, s := range stats {
		binary.BigEndian.PutUint32(dst[off:off+4], s.Seeders)
		binary.BigEndian.PutUint32(dst[off+4:off+8], s.Completed)
		binary.BigEndian.PutUint32(dst[off+8:off+12], s.Leechers)
		off += scrapeEntrySize
	}
	return dst
}

// MaxErrorMessageLen bounds the ASCII message in an error response so the
// total frame never exceeds 1024 bytes (spec.md §4.5 "Error message bound").
const MaxErrorMessageLen = 1024 - errorHeaderSize

// EncodeErrorResponse writes an error frame. It reports ok=false (and
// writes nothing) if message would push the frame past the 1024-byte
// bound — the dispatcher must silently drop such a response instead of
// sending it, per spec.md §4.5.
func EncodeErrorResponse(dst []byte, transactionID uint32, message string) (out []byte, ok bool) {
	if len(message) > MaxErrorMessageLen {
		return nil, false
	}
	size := errorHeaderSize + len(message)
	dst = dst[:size]
	binary.BigEndian.PutUint32(dst[0:4], uint32(ActionError))
	binary.BigEndian.PutUint32(dst[4:8], transactionID)
	copy(dst[8:], message)
	return dst, true
}

// AnnounceResponseSize returns the number of bytes EncodeAnnounceResponse
// will need for n peers, for pre-sizing stack/pool buffers.
func AnnounceResponseSize(n int) int { return announceHeaderSize + n*peerEntrySize }

// ScrapeResponseSize returns the number of bytes EncodeScrapeResponse will
// need for n hashes, for pre-sizing stack/pool buffers.
func ScrapeResponseSize(n int) int { return scrapeHeaderSize + n*scrapeEntrySize }

// ErrorResponseSize returns the number of bytes an error response with the
// given message length needs.
func ErrorResponseSize(msgLen int) int { return errorHeaderSize + msgLen }

// PeerEntrySize is the wire size of one AnnouncePeer (IPv4 only).
const PeerEntrySize = peerEntrySize
