package dispatch

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/bitswarm-labs/udptracker/internal/connid"
	"github.com/bitswarm-labs/udptracker/internal/proto"
	"github.com/bitswarm-labs/udptracker/internal/store"
)

func newTestHandler(dynamic bool) *Handler {
	return &Handler{
		Store:        store.New(dynamic, nil),
		ConnID:       connid.New(connid.DeriveSecret("dispatch-test"), 3600),
		AllowRemotes: true,
	}
}

func buildConnectRequest(transactionID uint32) []byte {
	packet := make([]byte, 16)
	binary.BigEndian.PutUint64(packet[0:8], proto.ProtocolMagic)
	binary.BigEndian.PutUint32(packet[8:12], uint32(proto.ActionConnect))
	binary.BigEndian.PutUint32(packet[12:16], transactionID)
	return packet
}

func buildAnnounceRequest(connectionID uint64, transactionID uint32, infoHash [20]byte, event proto.Event, left uint64, ip uint32, port uint16, numWant int32) []byte {
	packet := make([]byte, 98)
	binary.BigEndian.PutUint64(packet[0:8], connectionID)
	binary.BigEndian.PutUint32(packet[8:12], uint32(proto.ActionAnnounce))
	binary.BigEndian.PutUint32(packet[12:16], transactionID)
	copy(packet[16:36], infoHash[:])
	binary.BigEndian.PutUint64(packet[72:80], 0)
	binary.BigEndian.PutUint64(packet[64:72], left)
	binary.BigEndian.PutUint32(packet[80:84], uint32(event))
	binary.BigEndian.PutUint32(packet[84:88], ip)
	binary.BigEndian.PutUint32(packet[92:96], uint32(numWant))
	binary.BigEndian.PutUint16(packet[96:98], port)
	return packet
}

// scenario 1: connect round trip, token binds to (ip,port).
func TestScenario1_Connect(t *testing.T) {
	h := newTestHandler(true)
	srcIP := [4]byte{192, 0, 2, 1}
	now := time.Unix(1_700_000_000, 0)

	req := buildConnectRequest(0x1234ABCD)
	respBuf := make([]byte, 2048)
	resp, send := h.Handle(now, srcIP, 6881, req, respBuf)
	if !send {
		t.Fatal("expected a connect response")
	}
	if binary.BigEndian.Uint32(resp[0:4]) != uint32(proto.ActionConnect) {
		t.Fatal("action mismatch")
	}
	if binary.BigEndian.Uint32(resp[4:8]) != 0x1234ABCD {
		t.Fatal("transaction id mismatch")
	}
	token := binary.BigEndian.Uint64(resp[8:16])

	if !h.ConnID.Verify(token, srcIP, 6881, now.Unix()) {
		t.Error("token should verify for the same (ip, port)")
	}
	if h.ConnID.Verify(token, srcIP, 6882, now.Unix()) {
		t.Error("token should not verify for a different port")
	}
}

// scenario 2: static mode, unknown hash -> Error frame with non-empty message.
func TestScenario2_StaticModeUnknownHash(t *testing.T) {
	h := newTestHandler(false)
	srcIP := [4]byte{192, 0, 2, 2}
	now := time.Unix(1_700_000_000, 0)
	respBuf := make([]byte, 2048)

	connectResp, _ := h.Handle(now, srcIP, 6881, buildConnectRequest(1), respBuf)
	token := binary.BigEndian.Uint64(connectResp[8:16])

	var zeroHash [20]byte
	announce := buildAnnounceRequest(token, 0xBEEF, zeroHash, proto.EventStarted, 100, 0, 51413, 0)
	resp, send := h.Handle(now, srcIP, 6881, announce, respBuf)
	if !send {
		t.Fatal("expected an Error response for an unregistered hash in static mode")
	}
	if proto.Action(binary.BigEndian.Uint32(resp[0:4])) != proto.ActionError {
		t.Fatal("expected action=error")
	}
	if binary.BigEndian.Uint32(resp[4:8]) != 0xBEEF {
		t.Error("transaction id should echo the announce's")
	}
	if len(resp) <= 8 {
		t.Error("expected a non-empty ASCII message")
	}
}

// scenario 3: dynamic announce creates a leecher, self is excluded.
func TestScenario3_DynamicAnnounceCreatesLeecher(t *testing.T) {
	h := newTestHandler(true)
	srcIP := [4]byte{198, 51, 100, 1}
	now := time.Unix(1_700_000_000, 0)
	respBuf := make([]byte, 2048)

	connectResp, _ := h.Handle(now, srcIP, 51413, buildConnectRequest(1), respBuf)
	token := binary.BigEndian.Uint64(connectResp[8:16])

	var infoHash [20]byte
	infoHash[0] = 0xAB
	announce := buildAnnounceRequest(token, 2, infoHash, proto.EventStarted, 100, 0, 51413, 0)

	resp, send := h.Handle(now, srcIP, 51413, announce, respBuf)
	if !send {
		t.Fatal("expected an announce response")
	}
	if proto.Action(binary.BigEndian.Uint32(resp[0:4])) != proto.ActionAnnounce {
		t.Fatal("expected action=announce")
	}
	if binary.BigEndian.Uint32(resp[8:12]) != 1800 {
		t.Errorf("interval = %d, want 1800", binary.BigEndian.Uint32(resp[8:12]))
	}
	if binary.BigEndian.Uint32(resp[12:16]) != 1 {
		t.Errorf("leechers = %d, want 1", binary.BigEndian.Uint32(resp[12:16]))
	}
	if binary.BigEndian.Uint32(resp[16:20]) != 0 {
		t.Errorf("seeders = %d, want 0", binary.BigEndian.Uint32(resp[16:20]))
	}
	if len(resp) != 20 {
		t.Errorf("len(resp) = %d, want 20 (zero peers, announcer excluded)", len(resp))
	}

	seeders, leechers, _ := h.Store.GetStats(store.InfoHash(infoHash))
	if seeders != 0 || leechers != 1 {
		t.Errorf("stats = %d/%d, want 0/1", seeders, leechers)
	}
}

// scenario 4: a second peer sees exactly the first peer; stats update.
func TestScenario4_TwoPeerSwarm(t *testing.T) {
	h := newTestHandler(true)
	now := time.Unix(1_700_000_000, 0)
	respBuf := make([]byte, 2048)

	var infoHash [20]byte
	infoHash[0] = 0xAB

	firstIP := [4]byte{198, 51, 100, 1}
	firstConn, _ := h.Handle(now, firstIP, 51413, buildConnectRequest(1), respBuf)
	firstToken := binary.BigEndian.Uint64(firstConn[8:16])
	h.Handle(now, firstIP, 51413, buildAnnounceRequest(firstToken, 2, infoHash, proto.EventStarted, 100, 0, 51413, 0), respBuf)

	secondIP := [4]byte{198, 51, 100, 2}
	secondConn, _ := h.Handle(now, secondIP, 6881, buildConnectRequest(3), respBuf)
	secondToken := binary.BigEndian.Uint64(secondConn[8:16])

	resp, send := h.Handle(now, secondIP, 6881, buildAnnounceRequest(secondToken, 4, infoHash, proto.EventStarted, 0, 0, 6881, 0), respBuf)
	if !send {
		t.Fatal("expected an announce response")
	}
	if len(resp) != 20+proto.PeerEntrySize {
		t.Fatalf("len(resp) = %d, want %d (exactly one peer)", len(resp), 20+proto.PeerEntrySize)
	}
	gotIP := resp[20:24]
	if gotIP[0] != firstIP[0] || gotIP[1] != firstIP[1] || gotIP[2] != firstIP[2] || gotIP[3] != firstIP[3] {
		t.Errorf("returned peer ip = %v, want %v", gotIP, firstIP)
	}
	gotPort := binary.BigEndian.Uint16(resp[24:26])
	if gotPort != 51413 {
		t.Errorf("returned peer port = %d, want 51413", gotPort)
	}

	seeders, leechers, _ := h.Store.GetStats(store.InfoHash(infoHash))
	if seeders != 1 || leechers != 1 {
		t.Errorf("stats = %d/%d, want 1/1", seeders, leechers)
	}
}

// scenario 5: stopping removes the peer; response body is empty.
func TestScenario5_StopRemovesPeer(t *testing.T) {
	h := newTestHandler(true)
	now := time.Unix(1_700_000_000, 0)
	respBuf := make([]byte, 2048)

	var infoHash [20]byte
	infoHash[0] = 0xAB

	firstIP := [4]byte{198, 51, 100, 1}
	firstConn, _ := h.Handle(now, firstIP, 51413, buildConnectRequest(1), respBuf)
	firstToken := binary.BigEndian.Uint64(firstConn[8:16])
	h.Handle(now, firstIP, 51413, buildAnnounceRequest(firstToken, 2, infoHash, proto.EventStarted, 100, 0, 51413, 0), respBuf)

	secondIP := [4]byte{198, 51, 100, 2}
	secondConn, _ := h.Handle(now, secondIP, 6881, buildConnectRequest(3), respBuf)
	secondToken := binary.BigEndian.Uint64(secondConn[8:16])
	h.Handle(now, secondIP, 6881, buildAnnounceRequest(secondToken, 4, infoHash, proto.EventStarted, 0, 0, 6881, 0), respBuf)

	resp, send := h.Handle(now, secondIP, 6881, buildAnnounceRequest(secondToken, 5, infoHash, proto.EventStopped, 0, 0, 6881, 0), respBuf)
	if !send {
		t.Fatal("expected an announce response for stop")
	}
	if len(resp) != 20 {
		t.Errorf("len(resp) = %d, want 20 (empty peer body on stop)", len(resp))
	}

	seeders, leechers, _ := h.Store.GetStats(store.InfoHash(infoHash))
	if seeders != 0 || leechers != 1 {
		t.Errorf("stats = %d/%d, want 0/1", seeders, leechers)
	}
}

func TestMalformedFrame_DroppedSilently(t *testing.T) {
	h := newTestHandler(true)
	now := time.Unix(1_700_000_000, 0)
	respBuf := make([]byte, 2048)

	_, send := h.Handle(now, [4]byte{1, 1, 1, 1}, 1, make([]byte, 10), respBuf)
	if send {
		t.Error("a too-short frame must be dropped silently")
	}
}

func TestBadConnectionId_DroppedSilently(t *testing.T) {
	h := newTestHandler(true)
	now := time.Unix(1_700_000_000, 0)
	respBuf := make([]byte, 2048)

	var infoHash [20]byte
	announce := buildAnnounceRequest(0xDEADBEEF, 1, infoHash, proto.EventStarted, 0, 0, 6881, 0)
	_, send := h.Handle(now, [4]byte{1, 1, 1, 1}, 1, announce, respBuf)
	if send {
		t.Error("a bad connection id must be dropped silently, not answered with an Error frame")
	}
}

func TestReservedSourceIP_DroppedSilently(t *testing.T) {
	h := newTestHandler(true)
	now := time.Unix(1_700_000_000, 0)
	respBuf := make([]byte, 2048)

	_, send := h.Handle(now, [4]byte{127, 0, 0, 1}, 1, buildConnectRequest(1), respBuf)
	if send {
		t.Error("a loopback source should be dropped unless allow_iana_ips is set")
	}
}

func TestUnknownAction_RepliesWithError(t *testing.T) {
	h := newTestHandler(true)
	now := time.Unix(1_700_000_000, 0)
	respBuf := make([]byte, 2048)

	packet := make([]byte, 16)
	binary.BigEndian.PutUint64(packet[0:8], proto.ProtocolMagic)
	binary.BigEndian.PutUint32(packet[8:12], 99)
	binary.BigEndian.PutUint32(packet[12:16], 7)

	resp, send := h.Handle(now, [4]byte{203, 0, 113, 9}, 1, packet, respBuf)
	if !send {
		t.Fatal("an unknown action should get an Error response")
	}
	if proto.Action(binary.BigEndian.Uint32(resp[0:4])) != proto.ActionError {
		t.Error("expected action=error")
	}
}

func TestScrape_UnknownHashReturnsZeroStats(t *testing.T) {
	h := newTestHandler(true)
	now := time.Unix(1_700_000_000, 0)
	respBuf := make([]byte, 2048)
	srcIP := [4]byte{203, 0, 113, 10}

	connectResp, _ := h.Handle(now, srcIP, 1, buildConnectRequest(1), respBuf)
	token := binary.BigEndian.Uint64(connectResp[8:16])

	packet := make([]byte, 16+20)
	binary.BigEndian.PutUint64(packet[0:8], token)
	binary.BigEndian.PutUint32(packet[8:12], uint32(proto.ActionScrape))
	binary.BigEndian.PutUint32(packet[12:16], 9)

	resp, send := h.Handle(now, srcIP, 1, packet, respBuf)
	if !send {
		t.Fatal("expected a scrape response")
	}
	if binary.BigEndian.Uint32(resp[8:12]) != 0 || binary.BigEndian.Uint32(resp[12:16]) != 0 || binary.BigEndian.Uint32(resp[16:20]) != 0 {
		t.Error("unknown hash should scrape as (0,0,0)")
	}
}

func TestAnnounce_RemoteIPRejectedWhenNotAllowed(t *testing.T) {
	h := newTestHandler(true)
	h.AllowRemotes = false
	now := time.Unix(1_700_000_000, 0)
	respBuf := make([]byte, 2048)
	srcIP := [4]byte{203, 0, 113, 11}

	connectResp, _ := h.Handle(now, srcIP, 1, buildConnectRequest(1), respBuf)
	token := binary.BigEndian.Uint64(connectResp[8:16])

	var infoHash [20]byte
	announce := buildAnnounceRequest(token, 2, infoHash, proto.EventStarted, 1, 0x01020304, 6881, 0)
	resp, send := h.Handle(now, srcIP, 1, announce, respBuf)
	if !send {
		t.Fatal("expected an Error response for a disallowed remote IP claim")
	}
	if proto.Action(binary.BigEndian.Uint32(resp[0:4])) != proto.ActionError {
		t.Error("expected action=error")
	}
}
