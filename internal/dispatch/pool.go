package dispatch

import (
	"sync"

	"github.com/bitswarm-labs/udptracker/internal/proto"
)

// peerSlicePool recycles the []proto.AnnouncePeer scratch slices the
// announce handler builds per request, avoiding one allocation per
// datagram on the hot path.
var peerSlicePool = sync.Pool{
	New: func() any {
		s := make([]proto.AnnouncePeer, 0, defaultPeerCap)
		return &s
	},
}

const defaultPeerCap = 30

func getPeerSlice() *[]proto.AnnouncePeer {
	s := peerSlicePool.Get().(*[]proto.AnnouncePeer)
	*s = (*s)[:0]
	return s
}

func putPeerSlice(s *[]proto.AnnouncePeer) {
	peerSlicePool.Put(s)
}
