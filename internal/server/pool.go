package server

import "sync"

// datagramBufferSize is the minimum buffer size spec.md §4.6 requires.
// A datagram's response is built into the same buffer it was read into, so
// this ceiling also bounds every response frame.
const datagramBufferSize = 2048

var bufferPool = sync.Pool{
	New: func() any {
		b := make([]byte, datagramBufferSize)
		return &b
	},
}

func getBuffer() *[]byte {
	b := bufferPool.Get().(*[]byte)
	*b = (*b)[:datagramBufferSize]
	return b
}

func putBuffer(b *[]byte) {
	bufferPool.Put(b)
}
