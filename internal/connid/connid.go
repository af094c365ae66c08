// Package connid mints and verifies BEP-15 connection ids. A connection id
// is an HMAC over the requester's endpoint and a coarse time bucket; it is
// not tied to any particular socket or goroutine, so any dispatcher worker
// can verify one minted by any other.
package connid

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
)

// DefaultBucketSeconds is the width of one time bucket when the operator
// does not override tracker.conn_id_bucket_seconds.
const DefaultBucketSeconds = 3600

// Oracle mints and verifies connection ids for a fixed secret and bucket
// width. The zero value is not usable; construct with New.
type Oracle struct {
	secret       [32]byte
	bucketWidth  int64
}

// New builds an Oracle from a 32-byte secret and a bucket width in seconds.
// A zero or negative width falls back to DefaultBucketSeconds.
func New(secret [32]byte, bucketSeconds int64) *Oracle {
	if bucketSeconds <= 0 {
		bucketSeconds = DefaultBucketSeconds
	}
	return &Oracle{secret: secret, bucketWidth: bucketSeconds}
}

// DeriveSecret folds an operator-supplied passphrase into a 32-byte key the
// same way a fixed-size secret would be used directly. Used when the
// operator configures tracker.secret as a string rather than raw key bytes.
func DeriveSecret(passphrase string) [32]byte {
	return sha256.Sum256([]byte(passphrase))
}

func (o *Oracle) bucket(unixSeconds int64) int64 {
	return unixSeconds / o.bucketWidth
}

func (o *Oracle) sign(ip [4]byte, port uint16, bucket int64) uint64 {
	var msg [14]byte
	copy(msg[0:4], ip[:])
	binary.BigEndian.PutUint16(msg[4:6], port)
	binary.BigEndian.PutUint64(msg[6:14], uint64(bucket))

	mac := hmac.New(sha256.New, o.secret[:])
	mac.Write(msg[:])
	sum := mac.Sum(nil)
	return binary.BigEndian.Uint64(sum[0:8])
}

// Mint produces a connection id for the given endpoint at unixSeconds. The
// result is a keyed MAC of the endpoint and the bucket unixSeconds falls
// into; it carries no embedded timestamp, so Verify must recompute rather
// than decode it.
func (o *Oracle) Mint(ip [4]byte, port uint16, unixSeconds int64) uint64 {
	return o.sign(ip, port, o.bucket(unixSeconds))
}

// Verify reports whether token could have been minted for ip/port in the
// bucket containing unixSeconds or the immediately preceding bucket. The
// two-bucket window means a token is accepted for somewhere between
// bucketWidth and 2*bucketWidth seconds after it was minted, depending on
// where in the first bucket it was issued.
func (o *Oracle) Verify(token uint64, ip [4]byte, port uint16, unixSeconds int64) bool {
	current := o.bucket(unixSeconds)
	if o.sign(ip, port, current) == token {
		return true
	}
	return o.sign(ip, port, current-1) == token
}
