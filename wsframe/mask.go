// File: wsframe/mask.go
// Client-mode mask-key generation. A server never masks outbound frames
// (handled by leaving Frame.Masked=false); an outbound client connection
// generates a fresh key per frame from a cheap PRNG.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package wsframe

import (
	"math/rand"
	"sync"
)

var clientRand = struct {
	mu sync.Mutex
	r  *rand.Rand
}{r: rand.New(rand.NewSource(0x5EED))}

// NewClientMaskKey returns a fresh 32-bit mask key suitable for an
// outbound client-to-server data frame. Not cryptographically secure —
// RFC 6455 only requires unpredictability sufficient to defeat caching
// proxies, not confidentiality.
func NewClientMaskKey() [4]byte {
	clientRand.mu.Lock()
	v := clientRand.r.Uint32()
	clientRand.mu.Unlock()
	var k [4]byte
	k[0] = byte(v)
	k[1] = byte(v >> 8)
	k[2] = byte(v >> 16)
	k[3] = byte(v >> 24)
	return k
}
