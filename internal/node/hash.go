package node

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/zeebo/xxh3"
)

// Hash is the dedup identity of a node, derived from (server, port, type)
// as required by spec.md §6 ("Deduplicates by (server, port, type) retaining
// first occurrence"). Ported from the teacher's node.Hash, which hashes
// canonical JSON of the full raw options; here the key fields are fixed by
// spec so we hash them directly instead of re-deriving a canonical document.
type Hash [16]byte

// Zero is the zero-value Hash.
var Zero Hash

// HashOf computes the dedup Hash for a node's identity triple.
func HashOf(server string, port int, typ Type) Hash {
	key := server + "\x00" + strconv.Itoa(port) + "\x00" + string(typ)
	h128 := xxh3.HashString128(key)
	var h Hash
	binary.LittleEndian.PutUint64(h[:8], h128.Lo)
	binary.LittleEndian.PutUint64(h[8:], h128.Hi)
	return h
}

// Hash returns n's dedup identity.
func (n Node) Hash() Hash {
	return HashOf(n.Server, n.Port, n.Type)
}

// Hex returns the lowercase hex encoding of the hash.
func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) String() string {
	return h.Hex()
}

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool {
	return h == Zero
}

// ParseHex decodes a 32-character hex string into a Hash.
func ParseHex(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Zero, fmt.Errorf("node: parse hash: %w", err)
	}
	if len(b) != 16 {
		return Zero, fmt.Errorf("node: parse hash: expected 16 bytes, got %d", len(b))
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}
