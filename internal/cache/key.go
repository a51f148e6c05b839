package cache

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"

	"golang.org/x/crypto/blake2b"
)

// Key identifies one cached extraction.
type Key [blake2b.Size256]byte

func (k Key) String() string { return hex.EncodeToString(k[:]) }

// ParseKey decodes the hex form produced by String.
func ParseKey(s string) (Key, error) {
	var k Key
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != len(k) {
		return k, fmt.Errorf("invalid cache key %q", s)
	}
	copy(k[:], raw)
	return k, nil
}

const keyDomain = "docintel/extraction/v1"

// Fingerprint derives the key for content of type mimeType extracted under
// a configuration whose cache-relevant fields render as cfgKey. Each part is
// length-prefixed so adjacent fields cannot run into each other.
func Fingerprint(mimeType string, content []byte, cfgKey string) Key {
	h, _ := blake2b.New256(nil)
	writePart(h, []byte(keyDomain))
	writePart(h, []byte(mimeType))
	writePart(h, []byte(cfgKey))
	writePart(h, content)

	var k Key
	copy(k[:], h.Sum(nil))
	return k
}

func writePart(h hash.Hash, b []byte) {
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(len(b)))
	h.Write(n[:])
	h.Write(b)
}
