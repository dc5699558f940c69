// Package hashslot computes a Redis Cluster hash slot for a key: CRC16-
// XMODEM over the key's hash tag, modulo the 16384-slot keyspace.
package hashslot

import "bytes"

// Count is the total number of slots in the cluster keyspace.
const Count = 16384

// Slot is a cluster slot number, or Unknown when no slot applies (e.g. a
// command with no key arguments).
type Slot uint16

// Unknown is the sentinel Slot value for "no slot computed".
const Unknown Slot = 0xFFFF

// Of computes the slot a key hashes to: CRC16-XMODEM of the key's hash tag,
// modulo Count.
func Of(key []byte) Slot {
	tag := HashTag(key)
	return Slot(crc16XModem(tag) % Count)
}

// HashTag extracts the substring between the first '{' and the next
// non-empty matching '}' in key. If no such substring exists (no braces, an
// empty "{}", or an unclosed brace), the whole key is its own hash tag.
func HashTag(key []byte) []byte {
	start := bytes.IndexByte(key, '{')
	if start < 0 {
		return key
	}
	end := bytes.IndexByte(key[start+1:], '}')
	if end < 0 {
		return key
	}
	if end == 0 {
		// "{}" immediately: tag is the whole key, not empty.
		return key
	}
	return key[start+1 : start+1+end]
}
