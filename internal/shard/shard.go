// Package shard maps record keys onto lock stripes and lock table rows.
package shard

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
)

// Stripe returns the stripe in [0, numStripes) that guards id within namespace.
// With numStripes<=1 every key maps to stripe 0.
func Stripe(namespace string, id uint64, numStripes int) int {
	if numStripes <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(namespace))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	h.Write(buf[:])
	return int(h.Sum32() % uint32(numStripes))
}

// LockKey returns the partition key of the lock row for id within namespace.
func LockKey(namespace string, id uint64) string {
	return fmt.Sprintf("LOCK#%s#%d", namespace, id)
}
