package scenario

import "hash/fnv"

// LabelHash computes the 64-bit FNV-1a hash over a registered endpoint
// label name.
func LabelHash(name string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return h.Sum64()
}
