package core

// hash.go provides the cryptographic hash primitive the spec treats as an
// external collaborator ("assumed available as a pure function with a
// documented contract", §1). The contract: Hash is deterministic,
// collision-resistant for our purposes, and produces a fixed 32-byte
// digest used as both block and transaction ids.

import "crypto/sha256"

// Hash returns the 32-byte digest of b.
func Hash(b []byte) ID {
	sum := sha256.Sum256(b)
	return ID(sum[:])
}
