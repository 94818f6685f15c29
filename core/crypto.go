package core

// crypto.go stubs the cryptographic primitives the spec treats as an
// external collaborator assumed available as a pure function with a
// documented contract (§1): signature verification and Merkle-root
// computation. Key-pair and passphrase tooling remain genuinely out of
// scope (Non-goal: wallet UX) and are not provided here.

import (
	"crypto/ed25519"
)

// VerifyBlockSignature reports whether sig is a valid ed25519 signature by
// the generator's public key over msg (the header encoded without its
// signature field). Contract: deterministic, no side effects.
func VerifyBlockSignature(generatorPublicKey, sig, msg []byte) bool {
	if len(generatorPublicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(generatorPublicKey), msg, sig)
}

// VerifyTransactionSignature reports whether sig is a valid ed25519
// signature by senderPublicKey over msg.
func VerifyTransactionSignature(senderPublicKey, sig, msg []byte) bool {
	if len(senderPublicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(senderPublicKey), msg, sig)
}

// MerkleRoot computes the Merkle root over an ordered list of leaves.
// Contract: deterministic, content-addressed, order-sensitive.
func MerkleRoot(leaves []ID) ID {
	if len(leaves) == 0 {
		return Hash(nil)
	}
	level := make([][]byte, len(leaves))
	for i, l := range leaves {
		level[i] = l
	}
	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, Hash(level[i]))
				continue
			}
			combined := append(append([]byte(nil), level[i]...), level[i+1]...)
			next = append(next, Hash(combined))
		}
		level = next
	}
	return ID(level[0])
}

// AddressFromPublicKey derives the account address a public key controls.
// Contract: deterministic, collision-resistant truncation of the hash.
func AddressFromPublicKey(pubKey []byte) Address {
	h := Hash(pubKey)
	return Address(h[:20])
}
