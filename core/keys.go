package core

// keys.go centralizes the storage key layout of §3. Each prefix owns one
// leading byte; forward-compatibility keeps this byte immutable once
// assigned and leaves room for new prefixes alongside it.

import "encoding/binary"

const (
	prefixBlocksID        byte = 0x01
	prefixBlocksHeight    byte = 0x02
	prefixTxID            byte = 0x03
	prefixTxBlockID       byte = 0x04
	prefixTempBlockHeight byte = 0x05
	prefixDiffState       byte = 0x06
	prefixFinalizedHeight byte = 0x07
	prefixAccounts        byte = 0x08
	prefixChainState      byte = 0x09
)

func keyBlocksID(id ID) []byte        { return append([]byte{prefixBlocksID}, id...) }
func keyBlocksHeight(h uint32) []byte { return append([]byte{prefixBlocksHeight}, be32(h)...) }
func keyTxID(id ID) []byte            { return append([]byte{prefixTxID}, id...) }
func keyTxBlockID(id ID) []byte       { return append([]byte{prefixTxBlockID}, id...) }
func keyTempBlock(h uint32) []byte    { return append([]byte{prefixTempBlockHeight}, be32(h)...) }
func keyDiffState(h uint32) []byte    { return append([]byte{prefixDiffState}, be32(h)...) }
func keyFinalizedHeight() []byte      { return []byte{prefixFinalizedHeight} }
func keyAccount(addr Address) []byte  { return append([]byte{prefixAccounts}, addr...) }
func keyChainState(k []byte) []byte   { return append([]byte{prefixChainState}, k...) }

func be32(h uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, h)
	return b
}

func prefixRange(prefix byte) ([]byte, []byte) {
	gte := []byte{prefix}
	lte := []byte{prefix, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	return gte, lte
}
