package core

import (
	"bytes"
	"testing"
)

func TestBlockHeaderRoundTrip(t *testing.T) {
	h := &BlockHeader{
		Version:          1,
		Height:           42,
		Timestamp:        1000,
		PreviousBlockID:  ID(bytes.Repeat([]byte{0xaa}, 32)),
		GeneratorAddress: Address(bytes.Repeat([]byte{0xbb}, 20)),
		TransactionRoot:  ID(bytes.Repeat([]byte{0xcc}, 32)),
		StateRoot:        ID(bytes.Repeat([]byte{0xdd}, 32)),
		Signature:        bytes.Repeat([]byte{0xee}, 64),
	}

	enc, err := EncodeBlockHeader(h)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	dec, err := DecodeBlockHeader(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dec.Height != h.Height || dec.Timestamp != h.Timestamp {
		t.Fatalf("round trip mismatch: %+v vs %+v", dec, h)
	}
	if !bytes.Equal(dec.PreviousBlockID, h.PreviousBlockID) {
		t.Fatalf("previousBlockID mismatch")
	}

	enc2, err := EncodeBlockHeader(dec)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if !bytes.Equal(enc, enc2) {
		t.Fatalf("re-encoding a decoded header must be byte-identical")
	}
}

func TestTransactionRoundTrip(t *testing.T) {
	tx := &Transaction{
		ModuleID:        1,
		AssetID:         0,
		Nonce:           5,
		Fee:             10,
		SenderPublicKey: bytes.Repeat([]byte{0x01}, 32),
		Signatures:      [][]byte{bytes.Repeat([]byte{0x02}, 64)},
		Asset:           []byte("payload"),
	}
	enc, err := EncodeTransaction(tx)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	dec, err := DecodeTransaction(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dec.Nonce != tx.Nonce || dec.Fee != tx.Fee {
		t.Fatalf("round trip mismatch: %+v vs %+v", dec, tx)
	}
	if !bytes.Equal(dec.Asset, tx.Asset) {
		t.Fatalf("asset mismatch")
	}
}

func TestEncodeRejectsUnknownField(t *testing.T) {
	values := map[uint32]interface{}{
		1: uint32(1), 2: uint32(1), 3: uint32(1),
		4: []byte{}, 5: []byte{}, 6: []byte{}, 7: []byte{},
		99: []byte("unexpected"),
	}
	if _, err := Encode(blockHeaderSchema, values); err == nil {
		t.Fatalf("expected unknown-field error")
	} else if ce, ok := err.(*CodecError); !ok || ce.Kind != ErrUnknownField {
		t.Fatalf("expected ErrUnknownField, got %v", err)
	}
}

func TestEncodeRejectsMissingRequiredField(t *testing.T) {
	values := map[uint32]interface{}{1: uint32(1)}
	if _, err := Encode(blockHeaderSchema, values); err == nil {
		t.Fatalf("expected missing-field error")
	}
}

func TestBlockIDContentAddressed(t *testing.T) {
	h := BlockHeader{Version: 1, Height: 1, Timestamp: 1,
		PreviousBlockID: ID{1}, GeneratorAddress: Address{2}, TransactionRoot: ID{3}, StateRoot: ID{4}}
	b1 := &Block{Header: h}
	b2 := &Block{Header: h}
	id1, err := b1.ID()
	if err != nil {
		t.Fatalf("id: %v", err)
	}
	id2, err := b2.ID()
	if err != nil {
		t.Fatalf("id: %v", err)
	}
	if !bytes.Equal(id1, id2) {
		t.Fatalf("identical headers must produce identical ids")
	}

	h.Height = 2
	b3 := &Block{Header: h}
	id3, err := b3.ID()
	if err != nil {
		t.Fatalf("id: %v", err)
	}
	if bytes.Equal(id1, id3) {
		t.Fatalf("differing headers must produce differing ids")
	}
}
