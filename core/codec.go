package core

// codec.go implements the canonical binary codec of §4.1: declarative
// schemas keyed by ascending field number, deterministic encoding, and
// strict decoding that rejects unknown field numbers. The actual byte-level
// framing is delegated to go-ethereum's RLP encoder (already a dependency
// of the teacher's ledger persistence path), which gives us a
// length-prefixed, canonical encoding for free; the schema layer on top
// enforces the field-number/data-type contract and produces the
// CodecError kinds the spec calls for.

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"
)

// DataType enumerates the field kinds a schema may declare.
type DataType int

const (
	TypeBytes DataType = iota
	TypeString
	TypeUint32
	TypeUint64
	TypeSint32
	TypeSint64
	TypeBoolean
	TypeObject
	TypeArrayOfObject
)

// FieldSchema declares one field of an object schema.
type FieldSchema struct {
	FieldNumber uint32
	Name        string
	DataType    DataType
	Required    bool
}

// Schema is an ordered-by-fieldNumber object schema.
type Schema struct {
	Fields []FieldSchema
}

// sorted returns the schema's fields ordered by ascending field number;
// schemas are expected to already be declared in order, but we do not rely
// on declaration order for correctness.
func (s *Schema) sorted() []FieldSchema {
	fs := append([]FieldSchema(nil), s.Fields...)
	sort.Slice(fs, func(i, j int) bool { return fs[i].FieldNumber < fs[j].FieldNumber })
	return fs
}

func (s *Schema) byNumber(n uint32) (FieldSchema, bool) {
	for _, f := range s.Fields {
		if f.FieldNumber == n {
			return f, true
		}
	}
	return FieldSchema{}, false
}

// CodecErrorKind enumerates codec failure modes.
type CodecErrorKind int

const (
	ErrUnknownField CodecErrorKind = iota
	ErrWrongType
	ErrTruncated
	ErrOverflow
)

// CodecError is returned by Encode/Decode on schema violations.
type CodecError struct {
	Kind    CodecErrorKind
	Message string
}

func (e *CodecError) Error() string { return e.Message }

func newCodecError(kind CodecErrorKind, format string, args ...interface{}) *CodecError {
	return &CodecError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// fieldEntry is the wire representation of one present field: its number
// and the raw RLP-encoded bytes of its value. Encoding a list of these, in
// ascending field-number order, is what makes re-encoding a decoded value
// byte-identical to the original (the round-trip law of §4.1).
type fieldEntry struct {
	Number uint32
	Value  []byte
}

// Encode serializes values (keyed by field number) against schema, in
// ascending field-number order. Required fields missing from values are an
// error; unknown field numbers present in values are always rejected
// (there is no "lenient on encode" mode).
func Encode(schema *Schema, values map[uint32]interface{}) ([]byte, error) {
	fields := schema.sorted()
	entries := make([]fieldEntry, 0, len(fields))
	for _, f := range fields {
		v, present := values[f.FieldNumber]
		if !present {
			if f.Required {
				return nil, newCodecError(ErrTruncated, "missing required field %d (%s)", f.FieldNumber, f.Name)
			}
			continue
		}
		raw, err := encodeValue(f, v)
		if err != nil {
			return nil, err
		}
		entries = append(entries, fieldEntry{Number: f.FieldNumber, Value: raw})
	}
	for n := range values {
		if _, ok := schema.byNumber(n); !ok {
			return nil, newCodecError(ErrUnknownField, "unknown field %d in encode input", n)
		}
	}
	out, err := rlp.EncodeToBytes(entries)
	if err != nil {
		return nil, newCodecError(ErrOverflow, "rlp encode: %v", err)
	}
	return out, nil
}

// Decode parses data against schema. Any field number not present in
// schema is rejected with ErrUnknownField; there is no lenient mode.
func Decode(schema *Schema, data []byte) (map[uint32]interface{}, error) {
	var entries []fieldEntry
	if err := rlp.DecodeBytes(data, &entries); err != nil {
		return nil, newCodecError(ErrTruncated, "rlp decode: %v", err)
	}
	out := make(map[uint32]interface{}, len(entries))
	var lastNumber int64 = -1
	for _, e := range entries {
		if int64(e.Number) <= lastNumber {
			return nil, newCodecError(ErrTruncated, "field numbers out of order: %d", e.Number)
		}
		lastNumber = int64(e.Number)
		f, ok := schema.byNumber(e.Number)
		if !ok {
			return nil, newCodecError(ErrUnknownField, "unknown field %d in decoded data", e.Number)
		}
		v, err := decodeValue(f, e.Value)
		if err != nil {
			return nil, err
		}
		out[e.Number] = v
	}
	for _, f := range schema.Fields {
		if f.Required {
			if _, ok := out[f.FieldNumber]; !ok {
				return nil, newCodecError(ErrTruncated, "missing required field %d (%s)", f.FieldNumber, f.Name)
			}
		}
	}
	return out, nil
}

func encodeValue(f FieldSchema, v interface{}) ([]byte, error) {
	switch f.DataType {
	case TypeBytes:
		b, ok := v.([]byte)
		if !ok {
			return nil, newCodecError(ErrWrongType, "field %d (%s): expected bytes", f.FieldNumber, f.Name)
		}
		return rlp.EncodeToBytes(b)
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return nil, newCodecError(ErrWrongType, "field %d (%s): expected string", f.FieldNumber, f.Name)
		}
		return rlp.EncodeToBytes(s)
	case TypeUint32:
		n, ok := toUint64(v)
		if !ok || n > 1<<32-1 {
			return nil, newCodecError(ErrWrongType, "field %d (%s): expected uint32", f.FieldNumber, f.Name)
		}
		return rlp.EncodeToBytes(uint32(n))
	case TypeUint64:
		n, ok := toUint64(v)
		if !ok {
			return nil, newCodecError(ErrWrongType, "field %d (%s): expected uint64", f.FieldNumber, f.Name)
		}
		return rlp.EncodeToBytes(n)
	case TypeSint32:
		n, ok := v.(int32)
		if !ok {
			return nil, newCodecError(ErrWrongType, "field %d (%s): expected sint32", f.FieldNumber, f.Name)
		}
		return rlp.EncodeToBytes(int64(n))
	case TypeSint64:
		n, ok := v.(int64)
		if !ok {
			return nil, newCodecError(ErrWrongType, "field %d (%s): expected sint64", f.FieldNumber, f.Name)
		}
		return rlp.EncodeToBytes(n)
	case TypeBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, newCodecError(ErrWrongType, "field %d (%s): expected bool", f.FieldNumber, f.Name)
		}
		return rlp.EncodeToBytes(b)
	case TypeObject, TypeArrayOfObject:
		// Nested objects arrive pre-encoded by the caller (module-specific
		// assets) so this layer never needs reflection over arbitrary
		// struct shapes.
		b, ok := v.([]byte)
		if !ok {
			return nil, newCodecError(ErrWrongType, "field %d (%s): expected pre-encoded object bytes", f.FieldNumber, f.Name)
		}
		return rlp.EncodeToBytes(b)
	default:
		return nil, newCodecError(ErrWrongType, "field %d (%s): unknown data type", f.FieldNumber, f.Name)
	}
}

func decodeValue(f FieldSchema, raw []byte) (interface{}, error) {
	switch f.DataType {
	case TypeBytes, TypeObject, TypeArrayOfObject:
		var b []byte
		if err := rlp.DecodeBytes(raw, &b); err != nil {
			return nil, newCodecError(ErrTruncated, "field %d (%s): %v", f.FieldNumber, f.Name, err)
		}
		return b, nil
	case TypeString:
		var s string
		if err := rlp.DecodeBytes(raw, &s); err != nil {
			return nil, newCodecError(ErrTruncated, "field %d (%s): %v", f.FieldNumber, f.Name, err)
		}
		return s, nil
	case TypeUint32:
		var n uint32
		if err := rlp.DecodeBytes(raw, &n); err != nil {
			return nil, newCodecError(ErrOverflow, "field %d (%s): %v", f.FieldNumber, f.Name, err)
		}
		return n, nil
	case TypeUint64:
		var n uint64
		if err := rlp.DecodeBytes(raw, &n); err != nil {
			return nil, newCodecError(ErrOverflow, "field %d (%s): %v", f.FieldNumber, f.Name, err)
		}
		return n, nil
	case TypeSint32:
		var n int64
		if err := rlp.DecodeBytes(raw, &n); err != nil {
			return nil, newCodecError(ErrOverflow, "field %d (%s): %v", f.FieldNumber, f.Name, err)
		}
		return int32(n), nil
	case TypeSint64:
		var n int64
		if err := rlp.DecodeBytes(raw, &n); err != nil {
			return nil, newCodecError(ErrOverflow, "field %d (%s): %v", f.FieldNumber, f.Name, err)
		}
		return n, nil
	case TypeBoolean:
		var b bool
		if err := rlp.DecodeBytes(raw, &b); err != nil {
			return nil, newCodecError(ErrWrongType, "field %d (%s): %v", f.FieldNumber, f.Name, err)
		}
		return b, nil
	default:
		return nil, newCodecError(ErrWrongType, "field %d (%s): unknown data type", f.FieldNumber, f.Name)
	}
}

func toUint64(v interface{}) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case uint32:
		return uint64(n), true
	case int:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	default:
		return 0, false
	}
}

// --- concrete schemas for the two top-level wire types -------------------

var blockHeaderSchema = &Schema{Fields: []FieldSchema{
	{FieldNumber: 1, Name: "version", DataType: TypeUint32, Required: true},
	{FieldNumber: 2, Name: "height", DataType: TypeUint32, Required: true},
	{FieldNumber: 3, Name: "timestamp", DataType: TypeUint32, Required: true},
	{FieldNumber: 4, Name: "previousBlockID", DataType: TypeBytes, Required: true},
	{FieldNumber: 5, Name: "generatorAddress", DataType: TypeBytes, Required: true},
	{FieldNumber: 6, Name: "transactionRoot", DataType: TypeBytes, Required: true},
	{FieldNumber: 7, Name: "stateRoot", DataType: TypeBytes, Required: true},
	{FieldNumber: 8, Name: "assets", DataType: TypeArrayOfObject, Required: false},
	{FieldNumber: 9, Name: "signature", DataType: TypeBytes, Required: false},
}}

var transactionSchema = &Schema{Fields: []FieldSchema{
	{FieldNumber: 1, Name: "moduleID", DataType: TypeUint32, Required: true},
	{FieldNumber: 2, Name: "assetID", DataType: TypeUint32, Required: true},
	{FieldNumber: 3, Name: "nonce", DataType: TypeUint64, Required: true},
	{FieldNumber: 4, Name: "fee", DataType: TypeUint64, Required: true},
	{FieldNumber: 5, Name: "senderPublicKey", DataType: TypeBytes, Required: true},
	{FieldNumber: 6, Name: "signatures", DataType: TypeArrayOfObject, Required: false},
	{FieldNumber: 7, Name: "asset", DataType: TypeObject, Required: false},
}}

// EncodeBlockHeader produces the canonical encoding of a block header,
// signature included — block ids are content-addressed over this byte
// string (§3).
func EncodeBlockHeader(h *BlockHeader) ([]byte, error) {
	assets, err := rlp.EncodeToBytes(h.Assets)
	if err != nil {
		return nil, newCodecError(ErrOverflow, "assets: %v", err)
	}
	values := map[uint32]interface{}{
		1: h.Version,
		2: h.Height,
		3: h.Timestamp,
		4: []byte(h.PreviousBlockID),
		5: []byte(h.GeneratorAddress),
		6: []byte(h.TransactionRoot),
		7: []byte(h.StateRoot),
		8: assets,
	}
	if len(h.Signature) > 0 {
		values[9] = h.Signature
	}
	return Encode(blockHeaderSchema, values)
}

// DecodeBlockHeader parses bytes produced by EncodeBlockHeader.
func DecodeBlockHeader(data []byte) (*BlockHeader, error) {
	values, err := Decode(blockHeaderSchema, data)
	if err != nil {
		return nil, err
	}
	h := &BlockHeader{
		Version:          values[1].(uint32),
		Height:           values[2].(uint32),
		Timestamp:        values[3].(uint32),
		PreviousBlockID:  ID(values[4].([]byte)),
		GeneratorAddress: Address(values[5].([]byte)),
		TransactionRoot:  ID(values[6].([]byte)),
		StateRoot:        ID(values[7].([]byte)),
	}
	if raw, ok := values[8].([]byte); ok && len(raw) > 0 {
		if err := rlp.DecodeBytes(raw, &h.Assets); err != nil {
			return nil, newCodecError(ErrTruncated, "assets: %v", err)
		}
	}
	if sig, ok := values[9].([]byte); ok {
		h.Signature = sig
	}
	return h, nil
}

// EncodeTransaction produces the canonical encoding of a transaction; tx
// ids are content-addressed over this byte string.
func EncodeTransaction(tx *Transaction) ([]byte, error) {
	sigs, err := rlp.EncodeToBytes(tx.Signatures)
	if err != nil {
		return nil, newCodecError(ErrOverflow, "signatures: %v", err)
	}
	values := map[uint32]interface{}{
		1: tx.ModuleID,
		2: tx.AssetID,
		3: tx.Nonce,
		4: tx.Fee,
		5: tx.SenderPublicKey,
		6: sigs,
	}
	if len(tx.Asset) > 0 {
		values[7] = []byte(tx.Asset)
	}
	return Encode(transactionSchema, values)
}

// DecodeTransaction parses bytes produced by EncodeTransaction.
func DecodeTransaction(data []byte) (*Transaction, error) {
	values, err := Decode(transactionSchema, data)
	if err != nil {
		return nil, err
	}
	tx := &Transaction{
		ModuleID:        values[1].(uint32),
		AssetID:         values[2].(uint32),
		Nonce:           values[3].(uint64),
		Fee:             values[4].(uint64),
		SenderPublicKey: values[5].([]byte),
	}
	if raw, ok := values[6].([]byte); ok && len(raw) > 0 {
		if err := rlp.DecodeBytes(raw, &tx.Signatures); err != nil {
			return nil, newCodecError(ErrTruncated, "signatures: %v", err)
		}
	}
	if asset, ok := values[7].([]byte); ok {
		tx.Asset = Asset(asset)
	}
	return tx, nil
}
