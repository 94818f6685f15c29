package core

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"
)

func encodeAsset(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := rlp.EncodeToBytes(v)
	if err != nil {
		t.Fatalf("encode asset: %v", err)
	}
	return b
}

func transferTx(t *testing.T, sender []byte, nonce, fee, amount uint64, recipient Address) *Transaction {
	t.Helper()
	return &Transaction{
		ModuleID:        1,
		AssetID:         AssetTransfer,
		Nonce:           nonce,
		Fee:             fee,
		SenderPublicKey: sender,
		Asset:           encodeAsset(t, transferAsset{Recipient: recipient, Amount: amount}),
	}
}

func TestTokenApplyTransfersBalanceAndBumpsNonce(t *testing.T) {
	kv := openTestKV(t)
	state := NewStateStore(kv)

	pubKey := bytes.Repeat([]byte{0x01}, 32)
	senderAddr := AddressFromPublicKey(pubKey)
	recipient := Address{2, 2, 2}

	if err := state.SetAccount(&Account{Address: senderAddr, Balance: 100}); err != nil {
		t.Fatalf("seed sender: %v", err)
	}

	tx := transferTx(t, pubKey, 0, 5, 20, recipient)
	if err := tokenApply(state, tx, nil); err != nil {
		t.Fatalf("apply: %v", err)
	}

	sender, err := state.GetAccount(senderAddr)
	if err != nil {
		t.Fatalf("get sender: %v", err)
	}
	if sender.Balance != 75 {
		t.Fatalf("got sender balance %d, want 75", sender.Balance)
	}
	if sender.Nonce != 1 {
		t.Fatalf("got sender nonce %d, want 1", sender.Nonce)
	}

	recv, err := state.GetAccount(recipient)
	if err != nil {
		t.Fatalf("get recipient: %v", err)
	}
	if recv.Balance != 20 {
		t.Fatalf("got recipient balance %d, want 20", recv.Balance)
	}
}

func TestTokenApplyRejectsNonceMismatch(t *testing.T) {
	kv := openTestKV(t)
	state := NewStateStore(kv)
	pubKey := bytes.Repeat([]byte{0x02}, 32)
	senderAddr := AddressFromPublicKey(pubKey)
	if err := state.SetAccount(&Account{Address: senderAddr, Balance: 100, Nonce: 5}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	tx := transferTx(t, pubKey, 0, 1, 10, Address{9})
	if err := tokenApply(state, tx, nil); err == nil {
		t.Fatalf("expected nonce mismatch rejection")
	}
}

func TestTokenApplyRejectsInsufficientBalance(t *testing.T) {
	kv := openTestKV(t)
	state := NewStateStore(kv)
	pubKey := bytes.Repeat([]byte{0x03}, 32)
	senderAddr := AddressFromPublicKey(pubKey)
	if err := state.SetAccount(&Account{Address: senderAddr, Balance: 10}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	tx := transferTx(t, pubKey, 0, 1, 100, Address{9})
	if err := tokenApply(state, tx, nil); err == nil {
		t.Fatalf("expected insufficient balance rejection")
	}
}

func TestTokenApplyRejectsUnknownAsset(t *testing.T) {
	kv := openTestKV(t)
	state := NewStateStore(kv)
	tx := &Transaction{ModuleID: 1, AssetID: 99, SenderPublicKey: bytes.Repeat([]byte{0x04}, 32)}
	if err := tokenApply(state, tx, nil); err == nil {
		t.Fatalf("expected unknown asset rejection")
	}
}
