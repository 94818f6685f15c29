package core

import (
	"bytes"
	"testing"
)

func registerDelegateTx(t *testing.T, pubKey []byte, username string) *Transaction {
	t.Helper()
	return &Transaction{
		ModuleID:        2,
		AssetID:         AssetRegisterDelegate,
		SenderPublicKey: pubKey,
		Asset:           encodeAsset(t, registerDelegateAsset{Username: username}),
	}
}

func voteTx(t *testing.T, pubKey []byte, votes ...Vote) *Transaction {
	t.Helper()
	return &Transaction{
		ModuleID:        2,
		AssetID:         AssetVote,
		SenderPublicKey: pubKey,
		Asset:           encodeAsset(t, voteAsset{Votes: votes}),
	}
}

func unvoteTx(t *testing.T, pubKey []byte, delegate Address, amount uint64) *Transaction {
	t.Helper()
	return &Transaction{
		ModuleID:        2,
		AssetID:         AssetUnvote,
		SenderPublicKey: pubKey,
		Asset:           encodeAsset(t, unvoteAsset{DelegateAddress: delegate, Amount: amount}),
	}
}

func TestDPoSApplyRegisterDelegate(t *testing.T) {
	kv := openTestKV(t)
	state := NewStateStore(kv)
	pubKey := bytes.Repeat([]byte{0x10}, 32)

	tx := registerDelegateTx(t, pubKey, "alice")
	if err := dposApply(state, tx, nil); err != nil {
		t.Fatalf("apply: %v", err)
	}

	acc, err := state.GetAccount(AddressFromPublicKey(pubKey))
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if acc.Asset.Username != "alice" {
		t.Fatalf("got username %q, want alice", acc.Asset.Username)
	}
}

func TestDPoSApplyRegisterDelegateRejectsDuplicate(t *testing.T) {
	kv := openTestKV(t)
	state := NewStateStore(kv)
	pubKey := bytes.Repeat([]byte{0x11}, 32)
	if err := dposApply(state, registerDelegateTx(t, pubKey, "alice"), nil); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := dposApply(state, registerDelegateTx(t, pubKey, "alice-again"), nil)
	if _, ok := err.(*DuplicateError); !ok {
		t.Fatalf("expected *DuplicateError, got %v", err)
	}
}

func TestDPoSApplyRegisterDelegateRejectsEmptyUsername(t *testing.T) {
	kv := openTestKV(t)
	state := NewStateStore(kv)
	pubKey := bytes.Repeat([]byte{0x12}, 32)
	if err := dposApply(state, registerDelegateTx(t, pubKey, ""), nil); err == nil {
		t.Fatalf("expected empty-username rejection")
	}
}

func TestDPoSApplyVoteAndUnvoteLifecycle(t *testing.T) {
	kv := openTestKV(t)
	state := NewStateStore(kv)

	delegatePub := bytes.Repeat([]byte{0x20}, 32)
	delegateAddr := AddressFromPublicKey(delegatePub)
	if err := dposApply(state, registerDelegateTx(t, delegatePub, "delegate"), nil); err != nil {
		t.Fatalf("register delegate: %v", err)
	}

	voterPub := bytes.Repeat([]byte{0x21}, 32)
	voterAddr := AddressFromPublicKey(voterPub)
	if err := state.SetAccount(&Account{Address: voterAddr, Balance: 1000}); err != nil {
		t.Fatalf("seed voter: %v", err)
	}

	vtx := voteTx(t, voterPub, Vote{DelegateAddress: delegateAddr, Amount: 300})
	if err := dposApply(state, vtx, nil); err != nil {
		t.Fatalf("vote: %v", err)
	}

	voter, err := state.GetAccount(voterAddr)
	if err != nil {
		t.Fatalf("get voter: %v", err)
	}
	if voter.Balance != 700 {
		t.Fatalf("got voter balance %d, want 700", voter.Balance)
	}
	if len(voter.Asset.SentVotes) != 1 {
		t.Fatalf("expected 1 sent vote, got %d", len(voter.Asset.SentVotes))
	}

	delegate, err := state.GetAccount(delegateAddr)
	if err != nil {
		t.Fatalf("get delegate: %v", err)
	}
	if delegate.Asset.TotalVotesReceived != 300 {
		t.Fatalf("got total votes received %d, want 300", delegate.Asset.TotalVotesReceived)
	}

	utx := unvoteTx(t, voterPub, delegateAddr, 300)
	if err := dposApply(state, utx, nil); err != nil {
		t.Fatalf("unvote: %v", err)
	}

	voterAfterUnvote, err := state.GetAccount(voterAddr)
	if err != nil {
		t.Fatalf("get voter after unvote: %v", err)
	}
	if len(voterAfterUnvote.Asset.SentVotes) != 0 {
		t.Fatalf("expected vote removed from sent votes")
	}
	if len(voterAfterUnvote.Asset.Unlocking) != 1 {
		t.Fatalf("expected 1 pending unlock item, got %d", len(voterAfterUnvote.Asset.Unlocking))
	}
	if voterAfterUnvote.Asset.Unlocking[0].UnvoteHeight != 0 {
		t.Fatalf("expected unstamped unlock height before maturePendingUnlocks runs")
	}
	if voterAfterUnvote.Balance != 700 {
		t.Fatalf("unvoted stake must stay locked, not be returned yet")
	}

	delegateAfterUnvote, err := state.GetAccount(delegateAddr)
	if err != nil {
		t.Fatalf("get delegate after unvote: %v", err)
	}
	if delegateAfterUnvote.Asset.TotalVotesReceived != 0 {
		t.Fatalf("got total votes received %d, want 0 after unvote", delegateAfterUnvote.Asset.TotalVotesReceived)
	}
}

func TestDPoSApplyVoteRejectsUnregisteredDelegate(t *testing.T) {
	kv := openTestKV(t)
	state := NewStateStore(kv)
	voterPub := bytes.Repeat([]byte{0x22}, 32)
	if err := state.SetAccount(&Account{Address: AddressFromPublicKey(voterPub), Balance: 100}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := state.SetAccount(&Account{Address: Address{0x30}}); err != nil {
		t.Fatalf("seed non-delegate: %v", err)
	}
	tx := voteTx(t, voterPub, Vote{DelegateAddress: Address{0x30}, Amount: 10})
	if err := dposApply(state, tx, nil); err == nil {
		t.Fatalf("expected rejection of voting for a non-delegate account")
	}
}

func TestMaturePendingUnlocksStampsThenReleases(t *testing.T) {
	kv := openTestKV(t)
	state := NewStateStore(kv)

	delegatePub := bytes.Repeat([]byte{0x23}, 32)
	delegateAddr := AddressFromPublicKey(delegatePub)
	if err := dposApply(state, registerDelegateTx(t, delegatePub, "delegate"), nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	voterPub := bytes.Repeat([]byte{0x24}, 32)
	voterAddr := AddressFromPublicKey(voterPub)
	if err := state.SetAccount(&Account{Address: voterAddr, Balance: 500}); err != nil {
		t.Fatalf("seed voter: %v", err)
	}
	if err := dposApply(state, voteTx(t, voterPub, Vote{DelegateAddress: delegateAddr, Amount: 200}), nil); err != nil {
		t.Fatalf("vote: %v", err)
	}
	utx := unvoteTx(t, voterPub, delegateAddr, 200)
	if err := dposApply(state, utx, nil); err != nil {
		t.Fatalf("unvote: %v", err)
	}

	unlockBlock := &Block{Header: BlockHeader{Height: 100}, Payload: []*Transaction{utx}}
	if err := maturePendingUnlocks(unlockBlock, state); err != nil {
		t.Fatalf("mature (stamp): %v", err)
	}

	stamped, err := state.GetAccount(voterAddr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(stamped.Asset.Unlocking) != 1 || stamped.Asset.Unlocking[0].UnvoteHeight != 100+unvoteUnlockDelay {
		t.Fatalf("expected unlock stamped to height %d, got %+v", 100+unvoteUnlockDelay, stamped.Asset.Unlocking)
	}
	if stamped.Balance != 300 {
		t.Fatalf("got balance %d, want 300 (still locked)", stamped.Balance)
	}

	maturedBlock := &Block{Header: BlockHeader{Height: 100 + unvoteUnlockDelay}, Payload: []*Transaction{utx}}
	if err := maturePendingUnlocks(maturedBlock, state); err != nil {
		t.Fatalf("mature (release): %v", err)
	}

	released, err := state.GetAccount(voterAddr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(released.Asset.Unlocking) != 0 {
		t.Fatalf("expected unlock item cleared after maturity")
	}
	if released.Balance != 500 {
		t.Fatalf("got balance %d, want 500 after unlock released", released.Balance)
	}
}
