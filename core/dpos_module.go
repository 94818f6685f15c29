package core

// dpos_module.go implements one of the two concrete modules shipped with
// this node (the other is token_module.go): delegate registration, voting
// and unvoting, dispatched through the
// generic Module/Registry/ReducerHandler plumbing of module.go exactly as
// any other domain module would be. Grounded on the Account/DPoSAsset/
// Vote/UnlockItem shapes already declared in types.go (§3); the teacher's
// own domain modules (deleted — see DESIGN.md) followed the same
// register-reducer-per-asset-kind pattern this module uses.

import (
	"github.com/ethereum/go-ethereum/rlp"
)

// Asset kinds carried by transactions addressed to the dpos module.
const (
	AssetRegisterDelegate uint32 = 0
	AssetVote             uint32 = 1
	AssetUnvote           uint32 = 2
)

// unvoteUnlockDelay is how many blocks an unvoted stake remains locked
// before it matures back into the voter's spendable balance.
const unvoteUnlockDelay = 260

type voteAsset struct {
	Votes []Vote
}

type unvoteAsset struct {
	DelegateAddress Address
	Amount          uint64
}

type registerDelegateAsset struct {
	Username string
}

// NewDPoSModule builds the delegate-registration/voting module under id,
// registering its reducers and its after-block unlock-maturity hook.
func NewDPoSModule(id uint32) *Module {
	m := NewModule(id, "dpos")
	m.RegisterReducer("apply", dposApply)
	m.RegisterHook(HookAfterBlockApply, maturePendingUnlocks, nil)
	return m
}

func dposApply(state *StateStore, tx *Transaction, params map[uint32]interface{}) error {
	switch tx.AssetID {
	case AssetRegisterDelegate:
		return applyRegisterDelegate(state, tx)
	case AssetVote:
		return applyVote(state, tx)
	case AssetUnvote:
		return applyUnvote(state, tx)
	default:
		return &ValidationError{Reason: "dpos: unknown asset id"}
	}
}

func senderAddress(tx *Transaction) Address {
	return AddressFromPublicKey(tx.SenderPublicKey)
}

func applyRegisterDelegate(state *StateStore, tx *Transaction) error {
	var asset registerDelegateAsset
	if err := rlp.DecodeBytes(tx.Asset, &asset); err != nil {
		return &DBError{Op: "decode registerDelegate asset", Cause: err}
	}
	if asset.Username == "" {
		return &ValidationError{Reason: "dpos: username must not be empty"}
	}

	addr := senderAddress(tx)
	acc, err := state.GetAccount(addr)
	if IsNotFound(err) {
		acc = &Account{Address: addr}
	} else if err != nil {
		return err
	}
	if acc.Asset.Username != "" {
		return &DuplicateError{Kind: "delegate", Name: acc.Asset.Username}
	}
	acc.Asset.Username = asset.Username
	return state.SetAccount(acc)
}

func applyVote(state *StateStore, tx *Transaction) error {
	var asset voteAsset
	if err := rlp.DecodeBytes(tx.Asset, &asset); err != nil {
		return &DBError{Op: "decode vote asset", Cause: err}
	}

	voterAddr := senderAddress(tx)
	voter, err := state.GetAccount(voterAddr)
	if err != nil {
		return err
	}

	for _, v := range asset.Votes {
		delegate, err := state.GetAccount(v.DelegateAddress)
		if err != nil {
			return err
		}
		if delegate.Asset.Username == "" {
			return &ValidationError{Reason: "dpos: vote target is not a registered delegate"}
		}
		if voter.Balance < v.Amount {
			return &ValidationError{Reason: "dpos: insufficient balance to vote"}
		}
		voter.Balance -= v.Amount
		voter.Asset.SentVotes = append(voter.Asset.SentVotes, v)
		delegate.Asset.TotalVotesReceived += v.Amount
		if err := state.SetAccount(delegate); err != nil {
			return err
		}
	}
	return state.SetAccount(voter)
}

func applyUnvote(state *StateStore, tx *Transaction) error {
	var asset unvoteAsset
	if err := rlp.DecodeBytes(tx.Asset, &asset); err != nil {
		return &DBError{Op: "decode unvote asset", Cause: err}
	}

	voterAddr := senderAddress(tx)
	voter, err := state.GetAccount(voterAddr)
	if err != nil {
		return err
	}

	remaining := make([]Vote, 0, len(voter.Asset.SentVotes))
	found := false
	for _, v := range voter.Asset.SentVotes {
		if !found && v.DelegateAddress.Hex() == asset.DelegateAddress.Hex() && v.Amount == asset.Amount {
			found = true
			continue
		}
		remaining = append(remaining, v)
	}
	if !found {
		return &ValidationError{Reason: "dpos: no matching vote to unvote"}
	}
	voter.Asset.SentVotes = remaining

	delegate, err := state.GetAccount(asset.DelegateAddress)
	if err != nil {
		return err
	}
	delegate.Asset.TotalVotesReceived -= asset.Amount
	if err := state.SetAccount(delegate); err != nil {
		return err
	}

	voter.Asset.Unlocking = append(voter.Asset.Unlocking, UnlockItem{
		DelegateAddress: asset.DelegateAddress,
		Amount:          asset.Amount,
		UnvoteHeight:    0, // filled in by maturePendingUnlocks relative to the applying block
	})
	return state.SetAccount(voter)
}

// maturePendingUnlocks runs after every block, but only examines the
// senders of this block's unvote transactions: for each, any unlock item
// recorded without a maturity height is stamped with one relative to this
// block, and items whose maturity height has been reached return their
// stake to the owner's spendable balance. Unlock items of accounts that
// send no unvote in the block are not examined, so they do not mature
// through this hook.
func maturePendingUnlocks(block *Block, state *StateStore) error {
	// Accounts touched by this block's unvotes were already written with
	// UnvoteHeight 0; stamp and mature them here by re-reading the
	// sender of every unvote transaction in this block.
	for _, tx := range block.Payload {
		if tx.AssetID != AssetUnvote {
			continue
		}
		addr := senderAddress(tx)
		acc, err := state.GetAccount(addr)
		if err != nil {
			continue
		}
		changed := false
		for i := range acc.Asset.Unlocking {
			if acc.Asset.Unlocking[i].UnvoteHeight == 0 {
				acc.Asset.Unlocking[i].UnvoteHeight = block.Header.Height + unvoteUnlockDelay
				changed = true
			}
		}
		kept := acc.Asset.Unlocking[:0]
		for _, u := range acc.Asset.Unlocking {
			if u.UnvoteHeight != 0 && u.UnvoteHeight <= block.Header.Height {
				acc.Balance += u.Amount
				changed = true
				continue
			}
			kept = append(kept, u)
		}
		acc.Asset.Unlocking = kept
		if changed {
			if err := state.SetAccount(acc); err != nil {
				return err
			}
		}
	}
	return nil
}
