package core

// token_module.go implements the balance-transfer module, which moves
// Account.Balance between accounts through the reducer plumbing
// (module.go). Its reducer checks the nonce and charges the fee itself;
// these checks are not applied to other modules' transactions.
// Grounded on the same Account fields DPoSAsset voting spends from (§3).

import "github.com/ethereum/go-ethereum/rlp"

// AssetTransfer is the token module's only asset kind.
const AssetTransfer uint32 = 0

type transferAsset struct {
	Recipient Address
	Amount    uint64
}

// NewTokenModule builds the balance-transfer module under id.
func NewTokenModule(id uint32) *Module {
	m := NewModule(id, "token")
	m.RegisterReducer("apply", tokenApply)
	return m
}

func tokenApply(state *StateStore, tx *Transaction, params map[uint32]interface{}) error {
	if tx.AssetID != AssetTransfer {
		return &ValidationError{Reason: "token: unknown asset id"}
	}
	var asset transferAsset
	if err := rlp.DecodeBytes(tx.Asset, &asset); err != nil {
		return &DBError{Op: "decode transfer asset", Cause: err}
	}

	sender := senderAddress(tx)
	from, err := state.GetAccount(sender)
	if IsNotFound(err) {
		return &ValidationError{Reason: "token: unknown sender account"}
	} else if err != nil {
		return err
	}
	if tx.Nonce != from.Nonce {
		return &ValidationError{Reason: "token: nonce mismatch"}
	}
	if from.Balance < asset.Amount+tx.Fee {
		return &ValidationError{Reason: "token: insufficient balance"}
	}

	to, err := state.GetAccount(asset.Recipient)
	if IsNotFound(err) {
		to = &Account{Address: asset.Recipient}
	} else if err != nil {
		return err
	}

	from.Balance -= asset.Amount + tx.Fee
	from.Nonce++
	to.Balance += asset.Amount

	if err := state.SetAccount(from); err != nil {
		return err
	}
	return state.SetAccount(to)
}
