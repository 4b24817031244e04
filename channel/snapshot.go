package channel

import (
	"bytes"

	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcd/wire"
)

// ClientSnapshot is the persistable view of a ClientChannelState. Key
// material (privKey, the funding inputs, and the wallet's InputSigner)
// belongs to the caller's wallet, not the channel record, and must be
// supplied again to RestoreClientChannelState.
type ClientSnapshot struct {
	Phase        int
	Contract     ChannelContract
	RedeemScript []byte
	PayerScript  []byte
	PayeeScript  []byte

	ContractTx   []byte
	RefundTx     []byte
	SignedRefund []byte
	Settlement   []byte

	Paid        int64
	Settlements []int64
}

// Snapshot captures the channel's current state for persistence.
func (c *ClientChannelState) Snapshot() (ClientSnapshot, error) {
	contractTx, err := serializeOptionalTx(c.contractTx)
	if err != nil {
		return ClientSnapshot{}, err
	}
	refundTx, err := serializeOptionalTx(c.refundTx)
	if err != nil {
		return ClientSnapshot{}, err
	}
	signedRefund, err := serializeOptionalTx(c.signedRefund)
	if err != nil {
		return ClientSnapshot{}, err
	}
	settlement, err := serializeOptionalTx(c.settlement)
	if err != nil {
		return ClientSnapshot{}, err
	}

	return ClientSnapshot{
		Phase:        int(c.phase),
		Contract:     c.contract,
		RedeemScript: c.redeemScript,
		PayerScript:  c.payerScript,
		PayeeScript:  c.payeeScript,
		ContractTx:   contractTx,
		RefundTx:     refundTx,
		SignedRefund: signedRefund,
		Settlement:   settlement,
		Paid:         c.paid,
		Settlements:  append([]int64(nil), c.settlements...),
	}, nil
}

// RestoreClientChannelState rehydrates a ClientChannelState from a
// snapshot taken by Snapshot, re-attaching the wallet-owned key material
// (privKey, the funding inputs, and the signer) the snapshot itself does
// not carry.
func RestoreClientChannelState(
	config ClientConfig,
	fundingInputs []FundingInput,
	changeScript []byte,
	sign InputSigner,
	privKey *btcec.PrivateKey,
	snap ClientSnapshot,
) (*ClientChannelState, error) {
	contractTx, err := deserializeOptionalTx(snap.ContractTx)
	if err != nil {
		return nil, err
	}
	refundTx, err := deserializeOptionalTx(snap.RefundTx)
	if err != nil {
		return nil, err
	}
	signedRefund, err := deserializeOptionalTx(snap.SignedRefund)
	if err != nil {
		return nil, err
	}
	settlement, err := deserializeOptionalTx(snap.Settlement)
	if err != nil {
		return nil, err
	}

	return &ClientChannelState{
		config:        config,
		privKey:       privKey,
		phase:         clientPhase(snap.Phase),
		contract:      snap.Contract,
		contractTx:    contractTx,
		redeemScript:  snap.RedeemScript,
		payerScript:   snap.PayerScript,
		payeeScript:   snap.PayeeScript,
		fundingInputs: fundingInputs,
		changeScript:  changeScript,
		sign:          sign,
		refundTx:      refundTx,
		signedRefund:  signedRefund,
		settlement:    settlement,
		paid:          snap.Paid,
		settlements:   append([]int64(nil), snap.Settlements...),
	}, nil
}

// serializeOptionalTx serializes tx, returning nil if tx is nil.
func serializeOptionalTx(tx *wire.MsgTx) ([]byte, error) {
	if tx == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// deserializeOptionalTx deserializes raw, returning nil if raw is empty.
func deserializeOptionalTx(raw []byte) (*wire.MsgTx, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return tx, nil
}
