package channel

import (
	"errors"

	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"
)

// MinFee is the fixed protocol minimum fee subtracted from the payer's
// settlement output, in satoshis.
const MinFee = 5000

// DustThreshold is the named parameter below which an output is suppressed
// rather than created, as used by BuildSettlementTx.
const DustThreshold = 546

// DefaultMaxTimeWindow is the payer's default acceptable window between now
// and a server-offered expiry (spec.md scenario 4).
const DefaultMaxTimeWindow = 24 * 60 * 60

// ChannelContract is the immutable record of a channel's on-chain funding
// output: its identifier, value, absolute expiry, and the two keys
// committed to the 2-of-2 output. It is created once, when the payer
// proposes a contract, and never mutated afterward.
type ChannelContract struct {
	ContractTxID chainhash.Hash
	Vout         uint32
	Value        int64
	Expiry       int64
	Net          string

	PayerPubKey *btcec.PublicKey
	PayeePubKey *btcec.PublicKey
}

// BuildContractScript returns the 2-of-2 redeem script committing the
// contract output to payer and payee. There is no timeout branch in this
// script: the refund's enforceability comes entirely from its own
// transaction-level lock time (spec.md section 3), not from the redeem
// script itself.
func BuildContractScript(payerPubKey, payeePubKey *btcec.PublicKey) ([]byte, error) {
	b := txscript.NewScriptBuilder()
	b.AddOp(txscript.OP_2)
	b.AddData(payerPubKey.SerializeCompressed())
	b.AddData(payeePubKey.SerializeCompressed())
	b.AddOp(txscript.OP_2)
	b.AddOp(txscript.OP_CHECKMULTISIG)
	return b.Script()
}

// ContractAddress derives the P2SH address for a contract's redeem script.
func ContractAddress(redeemScript []byte, net *chaincfg.Params) (btcutil.Address, error) {
	return btcutil.NewAddressScriptHash(redeemScript, net)
}

// FundingInput is a UTXO selected by the payer's wallet to fund the
// contract. Wallet/UTXO selection itself is out of scope; the caller
// supplies already-selected inputs.
type FundingInput struct {
	Outpoint wire.OutPoint
	Value    int64
	PkScript []byte
}

// InputSigner produces the signature script for funding input idx of tx.
// It stands in for the wallet's signing capability, which is out of scope
// for this package.
type InputSigner func(tx *wire.MsgTx, idx int, in FundingInput) ([]byte, error)

// BuildContractTx assembles the funding transaction: a single 2-of-2 output
// of value, the supplied funding inputs, and a change output for any
// leftover value. It signs the funding inputs via sign and does not sign
// the 2-of-2 output, since nothing exists yet to sign against it.
func BuildContractTx(
	payerPubKey, payeePubKey *btcec.PublicKey,
	net *chaincfg.Params,
	inputs []FundingInput,
	value int64,
	changeScript []byte,
	sign InputSigner,
) (*wire.MsgTx, []byte, error) {
	if value <= 0 {
		return nil, nil, errors.New("contract value must be positive")
	}
	if len(inputs) == 0 {
		return nil, nil, errors.New("no funding inputs supplied")
	}

	redeemScript, err := BuildContractScript(payerPubKey, payeePubKey)
	if err != nil {
		return nil, nil, err
	}
	addr, err := ContractAddress(redeemScript, net)
	if err != nil {
		return nil, nil, err
	}
	contractScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, nil, err
	}

	var total int64
	tx := wire.NewMsgTx(wire.TxVersion)
	for _, in := range inputs {
		tx.AddTxIn(wire.NewTxIn(&in.Outpoint, nil, nil))
		total += in.Value
	}
	if total < value {
		return nil, nil, errors.New("funding inputs do not cover contract value")
	}

	tx.AddTxOut(wire.NewTxOut(value, contractScript))
	if change := total - value; change > DustThreshold && changeScript != nil {
		tx.AddTxOut(wire.NewTxOut(change, changeScript))
	}

	for i, in := range inputs {
		sigScript, err := sign(tx, i, in)
		if err != nil {
			return nil, nil, err
		}
		tx.TxIn[i].SignatureScript = sigScript
	}

	return tx, redeemScript, nil
}
