package channel

import (
	"bytes"

	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// lockTimeSequence is the nSequence value that must be set on an input for
// the transaction's nLockTime to be enforced by consensus.
const lockTimeSequence = wire.MaxTxInSequenceNum - 1

// BuildRefundTx produces the unsigned refund transaction: it spends the
// contract output entirely back to the payer, with the transaction's lock
// time set to the contract's expiry.
func BuildRefundTx(contract ChannelContract, payerScript []byte) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	txIn := wire.NewTxIn(&wire.OutPoint{Hash: contract.ContractTxID, Index: contract.Vout}, nil, nil)
	txIn.Sequence = lockTimeSequence
	tx.AddTxIn(txIn)
	tx.AddTxOut(wire.NewTxOut(contract.Value, payerScript))
	tx.LockTime = uint32(contract.Expiry)
	return tx
}

// SignRefund produces one party's signature over the refund transaction,
// under the contract's redeem script.
func SignRefund(tx *wire.MsgTx, redeemScript []byte, inputValue int64, privKey *btcec.PrivateKey) ([]byte, error) {
	return txscript.RawTxInSignature(tx, 0, redeemScript, txscript.SigHashAll, privKey)
}

// VerifyRefundSignature checks sig against the refund transaction's sighash
// for the given redeem script and public key.
func VerifyRefundSignature(tx *wire.MsgTx, redeemScript []byte, sig []byte, pubKey *btcec.PublicKey) error {
	return verifyRawSignature(tx, 0, redeemScript, sig, pubKey)
}

// CompleteRefund attaches both multisig signatures to the refund
// transaction's input, returning the fully-signed transaction. It verifies
// both before attaching and fails with ErrBadSignature on any mismatch.
func CompleteRefund(tx *wire.MsgTx, redeemScript []byte, payerSig, payeeSig []byte, payerPubKey, payeePubKey *btcec.PublicKey) (*wire.MsgTx, error) {
	if !isExpectedRedeemScript(redeemScript, payerPubKey, payeePubKey) {
		return nil, ErrBadScript
	}
	if err := VerifyRefundSignature(tx, redeemScript, payerSig, payerPubKey); err != nil {
		return nil, err
	}
	if err := VerifyRefundSignature(tx, redeemScript, payeeSig, payeePubKey); err != nil {
		return nil, err
	}

	sigScript, err := multisigSigScript(redeemScript, payerSig, payeeSig)
	if err != nil {
		return nil, err
	}

	out := tx.Copy()
	out.TxIn[0].SignatureScript = sigScript
	return out, nil
}

func multisigSigScript(redeemScript, sig1, sig2 []byte) ([]byte, error) {
	b := txscript.NewScriptBuilder()
	b.AddOp(txscript.OP_FALSE)
	b.AddData(sig1)
	b.AddData(sig2)
	b.AddData(redeemScript)
	return b.Script()
}

func verifyRawSignature(tx *wire.MsgTx, idx int, redeemScript []byte, sig []byte, pubKey *btcec.PublicKey) error {
	if len(sig) == 0 {
		return ErrBadSignature
	}

	parsedSig, err := btcec.ParseDERSignature(sig[:len(sig)-1], btcec.S256())
	if err != nil {
		return ErrBadSignature
	}

	hash, err := txscript.CalcSignatureHash(redeemScript, txscript.SigHashAll, tx, idx)
	if err != nil {
		return err
	}

	if !parsedSig.Verify(hash, pubKey) {
		return ErrBadSignature
	}
	return nil
}

// isExpectedRedeemScript reports whether script is the 2-of-2 multisig
// redeem script for payerPubKey and payeePubKey.
func isExpectedRedeemScript(script []byte, payerPubKey, payeePubKey *btcec.PublicKey) bool {
	expected, err := BuildContractScript(payerPubKey, payeePubKey)
	if err != nil {
		return false
	}
	return bytes.Equal(script, expected)
}
