package channel

import (
	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcd/wire"
)

// BuildSettlementTx produces a settlement transaction for payee value
// payeeValue: it spends the contract output, paying payeeValue to the
// payee and value-payeeValue-fee to the payer, dropping the payer output
// if it would fall below dust. The transaction carries no lock time.
func BuildSettlementTx(contract ChannelContract, payeeScript, payerScript []byte, payeeValue, fee, dust int64) (*wire.MsgTx, error) {
	if payeeValue < 0 || payeeValue > contract.Value {
		return nil, ErrValueTooLarge
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: contract.ContractTxID, Index: contract.Vout}, nil, nil))

	if payeeValue > 0 {
		tx.AddTxOut(wire.NewTxOut(payeeValue, payeeScript))
	}

	payerValue := contract.Value - payeeValue - fee
	if payerValue >= dust {
		tx.AddTxOut(wire.NewTxOut(payerValue, payerScript))
	}

	return tx, nil
}

// SignSettlement produces one party's signature over the settlement
// transaction, under the contract's redeem script.
func SignSettlement(tx *wire.MsgTx, redeemScript []byte, privKey *btcec.PrivateKey) ([]byte, error) {
	return SignRefund(tx, redeemScript, 0, privKey)
}

// VerifySettlementSignature checks sig against the settlement
// transaction's sighash for the given redeem script and public key.
func VerifySettlementSignature(tx *wire.MsgTx, redeemScript []byte, sig []byte, pubKey *btcec.PublicKey) error {
	return verifyRawSignature(tx, 0, redeemScript, sig, pubKey)
}

// CompleteSettlement attaches both multisig signatures to the settlement
// transaction's input.
func CompleteSettlement(tx *wire.MsgTx, redeemScript []byte, payerSig, payeeSig []byte, payerPubKey, payeePubKey *btcec.PublicKey) (*wire.MsgTx, error) {
	return CompleteRefund(tx, redeemScript, payerSig, payeeSig, payerPubKey, payeePubKey)
}
