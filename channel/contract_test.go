package channel

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
)

func TestBuildContractTxSingleOutputAtZero(t *testing.T) {
	payerKey, payeeKey := setUpKeys(t)
	inputs, sign := stubFundingInputs(t, testCapacity+MinFee)

	tx, redeemScript, err := BuildContractTx(payerKey.PubKey(), payeeKey.PubKey(), &chaincfg.TestNet3Params, inputs, testCapacity, nil, sign)
	if err != nil {
		t.Fatal(err)
	}
	if len(redeemScript) == 0 {
		t.Fatal("expected a non-empty redeem script")
	}
	if len(tx.TxOut) != 1 {
		t.Fatalf("expected a single output with no change, got %d", len(tx.TxOut))
	}
	if tx.TxOut[0].Value != testCapacity {
		t.Errorf("contract output value = %d, want %d", tx.TxOut[0].Value, testCapacity)
	}
	if len(tx.TxIn[0].SignatureScript) == 0 {
		t.Error("expected funding input to be signed")
	}
}

func TestBuildContractTxAddsChange(t *testing.T) {
	payerKey, payeeKey := setUpKeys(t)
	inputs, sign := stubFundingInputs(t, testCapacity+10*DustThreshold)

	tx, _, err := BuildContractTx(payerKey.PubKey(), payeeKey.PubKey(), &chaincfg.TestNet3Params, inputs, testCapacity, scriptFor(t, testAddr1), sign)
	if err != nil {
		t.Fatal(err)
	}
	if len(tx.TxOut) != 2 {
		t.Fatalf("expected a change output, got %d outputs", len(tx.TxOut))
	}
}

func TestBuildContractTxInsufficientFunds(t *testing.T) {
	payerKey, payeeKey := setUpKeys(t)
	inputs, sign := stubFundingInputs(t, testCapacity/2)

	_, _, err := BuildContractTx(payerKey.PubKey(), payeeKey.PubKey(), &chaincfg.TestNet3Params, inputs, testCapacity, nil, sign)
	if err == nil {
		t.Fatal("expected an error for underfunded inputs")
	}
}

func TestRefundSignatureRoundTrip(t *testing.T) {
	payerKey, payeeKey := setUpKeys(t)
	redeemScript, err := BuildContractScript(payerKey.PubKey(), payeeKey.PubKey())
	if err != nil {
		t.Fatal(err)
	}

	contract := ChannelContract{
		Value:  testCapacity,
		Expiry: testNow + 3600,
	}
	refundTx := BuildRefundTx(contract, scriptFor(t, testAddr1))

	payerSig, err := SignRefund(refundTx, redeemScript, contract.Value, payerKey)
	if err != nil {
		t.Fatal(err)
	}
	payeeSig, err := SignRefund(refundTx, redeemScript, contract.Value, payeeKey)
	if err != nil {
		t.Fatal(err)
	}

	if err := VerifyRefundSignature(refundTx, redeemScript, payerSig, payerKey.PubKey()); err != nil {
		t.Errorf("payer signature failed to verify: %v", err)
	}
	if err := VerifyRefundSignature(refundTx, redeemScript, payeeSig, payeeKey.PubKey()); err != nil {
		t.Errorf("payee signature failed to verify: %v", err)
	}

	signed, err := CompleteRefund(refundTx, redeemScript, payerSig, payeeSig, payerKey.PubKey(), payeeKey.PubKey())
	if err != nil {
		t.Fatal(err)
	}
	if len(signed.TxIn[0].SignatureScript) == 0 {
		t.Error("expected a non-empty sigScript on the completed refund")
	}
}

func TestCompleteRefundRejectsBadSignature(t *testing.T) {
	payerKey, payeeKey := setUpKeys(t)
	_, otherKey := setUpKeys(t) // the payee key signs in the payer's slot, so the payer signature is wrong
	redeemScript, err := BuildContractScript(payerKey.PubKey(), payeeKey.PubKey())
	if err != nil {
		t.Fatal(err)
	}

	contract := ChannelContract{Value: testCapacity, Expiry: testNow + 3600}
	refundTx := BuildRefundTx(contract, scriptFor(t, testAddr1))

	badSig, err := SignRefund(refundTx, redeemScript, contract.Value, otherKey)
	if err != nil {
		t.Fatal(err)
	}
	payeeSig, err := SignRefund(refundTx, redeemScript, contract.Value, payeeKey)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := CompleteRefund(refundTx, redeemScript, badSig, payeeSig, payerKey.PubKey(), payeeKey.PubKey()); err != ErrBadSignature {
		t.Errorf("expected ErrBadSignature, got %v", err)
	}
}

func TestBuildSettlementTxDropsDustPayerOutput(t *testing.T) {
	contract := ChannelContract{Value: testCapacity}

	tx, err := BuildSettlementTx(contract, scriptFor(t, testAddr2), scriptFor(t, testAddr1), testCapacity-MinFee, MinFee, DustThreshold)
	if err != nil {
		t.Fatal(err)
	}
	if len(tx.TxOut) != 1 {
		t.Fatalf("expected the dust payer output to be dropped, got %d outputs", len(tx.TxOut))
	}
	if tx.TxOut[0].Value != testCapacity-MinFee {
		t.Errorf("payee output = %d, want %d", tx.TxOut[0].Value, testCapacity-MinFee)
	}
}

func TestBuildSettlementTxRejectsOverCapacity(t *testing.T) {
	contract := ChannelContract{Value: testCapacity}
	if _, err := BuildSettlementTx(contract, scriptFor(t, testAddr2), scriptFor(t, testAddr1), testCapacity+1, MinFee, DustThreshold); err != ErrValueTooLarge {
		t.Errorf("expected ErrValueTooLarge, got %v", err)
	}
}
