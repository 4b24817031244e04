package channel

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
)

func TestServerProvideRefundRejectsShortLockTime(t *testing.T) {
	_, payeeKey := setUpKeys(t)
	payerKey, _ := setUpKeys(t)
	server := NewServerChannelState(ServerConfig{Net: &chaincfg.TestNet3Params}, scriptFor(t, testAddr2), payeeKey)

	expiry := int64(testNow) + 3600
	contract := ChannelContract{Value: testCapacity, Expiry: expiry}
	refundTx := BuildRefundTx(contract, scriptFor(t, testAddr1))
	refundTx.LockTime = uint32(expiry - 1) // short of the offered expiry

	_, err := server.ProvideRefund(payerKey.PubKey().SerializeCompressed(), refundTx, testCapacity, expiry, scriptFor(t, testAddr1), testNow)
	if err != ErrBadTransaction {
		t.Errorf("expected ErrBadTransaction, got %v", err)
	}
}

func TestServerProvideRefundRejectsWrongValue(t *testing.T) {
	_, payeeKey := setUpKeys(t)
	payerKey, _ := setUpKeys(t)
	server := NewServerChannelState(ServerConfig{Net: &chaincfg.TestNet3Params}, scriptFor(t, testAddr2), payeeKey)

	expiry := int64(testNow) + 3600
	contract := ChannelContract{Value: testCapacity, Expiry: expiry}
	refundTx := BuildRefundTx(contract, scriptFor(t, testAddr1))

	_, err := server.ProvideRefund(payerKey.PubKey().SerializeCompressed(), refundTx, testCapacity+1, expiry, scriptFor(t, testAddr1), testNow)
	if err != ErrBadTransaction {
		t.Errorf("expected ErrBadTransaction, got %v", err)
	}
}

func TestServerIncrementPaymentRejectsBeforeOpen(t *testing.T) {
	_, payeeKey := setUpKeys(t)
	server := NewServerChannelState(ServerConfig{Net: &chaincfg.TestNet3Params}, scriptFor(t, testAddr2), payeeKey)

	if err := server.IncrementPayment(nil, nil); err != ErrChannelNotOpen {
		t.Errorf("expected ErrChannelNotOpen, got %v", err)
	}
}

func TestServerCloseWithoutPaymentsBuildsZeroSettlement(t *testing.T) {
	_, server := setUpChannel(t, testCapacity)

	tx, err := server.Close()
	if err != nil {
		t.Fatal(err)
	}
	if len(tx.TxOut) != 1 {
		t.Fatalf("expected a single payer-refund output, got %d", len(tx.TxOut))
	}
	if tx.TxOut[0].Value != testCapacity-server.config.fee() {
		t.Errorf("payer settlement output = %d, want %d", tx.TxOut[0].Value, testCapacity-server.config.fee())
	}
}
