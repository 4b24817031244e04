package store

import (
	"bytes"
	"encoding/gob"

	"github.com/btcsuite/btcd/btcec"

	"github.com/btcpay/paychan/channel"
)

// clientRecordDTO mirrors ClientRecord for gob encoding: btcec keys don't
// gob-encode cleanly (their curve field is an interface gob can't resolve
// without explicit registration), so keys travel as compressed bytes.
type clientRecordDTO struct {
	ServerID     string
	ContractHash string
	Active       bool
	ExpiresAt    int64

	Phase          int
	Value          int64
	Expiry         int64
	Net            string
	ContractTxID   []byte
	Vout           uint32
	PayerPubKey    []byte
	PayeePubKey    []byte
	RedeemScript   []byte
	PayerScript    []byte
	PayeeScript    []byte
	ContractTx     []byte
	RefundTx       []byte
	SignedRefund   []byte
	Settlement     []byte
	Paid           int64
	Settlements    []int64
}

// ClientRecord is one client-side channel as tracked by ClientStore.
type ClientRecord struct {
	ServerID     string
	ContractHash string
	Snapshot     channel.ClientSnapshot
	Active       bool
	ExpiresAt    int64
}

func encodeClientRecord(rec ClientRecord) ([]byte, error) {
	var payerPubKey, payeePubKey []byte
	if rec.Snapshot.Contract.PayerPubKey != nil {
		payerPubKey = rec.Snapshot.Contract.PayerPubKey.SerializeCompressed()
	}
	if rec.Snapshot.Contract.PayeePubKey != nil {
		payeePubKey = rec.Snapshot.Contract.PayeePubKey.SerializeCompressed()
	}

	dto := clientRecordDTO{
		ServerID:     rec.ServerID,
		ContractHash: rec.ContractHash,
		Active:       rec.Active,
		ExpiresAt:    rec.ExpiresAt,

		Phase:        rec.Snapshot.Phase,
		Value:        rec.Snapshot.Contract.Value,
		Expiry:       rec.Snapshot.Contract.Expiry,
		Net:          rec.Snapshot.Contract.Net,
		ContractTxID: rec.Snapshot.Contract.ContractTxID[:],
		Vout:         rec.Snapshot.Contract.Vout,
		PayerPubKey:  payerPubKey,
		PayeePubKey:  payeePubKey,
		RedeemScript: rec.Snapshot.RedeemScript,
		PayerScript:  rec.Snapshot.PayerScript,
		PayeeScript:  rec.Snapshot.PayeeScript,
		ContractTx:   rec.Snapshot.ContractTx,
		RefundTx:     rec.Snapshot.RefundTx,
		SignedRefund: rec.Snapshot.SignedRefund,
		Settlement:   rec.Snapshot.Settlement,
		Paid:         rec.Snapshot.Paid,
		Settlements:  rec.Snapshot.Settlements,
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(dto); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeClientRecord(data []byte) (ClientRecord, error) {
	var dto clientRecordDTO
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&dto); err != nil {
		return ClientRecord{}, err
	}

	contract := channel.ChannelContract{
		Value:  dto.Value,
		Expiry: dto.Expiry,
		Net:    dto.Net,
		Vout:   dto.Vout,
	}
	copy(contract.ContractTxID[:], dto.ContractTxID)

	if len(dto.PayerPubKey) > 0 {
		pk, err := btcec.ParsePubKey(dto.PayerPubKey, btcec.S256())
		if err != nil {
			return ClientRecord{}, err
		}
		contract.PayerPubKey = pk
	}
	if len(dto.PayeePubKey) > 0 {
		pk, err := btcec.ParsePubKey(dto.PayeePubKey, btcec.S256())
		if err != nil {
			return ClientRecord{}, err
		}
		contract.PayeePubKey = pk
	}

	return ClientRecord{
		ServerID:     dto.ServerID,
		ContractHash: dto.ContractHash,
		Active:       dto.Active,
		ExpiresAt:    dto.ExpiresAt,
		Snapshot: channel.ClientSnapshot{
			Phase:        dto.Phase,
			Contract:     contract,
			RedeemScript: dto.RedeemScript,
			PayerScript:  dto.PayerScript,
			PayeeScript:  dto.PayeeScript,
			ContractTx:   dto.ContractTx,
			RefundTx:     dto.RefundTx,
			SignedRefund: dto.SignedRefund,
			Settlement:   dto.Settlement,
			Paid:         dto.Paid,
			Settlements:  dto.Settlements,
		},
	}, nil
}
