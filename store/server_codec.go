package store

import (
	"bytes"
	"encoding/gob"

	"github.com/btcsuite/btcd/btcec"

	"github.com/btcpay/paychan/channel"
)

type serverRecordDTO struct {
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
	RefundTx       []byte
	BestValue      int64
	BestSettlement []byte
	BestSig        []byte
}

// ServerRecord is one payee-side channel as tracked by ServerStore.
type ServerRecord struct {
	ContractHash string
	Snapshot     channel.ServerSnapshot
	Active       bool
	ExpiresAt    int64
}

func encodeServerRecord(rec ServerRecord) ([]byte, error) {
	var payerPubKey, payeePubKey []byte
	if rec.Snapshot.Contract.PayerPubKey != nil {
		payerPubKey = rec.Snapshot.Contract.PayerPubKey.SerializeCompressed()
	}
	if rec.Snapshot.Contract.PayeePubKey != nil {
		payeePubKey = rec.Snapshot.Contract.PayeePubKey.SerializeCompressed()
	}

	dto := serverRecordDTO{
		ContractHash: rec.ContractHash,
		Active:       rec.Active,
		ExpiresAt:    rec.ExpiresAt,

		Phase:          rec.Snapshot.Phase,
		Value:          rec.Snapshot.Contract.Value,
		Expiry:         rec.Snapshot.Contract.Expiry,
		Net:            rec.Snapshot.Contract.Net,
		ContractTxID:   rec.Snapshot.Contract.ContractTxID[:],
		Vout:           rec.Snapshot.Contract.Vout,
		PayerPubKey:    payerPubKey,
		PayeePubKey:    payeePubKey,
		RedeemScript:   rec.Snapshot.RedeemScript,
		PayerScript:    rec.Snapshot.PayerScript,
		PayeeScript:    rec.Snapshot.PayeeScript,
		RefundTx:       rec.Snapshot.RefundTx,
		BestValue:      rec.Snapshot.BestValue,
		BestSettlement: rec.Snapshot.BestSettlement,
		BestSig:        rec.Snapshot.BestSig,
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(dto); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeServerRecord(data []byte) (ServerRecord, error) {
	var dto serverRecordDTO
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&dto); err != nil {
		return ServerRecord{}, err
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
			return ServerRecord{}, err
		}
		contract.PayerPubKey = pk
	}
	if len(dto.PayeePubKey) > 0 {
		pk, err := btcec.ParsePubKey(dto.PayeePubKey, btcec.S256())
		if err != nil {
			return ServerRecord{}, err
		}
		contract.PayeePubKey = pk
	}

	return ServerRecord{
		ContractHash: dto.ContractHash,
		Active:       dto.Active,
		ExpiresAt:    dto.ExpiresAt,
		Snapshot: channel.ServerSnapshot{
			Phase:          dto.Phase,
			Contract:       contract,
			RedeemScript:   dto.RedeemScript,
			PayerScript:    dto.PayerScript,
			PayeeScript:    dto.PayeeScript,
			RefundTx:       dto.RefundTx,
			BestValue:      dto.BestValue,
			BestSettlement: dto.BestSettlement,
			BestSig:        dto.BestSig,
		},
	}, nil
}
