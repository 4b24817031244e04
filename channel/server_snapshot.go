package channel

import "github.com/btcsuite/btcd/btcec"

// ServerSnapshot is the persistable view of a ServerChannelState.
type ServerSnapshot struct {
	Phase        int
	Contract     ChannelContract
	RedeemScript []byte
	PayerScript  []byte
	PayeeScript  []byte

	RefundTx []byte

	BestValue      int64
	BestSettlement []byte
	BestSig        []byte
}

// Snapshot captures the channel's current state for persistence.
func (s *ServerChannelState) Snapshot() (ServerSnapshot, error) {
	refundTx, err := serializeOptionalTx(s.refundTx)
	if err != nil {
		return ServerSnapshot{}, err
	}
	bestSettlement, err := serializeOptionalTx(s.bestSettlement)
	if err != nil {
		return ServerSnapshot{}, err
	}

	return ServerSnapshot{
		Phase:          int(s.phase),
		Contract:       s.contract,
		RedeemScript:   s.redeemScript,
		PayerScript:    s.payerScript,
		PayeeScript:    s.payeeScript,
		RefundTx:       refundTx,
		BestValue:      s.bestValue,
		BestSettlement: bestSettlement,
		BestSig:        append([]byte(nil), s.bestSig...),
	}, nil
}

// RestoreServerChannelState rehydrates a ServerChannelState from a
// snapshot taken by Snapshot, re-attaching the payee's private key.
func RestoreServerChannelState(config ServerConfig, privKey *btcec.PrivateKey, snap ServerSnapshot) (*ServerChannelState, error) {
	refundTx, err := deserializeOptionalTx(snap.RefundTx)
	if err != nil {
		return nil, err
	}
	bestSettlement, err := deserializeOptionalTx(snap.BestSettlement)
	if err != nil {
		return nil, err
	}

	return &ServerChannelState{
		config:         config,
		privKey:        privKey,
		phase:          serverPhase(snap.Phase),
		contract:       snap.Contract,
		redeemScript:   snap.RedeemScript,
		payerScript:    snap.PayerScript,
		payeeScript:    snap.PayeeScript,
		refundTx:       refundTx,
		bestValue:      snap.BestValue,
		bestSettlement: bestSettlement,
		bestSig:        snap.BestSig,
	}, nil
}
