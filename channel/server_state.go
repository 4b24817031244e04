package channel

import (
	"bytes"

	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

type serverPhase int

const (
	ssWaitingForRefund serverPhase = iota
	ssWaitingForContract
	ssReady
	ssOpen
	ssClosing
	ssClosed
	ssError
)

// ServerConfig bounds how a server evaluates incoming channels.
type ServerConfig struct {
	Net     *chaincfg.Params
	Timeout int64 // not read by this package or serverproto; the INITIATE expiry comes from serverproto.Offer
	Fee     int64 // MinFee if zero
	Dust    int64 // DustThreshold if zero
}

func (c ServerConfig) fee() int64 {
	if c.Fee > 0 {
		return c.Fee
	}
	return MinFee
}

func (c ServerConfig) dust() int64 {
	if c.Dust > 0 {
		return c.Dust
	}
	return DustThreshold
}

// ServerChannelState is the payee's view of one channel: the received
// contract, the best-so-far signed settlement, and the machinery to close
// and broadcast it.
type ServerChannelState struct {
	config  ServerConfig
	privKey *btcec.PrivateKey

	phase serverPhase

	contract     ChannelContract
	redeemScript []byte
	payerScript  []byte
	payeeScript  []byte

	refundTx *wire.MsgTx

	bestValue      int64
	bestSettlement *wire.MsgTx
	bestSig        []byte
}

// NewServerChannelState creates a server-side channel awaiting the
// payer's refund transaction.
func NewServerChannelState(config ServerConfig, payeeScript []byte, privKey *btcec.PrivateKey) *ServerChannelState {
	return &ServerChannelState{
		config:      config,
		privKey:     privKey,
		payeeScript: payeeScript,
		phase:       ssWaitingForRefund,
		contract: ChannelContract{
			Net:         config.Net.Name,
			PayeePubKey: privKey.PubKey(),
		},
	}
}

// ProvideRefund validates the structure of the payer's proposed refund
// (non-empty key and tx, lock time at or beyond the offered expiry, output
// paying the payer's own address) and returns the server's signature over
// it. The refund is not attached to the channel's contract yet: that
// happens once ProvideContract confirms the matching contract output.
func (s *ServerChannelState) ProvideRefund(payerPubKeyBytes []byte, refundTx *wire.MsgTx, value, expiry int64, payerScript []byte, now int64) ([]byte, error) {
	if s.phase != ssWaitingForRefund {
		return nil, ErrNotWaitingForRefund
	}

	if len(payerPubKeyBytes) == 0 || refundTx == nil || len(refundTx.TxIn) == 0 {
		s.phase = ssError
		return nil, ErrBadTransaction
	}

	payerPubKey, err := btcec.ParsePubKey(payerPubKeyBytes, btcec.S256())
	if err != nil {
		s.phase = ssError
		return nil, ErrBadTransaction
	}

	if int64(refundTx.LockTime) < expiry {
		s.phase = ssError
		return nil, ErrBadTransaction
	}
	if len(refundTx.TxOut) != 1 || refundTx.TxOut[0].Value != value {
		s.phase = ssError
		return nil, ErrBadTransaction
	}
	if !bytes.Equal(refundTx.TxOut[0].PkScript, payerScript) {
		s.phase = ssError
		return nil, ErrBadTransaction
	}

	s.contract.PayerPubKey = payerPubKey
	s.contract.Value = value
	s.contract.Expiry = expiry
	s.payerScript = payerScript
	s.contract.ContractTxID = refundTx.TxIn[0].PreviousOutPoint.Hash
	s.contract.Vout = refundTx.TxIn[0].PreviousOutPoint.Index

	redeemScript, err := BuildContractScript(s.contract.PayerPubKey, s.contract.PayeePubKey)
	if err != nil {
		s.phase = ssError
		return nil, err
	}
	s.redeemScript = redeemScript
	s.refundTx = refundTx

	sig, err := SignRefund(refundTx, redeemScript, value, s.privKey)
	if err != nil {
		s.phase = ssError
		return nil, err
	}

	s.phase = ssWaitingForContract
	return sig, nil
}

// ProvideContract verifies that the broadcast contract transaction spends
// as expected — an output of value Value to the 2-of-2 address, at the
// outpoint the previously-seen refund spends — and transitions to READY.
func (s *ServerChannelState) ProvideContract(contractTx *wire.MsgTx) error {
	if s.phase != ssWaitingForContract {
		return ErrNotWaitingForContract
	}

	vout := s.contract.Vout
	if int(vout) >= len(contractTx.TxOut) {
		s.phase = ssError
		return ErrBadTransaction
	}
	out := contractTx.TxOut[vout]
	if out.Value != s.contract.Value {
		s.phase = ssError
		return ErrBadTransaction
	}

	addr, err := ContractAddress(s.redeemScript, s.config.Net)
	if err != nil {
		s.phase = ssError
		return err
	}
	expectedScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		s.phase = ssError
		return err
	}
	if !bytes.Equal(out.PkScript, expectedScript) {
		s.phase = ssError
		return ErrBadTransaction
	}

	gotTxID := contractTx.TxHash()
	if gotTxID != s.contract.ContractTxID {
		s.phase = ssError
		return ErrBadTransaction
	}

	s.bestValue = 0
	s.phase = ssReady
	return nil
}

// Open transitions a READY channel to OPEN, mirroring the CHANNEL_OPEN
// message the server sends once it has scheduled the contract for
// broadcast.
func (s *ServerChannelState) Open() error {
	if s.phase != ssReady {
		return ErrNotReady
	}
	s.phase = ssOpen
	return nil
}

// IncrementPayment verifies the payer's signature over a new settlement
// and that its V_s is strictly greater than the current best, then adopts
// it as the new best settlement.
func (s *ServerChannelState) IncrementPayment(settlementTx *wire.MsgTx, payerSig []byte) error {
	if s.phase != ssOpen {
		return ErrChannelNotOpen
	}

	newValue := settlementValue(settlementTx, s.payeeScript)
	if newValue <= s.bestValue {
		return ErrBadValue
	}

	if err := VerifySettlementSignature(settlementTx, s.redeemScript, payerSig, s.contract.PayerPubKey); err != nil {
		return ErrBadSignature
	}

	s.bestValue = newValue
	s.bestSettlement = settlementTx
	s.bestSig = payerSig
	return nil
}

// BestValue returns the payee's best-confirmed V_s.
func (s *ServerChannelState) BestValue() int64 { return s.bestValue }

// IsOpen reports whether the channel has already reached ssOpen, the
// state a resumed session is restored into directly.
func (s *ServerChannelState) IsOpen() bool { return s.phase == ssOpen }

// Contract returns the channel's contract record.
func (s *ServerChannelState) Contract() ChannelContract { return s.contract }

// RedeemScript returns the channel's 2-of-2 redeem script.
func (s *ServerChannelState) RedeemScript() []byte { return s.redeemScript }

// PayeeScript returns the output script the payee's settlements pay,
// advertised to the payer in INITIATE.
func (s *ServerChannelState) PayeeScript() []byte { return s.payeeScript }

// Close completes the best settlement with the payee's own signature,
// returning it for broadcast, and transitions to CLOSED. It is idempotent.
// When no settlement was ever accepted there is no payer signature, and
// the zero-payment settlement it returns carries no signatures.
func (s *ServerChannelState) Close() (*wire.MsgTx, error) {
	if s.phase == ssClosed {
		return s.bestSettlement, nil
	}
	if s.phase != ssOpen && s.phase != ssClosing {
		return nil, ErrChannelNotOpen
	}

	tx := s.bestSettlement
	if tx == nil {
		var err error
		tx, err = BuildSettlementTx(s.contract, s.payeeScript, s.payerScript, 0, s.config.fee(), s.config.dust())
		if err != nil {
			return nil, err
		}
	}

	payeeSig, err := SignSettlement(tx, s.redeemScript, s.privKey)
	if err != nil {
		return nil, err
	}

	var payerSig []byte
	if s.bestSig != nil {
		payerSig = s.bestSig
	}

	var signed *wire.MsgTx
	if payerSig != nil {
		signed, err = CompleteSettlement(tx, s.redeemScript, payerSig, payeeSig, s.contract.PayerPubKey, s.contract.PayeePubKey)
		if err != nil {
			return nil, err
		}
	} else {
		signed = tx
	}

	s.bestSettlement = signed
	s.phase = ssClosed
	return signed, nil
}

// BroadcastBestSettlement completes and returns the best settlement by
// calling Close, so the channel ends in CLOSED just as after a CLOSE
// message. It exists for the expiry-triggered store action (spec.md
// section 4.6), which must broadcast ahead of the refund becoming
// spendable, independent of any CLOSE message.
func (s *ServerChannelState) BroadcastBestSettlement() (*wire.MsgTx, error) {
	return s.Close()
}

func settlementValue(tx *wire.MsgTx, payeeScript []byte) int64 {
	for _, out := range tx.TxOut {
		if bytes.Equal(out.PkScript, payeeScript) {
			return out.Value
		}
	}
	return 0
}

