// Package serverproto drives a payee through the wire sequence a
// clientproto.FSM initiates: CLIENT_VERSION -> SERVER_VERSION -> INITIATE
// -> PROVIDE_REFUND -> RETURN_REFUND -> PROVIDE_CONTRACT -> CHANNEL_OPEN ->
// {UPDATE_PAYMENT -> UPDATE_ACK}* -> CLOSE, wrapping a
// channel.ServerChannelState with that sequencing. An FSM built with
// NewResumable instead answers a recognized previousChannelContractHash
// with CLIENT_VERSION -> SERVER_VERSION -> CHANNEL_OPEN directly,
// attaching to the existing channel in place of negotiating a new one.
package serverproto

import (
	"bytes"
	"encoding/hex"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	btcwire "github.com/btcsuite/btcd/wire"

	"github.com/btcpay/paychan/capability"
	"github.com/btcpay/paychan/channel"
	"github.com/btcpay/paychan/wire"
)

type localPhase int

const (
	pWaitingForClientVersion localPhase = iota
	pWaitingForRefund
	pWaitingForContract
	pOpen
	pClosing
	pClosed
	pError
)

// DefaultHandshakeTimeout is the per-step deadline for the pre-open
// handshake, per spec.md section 5.
const DefaultHandshakeTimeout = 60 * time.Second

// SupportedVersion is the only protocol version this implementation speaks.
const SupportedVersion = 1

// Offer is the channel terms a server advertises in INITIATE.
type Offer struct {
	MinAcceptedChannelValue int64
	ExpiryWindowSeconds     int64
}

// Resumer looks up an existing channel by the contract hash a client
// presents in CLIENT_VERSION, for attaching a resumed session instead of
// negotiating a fresh one. It reports ok=false for any reason a resume
// should not proceed: unknown hash, or a channel that is already active
// elsewhere. The server never permits two live sessions on the same
// channel, per spec.md section 4.5.
type Resumer interface {
	Resume(contractHash string) (*channel.ServerChannelState, bool)
}

// CloseReason carries the outcome of a completed channel.
type CloseReason struct {
	SettlementTx *btcwire.MsgTx
}

// Outcome is the result of feeding one message into the FSM.
type Outcome struct {
	Emit      []wire.Message
	Broadcast []*btcwire.MsgTx
	Opened    bool
	Closed    *CloseReason
}

// FSM is one payee-side channel's protocol state, layered on top of
// channel.ServerChannelState's contract/settlement logic.
type FSM struct {
	state   *channel.ServerChannelState
	offer   Offer
	phase   localPhase
	clock   capability.Clock
	resumer Resumer

	lastMessageAt time.Time
}

// New starts a fresh FSM awaiting CLIENT_VERSION, never resuming an
// existing channel.
func New(state *channel.ServerChannelState, offer Offer, clock capability.Clock) *FSM {
	return NewResumable(state, offer, clock, nil)
}

// NewResumable starts an FSM that consults resumer when a client's
// CLIENT_VERSION carries a previousChannelContractHash, attaching to the
// channel resumer returns in place of negotiating a fresh one. A nil
// resumer behaves exactly like New.
func NewResumable(state *channel.ServerChannelState, offer Offer, clock capability.Clock, resumer Resumer) *FSM {
	return &FSM{
		state:         state,
		offer:         offer,
		phase:         pWaitingForClientVersion,
		clock:         clock,
		resumer:       resumer,
		lastMessageAt: clock.Now(),
	}
}

// Receive advances the FSM on an incoming message. Any message arriving
// out of sequence yields ERROR{SYNTAX_ERROR} and moves to the terminal
// error phase.
func (f *FSM) Receive(msg wire.Message) Outcome {
	f.lastMessageAt = f.clock.Now()

	switch f.phase {
	case pWaitingForClientVersion:
		return f.receiveClientVersion(msg)
	case pWaitingForRefund:
		return f.receiveProvideRefund(msg)
	case pWaitingForContract:
		return f.receiveProvideContract(msg)
	case pOpen:
		return f.receiveWhileOpen(msg)
	default:
		return f.syntaxError()
	}
}

func (f *FSM) receiveClientVersion(msg wire.Message) Outcome {
	cv, ok := msg.(wire.ClientVersion)
	if !ok {
		return f.syntaxError()
	}
	if !supports(cv.Versions, SupportedVersion) {
		f.phase = pError
		return Outcome{Emit: []wire.Message{wire.Error{Code: wire.ErrNoAcceptableVersion}}}
	}

	if resumed, ok := f.tryResume(cv.PreviousChannelContractHash); ok {
		f.state = resumed
		f.phase = pOpen
		return Outcome{
			Emit:   []wire.Message{wire.ServerVersion{Version: SupportedVersion}, wire.ChannelOpen{}},
			Opened: true,
		}
	}

	contract := f.state.Contract()
	f.phase = pWaitingForRefund
	return Outcome{Emit: []wire.Message{
		wire.ServerVersion{Version: SupportedVersion},
		wire.Initiate{
			MinAcceptedChannelValue: f.offer.MinAcceptedChannelValue,
			ExpiryWindowSeconds:     f.offer.ExpiryWindowSeconds,
			ServerPubKey:            contract.PayeePubKey.SerializeCompressed(),
			PayeeScript:             f.state.PayeeScript(),
		},
	}}
}

// tryResume reports ok=false without consulting the resumer at all when
// there is none configured or the hash isn't exactly 32 bytes, so a
// malformed or absent hash always falls through to a fresh INITIATE.
func (f *FSM) tryResume(contractHash []byte) (*channel.ServerChannelState, bool) {
	if f.resumer == nil || len(contractHash) != chainhash.HashSize {
		return nil, false
	}
	return f.resumer.Resume(hex.EncodeToString(contractHash))
}

func (f *FSM) receiveProvideRefund(msg wire.Message) Outcome {
	pr, ok := msg.(wire.ProvideRefund)
	if !ok {
		return f.syntaxError()
	}

	refundTx, err := deserializeTx(pr.RefundTx)
	if err != nil || len(refundTx.TxOut) == 0 {
		return f.badTransaction()
	}
	payerScript := refundTx.TxOut[0].PkScript

	sig, err := f.state.ProvideRefund(pr.PayerPubKey, refundTx, pr.Value, pr.Expiry, payerScript, f.clock.Now().Unix())
	if err != nil {
		f.phase = pError
		return Outcome{Emit: []wire.Message{wire.Error{Code: wire.ErrCodeBadTransaction}}}
	}

	f.phase = pWaitingForContract
	return Outcome{Emit: []wire.Message{wire.ReturnRefund{Signature: sig}}}
}

func (f *FSM) receiveProvideContract(msg wire.Message) Outcome {
	pc, ok := msg.(wire.ProvideContract)
	if !ok {
		return f.syntaxError()
	}

	contractTx, err := deserializeTx(pc.ContractTx)
	if err != nil {
		return f.badTransaction()
	}

	if err := f.state.ProvideContract(contractTx); err != nil {
		f.phase = pError
		return Outcome{Emit: []wire.Message{wire.Error{Code: wire.ErrCodeBadTransaction}}}
	}
	if err := f.state.Open(); err != nil {
		f.phase = pError
		return Outcome{Emit: []wire.Message{wire.Error{Code: wire.ErrOther}}}
	}

	f.phase = pOpen
	return Outcome{Emit: []wire.Message{wire.ChannelOpen{}}, Opened: true}
}

func (f *FSM) receiveWhileOpen(msg wire.Message) Outcome {
	switch m := msg.(type) {
	case wire.UpdatePayment:
		return f.receiveUpdatePayment(m)
	case wire.Close:
		return f.close()
	default:
		return f.syntaxError()
	}
}

func (f *FSM) receiveUpdatePayment(m wire.UpdatePayment) Outcome {
	tx, err := deserializeTx(m.SettlementTx)
	if err != nil {
		return f.badTransaction()
	}
	if err := f.state.IncrementPayment(tx, m.Signature); err != nil {
		return Outcome{Emit: []wire.Message{wire.Error{Code: wire.ErrCodeBadTransaction}}}
	}
	return Outcome{Emit: []wire.Message{wire.UpdateAck{}}}
}

func (f *FSM) close() Outcome {
	tx, err := f.state.Close()
	if err != nil {
		f.phase = pError
		return Outcome{Emit: []wire.Message{wire.Error{Code: wire.ErrOther}}}
	}
	f.phase = pClosed
	return Outcome{
		Broadcast: []*btcwire.MsgTx{tx},
		Closed:    &CloseReason{SettlementTx: tx},
	}
}

// CheckTimeout reports ERROR{TIMEOUT} if no message has advanced the
// handshake within DefaultHandshakeTimeout of now. It never mutates the
// underlying channel state.
func (f *FSM) CheckTimeout(now time.Time) Outcome {
	if f.phase == pOpen || f.phase == pClosed || f.phase == pError {
		return Outcome{}
	}
	if now.Sub(f.lastMessageAt) <= DefaultHandshakeTimeout {
		return Outcome{}
	}
	f.phase = pError
	return Outcome{Emit: []wire.Message{wire.Error{Code: wire.ErrCodeTimeout}}}
}

func (f *FSM) syntaxError() Outcome {
	f.phase = pError
	return Outcome{Emit: []wire.Message{wire.Error{Code: wire.ErrSyntaxError}}}
}

func (f *FSM) badTransaction() Outcome {
	f.phase = pError
	return Outcome{Emit: []wire.Message{wire.Error{Code: wire.ErrCodeBadTransaction}}}
}

func supports(versions []int, want int) bool {
	for _, v := range versions {
		if v == want {
			return true
		}
	}
	return false
}

func deserializeTx(raw []byte) (*btcwire.MsgTx, error) {
	tx := btcwire.NewMsgTx(btcwire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return tx, nil
}
