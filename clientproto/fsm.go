// Package clientproto drives a payer through the wire sequence
// CLIENT_VERSION -> SERVER_VERSION -> INITIATE -> PROVIDE_REFUND ->
// RETURN_REFUND -> PROVIDE_CONTRACT -> CHANNEL_OPEN -> {UPDATE_PAYMENT ->
// UPDATE_ACK}* -> CLOSE, wrapping a channel.ClientChannelState with the
// message sequencing spec.md requires around it. An FSM started with
// Resume instead expects CLIENT_VERSION -> SERVER_VERSION -> CHANNEL_OPEN,
// falling back to the normal sequence if the server doesn't recognize the
// prior channel.
package clientproto

import (
	"bytes"
	"time"

	"github.com/btcsuite/btcd/btcec"
	btcwire "github.com/btcsuite/btcd/wire"

	"github.com/btcpay/paychan/capability"
	"github.com/btcpay/paychan/channel"
	"github.com/btcpay/paychan/wire"
)

type localPhase int

const (
	pWaitingForServerVersion localPhase = iota
	pWaitingForInitiate
	pWaitingForInitiateOrOpen
	pWaitingForRefundReturn
	pWaitingForChannelOpen
	pOpen
	pClosed
	pError
)

// DefaultHandshakeTimeout is the per-step deadline for the pre-open
// handshake, per spec.md section 5.
const DefaultHandshakeTimeout = 60 * time.Second

// SupportedVersion is the only protocol version this implementation speaks.
const SupportedVersion = 1

// CloseReason carries the outcome of a completed or aborted channel.
type CloseReason struct {
	SettlementTx *btcwire.MsgTx
}

// Outcome is the result of feeding one message into the FSM: zero or more
// messages to send back, zero or more transactions to broadcast, and
// whether this step opened or closed the channel. There are no stored
// callbacks: every effect the caller must perform comes back through this
// value.
type Outcome struct {
	Emit      []wire.Message
	Broadcast []*btcwire.MsgTx
	Opened    bool
	Closed    *CloseReason
}

// FSM is one payer-side channel's protocol state, layered on top of
// channel.ClientChannelState's contract/settlement logic.
type FSM struct {
	state    *channel.ClientChannelState
	phase    localPhase
	clock    capability.Clock
	resuming bool

	lastMessageAt time.Time
}

// New starts a fresh FSM, returning the CLIENT_VERSION message to send
// first.
func New(state *channel.ClientChannelState, clock capability.Clock) (*FSM, wire.Message) {
	return newFSM(state, clock, nil)
}

// Resume starts an FSM asking the server to reattach to a channel the
// client already holds open, identified by previousChannelContractHash,
// instead of negotiating a fresh INITIATE. If the server doesn't
// recognize the hash, or the channel is active elsewhere, it falls back
// to the normal INITIATE sequence and the FSM follows along, per
// spec.md section 4.5.
func Resume(state *channel.ClientChannelState, clock capability.Clock, previousChannelContractHash []byte) (*FSM, wire.Message) {
	return newFSM(state, clock, previousChannelContractHash)
}

func newFSM(state *channel.ClientChannelState, clock capability.Clock, previousChannelContractHash []byte) (*FSM, wire.Message) {
	f := &FSM{
		state:         state,
		phase:         pWaitingForServerVersion,
		clock:         clock,
		resuming:      len(previousChannelContractHash) > 0,
		lastMessageAt: clock.Now(),
	}
	return f, wire.ClientVersion{
		Versions:                    []int{SupportedVersion},
		PreviousChannelContractHash: previousChannelContractHash,
	}
}

// Receive advances the FSM on an incoming message. Any message arriving
// out of sequence yields ERROR{SYNTAX_ERROR} and moves to the terminal
// error phase.
func (f *FSM) Receive(msg wire.Message) Outcome {
	f.lastMessageAt = f.clock.Now()

	switch f.phase {
	case pWaitingForServerVersion:
		return f.receiveServerVersion(msg)
	case pWaitingForInitiate:
		return f.receiveInitiate(msg)
	case pWaitingForInitiateOrOpen:
		return f.receiveInitiateOrResumeOpen(msg)
	case pWaitingForRefundReturn:
		return f.receiveReturnRefund(msg)
	case pWaitingForChannelOpen:
		return f.receiveChannelOpen(msg)
	case pOpen:
		return f.receiveWhileOpen(msg)
	default:
		return f.syntaxError()
	}
}

func (f *FSM) receiveServerVersion(msg wire.Message) Outcome {
	sv, ok := msg.(wire.ServerVersion)
	if !ok {
		return f.syntaxError()
	}
	if sv.Version != SupportedVersion {
		f.phase = pError
		return Outcome{Emit: []wire.Message{wire.Error{Code: wire.ErrNoAcceptableVersion}}}
	}
	if f.resuming {
		f.phase = pWaitingForInitiateOrOpen
	} else {
		f.phase = pWaitingForInitiate
	}
	return Outcome{}
}

// receiveInitiateOrResumeOpen is only reached by an FSM started with
// Resume. The server answers SERVER_VERSION with either CHANNEL_OPEN,
// meaning it accepted the resume, or INITIATE, meaning it fell back to a
// fresh channel, per spec.md section 4.5.
func (f *FSM) receiveInitiateOrResumeOpen(msg wire.Message) Outcome {
	if _, ok := msg.(wire.ChannelOpen); ok {
		return f.openResumedChannel()
	}
	return f.receiveInitiate(msg)
}

func (f *FSM) openResumedChannel() Outcome {
	if !f.state.IsOpen() {
		f.phase = pError
		return Outcome{Emit: []wire.Message{wire.Error{Code: wire.ErrOther}}}
	}
	f.phase = pOpen
	return Outcome{Opened: true}
}

func (f *FSM) receiveInitiate(msg wire.Message) Outcome {
	in, ok := msg.(wire.Initiate)
	if !ok {
		return f.syntaxError()
	}

	serverPubKey, err := parsePubKey(in.ServerPubKey)
	if err != nil {
		return f.badTransaction()
	}

	expiry := f.clock.Now().Unix() + in.ExpiryWindowSeconds
	if err := f.state.ProvideInitiate(serverPubKey, in.PayeeScript, in.MinAcceptedChannelValue, expiry, f.clock.Now().Unix()); err != nil {
		f.phase = pError
		return Outcome{Emit: []wire.Message{wire.Error{Code: codeFor(err)}}}
	}

	refundTx, err := f.state.GetRefundForSigning()
	if err != nil {
		return f.badTransaction()
	}
	rawRefund, err := serializeTx(refundTx)
	if err != nil {
		return f.badTransaction()
	}

	contract := f.state.Contract()
	f.phase = pWaitingForRefundReturn
	return Outcome{Emit: []wire.Message{wire.ProvideRefund{
		PayerPubKey: contract.PayerPubKey.SerializeCompressed(),
		RefundTx:    rawRefund,
		Value:       contract.Value,
		Expiry:      contract.Expiry,
	}}}
}

func (f *FSM) receiveReturnRefund(msg wire.Message) Outcome {
	rr, ok := msg.(wire.ReturnRefund)
	if !ok {
		return f.syntaxError()
	}

	if err := f.state.ProvideRefundSignature(rr.Signature); err != nil {
		f.phase = pError
		return Outcome{Emit: []wire.Message{wire.Error{Code: codeFor(err)}}}
	}

	contractTx, err := f.state.GetContract()
	if err != nil {
		return f.badTransaction()
	}
	raw, err := serializeTx(contractTx)
	if err != nil {
		return f.badTransaction()
	}

	f.phase = pWaitingForChannelOpen
	return Outcome{
		Emit:      []wire.Message{wire.ProvideContract{ContractTx: raw}},
		Broadcast: []*btcwire.MsgTx{contractTx},
	}
}

func (f *FSM) receiveChannelOpen(msg wire.Message) Outcome {
	if _, ok := msg.(wire.ChannelOpen); !ok {
		return f.syntaxError()
	}
	if err := f.state.MarkOpen(); err != nil {
		f.phase = pError
		return Outcome{Emit: []wire.Message{wire.Error{Code: wire.ErrOther}}}
	}
	f.phase = pOpen
	return Outcome{Opened: true}
}

func (f *FSM) receiveWhileOpen(msg wire.Message) Outcome {
	switch msg.(type) {
	case wire.UpdateAck:
		f.state.GotUpdateAck()
		return Outcome{}
	case wire.Close:
		return f.close()
	default:
		return f.syntaxError()
	}
}

// SendPayment raises the amount owed to the payee by delta, returning the
// UPDATE_PAYMENT message to send.
func (f *FSM) SendPayment(delta int64) (wire.Message, error) {
	tx, sig, err := f.state.IncrementPayment(delta)
	if err != nil {
		return nil, err
	}
	raw, err := serializeTx(tx)
	if err != nil {
		return nil, err
	}
	return wire.UpdatePayment{SettlementTx: raw, Signature: sig}, nil
}

// Close returns the CLOSE message to send. It changes neither the FSM nor
// the channel state; the channel state is closed, dropping any increment
// still awaiting UPDATE_ACK, when a CLOSE message is received.
func (f *FSM) Close() wire.Message {
	return wire.Close{}
}

func (f *FSM) close() Outcome {
	tx, err := f.state.Close()
	if err != nil {
		f.phase = pError
		return Outcome{Emit: []wire.Message{wire.Error{Code: wire.ErrOther}}}
	}
	f.phase = pClosed
	return Outcome{Closed: &CloseReason{SettlementTx: tx}}
}

// CheckTimeout reports ERROR{TIMEOUT} if no message has advanced the
// handshake within DefaultHandshakeTimeout of now. It never mutates the
// underlying channel state: a timed-out handshake is abandoned, not
// recorded, matching spec.md section 5.
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

func codeFor(err error) wire.ErrorCode {
	switch err {
	case channel.ErrValueTooLarge:
		return wire.ErrServerRequestedTooMuchValue
	case channel.ErrTimeWindowTooLarge:
		return wire.ErrCodeTimeWindowTooLarge
	case channel.ErrBadTransaction, channel.ErrBadSignature, channel.ErrBadScript:
		return wire.ErrCodeBadTransaction
	default:
		return wire.ErrOther
	}
}

func serializeTx(tx *btcwire.MsgTx) ([]byte, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func parsePubKey(raw []byte) (*btcec.PublicKey, error) {
	return btcec.ParsePubKey(raw, btcec.S256())
}
