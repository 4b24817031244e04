package channel

import (
	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
)

type clientPhase int

const (
	csNew clientPhase = iota
	csWaitingForRefundSig
	csReady
	csOpen
	csClosed
	csError
)

// ClientConfig bounds the parameters a server may offer during INITIATE.
type ClientConfig struct {
	Net           *chaincfg.Params
	MaxTimeWindow int64 // seconds, DefaultMaxTimeWindow if zero
	Fee           int64 // MinFee if zero
	Dust          int64 // DustThreshold if zero
}

func (c ClientConfig) maxTimeWindow() int64 {
	if c.MaxTimeWindow > 0 {
		return c.MaxTimeWindow
	}
	return DefaultMaxTimeWindow
}

func (c ClientConfig) fee() int64 {
	if c.Fee > 0 {
		return c.Fee
	}
	return MinFee
}

func (c ClientConfig) dust() int64 {
	if c.Dust > 0 {
		return c.Dust
	}
	return DustThreshold
}

// ClientChannelState is the payer's view of one channel: the contract, the
// amount paid so far, and the latest signed settlement. Its methods are
// called in the fixed order documented on each one; out-of-order or
// malformed peer input moves it to the terminal error phase.
//
// The contract transaction is built and signed (via BuildContractTx) inside
// ProvideInitiate, once the payee's key is known, and before the refund is
// built: its legacy txid is only final once every input's scriptSig is
// attached, and the refund must reference that final txid.
type ClientChannelState struct {
	config  ClientConfig
	privKey *btcec.PrivateKey

	phase clientPhase

	contract     ChannelContract
	contractTx   *wire.MsgTx
	redeemScript []byte

	payerScript []byte
	payeeScript []byte

	fundingInputs []FundingInput
	changeScript  []byte
	sign          InputSigner

	refundTx     *wire.MsgTx
	signedRefund *wire.MsgTx

	paid        int64
	settlement  *wire.MsgTx
	settlements []int64 // history of accepted V_s values, for testing invariants

	pendingPaid       int64
	pendingSettlement *wire.MsgTx
}

// NewClientChannelState creates a fresh client channel for value, awaiting
// INITIATE from the server. It keeps the funding inputs, change script and
// signer; the contract transaction itself is built by ProvideInitiate.
func NewClientChannelState(
	config ClientConfig,
	inputs []FundingInput,
	value int64,
	payerScript, changeScript []byte,
	sign InputSigner,
	privKey *btcec.PrivateKey,
) *ClientChannelState {
	return &ClientChannelState{
		config:      config,
		privKey:     privKey,
		payerScript: payerScript,
		phase:       csNew,
		contract: ChannelContract{
			Value:       value,
			Net:         config.Net.Name,
			PayerPubKey: privKey.PubKey(),
		},
		fundingInputs: inputs,
		changeScript:  changeScript,
		sign:          sign,
	}
}

// ProvideInitiate validates a server's offered terms, builds the contract
// transaction now that the payee's key is known, and builds the unsigned
// refund transaction spending it. payeeScript is the output script the
// server will later use in settlement transactions, carried in the
// INITIATE message.
func (c *ClientChannelState) ProvideInitiate(serverPubKey *btcec.PublicKey, payeeScript []byte, minValue int64, expiry int64, now int64) error {
	if c.phase != csNew {
		return ErrNotNew
	}

	if minValue > c.contract.Value {
		c.phase = csError
		return ErrValueTooLarge
	}
	if expiry-now > c.config.maxTimeWindow() || expiry <= now {
		c.phase = csError
		return ErrTimeWindowTooLarge
	}

	c.contract.PayeePubKey = serverPubKey
	c.contract.Expiry = expiry
	c.payeeScript = payeeScript

	contractTx, redeemScript, err := BuildContractTx(
		c.contract.PayerPubKey, c.contract.PayeePubKey, c.config.Net,
		c.fundingInputs, c.contract.Value, c.changeScript, c.sign)
	if err != nil {
		c.phase = csError
		return err
	}
	c.contractTx = contractTx
	c.redeemScript = redeemScript
	c.contract.ContractTxID = contractTx.TxHash()
	c.contract.Vout = 0 // BuildContractTx always places the 2-of-2 output first

	c.refundTx = BuildRefundTx(c.contract, c.payerScript)
	c.phase = csWaitingForRefundSig
	return nil
}

// GetRefundForSigning returns the unsigned refund transaction for the
// server to countersign.
func (c *ClientChannelState) GetRefundForSigning() (*wire.MsgTx, error) {
	if c.phase != csWaitingForRefundSig {
		return nil, ErrNotWaitingForRefundSig
	}
	return c.refundTx, nil
}

// ProvideRefundSignature verifies the server's refund signature, attaches
// the payer's own signature, and stores the fully-signed refund.
func (c *ClientChannelState) ProvideRefundSignature(payeeSig []byte) error {
	if c.phase != csWaitingForRefundSig {
		return ErrNotWaitingForRefundSig
	}

	if err := VerifyRefundSignature(c.refundTx, c.redeemScript, payeeSig, c.contract.PayeePubKey); err != nil {
		c.phase = csError
		return ErrBadTransaction
	}

	payerSig, err := SignRefund(c.refundTx, c.redeemScript, c.contract.Value, c.privKey)
	if err != nil {
		c.phase = csError
		return err
	}

	signed, err := CompleteRefund(c.refundTx, c.redeemScript, payerSig, payeeSig, c.contract.PayerPubKey, c.contract.PayeePubKey)
	if err != nil {
		c.phase = csError
		return ErrBadTransaction
	}

	c.signedRefund = signed
	c.phase = csReady
	return nil
}

// GetContract returns the contract transaction for broadcast. The caller
// (clientproto/store) is expected to schedule it for broadcast as a side
// effect of calling this.
func (c *ClientChannelState) GetContract() (*wire.MsgTx, error) {
	if c.phase != csReady {
		return nil, ErrNotReady
	}
	if c.signedRefund == nil {
		return nil, ErrBadTransaction
	}
	return c.contractTx, nil
}

// MarkOpen transitions a READY channel to OPEN once the peer has
// confirmed the channel (the CHANNEL_OPEN message in clientproto).
func (c *ClientChannelState) MarkOpen() error {
	if c.phase != csReady {
		return ErrNotReady
	}
	c.phase = csOpen
	return nil
}

// IncrementPayment increases the amount owed to the payee by delta and
// returns the newly built settlement transaction along with the payer's
// signature over it; the caller (clientproto) carries both in an
// UPDATE_PAYMENT message. The new balance is not committed to Paid()
// until GotUpdateAck confirms the peer accepted it.
func (c *ClientChannelState) IncrementPayment(delta int64) (*wire.MsgTx, []byte, error) {
	if c.phase != csOpen {
		return nil, nil, ErrChannelNotOpen
	}
	if delta <= 0 {
		return nil, nil, ErrValueTooLarge
	}

	newPaid := c.paid + delta
	if newPaid > c.contract.Value-c.config.fee()-c.config.dust() {
		return nil, nil, ErrValueTooLarge
	}

	tx, err := BuildSettlementTx(c.contract, c.payeeScript, c.payerScript, newPaid, c.config.fee(), c.config.dust())
	if err != nil {
		return nil, nil, err
	}

	sig, err := SignSettlement(tx, c.redeemScript, c.privKey)
	if err != nil {
		return nil, nil, err
	}

	c.pendingPaid = newPaid
	c.pendingSettlement = tx
	return tx, sig, nil
}

// GotUpdateAck commits the pending increment once the peer has
// acknowledged it. Closing the channel while an increment is in flight
// aborts it instead: the caller must not call GotUpdateAck after Close.
func (c *ClientChannelState) GotUpdateAck() {
	if c.pendingSettlement == nil {
		return
	}
	c.paid = c.pendingPaid
	c.settlement = c.pendingSettlement
	c.settlements = append(c.settlements, c.pendingPaid)
	c.pendingSettlement = nil
}

// Paid returns the current V_s as tracked on the payer side.
func (c *ClientChannelState) Paid() int64 { return c.paid }

// Contract returns the channel's contract record.
func (c *ClientChannelState) Contract() ChannelContract { return c.contract }

// RedeemScript returns the channel's 2-of-2 redeem script.
func (c *ClientChannelState) RedeemScript() []byte { return c.redeemScript }

// SignedRefund returns the fully-signed refund transaction, if any.
func (c *ClientChannelState) SignedRefund() *wire.MsgTx { return c.signedRefund }

// IsOpen reports whether the channel currently accepts IncrementPayment.
func (c *ClientChannelState) IsOpen() bool { return c.phase == csOpen }

// Close produces the final settlement record and transitions to CLOSED.
// It is idempotent: a second call is a no-op returning the same tx.
func (c *ClientChannelState) Close() (*wire.MsgTx, error) {
	if c.phase == csClosed {
		return c.settlement, nil
	}
	if c.phase != csOpen {
		return nil, ErrChannelNotOpen
	}
	c.phase = csClosed
	c.pendingSettlement = nil // abort any increment still awaiting its ack
	return c.settlement, nil
}
