// Package channel implements the per-side channel state objects and the
// pure transaction builder/signer they share: the payer's ClientChannelState,
// the payee's ServerChannelState, and the contract/refund/settlement
// transaction construction both of them commission.
package channel

import "errors"

var (
	ErrBadSignature  = errors.New("signature does not verify against redeem script")
	ErrBadScript     = errors.New("redeem script is not of the expected 2-of-2 form")
	ErrBadTransaction = errors.New("malformed or unexpected transaction")

	ErrValueTooLarge     = errors.New("value exceeds channel capacity")
	ErrTimeWindowTooLarge = errors.New("offered expiry is outside the acceptable window")
	ErrChannelNotOpen    = errors.New("channel is not open")
	ErrBadValue          = errors.New("new settlement value is not greater than current value")

	ErrNotNew                  = errors.New("client channel is not in state NEW")
	ErrNotWaitingForRefundSig  = errors.New("client channel is not waiting for a refund signature")
	ErrNotReady                = errors.New("channel is not in state READY")

	ErrNotWaitingForRefund   = errors.New("server channel is not waiting for a refund")
	ErrNotWaitingForContract = errors.New("server channel is not waiting for a contract")
	ErrNotClosing            = errors.New("channel is not in state CLOSING")
)
