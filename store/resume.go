package store

import (
	"log"

	"github.com/btcsuite/btcd/btcec"

	"github.com/btcpay/paychan/channel"
)

// ResumeAttacher adapts a ServerStore into serverproto's Resumer
// capability: given the contract hash a reconnecting client presents, it
// restores the matching inactive record into a live ServerChannelState
// and marks it active again, so the caller's FSM can attach to it instead
// of negotiating a fresh channel.
//
// PrivKey recovers the payee's signing key for a given contract hash; the
// store itself never holds key material.
type ResumeAttacher struct {
	Store   *ServerStore
	Config  channel.ServerConfig
	PrivKey func(contractHash string) (*btcec.PrivateKey, error)
}

// Resume implements serverproto.Resumer.
func (a *ResumeAttacher) Resume(contractHash string) (*channel.ServerChannelState, bool) {
	rec, ok := a.Store.Get(contractHash)
	if !ok || rec.Active {
		return nil, false
	}

	privKey, err := a.PrivKey(contractHash)
	if err != nil {
		log.Printf("resumeattacher: %s: no signing key available: %v", contractHash, err)
		return nil, false
	}

	state, err := channel.RestoreServerChannelState(a.Config, privKey, rec.Snapshot)
	if err != nil {
		log.Printf("resumeattacher: %s: undecodable snapshot: %v", contractHash, err)
		return nil, false
	}
	if !state.IsOpen() {
		return nil, false
	}

	if err := a.Store.MarkActive(contractHash); err != nil {
		log.Printf("resumeattacher: %s: failed to mark active: %v", contractHash, err)
		return nil, false
	}
	return state, true
}
