package serverproto

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcutil"

	"github.com/btcpay/paychan/channel"
	"github.com/btcpay/paychan/wire"
)

const (
	testAddr2    = "mnRYb3Zpn6CUR9TNDL6GGGNY9jjU1XURD5"
	testPayeeWIF = "cUkJhR6V9Gjrw1enLJ7AHk37Bhtmfk3AyWkRLVhvHGYXSPj3mDLq"
	testCapacity = 1000000
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.now.Add(d)
	return ch
}

func setUpPayeeKey(t *testing.T) *btcec.PrivateKey {
	wif, err := btcutil.DecodeWIF(testPayeeWIF)
	if err != nil {
		t.Fatal(err)
	}
	return wif.PrivKey
}

func scriptFor(t *testing.T, addr string) []byte {
	a, err := btcutil.DecodeAddress(addr, &chaincfg.TestNet3Params)
	if err != nil {
		t.Fatal(err)
	}
	script, err := txscript.PayToAddrScript(a)
	if err != nil {
		t.Fatal(err)
	}
	return script
}

func TestReceiveRejectsOutOfSequenceMessage(t *testing.T) {
	payeeKey := setUpPayeeKey(t)
	serverState := channel.NewServerChannelState(channel.ServerConfig{Net: &chaincfg.TestNet3Params}, scriptFor(t, testAddr2), payeeKey)
	clock := &fakeClock{now: time.Unix(1000000, 0)}

	f := New(serverState, Offer{MinAcceptedChannelValue: testCapacity, ExpiryWindowSeconds: 3600}, clock)

	out := f.Receive(wire.ChannelOpen{}) // expected CLIENT_VERSION, not CHANNEL_OPEN
	if len(out.Emit) != 1 {
		t.Fatal("expected an ERROR message")
	}
	errMsg, ok := out.Emit[0].(wire.Error)
	if !ok || errMsg.Code != wire.ErrSyntaxError {
		t.Errorf("expected SYNTAX_ERROR, got %#v", out.Emit[0])
	}
}

func TestReceiveRejectsEmptyProvideRefund(t *testing.T) {
	payeeKey := setUpPayeeKey(t)
	serverState := channel.NewServerChannelState(channel.ServerConfig{Net: &chaincfg.TestNet3Params}, scriptFor(t, testAddr2), payeeKey)
	clock := &fakeClock{now: time.Unix(1000000, 0)}

	f := New(serverState, Offer{MinAcceptedChannelValue: testCapacity, ExpiryWindowSeconds: 3600}, clock)
	f.Receive(wire.ClientVersion{Versions: []int{SupportedVersion}})

	out := f.Receive(wire.ProvideRefund{})
	if len(out.Emit) != 1 {
		t.Fatal("expected an ERROR message")
	}
	errMsg, ok := out.Emit[0].(wire.Error)
	if !ok || errMsg.Code != wire.ErrCodeBadTransaction {
		t.Errorf("expected BAD_TRANSACTION, got %#v", out.Emit[0])
	}
}

// fakeResumer is a map-backed Resumer for exercising receiveClientVersion's
// attach-if-inactive-else-fresh-INITIATE branch without a real store.
type fakeResumer struct {
	byHash map[string]*channel.ServerChannelState
	active map[string]bool
}

func (r *fakeResumer) Resume(contractHash string) (*channel.ServerChannelState, bool) {
	if r.active[contractHash] {
		return nil, false
	}
	state, ok := r.byHash[contractHash]
	return state, ok
}

func knownHash(t *testing.T) []byte {
	h := make([]byte, 32)
	for i := range h {
		h[i] = byte(i + 1)
	}
	return h
}

func TestReceiveClientVersionAttachesKnownInactiveHash(t *testing.T) {
	payeeKey := setUpPayeeKey(t)
	serverState := channel.NewServerChannelState(channel.ServerConfig{Net: &chaincfg.TestNet3Params}, scriptFor(t, testAddr2), payeeKey)
	resumedState := channel.NewServerChannelState(channel.ServerConfig{Net: &chaincfg.TestNet3Params}, scriptFor(t, testAddr2), payeeKey)
	clock := &fakeClock{now: time.Unix(1000000, 0)}

	hash := knownHash(t)
	resumer := &fakeResumer{byHash: map[string]*channel.ServerChannelState{hex.EncodeToString(hash): resumedState}}

	f := NewResumable(serverState, Offer{MinAcceptedChannelValue: testCapacity, ExpiryWindowSeconds: 3600}, clock, resumer)
	out := f.Receive(wire.ClientVersion{Versions: []int{SupportedVersion}, PreviousChannelContractHash: hash})

	if len(out.Emit) != 2 {
		t.Fatalf("expected SERVER_VERSION + CHANNEL_OPEN, got %d messages", len(out.Emit))
	}
	if _, ok := out.Emit[1].(wire.ChannelOpen); !ok {
		t.Errorf("expected CHANNEL_OPEN, got %#v", out.Emit[1])
	}
	if !out.Opened {
		t.Error("expected Opened to be true on a successful resume")
	}
	if f.state != resumedState {
		t.Error("expected the FSM to swap in the resumed state")
	}
}

func TestReceiveClientVersionFallsBackOnUnknownHash(t *testing.T) {
	payeeKey := setUpPayeeKey(t)
	serverState := channel.NewServerChannelState(channel.ServerConfig{Net: &chaincfg.TestNet3Params}, scriptFor(t, testAddr2), payeeKey)
	clock := &fakeClock{now: time.Unix(1000000, 0)}

	resumer := &fakeResumer{byHash: map[string]*channel.ServerChannelState{}}
	f := NewResumable(serverState, Offer{MinAcceptedChannelValue: testCapacity, ExpiryWindowSeconds: 3600}, clock, resumer)

	out := f.Receive(wire.ClientVersion{Versions: []int{SupportedVersion}, PreviousChannelContractHash: knownHash(t)})
	if len(out.Emit) != 2 {
		t.Fatalf("expected SERVER_VERSION + INITIATE, got %d messages", len(out.Emit))
	}
	if _, ok := out.Emit[1].(wire.Initiate); !ok {
		t.Errorf("expected INITIATE, got %#v", out.Emit[1])
	}
	if out.Opened {
		t.Error("did not expect Opened on a fresh-channel fallback")
	}
}

func TestReceiveClientVersionFallsBackOnActiveHash(t *testing.T) {
	payeeKey := setUpPayeeKey(t)
	serverState := channel.NewServerChannelState(channel.ServerConfig{Net: &chaincfg.TestNet3Params}, scriptFor(t, testAddr2), payeeKey)
	resumedState := channel.NewServerChannelState(channel.ServerConfig{Net: &chaincfg.TestNet3Params}, scriptFor(t, testAddr2), payeeKey)
	clock := &fakeClock{now: time.Unix(1000000, 0)}

	hash := knownHash(t)
	encoded := hex.EncodeToString(hash)
	resumer := &fakeResumer{
		byHash: map[string]*channel.ServerChannelState{encoded: resumedState},
		active: map[string]bool{encoded: true},
	}
	f := NewResumable(serverState, Offer{MinAcceptedChannelValue: testCapacity, ExpiryWindowSeconds: 3600}, clock, resumer)

	out := f.Receive(wire.ClientVersion{Versions: []int{SupportedVersion}, PreviousChannelContractHash: hash})
	if _, ok := out.Emit[1].(wire.Initiate); !ok {
		t.Errorf("expected a fresh INITIATE when the prior channel is still active, got %#v", out.Emit[1])
	}
}

func TestReceiveClientVersionFallsBackOnMalformedHash(t *testing.T) {
	payeeKey := setUpPayeeKey(t)
	serverState := channel.NewServerChannelState(channel.ServerConfig{Net: &chaincfg.TestNet3Params}, scriptFor(t, testAddr2), payeeKey)
	clock := &fakeClock{now: time.Unix(1000000, 0)}

	resumer := &fakeResumer{byHash: map[string]*channel.ServerChannelState{}}
	f := NewResumable(serverState, Offer{MinAcceptedChannelValue: testCapacity, ExpiryWindowSeconds: 3600}, clock, resumer)

	out := f.Receive(wire.ClientVersion{Versions: []int{SupportedVersion}, PreviousChannelContractHash: []byte{0x00, 0x01}})
	if _, ok := out.Emit[1].(wire.Initiate); !ok {
		t.Errorf("expected INITIATE on a malformed hash, got %#v", out.Emit[1])
	}
}
