// Package capability collects the narrow external interfaces the protocol
// and store packages depend on instead of a wallet or global blockchain
// client: a clock, a place to persist records, and a way to broadcast and
// deliver transactions and messages. Production code supplies real
// implementations; tests supply fakes.
package capability

import (
	"time"

	btcwire "github.com/btcsuite/btcd/wire"
)

// Clock abstracts wall-clock time so expiry scheduling and handshake
// timeouts can be driven deterministically in tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Broadcast submits a fully-signed transaction to the network. It does not
// block for confirmation.
type Broadcast interface {
	Broadcast(tx *btcwire.MsgTx) error
}

// Persist loads and saves a store's opaque serialized state, keyed by an
// identifier the store controls.
type Persist interface {
	Save(key string, data []byte) error
	Load(key string) ([]byte, bool, error)
	Delete(key string) error
	List() ([]string, error)
}

// RealClock implements Clock using the standard library's notion of time.
type RealClock struct{}

func (RealClock) Now() time.Time                         { return time.Now() }
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
