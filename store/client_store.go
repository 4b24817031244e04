package store

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/btcpay/paychan/capability"
	"github.com/btcpay/paychan/channel"
)

// DefaultClientPostExpirySlack is added to a channel's expiry before its
// client-side timer fires, giving the payee a window to settle before the
// payer gives up and broadcasts the refund.
const DefaultClientPostExpirySlack = 5 * time.Minute

func clientKey(serverID, contractHash string) string {
	return serverID + "/" + contractHash
}

// ClientStore is the payer's keyed collection of channels, one per
// (serverID, contractHash), surviving restarts via a capability.Persist
// and broadcasting the stored contract then the signed refund once a
// channel's post-expiry timer fires.
type ClientStore struct {
	mu      sync.Mutex
	records map[string]ClientRecord
	queue   *expiryQueue

	persist   capability.Persist
	broadcast capability.Broadcast
	clock     capability.Clock

	postExpirySlack time.Duration
}

// NewClientStore creates a ClientStore backed by persist, loading any
// records persist already holds.
func NewClientStore(persist capability.Persist, broadcast capability.Broadcast, clock capability.Clock) *ClientStore {
	s := &ClientStore{
		records:         make(map[string]ClientRecord),
		queue:           newExpiryQueue(),
		persist:         persist,
		broadcast:       broadcast,
		clock:           clock,
		postExpirySlack: DefaultClientPostExpirySlack,
	}
	s.loadAll()
	return s
}

func (s *ClientStore) loadAll() {
	keys, err := s.persist.List()
	if err != nil {
		log.Printf("clientstore: list failed: %v", err)
		return
	}
	for _, key := range keys {
		data, ok, err := s.persist.Load(key)
		if err != nil || !ok {
			continue
		}
		rec, err := decodeClientRecord(data)
		if err != nil {
			log.Printf("clientstore: skipping unreadable record %s: %v", key, err)
			continue
		}
		s.records[key] = rec
		s.queue.Upsert(key, rec.ExpiresAt)
	}
}

// Put inserts or replaces a channel record and schedules its post-expiry
// broadcast, persisting the new snapshot before returning.
func (s *ClientStore) Put(serverID, contractHash string, snap channel.ClientSnapshot, active bool) error {
	key := clientKey(serverID, contractHash)
	rec := ClientRecord{
		ServerID:     serverID,
		ContractHash: contractHash,
		Snapshot:     snap,
		Active:       active,
		ExpiresAt:    snap.Contract.Expiry + int64(s.postExpirySlack.Seconds()),
	}

	s.mu.Lock()
	s.records[key] = rec
	s.queue.Upsert(key, rec.ExpiresAt)
	s.mu.Unlock()

	data, err := encodeClientRecord(rec)
	if err != nil {
		return err
	}
	return s.persist.Save(key, data)
}

// Get looks up a channel record.
func (s *ClientStore) Get(serverID, contractHash string) (ClientRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[clientKey(serverID, contractHash)]
	return rec, ok
}

// MarkInactive flips a channel's active flag false on disconnect; the
// record and its scheduled broadcast are retained.
func (s *ClientStore) MarkInactive(serverID, contractHash string) error {
	key := clientKey(serverID, contractHash)

	s.mu.Lock()
	rec, ok := s.records[key]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("clientstore: no record for %s", key)
	}
	rec.Active = false
	s.records[key] = rec
	s.mu.Unlock()

	data, err := encodeClientRecord(rec)
	if err != nil {
		return err
	}
	return s.persist.Save(key, data)
}

// Delete removes a channel record and its scheduled broadcast, e.g. once
// the channel closes via protocol.
func (s *ClientStore) Delete(serverID, contractHash string) error {
	key := clientKey(serverID, contractHash)

	s.mu.Lock()
	delete(s.records, key)
	s.queue.Remove(key)
	s.mu.Unlock()

	return s.persist.Delete(key)
}

// Tick fires every due expiry as of now: for each, it broadcasts the
// stored contract (whenever one is on record; the store does not track
// whether it was broadcast before) and then the fully-signed refund,
// serially, before deleting the record. The
// store's lock is dropped before either broadcast call, per the
// concurrency model: broadcasting never runs under the store lock.
func (s *ClientStore) Tick(now time.Time) {
	nowUnix := now.Unix()
	for {
		s.mu.Lock()
		item, ok := s.queue.PopDue(nowUnix)
		if !ok {
			s.mu.Unlock()
			return
		}
		rec, haveRec := s.records[item.key]
		delete(s.records, item.key)
		s.mu.Unlock()

		if !haveRec {
			continue
		}
		s.fire(item.key, rec)
	}
}

func (s *ClientStore) fire(key string, rec ClientRecord) {
	if len(rec.Snapshot.ContractTx) > 0 {
		tx, err := deserializeTxBytes(rec.Snapshot.ContractTx)
		if err != nil {
			log.Printf("clientstore: %s: undecodable contract tx: %v", key, err)
		} else if err := s.broadcast.Broadcast(tx); err != nil {
			log.Printf("clientstore: %s: contract broadcast failed: %v", key, err)
		}
	} else {
		log.Printf("clientstore: %s: expiring without a broadcast contract on record", key)
	}

	if len(rec.Snapshot.SignedRefund) > 0 {
		tx, err := deserializeTxBytes(rec.Snapshot.SignedRefund)
		if err != nil {
			log.Printf("clientstore: %s: undecodable refund tx: %v", key, err)
		} else if err := s.broadcast.Broadcast(tx); err != nil {
			log.Printf("clientstore: %s: refund broadcast failed: %v", key, err)
		}
	}

	if err := s.persist.Delete(key); err != nil {
		log.Printf("clientstore: %s: persist delete failed: %v", key, err)
	}
}

// NextWake reports the soonest scheduled expiry, for a caller driving its
// own timer loop around Tick.
func (s *ClientStore) NextWake() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.queue.Peek()
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(item.expiresAt, 0), true
}
