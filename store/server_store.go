package store

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/btcpay/paychan/capability"
	"github.com/btcpay/paychan/channel"
)

// DefaultServerSafetyMargin is subtracted from a channel's expiry to get
// the server's broadcast time: the payee must get its best settlement
// confirmed before the payer's refund becomes valid, so it fires first.
const DefaultServerSafetyMargin = 2 * time.Second

// ServerStore is the payee's keyed collection of channels, one per
// contractHash, broadcasting only the best settlement once a channel's
// pre-expiry safety margin fires.
type ServerStore struct {
	mu      sync.Mutex
	records map[string]ServerRecord
	queue   *expiryQueue

	persist   capability.Persist
	broadcast capability.Broadcast
	clock     capability.Clock

	safetyMargin time.Duration
}

// NewServerStore creates a ServerStore backed by persist, loading any
// records persist already holds.
func NewServerStore(persist capability.Persist, broadcast capability.Broadcast, clock capability.Clock) *ServerStore {
	s := &ServerStore{
		records:      make(map[string]ServerRecord),
		queue:        newExpiryQueue(),
		persist:      persist,
		broadcast:    broadcast,
		clock:        clock,
		safetyMargin: DefaultServerSafetyMargin,
	}
	s.loadAll()
	return s
}

func (s *ServerStore) loadAll() {
	keys, err := s.persist.List()
	if err != nil {
		log.Printf("serverstore: list failed: %v", err)
		return
	}
	for _, key := range keys {
		data, ok, err := s.persist.Load(key)
		if err != nil || !ok {
			continue
		}
		rec, err := decodeServerRecord(data)
		if err != nil {
			log.Printf("serverstore: skipping unreadable record %s: %v", key, err)
			continue
		}
		s.records[key] = rec
		s.queue.Upsert(key, rec.ExpiresAt)
	}
}

// Put inserts or replaces a channel record and schedules its pre-expiry
// broadcast, persisting the new snapshot before returning.
func (s *ServerStore) Put(contractHash string, snap channel.ServerSnapshot, active bool) error {
	rec := ServerRecord{
		ContractHash: contractHash,
		Snapshot:     snap,
		Active:       active,
		ExpiresAt:    snap.Contract.Expiry - int64(s.safetyMargin.Seconds()),
	}

	s.mu.Lock()
	s.records[contractHash] = rec
	s.queue.Upsert(contractHash, rec.ExpiresAt)
	s.mu.Unlock()

	data, err := encodeServerRecord(rec)
	if err != nil {
		return err
	}
	return s.persist.Save(contractHash, data)
}

// Get looks up a channel record by contract hash.
func (s *ServerStore) Get(contractHash string) (ServerRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[contractHash]
	return rec, ok
}

// MarkInactive flips a channel's active flag false on disconnect, so a
// later client reconnecting can be matched back onto this record rather
// than starting a fresh INITIATE.
func (s *ServerStore) MarkInactive(contractHash string) error {
	s.mu.Lock()
	rec, ok := s.records[contractHash]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("serverstore: no record for %s", contractHash)
	}
	rec.Active = false
	s.records[contractHash] = rec
	s.mu.Unlock()

	data, err := encodeServerRecord(rec)
	if err != nil {
		return err
	}
	return s.persist.Save(contractHash, data)
}

// MarkActive flips a channel's active flag true, e.g. once a resuming
// client reattaches to it.
func (s *ServerStore) MarkActive(contractHash string) error {
	s.mu.Lock()
	rec, ok := s.records[contractHash]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("serverstore: no record for %s", contractHash)
	}
	rec.Active = true
	s.records[contractHash] = rec
	s.mu.Unlock()

	data, err := encodeServerRecord(rec)
	if err != nil {
		return err
	}
	return s.persist.Save(contractHash, data)
}

// Delete removes a channel record and its scheduled broadcast, e.g. once
// the channel closes via protocol: the safety-margin broadcast becomes a
// no-op because the record is already gone by the time it would fire.
func (s *ServerStore) Delete(contractHash string) error {
	s.mu.Lock()
	delete(s.records, contractHash)
	s.queue.Remove(contractHash)
	s.mu.Unlock()

	return s.persist.Delete(contractHash)
}

// Tick fires every due expiry as of now, broadcasting each channel's best
// settlement (if any was ever accepted) before deleting the record. The
// store's lock is dropped before the broadcast call.
func (s *ServerStore) Tick(now time.Time) {
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

func (s *ServerStore) fire(key string, rec ServerRecord) {
	if len(rec.Snapshot.BestSettlement) > 0 {
		tx, err := deserializeTxBytes(rec.Snapshot.BestSettlement)
		if err != nil {
			log.Printf("serverstore: %s: undecodable settlement tx: %v", key, err)
		} else if err := s.broadcast.Broadcast(tx); err != nil {
			log.Printf("serverstore: %s: settlement broadcast failed: %v", key, err)
		}
	}

	if err := s.persist.Delete(key); err != nil {
		log.Printf("serverstore: %s: persist delete failed: %v", key, err)
	}
}

// NextWake reports the soonest scheduled expiry, for a caller driving its
// own timer loop around Tick.
func (s *ServerStore) NextWake() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.queue.Peek()
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(item.expiresAt, 0), true
}
