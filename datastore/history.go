package datastore

import (
	"fmt"
	"time"
)

// Value is a tagged union over the two scalar types the datastore ever
// mutates: a bit (coils) or a 16-bit word (registers). Kept as a
// static sum type rather than interface{} so history records and
// change events stay type-safe end to end.
type Value struct {
	Kind Kind
	Bool bool
	Reg  uint16
}

// String renders the value in whichever form its Kind implies.
func (v Value) String() string {
	switch v.Kind {
	case Coil, DiscreteInput:
		return fmt.Sprintf("%t", v.Bool)
	default:
		return fmt.Sprintf("%d (0x%04X)", v.Reg, v.Reg)
	}
}

// HistoryEntry is one audit trail record: exactly one scalar element
// mutated by exactly one successful write.
type HistoryEntry struct {
	Timestamp time.Time
	SlaveID   byte
	Kind      Kind
	Address   uint16
	OldValue  Value
	NewValue  Value
	Source    string
}

// History returns up to limit most-recent entries, oldest first. A
// non-positive limit returns the full (bounded) trail.
func (s *Store) History(limit int) []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	start := len(s.history) - limit
	out := make([]HistoryEntry, limit)
	copy(out, s.history[start:])
	return out
}

// ChangeEvent describes one committed write for the notification
// fan-out consumed by management UIs. It carries the range touched,
// not the values, keeping subscribers decoupled from the wire format.
type ChangeEvent struct {
	SlaveID byte
	Kind    Kind
	Address uint16
	Count   int
	Source  string
}

// Subscribe registers a new change listener with a bounded buffer and
// returns its ID (for Unsubscribe) and receive channel. Overflowing
// subscribers have their oldest queued event dropped rather than
// blocking the writer that published it.
func (s *Store) Subscribe(buffer int) (int, <-chan ChangeEvent) {
	if buffer <= 0 {
		buffer = 32
	}
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan ChangeEvent, buffer)
	s.subs[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a previously registered listener.
func (s *Store) Unsubscribe(id int) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
}

// publish fans a change event out to every subscriber without
// blocking. It must not be called while s.mu is held.
func (s *Store) publish(event ChangeEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, ch := range s.subs {
		select {
		case ch <- event:
		default:
			// Buffer full: drop the oldest queued event, then retry once.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- event:
			default:
			}
		}
	}
}
