package datastore

// SlaveSnapshot is the lossless on-wire shape of one slave's data
// spaces, as consumed by the persistence package (JSON marshaling
// lives there, not here — the store only guarantees the round trip).
type SlaveSnapshot struct {
	Coils            []bool   `json:"coils"`
	DiscreteInputs   []bool   `json:"discrete_inputs"`
	HoldingRegisters []uint16 `json:"holding_registers"`
	InputRegisters   []uint16 `json:"input_registers"`
}

// Snapshot is a full, slave-ID-keyed copy of the store's data. It
// deliberately excludes history: restore(snapshot(D)) == D holds for
// the four data spaces only, per the persistence contract.
type Snapshot struct {
	Slaves map[byte]SlaveSnapshot
}

// Snapshot returns a deep copy of every configured slave's data.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Snapshot{Slaves: make(map[byte]SlaveSnapshot, len(s.slaves))}
	for id, block := range s.slaves {
		ss := SlaveSnapshot{
			Coils:            make([]bool, len(block.Coils)),
			DiscreteInputs:   make([]bool, len(block.DiscreteInputs)),
			HoldingRegisters: make([]uint16, len(block.HoldingRegisters)),
			InputRegisters:   make([]uint16, len(block.InputRegisters)),
		}
		copy(ss.Coils, block.Coils)
		copy(ss.DiscreteInputs, block.DiscreteInputs)
		copy(ss.HoldingRegisters, block.HoldingRegisters)
		copy(ss.InputRegisters, block.InputRegisters)
		out.Slaves[id] = ss
	}
	return out
}

// Restore overwrites slaves' data from snap. Slaves not named in snap
// are left untouched; snap entries for unknown slave IDs are
// initialized fresh so a restore after a cold start still works.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, ss := range snap.Slaves {
		block, ok := s.slaves[id]
		if !ok {
			block = &Block{}
			s.slaves[id] = block
		}
		block.Coils = append([]bool(nil), ss.Coils...)
		block.DiscreteInputs = append([]bool(nil), ss.DiscreteInputs...)
		block.HoldingRegisters = append([]uint16(nil), ss.HoldingRegisters...)
		block.InputRegisters = append([]uint16(nil), ss.InputRegisters...)
	}
	s.modified = false
}

// GetAll returns a deep copy of every slave's data, keyed by slave ID.
// Equivalent to Snapshot but named to match the management surface's
// "dump everything" use case.
func (s *Store) GetAll() map[byte]SlaveSnapshot {
	return s.Snapshot().Slaves
}
