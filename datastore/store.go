// Package datastore implements the multi-slave Modbus data model: each
// slave ID owns four independent, zero-indexed, dense arrays (coils,
// discrete inputs, holding registers, input registers), guarded by a
// single exclusive lock so that multi-element reads and writes are
// atomic as seen by the PDU engine.
package datastore

import (
	"sort"
	"sync"
	"time"

	"github.com/brightgrid/modbusd/common"
)

// Kind tags which of the four data spaces a history entry or change
// event refers to.
type Kind int

const (
	Coil Kind = iota
	DiscreteInput
	HoldingRegister
	InputRegister
)

func (k Kind) String() string {
	switch k {
	case Coil:
		return "coils"
	case DiscreteInput:
		return "discrete_inputs"
	case HoldingRegister:
		return "holding_registers"
	case InputRegister:
		return "input_registers"
	default:
		return "unknown"
	}
}

// Block is one slave's four data spaces.
type Block struct {
	Coils            []bool
	DiscreteInputs   []bool
	HoldingRegisters []uint16
	InputRegisters   []uint16
}

// Store holds every configured slave's Block behind one exclusive lock.
// Concurrent readers and writers are fully serialized; a vector write
// commits in its entirety or not at all before any other caller can
// observe the range. The lock is never held across transport I/O,
// only around the in-memory mutation itself.
type Store struct {
	mu     sync.Mutex
	slaves map[byte]*Block

	history    []HistoryEntry
	historyMax int

	modified bool

	subMu    sync.Mutex
	subs     map[int]chan ChangeEvent
	nextSub  int
}

// HistoryDisabled as the historyMax argument to New turns the audit
// trail off entirely: writes still publish change events but record
// nothing.
const HistoryDisabled = -1

// New creates an empty store. historyMax bounds the audit trail FIFO;
// zero falls back to the 1000-entry default, HistoryDisabled turns
// the trail off.
func New(historyMax int) *Store {
	if historyMax == 0 {
		historyMax = 1000
	}
	return &Store{
		slaves:     make(map[byte]*Block),
		historyMax: historyMax,
		subs:       make(map[int]chan ChangeEvent),
	}
}

// InitializeSlave creates (or replaces) a slave's data spaces with the
// given sizes, each in [0, 65536], initialized to their zero values.
func (s *Store) InitializeSlave(id byte, nCoils, nDiscrete, nHolding, nInput int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.slaves[id] = &Block{
		Coils:            make([]bool, nCoils),
		DiscreteInputs:   make([]bool, nDiscrete),
		HoldingRegisters: make([]uint16, nHolding),
		InputRegisters:   make([]uint16, nInput),
	}
	s.modified = true
}

// ResizeSlave grows or shrinks one or more of an existing slave's data
// spaces in place. A nil pointer leaves that space unchanged. Existing
// values are preserved up to min(old, new) length; new elements are
// zero-valued. Returns ErrSlaveNotFound if the slave does not exist.
func (s *Store) ResizeSlave(id byte, nCoils, nDiscrete, nHolding, nInput *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	block, ok := s.slaves[id]
	if !ok {
		return common.ErrSlaveNotFound
	}

	if nCoils != nil {
		block.Coils = resizeBool(block.Coils, *nCoils)
	}
	if nDiscrete != nil {
		block.DiscreteInputs = resizeBool(block.DiscreteInputs, *nDiscrete)
	}
	if nHolding != nil {
		block.HoldingRegisters = resizeU16(block.HoldingRegisters, *nHolding)
	}
	if nInput != nil {
		block.InputRegisters = resizeU16(block.InputRegisters, *nInput)
	}
	s.modified = true
	return nil
}

func resizeBool(old []bool, size int) []bool {
	next := make([]bool, size)
	copy(next, old[:min(len(old), size)])
	return next
}

func resizeU16(old []uint16, size int) []uint16 {
	next := make([]uint16, size)
	copy(next, old[:min(len(old), size)])
	return next
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// HasSlave reports whether id has been initialized.
func (s *Store) HasSlave(id byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.slaves[id]
	return ok
}

// SlaveIDs returns the configured slave IDs in ascending order.
func (s *Store) SlaveIDs() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]byte, 0, len(s.slaves))
	for id := range s.slaves {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// boundsCheck validates addr+count against an array length using int
// arithmetic (avoids the uint16 wraparound a naive addr+count check
// would hit at the top of the address space).
func boundsCheck(addr, count, length int) error {
	if count <= 0 {
		return common.ErrInvalidQuantity
	}
	if addr+count > length {
		return common.ErrOutOfRange
	}
	return nil
}

// ReadCoils returns a copy of coils[addr:addr+count].
func (s *Store) ReadCoils(slave byte, addr, count uint16) ([]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	block, ok := s.slaves[slave]
	if !ok {
		return nil, common.ErrSlaveNotFound
	}
	if err := boundsCheck(int(addr), int(count), len(block.Coils)); err != nil {
		return nil, err
	}
	out := make([]bool, count)
	copy(out, block.Coils[addr:int(addr)+int(count)])
	return out, nil
}

// ReadDiscreteInputs returns a copy of discrete_inputs[addr:addr+count].
func (s *Store) ReadDiscreteInputs(slave byte, addr, count uint16) ([]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	block, ok := s.slaves[slave]
	if !ok {
		return nil, common.ErrSlaveNotFound
	}
	if err := boundsCheck(int(addr), int(count), len(block.DiscreteInputs)); err != nil {
		return nil, err
	}
	out := make([]bool, count)
	copy(out, block.DiscreteInputs[addr:int(addr)+int(count)])
	return out, nil
}

// ReadHoldingRegisters returns a copy of holding_registers[addr:addr+count].
func (s *Store) ReadHoldingRegisters(slave byte, addr, count uint16) ([]uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	block, ok := s.slaves[slave]
	if !ok {
		return nil, common.ErrSlaveNotFound
	}
	if err := boundsCheck(int(addr), int(count), len(block.HoldingRegisters)); err != nil {
		return nil, err
	}
	out := make([]uint16, count)
	copy(out, block.HoldingRegisters[addr:int(addr)+int(count)])
	return out, nil
}

// ReadInputRegisters returns a copy of input_registers[addr:addr+count].
func (s *Store) ReadInputRegisters(slave byte, addr, count uint16) ([]uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	block, ok := s.slaves[slave]
	if !ok {
		return nil, common.ErrSlaveNotFound
	}
	if err := boundsCheck(int(addr), int(count), len(block.InputRegisters)); err != nil {
		return nil, err
	}
	out := make([]uint16, count)
	copy(out, block.InputRegisters[addr:int(addr)+int(count)])
	return out, nil
}

// WriteSingleCoil writes one coil. source tags the origin (e.g. "tcp",
// "rtu") for the audit trail; it is opaque to the store.
func (s *Store) WriteSingleCoil(slave byte, addr uint16, value bool, source string) error {
	s.mu.Lock()
	block, ok := s.slaves[slave]
	if !ok {
		s.mu.Unlock()
		return common.ErrSlaveNotFound
	}
	if int(addr) >= len(block.Coils) {
		s.mu.Unlock()
		return common.ErrOutOfRange
	}
	old := block.Coils[addr]
	block.Coils[addr] = value
	s.modified = true
	s.appendHistory(slave, Coil, addr, Value{Kind: Coil, Bool: old}, Value{Kind: Coil, Bool: value}, source)
	s.mu.Unlock()

	s.publish(ChangeEvent{SlaveID: slave, Kind: Coil, Address: addr, Count: 1, Source: source})
	return nil
}

// WriteSingleRegister writes one holding register, masked to 16 bits.
func (s *Store) WriteSingleRegister(slave byte, addr uint16, value uint16, source string) error {
	s.mu.Lock()
	block, ok := s.slaves[slave]
	if !ok {
		s.mu.Unlock()
		return common.ErrSlaveNotFound
	}
	if int(addr) >= len(block.HoldingRegisters) {
		s.mu.Unlock()
		return common.ErrOutOfRange
	}
	old := block.HoldingRegisters[addr]
	block.HoldingRegisters[addr] = value
	s.modified = true
	s.appendHistory(slave, HoldingRegister, addr, Value{Kind: HoldingRegister, Reg: old}, Value{Kind: HoldingRegister, Reg: value}, source)
	s.mu.Unlock()

	s.publish(ChangeEvent{SlaveID: slave, Kind: HoldingRegister, Address: addr, Count: 1, Source: source})
	return nil
}

// WriteMultipleCoils writes values starting at addr, all-or-nothing:
// if the range would exceed bounds nothing is written and no history
// is produced.
func (s *Store) WriteMultipleCoils(slave byte, addr uint16, values []bool, source string) error {
	s.mu.Lock()
	block, ok := s.slaves[slave]
	if !ok {
		s.mu.Unlock()
		return common.ErrSlaveNotFound
	}
	if err := boundsCheck(int(addr), len(values), len(block.Coils)); err != nil {
		s.mu.Unlock()
		return err
	}
	for i, v := range values {
		a := addr + uint16(i)
		old := block.Coils[a]
		block.Coils[a] = v
		s.appendHistory(slave, Coil, a, Value{Kind: Coil, Bool: old}, Value{Kind: Coil, Bool: v}, source)
	}
	s.modified = true
	s.mu.Unlock()

	s.publish(ChangeEvent{SlaveID: slave, Kind: Coil, Address: addr, Count: len(values), Source: source})
	return nil
}

// WriteMultipleRegisters writes values starting at addr, all-or-nothing,
// each value masked to 16 bits (the uint16 type already enforces this).
func (s *Store) WriteMultipleRegisters(slave byte, addr uint16, values []uint16, source string) error {
	s.mu.Lock()
	block, ok := s.slaves[slave]
	if !ok {
		s.mu.Unlock()
		return common.ErrSlaveNotFound
	}
	if err := boundsCheck(int(addr), len(values), len(block.HoldingRegisters)); err != nil {
		s.mu.Unlock()
		return err
	}
	for i, v := range values {
		a := addr + uint16(i)
		old := block.HoldingRegisters[a]
		block.HoldingRegisters[a] = v
		s.appendHistory(slave, HoldingRegister, a, Value{Kind: HoldingRegister, Reg: old}, Value{Kind: HoldingRegister, Reg: v}, source)
	}
	s.modified = true
	s.mu.Unlock()

	s.publish(ChangeEvent{SlaveID: slave, Kind: HoldingRegister, Address: addr, Count: len(values), Source: source})
	return nil
}

// WriteSingleDiscreteInput sets one discrete input. Discrete inputs
// are read-only on the Modbus surface; this exists for the management
// API and external simulation agents.
func (s *Store) WriteSingleDiscreteInput(slave byte, addr uint16, value bool, source string) error {
	s.mu.Lock()
	block, ok := s.slaves[slave]
	if !ok {
		s.mu.Unlock()
		return common.ErrSlaveNotFound
	}
	if int(addr) >= len(block.DiscreteInputs) {
		s.mu.Unlock()
		return common.ErrOutOfRange
	}
	old := block.DiscreteInputs[addr]
	block.DiscreteInputs[addr] = value
	s.modified = true
	s.appendHistory(slave, DiscreteInput, addr, Value{Kind: DiscreteInput, Bool: old}, Value{Kind: DiscreteInput, Bool: value}, source)
	s.mu.Unlock()

	s.publish(ChangeEvent{SlaveID: slave, Kind: DiscreteInput, Address: addr, Count: 1, Source: source})
	return nil
}

// WriteMultipleDiscreteInputs sets values starting at addr,
// all-or-nothing, for the management surface.
func (s *Store) WriteMultipleDiscreteInputs(slave byte, addr uint16, values []bool, source string) error {
	s.mu.Lock()
	block, ok := s.slaves[slave]
	if !ok {
		s.mu.Unlock()
		return common.ErrSlaveNotFound
	}
	if err := boundsCheck(int(addr), len(values), len(block.DiscreteInputs)); err != nil {
		s.mu.Unlock()
		return err
	}
	for i, v := range values {
		a := addr + uint16(i)
		old := block.DiscreteInputs[a]
		block.DiscreteInputs[a] = v
		s.appendHistory(slave, DiscreteInput, a, Value{Kind: DiscreteInput, Bool: old}, Value{Kind: DiscreteInput, Bool: v}, source)
	}
	s.modified = true
	s.mu.Unlock()

	s.publish(ChangeEvent{SlaveID: slave, Kind: DiscreteInput, Address: addr, Count: len(values), Source: source})
	return nil
}

// WriteSingleInputRegister sets one input register. Like discrete
// inputs, input registers are read-only on the Modbus surface and
// writable only through this management path.
func (s *Store) WriteSingleInputRegister(slave byte, addr uint16, value uint16, source string) error {
	s.mu.Lock()
	block, ok := s.slaves[slave]
	if !ok {
		s.mu.Unlock()
		return common.ErrSlaveNotFound
	}
	if int(addr) >= len(block.InputRegisters) {
		s.mu.Unlock()
		return common.ErrOutOfRange
	}
	old := block.InputRegisters[addr]
	block.InputRegisters[addr] = value
	s.modified = true
	s.appendHistory(slave, InputRegister, addr, Value{Kind: InputRegister, Reg: old}, Value{Kind: InputRegister, Reg: value}, source)
	s.mu.Unlock()

	s.publish(ChangeEvent{SlaveID: slave, Kind: InputRegister, Address: addr, Count: 1, Source: source})
	return nil
}

// WriteMultipleInputRegisters sets values starting at addr,
// all-or-nothing, for the management surface.
func (s *Store) WriteMultipleInputRegisters(slave byte, addr uint16, values []uint16, source string) error {
	s.mu.Lock()
	block, ok := s.slaves[slave]
	if !ok {
		s.mu.Unlock()
		return common.ErrSlaveNotFound
	}
	if err := boundsCheck(int(addr), len(values), len(block.InputRegisters)); err != nil {
		s.mu.Unlock()
		return err
	}
	for i, v := range values {
		a := addr + uint16(i)
		old := block.InputRegisters[a]
		block.InputRegisters[a] = v
		s.appendHistory(slave, InputRegister, a, Value{Kind: InputRegister, Reg: old}, Value{Kind: InputRegister, Reg: v}, source)
	}
	s.modified = true
	s.mu.Unlock()

	s.publish(ChangeEvent{SlaveID: slave, Kind: InputRegister, Address: addr, Count: len(values), Source: source})
	return nil
}

// IsModified reports whether the store has unsaved changes.
func (s *Store) IsModified() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modified
}

// ClearModified marks the store as saved; called by the persistence
// layer once a snapshot has been written to disk.
func (s *Store) ClearModified() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modified = false
}

// appendHistory must be called with s.mu held.
func (s *Store) appendHistory(slave byte, kind Kind, addr uint16, oldValue, newValue Value, source string) {
	if s.historyMax < 0 {
		return
	}
	entry := HistoryEntry{
		Timestamp: time.Now(),
		SlaveID:   slave,
		Kind:      kind,
		Address:   addr,
		OldValue:  oldValue,
		NewValue:  newValue,
		Source:    source,
	}
	s.history = append(s.history, entry)
	if len(s.history) > s.historyMax {
		s.history = s.history[len(s.history)-s.historyMax:]
	}
}
