// Package persistence implements the on-disk JSON snapshot format,
// {"slaves": {"<id>": {"coils": [...], ...}}}. It is pure
// encode/decode plus file I/O; the round-trip contract itself
// (restore(snapshot(D)) == D) is guaranteed by datastore.Store.
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/brightgrid/modbusd/datastore"
)

type wireSlave struct {
	Coils            []bool   `json:"coils"`
	DiscreteInputs   []bool   `json:"discrete_inputs"`
	HoldingRegisters []uint16 `json:"holding_registers"`
	InputRegisters   []uint16 `json:"input_registers"`
}

type wireSnapshot struct {
	Slaves map[string]wireSlave `json:"slaves"`
}

// Save writes snap to path as JSON, atomically via write-then-rename.
func Save(path string, snap datastore.Snapshot) error {
	wire := wireSnapshot{Slaves: make(map[string]wireSlave, len(snap.Slaves))}
	for id, slave := range snap.Slaves {
		wire.Slaves[strconv.Itoa(int(id))] = wireSlave{
			Coils:            slave.Coils,
			DiscreteInputs:   slave.DiscreteInputs,
			HoldingRegisters: slave.HoldingRegisters,
			InputRegisters:   slave.InputRegisters,
		}
	}

	data, err := json.MarshalIndent(wire, "", "  ")
	if err != nil {
		return fmt.Errorf("persistence: marshal snapshot: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("persistence: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("persistence: rename %s to %s: %w", tmp, path, err)
	}
	return nil
}

// Load reads and parses a snapshot previously written by Save.
func Load(path string) (datastore.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return datastore.Snapshot{}, fmt.Errorf("persistence: read %s: %w", path, err)
	}

	var wire wireSnapshot
	if err := json.Unmarshal(data, &wire); err != nil {
		return datastore.Snapshot{}, fmt.Errorf("persistence: parse %s: %w", path, err)
	}

	snap := datastore.Snapshot{Slaves: make(map[byte]datastore.SlaveSnapshot, len(wire.Slaves))}
	for idStr, slave := range wire.Slaves {
		id, err := strconv.Atoi(idStr)
		if err != nil || id < 0 || id > 255 {
			return datastore.Snapshot{}, fmt.Errorf("persistence: invalid slave id %q in %s", idStr, path)
		}
		snap.Slaves[byte(id)] = datastore.SlaveSnapshot{
			Coils:            slave.Coils,
			DiscreteInputs:   slave.DiscreteInputs,
			HoldingRegisters: slave.HoldingRegisters,
			InputRegisters:   slave.InputRegisters,
		}
	}
	return snap, nil
}

// Exists reports whether path names a file that can be loaded.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
