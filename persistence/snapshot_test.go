package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/brightgrid/modbusd/datastore"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	store := datastore.New(0)
	store.InitializeSlave(1, 4, 4, 4, 4)
	store.WriteMultipleCoils(1, 0, []bool{true, false, true, false}, "test")
	store.WriteMultipleRegisters(1, 0, []uint16{10, 20, 30, 40}, "test")

	path := filepath.Join(t.TempDir(), "snapshot.json")
	if err := Save(path, store.Snapshot()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !Exists(path) {
		t.Fatal("expected Exists to report true after Save")
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	restored := datastore.New(0)
	restored.InitializeSlave(1, 4, 4, 4, 4)
	restored.Restore(loaded)

	coils, err := restored.ReadCoils(1, 0, 4)
	if err != nil {
		t.Fatalf("ReadCoils: %v", err)
	}
	want := []bool{true, false, true, false}
	for i := range want {
		if coils[i] != want[i] {
			t.Fatalf("coil %d: expected %t, got %t", i, want[i], coils[i])
		}
	}

	regs, err := restored.ReadHoldingRegisters(1, 0, 4)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters: %v", err)
	}
	wantRegs := []uint16{10, 20, 30, 40}
	for i := range wantRegs {
		if regs[i] != wantRegs[i] {
			t.Fatalf("register %d: expected %d, got %d", i, wantRegs[i], regs[i])
		}
	}
}

func TestExistsFalseForMissingFile(t *testing.T) {
	if Exists(filepath.Join(t.TempDir(), "missing.json")) {
		t.Fatal("expected Exists to report false for a missing file")
	}
}

func TestLoadRejectsInvalidSlaveID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	badJSON := `{"slaves":{"999":{"coils":[],"discrete_inputs":[],"holding_registers":[],"input_registers":[]}}}`
	if err := os.WriteFile(path, []byte(badJSON), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected error loading a snapshot with an out-of-range slave id")
	}
}
