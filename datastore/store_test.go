package datastore

import "testing"

func TestStore_ReadWriteHoldingRegisters(t *testing.T) {
	s := New(0)
	s.InitializeSlave(1, 10, 10, 10, 10)

	if err := s.WriteMultipleRegisters(1, 2, []uint16{1234, 5678}, "test"); err != nil {
		t.Fatalf("WriteMultipleRegisters: %v", err)
	}

	values, err := s.ReadHoldingRegisters(1, 2, 2)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters: %v", err)
	}
	if values[0] != 1234 || values[1] != 5678 {
		t.Fatalf("unexpected values: %v", values)
	}
}

func TestStore_OutOfRangeWriteIsAllOrNothing(t *testing.T) {
	s := New(0)
	s.InitializeSlave(1, 0, 0, 4, 0)
	s.WriteMultipleRegisters(1, 0, []uint16{1, 2, 3, 4}, "test")

	before, _ := s.ReadHoldingRegisters(1, 0, 4)

	err := s.WriteMultipleRegisters(1, 2, []uint16{99, 99, 99}, "test")
	if err == nil {
		t.Fatal("expected out-of-range error")
	}

	after, _ := s.ReadHoldingRegisters(1, 0, 4)
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("partial mutation at index %d: before=%v after=%v", i, before, after)
		}
	}
}

func TestStore_UnknownSlave(t *testing.T) {
	s := New(0)
	if _, err := s.ReadCoils(9, 0, 1); err == nil {
		t.Fatal("expected error for unknown slave")
	}
}

func TestStore_RegisterWriteMasksTo16Bits(t *testing.T) {
	s := New(0)
	s.InitializeSlave(1, 0, 0, 1, 0)

	// uint16 parameter already enforces the mask; this pins that the
	// stored value matches exactly with no sign-extension surprises.
	if err := s.WriteSingleRegister(1, 0, 0xFFFF, "test"); err != nil {
		t.Fatalf("WriteSingleRegister: %v", err)
	}
	values, _ := s.ReadHoldingRegisters(1, 0, 1)
	if values[0] != 0xFFFF {
		t.Fatalf("expected 0xFFFF, got 0x%04X", values[0])
	}
}

func TestStore_HistoryBounded(t *testing.T) {
	s := New(3)
	s.InitializeSlave(1, 0, 0, 10, 0)

	for i := 0; i < 10; i++ {
		s.WriteSingleRegister(1, uint16(i), uint16(i), "test")
	}

	hist := s.History(0)
	if len(hist) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(hist))
	}
	// Most recent three writes were to addresses 7, 8, 9.
	for i, want := range []uint16{7, 8, 9} {
		if hist[i].Address != want {
			t.Errorf("entry %d: expected address %d, got %d", i, want, hist[i].Address)
		}
	}
}

func TestStore_ResizeSlavePreservesPrefix(t *testing.T) {
	s := New(0)
	s.InitializeSlave(1, 0, 0, 4, 0)
	s.WriteMultipleRegisters(1, 0, []uint16{10, 20, 30, 40}, "test")

	newSize := 2
	if err := s.ResizeSlave(1, nil, nil, &newSize, nil); err != nil {
		t.Fatalf("ResizeSlave: %v", err)
	}

	values, err := s.ReadHoldingRegisters(1, 0, 2)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters after resize: %v", err)
	}
	if values[0] != 10 || values[1] != 20 {
		t.Fatalf("expected truncated prefix preserved, got %v", values)
	}
}

func TestStore_WriteReadOnlyKindsViaManagementPath(t *testing.T) {
	s := New(0)
	s.InitializeSlave(1, 0, 4, 0, 4)

	if err := s.WriteMultipleDiscreteInputs(1, 0, []bool{true, true, false, true}, "web"); err != nil {
		t.Fatalf("WriteMultipleDiscreteInputs: %v", err)
	}
	inputs, err := s.ReadDiscreteInputs(1, 0, 4)
	if err != nil {
		t.Fatalf("ReadDiscreteInputs: %v", err)
	}
	if !inputs[0] || !inputs[1] || inputs[2] || !inputs[3] {
		t.Fatalf("unexpected discrete inputs: %v", inputs)
	}

	if err := s.WriteSingleInputRegister(1, 2, 0xCAFE, "web"); err != nil {
		t.Fatalf("WriteSingleInputRegister: %v", err)
	}
	regs, err := s.ReadInputRegisters(1, 2, 1)
	if err != nil || regs[0] != 0xCAFE {
		t.Fatalf("unexpected input register: %v err=%v", regs, err)
	}

	if err := s.WriteMultipleInputRegisters(1, 3, []uint16{1, 2}, "web"); err == nil {
		t.Fatal("expected out-of-range error for input register vector write")
	}
}

func TestStore_HistoryDisabled(t *testing.T) {
	s := New(HistoryDisabled)
	s.InitializeSlave(1, 0, 0, 4, 0)

	s.WriteSingleRegister(1, 0, 1, "test")
	s.WriteMultipleRegisters(1, 0, []uint16{2, 3}, "test")

	if hist := s.History(0); len(hist) != 0 {
		t.Fatalf("expected empty history when disabled, got %d entries", len(hist))
	}
}

func TestStore_SnapshotRestoreRoundTrip(t *testing.T) {
	s := New(0)
	s.InitializeSlave(1, 2, 2, 2, 2)
	s.WriteMultipleCoils(1, 0, []bool{true, false}, "test")
	s.WriteMultipleRegisters(1, 0, []uint16{7, 8}, "test")

	snap := s.Snapshot()

	s2 := New(0)
	s2.InitializeSlave(1, 2, 2, 2, 2)
	s2.Restore(snap)

	coils, _ := s2.ReadCoils(1, 0, 2)
	regs, _ := s2.ReadHoldingRegisters(1, 0, 2)
	if coils[0] != true || coils[1] != false {
		t.Fatalf("coils not restored: %v", coils)
	}
	if regs[0] != 7 || regs[1] != 8 {
		t.Fatalf("registers not restored: %v", regs)
	}
}

func TestStore_SubscribeDropsOldestOnOverflow(t *testing.T) {
	s := New(0)
	s.InitializeSlave(1, 0, 0, 2, 0)
	_, ch := s.Subscribe(1)

	s.WriteSingleRegister(1, 0, 1, "test")
	s.WriteSingleRegister(1, 1, 2, "test")

	event := <-ch
	if event.Address != 1 {
		t.Fatalf("unexpected event: %+v", event)
	}
	select {
	case <-ch:
		t.Fatal("expected buffer to hold only the most recent event")
	default:
	}
}
