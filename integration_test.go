package modbusd

import (
	"context"
	"encoding/binary"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/brightgrid/modbusd/common"
	"github.com/brightgrid/modbusd/datastore"
	"github.com/brightgrid/modbusd/engine"
	"github.com/brightgrid/modbusd/frame/mbap"
	"github.com/brightgrid/modbusd/logging"
	"github.com/brightgrid/modbusd/server"
)

// roundTrip sends one MBAP-framed request over conn and returns the
// decoded response ADU, the same wire-level shape server/tcp_server_test.go
// drives the server with: no client SDK involved, just frame/mbap plus
// hand-built PDU bytes.
func roundTrip(t *testing.T, conn net.Conn, txnID uint16, unitID byte, fc common.FunctionCode, data []byte) mbap.ADU {
	t.Helper()
	header := mbap.Header{TransactionID: common.TransactionID(txnID), ProtocolID: common.TCPProtocolIdentifier, UnitID: unitID}
	pdu := append([]byte{byte(fc)}, data...)
	if err := mbap.WriteADU(conn, header, pdu); err != nil {
		t.Fatalf("WriteADU: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	resp, err := mbap.ReadADU(conn)
	if err != nil {
		t.Fatalf("ReadADU: %v", err)
	}
	return resp
}

func u16be(vs ...uint16) []byte {
	out := make([]byte, 2*len(vs))
	for i, v := range vs {
		binary.BigEndian.PutUint16(out[2*i:], v)
	}
	return out
}

func packedCoils(vs []bool) []byte {
	out := make([]byte, (len(vs)+7)/8)
	for i, v := range vs {
		if v {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

// TestClientServerIntegration exercises a real TCP connection against
// the multi-slave TCP server (MBAP framing, engine dispatch,
// datastore) end to end, driving the wire directly with frame/mbap.
func TestClientServerIntegration(t *testing.T) {
	logger := logging.NewLogger(logging.WithLevel(common.LevelDebug))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	const slaveID = 1
	store := datastore.New(1000)
	store.InitializeSlave(slaveID, 2000, 2000, 3000, 3500)

	store.WriteMultipleCoils(slaveID, 1000, []bool{true, false, true}, "test")
	store.WriteMultipleRegisters(slaveID, 2000, []uint16{0x1234, 0x5678}, "test")

	eng := engine.New(store, "test")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find free port: %v", err)
	}
	serverPort := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	modbusServer := server.NewTCPServer(
		"127.0.0.1",
		server.WithServerPort(serverPort),
		server.WithServerLogger(logger),
		server.WithServerEngine(eng),
	)

	if err := modbusServer.Start(ctx); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	defer modbusServer.Stop(context.Background())

	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(serverPort)), 5*time.Second)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	// Read Coils
	resp := roundTrip(t, conn, 1, slaveID, common.FuncReadCoils, u16be(1000, 3))
	if resp.PDU.FunctionCode != common.FuncReadCoils {
		t.Fatalf("ReadCoils: unexpected function code %v", resp.PDU.FunctionCode)
	}
	if len(resp.PDU.Data) != 2 || resp.PDU.Data[0] != 1 {
		t.Fatalf("ReadCoils: unexpected response data %v", resp.PDU.Data)
	}
	if got := packedCoils([]bool{true, false, true}); resp.PDU.Data[1] != got[0] {
		t.Errorf("ReadCoils: expected packed byte 0x%02X, got 0x%02X", got[0], resp.PDU.Data[1])
	}

	// Read Holding Registers
	resp = roundTrip(t, conn, 2, slaveID, common.FuncReadHoldingRegisters, u16be(2000, 2))
	if len(resp.PDU.Data) != 5 || resp.PDU.Data[0] != 4 {
		t.Fatalf("ReadHoldingRegisters: unexpected response data %v", resp.PDU.Data)
	}
	if got := binary.BigEndian.Uint16(resp.PDU.Data[1:3]); got != 0x1234 {
		t.Errorf("ReadHoldingRegisters[0]: expected 0x1234, got 0x%04X", got)
	}
	if got := binary.BigEndian.Uint16(resp.PDU.Data[3:5]); got != 0x5678 {
		t.Errorf("ReadHoldingRegisters[1]: expected 0x5678, got 0x%04X", got)
	}

	// Write Single Coil
	resp = roundTrip(t, conn, 3, slaveID, common.FuncWriteSingleCoil, append(u16be(1010), 0xFF, 0x00))
	if resp.PDU.FunctionCode != common.FuncWriteSingleCoil {
		t.Fatalf("WriteSingleCoil: unexpected function code %v", resp.PDU.FunctionCode)
	}
	coilsAfter, err := store.ReadCoils(slaveID, 1010, 1)
	if err != nil || !coilsAfter[0] {
		t.Fatalf("coil at address 1010 was not written: %v", err)
	}

	// Write Single Register
	resp = roundTrip(t, conn, 4, slaveID, common.FuncWriteSingleRegister, u16be(2010, 0x4321))
	if resp.PDU.FunctionCode != common.FuncWriteSingleRegister {
		t.Fatalf("WriteSingleRegister: unexpected function code %v", resp.PDU.FunctionCode)
	}
	regsAfter, err := store.ReadHoldingRegisters(slaveID, 2010, 1)
	if err != nil || regsAfter[0] != 0x4321 {
		t.Fatalf("register at address 2010 was not written: %v", err)
	}

	// Write Multiple Coils
	coilValues := []bool{true, false, true, false}
	packed := packedCoils(coilValues)
	body := append(u16be(1020, uint16(len(coilValues))), byte(len(packed)))
	body = append(body, packed...)
	resp = roundTrip(t, conn, 5, slaveID, common.FuncWriteMultipleCoils, body)
	if resp.PDU.FunctionCode != common.FuncWriteMultipleCoils {
		t.Fatalf("WriteMultipleCoils: unexpected function code %v", resp.PDU.FunctionCode)
	}
	writtenCoils, err := store.ReadCoils(slaveID, 1020, uint16(len(coilValues)))
	if err != nil {
		t.Fatalf("failed reading back coils: %v", err)
	}
	for i, expected := range coilValues {
		if writtenCoils[i] != expected {
			t.Errorf("coil at address %d: expected %t, got %t", 1020+i, expected, writtenCoils[i])
		}
	}

	// Write Multiple Registers
	registerValues := []uint16{0x1111, 0x2222, 0x3333}
	regBytes := u16be(registerValues...)
	body = append(u16be(2020, uint16(len(registerValues))), byte(len(regBytes)))
	body = append(body, regBytes...)
	resp = roundTrip(t, conn, 6, slaveID, common.FuncWriteMultipleRegisters, body)
	if resp.PDU.FunctionCode != common.FuncWriteMultipleRegisters {
		t.Fatalf("WriteMultipleRegisters: unexpected function code %v", resp.PDU.FunctionCode)
	}
	writtenRegs, err := store.ReadHoldingRegisters(slaveID, 2020, uint16(len(registerValues)))
	if err != nil {
		t.Fatalf("failed reading back registers: %v", err)
	}
	for i, expected := range registerValues {
		if writtenRegs[i] != expected {
			t.Errorf("register at address %d: expected 0x%04X, got 0x%04X", 2020+i, expected, writtenRegs[i])
		}
	}

	// Read/Write Multiple Registers
	writeValues := u16be(0xAAAA, 0xBBBB)
	rwBody := append(u16be(2000, 2, 2030, 2), byte(len(writeValues)))
	rwBody = append(rwBody, writeValues...)
	resp = roundTrip(t, conn, 7, slaveID, common.FuncReadWriteMultipleRegisters, rwBody)
	if len(resp.PDU.Data) != 5 || resp.PDU.Data[0] != 4 {
		t.Fatalf("ReadWriteMultipleRegisters: unexpected response data %v", resp.PDU.Data)
	}
	if got := binary.BigEndian.Uint16(resp.PDU.Data[1:3]); got != 0x1234 {
		t.Errorf("ReadWriteMultipleRegisters read[0]: expected 0x1234, got 0x%04X", got)
	}
	if got := binary.BigEndian.Uint16(resp.PDU.Data[3:5]); got != 0x5678 {
		t.Errorf("ReadWriteMultipleRegisters read[1]: expected 0x5678, got 0x%04X", got)
	}
	writtenOverlap, err := store.ReadHoldingRegisters(slaveID, 2030, 2)
	if err != nil || writtenOverlap[0] != 0xAAAA || writtenOverlap[1] != 0xBBBB {
		t.Fatalf("read/write multiple registers did not commit the write half: %v", err)
	}

	if err := modbusServer.Stop(ctx); err != nil {
		t.Fatalf("failed to stop server: %v", err)
	}
}
