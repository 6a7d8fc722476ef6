package server

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/brightgrid/modbusd/common"
	"github.com/brightgrid/modbusd/datastore"
	"github.com/brightgrid/modbusd/engine"
	"github.com/brightgrid/modbusd/frame/mbap"
)

func newTestEngine() *engine.Engine {
	store := datastore.New(0)
	store.InitializeSlave(1, 10, 10, 10, 10)
	store.WriteSingleRegister(1, 0, 0xBEEF, "test")
	return engine.New(store, "test")
}

func TestTCPServer_StartStop(t *testing.T) {
	srv := NewTCPServer("127.0.0.1", WithServerPort(0), WithServerEngine(newTestEngine()))

	ctx := context.Background()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !srv.IsRunning() {
		t.Fatal("expected server to be running after Start")
	}
	if err := srv.Start(ctx); err == nil {
		t.Fatal("expected error starting an already-running server")
	}
	if err := srv.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if srv.IsRunning() {
		t.Fatal("expected server to be stopped after Stop")
	}
}

func TestTCPServer_StartWithoutEngine(t *testing.T) {
	srv := NewTCPServer("127.0.0.1", WithServerPort(0))
	if err := srv.Start(context.Background()); err == nil {
		t.Fatal("expected error starting a server with no engine configured")
	}
}

// freeTCPPort finds an available TCP port by listening on port 0 and
// closing the listener immediately, so the port can be handed to a
// server started moments later.
func freeTCPPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening on port 0: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestTCPServer_ServesReadHoldingRegisters(t *testing.T) {
	port := freeTCPPort(t)

	srv := NewTCPServer("127.0.0.1", WithServerPort(port), WithServerEngine(newTestEngine()))
	ctx := context.Background()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Stop(ctx)

	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), 2*time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	adu := mbap.ADU{
		Header: mbap.Header{TransactionID: 7, ProtocolID: 0, UnitID: 1},
		PDU:    common.PDU{FunctionCode: common.FuncReadHoldingRegisters, Data: []byte{0x00, 0x00, 0x00, 0x01}},
	}
	if err := mbap.WriteADU(conn, adu.Header, append([]byte{byte(adu.PDU.FunctionCode)}, adu.PDU.Data...)); err != nil {
		t.Fatalf("WriteADU: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := mbap.ReadADU(conn)
	if err != nil {
		t.Fatalf("ReadADU: %v", err)
	}
	if resp.Header.TransactionID != 7 {
		t.Fatalf("expected echoed transaction id 7, got %d", resp.Header.TransactionID)
	}
	if resp.PDU.FunctionCode != common.FuncReadHoldingRegisters {
		t.Fatalf("expected function code %v, got %v", common.FuncReadHoldingRegisters, resp.PDU.FunctionCode)
	}
	if len(resp.PDU.Data) != 3 || resp.PDU.Data[0] != 2 {
		t.Fatalf("unexpected response data: %v", resp.PDU.Data)
	}
	got := uint16(resp.PDU.Data[1])<<8 | uint16(resp.PDU.Data[2])
	if got != 0xBEEF {
		t.Fatalf("expected register value 0xBEEF, got 0x%04X", got)
	}
}
