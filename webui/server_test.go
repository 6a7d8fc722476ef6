package webui

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/brightgrid/modbusd/datastore"
	"github.com/brightgrid/modbusd/engine"
)

func newTestServer() (*Server, *datastore.Store) {
	store := datastore.New(100)
	store.InitializeSlave(1, 10, 10, 10, 10)
	store.WriteSingleCoil(1, 0, true, "test")
	store.WriteSingleRegister(1, 0, 42, "test")
	eng := engine.New(store, "test")
	srv := NewServer(Config{Host: "127.0.0.1", Port: 0}, store, eng, nil)
	return srv, store
}

func (s *Server) testHandler() http.Handler {
	return s.httpSrv.Handler
}

func TestHandleSlaves(t *testing.T) {
	srv, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/slaves", nil)
	rec := httptest.NewRecorder()
	srv.testHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string][]int
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body["slaves"]) != 1 || body["slaves"][0] != 1 {
		t.Fatalf("unexpected slaves list: %v", body)
	}
}

func TestHandleDataWithSlaveID(t *testing.T) {
	srv, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/data?slave_id=1", nil)
	rec := httptest.NewRecorder()
	srv.testHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleDataUnknownSlave(t *testing.T) {
	srv, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/data?slave_id=99", nil)
	rec := httptest.NewRecorder()
	srv.testHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleWriteCoil(t *testing.T) {
	srv, store := newTestServer()
	body, _ := json.Marshal(writeCoilRequest{SlaveID: 1, Address: 5, Value: true})
	req := httptest.NewRequest(http.MethodPost, "/api/write/coil", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.testHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	coils, err := store.ReadCoils(1, 5, 1)
	if err != nil || !coils[0] {
		t.Fatalf("expected coil 5 to be set: %v %v", coils, err)
	}
}

func TestHandleWriteInputRegisterKind(t *testing.T) {
	srv, store := newTestServer()
	body, _ := json.Marshal(writeRegisterRequest{SlaveID: 1, Address: 2, Value: 0x0CAB, Kind: "input_registers"})
	req := httptest.NewRequest(http.MethodPost, "/api/write/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.testHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	regs, err := store.ReadInputRegisters(1, 2, 1)
	if err != nil || regs[0] != 0x0CAB {
		t.Fatalf("expected input register written: %v %v", regs, err)
	}
}

func TestHandleWriteRejectsUnknownKind(t *testing.T) {
	srv, _ := newTestServer()
	body, _ := json.Marshal(writeRegisterRequest{SlaveID: 1, Address: 0, Value: 1, Kind: "bogus"})
	req := httptest.NewRequest(http.MethodPost, "/api/write/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.testHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleResize(t *testing.T) {
	srv, store := newTestServer()
	newSize := 20
	body, _ := json.Marshal(resizeRequest{SlaveID: 1, Coils: &newSize})
	req := httptest.NewRequest(http.MethodPost, "/api/config/resize", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.testHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	coils, err := store.ReadCoils(1, 0, 20)
	if err != nil {
		t.Fatalf("expected resized slave to allow reading 20 coils: %v", err)
	}
	if len(coils) != 20 {
		t.Fatalf("expected 20 coils, got %d", len(coils))
	}
}

func TestHandleResizeUnknownSlave(t *testing.T) {
	srv, _ := newTestServer()
	newSize := 5
	body, _ := json.Marshal(resizeRequest{SlaveID: 99, Coils: &newSize})
	req := httptest.NewRequest(http.MethodPost, "/api/config/resize", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.testHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.testHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestBasicAuthRejectsMissingCredentials(t *testing.T) {
	store := datastore.New(0)
	store.InitializeSlave(1, 1, 1, 1, 1)
	eng := engine.New(store, "test")
	srv := NewServer(Config{Host: "127.0.0.1", Port: 0, Auth: AuthConfig{Enabled: true, Username: "admin", Password: "secret"}}, store, eng, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/slaves", nil)
	rec := httptest.NewRecorder()
	srv.testHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestBasicAuthAcceptsValidCredentials(t *testing.T) {
	store := datastore.New(0)
	store.InitializeSlave(1, 1, 1, 1, 1)
	eng := engine.New(store, "test")
	srv := NewServer(Config{Host: "127.0.0.1", Port: 0, Auth: AuthConfig{Enabled: true, Username: "admin", Password: "secret"}}, store, eng, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/slaves", nil)
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	srv.testHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
