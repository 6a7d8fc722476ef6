package webui

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/brightgrid/modbusd/common"
	"github.com/brightgrid/modbusd/datastore"
	"github.com/brightgrid/modbusd/engine"
	"github.com/brightgrid/modbusd/logging"
)

// AuthConfig gates the management API behind HTTP basic auth.
type AuthConfig struct {
	Enabled  bool
	Username string
	Password string
}

// Config configures the management HTTP+WebSocket server.
type Config struct {
	Host string
	Port int
	Auth AuthConfig
}

// Server is the gorilla/mux-routed management interface: read/write
// access to every data kind, resize, counters, history, slave
// enumeration, and the /api/ws change-notification stream.
type Server struct {
	cfg     Config
	store   *datastore.Store
	engine  *engine.Engine
	logger  common.LoggerInterface
	hub     *hub
	httpSrv *http.Server
}

// NewServer builds the management server. Routes read and write
// through store; engine is consulted only for Counters().
func NewServer(cfg Config, store *datastore.Store, eng *engine.Engine, logger common.LoggerInterface) *Server {
	if logger == nil {
		logger = logging.NewLogger()
	}
	s := &Server{cfg: cfg, store: store, engine: eng, logger: logger, hub: newHub(store)}

	router := mux.NewRouter()
	api := router.PathPrefix("/api").Subrouter()
	if cfg.Auth.Enabled {
		api.Use(s.basicAuthMiddleware)
	}

	api.HandleFunc("/slaves", s.handleSlaves).Methods(http.MethodGet)
	api.HandleFunc("/data", s.handleData).Methods(http.MethodGet)
	api.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/config", s.handleConfig).Methods(http.MethodGet)
	api.HandleFunc("/config/resize", s.handleResize).Methods(http.MethodPost)
	api.HandleFunc("/write/coil", s.handleWriteCoil).Methods(http.MethodPost)
	api.HandleFunc("/write/register", s.handleWriteRegister).Methods(http.MethodPost)
	api.HandleFunc("/ws", s.hub.serveWS)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	s.httpSrv = &http.Server{Handler: router}
	return s
}

func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.Auth.Username)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.Auth.Password)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="modbusd"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start begins serving HTTP in the background.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpSrv.Addr = addr

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.logger.Info(ctx, "Modbus management UI started on %s", addr)
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error(ctx, "management server error: %v", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleSlaves(w http.ResponseWriter, r *http.Request) {
	ids := s.store.SlaveIDs()
	// A []byte would marshal as a base64 string; emit a list of numbers.
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = int(id)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"slaves": out})
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	all := s.store.GetAll()
	if idParam := r.URL.Query().Get("slave_id"); idParam != "" {
		id, err := parseSlaveID(idParam)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid slave id"})
			return
		}
		slave, ok := all[id]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "slave not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"slave_id": id, "coils": slave.Coils, "discrete_inputs": slave.DiscreteInputs, "holding_registers": slave.HoldingRegisters, "input_registers": slave.InputRegisters})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"slaves": all})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil {
			limit = parsed
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": s.store.History(limit)})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Counters())
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	all := s.store.GetAll()
	out := make(map[byte]map[string]int, len(all))
	for id, slave := range all {
		out[id] = map[string]int{
			"coils":             len(slave.Coils),
			"discrete_inputs":   len(slave.DiscreteInputs),
			"holding_registers": len(slave.HoldingRegisters),
			"input_registers":   len(slave.InputRegisters),
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"slaves": out})
}

type resizeRequest struct {
	SlaveID          int  `json:"slave_id"`
	Coils            *int `json:"coils"`
	DiscreteInputs   *int `json:"discrete_inputs"`
	HoldingRegisters *int `json:"holding_registers"`
	InputRegisters   *int `json:"input_registers"`
}

func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	var req resizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed body"})
		return
	}
	if err := s.store.ResizeSlave(byte(req.SlaveID), req.Coils, req.DiscreteInputs, req.HoldingRegisters, req.InputRegisters); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "slave_id": req.SlaveID})
}

type writeCoilRequest struct {
	SlaveID int  `json:"slave_id"`
	Address int  `json:"address"`
	Value   bool `json:"value"`
	// Kind selects "coils" (default) or "discrete_inputs"; discrete
	// inputs are writable only through this management path.
	Kind string `json:"kind,omitempty"`
}

func (s *Server) handleWriteCoil(w http.ResponseWriter, r *http.Request) {
	var req writeCoilRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed body"})
		return
	}
	var err error
	switch req.Kind {
	case "", "coils":
		err = s.store.WriteSingleCoil(byte(req.SlaveID), uint16(req.Address), req.Value, "web")
	case "discrete_inputs":
		err = s.store.WriteSingleDiscreteInput(byte(req.SlaveID), uint16(req.Address), req.Value, "web")
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown kind"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type writeRegisterRequest struct {
	SlaveID int `json:"slave_id"`
	Address int `json:"address"`
	Value   int `json:"value"`
	// Kind selects "holding_registers" (default) or "input_registers";
	// input registers are writable only through this management path.
	Kind string `json:"kind,omitempty"`
}

func (s *Server) handleWriteRegister(w http.ResponseWriter, r *http.Request) {
	var req writeRegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed body"})
		return
	}
	var err error
	switch req.Kind {
	case "", "holding_registers":
		err = s.store.WriteSingleRegister(byte(req.SlaveID), uint16(req.Address), uint16(req.Value), "web")
	case "input_registers":
		err = s.store.WriteSingleInputRegister(byte(req.SlaveID), uint16(req.Address), uint16(req.Value), "web")
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown kind"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parseSlaveID(s string) (byte, error) {
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 || v > 255 {
		return 0, fmt.Errorf("invalid slave id: %s", s)
	}
	return byte(v), nil
}
