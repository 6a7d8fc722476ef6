// Package server hosts the transport-level listeners (TCP, RTU) that
// feed raw PDUs into an engine.Engine and write its responses back to
// the wire. Nothing here understands function codes or the datastore
// directly; that is the engine's job.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/brightgrid/modbusd/common"
	"github.com/brightgrid/modbusd/engine"
	"github.com/brightgrid/modbusd/frame/mbap"
	"github.com/brightgrid/modbusd/logging"
)

// acceptPollInterval bounds how long Accept blocks before the accept
// loop rechecks stopChan.
const acceptPollInterval = time.Second

// DefaultIdleTimeout is how long a connection may sit idle between
// requests before the server drops it as a dead peer.
const DefaultIdleTimeout = 30 * time.Second

// TCPServer is a Modbus TCP (MBAP-framed) server: one goroutine per
// connection, each running a WaitHeader/WaitPDU/Serve/Respond state
// machine against a shared engine.Engine.
type TCPServer struct {
	address     string
	port        int
	idleTimeout time.Duration

	engine *engine.Engine
	logger common.LoggerInterface

	mutex        sync.RWMutex
	listener     net.Listener
	running      bool
	stopChan     chan struct{}
	clientsMutex sync.Mutex
	clients      map[string]net.Conn
}

// TCPServerOption configures a TCPServer at construction time.
type TCPServerOption func(*TCPServer)

// WithServerPort sets the TCP port for the server.
func WithServerPort(port int) TCPServerOption {
	return func(s *TCPServer) { s.port = port }
}

// WithServerLogger sets the logger for the TCP server.
func WithServerLogger(logger common.LoggerInterface) TCPServerOption {
	return func(s *TCPServer) { s.logger = logger }
}

// WithServerEngine sets the PDU engine the server dispatches requests
// to. A server without one cannot be started.
func WithServerEngine(e *engine.Engine) TCPServerOption {
	return func(s *TCPServer) { s.engine = e }
}

// WithServerIdleTimeout overrides DefaultIdleTimeout. Zero or negative
// disables the idle deadline entirely.
func WithServerIdleTimeout(d time.Duration) TCPServerOption {
	return func(s *TCPServer) { s.idleTimeout = d }
}

// NewTCPServer creates a Modbus TCP server bound to address, listening
// on common.DefaultTCPPort unless overridden by WithServerPort.
func NewTCPServer(address string, options ...TCPServerOption) *TCPServer {
	s := &TCPServer{
		address:     address,
		port:        common.DefaultTCPPort,
		idleTimeout: DefaultIdleTimeout,
		logger:      logging.NewLogger(),
		clients:     make(map[string]net.Conn),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Start binds the listener and begins accepting connections in the
// background; it returns once the listener is up.
func (s *TCPServer) Start(ctx context.Context) error {
	s.mutex.Lock()
	if s.running {
		s.mutex.Unlock()
		return fmt.Errorf("tcp server already running")
	}
	if s.engine == nil {
		s.mutex.Unlock()
		return fmt.Errorf("tcp server: no engine configured")
	}

	addr := fmt.Sprintf("%s:%d", s.address, s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		s.mutex.Unlock()
		return err
	}

	s.listener = listener
	s.running = true
	s.stopChan = make(chan struct{})
	s.mutex.Unlock()

	s.logger.Info(ctx, "Modbus TCP server started on %s", addr)
	go s.acceptLoop(ctx)
	return nil
}

// Stop signals the accept loop, closes the listener and every open
// connection, and returns without waiting for the accept loop or the
// connection goroutines to exit.
func (s *TCPServer) Stop(ctx context.Context) error {
	s.mutex.Lock()
	if !s.running {
		s.mutex.Unlock()
		return nil
	}
	close(s.stopChan)
	if s.listener != nil {
		s.listener.Close()
	}
	s.running = false
	s.mutex.Unlock()

	s.clientsMutex.Lock()
	for _, conn := range s.clients {
		conn.Close()
	}
	s.clients = make(map[string]net.Conn)
	s.clientsMutex.Unlock()

	s.logger.Info(ctx, "Modbus TCP server stopped")
	return nil
}

// IsRunning reports whether the accept loop is active.
func (s *TCPServer) IsRunning() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.running
}

func (s *TCPServer) acceptLoop(ctx context.Context) {
	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		if tl, ok := s.listener.(*net.TCPListener); ok {
			tl.SetDeadline(time.Now().Add(acceptPollInterval))
		}

		conn, err := s.listener.Accept()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-s.stopChan:
				return
			default:
				s.logger.Error(ctx, "tcp accept error: %v", err)
				continue
			}
		}

		remote := conn.RemoteAddr().String()
		s.clientsMutex.Lock()
		s.clients[remote] = conn
		s.clientsMutex.Unlock()

		s.logger.Debug(ctx, "tcp client connected: %s", remote)
		go s.handleConnection(conn)
	}
}

// handleConnection runs the per-connection state machine until a short
// read, framing error, or write error ends it.
func (s *TCPServer) handleConnection(conn net.Conn) {
	ctx := context.Background()
	remote := conn.RemoteAddr().String()
	defer func() {
		s.clientsMutex.Lock()
		delete(s.clients, remote)
		s.clientsMutex.Unlock()
		conn.Close()
		s.logger.Debug(ctx, "tcp client disconnected: %s", remote)
	}()

	for {
		if s.idleTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
		}
		adu, err := mbap.ReadADU(conn)
		if err != nil {
			if !isClosedOrEOF(err) {
				s.logger.Debug(ctx, "tcp framing error from %s: %v", remote, err)
			}
			return
		}

		s.logger.Trace(ctx, "tcp request: unit=%d fc=%s txn=%d", adu.Header.UnitID, adu.PDU.FunctionCode, adu.Header.TransactionID)

		responsePDU := s.engine.Handle(ctx, adu.Header.UnitID, adu.PDU, "tcp")
		if responsePDU == nil {
			// Broadcast write: no reply on the wire.
			continue
		}

		if err := mbap.WriteADU(conn, adu.Header, responsePDU); err != nil {
			s.logger.Error(ctx, "tcp write error to %s: %v", remote, err)
			return
		}
	}
}

func isClosedOrEOF(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if ok := asNetError(err, &netErr); ok && netErr.Timeout() {
		return true
	}
	return err.Error() == "EOF" || isUseOfClosedConn(err)
}

func isUseOfClosedConn(err error) bool {
	const closedSuffix = "use of closed network connection"
	msg := err.Error()
	return len(msg) >= len(closedSuffix) && msg[len(msg)-len(closedSuffix):] == closedSuffix
}

func asNetError(err error, target *net.Error) bool {
	ne, ok := err.(net.Error)
	if ok {
		*target = ne
	}
	return ok
}
