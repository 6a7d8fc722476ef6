package server

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/brightgrid/modbusd/common"
	"github.com/brightgrid/modbusd/engine"
	"github.com/brightgrid/modbusd/frame/rtu"
	"github.com/brightgrid/modbusd/logging"
)

// SerialPort is the subset of go.bug.st/serial's Port interface this
// server needs, kept narrow so tests can supply an in-memory pipe
// instead of a real device.
type SerialPort interface {
	io.ReadWriteCloser
}

// RTUServer runs the serial byte pump: it accumulates bytes into
// frames delimited by an idle gap, validates each frame's CRC, and
// dispatches the recovered PDU to the shared engine.
type RTUServer struct {
	port    SerialPort
	idleGap time.Duration
	engine  *engine.Engine
	logger  common.LoggerInterface

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// RTUServerOption configures an RTUServer at construction time.
type RTUServerOption func(*RTUServer)

// WithRTUIdleGap overrides the default inter-frame silence window.
func WithRTUIdleGap(d time.Duration) RTUServerOption {
	return func(s *RTUServer) { s.idleGap = d }
}

// WithRTULogger sets the logger for the RTU server.
func WithRTULogger(logger common.LoggerInterface) RTUServerOption {
	return func(s *RTUServer) { s.logger = logger }
}

// WithRTUEngine sets the PDU engine the server dispatches requests to.
func WithRTUEngine(e *engine.Engine) RTUServerOption {
	return func(s *RTUServer) { s.engine = e }
}

// NewRTUServer wraps an already-opened serial port. Opening the
// device (baud, data bits, parity, stop bits) is the caller's
// responsibility, typically via go.bug.st/serial.Open in main.
func NewRTUServer(port SerialPort, options ...RTUServerOption) *RTUServer {
	s := &RTUServer{
		port:    port,
		idleGap: rtu.DefaultIdleGap,
		logger:  logging.NewLogger(),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Start launches the read loop in the background.
func (s *RTUServer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("rtu server already running")
	}
	if s.engine == nil {
		s.mu.Unlock()
		return fmt.Errorf("rtu server: no engine configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info(ctx, "Modbus RTU server started")
	go s.run(runCtx)
	return nil
}

// Stop cancels the read loop and waits for it to exit, then closes the
// underlying port.
func (s *RTUServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	done := s.done
	s.running = false
	s.mu.Unlock()

	<-done
	err := s.port.Close()
	s.logger.Info(ctx, "Modbus RTU server stopped")
	return err
}

// IsRunning reports whether the read loop is active.
func (s *RTUServer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *RTUServer) run(ctx context.Context) {
	defer close(s.done)

	reader := rtu.NewFrameReader(s.port, s.idleGap)
	for {
		frame, err := reader.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error(context.Background(), "rtu read error: %v", err)
			return
		}

		slaveID, pdu, err := rtu.Unpack(frame)
		if err != nil {
			// Short frames and CRC mismatches are silently discarded;
			// RTU has no NAK on the wire.
			s.logger.Trace(context.Background(), "rtu frame discarded: %v", err)
			continue
		}

		s.logger.Trace(context.Background(), "rtu request: unit=%d fc=%#x", slaveID, pdu[0])
		response := s.engine.Handle(context.Background(), slaveID, common.PDU{
			FunctionCode: common.FunctionCode(pdu[0]),
			Data:         pdu[1:],
		}, "rtu")
		if response == nil {
			// Broadcast write: no reply on the wire.
			continue
		}

		out, err := rtu.Pack(slaveID, response)
		if err != nil {
			s.logger.Error(context.Background(), "rtu pack error: %v", err)
			continue
		}
		if _, err := s.port.Write(out); err != nil {
			s.logger.Error(context.Background(), "rtu write error: %v", err)
			return
		}
	}
}
