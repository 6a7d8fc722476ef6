// Package engine implements the Modbus PDU dispatcher: request parsing,
// per-function-code validation, datastore invocation, and response or
// exception encoding. It is transport-agnostic — frame metadata
// (MBAP transaction IDs, RTU silence gaps) never crosses into this
// package; callers hand in a bare (unit ID, function code, body) and
// get back a bare response PDU.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/brightgrid/modbusd/common"
	"github.com/brightgrid/modbusd/datastore"
	"github.com/brightgrid/modbusd/logging"
)

// handlerFunc services one function code against one slave. It is
// reused verbatim for broadcast fan-out, so the same code path that
// serves a unicast request also serves each slave during a broadcast.
type handlerFunc func(ctx context.Context, store *datastore.Store, slaveID byte, body []byte, source string) ([]byte, error)

// Engine is the stateless-across-requests PDU dispatcher. The only
// state it carries is the request counters.
type Engine struct {
	store     *datastore.Store
	productID string
	logger    common.LoggerInterface

	mu                 sync.Mutex
	totalRequests      uint64
	successfulRequests uint64
	fcCounts           map[common.FunctionCode]uint64

	handlers map[common.FunctionCode]handlerFunc
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithLogger sets the logger exception responses are reported through.
func WithLogger(logger common.LoggerInterface) Option {
	return func(e *Engine) { e.logger = logger }
}

// New builds an Engine backed by store. productID is the short
// identification string FC11 (Report Slave ID) echoes back; an empty
// string is a reasonable generic device.
func New(store *datastore.Store, productID string, options ...Option) *Engine {
	e := &Engine{
		store:     store,
		productID: productID,
		logger:    logging.NewLogger(),
		fcCounts:  make(map[common.FunctionCode]uint64),
	}
	for _, option := range options {
		option(e)
	}
	e.handlers = map[common.FunctionCode]handlerFunc{
		common.FuncReadCoils:                  handleReadCoils,
		common.FuncReadDiscreteInputs:         handleReadDiscreteInputs,
		common.FuncReadHoldingRegisters:       handleReadHoldingRegisters,
		common.FuncReadInputRegisters:         handleReadInputRegisters,
		common.FuncWriteSingleCoil:            handleWriteSingleCoil,
		common.FuncWriteSingleRegister:        handleWriteSingleRegister,
		common.FuncReadExceptionStatus:        handleReadExceptionStatus,
		common.FuncDiagnostics:                handleDiagnostics,
		common.FuncGetCommEventCounter:        e.handleGetCommEventCounter,
		common.FuncGetCommEventLog:            e.handleGetCommEventLog,
		common.FuncWriteMultipleCoils:         handleWriteMultipleCoils,
		common.FuncWriteMultipleRegisters:     handleWriteMultipleRegisters,
		common.FuncReportSlaveID:              e.handleReportSlaveID,
		common.FuncReadFileRecord:             handleReadFileRecord,
		common.FuncWriteFileRecord:            handleWriteFileRecord,
		common.FuncMaskWriteRegister:          handleMaskWriteRegister,
		common.FuncReadWriteMultipleRegisters: handleReadWriteMultipleRegisters,
		common.FuncReadFIFOQueue:              handleReadFIFOQueue,
	}
	return e
}

// isBroadcastWrite reports whether fc is a write function code that
// Modbus broadcast (unit ID 0) applies to every slave without a
// response.
func isBroadcastWrite(fc common.FunctionCode) bool {
	switch fc {
	case common.FuncWriteSingleCoil,
		common.FuncWriteSingleRegister,
		common.FuncWriteMultipleCoils,
		common.FuncWriteMultipleRegisters,
		common.FuncWriteFileRecord,
		common.FuncMaskWriteRegister:
		return true
	default:
		return false
	}
}

// Handle dispatches one PDU. It returns the raw response PDU bytes
// (function code followed by data), or nil for a broadcast write,
// which transports must interpret as "send nothing".
func (e *Engine) Handle(ctx context.Context, unitID byte, pdu common.PDU, source string) []byte {
	fc := pdu.FunctionCode

	e.mu.Lock()
	e.totalRequests++
	e.fcCounts[fc]++
	e.mu.Unlock()

	if unitID == 0 {
		if isBroadcastWrite(fc) {
			e.broadcastWrite(ctx, fc, pdu.Data, source)
			return nil
		}
		return e.exception(fc, common.ExceptionDataAddressNotAvailable)
	}

	handler, ok := e.handlers[fc]
	if !ok {
		e.logger.Warn(ctx, "unsupported function code %#02x from %s", byte(fc), source)
		return e.exception(fc, common.ExceptionFunctionCodeNotSupported)
	}

	resp, err := e.invoke(ctx, handler, unitID, pdu.Data, source)
	if err != nil {
		code := exceptionCodeFor(err)
		if code == common.ExceptionServerDeviceFailure {
			e.logger.Error(ctx, "fc=%s slave=%d from %s: internal failure: %v", fc, unitID, source, err)
		} else {
			e.logger.Warn(ctx, "fc=%s slave=%d from %s: rejected: %v", fc, unitID, source, err)
		}
		return e.exception(fc, code)
	}

	e.mu.Lock()
	e.successfulRequests++
	e.mu.Unlock()

	out := make([]byte, 1+len(resp))
	out[0] = byte(fc)
	copy(out[1:], resp)
	return out
}

// broadcastWrite applies the write to every configured slave,
// best-effort: a failure against one slave (e.g. out of range for
// that slave's smaller address space) does not affect the others and
// is not reported, since broadcasts never produce a response.
func (e *Engine) broadcastWrite(ctx context.Context, fc common.FunctionCode, body []byte, source string) {
	handler, ok := e.handlers[fc]
	if !ok {
		return
	}
	for _, slaveID := range e.store.SlaveIDs() {
		_, _ = e.invoke(ctx, handler, slaveID, body, source)
	}
}

// invoke runs one handler, converting a panic into an error so that a
// bug in a single handler degrades to a slave-device-failure exception
// on the wire instead of tearing the whole server down.
func (e *Engine) invoke(ctx context.Context, handler handlerFunc, unitID byte, body []byte, source string) (resp []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", common.ErrServerDeviceFailure, r)
		}
	}()
	return handler(ctx, e.store, unitID, body, source)
}

func (e *Engine) exception(fc common.FunctionCode, code common.ExceptionCode) []byte {
	return []byte{byte(fc) | common.ExceptionBit, byte(code)}
}

// exceptionCodeFor maps a handler error to its wire exception code.
// Sentinel datastore errors map deterministically; anything else
// (an unanticipated internal failure) becomes slave-device-failure.
func exceptionCodeFor(err error) common.ExceptionCode {
	switch err {
	case common.ErrOutOfRange, common.ErrSlaveNotFound:
		return common.ExceptionDataAddressNotAvailable
	case common.ErrInvalidQuantity, common.ErrInvalidValue, common.ErrBadByteCount, common.ErrInvalidAddress:
		return common.ExceptionInvalidDataValue
	default:
		return common.ExceptionServerDeviceFailure
	}
}

// Counters is a point-in-time snapshot of the engine's request
// accounting: total and successful requests plus per-FC counts.
type Counters struct {
	TotalRequests      uint64
	SuccessfulRequests uint64
	ByFunctionCode     map[common.FunctionCode]uint64
}

// Counters returns a copy of the current counters.
func (e *Engine) Counters() Counters {
	e.mu.Lock()
	defer e.mu.Unlock()

	byFC := make(map[common.FunctionCode]uint64, len(e.fcCounts))
	for fc, n := range e.fcCounts {
		byFC[fc] = n
	}
	return Counters{
		TotalRequests:      e.totalRequests,
		SuccessfulRequests: e.successfulRequests,
		ByFunctionCode:     byFC,
	}
}

// Store returns the datastore backing this engine, for components
// (management UI, persistence) that need direct read/write access
// outside the PDU surface.
func (e *Engine) Store() *datastore.Store {
	return e.store
}
