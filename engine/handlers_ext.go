package engine

import (
	"context"
	"encoding/binary"

	"github.com/brightgrid/modbusd/common"
	"github.com/brightgrid/modbusd/datastore"
)

// handleReadExceptionStatus implements Read Exception Status.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.7
// This server keeps no persistent fault latch distinct from
// per-request exception responses, so the status byte is always
// clear; the function code is still served rather than rejected.
func handleReadExceptionStatus(_ context.Context, _ *datastore.Store, _ byte, _ []byte, _ string) ([]byte, error) {
	return []byte{0x00}, nil
}

// handleDiagnostics implements Diagnostics, sub-function 0x00 (Return
// Query Data): the request's sub-function and data are echoed back
// unconditionally, which is what a loopback diagnostic is for. Other
// sub-functions are accepted and echoed the same way rather than
// rejected.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.8
func handleDiagnostics(_ context.Context, _ *datastore.Store, _ byte, body []byte, _ string) ([]byte, error) {
	if len(body) < 2 {
		return nil, common.ErrInvalidValue
	}
	out := make([]byte, len(body))
	copy(out, body)
	return out, nil
}

// handleGetCommEventCounter implements Get Comm Event Counter: status
// is always 0xFFFF (never busy) followed by the engine's total
// request count standing in for the communication event counter.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.9
func (e *Engine) handleGetCommEventCounter(_ context.Context, _ *datastore.Store, _ byte, _ []byte, _ string) ([]byte, error) {
	e.mu.Lock()
	count := uint16(e.totalRequests)
	e.mu.Unlock()

	out := make([]byte, 4)
	binary.BigEndian.PutUint16(out[0:2], 0xFFFF)
	binary.BigEndian.PutUint16(out[2:4], count)
	return out, nil
}

// handleGetCommEventLog implements Get Comm Event Log, derived from
// the datastore's audit trail rather than a dedicated event log: a
// fixed byte count of 6, status (always 0xFFFF), the audit trail's
// length as the event count, and the total request count as the
// message count. The event bytes themselves are left empty.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.10
func (e *Engine) handleGetCommEventLog(_ context.Context, store *datastore.Store, _ byte, _ []byte, _ string) ([]byte, error) {
	e.mu.Lock()
	total := uint16(e.totalRequests)
	e.mu.Unlock()

	evCount := uint16(len(store.History(0)))

	out := make([]byte, 7)
	out[0] = 6
	binary.BigEndian.PutUint16(out[1:3], 0xFFFF)
	binary.BigEndian.PutUint16(out[3:5], evCount)
	binary.BigEndian.PutUint16(out[5:7], total)
	return out, nil
}

// handleReportSlaveID implements Report Server ID: byte count, a
// short identification string, and a run-indicator status byte (0xFF,
// always running).
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.13
func (e *Engine) handleReportSlaveID(_ context.Context, _ *datastore.Store, _ byte, _ []byte, _ string) ([]byte, error) {
	ident := []byte(e.productID)
	data := make([]byte, len(ident)+1)
	copy(data, ident)
	data[len(data)-1] = 0xFF

	out := make([]byte, 1+len(data))
	out[0] = byte(len(data))
	copy(out[1:], data)
	return out, nil
}

// fileRecordAddress computes the flat holding-register address a
// FC14/FC15 file record maps onto: every file is a contiguous
// 10000-register window of the same holding-register space used by
// FC03/FC06/FC10, so no separate storage is needed at the datastore
// layer. The product is computed in int to avoid uint16 wraparound
// (file numbers >= 7 would otherwise alias into another file's
// window), mirroring datastore.boundsCheck's own widened arithmetic.
func fileRecordAddress(fileNumber, recordNumber uint16) (uint16, error) {
	addr := int(fileNumber)*common.FileRecordAddressSpan + int(recordNumber)
	if addr > 0xFFFF {
		return 0, common.ErrOutOfRange
	}
	return uint16(addr), nil
}

// handleReadFileRecord implements Read File Record. The request is a
// byte count followed by one or more 7-byte sub-requests (reference
// type, file number, record number, record length); each is serviced
// against the holding-register space at the computed flat address.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.14
func handleReadFileRecord(_ context.Context, store *datastore.Store, slave byte, body []byte, _ string) ([]byte, error) {
	if len(body) < 1 {
		return nil, common.ErrInvalidValue
	}
	reqByteCount := int(body[0])
	if len(body) != 1+reqByteCount {
		return nil, common.ErrBadByteCount
	}

	sub := body[1:]
	var respData []byte
	for len(sub) > 0 {
		if len(sub) < 7 {
			return nil, common.ErrInvalidValue
		}
		refType := sub[0]
		fileNumber := binary.BigEndian.Uint16(sub[1:3])
		recordNumber := binary.BigEndian.Uint16(sub[3:5])
		recordLength := binary.BigEndian.Uint16(sub[5:7])
		sub = sub[7:]

		if refType != common.FileRecordReferenceType || recordLength > uint16(common.MaxFileRecordLength) {
			return nil, common.ErrInvalidValue
		}

		addr, err := fileRecordAddress(fileNumber, recordNumber)
		if err != nil {
			return nil, err
		}
		values, err := store.ReadHoldingRegisters(slave, addr, recordLength)
		if err != nil {
			return nil, err
		}

		section := make([]byte, 2+2*len(values))
		section[0] = byte(1 + 2*len(values))
		section[1] = common.FileRecordReferenceType
		for i, v := range values {
			binary.BigEndian.PutUint16(section[2+2*i:], v)
		}
		respData = append(respData, section...)
	}

	out := make([]byte, 1+len(respData))
	out[0] = byte(len(respData))
	copy(out[1:], respData)
	return out, nil
}

// handleWriteFileRecord implements Write File Record, mirroring
// handleReadFileRecord's sub-request layout but carrying inline data
// and echoing the request verbatim on success.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.15
func handleWriteFileRecord(_ context.Context, store *datastore.Store, slave byte, body []byte, source string) ([]byte, error) {
	if len(body) < 1 {
		return nil, common.ErrInvalidValue
	}
	reqByteCount := int(body[0])
	if len(body) != 1+reqByteCount {
		return nil, common.ErrBadByteCount
	}

	sub := body[1:]
	for len(sub) > 0 {
		if len(sub) < 7 {
			return nil, common.ErrInvalidValue
		}
		refType := sub[0]
		fileNumber := binary.BigEndian.Uint16(sub[1:3])
		recordNumber := binary.BigEndian.Uint16(sub[3:5])
		recordLength := binary.BigEndian.Uint16(sub[5:7])
		sub = sub[7:]

		if refType != common.FileRecordReferenceType || recordLength > uint16(common.MaxFileRecordLength) {
			return nil, common.ErrInvalidValue
		}
		if len(sub) < 2*int(recordLength) {
			return nil, common.ErrBadByteCount
		}

		values := make([]uint16, recordLength)
		for i := range values {
			values[i] = binary.BigEndian.Uint16(sub[2*i:])
		}
		sub = sub[2*recordLength:]

		addr, err := fileRecordAddress(fileNumber, recordNumber)
		if err != nil {
			return nil, err
		}
		if err := store.WriteMultipleRegisters(slave, addr, values, source); err != nil {
			return nil, err
		}
	}

	out := make([]byte, len(body))
	copy(out, body)
	return out, nil
}

// handleMaskWriteRegister implements Mask Write Register: new =
// (current AND and_mask) OR (or_mask AND NOT and_mask).
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.16
func handleMaskWriteRegister(_ context.Context, store *datastore.Store, slave byte, body []byte, source string) ([]byte, error) {
	if len(body) != 6 {
		return nil, common.ErrInvalidValue
	}
	addr := binary.BigEndian.Uint16(body[0:2])
	andMask := binary.BigEndian.Uint16(body[2:4])
	orMask := binary.BigEndian.Uint16(body[4:6])

	current, err := store.ReadHoldingRegisters(slave, addr, 1)
	if err != nil {
		return nil, err
	}
	result := (current[0] & andMask) | (orMask & ^andMask)
	if err := store.WriteSingleRegister(slave, addr, result, source); err != nil {
		return nil, err
	}

	out := make([]byte, 6)
	copy(out, body)
	return out, nil
}

// handleReadWriteMultipleRegisters implements Read/Write Multiple
// Registers: the write half commits before the read half is
// evaluated, so a read that overlaps the just-written range observes
// the new values.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.17
func handleReadWriteMultipleRegisters(_ context.Context, store *datastore.Store, slave byte, body []byte, source string) ([]byte, error) {
	if len(body) < 9 {
		return nil, common.ErrInvalidValue
	}
	readAddr := binary.BigEndian.Uint16(body[0:2])
	readCount := binary.BigEndian.Uint16(body[2:4])
	writeAddr := binary.BigEndian.Uint16(body[4:6])
	writeCount := binary.BigEndian.Uint16(body[6:8])
	writeByteCount := body[8]

	if readCount == 0 || readCount > uint16(common.MaxReadWriteReadCount) {
		return nil, common.ErrInvalidQuantity
	}
	if writeCount == 0 || writeCount > uint16(common.MaxWriteWriteCount) {
		return nil, common.ErrInvalidQuantity
	}
	if int(writeByteCount) != 2*int(writeCount) || len(body) != 9+int(writeByteCount) {
		return nil, common.ErrBadByteCount
	}

	writeValues := make([]uint16, writeCount)
	for i := range writeValues {
		writeValues[i] = binary.BigEndian.Uint16(body[9+2*i:])
	}

	if err := store.WriteMultipleRegisters(slave, writeAddr, writeValues, source); err != nil {
		return nil, err
	}

	readValues, err := store.ReadHoldingRegisters(slave, readAddr, readCount)
	if err != nil {
		return nil, err
	}
	return packRegisters(readValues), nil
}

// handleReadFIFOQueue implements Read FIFO Queue. The register at
// addr holds the live queue length; the words immediately following
// it, up to 31, are the queue contents.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.18
func handleReadFIFOQueue(_ context.Context, store *datastore.Store, slave byte, body []byte, _ string) ([]byte, error) {
	if len(body) != 2 {
		return nil, common.ErrInvalidValue
	}
	addr := binary.BigEndian.Uint16(body[0:2])

	lenReg, err := store.ReadHoldingRegisters(slave, addr, 1)
	if err != nil {
		return nil, err
	}
	count := lenReg[0]
	if count > uint16(common.MaxFIFOCount) {
		count = uint16(common.MaxFIFOCount)
	}

	var values []uint16
	if count > 0 {
		values, err = store.ReadHoldingRegisters(slave, addr+1, count)
		if err != nil {
			return nil, err
		}
	}

	out := make([]byte, 4+2*len(values))
	binary.BigEndian.PutUint16(out[0:2], uint16(2+2*len(values)))
	binary.BigEndian.PutUint16(out[2:4], uint16(len(values)))
	for i, v := range values {
		binary.BigEndian.PutUint16(out[4+2*i:], v)
	}
	return out, nil
}
