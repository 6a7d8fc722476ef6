package engine

import (
	"context"
	"encoding/binary"

	"github.com/brightgrid/modbusd/common"
	"github.com/brightgrid/modbusd/datastore"
)

// packBits packs a []bool into the Modbus "N coils per byte, LSB first"
// wire representation, byte-count-prefixed.
func packBits(values []bool) []byte {
	byteCount := (len(values) + 7) / 8
	out := make([]byte, 1+byteCount)
	out[0] = byte(byteCount)
	for i, v := range values {
		if v {
			out[1+i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

// unpackBits is the inverse of packBits for request-side bit payloads:
// it reads count bits out of data, LSB first.
func unpackBits(data []byte, count int) []bool {
	out := make([]bool, count)
	for i := 0; i < count; i++ {
		out[i] = data[i/8]&(1<<uint(i%8)) != 0
	}
	return out
}

// packRegisters packs []uint16 into big-endian wire bytes, byte-count-prefixed.
func packRegisters(values []uint16) []byte {
	out := make([]byte, 1+2*len(values))
	out[0] = byte(2 * len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(out[1+2*i:], v)
	}
	return out
}

func handleReadCoils(_ context.Context, store *datastore.Store, slave byte, body []byte, _ string) ([]byte, error) {
	if len(body) != 4 {
		return nil, common.ErrInvalidValue
	}
	addr := binary.BigEndian.Uint16(body[0:2])
	count := binary.BigEndian.Uint16(body[2:4])
	if count == 0 || count > common.MaxCoilCount {
		return nil, common.ErrInvalidQuantity
	}
	values, err := store.ReadCoils(slave, addr, count)
	if err != nil {
		return nil, err
	}
	return packBits(values), nil
}

func handleReadDiscreteInputs(_ context.Context, store *datastore.Store, slave byte, body []byte, _ string) ([]byte, error) {
	if len(body) != 4 {
		return nil, common.ErrInvalidValue
	}
	addr := binary.BigEndian.Uint16(body[0:2])
	count := binary.BigEndian.Uint16(body[2:4])
	if count == 0 || count > common.MaxCoilCount {
		return nil, common.ErrInvalidQuantity
	}
	values, err := store.ReadDiscreteInputs(slave, addr, count)
	if err != nil {
		return nil, err
	}
	return packBits(values), nil
}

func handleReadHoldingRegisters(_ context.Context, store *datastore.Store, slave byte, body []byte, _ string) ([]byte, error) {
	if len(body) != 4 {
		return nil, common.ErrInvalidValue
	}
	addr := binary.BigEndian.Uint16(body[0:2])
	count := binary.BigEndian.Uint16(body[2:4])
	if count == 0 || count > common.MaxRegisterCount {
		return nil, common.ErrInvalidQuantity
	}
	values, err := store.ReadHoldingRegisters(slave, addr, count)
	if err != nil {
		return nil, err
	}
	return packRegisters(values), nil
}

func handleReadInputRegisters(_ context.Context, store *datastore.Store, slave byte, body []byte, _ string) ([]byte, error) {
	if len(body) != 4 {
		return nil, common.ErrInvalidValue
	}
	addr := binary.BigEndian.Uint16(body[0:2])
	count := binary.BigEndian.Uint16(body[2:4])
	if count == 0 || count > common.MaxRegisterCount {
		return nil, common.ErrInvalidQuantity
	}
	values, err := store.ReadInputRegisters(slave, addr, count)
	if err != nil {
		return nil, err
	}
	return packRegisters(values), nil
}

// handleWriteSingleCoil echoes the request verbatim on success.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.5 - the
// response to a single write is a copy of the request.
func handleWriteSingleCoil(_ context.Context, store *datastore.Store, slave byte, body []byte, source string) ([]byte, error) {
	if len(body) != 4 {
		return nil, common.ErrInvalidValue
	}
	addr := binary.BigEndian.Uint16(body[0:2])
	raw := binary.BigEndian.Uint16(body[2:4])
	var value bool
	switch raw {
	case common.CoilOnU16:
		value = true
	case common.CoilOffU16:
		value = false
	default:
		return nil, common.ErrInvalidValue
	}
	if err := store.WriteSingleCoil(slave, addr, value, source); err != nil {
		return nil, err
	}
	out := make([]byte, 4)
	copy(out, body)
	return out, nil
}

func handleWriteSingleRegister(_ context.Context, store *datastore.Store, slave byte, body []byte, source string) ([]byte, error) {
	if len(body) != 4 {
		return nil, common.ErrInvalidValue
	}
	addr := binary.BigEndian.Uint16(body[0:2])
	value := binary.BigEndian.Uint16(body[2:4])
	if err := store.WriteSingleRegister(slave, addr, value, source); err != nil {
		return nil, err
	}
	out := make([]byte, 4)
	copy(out, body)
	return out, nil
}

func handleWriteMultipleCoils(_ context.Context, store *datastore.Store, slave byte, body []byte, source string) ([]byte, error) {
	if len(body) < 5 {
		return nil, common.ErrInvalidValue
	}
	addr := binary.BigEndian.Uint16(body[0:2])
	count := binary.BigEndian.Uint16(body[2:4])
	byteCount := body[4]
	if count == 0 || count > common.MaxWriteCoilCount {
		return nil, common.ErrInvalidQuantity
	}
	if int(byteCount) != (int(count)+7)/8 || len(body) != 5+int(byteCount) {
		return nil, common.ErrBadByteCount
	}
	values := unpackBits(body[5:], int(count))
	if err := store.WriteMultipleCoils(slave, addr, values, source); err != nil {
		return nil, err
	}
	out := make([]byte, 4)
	copy(out, body[0:4])
	return out, nil
}

func handleWriteMultipleRegisters(_ context.Context, store *datastore.Store, slave byte, body []byte, source string) ([]byte, error) {
	if len(body) < 5 {
		return nil, common.ErrInvalidValue
	}
	addr := binary.BigEndian.Uint16(body[0:2])
	count := binary.BigEndian.Uint16(body[2:4])
	byteCount := body[4]
	if count == 0 || count > common.MaxWriteRegisterCount {
		return nil, common.ErrInvalidQuantity
	}
	if int(byteCount) != 2*int(count) || len(body) != 5+int(byteCount) {
		return nil, common.ErrBadByteCount
	}
	values := make([]uint16, count)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(body[5+2*i:])
	}
	if err := store.WriteMultipleRegisters(slave, addr, values, source); err != nil {
		return nil, err
	}
	out := make([]byte, 4)
	copy(out, body[0:4])
	return out, nil
}
