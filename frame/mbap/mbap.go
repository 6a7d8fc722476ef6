// Package mbap implements the Modbus TCP Application Protocol header:
// a 7-byte envelope (transaction ID, protocol ID, length, unit ID)
// wrapped around every PDU on a TCP connection. It is built for the
// server side of the wire, where the unit ID must be threaded through
// to a multi-slave engine rather than assumed fixed.
package mbap

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/brightgrid/modbusd/common"
)

// Header is the 7-byte MBAP header preceding every PDU.
type Header struct {
	TransactionID common.TransactionID
	ProtocolID    common.ProtocolID
	UnitID        byte
}

// ADU is one fully decoded Modbus TCP Application Data Unit.
type ADU struct {
	Header Header
	PDU    common.PDU
}

// ReadADU blocks until one complete ADU has been read from r, or
// returns an error (including io.EOF on a clean connection close).
func ReadADU(r io.Reader) (ADU, error) {
	header := make([]byte, common.TCPHeaderLength)
	if _, err := io.ReadFull(r, header); err != nil {
		return ADU{}, err
	}

	transactionID := binary.BigEndian.Uint16(header[0:2])
	protocolID := binary.BigEndian.Uint16(header[2:4])
	length := binary.BigEndian.Uint16(header[4:6])
	unitID := header[6]

	if protocolID != uint16(common.TCPProtocolIdentifier) {
		return ADU{}, fmt.Errorf("%w: protocol id %d", common.ErrInvalidProtocolHeader, protocolID)
	}
	if length < 2 {
		return ADU{}, fmt.Errorf("%w: length field %d too small", common.ErrInvalidResponseLength, length)
	}

	// length counts unit ID (already read) + function code + data.
	pduLen := int(length) - 1
	if pduLen > common.MaxPDULength {
		return ADU{}, fmt.Errorf("%w: pdu length %d", common.ErrRequestTooLarge, pduLen)
	}

	pdu := make([]byte, pduLen)
	if _, err := io.ReadFull(r, pdu); err != nil {
		return ADU{}, err
	}

	return ADU{
		Header: Header{
			TransactionID: common.TransactionID(transactionID),
			ProtocolID:    common.ProtocolID(protocolID),
			UnitID:        unitID,
		},
		PDU: common.PDU{
			FunctionCode: common.FunctionCode(pdu[0]),
			Data:         pdu[1:],
		},
	}, nil
}

// WriteADU encodes header and a raw response PDU (function code byte
// followed by data, as returned by engine.Engine.Handle) and writes
// it to w in a single call.
func WriteADU(w io.Writer, header Header, responsePDU []byte) error {
	length := uint16(1 + len(responsePDU)) // unit ID + PDU bytes

	buf := make([]byte, common.TCPHeaderLength+len(responsePDU))
	binary.BigEndian.PutUint16(buf[0:2], uint16(header.TransactionID))
	binary.BigEndian.PutUint16(buf[2:4], uint16(common.TCPProtocolIdentifier))
	binary.BigEndian.PutUint16(buf[4:6], length)
	buf[6] = header.UnitID
	copy(buf[7:], responsePDU)

	_, err := w.Write(buf)
	return err
}
