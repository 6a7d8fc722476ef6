// Package rtu implements Modbus RTU serial framing: CRC-16 checking,
// frame packing/unpacking, and idle-gap frame delimitation for a
// multi-slave server that dispatches on the frame's slave ID rather
// than assuming a single fixed one.
package rtu

import (
	"fmt"

	"github.com/brightgrid/modbusd/common"
)

// MinFrameLength is the shortest possible valid RTU frame: slave ID,
// one function-code byte, and a 2-byte CRC.
const MinFrameLength = 4

// MaxFrameLength bounds a single RTU frame: slave ID + max PDU + CRC.
const MaxFrameLength = 1 + common.MaxPDULength + 2

// Pack builds slaveID + pdu + CRC (little-endian), ready to write to
// the serial port.
func Pack(slaveID byte, pdu []byte) ([]byte, error) {
	if len(pdu) == 0 {
		return nil, fmt.Errorf("rtu: empty pdu")
	}
	if len(pdu) > common.MaxPDULength {
		return nil, fmt.Errorf("rtu: pdu too long: %d bytes", len(pdu))
	}

	frame := make([]byte, 1+len(pdu)+2)
	frame[0] = slaveID
	copy(frame[1:], pdu)

	crc := CRC16(frame[:len(frame)-2])
	frame[len(frame)-2] = byte(crc)        // low byte first
	frame[len(frame)-1] = byte(crc >> 8) // high byte second
	return frame, nil
}

// Unpack validates frame's CRC and splits it into slave ID and PDU.
// A CRC mismatch or undersized frame is reported as an error so the
// caller can silently discard the frame, per RTU's error model (there
// is no NAK on the wire).
func Unpack(frame []byte) (slaveID byte, pdu []byte, err error) {
	if len(frame) < MinFrameLength {
		return 0, nil, fmt.Errorf("rtu: frame too short: %d bytes", len(frame))
	}
	if !VerifyCRC(frame) {
		return 0, nil, common.ErrInvalidCRC
	}

	pduLen := len(frame) - 3
	out := make([]byte, pduLen)
	copy(out, frame[1:1+pduLen])
	return frame[0], out, nil
}

// VerifyCRC reports whether frame's trailing two bytes match the
// CRC-16 of everything preceding them.
func VerifyCRC(frame []byte) bool {
	if len(frame) < MinFrameLength {
		return false
	}
	dataLen := len(frame) - 2
	calculated := CRC16(frame[:dataLen])
	received := uint16(frame[dataLen]) | uint16(frame[dataLen+1])<<8
	return calculated == received
}
