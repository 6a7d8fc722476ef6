package common

import "fmt"

// TransactionID is a unique identifier for a transaction
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 4.1 (MBAP Header), Field 1
type TransactionID uint16

// ProtocolID identifies the protocol used (e.g., Modbus TCP, RTU)
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 4.1 (MBAP Header), Field 2
type ProtocolID uint16

// UnitID identifies a specific device on a Modbus network
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 4.1 (MBAP Header), Field 4
type UnitID byte

// ExceptionCode represents an exception code in a Modbus response
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 7 (Exception Responses)
type ExceptionCode byte

// FunctionCode represents a Modbus function code
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6 (MODBUS Function Codes)
type FunctionCode byte

// ExceptionStatus represents the return value from ReadExceptionStatus
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.7 (Read Exception Status)
type ExceptionStatus byte

// Function codes as defined by the Modbus specification
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6 (Function Codes)
const (
	// Standard function codes
	FuncReadCoils                  FunctionCode = 0x01 // Ref: Section 6.1
	FuncReadDiscreteInputs         FunctionCode = 0x02 // Ref: Section 6.2
	FuncReadHoldingRegisters       FunctionCode = 0x03 // Ref: Section 6.3
	FuncReadInputRegisters         FunctionCode = 0x04 // Ref: Section 6.4
	FuncWriteSingleCoil            FunctionCode = 0x05 // Ref: Section 6.5
	FuncWriteSingleRegister        FunctionCode = 0x06 // Ref: Section 6.6
	FuncReadExceptionStatus        FunctionCode = 0x07 // Ref: Section 6.7
	FuncDiagnostics                FunctionCode = 0x08 // Ref: Section 6.8
	FuncGetCommEventCounter        FunctionCode = 0x0B // Ref: Section 6.9
	FuncGetCommEventLog            FunctionCode = 0x0C // Ref: Section 6.10
	FuncWriteMultipleCoils         FunctionCode = 0x0F // Ref: Section 6.11
	FuncWriteMultipleRegisters     FunctionCode = 0x10 // Ref: Section 6.12
	FuncReportSlaveID              FunctionCode = 0x11 // Ref: Section 6.13
	FuncReadFileRecord             FunctionCode = 0x14 // Ref: Section 6.14
	FuncWriteFileRecord            FunctionCode = 0x15 // Ref: Section 6.15
	FuncMaskWriteRegister          FunctionCode = 0x16 // Ref: Section 6.16
	FuncReadWriteMultipleRegisters FunctionCode = 0x17 // Ref: Section 6.17
	FuncReadFIFOQueue              FunctionCode = 0x18 // Ref: Section 6.18

	// Exception codes
	// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 7 (Exception Codes)
	ExceptionFunctionCodeNotSupported ExceptionCode = 0x01 // Ref: Section 7.1
	ExceptionDataAddressNotAvailable  ExceptionCode = 0x02 // Ref: Section 7.2
	ExceptionInvalidDataValue         ExceptionCode = 0x03 // Ref: Section 7.3
	ExceptionServerDeviceFailure      ExceptionCode = 0x04 // Ref: Section 7.4
	ExceptionAcknowledge              ExceptionCode = 0x05 // Ref: Section 7.5
	ExceptionServerDeviceBusy         ExceptionCode = 0x06 // Ref: Section 7.6
	ExceptionMemoryParityError        ExceptionCode = 0x08 // Ref: Section 7.8
	ExceptionGatewayPathUnavailable   ExceptionCode = 0x0A // Ref: Section 7.9
	ExceptionGatewayTargetNoResponse  ExceptionCode = 0x0B // Ref: Section 7.10
)

// String returns the string representation of a FunctionCode
func (f FunctionCode) String() string {
	switch f {
	case FuncReadCoils:
		return "ReadCoils"
	case FuncReadDiscreteInputs:
		return "ReadDiscreteInputs"
	case FuncReadHoldingRegisters:
		return "ReadHoldingRegisters"
	case FuncReadInputRegisters:
		return "ReadInputRegisters"
	case FuncWriteSingleCoil:
		return "WriteSingleCoil"
	case FuncWriteSingleRegister:
		return "WriteSingleRegister"
	case FuncReadExceptionStatus:
		return "ReadExceptionStatus"
	case FuncDiagnostics:
		return "Diagnostics"
	case FuncGetCommEventCounter:
		return "GetCommEventCounter"
	case FuncGetCommEventLog:
		return "GetCommEventLog"
	case FuncWriteMultipleCoils:
		return "WriteMultipleCoils"
	case FuncWriteMultipleRegisters:
		return "WriteMultipleRegisters"
	case FuncReportSlaveID:
		return "ReportSlaveID"
	case FuncReadFileRecord:
		return "ReadFileRecord"
	case FuncWriteFileRecord:
		return "WriteFileRecord"
	case FuncMaskWriteRegister:
		return "MaskWriteRegister"
	case FuncReadWriteMultipleRegisters:
		return "ReadWriteMultipleRegisters"
	case FuncReadFIFOQueue:
		return "ReadFIFOQueue"
	default:
		// If it's an exception response
		if IsException(byte(f)) {
			original := GetOriginalFunctionCode(byte(f))
			return fmt.Sprintf("Exception(%s)", FunctionCode(original).String())
		}
		return fmt.Sprintf("Unknown(0x%02X)", byte(f))
	}
}

func (e ExceptionCode) String() string {
	switch e {
	case ExceptionFunctionCodeNotSupported:
		return "FunctionCodeNotSupported"
	case ExceptionDataAddressNotAvailable:
		return "DataAddressNotAvailable"
	case ExceptionInvalidDataValue:
		return "InvalidDataValue"
	case ExceptionServerDeviceFailure:
		return "ServerDeviceFailure"
	case ExceptionAcknowledge:
		return "Acknowledge"
	case ExceptionServerDeviceBusy:
		return "ServerDeviceBusy"
	case ExceptionMemoryParityError:
		return "MemoryParityError"
	case ExceptionGatewayPathUnavailable:
		return "GatewayPathUnavailable"
	case ExceptionGatewayTargetNoResponse:
		return "GatewayTargetNoResponse"
	default:
		return fmt.Sprintf("Unknown(0x%02X)", byte(e))
	}
}

// String returns a string representation of the ExceptionStatus
func (s ExceptionStatus) String() string {
	// Since ExceptionStatus is a bit field (8 coils), show which bits are set
	var bits []int
	for i := 0; i < 8; i++ {
		if (s & (1 << i)) != 0 {
			bits = append(bits, i)
		}
	}

	if len(bits) == 0 {
		return "ExceptionStatus(None)"
	}

	return fmt.Sprintf("ExceptionStatus(Bits: %v, Value: 0x%02X)", bits, byte(s))
}

// Protocol-specific constants
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 4 (Data Model)
const (
	// Modbus TCP
	// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 4.1 (MBAP Header)
	TCPHeaderLength = 7   // Transaction ID (2) + Protocol ID (2) + Length (2) + Unit ID (1)
	MaxPDULength    = 253 // Maximum PDU length
	MaxADULength    = 260 // Maximum ADU length (TCP with header)
	DefaultTCPPort  = 5020 // Default Modbus TCP port for this server (standard Modbus TCP uses 502)

	// Data sizes
	// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 4.3 (Data Encoding)
	// BytesPerCoil and BytesPerDiscreteInput refer to how individual statuses are packed,
	// not that each coil/input uses a full byte in a multi-item request/response.
	// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.1 (Read Coils Response - "coil status ... packed as one coil per bit")
	BytesPerCoil          = 1 // Represents a single status bit; multiple are packed.
	BytesPerDiscreteInput = 1 // Represents a single status bit; multiple are packed.
	BytesPerRegister      = 2 // Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.3 (Read Holding Registers Response - "Each register data in two bytes")
	BytesPerInputRegister = 2 // Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.4 (Read Input Registers Response)

	// Modbus limits
	// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.x (various function specific limits)
	MaxCoilCount     = 2000 // Maximum number of coils in a single read request, Ref: Section 6.1/6.2
	MaxRegisterCount = 125  // Maximum number of registers in a single read request, Ref: Section 6.3/6.4

	MaxWriteCoilCount     = 1968 // Maximum coils in a single write, Ref: Section 6.11
	MaxWriteRegisterCount = 123  // Maximum registers in a single write, Ref: Section 6.12
	MaxReadWriteReadCount = 125  // FC17 read-half limit, Ref: Section 6.17
	MaxWriteWriteCount    = 121  // FC17 write-half limit, Ref: Section 6.17
	MaxFIFOCount          = 31   // FC24/FC18 FIFO queue cap, Ref: Section 6.18
	MaxFileRecordLength   = 120  // Maximum record length (registers) per FC14/FC15 subrequest
	FileRecordReferenceType = 0x06 // The only defined reference type for FC14/FC15
	FileRecordAddressSpan   = 10000 // file_number * FileRecordAddressSpan + record_number

	// Coil Values as defined in the Modbus specification
	// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.5 (Write Single Coil)
	//
	// "The requested ON/OFF state is specified by a constant in the Coil Value field.
	// A value of 0xFF00 requests the coil to be ON.
	// A value of 0x0000 requests the coil to be OFF.
	// All other values are illegal and will not affect the coil."
	//
	CoilOnU16  = 0xFF00 // ON value for coils in register format
	CoilOffU16 = 0x0000 // OFF value for coils in register format
)

// TCPProtocolIdentifier is the standard identifier for Modbus TCP
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 4.1
const TCPProtocolIdentifier = ProtocolID(0)

// ExceptionBit is the bit that is set in the function code to indicate an exception response
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 7 (Exception Responses)
const ExceptionBit byte = 0x80

// IsException checks if a function code represents an exception
func IsException(functionCode byte) bool {
	return (functionCode & ExceptionBit) != 0
}

// IsFunctionException checks if a FunctionCode represents an exception
func IsFunctionException(functionCode FunctionCode) bool {
	return IsException(byte(functionCode))
}

// GetOriginalFunctionCode extracts the original function code from an exception
func GetOriginalFunctionCode(exceptionCode byte) byte {
	return exceptionCode & ^ExceptionBit
}

// GetOriginalFunction extracts the original FunctionCode from an exception
func GetOriginalFunction(exceptionCode FunctionCode) FunctionCode {
	return FunctionCode(GetOriginalFunctionCode(byte(exceptionCode)))
}
