package common

// PDU is the bare Modbus protocol data unit passed between a
// transport (frame/mbap, frame/rtu) and the engine dispatcher: a
// function code followed by its function-specific data, with no
// framing metadata attached.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 4 (MODBUS Data Model)
type PDU struct {
	FunctionCode FunctionCode
	Data         []byte
}
