package modbus

import (
	"encoding/binary"
	"fmt"
)

// Modbus TCP protocol constants.
const (
	// DefaultPort is the registered Modbus TCP port.
	DefaultPort = 502

	// mbapHeaderLen is the length of the MBAP header:
	// transaction(2) + protocol(2) + length(2) + unit(1).
	mbapHeaderLen = 7

	// protocolID is always zero for Modbus TCP.
	protocolID = 0

	// maxReadQuantity is the protocol limit on registers per read.
	maxReadQuantity = 125

	// maxPDULen bounds the response body we are willing to buffer.
	maxPDULen = 253
)

// Function codes used by the pollers.
const (
	fnReadHolding   = 0x03
	fnReadInput     = 0x04
	fnWriteCoil     = 0x05
	fnWriteRegister = 0x06
)

// Exception codes from the protocol.
const (
	exIllegalFunction    = 0x01
	exIllegalDataAddress = 0x02
	exIllegalDataValue   = 0x03
	exServerFailure      = 0x04
)

// exceptionFlag is set on the function code in an exception response.
const exceptionFlag = 0x80

// RegisterKind selects which register table a read targets.
type RegisterKind byte

const (
	// Holding registers are read/write (function 0x03).
	Holding RegisterKind = iota
	// Input registers are read-only measurements (function 0x04).
	Input
)

func (k RegisterKind) function() byte {
	if k == Input {
		return fnReadInput
	}
	return fnReadHolding
}

// String returns the register kind name for logs.
func (k RegisterKind) String() string {
	if k == Input {
		return "input"
	}
	return "holding"
}

// encodeRead builds a read-registers request frame.
// The MBAP length field covers unit + function + body.
func encodeRead(txID uint16, unitID byte, kind RegisterKind, address, quantity uint16) []byte {
	frame := make([]byte, mbapHeaderLen+5)
	binary.BigEndian.PutUint16(frame[0:2], txID)
	binary.BigEndian.PutUint16(frame[2:4], protocolID)
	binary.BigEndian.PutUint16(frame[4:6], 6) // unit + function + address + quantity
	frame[6] = unitID
	frame[7] = kind.function()
	binary.BigEndian.PutUint16(frame[8:10], address)
	binary.BigEndian.PutUint16(frame[10:12], quantity)
	return frame
}

// encodeWriteSingle builds a write-single request frame (coil or register).
func encodeWriteSingle(txID uint16, unitID, function byte, address, value uint16) []byte {
	frame := make([]byte, mbapHeaderLen+5)
	binary.BigEndian.PutUint16(frame[0:2], txID)
	binary.BigEndian.PutUint16(frame[2:4], protocolID)
	binary.BigEndian.PutUint16(frame[4:6], 6)
	frame[6] = unitID
	frame[7] = function
	binary.BigEndian.PutUint16(frame[8:10], address)
	binary.BigEndian.PutUint16(frame[10:12], value)
	return frame
}

// coilValue maps a boolean onto the protocol's on/off encoding.
func coilValue(on bool) uint16 {
	if on {
		return 0xFF00
	}
	return 0x0000
}

// parseHeader validates an MBAP header and returns the PDU length
// (function code plus body, the unit byte already consumed).
func parseHeader(header []byte, wantTx uint16, wantUnit byte) (int, error) {
	if len(header) < mbapHeaderLen {
		return 0, fmt.Errorf("%w: short header (%d bytes)", ErrProtocol, len(header))
	}
	if tx := binary.BigEndian.Uint16(header[0:2]); tx != wantTx {
		return 0, fmt.Errorf("%w: transaction mismatch (sent %d, got %d)", ErrProtocol, wantTx, tx)
	}
	if proto := binary.BigEndian.Uint16(header[2:4]); proto != protocolID {
		return 0, fmt.Errorf("%w: unexpected protocol id %d", ErrProtocol, proto)
	}
	length := int(binary.BigEndian.Uint16(header[4:6]))
	if length < 2 || length > maxPDULen+1 {
		return 0, fmt.Errorf("%w: implausible frame length %d", ErrProtocol, length)
	}
	if unit := header[6]; unit != wantUnit {
		return 0, fmt.Errorf("%w: unit mismatch (sent %d, got %d)", ErrProtocol, wantUnit, unit)
	}
	return length - 1, nil
}

// parsePDU checks the function byte of a response PDU, surfacing
// exception responses as ErrProtocol, and returns the body.
func parsePDU(pdu []byte, wantFn byte) ([]byte, error) {
	if len(pdu) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrProtocol)
	}
	fn := pdu[0]
	if fn == wantFn|exceptionFlag {
		if len(pdu) < 2 {
			return nil, fmt.Errorf("%w: truncated exception response", ErrProtocol)
		}
		return nil, exceptionError(wantFn, pdu[1])
	}
	if fn != wantFn {
		return nil, fmt.Errorf("%w: function mismatch (sent 0x%02x, got 0x%02x)", ErrProtocol, wantFn, fn)
	}
	return pdu[1:], nil
}

// parseReadValues decodes the register values of a read response body.
func parseReadValues(body []byte, quantity uint16) ([]uint16, error) {
	if len(body) < 1 {
		return nil, fmt.Errorf("%w: missing byte count", ErrProtocol)
	}
	byteCount := int(body[0])
	if byteCount != int(quantity)*2 || len(body)-1 < byteCount {
		return nil, fmt.Errorf("%w: byte count %d does not match %d registers", ErrProtocol, byteCount, quantity)
	}
	values := make([]uint16, quantity)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(body[1+i*2 : 3+i*2])
	}
	return values, nil
}
