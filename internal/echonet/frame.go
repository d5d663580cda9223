package echonet

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// Frame header constants.
const (
	// EHD1 identifies an ECHONET Lite frame.
	EHD1 byte = 0x10

	// EHD2Format1 selects the specified message format (format 1).
	EHD2Format1 byte = 0x81

	// frameHeaderSize is EHD(2) + TID(2) + SEOJ(3) + DEOJ(3) + ESV(1) + OPC(1).
	frameHeaderSize = 12

	// maxUint8 bounds OPC and PDC.
	maxUint8 = 0xFF
)

// ESV is the ECHONET Lite service code of a frame.
type ESV byte

// Service codes used by this package.
const (
	ESVSetI     ESV = 0x60
	ESVSetC     ESV = 0x61
	ESVGet      ESV = 0x62
	ESVInfReq   ESV = 0x63
	ESVSetRes   ESV = 0x71
	ESVGetRes   ESV = 0x72
	ESVInf      ESV = 0x73
	ESVInfC     ESV = 0x74
	ESVInfCRes  ESV = 0x7A
	ESVSetISNA  ESV = 0x50
	ESVSetCSNA  ESV = 0x51
	ESVGetSNA   ESV = 0x52
	ESVInfSNA   ESV = 0x53
)

// IsResponse reports whether the service code answers a request.
func (e ESV) IsResponse() bool {
	switch e {
	case ESVSetRes, ESVGetRes, ESVInfCRes, ESVSetISNA, ESVSetCSNA, ESVGetSNA, ESVInfSNA:
		return true
	}
	return false
}

// IsNotification reports whether the service code is an unsolicited
// property announcement.
func (e ESV) IsNotification() bool {
	return e == ESVInf || e == ESVInfC
}

// String returns the conventional ECHONET name of the service code.
func (e ESV) String() string {
	switch e {
	case ESVSetI:
		return "SetI"
	case ESVSetC:
		return "SetC"
	case ESVGet:
		return "Get"
	case ESVInfReq:
		return "INF_REQ"
	case ESVSetRes:
		return "Set_Res"
	case ESVGetRes:
		return "Get_Res"
	case ESVInf:
		return "INF"
	case ESVInfC:
		return "INFC"
	case ESVInfCRes:
		return "INFC_Res"
	case ESVSetISNA:
		return "SetI_SNA"
	case ESVSetCSNA:
		return "SetC_SNA"
	case ESVGetSNA:
		return "Get_SNA"
	case ESVInfSNA:
		return "INF_SNA"
	default:
		return fmt.Sprintf("ESV(0x%02X)", byte(e))
	}
}

// EOJ identifies an ECHONET object: class group, class and instance.
type EOJ [3]byte

// Well-known objects.
var (
	// NodeProfile is the node profile object every ECHONET node exposes.
	NodeProfile = EOJ{0x0E, 0xF0, 0x01}

	// ControllerObject is the object this package speaks as.
	ControllerObject = EOJ{0x05, 0xFF, 0x01}
)

// NewEOJ builds an object identifier.
func NewEOJ(classGroup, class, instance byte) EOJ {
	return EOJ{classGroup, class, instance}
}

// ClassGroup returns the class group code.
func (e EOJ) ClassGroup() byte { return e[0] }

// Class returns the class code.
func (e EOJ) Class() byte { return e[1] }

// Instance returns the instance code.
func (e EOJ) Instance() byte { return e[2] }

// IsZero reports whether the identifier is unset.
func (e EOJ) IsZero() bool { return e == EOJ{} }

// IsHomeAirConditioner reports whether the object is of class 0x0130.
func (e EOJ) IsHomeAirConditioner() bool {
	return e[0] == 0x01 && e[1] == 0x30
}

// String formats the identifier as six hex digits, e.g. "013001".
func (e EOJ) String() string {
	return fmt.Sprintf("%02x%02x%02x", e[0], e[1], e[2])
}

// ParseEOJ parses the six hex digit form produced by String.
func ParseEOJ(s string) (EOJ, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != len(EOJ{}) {
		return EOJ{}, fmt.Errorf("%w: object %q", ErrInvalidFrame, s)
	}
	return EOJ{raw[0], raw[1], raw[2]}, nil
}

// EPC is a property code.
type EPC byte

// String formats the property code as "0xNN".
func (p EPC) String() string {
	return fmt.Sprintf("0x%02X", byte(p))
}

// Property is one EPC with its raw property data.
// An empty EDT carries no value: a read request, or a property the device
// could not serve.
type Property struct {
	EPC EPC
	EDT []byte
}

// HasValue reports whether the property carries data.
func (p Property) HasValue() bool {
	return len(p.EDT) > 0
}

// Frame is a format 1 ECHONET Lite message.
type Frame struct {
	TID        uint16
	SEOJ       EOJ
	DEOJ       EOJ
	ESV        ESV
	Properties []Property
}

// Property returns the property with the given code, if present.
func (f Frame) Property(epc EPC) (Property, bool) {
	for _, p := range f.Properties {
		if p.EPC == epc {
			return p, true
		}
	}
	return Property{}, false
}

// Encode serialises the frame.
//
// Returns:
//   - []byte: The datagram payload
//   - error: ErrFrameTooLarge if OPC or any PDC exceeds 255
func (f Frame) Encode() ([]byte, error) {
	if len(f.Properties) > maxUint8 {
		return nil, fmt.Errorf("%w: %d properties", ErrFrameTooLarge, len(f.Properties))
	}

	size := frameHeaderSize
	for _, p := range f.Properties {
		if len(p.EDT) > maxUint8 {
			return nil, fmt.Errorf("%w: EDT of %s is %d bytes", ErrFrameTooLarge, p.EPC, len(p.EDT))
		}
		size += 2 + len(p.EDT)
	}

	buf := make([]byte, frameHeaderSize, size)
	buf[0] = EHD1
	buf[1] = EHD2Format1
	binary.BigEndian.PutUint16(buf[2:4], f.TID)
	copy(buf[4:7], f.SEOJ[:])
	copy(buf[7:10], f.DEOJ[:])
	buf[10] = byte(f.ESV)
	buf[11] = byte(len(f.Properties))

	for _, p := range f.Properties {
		buf = append(buf, byte(p.EPC), byte(len(p.EDT)))
		buf = append(buf, p.EDT...)
	}
	return buf, nil
}

// ParseFrame decodes a datagram into a Frame.
//
// Parameters:
//   - data: Raw datagram bytes
//
// Returns:
//   - Frame: Decoded frame; EDT slices are copies, not views into data
//   - error: ErrInvalidFrame if the header is wrong or properties are truncated
func ParseFrame(data []byte) (Frame, error) {
	if len(data) < frameHeaderSize {
		return Frame{}, fmt.Errorf("%w: too short (%d bytes, need at least %d)", ErrInvalidFrame, len(data), frameHeaderSize)
	}
	if data[0] != EHD1 || data[1] != EHD2Format1 {
		return Frame{}, fmt.Errorf("%w: unsupported header 0x%02X%02X", ErrInvalidFrame, data[0], data[1])
	}

	f := Frame{
		TID: binary.BigEndian.Uint16(data[2:4]),
		ESV: ESV(data[10]),
	}
	copy(f.SEOJ[:], data[4:7])
	copy(f.DEOJ[:], data[7:10])

	opc := int(data[11])
	f.Properties = make([]Property, 0, opc)

	offset := frameHeaderSize
	for i := range opc {
		if offset+2 > len(data) {
			return Frame{}, fmt.Errorf("%w: property %d truncated", ErrInvalidFrame, i)
		}
		epc := EPC(data[offset])
		pdc := int(data[offset+1])
		offset += 2
		if offset+pdc > len(data) {
			return Frame{}, fmt.Errorf("%w: EDT of %s truncated (want %d bytes)", ErrInvalidFrame, epc, pdc)
		}
		var edt []byte
		if pdc > 0 {
			edt = make([]byte, pdc)
			copy(edt, data[offset:offset+pdc])
		}
		offset += pdc
		f.Properties = append(f.Properties, Property{EPC: epc, EDT: edt})
	}

	return f, nil
}
