package echonet

import (
	"fmt"
	"slices"
	"strings"
)

// Property codes shared by all device objects (super class) and the node profile.
const (
	EPCOperationStatus    EPC = 0x80
	EPCMakerCode          EPC = 0x8A
	EPCProductCode        EPC = 0x8C
	EPCSerialNumber       EPC = 0x8D
	EPCStatusChangeMap    EPC = 0x9D
	EPCSetPropertyMap     EPC = 0x9E
	EPCGetPropertyMap     EPC = 0x9F
	EPCInstanceListNotify EPC = 0xD5
	EPCSelfInstanceList   EPC = 0xD6
)

// Property codes of the home air conditioner class (0x0130).
const (
	EPCAirFlowSwing      EPC = 0xA3
	EPCOperationMode     EPC = 0xB0
	EPCTargetTemperature EPC = 0xB3
	EPCRoomTemperature   EPC = 0xBB
)

// EDT values.
const (
	statusOn  byte = 0x30
	statusOff byte = 0x31

	// modeBase is added to the logical mode (1 auto, 2 cool, 3 heat, ...).
	modeBase byte = 0x40

	// targetTemperatureUnknown is reported when no setpoint applies.
	targetTemperatureUnknown byte = 0xFD

	// roomTemperatureUnmeasurable is reported when the sensor has no reading.
	roomTemperatureUnmeasurable byte = 0x7E

	swingOff      byte = 0x31
	swingVertical byte = 0x41

	// maxTargetTemperature is the upper bound of 0xB3 (0 to 50 °C).
	maxTargetTemperature = 50

	// propertyMapListLimit is the count below which a property map is a plain list.
	propertyMapListLimit = 16
)

// EncodeStatus encodes operation status (0x80).
func EncodeStatus(on bool) []byte {
	if on {
		return []byte{statusOn}
	}
	return []byte{statusOff}
}

// DecodeStatus decodes operation status (0x80).
func DecodeStatus(edt []byte) (bool, error) {
	if len(edt) != 1 {
		return false, fmt.Errorf("%w: status needs 1 byte, got %d", ErrInvalidEDT, len(edt))
	}
	switch edt[0] {
	case statusOn:
		return true, nil
	case statusOff:
		return false, nil
	default:
		return false, fmt.Errorf("%w: status 0x%02X", ErrInvalidEDT, edt[0])
	}
}

// EncodeMode encodes an operation mode (0xB0) from its logical number
// (1 auto, 2 cool, 3 heat, 4 dry, 5 fan).
func EncodeMode(mode int) []byte {
	return []byte{modeBase + byte(mode)}
}

// DecodeMode decodes operation mode (0xB0) into its logical number.
// 0x40 ("other") decodes to 0.
func DecodeMode(edt []byte) (int, error) {
	if len(edt) != 1 {
		return 0, fmt.Errorf("%w: mode needs 1 byte, got %d", ErrInvalidEDT, len(edt))
	}
	return int(edt[0]) - int(modeBase), nil
}

// EncodeTargetTemperature encodes a setpoint (0xB3), clamped to 0..50 °C.
func EncodeTargetTemperature(celsius int) []byte {
	celsius = max(0, min(celsius, maxTargetTemperature))
	return []byte{byte(celsius)}
}

// DecodeTargetTemperature decodes a setpoint (0xB3).
// A nil result means the device reports no discrete setpoint.
func DecodeTargetTemperature(edt []byte) (*int, error) {
	if len(edt) != 1 {
		return nil, fmt.Errorf("%w: target temperature needs 1 byte, got %d", ErrInvalidEDT, len(edt))
	}
	if edt[0] == targetTemperatureUnknown {
		return nil, nil
	}
	v := int(edt[0])
	return &v, nil
}

// DecodeRoomTemperature decodes the measured room temperature (0xBB), a signed
// byte. A nil result means the value could not be measured.
func DecodeRoomTemperature(edt []byte) (*int, error) {
	if len(edt) != 1 {
		return nil, fmt.Errorf("%w: room temperature needs 1 byte, got %d", ErrInvalidEDT, len(edt))
	}
	if edt[0] == roomTemperatureUnmeasurable {
		return nil, nil
	}
	v := int(int8(edt[0]))
	return &v, nil
}

// EncodeSwing encodes air flow swing (0xA3). Enabled swings vertically.
func EncodeSwing(enabled bool) []byte {
	if enabled {
		return []byte{swingVertical}
	}
	return []byte{swingOff}
}

// DecodeSwing decodes air flow swing (0xA3). Any direction counts as enabled.
func DecodeSwing(edt []byte) (bool, error) {
	if len(edt) != 1 {
		return false, fmt.Errorf("%w: swing needs 1 byte, got %d", ErrInvalidEDT, len(edt))
	}
	return edt[0] != swingOff, nil
}

// DecodeString decodes an ASCII identification property such as the product
// code (0x8C) or serial number (0x8D). NUL and space padding is trimmed.
func DecodeString(edt []byte) string {
	return strings.Trim(string(edt), "\x00 ")
}

// DecodeMakerCode renders the three-byte maker code (0x8A) as hex.
func DecodeMakerCode(edt []byte) (string, error) {
	if len(edt) != 3 { //nolint:mnd // maker code is three bytes
		return "", fmt.Errorf("%w: maker code needs 3 bytes, got %d", ErrInvalidEDT, len(edt))
	}
	return fmt.Sprintf("%02X%02X%02X", edt[0], edt[1], edt[2]), nil
}

// EncodeInstanceList encodes a self-node instance list (0xD6).
func EncodeInstanceList(objects []EOJ) []byte {
	buf := make([]byte, 1, 1+3*len(objects))
	buf[0] = byte(len(objects))
	for _, o := range objects {
		buf = append(buf, o[:]...)
	}
	return buf
}

// DecodeInstanceList decodes a self-node instance list (0xD6 or 0xD5).
func DecodeInstanceList(edt []byte) ([]EOJ, error) {
	if len(edt) < 1 {
		return nil, fmt.Errorf("%w: empty instance list", ErrInvalidEDT)
	}
	n := int(edt[0])
	if len(edt) < 1+3*n {
		return nil, fmt.Errorf("%w: instance list of %d objects is %d bytes", ErrInvalidEDT, n, len(edt))
	}
	objects := make([]EOJ, 0, n)
	for i := range n {
		off := 1 + 3*i
		objects = append(objects, EOJ{edt[off], edt[off+1], edt[off+2]})
	}
	return objects, nil
}

// PropertyMap is the set of property codes listed in a property map
// (0x9D, 0x9E or 0x9F), in ascending order.
type PropertyMap []EPC

// Has reports whether the map lists the code.
func (m PropertyMap) Has(epc EPC) bool {
	_, found := slices.BinarySearch(m, epc)
	return found
}

// EncodePropertyMap encodes a property map. Fewer than 16 codes are written as
// a list; otherwise the 16-byte bitmap form is used.
func EncodePropertyMap(codes []EPC) []byte {
	sorted := slices.Clone(codes)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	if len(sorted) < propertyMapListLimit {
		buf := make([]byte, 1, 1+len(sorted))
		buf[0] = byte(len(sorted))
		for _, c := range sorted {
			buf = append(buf, byte(c))
		}
		return buf
	}

	buf := make([]byte, 1+propertyMapListLimit)
	buf[0] = byte(len(sorted))
	for _, c := range sorted {
		if c < 0x80 {
			continue
		}
		low := byte(c) & 0x0F
		high := (byte(c) >> 4) - 0x08
		buf[1+low] |= 1 << high
	}
	return buf
}

// DecodePropertyMap decodes a property map.
//
// The first byte is the number of properties. Below 16 it is followed by the
// codes themselves. From 16 on it is followed by a 16-byte bitmap where bit j
// of byte i stands for code 0x80 + i + 0x10*j.
func DecodePropertyMap(edt []byte) (PropertyMap, error) {
	if len(edt) < 1 {
		return nil, fmt.Errorf("%w: empty property map", ErrInvalidEDT)
	}
	n := int(edt[0])

	var m PropertyMap
	if n < propertyMapListLimit {
		if len(edt) < 1+n {
			return nil, fmt.Errorf("%w: property map of %d codes is %d bytes", ErrInvalidEDT, n, len(edt))
		}
		m = make(PropertyMap, 0, n)
		for _, b := range edt[1 : 1+n] {
			m = append(m, EPC(b))
		}
	} else {
		if len(edt) < 1+propertyMapListLimit {
			return nil, fmt.Errorf("%w: bitmap property map is %d bytes", ErrInvalidEDT, len(edt))
		}
		m = make(PropertyMap, 0, n)
		for i := range propertyMapListLimit {
			for j := range 8 {
				if edt[1+i]&(1<<j) != 0 {
					m = append(m, EPC(0x80+i+0x10*j))
				}
			}
		}
	}

	slices.Sort(m)
	return slices.Compact(m), nil
}
