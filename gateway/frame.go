// Package gateway bridges a simulated controller to a host CAN interface,
// so traffic produced by the driver is visible on a real (or virtual) bus
// and frames from that bus are delivered back into receive mailboxes.
package gateway

import (
	"encoding/binary"
	"errors"

	"github.com/leeyeel/auto-ecu-devkit/can"
)

// Classic socketcan frame layout: 32-bit identifier word, length byte,
// three pad bytes, eight data bytes.
const frameLen = 16

const (
	effFlag uint32 = 0x80000000
	effMask uint32 = 0x1FFFFFFF
	sffMask uint32 = 0x7FF
)

var (
	errFrameTooLong  = errors.New("gateway: frame payload exceeds 8 bytes")
	errFrameTooShort = errors.New("gateway: raw frame shorter than 16 bytes")
)

func marshalFrame(f can.Frame) ([]byte, error) {
	if f.DLC > 8 {
		return nil, errFrameTooLong
	}
	raw := make([]byte, frameLen)

	id := f.ID & sffMask
	if f.IDType == can.Extended {
		id = f.ID&effMask | effFlag
	}
	binary.LittleEndian.PutUint32(raw[0:4], id)
	raw[4] = f.DLC
	copy(raw[8:], f.Data[:f.DLC])
	return raw, nil
}

func unmarshalFrame(raw []byte) (f can.Frame, err error) {
	if len(raw) < frameLen {
		return f, errFrameTooShort
	}

	id := binary.LittleEndian.Uint32(raw[0:4])
	if id&effFlag != 0 {
		f.IDType = can.Extended
		f.ID = id & effMask
	} else {
		f.ID = id & sffMask
	}

	f.DLC = raw[4]
	if f.DLC > 8 {
		f.DLC = 8
	}
	copy(f.Data[:f.DLC], raw[8:8+f.DLC])
	return f, nil
}
