package flexcan

// CSWord is a mailbox control/status word.
type CSWord uint32

// Code returns the 4-bit mailbox code.
func (w CSWord) Code() uint32 {
	return (uint32(w) & CSCodeMask) >> CSCodeShift
}

// DLC returns the data length code field.
func (w CSWord) DLC() uint8 {
	return uint8((uint32(w) & CSDLCMask) >> CSDLCShift)
}

// WithCode returns the word with its code field replaced.
func (w CSWord) WithCode(code uint32) CSWord {
	return CSWord((uint32(w) &^ CSCodeMask) | (code << CSCodeShift))
}

// NewCSWord builds a control/status word from a code and a DLC, all other
// fields zero.
func NewCSWord(code uint32, dlc uint8) CSWord {
	return CSWord((code << CSCodeShift) | (uint32(dlc&0xF) << CSDLCShift))
}

// EncodeID builds a mailbox identifier word. Standard identifiers are
// shifted into the upper field with the extended flag clear; extended
// identifiers occupy the full field with the flag set.
func EncodeID(extended bool, id uint32) uint32 {
	if extended {
		return (id & IDExtMask) | IDExtFlag
	}
	return (id & IDStdMask) << IDStdShift
}

// DecodeID is the inverse of EncodeID.
func DecodeID(word uint32) (extended bool, id uint32) {
	if word&IDExtFlag != 0 {
		return true, word & IDExtMask
	}
	return false, (word >> IDStdShift) & IDStdMask
}

// PackData packs an 8-byte payload into the two big-endian data words of a
// mailbox, byte 0 in the most significant byte of word 0.
func PackData(data [8]byte) (w0, w1 uint32) {
	w0 = uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
	w1 = uint32(data[4])<<24 | uint32(data[5])<<16 | uint32(data[6])<<8 | uint32(data[7])
	return w0, w1
}

// UnpackData is the inverse of PackData.
func UnpackData(w0, w1 uint32) (data [8]byte) {
	data[0] = byte(w0 >> 24)
	data[1] = byte(w0 >> 16)
	data[2] = byte(w0 >> 8)
	data[3] = byte(w0)
	data[4] = byte(w1 >> 24)
	data[5] = byte(w1 >> 16)
	data[6] = byte(w1 >> 8)
	data[7] = byte(w1)
	return data
}
