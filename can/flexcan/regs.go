// Package flexcan defines the bit-accurate register layout of the FlexCAN
// engine found on MPC57xx automotive microcontrollers, together with the
// 32-bit bus interface the driver uses to reach it. The constants here are
// the single source of truth for the hardware layout; everything above this
// package works in terms of them.
package flexcan

// Register offsets from a controller's base address.
const (
	RegMCR    uint32 = 0x00 // module configuration
	RegCTRL1  uint32 = 0x04 // control 1 (timing, masks)
	RegTIMER  uint32 = 0x08 // free running timer
	RegECR    uint32 = 0x1C // error counters
	RegESR1   uint32 = 0x20 // error and status 1
	RegIMASK2 uint32 = 0x24 // interrupt masks, mailboxes 32-63
	RegIMASK1 uint32 = 0x28 // interrupt masks, mailboxes 0-31
	RegIFLAG2 uint32 = 0x2C // interrupt flags, mailboxes 32-63
	RegIFLAG1 uint32 = 0x30 // interrupt flags, mailboxes 0-31
)

// Message buffer region: 64 buffers of 16 bytes each starting at 0x80.
const (
	MBRegionStart uint32 = 0x80
	MBSize        uint32 = 16
	MBCount              = 64

	mbCS   uint32 = 0x0
	mbID   uint32 = 0x4
	mbData uint32 = 0x8
)

// Controller base identities.
const (
	CAN0Base uint32 = 0xFFEC0000
	CAN1Base uint32 = 0xFFED0000
)

// MCR bits.
const (
	MCRModuleDisable uint32 = 1 << 31
	MCRFreeze        uint32 = 1 << 30
	MCRFreezeAck     uint32 = 1 << 29
	MCRHalt          uint32 = 1 << 28
	MCRNotReady      uint32 = 1 << 27
	MCRSelfWake      uint32 = 1 << 25
	MCRSupervisor    uint32 = 1 << 24

	// Power-on value of MCR: module disabled, frozen and halted.
	MCRReset uint32 = 0xD890000F
)

// CTRL1 fields and bits.
const (
	CTRL1PresdivMask  uint32 = 0xFF000000
	CTRL1PresdivShift        = 24
	CTRL1RJWMask      uint32 = 0x00C00000
	CTRL1RJWShift            = 22
	CTRL1PS1Mask      uint32 = 0x00380000
	CTRL1PS1Shift            = 19
	CTRL1PS2Mask      uint32 = 0x00070000
	CTRL1PS2Shift            = 16
	CTRL1Loopback     uint32 = 1 << 15
	CTRL1TripleSample uint32 = 1 << 14
	CTRL1BusOffMask   uint32 = 1 << 13
	CTRL1ErrorMask    uint32 = 1 << 12

	// All timing-related fields, cleared before a baudrate is programmed.
	CTRL1TimingMask = CTRL1PresdivMask | CTRL1RJWMask | CTRL1PS1Mask |
		CTRL1PS2Mask | CTRL1TripleSample
)

// ECR fields.
const (
	ECRTxErrMask  uint32 = 0x00FF0000
	ECRTxErrShift        = 16
	ECRRxErrMask  uint32 = 0x0000FF00
	ECRRxErrShift        = 8
)

// ESR1 bits.
const (
	ESR1WakeInt   uint32 = 1 << 0
	ESR1ErrInt    uint32 = 1 << 1
	ESR1BusOffInt uint32 = 1 << 2
	ESR1StuffErr  uint32 = 1 << 10
	ESR1FormErr   uint32 = 1 << 11
	ESR1CrcErr    uint32 = 1 << 12
	ESR1AckErr    uint32 = 1 << 13
	ESR1Bit0Err   uint32 = 1 << 14
	ESR1Bit1Err   uint32 = 1 << 15

	ESR1AnyErr = ESR1ErrInt | ESR1StuffErr | ESR1FormErr | ESR1CrcErr |
		ESR1AckErr | ESR1Bit0Err | ESR1Bit1Err
)

// Mailbox control/status word fields.
const (
	CSCodeMask  uint32 = 0x0F000000
	CSCodeShift        = 24
	CSDLCMask   uint32 = 0x000F0000
	CSDLCShift         = 16
)

// Mailbox codes.
const (
	CodeInactive   uint32 = 0x0
	CodeRxFull     uint32 = 0x2
	CodeRxEmpty    uint32 = 0x4
	CodeRxOverrun  uint32 = 0x6
	CodeTxInactive uint32 = 0x8
	CodeTxRemote   uint32 = 0xA
	CodeTxData     uint32 = 0xC
)

// Mailbox identifier word fields. A standard 11-bit identifier occupies bits
// 28:18 with the extended flag clear; an extended 29-bit identifier occupies
// bits 28:0 with the flag set.
const (
	IDExtFlag  uint32 = 1 << 30
	IDExtMask  uint32 = 0x1FFFFFFF
	IDStdMask  uint32 = 0x7FF
	IDStdShift        = 18
)

// MBOffset returns the byte offset of mailbox i's control/status word.
func MBOffset(i int) uint32 {
	return MBRegionStart + uint32(i)*MBSize
}

// MBIDOffset returns the byte offset of mailbox i's identifier word.
func MBIDOffset(i int) uint32 {
	return MBOffset(i) + mbID
}

// MBDataOffset returns the byte offset of mailbox i's data word w (0 or 1).
func MBDataOffset(i, w int) uint32 {
	return MBOffset(i) + mbData + uint32(w)*4
}
