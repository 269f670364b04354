package flexcan

// Bus is the 32-bit register access port of one FlexCAN engine. Offsets are
// relative to the controller base. Reads and writes go straight through to
// the engine; reading a mailbox control/status word locks that mailbox
// against hardware updates and reading the free running timer releases the
// lock, exactly as the silicon defines it.
type Bus interface {
	Read32(offset uint32) uint32
	Write32(offset uint32, value uint32)
}
