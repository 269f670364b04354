// Package flexsim is a behavioural model of one FlexCAN engine. It
// implements flexcan.Bus so the driver can be exercised without silicon:
// freeze and halt requests are acknowledged through MCR, reading a mailbox
// control/status word locks the mailbox against hardware updates until the
// free running timer is read, one-shot transmissions can be completed on
// demand, and frames and error conditions can be injected from tests or
// from a bridge.
package flexsim

import (
	"fmt"
	"sync"

	"github.com/leeyeel/auto-ecu-devkit/can/flexcan"
)

const noLock = -1

// TxEvent describes a one-shot transmission started by a mailbox write.
type TxEvent struct {
	Mailbox int
	IDWord  uint32
	DLC     uint8
	Data    [8]byte
}

// Engine is a single simulated FlexCAN controller.
type Engine struct {
	mu sync.Mutex

	responsive   bool
	autoComplete bool

	mcr    uint32
	ctrl1  uint32
	timer  uint32
	ecr    uint32
	esr1   uint32
	imask1 uint32
	imask2 uint32
	iflag1 uint32
	iflag2 uint32

	mb [flexcan.MBCount][4]uint32 // CS, ID, DATA0, DATA1

	locked  int
	pending []func() bool // deferred hardware updates; return true to raise the line

	irq        func()
	onTransmit func(TxEvent)
}

// Option adjusts engine behaviour at construction time.
type Option func(*Engine)

// Unresponsive builds an engine that never acknowledges freeze or halt
// requests, for exercising the bounded poll paths.
func Unresponsive() Option {
	return func(e *Engine) { e.responsive = false }
}

// AutoComplete makes every one-shot transmission complete immediately, as
// if the bus always acknowledged the frame.
func AutoComplete() Option {
	return func(e *Engine) { e.autoComplete = true }
}

// New returns an engine in its power-on state.
func New(opts ...Option) *Engine {
	e := &Engine{
		mcr:        flexcan.MCRReset,
		ctrl1:      0x00000001,
		locked:     noLock,
		responsive: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.updateAcks()
	return e
}

// SetInterruptLine wires the engine's interrupt output. The function is
// invoked, outside any engine lock, whenever an enabled event raises a flag.
func (e *Engine) SetInterruptLine(fn func()) {
	e.mu.Lock()
	e.irq = fn
	e.mu.Unlock()
}

// SetOnTransmit registers an observer for one-shot transmissions, used to
// bridge the engine to a peer or to a physical interface.
func (e *Engine) SetOnTransmit(fn func(TxEvent)) {
	e.mu.Lock()
	e.onTransmit = fn
	e.mu.Unlock()
}

// Read32 implements flexcan.Bus.
func (e *Engine) Read32(offset uint32) uint32 {
	e.mu.Lock()
	e.timer = (e.timer + 1) & 0xFFFF

	var fire bool
	var v uint32
	switch {
	case offset == flexcan.RegMCR:
		v = e.mcr
	case offset == flexcan.RegCTRL1:
		v = e.ctrl1
	case offset == flexcan.RegTIMER:
		v = e.timer
		fire = e.unlock()
	case offset == flexcan.RegECR:
		v = e.ecr
	case offset == flexcan.RegESR1:
		v = e.esr1
	case offset == flexcan.RegIMASK1:
		v = e.imask1
	case offset == flexcan.RegIMASK2:
		v = e.imask2
	case offset == flexcan.RegIFLAG1:
		v = e.iflag1
	case offset == flexcan.RegIFLAG2:
		v = e.iflag2
	case offset >= flexcan.MBRegionStart && offset < flexcan.MBRegionStart+flexcan.MBCount*flexcan.MBSize:
		mb, word := mbIndex(offset)
		if word == 0 {
			e.locked = mb
		}
		v = e.mb[mb][word]
	default:
		e.mu.Unlock()
		panic(fmt.Sprintf("flexsim: read of unmapped offset %#x", offset))
	}
	irq := e.irq
	e.mu.Unlock()

	if fire && irq != nil {
		irq()
	}
	return v
}

// Write32 implements flexcan.Bus.
func (e *Engine) Write32(offset uint32, value uint32) {
	e.mu.Lock()

	var fire bool
	var tx *TxEvent
	switch {
	case offset == flexcan.RegMCR:
		e.mcr = value
		e.updateAcks()
	case offset == flexcan.RegCTRL1:
		e.ctrl1 = value
	case offset == flexcan.RegTIMER:
		e.timer = value & 0xFFFF
	case offset == flexcan.RegECR:
		// counters are owned by the protocol engine
	case offset == flexcan.RegESR1:
		e.esr1 &^= value // write one to clear
	case offset == flexcan.RegIMASK1:
		e.imask1 = value
	case offset == flexcan.RegIMASK2:
		e.imask2 = value
	case offset == flexcan.RegIFLAG1:
		e.iflag1 &^= value
	case offset == flexcan.RegIFLAG2:
		e.iflag2 &^= value
	case offset >= flexcan.MBRegionStart && offset < flexcan.MBRegionStart+flexcan.MBCount*flexcan.MBSize:
		mb, word := mbIndex(offset)
		e.mb[mb][word] = value
		if word == 0 && flexcan.CSWord(value).Code() == flexcan.CodeTxData {
			tx, fire = e.startTransmit(mb)
		}
	default:
		e.mu.Unlock()
		panic(fmt.Sprintf("flexsim: write of unmapped offset %#x", offset))
	}
	irq := e.irq
	onTx := e.onTransmit
	e.mu.Unlock()

	if tx != nil && onTx != nil {
		onTx(*tx)
	}
	if fire && irq != nil {
		irq()
	}
}

// CompleteTransmit makes the protocol engine finish the one-shot
// transmission pending in mailbox mb: the code moves to TxInactive and the
// mailbox flag is raised. Deferred if the mailbox is currently locked.
func (e *Engine) CompleteTransmit(mb int) {
	e.mu.Lock()
	fire := e.whenUnlocked(mb, func() bool { return e.completeTransmit(mb) })
	irq := e.irq
	e.mu.Unlock()

	if fire && irq != nil {
		irq()
	}
}

// Deliver places a received frame into mailbox mb and raises its flag. If
// the mailbox already holds an unread frame the code becomes RxOverrun.
// Deferred if the mailbox is currently locked.
func (e *Engine) Deliver(mb int, idWord uint32, dlc uint8, data [8]byte) {
	e.mu.Lock()
	fire := e.whenUnlocked(mb, func() bool { return e.deliver(mb, idWord, dlc, data) })
	irq := e.irq
	e.mu.Unlock()

	if fire && irq != nil {
		irq()
	}
}

// DeliverMatching delivers a frame into the first mailbox whose identifier
// word equals idWord and which is not set up for transmission. It reports
// whether a mailbox accepted the frame.
func (e *Engine) DeliverMatching(idWord uint32, dlc uint8, data [8]byte) bool {
	e.mu.Lock()
	target := noLock
	for i := 0; i < flexcan.MBCount; i++ {
		code := flexcan.CSWord(e.mb[i][0]).Code()
		if code&0x8 != 0 { // tx codes
			continue
		}
		if e.mb[i][1] == idWord {
			target = i
			break
		}
	}
	if target == noLock {
		e.mu.Unlock()
		return false
	}
	fire := e.whenUnlocked(target, func() bool { return e.deliver(target, idWord, dlc, data) })
	irq := e.irq
	e.mu.Unlock()

	if fire && irq != nil {
		irq()
	}
	return true
}

// InjectError latches status bits into ESR1, raising the interrupt line
// when the corresponding CTRL1 mask enables it.
func (e *Engine) InjectError(bits uint32) {
	e.mu.Lock()
	e.esr1 |= bits
	fire := false
	if bits&flexcan.ESR1BusOffInt != 0 && e.ctrl1&flexcan.CTRL1BusOffMask != 0 {
		fire = true
	}
	if bits&flexcan.ESR1AnyErr != 0 && e.ctrl1&flexcan.CTRL1ErrorMask != 0 {
		fire = true
	}
	if bits&flexcan.ESR1WakeInt != 0 {
		fire = true
	}
	irq := e.irq
	e.mu.Unlock()

	if fire && irq != nil {
		irq()
	}
}

// SetErrorCounters sets the hardware transmit and receive error counters.
func (e *Engine) SetErrorCounters(tx, rx uint8) {
	e.mu.Lock()
	e.ecr = uint32(tx)<<flexcan.ECRTxErrShift | uint32(rx)<<flexcan.ECRRxErrShift
	e.mu.Unlock()
}

// Locked reports whether a mailbox is currently locked by a CS read.
func (e *Engine) Locked() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.locked != noLock
}

// updateAcks recomputes the MCR acknowledge bits after an MCR write. An
// unresponsive engine leaves them untouched so freeze polls run out.
func (e *Engine) updateAcks() {
	if !e.responsive {
		return
	}
	if e.mcr&flexcan.MCRFreeze != 0 {
		e.mcr |= flexcan.MCRFreezeAck
	} else {
		e.mcr &^= flexcan.MCRFreezeAck
	}
	if e.mcr&(flexcan.MCRFreeze|flexcan.MCRHalt) != 0 {
		e.mcr |= flexcan.MCRNotReady
	} else {
		e.mcr &^= flexcan.MCRNotReady
	}
}

// whenUnlocked runs a hardware update now, or defers it until the lock is
// released when it targets the locked mailbox.
func (e *Engine) whenUnlocked(mb int, update func() bool) bool {
	if e.locked == mb {
		e.pending = append(e.pending, update)
		return false
	}
	return update()
}

func (e *Engine) unlock() bool {
	e.locked = noLock
	fire := false
	for _, update := range e.pending {
		if update() {
			fire = true
		}
	}
	e.pending = nil
	return fire
}

func (e *Engine) startTransmit(mb int) (*TxEvent, bool) {
	cs := flexcan.CSWord(e.mb[mb][0])
	ev := TxEvent{
		Mailbox: mb,
		IDWord:  e.mb[mb][1],
		DLC:     cs.DLC(),
		Data:    flexcan.UnpackData(e.mb[mb][2], e.mb[mb][3]),
	}
	fire := false
	if e.autoComplete {
		fire = e.completeTransmit(mb)
	}
	return &ev, fire
}

func (e *Engine) completeTransmit(mb int) bool {
	cs := flexcan.CSWord(e.mb[mb][0])
	e.mb[mb][0] = uint32(cs.WithCode(flexcan.CodeTxInactive))
	return e.raiseFlag(mb)
}

func (e *Engine) deliver(mb int, idWord uint32, dlc uint8, data [8]byte) bool {
	code := flexcan.CodeRxFull
	if flexcan.CSWord(e.mb[mb][0]).Code() == flexcan.CodeRxFull {
		code = flexcan.CodeRxOverrun
	}
	e.mb[mb][0] = uint32(flexcan.NewCSWord(code, dlc))
	e.mb[mb][1] = idWord
	e.mb[mb][2], e.mb[mb][3] = flexcan.PackData(data)
	return e.raiseFlag(mb)
}

// raiseFlag sets the interrupt flag for mailbox mb and reports whether the
// flag is enabled in the interrupt mask.
func (e *Engine) raiseFlag(mb int) bool {
	if mb < 32 {
		e.iflag1 |= 1 << uint(mb)
		return e.imask1&(1<<uint(mb)) != 0
	}
	e.iflag2 |= 1 << uint(mb-32)
	return e.imask2&(1<<uint(mb-32)) != 0
}

func mbIndex(offset uint32) (mb int, word int) {
	rel := offset - flexcan.MBRegionStart
	return int(rel / flexcan.MBSize), int(rel % flexcan.MBSize / 4)
}
