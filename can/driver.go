package can

import (
	"fmt"
	"sync/atomic"

	"github.com/leeyeel/auto-ecu-devkit/can/flexcan"
)

// mbStatus is the runtime status of one hardware slot. Both flags are
// shared between task context and the interrupt dispatcher, so they live in
// atomic cells.
type mbStatus struct {
	busy       atomic.Bool
	configured atomic.Bool
}

type controller struct {
	cfg     *ControllerConfig
	bus     flexcan.Bus
	state   atomic.Int32
	imask   atomic.Uint32
	txErr   atomic.Uint32
	rxErr   atomic.Uint32
	initErr error // written during Init, read-only afterwards
	mb      [flexcan.MBCount]mbStatus
}

func (c *controller) setState(s ControllerState) { c.state.Store(int32(s)) }

func (c *controller) getState() ControllerState { return ControllerState(c.state.Load()) }

// hohEntry resolves a hardware object handle to its hardware slot.
type hohEntry struct {
	controller uint8
	mailbox    uint8
}

// Driver is one instance of the FlexCAN driver. It owns the callback
// registry and all per-controller runtime state; the register blocks are
// reached through the flexcan.Bus supplied per base identity.
type Driver struct {
	cfg         *Config
	log         Logger
	cb          Callbacks
	buses       map[uint32]flexcan.Bus
	ctrl        []*controller
	hoh         []hohEntry
	initialized atomic.Bool
}

// Option adjusts a Driver at construction time.
type Option func(*Driver)

// WithLogger sets the driver's diagnostic logger.
func WithLogger(l Logger) Option {
	return func(d *Driver) { d.log = l }
}

// NewDriver builds a driver over the given configuration. buses maps each
// controller's register-base identity to its access port; controllers whose
// base cannot be resolved fail individually at Init.
func NewDriver(cfg *Config, buses map[uint32]flexcan.Bus, opts ...Option) (*Driver, error) {
	if cfg == nil {
		return nil, ErrParam
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Driver{
		cfg:   cfg,
		log:   nopLogger{},
		buses: buses,
	}
	for _, opt := range opts {
		opt(d)
	}

	for i := range cfg.Controllers {
		cc := &cfg.Controllers[i]
		d.ctrl = append(d.ctrl, &controller{cfg: cc})
		for _, mb := range cc.Mailboxes {
			if mb.Type == MailboxTx {
				d.hoh = append(d.hoh, hohEntry{controller: cc.ID, mailbox: mb.Index})
			}
		}
	}
	return d, nil
}

// controllerByID returns the runtime state for a controller id.
func (d *Driver) controllerByID(id uint8) *controller {
	for _, c := range d.ctrl {
		if c.cfg.ID == id {
			return c
		}
	}
	return nil
}

// Init initializes every activated controller: freeze, baudrate profile,
// mailbox configuration, interrupt masks. A controller failing does not
// abort the others and the overall result is still Ok once the loop
// completes; per-controller outcomes are available through InitResult.
func (d *Driver) Init() error {
	if d.initialized.Load() {
		return ErrNotOK
	}
	// Marked live up front so the mailbox configuration API is usable
	// while the controllers are being set up.
	d.initialized.Store(true)

	for _, c := range d.ctrl {
		if !c.cfg.Activated {
			c.initErr = nil
			continue
		}
		c.initErr = d.initController(c)
		if c.initErr != nil {
			d.log.Warnf("can: controller %d init failed: %v", c.cfg.ID, c.initErr)
			continue
		}
		d.log.Infof("can: controller %d ready at base %#x", c.cfg.ID, c.cfg.Base)
	}
	return nil
}

func (d *Driver) initController(c *controller) error {
	bus, ok := d.buses[c.cfg.Base]
	if !ok || bus == nil {
		return fmt.Errorf("%w: no bus for base %#x", ErrParam, c.cfg.Base)
	}
	c.bus = bus

	if err := d.enterFreezeMode(bus); err != nil {
		return fmt.Errorf("freeze entry: %w", err)
	}
	d.programBaudrate(bus, &d.cfg.Baudrates[c.cfg.Baudrate])
	if err := d.exitFreezeMode(bus); err != nil {
		return fmt.Errorf("freeze exit: %w", err)
	}

	if err := d.configureAllMessageBuffers(c); err != nil {
		return fmt.Errorf("mailbox configuration: %w", err)
	}

	for i := range c.mb {
		c.mb[i].busy.Store(false)
	}
	c.setState(StateStopped)

	// Error and bus-off interrupts are always armed.
	bus.Write32(flexcan.RegCTRL1,
		bus.Read32(flexcan.RegCTRL1)|flexcan.CTRL1ErrorMask|flexcan.CTRL1BusOffMask)
	return nil
}

// InitResult reports the per-controller outcome of the last Init.
func (d *Driver) InitResult(id uint8) error {
	c := d.controllerByID(id)
	if c == nil {
		return ErrParam
	}
	return c.initErr
}

// DeInit forces every controller into freeze mode, clears interrupt masks
// and pending flags, resets all state to Uninit and clears the callback
// registry. Always returns nil.
func (d *Driver) DeInit() error {
	for _, c := range d.ctrl {
		if c.bus != nil {
			_ = d.enterFreezeMode(c.bus)
			c.bus.Write32(flexcan.RegIMASK1, 0)
			c.bus.Write32(flexcan.RegIMASK2, 0)
			c.bus.Write32(flexcan.RegIFLAG1, 0xFFFFFFFF)
			c.bus.Write32(flexcan.RegIFLAG2, 0xFFFFFFFF)
		}
		for i := range c.mb {
			c.mb[i].busy.Store(false)
			c.mb[i].configured.Store(false)
		}
		c.setState(StateUninit)
		c.imask.Store(0)
	}
	d.cb.clear()
	d.initialized.Store(false)
	d.log.Infof("can: driver deinitialized")
	return nil
}

// SetControllerMode drives a controller into the requested mode. Started
// and Stopped transitions poll the hardware within the configured bound;
// Sleep takes effect immediately.
func (d *Driver) SetControllerMode(id uint8, mode ControllerState) error {
	c := d.controllerByID(id)
	if c == nil {
		return ErrParam
	}
	if !d.initialized.Load() {
		return ErrUninit
	}
	if c.bus == nil {
		return ErrParam
	}

	switch mode {
	case StateStarted:
		mcr := c.bus.Read32(flexcan.RegMCR)
		c.bus.Write32(flexcan.RegMCR, mcr&^flexcan.MCRHalt)
		if !d.pollClear(c.bus, flexcan.RegMCR, flexcan.MCRNotReady) {
			return ErrNotOK
		}
		c.setState(StateStarted)

	case StateStopped:
		mcr := c.bus.Read32(flexcan.RegMCR)
		c.bus.Write32(flexcan.RegMCR, mcr|flexcan.MCRHalt)
		if !d.pollSet(c.bus, flexcan.RegMCR, flexcan.MCRNotReady) {
			return ErrNotOK
		}
		c.setState(StateStopped)

	case StateSleep:
		mcr := c.bus.Read32(flexcan.RegMCR)
		c.bus.Write32(flexcan.RegMCR, mcr|flexcan.MCRSelfWake)
		c.setState(StateSleep)

	default:
		return ErrParam
	}

	d.log.Debugf("can: controller %d -> %s", id, mode)
	return nil
}

// GetControllerStatus returns the current operating mode of a controller.
func (d *Driver) GetControllerStatus(id uint8) (ControllerState, error) {
	c := d.controllerByID(id)
	if c == nil {
		return StateUninit, ErrParam
	}
	return c.getState(), nil
}

// GetErrorCounters refreshes and returns a controller's hardware error
// counters.
func (d *Driver) GetErrorCounters(id uint8) (Counters, error) {
	c := d.controllerByID(id)
	if c == nil {
		return Counters{}, ErrParam
	}
	if !d.initialized.Load() || c.bus == nil {
		return Counters{}, ErrUninit
	}
	d.refreshErrorCounters(c)
	return Counters{
		TxErrors: uint8(c.txErr.Load()),
		RxErrors: uint8(c.rxErr.Load()),
	}, nil
}

// CheckWakeup reports and clears a pending wakeup event.
func (d *Driver) CheckWakeup(id uint8) bool {
	c := d.controllerByID(id)
	if c == nil || c.bus == nil || !d.initialized.Load() {
		return false
	}
	if c.bus.Read32(flexcan.RegESR1)&flexcan.ESR1WakeInt == 0 {
		return false
	}
	c.bus.Write32(flexcan.RegESR1, flexcan.ESR1WakeInt)
	return true
}

// EnableInterrupt arms the interrupt sources named in mask. Mailbox
// interrupts are armed for all slots at once; the per-class bookkeeping is
// kept in the controller state.
func (d *Driver) EnableInterrupt(id uint8, mask uint16) error {
	c := d.controllerByID(id)
	if c == nil {
		return ErrParam
	}
	if !d.initialized.Load() || c.bus == nil {
		return ErrUninit
	}
	c.imask.Store(c.imask.Load() | uint32(mask))

	if mask&(InterruptTx|InterruptRx) != 0 {
		c.bus.Write32(flexcan.RegIMASK1, 0xFFFFFFFF)
		c.bus.Write32(flexcan.RegIMASK2, 0xFFFFFFFF)
	}
	if mask&(InterruptError|InterruptBusOff) != 0 {
		c.bus.Write32(flexcan.RegCTRL1,
			c.bus.Read32(flexcan.RegCTRL1)|flexcan.CTRL1ErrorMask|flexcan.CTRL1BusOffMask)
	}
	return nil
}

// DisableInterrupt disarms the interrupt sources named in mask.
func (d *Driver) DisableInterrupt(id uint8, mask uint16) error {
	c := d.controllerByID(id)
	if c == nil {
		return ErrParam
	}
	if !d.initialized.Load() || c.bus == nil {
		return ErrUninit
	}
	c.imask.Store(c.imask.Load() &^ uint32(mask))

	if mask&(InterruptTx|InterruptRx) != 0 {
		c.bus.Write32(flexcan.RegIMASK1, 0)
		c.bus.Write32(flexcan.RegIMASK2, 0)
	}
	if mask&(InterruptError|InterruptBusOff) != 0 {
		c.bus.Write32(flexcan.RegCTRL1,
			c.bus.Read32(flexcan.RegCTRL1)&^(flexcan.CTRL1ErrorMask|flexcan.CTRL1BusOffMask))
	}
	return nil
}

// GetInterruptStatus returns the low 16 status bits of ESR1.
func (d *Driver) GetInterruptStatus(id uint8) (uint16, error) {
	c := d.controllerByID(id)
	if c == nil {
		return 0, ErrParam
	}
	if !d.initialized.Load() || c.bus == nil {
		return 0, ErrUninit
	}
	return uint16(c.bus.Read32(flexcan.RegESR1) & 0xFFFF), nil
}

// InterruptMask reports the interrupt classes currently armed on a
// controller.
func (d *Driver) InterruptMask(id uint8) (uint16, error) {
	c := d.controllerByID(id)
	if c == nil {
		return 0, ErrParam
	}
	if !d.initialized.Load() {
		return 0, ErrUninit
	}
	return uint16(c.imask.Load()), nil
}

// ClearInterruptFlags acknowledges pending mailbox flags (bit i of mbMask
// clears mailbox i, spanning both banks) and the named latched status bits.
func (d *Driver) ClearInterruptFlags(id uint8, mbMask uint64, status uint16) error {
	c := d.controllerByID(id)
	if c == nil {
		return ErrParam
	}
	if !d.initialized.Load() || c.bus == nil {
		return ErrUninit
	}
	c.bus.Write32(flexcan.RegIFLAG1, uint32(mbMask))
	c.bus.Write32(flexcan.RegIFLAG2, uint32(mbMask>>32))
	c.bus.Write32(flexcan.RegESR1, uint32(status))
	return nil
}

// Callback registration. Each replaces the previous handler for its class.

func (d *Driver) RegisterTxConfirmation(fn TxConfirmation) { d.cb.setTxConfirmation(fn) }

func (d *Driver) RegisterRxIndication(fn RxIndication) { d.cb.setRxIndication(fn) }

func (d *Driver) RegisterBusOffNotification(fn BusOffNotification) { d.cb.setBusOff(fn) }

func (d *Driver) RegisterErrorNotification(fn ErrorNotification) { d.cb.setError(fn) }

// enterFreezeMode requests freeze (FRZ set, HALT clear) and polls the
// acknowledge bit within the configured bound.
func (d *Driver) enterFreezeMode(bus flexcan.Bus) error {
	mcr := bus.Read32(flexcan.RegMCR)
	mcr |= flexcan.MCRFreeze
	mcr &^= flexcan.MCRHalt
	bus.Write32(flexcan.RegMCR, mcr)
	if !d.pollSet(bus, flexcan.RegMCR, flexcan.MCRFreezeAck) {
		return ErrNotOK
	}
	return nil
}

// exitFreezeMode clears FRZ and polls not-ready clearing.
func (d *Driver) exitFreezeMode(bus flexcan.Bus) error {
	mcr := bus.Read32(flexcan.RegMCR)
	bus.Write32(flexcan.RegMCR, mcr&^flexcan.MCRFreeze)
	if !d.pollClear(bus, flexcan.RegMCR, flexcan.MCRNotReady) {
		return ErrNotOK
	}
	return nil
}

// pollSet spins until reg&bit != 0, bounded by the configured iteration
// budget. No wall clock is involved.
func (d *Driver) pollSet(bus flexcan.Bus, reg, bit uint32) bool {
	for i := 0; i < d.cfg.pollBudget(); i++ {
		if bus.Read32(reg)&bit != 0 {
			return true
		}
	}
	return false
}

func (d *Driver) pollClear(bus flexcan.Bus, reg, bit uint32) bool {
	for i := 0; i < d.cfg.pollBudget(); i++ {
		if bus.Read32(reg)&bit == 0 {
			return true
		}
	}
	return false
}

// programBaudrate clears and rewrites the CTRL1 timing fields from a
// profile, applying the hardware minus-one encoding.
func (d *Driver) programBaudrate(bus flexcan.Bus, b *BaudrateConfig) {
	ctrl := bus.Read32(flexcan.RegCTRL1)
	ctrl &^= flexcan.CTRL1TimingMask
	ctrl |= (b.Prescaler - 1) << flexcan.CTRL1PresdivShift
	ctrl |= uint32(b.RJW-1) << flexcan.CTRL1RJWShift
	ctrl |= uint32(b.PS1-1) << flexcan.CTRL1PS1Shift
	ctrl |= uint32(b.PS2-1) << flexcan.CTRL1PS2Shift
	if b.TripleSampling {
		ctrl |= flexcan.CTRL1TripleSample
	}
	bus.Write32(flexcan.RegCTRL1, ctrl)
}

func (d *Driver) refreshErrorCounters(c *controller) {
	ecr := c.bus.Read32(flexcan.RegECR)
	c.txErr.Store((ecr & flexcan.ECRTxErrMask) >> flexcan.ECRTxErrShift)
	c.rxErr.Store((ecr & flexcan.ECRRxErrMask) >> flexcan.ECRRxErrShift)
}
