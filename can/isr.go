package can

import "github.com/leeyeel/auto-ecu-devkit/can/flexcan"

// IsrController0 is the interrupt service entry for controller 0. Wire it
// to the interrupt line of the controller's bus.
func (d *Driver) IsrController0() { d.serviceInterrupt(0) }

// IsrController1 is the interrupt service entry for controller 1.
func (d *Driver) IsrController1() { d.serviceInterrupt(1) }

// serviceInterrupt drains one controller's pending events: latched status
// is snapshotted and acknowledged, flagged mailboxes are serviced, then the
// status snapshot is classified. Unknown flags are cleared without further
// action so a stuck line cannot wedge the dispatcher.
func (d *Driver) serviceInterrupt(id uint8) {
	c := d.controllerByID(id)
	if c == nil || c.bus == nil || !d.initialized.Load() {
		return
	}

	// Snapshot latched status first and acknowledge it; the wakeup bit is
	// left for CheckWakeup.
	esr := c.bus.Read32(flexcan.RegESR1)
	latched := esr & (flexcan.ESR1BusOffInt | flexcan.ESR1AnyErr)
	if latched != 0 {
		c.bus.Write32(flexcan.RegESR1, latched)
	}

	if flags := c.bus.Read32(flexcan.RegIFLAG1); flags != 0 {
		for i := 0; i < 32; i++ {
			if flags&(1<<uint(i)) == 0 {
				continue
			}
			d.serviceMailbox(c, i)
			c.bus.Write32(flexcan.RegIFLAG1, 1<<uint(i))
		}
	}
	if flags := c.bus.Read32(flexcan.RegIFLAG2); flags != 0 {
		for i := 0; i < 32; i++ {
			if flags&(1<<uint(i)) == 0 {
				continue
			}
			d.serviceMailbox(c, 32+i)
			c.bus.Write32(flexcan.RegIFLAG2, 1<<uint(i))
		}
	}

	if latched != 0 {
		d.processError(c, esr)
	}
}

// serviceMailbox handles one flagged slot under its hardware lock. Transmit
// completions clear the busy flag and confirm; received frames are copied
// out and the slot freed before the indication runs.
func (d *Driver) serviceMailbox(c *controller, mb int) {
	g := lockMailbox(c.bus, mb)

	switch g.cs.Code() {
	case flexcan.CodeInactive, flexcan.CodeTxInactive:
		c.mb[mb].busy.Store(false)
		g.release()
		d.cb.notifyTx(c.cfg.ID, uint8(mb))

	case flexcan.CodeRxFull, flexcan.CodeRxOverrun:
		if g.cs.Code() == flexcan.CodeRxOverrun {
			d.log.Warnf("can: controller %d mailbox %d overrun", c.cfg.ID, mb)
		}
		idWord := c.bus.Read32(flexcan.MBIDOffset(mb))
		dlc := g.cs.DLC()
		if dlc > 8 {
			dlc = 8
		}
		w0 := c.bus.Read32(flexcan.MBDataOffset(mb, 0))
		w1 := c.bus.Read32(flexcan.MBDataOffset(mb, 1))

		raw := flexcan.UnpackData(w0, w1)
		frame := Frame{DLC: dlc}
		copy(frame.Data[:dlc], raw[:dlc])
		ext, fid := flexcan.DecodeID(idWord)
		frame.ID = fid
		if ext {
			frame.IDType = Extended
		}

		g.writeCS(g.cs.WithCode(flexcan.CodeInactive))
		g.release()
		d.cb.notifyRx(c.cfg.ID, frame)

	default:
		g.release()
	}
}

// processError turns latched ESR1 status into notifications. Bus-off
// dominates: while the controller is off the bus, individual error bits are
// not classified. Otherwise one error kind is reported, most specific
// first.
func (d *Driver) processError(c *controller, esr uint32) {
	defer d.refreshErrorCounters(c)

	if esr&flexcan.ESR1BusOffInt != 0 {
		d.log.Warnf("can: controller %d bus-off", c.cfg.ID)
		if c.cfg.Recovery == RecoveryManual {
			c.setState(StateStopped)
		}
		d.cb.notifyBusOff(c.cfg.ID)
		return
	}

	var kind ErrorKind
	switch {
	case esr&(flexcan.ESR1Bit1Err|flexcan.ESR1Bit0Err) != 0:
		kind = ErrorBit
	case esr&flexcan.ESR1StuffErr != 0:
		kind = ErrorStuff
	case esr&flexcan.ESR1CrcErr != 0:
		kind = ErrorCrc
	case esr&flexcan.ESR1AckErr != 0:
		kind = ErrorAck
	case esr&flexcan.ESR1FormErr != 0:
		kind = ErrorForm
	default:
		kind = ErrorTx
	}
	d.log.Debugf("can: controller %d %s error", c.cfg.ID, kind)
	d.cb.notifyError(c.cfg.ID, kind)
}
