package can

import (
	"fmt"

	"github.com/leeyeel/auto-ecu-devkit/can/flexcan"
)

// mbGuard is a scoped hold on one mailbox's hardware lock. Reading the
// control/status word locks the slot against hardware updates; reading the
// free-running timer releases it. The guard makes the bracket explicit and
// release idempotent, so every exit path can release unconditionally.
type mbGuard struct {
	bus      flexcan.Bus
	mb       int
	cs       flexcan.CSWord
	released bool
}

// lockMailbox acquires the hardware lock on mailbox mb and captures its
// control/status word.
func lockMailbox(bus flexcan.Bus, mb int) *mbGuard {
	return &mbGuard{
		bus: bus,
		mb:  mb,
		cs:  flexcan.CSWord(bus.Read32(flexcan.MBOffset(mb))),
	}
}

// writeCS stores a new control/status word while the lock is held.
func (g *mbGuard) writeCS(cs flexcan.CSWord) {
	g.bus.Write32(flexcan.MBOffset(g.mb), uint32(cs))
	g.cs = cs
}

// release unlocks the mailbox via a timer read. Safe to call more than
// once; only the first call touches the hardware.
func (g *mbGuard) release() {
	if g.released {
		return
	}
	g.released = true
	_ = g.bus.Read32(flexcan.RegTIMER)
}

// ConfigureMessageBuffer programs one hardware slot from its declaration:
// identifier word, control/status word with the declared length, zeroed
// payload. The controller is held in freeze mode for the duration.
func (d *Driver) ConfigureMessageBuffer(id uint8, decl MailboxConfig) error {
	c := d.controllerByID(id)
	if c == nil || int(decl.Index) >= flexcan.MBCount {
		return ErrParam
	}
	if !d.initialized.Load() {
		return ErrUninit
	}
	if c.bus == nil {
		return ErrParam
	}

	if err := d.enterFreezeMode(c.bus); err != nil {
		return err
	}

	mb := int(decl.Index)
	g := lockMailbox(c.bus, mb)
	c.bus.Write32(flexcan.MBIDOffset(mb), flexcan.EncodeID(decl.Extended(), decl.ID))
	c.bus.Write32(flexcan.MBDataOffset(mb, 0), 0)
	c.bus.Write32(flexcan.MBDataOffset(mb, 1), 0)
	g.writeCS(flexcan.NewCSWord(flexcan.CodeInactive, decl.DLC))
	g.release()

	c.mb[mb].configured.Store(true)
	c.mb[mb].busy.Store(false)

	return d.exitFreezeMode(c.bus)
}

// configureAllMessageBuffers walks a controller's declarations in order and
// aborts on the first failure.
func (d *Driver) configureAllMessageBuffers(c *controller) error {
	for i := range c.cfg.Mailboxes {
		decl := &c.cfg.Mailboxes[i]
		if err := d.ConfigureMessageBuffer(c.cfg.ID, *decl); err != nil {
			return fmt.Errorf("mailbox %d: %w", decl.Index, err)
		}
	}
	return nil
}

// MailboxStatus reports the runtime flags of one hardware slot.
func (d *Driver) MailboxStatus(id, index uint8) (busy, configured bool, err error) {
	c := d.controllerByID(id)
	if c == nil || int(index) >= flexcan.MBCount {
		return false, false, ErrParam
	}
	if !d.initialized.Load() {
		return false, false, ErrUninit
	}
	return c.mb[index].busy.Load(), c.mb[index].configured.Load(), nil
}
