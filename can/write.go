package can

import "github.com/leeyeel/auto-ecu-devkit/can/flexcan"

// Write queues a frame on the transmit object named by hoh. The slot's
// hardware lock is held across the identifier/payload/control-word sequence
// and released on every exit path. A slot whose code is neither Inactive
// nor TxInactive is occupied and the call returns ErrBusy without touching
// the frame registers.
func (d *Driver) Write(hoh uint8, frame *Frame) error {
	if frame == nil || frame.DLC > 8 {
		return ErrParam
	}
	if !d.initialized.Load() {
		return ErrUninit
	}
	if int(hoh) >= len(d.hoh) {
		return ErrParam
	}
	h := d.hoh[hoh]

	c := d.controllerByID(h.controller)
	if c == nil || c.bus == nil {
		return ErrParam
	}
	if c.getState() != StateStarted {
		return ErrNotOK
	}

	mb := int(h.mailbox)
	g := lockMailbox(c.bus, mb)
	defer g.release()

	switch g.cs.Code() {
	case flexcan.CodeInactive, flexcan.CodeTxInactive:
	default:
		return ErrBusy
	}

	c.bus.Write32(flexcan.MBIDOffset(mb),
		flexcan.EncodeID(frame.IDType == Extended, frame.ID))
	w0, w1 := flexcan.PackData(frame.Data)
	c.bus.Write32(flexcan.MBDataOffset(mb, 0), w0)
	c.bus.Write32(flexcan.MBDataOffset(mb, 1), w1)

	c.mb[mb].busy.Store(true)
	g.writeCS(flexcan.NewCSWord(flexcan.CodeTxData, frame.DLC))

	d.log.Debugf("can: controller %d mailbox %d tx id=%#x dlc=%d",
		h.controller, mb, frame.ID, frame.DLC)
	return nil
}
