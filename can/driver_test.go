package can

import (
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/leeyeel/auto-ecu-devkit/can/flexcan"
	"github.com/leeyeel/auto-ecu-devkit/can/flexsim"
)

// singleController is DefaultConfig trimmed to controller 0 with a small
// poll budget so failing polls run out quickly.
func singleController() *Config {
	cfg := DefaultConfig()
	cfg.Controllers = cfg.Controllers[:1]
	cfg.PollBudget = 16
	return cfg
}

func newTestDriver(opts ...flexsim.Option) (*Driver, *flexsim.Engine) {
	eng := flexsim.New(opts...)
	d, err := NewDriver(singleController(), map[uint32]flexcan.Bus{flexcan.CAN0Base: eng})
	So(err, ShouldBeNil)
	eng.SetInterruptLine(d.IsrController0)
	return d, eng
}

func startDriver(d *Driver) {
	So(d.Init(), ShouldBeNil)
	So(d.InitResult(0), ShouldBeNil)
	So(d.EnableInterrupt(0, InterruptTx|InterruptRx|InterruptError|InterruptBusOff), ShouldBeNil)
	So(d.SetControllerMode(0, StateStarted), ShouldBeNil)
}

func TestDriverLifecycle(t *testing.T) {
	Convey("before Init every operation refuses", t, func() {
		d, _ := newTestDriver()

		state, err := d.GetControllerStatus(0)
		So(err, ShouldBeNil)
		So(state, ShouldEqual, StateUninit)
		So(d.Write(0, &Frame{ID: 0x101}), ShouldEqual, ErrUninit)
		So(d.SetControllerMode(0, StateStarted), ShouldEqual, ErrUninit)
	})

	Convey("Init brings the controller to Stopped", t, func() {
		d, _ := newTestDriver()
		So(d.Init(), ShouldBeNil)
		So(d.InitResult(0), ShouldBeNil)

		state, _ := d.GetControllerStatus(0)
		So(state, ShouldEqual, StateStopped)

		Convey("declared mailboxes are configured and idle", func() {
			for _, idx := range []uint8{0, 1, 8, 9} {
				busy, configured, err := d.MailboxStatus(0, idx)
				So(err, ShouldBeNil)
				So(configured, ShouldBeTrue)
				So(busy, ShouldBeFalse)
			}
		})

		Convey("a second Init is refused", func() {
			So(d.Init(), ShouldEqual, ErrNotOK)
		})

		Convey("mode transitions walk the state machine", func() {
			So(d.SetControllerMode(0, StateStarted), ShouldBeNil)
			state, _ := d.GetControllerStatus(0)
			So(state, ShouldEqual, StateStarted)

			So(d.SetControllerMode(0, StateStopped), ShouldBeNil)
			state, _ = d.GetControllerStatus(0)
			So(state, ShouldEqual, StateStopped)

			So(d.SetControllerMode(0, StateSleep), ShouldBeNil)
			state, _ = d.GetControllerStatus(0)
			So(state, ShouldEqual, StateSleep)

			So(d.SetControllerMode(0, ControllerState(42)), ShouldEqual, ErrParam)
			So(d.SetControllerMode(7, StateStarted), ShouldEqual, ErrParam)
		})

		Convey("DeInit always succeeds and resets everything", func() {
			So(d.DeInit(), ShouldBeNil)
			state, _ := d.GetControllerStatus(0)
			So(state, ShouldEqual, StateUninit)
			So(d.Write(0, &Frame{ID: 0x101}), ShouldEqual, ErrUninit)

			Convey("every other operation reports uninitialized", func() {
				So(d.SetControllerMode(0, StateStarted), ShouldEqual, ErrUninit)

				_, err := d.GetErrorCounters(0)
				So(err, ShouldEqual, ErrUninit)

				So(d.EnableInterrupt(0, InterruptTx), ShouldEqual, ErrUninit)
				So(d.DisableInterrupt(0, InterruptTx), ShouldEqual, ErrUninit)

				_, err = d.GetInterruptStatus(0)
				So(err, ShouldEqual, ErrUninit)
				_, err = d.InterruptMask(0)
				So(err, ShouldEqual, ErrUninit)
				So(d.ClearInterruptFlags(0, 1, 0), ShouldEqual, ErrUninit)

				decl := MailboxConfig{Index: 0, Type: MailboxTx, IDType: "standard", ID: 0x101, DLC: 8}
				So(d.ConfigureMessageBuffer(0, decl), ShouldEqual, ErrUninit)
				_, _, err = d.MailboxStatus(0, 0)
				So(err, ShouldEqual, ErrUninit)

				So(d.CheckWakeup(0), ShouldBeFalse)
			})

			Convey("a fresh Init brings the driver back", func() {
				So(d.Init(), ShouldBeNil)
				So(d.InitResult(0), ShouldBeNil)
				state, _ := d.GetControllerStatus(0)
				So(state, ShouldEqual, StateStopped)
			})
		})
	})
}

func TestInitFailSoft(t *testing.T) {
	Convey("one dead controller does not abort the others", t, func() {
		cfg := DefaultConfig()
		cfg.PollBudget = 16

		good := flexsim.New()
		dead := flexsim.New(flexsim.Unresponsive())
		d, err := NewDriver(cfg, map[uint32]flexcan.Bus{
			flexcan.CAN0Base: good,
			flexcan.CAN1Base: dead,
		})
		So(err, ShouldBeNil)

		So(d.Init(), ShouldBeNil)
		So(d.InitResult(0), ShouldBeNil)
		So(errors.Is(d.InitResult(1), ErrNotOK), ShouldBeTrue)

		state, _ := d.GetControllerStatus(0)
		So(state, ShouldEqual, StateStopped)
		state, _ = d.GetControllerStatus(1)
		So(state, ShouldEqual, StateUninit)
	})

	Convey("a missing bus fails that controller only", t, func() {
		cfg := DefaultConfig()
		d, err := NewDriver(cfg, map[uint32]flexcan.Bus{
			flexcan.CAN0Base: flexsim.New(),
		})
		So(err, ShouldBeNil)

		So(d.Init(), ShouldBeNil)
		So(d.InitResult(0), ShouldBeNil)
		So(errors.Is(d.InitResult(1), ErrParam), ShouldBeTrue)
	})
}

func TestTransmitPath(t *testing.T) {
	Convey("with a started controller", t, func() {
		d, eng := newTestDriver()
		startDriver(d)

		var confirmedCtrl, confirmedMB uint8
		confirmations := 0
		d.RegisterTxConfirmation(func(ctrl, mb uint8) {
			confirmedCtrl, confirmedMB = ctrl, mb
			confirmations++
		})

		frame := &Frame{ID: 0x101, DLC: 4, Data: [8]byte{0xDE, 0xAD, 0xBE, 0xEF}}

		Convey("Write validates its arguments first", func() {
			So(d.Write(0, nil), ShouldEqual, ErrParam)
			So(d.Write(0, &Frame{ID: 0x101, DLC: 9}), ShouldEqual, ErrParam)
			So(d.Write(42, frame), ShouldEqual, ErrParam)
		})

		Convey("Write refuses unless the controller is started", func() {
			So(d.SetControllerMode(0, StateStopped), ShouldBeNil)
			So(d.Write(0, frame), ShouldEqual, ErrNotOK)
		})

		Convey("a queued frame completes through the dispatcher", func() {
			So(d.Write(0, frame), ShouldBeNil)

			busy, _, _ := d.MailboxStatus(0, 0)
			So(busy, ShouldBeTrue)
			So(eng.Locked(), ShouldBeFalse)

			Convey("the slot is occupied until the hardware finishes", func() {
				So(d.Write(0, frame), ShouldEqual, ErrBusy)
			})

			Convey("completion confirms and frees the slot", func() {
				eng.CompleteTransmit(0)

				So(confirmations, ShouldEqual, 1)
				So(confirmedCtrl, ShouldEqual, 0)
				So(confirmedMB, ShouldEqual, 0)

				busy, _, _ := d.MailboxStatus(0, 0)
				So(busy, ShouldBeFalse)
				So(eng.Locked(), ShouldBeFalse)

				Convey("and the slot accepts the next frame", func() {
					So(d.Write(0, frame), ShouldBeNil)
				})
			})
		})

		Convey("handles map to their declared slots in order", func() {
			So(d.Write(1, &Frame{ID: 0x102, DLC: 2}), ShouldBeNil)
			busy, _, _ := d.MailboxStatus(0, 1)
			So(busy, ShouldBeTrue)
			busy, _, _ = d.MailboxStatus(0, 0)
			So(busy, ShouldBeFalse)
		})
	})
}

func TestReceivePath(t *testing.T) {
	Convey("with a started controller", t, func() {
		d, eng := newTestDriver()
		startDriver(d)

		var got []Frame
		d.RegisterRxIndication(func(ctrl uint8, f Frame) {
			So(ctrl, ShouldEqual, 0)
			got = append(got, f)
		})

		Convey("a delivered frame is indicated with its payload", func() {
			eng.Deliver(8, flexcan.EncodeID(false, 0x200), 4, [8]byte{1, 2, 3, 4})

			So(got, ShouldHaveLength, 1)
			So(got[0].ID, ShouldEqual, 0x200)
			So(got[0].IDType, ShouldEqual, Standard)
			So(got[0].DLC, ShouldEqual, 4)
			So(got[0].Data[:4], ShouldResemble, []byte{1, 2, 3, 4})
			So(eng.Locked(), ShouldBeFalse)

			Convey("the mailbox is rearmed for the next frame", func() {
				eng.Deliver(8, flexcan.EncodeID(false, 0x200), 1, [8]byte{9})
				So(got, ShouldHaveLength, 2)
				So(got[1].Data[0], ShouldEqual, 9)
			})
		})

		Convey("an overrun still yields the latest frame", func() {
			So(d.DisableInterrupt(0, InterruptRx|InterruptTx), ShouldBeNil)
			eng.Deliver(8, flexcan.EncodeID(false, 0x200), 1, [8]byte{1})
			eng.Deliver(8, flexcan.EncodeID(false, 0x200), 1, [8]byte{2})
			So(got, ShouldBeEmpty)

			d.IsrController0()
			So(got, ShouldHaveLength, 1)
			So(got[0].Data[0], ShouldEqual, 2)
		})
	})
}

func TestErrorDispatch(t *testing.T) {
	Convey("with a started controller", t, func() {
		d, eng := newTestDriver()
		startDriver(d)

		var kinds []ErrorKind
		busOffs := 0
		d.RegisterErrorNotification(func(ctrl uint8, k ErrorKind) { kinds = append(kinds, k) })
		d.RegisterBusOffNotification(func(ctrl uint8) { busOffs++ })

		Convey("classification picks the most specific error", func() {
			eng.InjectError(flexcan.ESR1ErrInt | flexcan.ESR1AckErr)
			So(kinds, ShouldResemble, []ErrorKind{ErrorAck})
		})

		Convey("bit errors outrank stuff, crc, ack and form", func() {
			eng.InjectError(flexcan.ESR1ErrInt | flexcan.ESR1Bit1Err |
				flexcan.ESR1StuffErr | flexcan.ESR1CrcErr | flexcan.ESR1FormErr)
			So(kinds, ShouldResemble, []ErrorKind{ErrorBit})
		})

		Convey("stuff outranks crc", func() {
			eng.InjectError(flexcan.ESR1ErrInt | flexcan.ESR1StuffErr | flexcan.ESR1CrcErr)
			So(kinds, ShouldResemble, []ErrorKind{ErrorStuff})
		})

		Convey("a bare error interrupt reports a transmit error", func() {
			eng.InjectError(flexcan.ESR1ErrInt)
			So(kinds, ShouldResemble, []ErrorKind{ErrorTx})
		})

		Convey("bus-off suppresses error classification", func() {
			eng.InjectError(flexcan.ESR1BusOffInt | flexcan.ESR1ErrInt | flexcan.ESR1AckErr)
			So(busOffs, ShouldEqual, 1)
			So(kinds, ShouldBeEmpty)
		})

		Convey("latched status clears once serviced", func() {
			eng.InjectError(flexcan.ESR1ErrInt | flexcan.ESR1CrcErr)
			status, err := d.GetInterruptStatus(0)
			So(err, ShouldBeNil)
			So(status&uint16(flexcan.ESR1CrcErr), ShouldEqual, 0)
		})
	})
}

func TestManualBusOffRecovery(t *testing.T) {
	Convey("manual recovery holds the controller in Stopped", t, func() {
		cfg := singleController()
		cfg.Controllers[0].Recovery = RecoveryManual

		eng := flexsim.New()
		d, err := NewDriver(cfg, map[uint32]flexcan.Bus{flexcan.CAN0Base: eng})
		So(err, ShouldBeNil)
		eng.SetInterruptLine(d.IsrController0)

		startDriver(d)
		eng.InjectError(flexcan.ESR1BusOffInt)

		state, _ := d.GetControllerStatus(0)
		So(state, ShouldEqual, StateStopped)

		Convey("an explicit restart resumes operation", func() {
			So(d.SetControllerMode(0, StateStarted), ShouldBeNil)
			state, _ := d.GetControllerStatus(0)
			So(state, ShouldEqual, StateStarted)
		})
	})
}

func TestInterruptControl(t *testing.T) {
	Convey("with a started controller", t, func() {
		d, eng := newTestDriver()
		startDriver(d)

		Convey("the armed classes are queryable", func() {
			mask, err := d.InterruptMask(0)
			So(err, ShouldBeNil)
			So(mask&InterruptTx, ShouldNotEqual, 0)
			So(mask&InterruptRx, ShouldNotEqual, 0)

			So(d.DisableInterrupt(0, InterruptRx), ShouldBeNil)
			mask, _ = d.InterruptMask(0)
			So(mask&InterruptRx, ShouldEqual, 0)
			So(mask&InterruptTx, ShouldNotEqual, 0)

			_, err = d.InterruptMask(9)
			So(err, ShouldEqual, ErrParam)
		})

		Convey("flags in the upper mailbox bank can be cleared", func() {
			So(d.DisableInterrupt(0, InterruptTx|InterruptRx), ShouldBeNil)
			eng.Deliver(40, flexcan.EncodeID(false, 0x500), 0, [8]byte{})
			So(eng.Read32(flexcan.RegIFLAG2)&(1<<8), ShouldNotEqual, 0)

			So(d.ClearInterruptFlags(0, 1<<40, 0), ShouldBeNil)
			So(eng.Read32(flexcan.RegIFLAG2)&(1<<8), ShouldEqual, 0)
		})

		Convey("latched status bits clear independently of mailbox flags", func() {
			So(d.DisableInterrupt(0, InterruptError|InterruptBusOff), ShouldBeNil)
			eng.InjectError(flexcan.ESR1ErrInt | flexcan.ESR1CrcErr)

			status, err := d.GetInterruptStatus(0)
			So(err, ShouldBeNil)
			So(status&uint16(flexcan.ESR1CrcErr), ShouldNotEqual, 0)

			So(d.ClearInterruptFlags(0, 0, uint16(flexcan.ESR1ErrInt|flexcan.ESR1CrcErr)), ShouldBeNil)
			status, _ = d.GetInterruptStatus(0)
			So(status&uint16(flexcan.ESR1CrcErr), ShouldEqual, 0)
		})
	})
}

func TestErrorCounters(t *testing.T) {
	Convey("counters mirror the hardware register", t, func() {
		d, eng := newTestDriver()
		startDriver(d)

		eng.SetErrorCounters(12, 34)
		counters, err := d.GetErrorCounters(0)
		So(err, ShouldBeNil)
		So(counters.TxErrors, ShouldEqual, 12)
		So(counters.RxErrors, ShouldEqual, 34)

		So(func() { d.GetErrorCounters(9) }, ShouldNotPanic)
		_, err = d.GetErrorCounters(9)
		So(err, ShouldEqual, ErrParam)
	})
}

func TestWakeup(t *testing.T) {
	Convey("a wake event reports once and clears", t, func() {
		d, eng := newTestDriver()
		startDriver(d)
		So(d.SetControllerMode(0, StateSleep), ShouldBeNil)

		So(d.CheckWakeup(0), ShouldBeFalse)
		eng.InjectError(flexcan.ESR1WakeInt)
		So(d.CheckWakeup(0), ShouldBeTrue)
		So(d.CheckWakeup(0), ShouldBeFalse)
	})
}

func TestCallbackRegistry(t *testing.T) {
	Convey("registration replaces and DeInit clears", t, func() {
		d, eng := newTestDriver()
		startDriver(d)

		first, second := 0, 0
		d.RegisterRxIndication(func(uint8, Frame) { first++ })
		d.RegisterRxIndication(func(uint8, Frame) { second++ })

		eng.Deliver(8, flexcan.EncodeID(false, 0x200), 0, [8]byte{})
		So(first, ShouldEqual, 0)
		So(second, ShouldEqual, 1)

		Convey("no handler means the event is dropped, not a panic", func() {
			d.RegisterRxIndication(nil)
			So(func() {
				eng.Deliver(8, flexcan.EncodeID(false, 0x200), 0, [8]byte{})
			}, ShouldNotPanic)
			So(second, ShouldEqual, 1)
		})
	})
}
