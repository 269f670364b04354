package trace

import (
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/leeyeel/auto-ecu-devkit/can"
)

func openTestRecorder(t *testing.T) *Recorder {
	r, err := Open(filepath.Join(t.TempDir(), "trace.db"), nil)
	So(err, ShouldBeNil)
	return r
}

func TestRecorder(t *testing.T) {
	Convey("events are persisted and read back newest first", t, func() {
		r := openTestRecorder(t)
		defer r.Close()

		r.TxConfirmed(0, 1)
		r.RxIndicated(0, can.Frame{ID: 0x200, DLC: 2, Data: [8]byte{0xCA, 0xFE}})
		r.BusOff(1)
		r.DriverError(1, can.ErrorAck)

		events, err := r.Recent(10)
		So(err, ShouldBeNil)
		So(events, ShouldHaveLength, 4)
		So(events[0].Kind, ShouldEqual, KindError)
		So(events[0].Detail, ShouldEqual, "ack")
		So(events[3].Kind, ShouldEqual, KindTx)
		So(events[3].Mailbox, ShouldEqual, 1)

		Convey("payloads are captured up to the frame length", func() {
			var rx Event
			for _, ev := range events {
				if ev.Kind == KindRx {
					rx = ev
				}
			}
			So(rx.FrameID, ShouldEqual, 0x200)
			So(rx.Data, ShouldResemble, []byte{0xCA, 0xFE})
		})

		Convey("Recent truncates to the requested count", func() {
			events, err := r.Recent(2)
			So(err, ShouldBeNil)
			So(events, ShouldHaveLength, 2)
			So(events[0].Kind, ShouldEqual, KindError)
		})

		Convey("ByKind filters", func() {
			events, err := r.ByKind(KindBusOff, 10)
			So(err, ShouldBeNil)
			So(events, ShouldHaveLength, 1)
			So(events[0].Controller, ShouldEqual, 1)
		})
	})
}
