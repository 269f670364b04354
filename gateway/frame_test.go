package gateway

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/leeyeel/auto-ecu-devkit/can"
)

func TestFrameCodec(t *testing.T) {
	cases := []struct {
		name  string
		frame can.Frame
	}{
		{"standard frame", can.Frame{ID: 0x101, DLC: 4, Data: [8]byte{0xDE, 0xAD, 0xBE, 0xEF}}},
		{"extended frame", can.Frame{IDType: can.Extended, ID: 0x1000001, DLC: 8,
			Data: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}}},
		{"remote-style empty frame", can.Frame{ID: 0x7FF}},
	}

	Convey("frames survive the wire format", t, func() {
		for _, c := range cases {
			Convey(c.name, func() {
				raw, err := marshalFrame(c.frame)
				So(err, ShouldBeNil)
				So(raw, ShouldHaveLength, frameLen)

				got, err := unmarshalFrame(raw)
				So(err, ShouldBeNil)
				So(got, ShouldResemble, c.frame)
			})
		}
	})

	Convey("oversized payloads are refused", t, func() {
		_, err := marshalFrame(can.Frame{ID: 1, DLC: 9})
		So(err, ShouldEqual, errFrameTooLong)
	})

	Convey("short reads are refused", t, func() {
		_, err := unmarshalFrame(make([]byte, 8))
		So(err, ShouldEqual, errFrameTooShort)
	})
}
