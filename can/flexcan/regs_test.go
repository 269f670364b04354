package flexcan

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestIdentifierWords(t *testing.T) {
	cases := []struct {
		name     string
		extended bool
		id       uint32
		word     uint32
	}{
		{"standard diagnostic id", false, 0x101, 0x101 << IDStdShift},
		{"standard max", false, 0x7FF, 0x7FF << IDStdShift},
		{"extended gateway id", true, 0x1000001, 0x1000001 | IDExtFlag},
		{"extended max", true, 0x1FFFFFFF, 0x1FFFFFFF | IDExtFlag},
	}

	Convey("identifier words round trip", t, func() {
		for _, c := range cases {
			Convey(c.name, func() {
				word := EncodeID(c.extended, c.id)
				So(word, ShouldEqual, c.word)

				ext, id := DecodeID(word)
				So(ext, ShouldEqual, c.extended)
				So(id, ShouldEqual, c.id)
			})
		}
	})

	Convey("a standard word never carries the extended flag", t, func() {
		So(EncodeID(false, 0x7FF)&IDExtFlag, ShouldEqual, 0)
	})
}

func TestCSWord(t *testing.T) {
	Convey("control words carry code and length", t, func() {
		w := NewCSWord(CodeTxData, 8)
		So(w.Code(), ShouldEqual, CodeTxData)
		So(w.DLC(), ShouldEqual, 8)

		Convey("replacing the code keeps the length", func() {
			w = w.WithCode(CodeTxInactive)
			So(w.Code(), ShouldEqual, CodeTxInactive)
			So(w.DLC(), ShouldEqual, 8)
		})
	})
}

func TestPayloadWords(t *testing.T) {
	Convey("payload byte 0 lands in the top byte of word 0", t, func() {
		data := [8]byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02, 0x03, 0x04}
		w0, w1 := PackData(data)
		So(w0, ShouldEqual, uint32(0xDEADBEEF))
		So(w1, ShouldEqual, uint32(0x01020304))
		So(UnpackData(w0, w1), ShouldResemble, data)
	})
}

func TestMailboxOffsets(t *testing.T) {
	Convey("mailboxes are 16 bytes apart from 0x80", t, func() {
		So(MBOffset(0), ShouldEqual, 0x80)
		So(MBOffset(1), ShouldEqual, 0x90)
		So(MBOffset(63), ShouldEqual, 0x80+63*16)
		So(MBIDOffset(8), ShouldEqual, MBOffset(8)+4)
		So(MBDataOffset(8, 1), ShouldEqual, MBOffset(8)+12)
	})
}
