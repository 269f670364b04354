// Package trace persists driver events to an embedded database so a bench
// session can be inspected after the fact. Each confirmation, indication,
// bus-off and error notification becomes one Event row.
package trace

import (
	"time"

	"github.com/asdine/storm/v3"

	"github.com/leeyeel/auto-ecu-devkit/can"
)

// Event kinds.
const (
	KindTx     = "tx"
	KindRx     = "rx"
	KindBusOff = "busoff"
	KindError  = "error"
)

// Event is one recorded driver event.
type Event struct {
	Pk         int       `storm:"id,increment"`
	At         time.Time `storm:"index"`
	Kind       string    `storm:"index"`
	Controller uint8
	Mailbox    uint8
	FrameID    uint32
	Extended   bool
	DLC        uint8
	Data       []byte
	Detail     string
}

// Recorder writes events to a storm database.
type Recorder struct {
	db  *storm.DB
	log can.Logger
}

// Open creates or reopens the trace database at path.
func Open(path string, log can.Logger) (*Recorder, error) {
	db, err := storm.Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.Init(&Event{}); err != nil {
		db.Close()
		return nil, err
	}
	return &Recorder{db: db, log: log}, nil
}

// Close flushes and closes the database.
func (r *Recorder) Close() error {
	return r.db.Close()
}

// Attach registers the recorder on all four of the driver's callback
// classes. Any handler registered before is replaced.
func (r *Recorder) Attach(d *can.Driver) {
	d.RegisterTxConfirmation(r.TxConfirmed)
	d.RegisterRxIndication(r.RxIndicated)
	d.RegisterBusOffNotification(r.BusOff)
	d.RegisterErrorNotification(r.DriverError)
}

// TxConfirmed records a completed one-shot transmission.
func (r *Recorder) TxConfirmed(controller, mailbox uint8) {
	r.save(&Event{
		Kind:       KindTx,
		Controller: controller,
		Mailbox:    mailbox,
	})
}

// RxIndicated records a received frame.
func (r *Recorder) RxIndicated(controller uint8, frame can.Frame) {
	data := make([]byte, frame.DLC)
	copy(data, frame.Data[:frame.DLC])
	r.save(&Event{
		Kind:       KindRx,
		Controller: controller,
		FrameID:    frame.ID,
		Extended:   frame.IDType == can.Extended,
		DLC:        frame.DLC,
		Data:       data,
	})
}

// BusOff records a bus-off notification.
func (r *Recorder) BusOff(controller uint8) {
	r.save(&Event{Kind: KindBusOff, Controller: controller})
}

// DriverError records a classified link-layer error.
func (r *Recorder) DriverError(controller uint8, kind can.ErrorKind) {
	r.save(&Event{
		Kind:       KindError,
		Controller: controller,
		Detail:     kind.String(),
	})
}

// Recent returns up to n events, newest first.
func (r *Recorder) Recent(n int) ([]Event, error) {
	var events []Event
	err := r.db.All(&events, storm.Limit(n), storm.Reverse())
	return events, err
}

// ByKind returns up to n events of one kind, newest first.
func (r *Recorder) ByKind(kind string, n int) ([]Event, error) {
	var events []Event
	err := r.db.Find("Kind", kind, &events, storm.Limit(n), storm.Reverse())
	return events, err
}

func (r *Recorder) save(ev *Event) {
	ev.At = time.Now()
	if err := r.db.Save(ev); err != nil && r.log != nil {
		r.log.Errorf("trace: save %s event: %v", ev.Kind, err)
	}
}
