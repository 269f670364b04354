package gateway

import (
	"github.com/leeyeel/auto-ecu-devkit/can"
	"github.com/leeyeel/auto-ecu-devkit/can/flexcan"
	"github.com/leeyeel/auto-ecu-devkit/can/flexsim"
)

// FrameBus is a full-duplex frame pipe to the outside world. SocketCAN
// implements it on linux; tests supply their own.
type FrameBus interface {
	Send(can.Frame) error
	Frames() <-chan can.Frame
	Close() error
}

// Bridge couples one simulated engine to a FrameBus. One-shot transmissions
// started in the engine are sent out and completed; inbound frames are
// delivered into the first matching receive mailbox.
type Bridge struct {
	eng  *flexsim.Engine
	bus  FrameBus
	log  can.Logger
	done chan struct{}
}

// NewBridge wires the engine's transmit observer. Call Start to begin
// pumping inbound frames.
func NewBridge(eng *flexsim.Engine, bus FrameBus, log can.Logger) *Bridge {
	b := &Bridge{
		eng:  eng,
		bus:  bus,
		log:  log,
		done: make(chan struct{}),
	}
	eng.SetOnTransmit(b.forward)
	return b
}

// Start launches the inbound pump.
func (b *Bridge) Start() {
	go b.pump()
}

// Stop halts the inbound pump. The FrameBus is not closed; its owner does
// that.
func (b *Bridge) Stop() {
	close(b.done)
}

func (b *Bridge) forward(ev flexsim.TxEvent) {
	ext, id := flexcan.DecodeID(ev.IDWord)
	f := can.Frame{ID: id, DLC: ev.DLC, Data: ev.Data}
	if ext {
		f.IDType = can.Extended
	}

	if err := b.bus.Send(f); err != nil {
		b.log.Errorf("gateway: send id %#x: %v", f.ID, err)
		return
	}
	b.eng.CompleteTransmit(ev.Mailbox)
}

func (b *Bridge) pump() {
	for {
		select {
		case <-b.done:
			return
		case f, ok := <-b.bus.Frames():
			if !ok {
				return
			}
			idWord := flexcan.EncodeID(f.IDType == can.Extended, f.ID)
			if !b.eng.DeliverMatching(idWord, f.DLC, f.Data) {
				b.log.Debugf("gateway: no mailbox accepts id %#x", f.ID)
			}
		}
	}
}
