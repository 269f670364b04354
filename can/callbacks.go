package can

import "sync"

// Callback signatures for the four event classes.
type (
	TxConfirmation     func(controller, mailbox uint8)
	RxIndication       func(controller uint8, frame Frame)
	BusOffNotification func(controller uint8)
	ErrorNotification  func(controller uint8, kind ErrorKind)
)

// Callbacks is the handler registry owned by one Driver instance. At most
// one handler per event class; registering replaces the previous handler,
// registering nil clears it. DeInit clears the whole registry.
type Callbacks struct {
	mu     sync.RWMutex
	txConf TxConfirmation
	rxInd  RxIndication
	busOff BusOffNotification
	errNot ErrorNotification
}

func (c *Callbacks) setTxConfirmation(fn TxConfirmation) {
	c.mu.Lock()
	c.txConf = fn
	c.mu.Unlock()
}

func (c *Callbacks) setRxIndication(fn RxIndication) {
	c.mu.Lock()
	c.rxInd = fn
	c.mu.Unlock()
}

func (c *Callbacks) setBusOff(fn BusOffNotification) {
	c.mu.Lock()
	c.busOff = fn
	c.mu.Unlock()
}

func (c *Callbacks) setError(fn ErrorNotification) {
	c.mu.Lock()
	c.errNot = fn
	c.mu.Unlock()
}

func (c *Callbacks) clear() {
	c.mu.Lock()
	c.txConf, c.rxInd, c.busOff, c.errNot = nil, nil, nil, nil
	c.mu.Unlock()
}

func (c *Callbacks) notifyTx(controller, mailbox uint8) {
	c.mu.RLock()
	fn := c.txConf
	c.mu.RUnlock()
	if fn != nil {
		fn(controller, mailbox)
	}
}

func (c *Callbacks) notifyRx(controller uint8, frame Frame) {
	c.mu.RLock()
	fn := c.rxInd
	c.mu.RUnlock()
	if fn != nil {
		fn(controller, frame)
	}
}

func (c *Callbacks) notifyBusOff(controller uint8) {
	c.mu.RLock()
	fn := c.busOff
	c.mu.RUnlock()
	if fn != nil {
		fn(controller)
	}
}

func (c *Callbacks) notifyError(controller uint8, kind ErrorKind) {
	c.mu.RLock()
	fn := c.errNot
	c.mu.RUnlock()
	if fn != nil {
		fn(controller, kind)
	}
}
