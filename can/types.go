// Package can implements the FlexCAN controller driver: controller state
// machine, mailbox management with the hardware lock protocol, the one-shot
// transmit path and the interrupt dispatcher. The driver owns no hardware
// itself; it talks to each controller through a flexcan.Bus, which is the
// real register block on target and a flexsim engine everywhere else.
package can

// IDType distinguishes standard 11-bit from extended 29-bit identifiers.
type IDType uint8

const (
	Standard IDType = iota
	Extended
)

func (t IDType) String() string {
	if t == Extended {
		return "extended"
	}
	return "standard"
}

// Frame is the PDU exchanged with the driver: identifier, data length code
// and payload. Frames handed to callbacks must not be retained mutated.
type Frame struct {
	IDType IDType
	ID     uint32
	DLC    uint8
	Data   [8]byte
}

// ControllerState is the operating mode of one controller. The same values
// are passed to SetControllerMode as the requested mode.
type ControllerState uint8

const (
	StateUninit ControllerState = iota
	StateStopped
	StateStarted
	StateSleep
)

func (s ControllerState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarted:
		return "started"
	case StateSleep:
		return "sleep"
	default:
		return "uninit"
	}
}

// Counters holds a controller's hardware error counters.
type Counters struct {
	TxErrors uint8
	RxErrors uint8
}

// ErrorKind classifies a link-layer error reported through the error
// notification callback. Bus-off has its own notification channel.
type ErrorKind uint8

const (
	ErrorBit ErrorKind = iota
	ErrorStuff
	ErrorCrc
	ErrorAck
	ErrorForm
	ErrorTx
	// ErrorOverload is declared for taxonomy completeness; the dispatcher
	// never produces it.
	ErrorOverload
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorBit:
		return "bit"
	case ErrorStuff:
		return "stuff"
	case ErrorCrc:
		return "crc"
	case ErrorAck:
		return "ack"
	case ErrorForm:
		return "form"
	case ErrorOverload:
		return "overload"
	default:
		return "tx"
	}
}

// Interrupt source classes for EnableInterrupt/DisableInterrupt.
const (
	InterruptTx uint16 = 1 << iota
	InterruptRx
	InterruptError
	InterruptBusOff
	InterruptWakeup
)
