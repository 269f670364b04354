package gateway

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/leeyeel/auto-ecu-devkit/can"
)

// SocketCAN is a raw CAN socket bound to one host interface, with reader
// and writer goroutines pumping frames through channels.
type SocketCAN struct {
	fd   int
	log  can.Logger
	tx   chan can.Frame
	rx   chan can.Frame
	done chan struct{}
}

// NewSocketCAN opens a raw CAN socket on the named interface (e.g. vcan0).
func NewSocketCAN(ifname string, log can.Logger) (*SocketCAN, error) {
	iface, err := net.InterfaceByName(ifname)
	if err != nil {
		return nil, fmt.Errorf("gateway: interface %s: %w", ifname, err)
	}

	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("gateway: raw can socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: iface.Index}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("gateway: bind %s: %w", ifname, err)
	}

	s := &SocketCAN{
		fd:   fd,
		log:  log,
		tx:   make(chan can.Frame),
		rx:   make(chan can.Frame, 64),
		done: make(chan struct{}),
	}
	go s.reader()
	go s.writer()
	return s, nil
}

// Send queues a frame for transmission on the host interface.
func (s *SocketCAN) Send(f can.Frame) error {
	select {
	case s.tx <- f:
		return nil
	case <-s.done:
		return unix.EBADF
	}
}

// Frames returns the inbound frame channel. It is closed when the socket
// closes.
func (s *SocketCAN) Frames() <-chan can.Frame {
	return s.rx
}

// Close shuts the socket down; the reader and writer exit.
func (s *SocketCAN) Close() error {
	close(s.done)
	return unix.Close(s.fd)
}

func (s *SocketCAN) writer() {
	for {
		select {
		case <-s.done:
			return
		case f := <-s.tx:
			raw, err := marshalFrame(f)
			if err != nil {
				s.log.Errorf("gateway: marshal id %#x: %v", f.ID, err)
				continue
			}
			if _, err := unix.Write(s.fd, raw); err != nil {
				s.log.Errorf("gateway: write: %v", err)
			}
		}
	}
}

func (s *SocketCAN) reader() {
	defer close(s.rx)
	raw := make([]byte, frameLen)
	for {
		n, err := unix.Read(s.fd, raw)
		if err != nil {
			select {
			case <-s.done:
			default:
				s.log.Errorf("gateway: read: %v", err)
			}
			return
		}
		f, err := unmarshalFrame(raw[:n])
		if err != nil {
			s.log.Warnf("gateway: %v", err)
			continue
		}
		select {
		case s.rx <- f:
		case <-s.done:
			return
		}
	}
}
