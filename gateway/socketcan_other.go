//go:build !linux

package gateway

import (
	"errors"

	"github.com/leeyeel/auto-ecu-devkit/can"
)

// SocketCAN requires the linux CAN stack; on other platforms it cannot be
// opened.
type SocketCAN struct{}

func NewSocketCAN(ifname string, log can.Logger) (*SocketCAN, error) {
	return nil, errors.New("gateway: socketcan is only available on linux")
}

func (s *SocketCAN) Send(can.Frame) error     { return errors.New("gateway: socket not open") }
func (s *SocketCAN) Frames() <-chan can.Frame { return nil }
func (s *SocketCAN) Close() error             { return nil }
