package rig

import (
	"github.com/pkg/errors"
	"go.bug.st/serial"
)

// SerialRig drives a transmitter's key and ATU-start lines over a serial
// port's RTS/DTR control signals, the same approach as RigControl's
// write_request_to_send/write_data_terminal_ready pair. Which signal keys
// the transmitter is configurable since different rigs wire this
// differently in practice.
type SerialRig struct {
	port         serial.Port
	useRTSForKey bool
}

// OpenSerialRig opens portName at baud and returns a SerialRig ready to
// assert/release the key and ATU lines. useRTSForKey selects which control
// signal keys the transmitter; the other signal drives StartATU.
func OpenSerialRig(portName string, baud int, useRTSForKey bool) (*SerialRig, error) {
	mode := &serial.Mode{BaudRate: baud}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "rig: open %s", portName)
	}
	return &SerialRig{port: port, useRTSForKey: useRTSForKey}, nil
}

// AssertKey implements Keyer.
func (r *SerialRig) AssertKey(down bool) {
	if r.useRTSForKey {
		_ = r.port.SetRTS(down)
		return
	}
	_ = r.port.SetDTR(down)
}

// StartATU implements ATUStarter by pulsing whichever line is not used for
// keying, matching RigControl::assert_atu.
func (r *SerialRig) StartATU() {
	if r.useRTSForKey {
		_ = r.port.SetDTR(true)
		_ = r.port.SetDTR(false)
		return
	}
	_ = r.port.SetRTS(true)
	_ = r.port.SetRTS(false)
}

// Close releases the underlying serial port.
func (r *SerialRig) Close() error {
	return r.port.Close()
}
