package transport

import (
	"go.bug.st/serial"
)

// SerialOpener opens a hardware UART. serial.Port already satisfies Port:
// its Read returns (0, nil) on read timeout.
func SerialOpener(port string, baud int) (Port, error) {
	if baud <= 0 {
		baud = 115200
	}
	p, err := serial.Open(port, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListPorts names the serial devices visible on this machine.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
