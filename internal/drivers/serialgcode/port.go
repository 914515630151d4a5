package serialgcode

import (
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

type Config struct {
	Device string
	Baud   int
	Speed  int

	// ReadTimeout bounds the wait for the "ok" of a single command.
	ReadTimeout time.Duration
}

// Opener opens the port described by cfg.
type Opener func(cfg Config) (io.ReadWriteCloser, error)

// OpenSerial opens a native serial port.
func OpenSerial(cfg Config) (io.ReadWriteCloser, error) {
	// reads must return periodically so a cancelled context is noticed
	serialConfig := &serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: 100 * time.Millisecond,
	}

	port, err := serial.OpenPort(serialConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Device, err)
	}
	return port, nil
}
