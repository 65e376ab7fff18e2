// Package serial opens UART devices for modules driven over a serial line.
package serial

import (
	"io"
	"time"

	"github.com/pkg/errors"
	ser "go.bug.st/serial"
	"go.uber.org/multierr"

	"github.com/envirodiy/loggermodem/utils"
)

// DefaultBaudRate is the rate most AT command modules ship configured for.
const DefaultBaudRate = 9600

// Options to be passed to Open(), closely mirrors ser.Mode.
type Options struct {
	BaudRate int
	DataBits int
	StopBits StopBits
	Parity   Parity
	// ReadTimeout bounds a single Read in milliseconds. Zero blocks until data arrives.
	ReadTimeout int
}

// Parity describes a serial port parity setting.
type Parity int

const (
	// NoParity disable parity control (default).
	NoParity Parity = iota
	// OddParity enable odd-parity check.
	OddParity
	// EvenParity enable even-parity check.
	EvenParity
)

// StopBits describe a serial port stop bits setting.
type StopBits int

const (
	// OneStopBit sets 1 stop bit (default).
	OneStopBit StopBits = iota
	// OnePointFiveStopBits sets 1.5 stop bits.
	OnePointFiveStopBits
	// TwoStopBits sets 2 stop bits.
	TwoStopBits
)

// Config names a serial device.
type Config struct {
	Path     string `json:"path"`
	BaudRate int    `json:"baud_rate,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (conf *Config) Validate(path string) error {
	if conf.Path == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "path")
	}
	if conf.BaudRate < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("invalid baud_rate %d", conf.BaudRate))
	}
	return nil
}

// Options returns 8N1 options at the configured baud rate.
func (conf *Config) Options(readTimeoutMs int) Options {
	baud := conf.BaudRate
	if baud == 0 {
		baud = DefaultBaudRate
	}
	return Options{BaudRate: baud, DataBits: 8, ReadTimeout: readTimeoutMs}
}

// Open attempts to open a serial device on the given path. It's a variable
// in case you need to override it during tests.
var Open = func(devicePath string, options Options) (io.ReadWriteCloser, error) {
	mode := &ser.Mode{
		BaudRate: options.BaudRate,
		Parity:   ser.Parity(options.Parity),
		DataBits: options.DataBits,
		StopBits: ser.StopBits(options.StopBits),
	}

	device, err := ser.Open(devicePath, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "opening serial device %q", devicePath)
	}
	if err := device.SetReadTimeout(time.Duration(options.ReadTimeout) * time.Millisecond); err != nil {
		return nil, multierr.Combine(err, device.Close())
	}
	return device, nil
}

// SetOptions changes the configuration of a serial port already open.
var SetOptions = func(b io.ReadWriteCloser, options Options) error {
	mode := &ser.Mode{
		BaudRate: options.BaudRate,
		Parity:   ser.Parity(options.Parity),
		DataBits: options.DataBits,
		StopBits: ser.StopBits(options.StopBits),
	}
	p, ok := b.(ser.Port)
	if !ok {
		return utils.NewUnexpectedTypeError((*ser.Port)(nil), b)
	}
	return p.SetMode(mode)
}
