// Package rtc defines the battery backed real-time clock that keeps the logger's time between
// network syncs.
package rtc

import (
	"github.com/pkg/errors"

	"github.com/envirodiy/loggermodem/utils"
)

// Clock is a real-time clock counting whole seconds since the Unix epoch in its own zone.
type Clock interface {
	ReadEpoch() (uint32, error)
	WriteEpoch(epoch uint32) error
}

// The supported clock kinds.
const (
	KindDS3231 = "ds3231"
	KindFake   = "fake"
)

// Config selects the clock.
type Config struct {
	Kind string `json:"kind"`
	// I2CBus names the bus the DS3231 sits on. Empty picks the first bus.
	I2CBus string `json:"i2c_bus,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (conf *Config) Validate(path string) error {
	switch conf.Kind {
	case "":
		return utils.NewConfigValidationFieldRequiredError(path, "kind")
	case KindDS3231, KindFake:
		return nil
	default:
		return utils.NewConfigValidationError(path, errors.Errorf("unknown rtc kind %q", conf.Kind))
	}
}
