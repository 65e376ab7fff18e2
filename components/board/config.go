package board

import (
	"github.com/pkg/errors"

	"github.com/envirodiy/loggermodem/utils"
)

// The supported board kinds.
const (
	KindPeriph = "periph"
	KindFake   = "fake"
)

// Config selects the digital I/O implementation.
type Config struct {
	Kind string `json:"kind"`
}

// Validate ensures all parts of the config are valid.
func (config *Config) Validate(path string) error {
	switch config.Kind {
	case "":
		return utils.NewConfigValidationFieldRequiredError(path, "kind")
	case KindPeriph, KindFake:
		return nil
	default:
		return utils.NewConfigValidationError(path, errors.Errorf("unknown board kind %q", config.Kind))
	}
}
