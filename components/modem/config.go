package modem

import (
	"github.com/pkg/errors"

	"github.com/envirodiy/loggermodem/components/board"
	"github.com/envirodiy/loggermodem/components/modem/power"
	"github.com/envirodiy/loggermodem/serial"
	"github.com/envirodiy/loggermodem/utils"
)

// PinsConfig holds the optional pin numbers. An omitted pin is unassigned.
type PinsConfig struct {
	Power  *int `json:"power,omitempty"`
	Enable *int `json:"enable,omitempty"`
	Status *int `json:"status,omitempty"`
}

func toPin(p *int) board.Pin {
	if p == nil {
		return board.Unassigned
	}
	return board.Pin(*p)
}

// Pins converts the configured numbers to a pin binding.
func (pc PinsConfig) Pins() power.Pins {
	return power.Pins{Power: toPin(pc.Power), Enable: toPin(pc.Enable), Status: toPin(pc.Status)}
}

// Config describes the attached module.
type Config struct {
	Family     string         `json:"family"`
	SleepStyle string         `json:"sleep_style,omitempty"`
	Pins       PinsConfig     `json:"pins"`
	APN        string         `json:"apn,omitempty"`
	SSID       string         `json:"ssid,omitempty"`
	Password   string         `json:"password,omitempty"`
	Serial     *serial.Config `json:"serial,omitempty"`
	// Attributes are passed to the module's driver, which decodes them into its own settings.
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (conf *Config) Validate(path string) error {
	if conf.Family == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "family")
	}
	caps, err := LookupFamily(conf.Family)
	if err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	style, err := conf.sleepStyle()
	if err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	for name, p := range map[string]*int{"power": conf.Pins.Power, "enable": conf.Pins.Enable, "status": conf.Pins.Status} {
		if p != nil && *p < 0 {
			return utils.NewConfigValidationError(path, errors.Errorf("pins.%s must not be negative, got %d", name, *p))
		}
	}
	if style == power.Pulsed && conf.Pins.Enable == nil {
		return utils.NewConfigValidationFieldRequiredError(path, "pins.enable")
	}
	if err := conf.credentials().Validate(caps); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	if conf.Serial != nil {
		if caps.Attach == AttachHost {
			return utils.NewConfigValidationError(path, errors.New("host network modules do not use a serial line"))
		}
		return conf.Serial.Validate(path + ".serial")
	}
	return nil
}

// sleepStyle defaults to held when an enable pin is wired and to always_on otherwise.
func (conf *Config) sleepStyle() (power.SleepStyle, error) {
	if conf.SleepStyle == "" {
		if conf.Pins.Enable == nil {
			return power.AlwaysOn, nil
		}
		return power.Held, nil
	}
	return power.ParseSleepStyle(conf.SleepStyle)
}

func (conf *Config) credentials() Credentials {
	return Credentials{APN: conf.APN, SSID: conf.SSID, Password: conf.Password}
}

// Options converts a validated config into modem options.
func (conf *Config) Options() (Options, error) {
	caps, err := LookupFamily(conf.Family)
	if err != nil {
		return Options{}, err
	}
	style, err := conf.sleepStyle()
	if err != nil {
		return Options{}, err
	}
	return Options{
		Capabilities: caps,
		SleepStyle:   style,
		Pins:         conf.Pins.Pins(),
		Credentials:  conf.credentials(),
	}, nil
}
