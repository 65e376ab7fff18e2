package modem

import (
	"github.com/pkg/errors"
)

// Credentials are either an access point name for cellular modules or an SSID and passphrase for
// Wi-Fi modules, never both.
type Credentials struct {
	APN      string
	SSID     string
	Password string
}

// WiFi reports whether Wi-Fi credentials are set.
func (c Credentials) WiFi() bool {
	return c.SSID != ""
}

// Validate checks the credentials are usable with caps.
func (c Credentials) Validate(caps Capabilities) error {
	if c.APN != "" && c.SSID != "" {
		return errors.New(`"apn" and "ssid" are mutually exclusive`)
	}
	if c.Password != "" && c.SSID == "" {
		return errors.New(`"password" requires "ssid"`)
	}
	if c.WiFi() && !caps.WiFi() {
		return errors.Errorf("%s modules cannot join Wi-Fi networks", caps.Family)
	}
	if c.APN != "" && !caps.Cellular() {
		return errors.Errorf("%s modules cannot use an access point name", caps.Family)
	}
	if caps.Attach == AttachWiFi && !c.WiFi() {
		return errors.Errorf("%s modules need an ssid", caps.Family)
	}
	return nil
}
