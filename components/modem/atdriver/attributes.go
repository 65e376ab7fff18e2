package atdriver

import (
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
)

// Attributes tune the driver's waits. Every value is in milliseconds; zero picks the default.
type Attributes struct {
	// CommandTimeoutMs bounds the reply to an ordinary command.
	CommandTimeoutMs uint32 `json:"command_timeout_ms"`
	// ConnectTimeoutMs bounds opening a TCP connection.
	ConnectTimeoutMs uint32 `json:"connect_timeout_ms"`
	// ReadTimeoutMs bounds the wait for a single byte of the TCP stream.
	ReadTimeoutMs uint32 `json:"read_timeout_ms"`
	// GuardTimeMs is the silence kept around a "+++" escape.
	GuardTimeMs uint32 `json:"guard_time_ms"`
	// PollMs is the pause between reads of an idle line.
	PollMs uint32 `json:"poll_ms"`
	// ReadyAttempts is how often the module is probed before Init gives up.
	ReadyAttempts int `json:"ready_attempts"`
}

// DefaultAttributes are used for anything left unset.
var DefaultAttributes = Attributes{
	CommandTimeoutMs: 1000,
	ConnectTimeoutMs: 75000,
	ReadTimeoutMs:    1000,
	GuardTimeMs:      1000,
	PollMs:           10,
	ReadyAttempts:    3,
}

func (a Attributes) withDefaults() Attributes {
	if a.CommandTimeoutMs == 0 {
		a.CommandTimeoutMs = DefaultAttributes.CommandTimeoutMs
	}
	if a.ConnectTimeoutMs == 0 {
		a.ConnectTimeoutMs = DefaultAttributes.ConnectTimeoutMs
	}
	if a.ReadTimeoutMs == 0 {
		a.ReadTimeoutMs = DefaultAttributes.ReadTimeoutMs
	}
	if a.GuardTimeMs == 0 {
		a.GuardTimeMs = DefaultAttributes.GuardTimeMs
	}
	if a.PollMs == 0 {
		a.PollMs = DefaultAttributes.PollMs
	}
	if a.ReadyAttempts <= 0 {
		a.ReadyAttempts = DefaultAttributes.ReadyAttempts
	}
	return a
}

// DecodeAttributes converts a free-form attribute map, as read from a JSON config, into Attributes.
// Unknown keys are rejected.
func DecodeAttributes(attributes map[string]interface{}) (Attributes, error) {
	var attrs Attributes
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		Result:      &attrs,
		ErrorUnused: true,
	})
	if err != nil {
		return Attributes{}, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return Attributes{}, errors.Wrap(err, "decoding modem attributes")
	}
	return attrs.withDefaults(), nil
}
