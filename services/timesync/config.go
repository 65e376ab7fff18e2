package timesync

import (
	"time"

	"github.com/pkg/errors"

	"github.com/envirodiy/loggermodem/utils"
)

// DefaultInterval is how often the scheduler syncs when no interval is configured.
const DefaultInterval = 24 * time.Hour

// Config holds the zone settings used to reconcile network time with the real-time clock.
type Config struct {
	// Host overrides the TIME server picked from the module's capabilities.
	Host string `json:"host,omitempty"`
	// Port overrides the TIME service port.
	Port uint16 `json:"port,omitempty"`
	// TimeZone is the logger's offset from UTC in hours.
	TimeZone int `json:"time_zone"`
	// RTCOffset is the offset in hours between the logger's zone and the zone the RTC keeps.
	RTCOffset int `json:"rtc_offset"`
	// Interval is a Go duration string for scheduled syncs.
	Interval string `json:"interval,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (conf *Config) Validate(path string) error {
	if conf.TimeZone < -12 || conf.TimeZone > 14 {
		return utils.NewConfigValidationError(path, errors.Errorf("time_zone %d is outside -12..14", conf.TimeZone))
	}
	if conf.RTCOffset < -24 || conf.RTCOffset > 24 {
		return utils.NewConfigValidationError(path, errors.Errorf("rtc_offset %d is outside -24..24", conf.RTCOffset))
	}
	if _, err := conf.SyncInterval(); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	return nil
}

// SyncInterval parses Interval, defaulting to DefaultInterval.
func (conf *Config) SyncInterval() (time.Duration, error) {
	if conf.Interval == "" {
		return DefaultInterval, nil
	}
	interval, err := time.ParseDuration(conf.Interval)
	if err != nil {
		return 0, errors.Wrap(err, "parsing interval")
	}
	if interval < time.Minute {
		return 0, errors.Errorf("interval %s is shorter than a minute", interval)
	}
	return interval, nil
}
