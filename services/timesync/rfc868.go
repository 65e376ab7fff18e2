package timesync

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// RFC 868 TIME protocol constants.
const (
	// Port is the TIME service port.
	Port = 37
	// SecondsFrom1900To1970 converts the protocol's 1900 based count to the Unix epoch.
	SecondsFrom1900To1970 = 2208988800
)

// Reported times outside [MinValidEpoch, MaxValidEpoch) are treated as garbage.
const (
	MinValidEpoch = 1483228800 // 2017-01-01T00:00:00Z
	MaxValidEpoch = 1893456000 // 2030-01-01T00:00:00Z
)

// ErrTimeOutOfRange is returned when the server answered with an implausible time.
var ErrTimeOutOfRange = errors.New("network time out of range")

// DecodeTime reads four big-endian bytes of seconds since 1900 and returns seconds since 1970.
// The subtraction wraps for values before 1970.
func DecodeTime(b [4]byte) uint32 {
	return binary.BigEndian.Uint32(b[:]) - SecondsFrom1900To1970
}

// ValidEpoch reports whether epoch lies in the plausible window.
func ValidEpoch(epoch uint32) bool {
	return epoch >= MinValidEpoch && epoch < MaxValidEpoch
}

// ParseTime decodes a TIME reply. It returns 0 and ErrTimeOutOfRange for implausible times.
func ParseTime(b [4]byte) (uint32, error) {
	epoch := DecodeTime(b)
	if !ValidEpoch(epoch) {
		return 0, errors.Wrapf(ErrTimeOutOfRange, "got %d", epoch)
	}
	return epoch, nil
}
