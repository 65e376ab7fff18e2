// Package ds3231 drives a Maxim DS3231 real-time clock over I2C.
package ds3231

import (
	"time"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/envirodiy/loggermodem/components/rtc"
	"github.com/envirodiy/loggermodem/logging"
)

// Addr is the fixed bus address of the DS3231.
const Addr = 0x68

// The time registers start at 0x00: seconds, minutes, hours, weekday, date, month, year.
const (
	regSeconds = 0x00
	timeRegs   = 7

	hour12Mode  = 0x40
	hourPM      = 0x20
	centuryBit  = 0x80
	minEpoch    = 946684800 // 2000-01-01T00:00:00Z
	baseYear    = 2000
	centuryYear = 2100
)

var _ rtc.Clock = (*DS3231)(nil)

// DS3231 is an rtc.Clock.
type DS3231 struct {
	dev    *i2c.Dev
	bus    i2c.Bus
	logger logging.Logger
}

// New returns a clock on bus.
func New(bus i2c.Bus, logger logging.Logger) *DS3231 {
	return &DS3231{dev: &i2c.Dev{Bus: bus, Addr: Addr}, bus: bus, logger: logger}
}

// Open initializes the host drivers and opens the named I2C bus. An empty name opens the first bus.
func Open(busName string, logger logging.Logger) (*DS3231, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "initializing host drivers")
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, errors.Wrapf(err, "opening i2c bus %q", busName)
	}
	logger.Debugw("opened rtc bus", "bus", bus.String())
	return New(bus, logger), nil
}

// Close closes the bus if it was opened by Open.
func (d *DS3231) Close() error {
	if closer, ok := d.bus.(i2c.BusCloser); ok {
		return closer.Close()
	}
	return nil
}

func fromBCD(b byte) (int, error) {
	hi, lo := b>>4, b&0x0f
	if hi > 9 || lo > 9 {
		return 0, errors.Errorf("invalid bcd value %#02x", b)
	}
	return int(hi)*10 + int(lo), nil
}

func toBCD(v int) byte {
	return byte(v/10)<<4 | byte(v%10)
}

func decodeHour(b byte) (int, error) {
	if b&hour12Mode == 0 {
		return fromBCD(b & 0x3f)
	}
	h, err := fromBCD(b & 0x1f)
	if err != nil {
		return 0, err
	}
	h %= 12
	if b&hourPM != 0 {
		h += 12
	}
	return h, nil
}

// decode converts the time registers to a timestamp.
func decode(regs []byte) (time.Time, error) {
	var firstErr error
	bcd := func(b byte) int {
		v, err := fromBCD(b)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return v
	}
	sec := bcd(regs[0] & 0x7f)
	minute := bcd(regs[1] & 0x7f)
	day := bcd(regs[4] & 0x3f)
	month := bcd(regs[5] & 0x1f)
	year := baseYear + bcd(regs[6])
	if firstErr != nil {
		return time.Time{}, firstErr
	}
	hour, err := decodeHour(regs[2])
	if err != nil {
		return time.Time{}, err
	}
	if regs[5]&centuryBit != 0 {
		year += 100
	}
	return time.Date(year, time.Month(month), day, hour, minute, sec, 0, time.UTC), nil
}

func encode(t time.Time) []byte {
	month := toBCD(int(t.Month()))
	year := t.Year() - baseYear
	if t.Year() >= centuryYear {
		month |= centuryBit
		year -= 100
	}
	return []byte{
		toBCD(t.Second()),
		toBCD(t.Minute()),
		toBCD(t.Hour()),
		byte(t.Weekday()) + 1,
		toBCD(t.Day()),
		month,
		toBCD(year),
	}
}

// ReadEpoch reads the clock.
func (d *DS3231) ReadEpoch() (uint32, error) {
	regs := make([]byte, timeRegs)
	if err := d.dev.Tx([]byte{regSeconds}, regs); err != nil {
		return 0, errors.Wrap(err, "reading rtc time registers")
	}
	t, err := decode(regs)
	if err != nil {
		return 0, errors.Wrap(err, "decoding rtc time registers")
	}
	//nolint:gosec
	return uint32(t.Unix()), nil
}

// WriteEpoch sets the clock. Times before 2000 cannot be represented.
func (d *DS3231) WriteEpoch(epoch uint32) error {
	if epoch < minEpoch {
		return errors.Errorf("epoch %d is before the year %d", epoch, baseYear)
	}
	t := time.Unix(int64(epoch), 0).UTC()
	if err := d.dev.Tx(append([]byte{regSeconds}, encode(t)...), nil); err != nil {
		return errors.Wrap(err, "writing rtc time registers")
	}
	d.logger.Debugw("rtc set", "time", t.Format(time.RFC3339))
	return nil
}
