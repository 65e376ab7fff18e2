package fake

import (
	"math"
	"testing"

	"go.viam.com/test"
)

func TestClock(t *testing.T) {
	clk := NewClock(math.MaxUint32 - 99)
	var seen []uint32
	clk.OnAdvance(func(now uint32) { seen = append(seen, now) })

	clk.Delay(150)
	test.That(t, clk.Millis(), test.ShouldEqual, uint32(50))
	test.That(t, clk.Delayed(), test.ShouldEqual, uint64(150))

	clk.Advance(25)
	test.That(t, clk.Millis(), test.ShouldEqual, uint32(75))
	test.That(t, clk.Delayed(), test.ShouldEqual, uint64(150))
	test.That(t, seen, test.ShouldResemble, []uint32{50, 75})

	// The mock's wall time moves with the counter.
	test.That(t, clk.mock.Now().UnixMilli(), test.ShouldEqual, int64(175))
}
