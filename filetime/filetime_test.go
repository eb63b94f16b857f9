package filetime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEpoch(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(uint64(epochDelta), Timestamp(time.Unix(0, 0)))
	assert.Equal(uint64(epochDelta+ticksPerSecond+1),
		Timestamp(time.Unix(1, 100)))
	assert.True(Time(epochDelta).Equal(time.Unix(0, 0)))
}

func TestZero(t *testing.T) {
	assert := assert.New(t)
	assert.Zero(Timestamp(time.Time{}))
	assert.True(Time(0).IsZero())
}

func TestRoundTrip(t *testing.T) {
	assert := assert.New(t)
	for _, value := range []time.Time{
		time.Date(1601, 1, 2, 0, 0, 0, 0, time.UTC),
		time.Date(1969, 12, 31, 23, 59, 59, 999999900, time.UTC),
		time.Date(2008, 5, 1, 12, 30, 0, 500, time.UTC),
		time.Date(2262, 1, 1, 0, 0, 0, 0, time.UTC),
	} {
		// Sub-tick precision is dropped.
		expected := value.Truncate(100 * time.Nanosecond)
		assert.True(expected.Equal(Time(Timestamp(value))),
			"round trip of %s", value)
	}
}
