package impressions

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncateTimeFrame(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   int64
		want int64
	}{
		{name: "epoch", in: 0, want: 0},
		{name: "inside first hour", in: 3_599_999, want: 0},
		{name: "hour boundary", in: 3_600_000, want: 3_600_000},
		{name: "real timestamp", in: 1_700_000_123_456, want: 1_699_999_200_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, TruncateTimeFrame(tt.in))
		})
	}
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{in: "", want: ModeOptimized},
		{in: "OPTIMIZED", want: ModeOptimized},
		{in: "debug", want: ModeDebug},
		{in: " None ", want: ModeNone},
		{in: "verbose", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()

			got, err := ParseMode(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidMode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCounter(t *testing.T) {
	t.Parallel()

	t.Run("Should bucket counts by flag and hour", func(t *testing.T) {
		t.Parallel()

		// Arrange
		c := NewCounter()

		// Act
		c.Inc("a", 10, 1)
		c.Inc("a", 20, 2)
		c.Inc("a", timeFrameMs+1, 1)
		c.Inc("b", 10, 5)
		got := c.Pop()

		// Assert
		assert.Equal(t, map[CountKey]int64{
			{FlagName: "a", TimeFrame: 0}:           3,
			{FlagName: "a", TimeFrame: timeFrameMs}: 1,
			{FlagName: "b", TimeFrame: 0}:           5,
		}, got)
		assert.Empty(t, c.Pop(), "pop resets the counter")
	})

	t.Run("Should not lose increments under contention", func(t *testing.T) {
		t.Parallel()

		c := NewCounter()
		flags := []string{"a", "b", "c", "d"}

		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range 1000 {
					c.Inc(flags[i%len(flags)], 0, 1)
				}
			}()
		}
		wg.Wait()

		got := c.Pop()
		for _, f := range flags {
			assert.Equal(t, int64(2000), got[CountKey{FlagName: f}])
		}
	})
}
