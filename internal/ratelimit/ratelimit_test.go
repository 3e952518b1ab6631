package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomSleeper_Draw(t *testing.T) {
	s := NewRandomSleeper(1)
	band := NewBand(2*time.Second, 7*time.Second)

	for i := 0; i < 500; i++ {
		d := s.Draw(band)
		assert.GreaterOrEqual(t, d, band.Min)
		assert.LessOrEqual(t, d, band.Max)
	}
}

func TestRandomSleeper_DegenerateBand(t *testing.T) {
	s := NewRandomSleeper(1)

	assert.Equal(t, time.Second, s.Draw(Band{Min: time.Second, Max: time.Second}))
	assert.Equal(t, time.Second, s.Draw(Band{Min: time.Second, Max: 0}))
}

func TestRandomSleeper_Sleep(t *testing.T) {
	s := NewRandomSleeper(1)

	start := time.Now()
	require.NoError(t, s.Sleep(context.Background(), NewBand(10*time.Millisecond, 20*time.Millisecond)))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestRandomSleeper_SleepCancelled(t *testing.T) {
	s := NewRandomSleeper(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := s.Sleep(ctx, NewBand(time.Minute, time.Minute))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestBand(t *testing.T) {
	b := NewBand(5*time.Second, time.Second)
	assert.Equal(t, 5*time.Second, b.Max, "max is clamped up to min")

	w := NewBand(2*time.Second, 7*time.Second).Widen(time.Second)
	assert.Equal(t, 2*time.Second, w.Min)
	assert.Equal(t, 8*time.Second, w.Max)
}

func TestNopSleeper(t *testing.T) {
	s := &NopSleeper{}
	require.NoError(t, s.Sleep(context.Background(), NewBand(time.Second, 2*time.Second)))
	require.NoError(t, s.Sleep(context.Background(), NewBand(3*time.Second, 4*time.Second)))

	bands := s.Bands()
	require.Len(t, bands, 2)
	assert.Equal(t, 3*time.Second, bands[1].Min)
}
