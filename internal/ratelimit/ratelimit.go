package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Band is an inclusive range a randomized delay is drawn from.
type Band struct {
	Min time.Duration
	Max time.Duration
}

func NewBand(min, max time.Duration) Band {
	if max < min {
		max = min
	}
	return Band{Min: min, Max: max}
}

// Widen returns the band with its upper bound raised by d.
func (b Band) Widen(d time.Duration) Band {
	return Band{Min: b.Min, Max: b.Max + d}
}

// Sleeper suspends the caller for a duration drawn from a band.
// Implementations must return early with ctx.Err() when ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, band Band) error
	Draw(band Band) time.Duration
}

// RandomSleeper draws uniformly from the band.
type RandomSleeper struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandomSleeper(seed int64) *RandomSleeper {
	return &RandomSleeper{rng: rand.New(rand.NewSource(seed))}
}

func (s *RandomSleeper) Draw(band Band) time.Duration {
	if band.Max <= band.Min {
		return band.Min
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delta := band.Max - band.Min
	return band.Min + time.Duration(s.rng.Int63n(int64(delta)+1))
}

func (s *RandomSleeper) Sleep(ctx context.Context, band Band) error {
	d := s.Draw(band)
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NopSleeper returns immediately and records every requested band.
type NopSleeper struct {
	mu    sync.Mutex
	bands []Band
}

func (s *NopSleeper) Draw(band Band) time.Duration {
	return band.Min
}

func (s *NopSleeper) Sleep(ctx context.Context, band Band) error {
	s.mu.Lock()
	s.bands = append(s.bands, band)
	s.mu.Unlock()
	return ctx.Err()
}

// Bands returns a copy of the recorded bands in call order.
func (s *NopSleeper) Bands() []Band {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Band, len(s.bands))
	copy(out, s.bands)
	return out
}
