package identity

import (
	"math/rand"
	"sync"
)

// Identity is the client fingerprint presented for one session or attempt.
type Identity struct {
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	Locale         string
	TimezoneID     string
	AcceptLanguage string
	Headers        map[string]string
}

// Provider hands out a fresh identity on every call.
type Provider interface {
	Next() Identity
}

type Options struct {
	UserAgents     []string
	MinWidth       int
	MaxWidth       int
	MinHeight      int
	MaxHeight      int
	Locale         string
	TimezoneID     string
	AcceptLanguage string
	Headers        map[string]string
}

// Rotating picks a random user agent and viewport per call.
type Rotating struct {
	opts Options
	mu   sync.Mutex
	rng  *rand.Rand
}

func NewRotating(opts Options, seed int64) *Rotating {
	return &Rotating{
		opts: opts,
		rng:  rand.New(rand.NewSource(seed)),
	}
}

func (r *Rotating) Next() Identity {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := Identity{
		ViewportWidth:  between(r.rng, r.opts.MinWidth, r.opts.MaxWidth),
		ViewportHeight: between(r.rng, r.opts.MinHeight, r.opts.MaxHeight),
		Locale:         r.opts.Locale,
		TimezoneID:     r.opts.TimezoneID,
		AcceptLanguage: r.opts.AcceptLanguage,
		Headers:        r.opts.Headers,
	}
	if n := len(r.opts.UserAgents); n > 0 {
		id.UserAgent = r.opts.UserAgents[r.rng.Intn(n)]
	}
	return id
}

func between(rng *rand.Rand, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + rng.Intn(hi-lo+1)
}

// Static always returns the same identity. Used in tests.
type Static struct {
	Identity Identity
}

func (s Static) Next() Identity {
	return s.Identity
}

// DocumentHeaders are the request headers a desktop browser sends when
// loading a top-level document.
func DocumentHeaders() map[string]string {
	return map[string]string{
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8",
		"Upgrade-Insecure-Requests": "1",
		"Sec-Fetch-Dest":            "document",
		"Sec-Fetch-Mode":            "navigate",
		"Sec-Fetch-Site":            "none",
		"Sec-Fetch-User":            "?1",
		"Cache-Control":             "max-age=0",
	}
}
