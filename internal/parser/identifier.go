package parser

import (
	"fmt"
	"maps"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"sync/atomic"
	"time"
	"unicode"
)

var (
	longDigitRun = regexp.MustCompile(`\d{10,}`)

	fallbackSeq atomic.Uint64
)

// ProductID derives a listing identifier from its URL. The last path segment
// containing a run of at least ten digits yields its digits; otherwise query
// values are tried the same way. When nothing matches the result is
// unknown_<unix millis>_<sequence>, unique within the process.
func ProductID(rawURL string) string {
	if id := idFromURL(rawURL); id != "" {
		return id
	}
	return fmt.Sprintf("unknown_%d_%d", time.Now().UnixMilli(), fallbackSeq.Add(1))
}

func idFromURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}

	segments := strings.Split(u.Path, "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i] == "" {
			continue
		}
		if longDigitRun.MatchString(segments[i]) {
			return digitsOnly(segments[i])
		}
		break
	}

	query := u.Query()
	for _, key := range slices.Sorted(maps.Keys(query)) {
		for _, v := range query[key] {
			if longDigitRun.MatchString(v) {
				return digitsOnly(v)
			}
		}
	}

	return ""
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}

// IsFallbackID reports whether id was produced by the fallback scheme.
func IsFallbackID(id string) bool {
	return strings.HasPrefix(id, "unknown_")
}
