package gateway

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunglas/httpsfv"
)

// maxRetryAfter caps server hints so a bad header cannot stall the UI.
const maxRetryAfter = 10 * time.Minute

// parseRetryAfter reads the server's backoff hint from a 429/5xx response.
//
// The structured RateLimit header (RFC 8941 Dictionary, e.g.
// `limit=100, remaining=0, reset=30`) wins when it carries a reset member;
// otherwise Retry-After is read as delay-seconds or an HTTP-date.
// Returns zero when neither header is usable.
func parseRetryAfter(h http.Header, now time.Time) time.Duration {
	if d, ok := rateLimitReset(h.Values("RateLimit")); ok {
		return clampRetry(d)
	}

	ra := strings.TrimSpace(h.Get("Retry-After"))
	if ra == "" {
		return 0
	}
	if secs, err := strconv.Atoi(ra); err == nil {
		return clampRetry(time.Duration(secs) * time.Second)
	}
	if at, err := http.ParseTime(ra); err == nil {
		return clampRetry(at.Sub(now))
	}
	return 0
}

func rateLimitReset(values []string) (time.Duration, bool) {
	if len(values) == 0 {
		return 0, false
	}
	dict, err := httpsfv.UnmarshalDictionary(values)
	if err != nil {
		return 0, false
	}
	member, ok := dict.Get("reset")
	if !ok {
		return 0, false
	}
	item, ok := member.(httpsfv.Item)
	if !ok {
		return 0, false
	}
	secs, ok := item.Value.(int64)
	if !ok || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

func clampRetry(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if d > maxRetryAfter {
		return maxRetryAfter
	}
	return d
}
