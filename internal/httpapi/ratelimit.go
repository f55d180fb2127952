package httpapi

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiter keeps one token bucket per caller. A bucket holds a full hour's
// allowance and refills continuously.
type limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

func newLimiter(perHour int, now func() time.Time) *limiter {
	return &limiter{
		buckets: map[string]*rate.Limiter{},
		limit:   rate.Every(time.Hour / time.Duration(perHour)),
		burst:   perHour,
		now:     now,
	}
}

// allow reports whether key may proceed, and if not how long until it may.
func (l *limiter) allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
		l.buckets[key] = b
	}
	l.mu.Unlock()

	now := l.now()
	res := b.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// callerKey identifies the caller: the token subject when authenticated,
// the client address otherwise.
func callerKey(r *http.Request) string {
	if c, ok := ClaimsFromContext(r.Context()); ok {
		return "user:" + c.Subject
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "anon:" + host
}

type throttledResponse struct {
	Error             string `json:"error"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
}

func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		ok, wait := s.limiter.allow(callerKey(r))
		if !ok {
			secs := max(1, int(math.Round(wait.Seconds())))
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeJSON(w, http.StatusTooManyRequests, throttledResponse{
				Error:             "Rate limit exceeded",
				RetryAfterSeconds: secs,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
