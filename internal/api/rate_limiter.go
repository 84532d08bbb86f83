package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	apperr "drivehub/internal/errors"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// idleAfter is how long a client goes unseen before its bucket is dropped.
// A bucket refills completely within a minute, so a dropped one loses nothing.
const idleAfter = time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter keeps one token bucket per client IP.
type IPRateLimiter struct {
	mu         sync.Mutex
	visitors   map[string]*visitor
	perMin     int
	trustProxy bool
	lastSweep  time.Time
	now        func() time.Time
	logger     *zap.Logger
}

// NewIPRateLimiter limits each client to perMinute requests. X-Forwarded-For is
// only consulted when trustProxy is set, and then only the hop our proxy appended.
func NewIPRateLimiter(perMinute int, trustProxy bool, logger *zap.Logger) *IPRateLimiter {
	return &IPRateLimiter{
		visitors:   make(map[string]*visitor),
		perMin:     perMinute,
		trustProxy: trustProxy,
		now:        time.Now,
		logger:     logger,
	}
}

func (l *IPRateLimiter) limiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.lastSweep) >= idleAfter {
		l.evictIdle(now)
		l.lastSweep = now
	}
	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMin)), l.perMin)}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter
}

func (l *IPRateLimiter) evictIdle(now time.Time) {
	for ip, v := range l.visitors {
		if now.Sub(v.lastSeen) >= idleAfter {
			delete(l.visitors, ip)
		}
	}
}

func (l *IPRateLimiter) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

func (l *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	if l.perMin <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r, l.trustProxy)
		if !l.limiter(ip).Allow() {
			l.logger.Warn("rate limit exceeded", zap.String("ip", ip))
			writeJSON(w, http.StatusTooManyRequests, apperr.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded, try again later"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP is the peer address. Behind a trusted proxy it is the last
// X-Forwarded-For entry, which the proxy appended itself; earlier entries
// come from the client and are ignored.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			hops := strings.Split(fwd, ",")
			if last := strings.TrimSpace(hops[len(hops)-1]); last != "" {
				return last
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
