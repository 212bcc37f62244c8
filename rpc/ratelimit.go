package rpc

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// rateLimiter throttles JSON-RPC calls per client. Clients are keyed by the
// proxy-reported address when present, falling back to the socket peer.
type rateLimiter struct {
	perSecond rate.Limit
	burst     int

	mu       sync.Mutex
	visitors map[string]*rate.Limiter
}

func newRateLimiter(perMinute float64, burst int) *rateLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &rateLimiter{
		perSecond: rate.Limit(perMinute / 60.0),
		burst:     burst,
		visitors:  make(map[string]*rate.Limiter),
	}
}

func (l *rateLimiter) allow(r *http.Request) bool {
	if l == nil {
		return true
	}
	return l.obtain(clientID(r)).Allow()
}

func (l *rateLimiter) obtain(id string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.visitors[id]
	if !ok {
		limiter = rate.NewLimiter(l.perSecond, l.burst)
		l.visitors[id] = limiter
		go l.expire(id)
	}
	return limiter
}

func (l *rateLimiter) expire(id string) {
	timer := time.NewTimer(10 * time.Minute)
	defer timer.Stop()
	<-timer.C
	l.mu.Lock()
	delete(l.visitors, id)
	l.mu.Unlock()
}

func clientID(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first := forwarded
		if comma := strings.IndexByte(forwarded, ','); comma > 0 {
			first = forwarded[:comma]
		}
		if parsed := net.ParseIP(strings.TrimSpace(first)); parsed != nil {
			return parsed.String()
		}
		return forwarded
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
