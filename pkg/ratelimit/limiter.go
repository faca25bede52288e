package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Default limiter values.
const (
	DefaultRate            = 100
	DefaultCleanupInterval = 1 * time.Minute
	DefaultEntryTTL        = 1 * time.Minute
)

// Config configures a Limiter.
type Config struct {
	Rate            float64       // requests per second per client
	Burst           int           // bucket capacity, defaults to 2*Rate
	TrustedProxies  []string      // CIDR ranges or single IPs of trusted proxies
	TrustAllProxies bool          // trust proxy headers from any peer (insecure)
	CleanupInterval time.Duration // how often idle clients are dropped
	EntryTTL        time.Duration // idle time after which a client is dropped
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter applies one token bucket per client IP.
type Limiter struct {
	limit           rate.Limit
	burst           int
	trustedProxies  []*net.IPNet
	trustAll        bool
	cleanupInterval time.Duration
	entryTTL        time.Duration
	now             func() time.Time

	mu      sync.Mutex
	clients map[string]*client

	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// New creates a Limiter and starts its cleanup goroutine. Call Stop when
// done.
func New(cfg Config) *Limiter {
	if cfg.Rate <= 0 {
		cfg.Rate = DefaultRate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = max(1, int(cfg.Rate*2))
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = DefaultEntryTTL
	}

	l := &Limiter{
		limit:           rate.Limit(cfg.Rate),
		burst:           cfg.Burst,
		trustAll:        cfg.TrustAllProxies,
		cleanupInterval: cfg.CleanupInterval,
		entryTTL:        cfg.EntryTTL,
		now:             time.Now,
		clients:         make(map[string]*client),
		stop:            make(chan struct{}),
		stopped:         make(chan struct{}),
	}
	for _, p := range cfg.TrustedProxies {
		if network := parseNetwork(p); network != nil {
			l.trustedProxies = append(l.trustedProxies, network)
		}
	}

	go l.cleanup()
	return l
}

// Burst returns the bucket capacity.
func (l *Limiter) Burst() int {
	return l.burst
}

// Allow takes a token for key. It reports the whole tokens left and, when
// the request is refused, how long until a token is available.
func (l *Limiter) Allow(key string) (allowed bool, remaining int, retryAfter time.Duration) {
	now := l.now()

	l.mu.Lock()
	c, ok := l.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now
	l.mu.Unlock()

	if c.limiter.AllowN(now, 1) {
		return true, max(0, int(c.limiter.TokensAt(now))), 0
	}

	missing := 1 - c.limiter.TokensAt(now)
	retryAfter = time.Duration(missing / float64(l.limit) * float64(time.Second))
	return false, 0, retryAfter
}

// Clients returns the number of tracked clients.
func (l *Limiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// ClientIP returns the client address of r, honouring proxy headers from
// trusted peers only.
func (l *Limiter) ClientIP(r *http.Request) string {
	remoteIP := extractRemoteIP(r.RemoteAddr)
	if !l.isTrustedProxy(remoteIP) {
		return remoteIP
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); isValidIP(ip) {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); isValidIP(ip) {
		return ip
	}
	return remoteIP
}

// Stop ends the cleanup goroutine. It is safe to call more than once.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
	<-l.stopped
}

func (l *Limiter) cleanup() {
	defer close(l.stopped)

	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.removeIdle()
		case <-l.stop:
			return
		}
	}
}

// removeIdle drops clients not seen within entryTTL.
func (l *Limiter) removeIdle() int {
	cutoff := l.now().Add(-l.entryTTL)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, key)
			removed++
		}
	}
	return removed
}

func (l *Limiter) isTrustedProxy(ip string) bool {
	if l.trustAll {
		return true
	}
	if len(l.trustedProxies) == 0 {
		return false
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, network := range l.trustedProxies {
		if network.Contains(parsed) {
			return true
		}
	}
	return false
}

// parseNetwork accepts a CIDR or a single IP.
func parseNetwork(s string) *net.IPNet {
	if _, network, err := net.ParseCIDR(s); err == nil {
		return network
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return nil
	}
	bits := 128
	if ip.To4() != nil {
		ip, bits = ip.To4(), 32
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}
}

// extractRemoteIP strips the port from RemoteAddr if present.
func extractRemoteIP(remoteAddr string) string {
	ip, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return ip
}

func isValidIP(s string) bool {
	return net.ParseIP(s) != nil
}
