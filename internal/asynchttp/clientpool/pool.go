// Package clientpool implements the dispatcher's HTTPClientPool
// (spec.md §4.4): a bounded LRU cache of *http.Client keyed by
// scheme://authority, with optional per-host rate limiting and circuit
// breaking. The teacher repo has no HTTP client of its own (it
// processes file jobs, not HTTP requests), so the bounded-LRU-with-
// eviction-hook shape here follows spec.md §9's redesign guidance
// directly ("replace [lazy per-host map growth] with an explicit LRU
// and eviction hooks; bound is a first-class invariant") rather than
// a teacher file; the per-host circuit breaker that hangs off each
// entry is grounded on the teacher's internal/breaker package.
package clientpool

import (
	"container/list"
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bdurand/asynchttp-dispatcher/internal/breaker"
	"github.com/bdurand/asynchttp-dispatcher/internal/config"
)

// Pool is a bounded, LRU-evicting cache of HTTP clients keyed by
// scheme://authority (spec.md §4.4).
type Pool struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	entries  map[string]*list.Element

	proxyURL          *url.URL
	connectionTimeout time.Duration
	rateLimitPerHost  float64
}

type entry struct {
	key     string
	client  *http.Client
	limiter *rate.Limiter
	breaker *breaker.CircuitBreaker
}

// New builds a Pool from the dispatcher Configuration (spec.md §4.4:
// capped at connection_pool_size entries, optional global proxy).
func New(cfg *config.Config) (*Pool, error) {
	p := &Pool{
		capacity:          cfg.ConnectionPoolSize,
		order:             list.New(),
		entries:           make(map[string]*list.Element),
		connectionTimeout: cfg.ConnectionTimeout,
		rateLimitPerHost:  cfg.RateLimitPerHost,
	}
	if cfg.ProxyURL != "" {
		u, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, err
		}
		p.proxyURL = u
	}
	if p.capacity <= 0 {
		p.capacity = 1
	}
	return p, nil
}

// Get returns the pooled client for key, building one lazily and
// evicting the least-recently-used entry if the pool is at capacity
// (spec.md §4.4: "On overflow, evict least-recently-used and close its
// client").
func (p *Pool) Get(key string) *http.Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	if el, ok := p.entries[key]; ok {
		p.order.MoveToFront(el)
		return el.Value.(*entry).client
	}

	if p.order.Len() >= p.capacity {
		p.evictOldestLocked()
	}

	e := &entry{
		key:    key,
		client: p.newClient(),
	}
	if p.rateLimitPerHost > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(p.rateLimitPerHost), int(p.rateLimitPerHost)+1)
	}
	e.breaker = breaker.New(time.Minute, 30*time.Second, 0.5, 5)

	el := p.order.PushFront(e)
	p.entries[key] = el
	return e.client
}

// Limiter returns the per-host token-bucket limiter for key, or nil if
// rate limiting is disabled (RateLimitPerHost == 0). A domain-stack
// enrichment beyond spec.md's bare LRU requirement.
func (p *Pool) Limiter(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.entries[key]
	if !ok {
		return nil
	}
	return el.Value.(*entry).limiter
}

// Breaker returns the per-host circuit breaker for key. A domain-stack
// enrichment: the reactor may consult this before issuing a request to
// a host that has been failing consistently.
func (p *Pool) Breaker(key string) *breaker.CircuitBreaker {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.entries[key]
	if !ok {
		return nil
	}
	return el.Value.(*entry).breaker
}

// Len reports how many clients are currently pooled.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.order.Len()
}

// Close evicts and closes every pooled client's idle connections.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.order.Len() > 0 {
		p.evictOldestLocked()
	}
}

func (p *Pool) evictOldestLocked() {
	back := p.order.Back()
	if back == nil {
		return
	}
	e := back.Value.(*entry)
	e.client.CloseIdleConnections()
	p.order.Remove(back)
	delete(p.entries, e.key)
}

func (p *Pool) newClient() *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: p.connectionTimeout,
		}).DialContext,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	if p.proxyURL != nil {
		transport.Proxy = http.ProxyURL(p.proxyURL)
	}
	return &http.Client{
		Transport: transport,
		// The dispatcher enforces its own per-task deadline via
		// context; the client itself does not impose a blanket
		// timeout so streaming large bodies under a longer
		// request_timeout still works.
		//
		// CheckRedirect stops net/http from auto-following 3xx
		// responses: the reactor drives its own hop-by-hop redirect
		// state machine (method/body rewrite rules, chain-length and
		// cycle limits) and needs to see each redirect response
		// itself rather than only the final one.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
