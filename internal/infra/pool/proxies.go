package pool

import (
	"sync"

	"github.com/overwatch-scan/overwatch/internal/domain"
)

// Proxies is the thread-safe round-robin proxy roster. Each domain.Proxy
// carries its own failure counter and latency window; Proxies only owns
// assignment order, not rotation decisions (those live in
// internal/infra/recovery and domain.Proxy.NeedsRotation).
type Proxies struct {
	mu    sync.Mutex
	byURL map[string]*domain.Proxy
	order []string
	next  int
}

// NewProxies returns a proxy roster seeded from urls. An empty slice is
// valid — proxies are optional.
func NewProxies(urls []string) *Proxies {
	p := &Proxies{byURL: make(map[string]*domain.Proxy, len(urls))}
	for _, u := range urls {
		p.byURL[u] = &domain.Proxy{URL: u}
		p.order = append(p.order, u)
	}
	return p
}

// Next round-robins through the configured proxies. ok is false when no
// proxies are configured, in which case the worker runs proxy-less.
func (p *Proxies) Next() (*domain.Proxy, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.order) == 0 {
		return nil, false
	}
	url := p.order[p.next%len(p.order)]
	p.next++
	return p.byURL[url], true
}

// Get returns the proxy registered under url, if any.
func (p *Proxies) Get(url string) (*domain.Proxy, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	proxy, ok := p.byURL[url]
	return proxy, ok
}

// Len returns the number of configured proxies.
func (p *Proxies) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.order)
}

// All returns a snapshot slice of every configured proxy, for the
// supervisory loop's rotation sweep.
func (p *Proxies) All() []*domain.Proxy {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*domain.Proxy, 0, len(p.order))
	for _, u := range p.order {
		out = append(out, p.byURL[u])
	}
	return out
}
