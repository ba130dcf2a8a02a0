package netguard

import (
	"net/http"
	"sync/atomic"
)

type Gate struct {
	src     StateSource
	blocked atomic.Int64
}

func NewGate(src StateSource) *Gate {
	return &Gate{src: src}
}

// Check returns nil when a request may proceed and a *BlockedError otherwise.
func (g *Gate) Check() error {
	st := g.src.State()
	if st.Allows() {
		return nil
	}
	g.blocked.Add(1)
	return &BlockedError{State: st}
}

// Blocked is the number of requests refused so far.
func (g *Gate) Blocked() int64 {
	return g.blocked.Load()
}

// Transport wraps base so no request is sent while the gate is closed.
func (g *Gate) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &gatedTransport{gate: g, base: base}
}

type gatedTransport struct {
	gate *Gate
	base http.RoundTripper
}

func (t *gatedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.gate.Check(); err != nil {
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, err
	}
	return t.base.RoundTrip(req)
}
