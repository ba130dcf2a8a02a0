package netguard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brogergvhs/mangacache/internal/ui"

	"github.com/go-resty/resty/v2"
)

var (
	ErrIPMismatch = errors.New("proxy exit IP does not match the expected IP")
	ErrInvalidIP  = errors.New("IP lookup returned no valid address")
)

type Config struct {
	Enabled bool
	// ProxyURL is the proxy every request is routed through, for example
	// "socks5://127.0.0.1:1080" or "http://10.0.0.2:8888".
	ProxyURL   string
	ExpectedIP string
	CheckURL   string

	ConnectedInterval    time.Duration
	DisconnectedInterval time.Duration
	DialTimeout          time.Duration
	CheckTimeout         time.Duration
	FailureThreshold     int
}

func (c *Config) withDefaults() {
	if c.CheckURL == "" {
		c.CheckURL = "https://api.ipify.org"
	}
	if c.ConnectedInterval <= 0 {
		c.ConnectedInterval = 30 * time.Second
	}
	if c.DisconnectedInterval <= 0 {
		c.DisconnectedInterval = 5 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 3 * time.Second
	}
	if c.CheckTimeout <= 0 {
		c.CheckTimeout = 15 * time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
}

// LightCheck is a cheap reachability check of the proxy.
type LightCheck func(ctx context.Context) error

// FullCheck proves traffic is routed through the proxy and returns the exit IP.
type FullCheck func(ctx context.Context) (string, error)

type Option func(*Monitor)

func WithLightCheck(f LightCheck) Option { return func(m *Monitor) { m.light = f } }
func WithFullCheck(f FullCheck) Option   { return func(m *Monitor) { m.full = f } }

// Monitor is the only writer of the connection state.
type Monitor struct {
	cfg   Config
	log   *ui.Logger
	light LightCheck
	full  FullCheck

	state    atomic.Int32
	failures int

	mu      sync.Mutex
	subs    map[int]chan State
	nextSub int
	lastIP  string
	lastErr error
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewMonitor(cfg Config, log *ui.Logger, opts ...Option) *Monitor {
	cfg.withDefaults()

	m := &Monitor{
		cfg:  cfg,
		log:  log,
		subs: map[int]chan State{},
	}
	m.light = m.dialProxy
	m.full = m.lookupIP

	for _, o := range opts {
		o(m)
	}

	if !cfg.Enabled {
		m.state.Store(int32(StateDisabled))
	}

	return m
}

func (m *Monitor) State() State {
	return State(m.state.Load())
}

// Snapshot returns the state with the last observed exit IP and error.
func (m *Monitor) Snapshot() (State, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.State(), m.lastIP, m.lastErr
}

func (m *Monitor) Config() Config { return m.cfg }

// Subscribe delivers state changes. Slow subscribers only see the latest one.
func (m *Monitor) Subscribe() (<-chan State, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan State, 1)
	m.subs[id] = ch

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
	}
}

func (m *Monitor) set(s State) {
	prev := State(m.state.Swap(int32(s)))
	if prev == s {
		return
	}

	m.log.Debugf("proxy state %s -> %s", prev, s)

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}

// Start runs the initial full check and then the polling loop in the
// background. With monitoring disabled the state stays Disabled.
func (m *Monitor) Start(ctx context.Context) {
	if !m.cfg.Enabled {
		m.set(StateDisabled)
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	m.mu.Lock()
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	go func() {
		defer close(done)
		m.run(ctx)
	}()
}

// Stop ends monitoring and opens the gate.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	m.set(StateDisabled)
}

func (m *Monitor) run(ctx context.Context) {
	m.verify(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.interval()):
		}
		m.tick(ctx)
	}
}

func (m *Monitor) interval() time.Duration {
	if m.State() == StateConnected {
		return m.cfg.ConnectedInterval
	}
	return m.cfg.DisconnectedInterval
}

// tick performs one light check and the transitions it implies.
func (m *Monitor) tick(ctx context.Context) {
	err := m.light(ctx)
	if ctx.Err() != nil {
		return
	}

	if err != nil {
		m.failures++
		m.recordErr(err)
		m.log.Debugf("proxy check failed (%d/%d): %v", m.failures, m.cfg.FailureThreshold, err)

		if m.failures >= m.cfg.FailureThreshold {
			if m.State() != StateDisconnected {
				m.log.Warnf("proxy unreachable, blocking network: %v", err)
			}
			m.set(StateDisconnected)
			return
		}
		// Below the threshold the state, and with it the gate, is unchanged.
		return
	}

	m.failures = 0
	if m.State() == StateConnected {
		return
	}

	m.set(StateReconnecting)
	m.verify(ctx)
}

// verify runs one full check and settles on Connected or Disconnected.
func (m *Monitor) verify(ctx context.Context) {
	ip, err := m.full(ctx)
	if ctx.Err() != nil {
		return
	}

	if err != nil {
		m.recordErr(err)
		m.log.Warnf("proxy verification failed: %v", err)
		m.set(StateDisconnected)
		return
	}

	m.mu.Lock()
	m.lastIP, m.lastErr = ip, nil
	m.mu.Unlock()

	m.failures = 0
	if m.State() != StateConnected {
		m.log.Infof("proxy verified, exit IP %s", ip)
	}
	m.set(StateConnected)
}

// CheckNow runs a full check outside the loop without touching the state.
func (m *Monitor) CheckNow(ctx context.Context) (string, error) {
	return m.full(ctx)
}

func (m *Monitor) recordErr(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Monitor) dialProxy(ctx context.Context) error {
	u, err := url.Parse(m.cfg.ProxyURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid proxy URL %q", m.cfg.ProxyURL)
	}

	d := net.Dialer{Timeout: m.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", u.Host)
	if err != nil {
		return err
	}
	return conn.Close()
}

func (m *Monitor) lookupIP(ctx context.Context) (string, error) {
	client := resty.New().
		SetTimeout(m.cfg.CheckTimeout).
		SetHeader("Accept", "application/json, text/plain")
	if m.cfg.ProxyURL != "" {
		client.SetProxy(m.cfg.ProxyURL)
	}

	resp, err := client.R().SetContext(ctx).Get(m.cfg.CheckURL)
	if err != nil {
		return "", fmt.Errorf("ip lookup via proxy: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("ip lookup via proxy: HTTP %d", resp.StatusCode())
	}

	ip, err := ParseIPResponse(resp.Body())
	if err != nil {
		return "", err
	}

	if want := canonicalIP(m.cfg.ExpectedIP); want != "" && ip != want {
		return ip, fmt.Errorf("%w: got %s, want %s", ErrIPMismatch, ip, m.cfg.ExpectedIP)
	}

	return ip, nil
}

// canonicalIP renders an address the way ParseIPResponse does, so IPv6
// spellings compare equal. Unparseable input is only trimmed.
func canonicalIP(s string) string {
	s = strings.TrimSpace(s)
	if ip := net.ParseIP(s); ip != nil {
		return ip.String()
	}
	return s
}

// ParseIPResponse accepts a bare address or a JSON object with an "ip" or
// "query" field, which covers the common lookup services.
func ParseIPResponse(body []byte) (string, error) {
	s := strings.TrimSpace(string(body))

	if strings.HasPrefix(s, "{") {
		var v struct {
			IP    string `json:"ip"`
			Query string `json:"query"`
		}
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidIP, err)
		}
		s = v.IP
		if s == "" {
			s = v.Query
		}
	}

	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidIP, s)
	}
	return ip.String(), nil
}
