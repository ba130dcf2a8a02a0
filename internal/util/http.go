package util

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
)

type HTTPClientOptions struct {
	Timeout    time.Duration
	UserAgent  string
	Cookie     string
	CookieFile string
	// ProxyURL routes every request through one proxy; empty falls back to
	// the environment.
	ProxyURL string
	// Cloudflare adds the browser-like TLS and header profile of
	// cloudflare-bp-go to the base transport.
	Cloudflare bool
	// Wrap decorates the finished transport, e.g. with a kill-switch gate.
	Wrap        func(http.RoundTripper) http.RoundTripper
	Transport   http.RoundTripper
	DebugLogger interface {
		Debugf(string, ...any)
	}
}

func NewHTTPClient(opts HTTPClientOptions) (*http.Client, error) {
	jar, _ := cookiejar.New(nil)

	var baseTransport http.RoundTripper
	if opts.Transport != nil {
		baseTransport = opts.Transport
	} else {
		t := &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxConnsPerHost:     100,
			MaxIdleConnsPerHost: 100,
			ForceAttemptHTTP2:   true,
		}
		if opts.ProxyURL != "" {
			pu, err := url.Parse(opts.ProxyURL)
			if err != nil {
				return nil, fmt.Errorf("proxy url: %w", err)
			}
			t.Proxy = http.ProxyURL(pu)
		}
		baseTransport = t
	}

	if opts.Cloudflare {
		baseTransport = cloudflarebp.AddCloudFlareByPass(baseTransport)
	}

	var rt http.RoundTripper = roundTripper{
		base:         baseTransport,
		ua:           opts.UserAgent,
		cookieHeader: joinCookies(opts.Cookie, opts.CookieFile),
		log:          opts.DebugLogger,
	}
	if opts.Wrap != nil {
		rt = opts.Wrap(rt)
	}

	client := &http.Client{
		Timeout:   opts.Timeout,
		Transport: rt,
		Jar:       jar,
	}

	if opts.DebugLogger != nil {
		opts.DebugLogger.Debugf("HTTP client initialized (timeout=%s, proxy=%q, cookieFile=%q, cloudflare=%t)",
			opts.Timeout, opts.ProxyURL, opts.CookieFile, opts.Cloudflare)
	}

	return client, nil
}

type roundTripper struct {
	base         http.RoundTripper
	ua           string
	cookieHeader string
	log          interface{ Debugf(string, ...any) }
}

func (rt roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	// A per-request User-Agent wins over the client default.
	if rt.ua != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", rt.ua)
	}

	if rt.cookieHeader != "" && req.Header.Get("Cookie") == "" {
		req.Header.Set("Cookie", rt.cookieHeader)
	}

	if rt.log != nil {
		rt.log.Debugf("HTTP %s %s", req.Method, req.URL.String())
	}

	return rt.base.RoundTrip(req)
}

func joinCookies(inline, file string) string {
	s := strings.TrimSpace(inline)
	if file != "" {
		if b, err := os.ReadFile(file); err == nil {
			// first non-empty line
			sc := bufio.NewScanner(strings.NewReader(string(b)))
			for sc.Scan() {
				line := strings.TrimSpace(sc.Text())
				if line != "" {
					if s == "" {
						s = line
					} else {
						s = s + "; " + line
					}
					break
				}
			}
		}
	}

	return s
}

// DoWithRetry sends the request built by build, retrying transport errors
// and 5xx responses with linear backoff. Errors for which stop returns true
// are returned at once. The caller closes the returned body.
func DoWithRetry(
	ctx context.Context,
	c *http.Client,
	build func() (*http.Request, error),
	attempts int,
	backoff time.Duration,
	stop func(error) bool,
) (*http.Response, error) {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		req, err := build()
		if err != nil {
			return nil, err
		}

		resp, err := c.Do(req)
		switch {
		case err != nil:
			lastErr = err
			if stop != nil && stop(err) {
				return nil, err
			}
		case resp.StatusCode >= 500:
			lastErr = &StatusError{Status: resp.StatusCode}
			_ = resp.Body.Close()
		default:
			return resp, nil
		}

		if i < attempts {
			if err := Sleep(ctx, backoff*time.Duration(i)); err != nil {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d", e.Status)
}
