package util

import (
	"math/rand/v2"
	"sync"

	browser "github.com/EDDYCJY/fake-useragent"
)

var fallbackAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
}

// UserAgentFunc returns a user agent for one request.
type UserAgentFunc func() string

// UserAgents returns a supplier that picks a fresh browser user agent per
// call. A non-empty override pins every request to that value.
func UserAgents(override string) UserAgentFunc {
	if override != "" {
		return func() string { return override }
	}

	var mu sync.Mutex
	return func() string {
		mu.Lock()
		defer mu.Unlock()

		if ua := browser.Random(); ua != "" {
			return ua
		}
		return fallbackAgents[rand.IntN(len(fallbackAgents))]
	}
}

// FixedUserAgents cycles through a list; tests use it to stay offline.
func FixedUserAgents(list ...string) UserAgentFunc {
	if len(list) == 0 {
		list = fallbackAgents
	}

	var mu sync.Mutex
	i := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		ua := list[i%len(list)]
		i++
		return ua
	}
}
