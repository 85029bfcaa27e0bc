package netutil

import (
	"net/http"
	"time"
)

const defaultClientTimeout = 10 * time.Second

// CreateHTTPClient creates an HTTP client for talking to the upstream router.
// A non-positive timeout selects the default.
func CreateHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     10,
		IdleConnTimeout:     90 * time.Second,
		// Resolve the router hostname through the shared DNS cache
		DialContext:           DialContextWithCache,
		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if timeout <= 0 {
		timeout = defaultClientTimeout
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}
