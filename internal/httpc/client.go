// Package httpc provides the shared HTTP clients used by the commands.
// Use this instead of http.DefaultClient to ensure timeouts are set.
package httpc

import (
	"net"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// Default timeouts for HTTP operations.
const (
	DefaultTimeout         = 10 * time.Second
	DefaultConnectTimeout  = 5 * time.Second
	DefaultKeepAlive       = 30 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
	DefaultRetries         = 2
)

func newTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   DefaultConnectTimeout,
			KeepAlive: DefaultKeepAlive,
		}).DialContext,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// Client is a shared HTTP client with production-ready defaults.
var Client = NewClient(DefaultTimeout)

// NewClient creates a new HTTP client with the specified timeout.
// For most cases, use the shared Client variable instead.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: newTransport(),
	}
}

// NewREST returns a resty client for a node's HTTP API rooted at baseURL,
// e.g. "http://localhost:8090". Transient failures are retried.
func NewREST(baseURL string) *resty.Client {
	return resty.NewWithClient(NewClient(DefaultTimeout)).
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		SetRetryCount(DefaultRetries).
		SetRetryWaitTime(200 * time.Millisecond)
}
