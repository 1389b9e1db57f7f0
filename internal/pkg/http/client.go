package http

import (
	"net"
	"net/http"
	"time"
)

const (
	maxIdleConns          = 1024
	maxIdleConnsPerHost   = 256
	dialTimeout           = 30 * time.Second
	keepAliveTime         = 5 * time.Minute
	responseHeaderTimeout = 2 * time.Minute
)

// NewTransport returns a transport tuned for many short object-store requests against few hosts.
func NewTransport() *http.Transport {
	defaultTransport, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return &http.Transport{}
	}
	newTransport := defaultTransport.Clone()

	newTransport.MaxIdleConns = maxIdleConns
	newTransport.MaxIdleConnsPerHost = maxIdleConnsPerHost
	newTransport.ResponseHeaderTimeout = responseHeaderTimeout
	newTransport.DialContext = (&net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: keepAliveTime,
	}).DialContext

	return newTransport
}

func NewClient() *http.Client {
	return &http.Client{
		Transport: NewTransport(),
	}
}
