package transport

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"net/http"
	"time"
)

// Channel is one delivery path for API requests. The client owns two: the
// bridge channel backed by the host runtime's HTTP stack, and the standard
// channel backed by a plain client.
type Channel interface {
	Name() string
	Do(req *http.Request) (*http.Response, error)
}

const channelRequestTimeout = 30 * time.Second

// BridgeChannel delivers requests through the host bridge's tuned HTTP
// stack: proxy from environment and the configured CA bundle. When the
// bridge capability is absent every delivery fails with a capability error
// so the client can fall back.
type BridgeChannel struct {
	available func() bool
	client    *http.Client
}

// NewBridgeChannel builds the bridge-backed channel. available reports the
// host bridge capability; rootCAs may be nil for system roots.
func NewBridgeChannel(available func() bool, rootCAs *x509.CertPool) *BridgeChannel {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if rootCAs != nil {
		transport.TLSClientConfig = &tls.Config{
			RootCAs:    rootCAs,
			MinVersion: tls.VersionTLS12,
		}
	}
	return &BridgeChannel{
		available: available,
		client:    &http.Client{Transport: transport, Timeout: channelRequestTimeout},
	}
}

func (c *BridgeChannel) Name() string { return "bridge" }

func (c *BridgeChannel) Do(req *http.Request) (*http.Response, error) {
	if c.available != nil && !c.available() {
		return nil, &Error{Kind: KindCapability, Message: "bridge channel unavailable"}
	}
	return c.client.Do(req)
}

// StandardChannel delivers requests over a plain default-shaped client.
type StandardChannel struct {
	client *http.Client
}

func NewStandardChannel() *StandardChannel {
	return &StandardChannel{client: &http.Client{Timeout: channelRequestTimeout}}
}

func (c *StandardChannel) Name() string { return "standard" }

func (c *StandardChannel) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req)
}
