package util

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/nghyane/medistream/internal/logging"
	"golang.org/x/net/proxy"
)

// NewHTTPClient returns a client routed through proxyURL when one is configured.
// A zero timeout leaves the client unbounded, which streaming callers rely on.
func NewHTTPClient(proxyURL string, timeout time.Duration) *http.Client {
	return SetProxy(proxyURL, &http.Client{Timeout: timeout})
}

// SetProxy installs a transport for proxyURL on httpClient. Supported schemes are
// socks5, http and https; anything else leaves the client untouched.
func SetProxy(proxyURL string, httpClient *http.Client) *http.Client {
	proxyURL = strings.TrimSpace(proxyURL)
	if proxyURL == "" {
		return httpClient
	}
	var transport *http.Transport
	parsed, errParse := url.Parse(proxyURL)
	if errParse != nil {
		log.Errorf("parse proxy url failed: %v", errParse)
		return httpClient
	}
	switch parsed.Scheme {
	case "socks5":
		var proxyAuth *proxy.Auth
		if parsed.User != nil {
			username := parsed.User.Username()
			password, _ := parsed.User.Password()
			proxyAuth = &proxy.Auth{User: username, Password: password}
		}
		dialer, errSOCKS5 := proxy.SOCKS5("tcp", parsed.Host, proxyAuth, proxy.Direct)
		if errSOCKS5 != nil {
			log.Errorf("create SOCKS5 dialer failed: %v", errSOCKS5)
			return httpClient
		}
		transport = &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				if cd, ok := dialer.(proxy.ContextDialer); ok {
					return cd.DialContext(ctx, network, addr)
				}
				return dialer.Dial(network, addr)
			},
		}
	case "http", "https":
		transport = &http.Transport{Proxy: http.ProxyURL(parsed)}
	default:
		log.Warnf("unsupported proxy scheme %q, using direct connection", parsed.Scheme)
	}
	if transport != nil {
		httpClient.Transport = transport
	}
	return httpClient
}
