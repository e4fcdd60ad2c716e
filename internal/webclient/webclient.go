// Package webclient holds the browser-like request headers and the pooled HTTP
// client shared by connectors that talk to endpoints built for web browsers.
package webclient

import (
	"net/http"
	"time"
)

// DefaultUserAgent is sent when a connector has no user agent configured.
// Endpoints built for browsers reject or degrade responses to obvious bots.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Safari/537.36"

// NewClient returns an HTTP client with the given overall timeout. The
// transport is cloned from the default one so connections are pooled across
// every request made with the returned client.
func NewClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 16
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// SetBrowserHeaders decorates req so it looks like a same-origin request from
// a desktop browser. Accept-Encoding is left to net/http so bodies are
// decompressed transparently.
func SetBrowserHeaders(req *http.Request, userAgent, origin string) {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	if origin != "" {
		req.Header.Set("Referer", origin+"/")
		req.Header.Set("Origin", origin)
	}
	req.Header.Set("Sec-Fetch-Site", "same-origin")
	req.Header.Set("sec-ch-ua-mobile", "?0")
	req.Header.Set("sec-ch-ua-platform", `"Windows"`)
}
