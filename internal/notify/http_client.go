package notify

import (
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"
)

// 通知通道共用的 HTTP 客户端
var (
	sharedHTTPClient *http.Client
	httpClientOnce   sync.Once
)

// SharedHTTPClient returns the pooled client behind every webhook, Slack and
// Discord call. Per call deadlines come from the request context.
func SharedHTTPClient() *http.Client {
	httpClientOnce.Do(func() {
		transport := &http.Transport{
			MaxIdleConns:        50,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,

			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},

			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,

			ResponseHeaderTimeout: 30 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ForceAttemptHTTP2:     true,
		}

		sharedHTTPClient = &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		}
	})

	return sharedHTTPClient
}
