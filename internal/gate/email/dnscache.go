package email

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/rs/dnscache"
	"github.com/rs/zerolog/log"
)

const defaultDNSRefresh = 5 * time.Minute

// NewHTTPClient returns a client whose connections resolve hosts through
// resolver. A nil resolver falls back to the system resolver.
func NewHTTPClient(resolver *dnscache.Resolver, timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if resolver != nil {
		transport.DialContext = dialContextWithCache(resolver)
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

func dialContextWithCache(resolver *dnscache.Resolver) func(ctx context.Context, network, address string) (net.Conn, error) {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return func(ctx context.Context, network, address string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(address)
		if err != nil {
			return nil, err
		}
		ips, err := resolver.LookupHost(ctx, host)
		if err != nil {
			return nil, err
		}
		if len(ips) == 0 {
			return nil, &net.DNSError{Err: "no IP addresses found", Name: host}
		}

		var lastErr error
		for _, ip := range ips {
			conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
			if err == nil {
				return conn, nil
			}
			lastErr = err
		}
		return nil, lastErr
	}
}

// RefreshDNS periodically refreshes resolver until ctx is cancelled.
func RefreshDNS(ctx context.Context, resolver *dnscache.Resolver, every time.Duration) error {
	if resolver == nil {
		return nil
	}
	if every <= 0 {
		every = defaultDNSRefresh
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			resolver.Refresh(true)
			log.Debug().Dur("ttl", every).Msg("DNS cache refreshed")
		}
	}
}
