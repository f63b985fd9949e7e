package tlsutil

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/dnscache"
	"github.com/rs/zerolog/log"
)

// The dashboard polls the same handful of Proxmox hosts continuously, so a
// cached resolver avoids hammering DNS on every poll cycle.
var (
	resolver     *dnscache.Resolver
	resolverOnce sync.Once
)

const resolverRefreshInterval = 5 * time.Minute

func getResolver() *dnscache.Resolver {
	resolverOnce.Do(func() {
		resolver = &dnscache.Resolver{}
		go func() {
			ticker := time.NewTicker(resolverRefreshInterval)
			defer ticker.Stop()
			for range ticker.C {
				resolver.Refresh(true)
				log.Debug().Msg("DNS cache refreshed")
			}
		}()
	})
	return resolver
}

// cachedDialContext dials using the shared caching resolver.
func cachedDialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}

	ips, err := getResolver().LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, &net.DNSError{Err: "no IP addresses found", Name: host}
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
}
