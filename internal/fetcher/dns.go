package fetcher

import (
	"context"
	"net"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
)

// NetResolver resolves hosts with the system resolver.
type NetResolver struct {
	Resolver *net.Resolver
}

// LookupHost returns the addresses for host.
func (r NetResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	res := r.Resolver
	if res == nil {
		res = net.DefaultResolver
	}
	addrs, err := res.LookupHost(ctx, host)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: lookup %s", host)
	}
	return addrs, nil
}

// HostOf returns the lower-cased host name of a URL.
func HostOf(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", eris.Wrapf(err, "fetcher: parse %q", rawURL)
	}
	if u.Hostname() == "" {
		return "", eris.Errorf("fetcher: no host in %q", rawURL)
	}
	return strings.ToLower(u.Hostname()), nil
}
