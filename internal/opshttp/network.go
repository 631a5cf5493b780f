package opshttp

import (
	"net"
	"net/http"
	"net/netip"

	"github.com/keithlinneman/linnemanlabs-contact/internal/log"
)

// nonPublic reports whether the peer is loopback, private or link-local.
func nonPublic(remoteAddr string) (netip.Addr, bool) {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return netip.Addr{}, false
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	ip = ip.Unmap()
	return ip, ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()
}

// requireNonPublicNetwork keeps pprof and metrics off the internet even if a
// security group is misconfigured.
func requireNonPublicNetwork(L log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ip, ok := nonPublic(r.RemoteAddr); !ok {
				L.Warn(r.Context(), "rejected ops request from public address",
					"remote_addr", ip.String(),
					"url.path", r.URL.Path,
				)
				http.Error(w, "forbidden\n", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
