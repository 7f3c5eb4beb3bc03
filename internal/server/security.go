package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"net/http"
	"net/netip"
	"strings"

	"github.com/MrWong99/vocalith/internal/config"
)

// AccessGuard applies the connection-time admission checks: source-IP
// allowlisting (with optional X-Forwarded-For resolution behind trusted
// proxies), a shared-secret header, and a query-string token. All gates are
// independent; a request must clear every enabled one.
type AccessGuard struct {
	allowlist      []netip.Prefix
	trustedProxies []netip.Prefix

	sharedSecret       string
	sharedSecretHeader string
	queryToken         string
	queryTokenParam    string

	allowlistEnabled    bool
	trustedProxyEnabled bool
	secretEnabled       bool
	tokenEnabled        bool
}

// NewAccessGuard builds a guard from the security config. The config is
// assumed to have passed [config.Validate]; malformed CIDRs still return an
// error rather than silently admitting everyone.
func NewAccessGuard(cfg config.SecurityConfig) (*AccessGuard, error) {
	g := &AccessGuard{
		sharedSecret:        cfg.SharedSecret,
		sharedSecretHeader:  cfg.SharedSecretHeader,
		queryToken:          cfg.QueryToken,
		queryTokenParam:     cfg.QueryTokenParam,
		allowlistEnabled:    cfg.AllowlistEnabled,
		trustedProxyEnabled: cfg.TrustedProxyEnabled,
		secretEnabled:       cfg.SharedSecretEnabled,
		tokenEnabled:        cfg.QueryToken != "",
	}
	var err error
	if g.allowlist, err = parsePrefixes(cfg.AllowlistCIDRs); err != nil {
		return nil, fmt.Errorf("server: allowlist: %w", err)
	}
	if g.trustedProxies, err = parsePrefixes(cfg.TrustedProxyCIDRs); err != nil {
		return nil, fmt.Errorf("server: trusted proxies: %w", err)
	}
	return g, nil
}

func parsePrefixes(cidrs []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		p, err := netip.ParsePrefix(strings.TrimSpace(c))
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", c, err)
		}
		prefixes = append(prefixes, p)
	}
	return prefixes, nil
}

// Admit checks every enabled gate against r. On rejection it returns false
// and a short machine-readable reason for logs and close frames.
func (g *AccessGuard) Admit(r *http.Request) (reason string, ok bool) {
	if g.allowlistEnabled {
		addr, err := g.ClientAddr(r)
		if err != nil {
			return "client_addr_unresolvable", false
		}
		if !containsAddr(g.allowlist, addr) {
			return "ip_not_allowed", false
		}
	}
	if g.secretEnabled {
		if !constantTimeEqual(r.Header.Get(g.sharedSecretHeader), g.sharedSecret) {
			return "bad_signature", false
		}
	}
	if g.tokenEnabled {
		if !constantTimeEqual(r.URL.Query().Get(g.queryTokenParam), g.queryToken) {
			return "bad_token", false
		}
	}
	return "", true
}

// ClientAddr resolves the caller's source address. When the trusted-proxy
// gate is on and the direct peer is a trusted proxy, the X-Forwarded-For
// chain is walked right to left and the first hop that is not itself a
// trusted proxy wins. Otherwise the TCP peer address is authoritative.
func (g *AccessGuard) ClientAddr(r *http.Request) (netip.Addr, error) {
	peer, err := remoteAddr(r)
	if err != nil {
		return netip.Addr{}, err
	}
	if !g.trustedProxyEnabled || !containsAddr(g.trustedProxies, peer) {
		return peer, nil
	}

	hops := forwardedChain(r.Header.Values("X-Forwarded-For"))
	for i := len(hops) - 1; i >= 0; i-- {
		addr, err := netip.ParseAddr(hops[i])
		if err != nil {
			return netip.Addr{}, fmt.Errorf("server: forwarded hop %q: %w", hops[i], err)
		}
		if !containsAddr(g.trustedProxies, addr) {
			return addr, nil
		}
	}
	// Every hop was a trusted proxy; fall back to the nearest one.
	return peer, nil
}

func remoteAddr(r *http.Request) (netip.Addr, error) {
	ap, err := netip.ParseAddrPort(r.RemoteAddr)
	if err != nil {
		// Some test servers hand out a bare host without a port.
		addr, aerr := netip.ParseAddr(r.RemoteAddr)
		if aerr != nil {
			return netip.Addr{}, fmt.Errorf("server: remote addr %q: %w", r.RemoteAddr, err)
		}
		return addr.Unmap(), nil
	}
	return ap.Addr().Unmap(), nil
}

func forwardedChain(headers []string) []string {
	var hops []string
	for _, h := range headers {
		for _, part := range strings.Split(h, ",") {
			if p := strings.TrimSpace(part); p != "" {
				hops = append(hops, p)
			}
		}
	}
	return hops
}

func containsAddr(prefixes []netip.Prefix, addr netip.Addr) bool {
	for _, p := range prefixes {
		if p.Contains(addr.Unmap()) {
			return true
		}
	}
	return false
}

// constantTimeEqual compares secrets without leaking length or prefix
// timing. Both sides are hashed first so unequal lengths still take the
// same time.
func constantTimeEqual(got, want string) bool {
	if want == "" {
		return false
	}
	gh := sha256.Sum256([]byte(got))
	wh := sha256.Sum256([]byte(want))
	return subtle.ConstantTimeCompare(gh[:], wh[:]) == 1
}
