package auth

import (
	"net"
)

// TrustedNetworkPolicy classifies a client IP as trusted or not. MFA is
// mandatory for untrusted clients; the classification itself is deployment
// policy, injected rather than hard-coded.
type TrustedNetworkPolicy interface {
	IsTrusted(ip string) bool
}

// CIDRTrustPolicy trusts clients whose IP falls inside any configured CIDR.
// An empty list, an unparseable IP, or an unparseable CIDR all fail closed:
// the client is untrusted and MFA is required.
type CIDRTrustPolicy struct {
	networks []*net.IPNet
}

// NewCIDRTrustPolicy parses the configured CIDR list. Invalid entries are
// skipped rather than trusted.
func NewCIDRTrustPolicy(cidrs []string) *CIDRTrustPolicy {
	networks := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		if _, ipNet, err := net.ParseCIDR(cidr); err == nil {
			networks = append(networks, ipNet)
		}
	}
	return &CIDRTrustPolicy{networks: networks}
}

func (p *CIDRTrustPolicy) IsTrusted(ip string) bool {
	clientIP := net.ParseIP(ip)
	if clientIP == nil {
		return false
	}

	for _, network := range p.networks {
		if network.Contains(clientIP) {
			return true
		}
	}
	return false
}
