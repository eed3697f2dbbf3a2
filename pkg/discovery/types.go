package discovery

import (
	"errors"
	"net"
	"strconv"
	"time"
)

const (
	// ServiceType is the DNS-SD service type of a liveconn peer.
	ServiceType = "_liveconn._tcp"

	// Domain is the mDNS domain.
	Domain = "local."

	// DefaultPort is used when a peer advertises port 0.
	DefaultPort = 7420

	// MaxInstanceNameLen is the DNS label limit for instance names.
	MaxInstanceNameLen = 63
)

// TXT record keys.
const (
	TXTKeyHeartbeat = "hb"
	TXTKeyVersion   = "ver"
	TXTKeyTLS       = "tls"
)

var (
	ErrNotFound            = errors.New("peer not found")
	ErrInvalidInstanceName = errors.New("invalid instance name")
	ErrInstanceNameTooLong = errors.New("instance name too long")
	ErrMissingTXT          = errors.New("missing TXT record")
	ErrInvalidTXT          = errors.New("invalid TXT record")
)

// PeerInfo is what a peer advertises about itself.
type PeerInfo struct {
	InstanceName      string
	Port              uint16
	HeartbeatInterval int
	Version           string
	TLS               bool
}

// PeerService is a peer found by browsing.
type PeerService struct {
	InstanceName      string
	Host              string
	Port              uint16
	Addresses         []string
	HeartbeatInterval int
	Version           string
	TLS               bool
}

// Address returns a dialable host:port, preferring the first resolved address.
func (s *PeerService) Address() string {
	host := s.Host
	if len(s.Addresses) > 0 {
		host = s.Addresses[0]
	}
	return net.JoinHostPort(host, strconv.Itoa(int(s.Port)))
}

// AdvertiserConfig configures an Advertiser.
type AdvertiserConfig struct {
	// Interface restricts advertising to one network interface (empty = all).
	Interface string

	// TTL for DNS records (0 = library default).
	TTL time.Duration
}

// BrowserConfig configures a Browser.
type BrowserConfig struct {
	// Interface restricts browsing to one network interface (empty = all).
	Interface string

	// Timeout bounds FindFirst when the context has no deadline.
	Timeout time.Duration
}

// DefaultBrowserConfig returns the default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{Timeout: 10 * time.Second}
}
