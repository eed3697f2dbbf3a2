package discovery

import (
	"context"
	"fmt"
	"net"
	"slices"
	"sync"

	"github.com/enbility/zeroconf/v3"
)

// Advertiser announces one liveconn peer.
type Advertiser struct {
	config AdvertiserConfig

	mu     sync.Mutex
	server *zeroconf.Server
	info   PeerInfo
}

// NewAdvertiser creates an advertiser.
func NewAdvertiser(config AdvertiserConfig) *Advertiser {
	return &Advertiser{config: config}
}

// Advertise registers the peer, replacing any earlier registration.
func (a *Advertiser) Advertise(info *PeerInfo) error {
	if err := ValidateInstanceName(info.InstanceName); err != nil {
		return err
	}
	if info.HeartbeatInterval < 1 {
		return fmt.Errorf("%w: heartbeat interval %d", ErrInvalidTXT, info.HeartbeatInterval)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	port := int(info.Port)
	if port == 0 {
		port = DefaultPort
	}

	var opts []zeroconf.ServerOption
	if a.config.TTL > 0 {
		opts = append(opts, zeroconf.TTL(uint32(a.config.TTL.Seconds())))
	}

	server, err := zeroconf.Register(
		info.InstanceName,
		ServiceType,
		Domain,
		port,
		TXTRecordsToStrings(EncodePeerTXT(info)),
		interfaces(a.config.Interface),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("failed to register %s: %w", ServiceType, err)
	}

	a.server = server
	a.info = *info
	return nil
}

// UpdateHeartbeat republishes the TXT records with a new interval.
func (a *Advertiser) UpdateHeartbeat(interval int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server == nil {
		return ErrNotFound
	}
	a.info.HeartbeatInterval = interval
	a.server.SetText(TXTRecordsToStrings(EncodePeerTXT(&a.info)))
	return nil
}

// Stop withdraws the registration.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// Browser finds liveconn peers.
type Browser struct {
	config BrowserConfig
}

// NewBrowser creates a browser.
func NewBrowser(config BrowserConfig) *Browser {
	return &Browser{config: config}
}

// Browse emits each peer once, as first seen, until ctx is done.
// Peers with unusable TXT records are skipped.
func (b *Browser) Browse(ctx context.Context) (<-chan *PeerService, error) {
	out := make(chan *PeerService)
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	var opts []zeroconf.ClientOption
	if ifaces := interfaces(b.config.Interface); ifaces != nil {
		opts = append(opts, zeroconf.SelectIfaces(ifaces))
	}

	go func(removed <-chan *zeroconf.ServiceEntry) {
		defer close(out)

		// Keyed by instance name; later answers only add addresses.
		peers := make(map[string]*PeerService)

		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				svc, err := peerFromEntry(entry)
				if err != nil {
					continue
				}
				if existing, found := peers[svc.InstanceName]; found {
					existing.Addresses = mergeAddresses(existing.Addresses, svc.Addresses)
					continue
				}
				peers[svc.InstanceName] = svc
				emitted := *svc
				emitted.Addresses = slices.Clone(svc.Addresses)
				select {
				case out <- &emitted:
				case <-ctx.Done():
					return
				}

			case entry, ok := <-removed:
				if !ok {
					removed = nil
					continue
				}
				if existing, found := peers[entry.Instance]; found {
					existing.Addresses = removeAddresses(existing.Addresses, entry)
					if len(existing.Addresses) == 0 {
						delete(peers, entry.Instance)
					}
				}

			case <-ctx.Done():
				return
			}
		}
	}(removed)

	go func() {
		_ = zeroconf.Browse(ctx, ServiceType, Domain, entries, removed, opts...)
	}()

	return out, nil
}

// FindFirst returns the first peer found. With an empty instance any
// peer matches.
func (b *Browser) FindFirst(ctx context.Context, instance string) (*PeerService, error) {
	if _, ok := ctx.Deadline(); !ok && b.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.config.Timeout)
		defer cancel()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}
	for svc := range results {
		if instance == "" || svc.InstanceName == instance {
			return svc, nil
		}
	}
	return nil, ErrNotFound
}

func peerFromEntry(entry *zeroconf.ServiceEntry) (*PeerService, error) {
	return newPeerService(entry.Instance, entry.HostName, entry.Port, entry.Text, entry.AddrIPv4, entry.AddrIPv6)
}

func newPeerService(instance, host string, port int, text []string, ipv4, ipv6 []net.IP) (*PeerService, error) {
	info, err := DecodePeerTXT(StringsToTXTRecords(text))
	if err != nil {
		return nil, err
	}

	addrs := make([]string, 0, len(ipv4)+len(ipv6))
	for _, ip := range ipv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range ipv6 {
		addrs = append(addrs, ip.String())
	}

	return &PeerService{
		InstanceName:      instance,
		Host:              host,
		Port:              uint16(port),
		Addresses:         addrs,
		HeartbeatInterval: info.HeartbeatInterval,
		Version:           info.Version,
		TLS:               info.TLS,
	}, nil
}

// interfaces resolves a configured interface name. Nil means all.
func interfaces(name string) []net.Interface {
	if name == "" {
		return nil
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}

func mergeAddresses(existing, added []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, addr := range existing {
		seen[addr] = true
	}
	for _, addr := range added {
		if !seen[addr] {
			existing = append(existing, addr)
			seen[addr] = true
		}
	}
	return existing
}

func removeAddresses(addresses []string, entry *zeroconf.ServiceEntry) []string {
	gone := make(map[string]bool)
	for _, ip := range entry.AddrIPv4 {
		gone[ip.String()] = true
	}
	for _, ip := range entry.AddrIPv6 {
		gone[ip.String()] = true
	}

	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if !gone[addr] {
			result = append(result, addr)
		}
	}
	return result
}
