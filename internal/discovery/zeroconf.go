package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"
)

// libServiceType and libDomain are ServiceType split the way grandcat/
// zeroconf wants it: service and domain passed separately, without the
// trailing dot duplicated.
const (
	libServiceType = "_server._geocache._tcp"
	libDomain      = "local."
)

// Register advertises this node on the local network via mDNS. The
// returned *zeroconf.Server must be shut down (Unregister, via Close) when
// the node leaves the cluster. address is not part of the advertisement:
// zeroconf.Register announces the host's own name and interface addresses.
func Register(instance, address string, port int, region string, testServer bool, testLatencyMS int) (*zeroconf.Server, error) {
	text := []string{fmt.Sprintf("%s=%s", PropRegion, region)}
	if testServer {
		text = append(text,
			fmt.Sprintf("%s=true", PropTestServer),
			fmt.Sprintf("%s=%d", PropTestLatency, testLatencyMS),
		)
	}
	return zeroconf.Register(instance, libServiceType, libDomain, port, text, nil)
}

// Browser watches the network for geocache instances via mDNS, recording
// when each was last seen with a periodic re-browse and an explicit
// staleness expiry. grandcat/zeroconf surfaces presence as a stream of sightings,
// not explicit departure events, so a departure here is synthesized from
// "not seen in the last two poll windows."
type Browser struct {
	mu       sync.Mutex
	seen     map[string]Info
	lastSeen map[string]time.Time
	watcher  Watcher
	resolver *zeroconf.Resolver
	selfName string
}

// NewBrowser creates a Browser that will notify watcher of appear/depart/
// update events. selfName excludes this node's own advertisement from the
// directory it feeds (a node is not its own peer).
func NewBrowser(watcher Watcher, selfName string) (*Browser, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("create mdns resolver: %w", err)
	}
	return &Browser{
		seen:     make(map[string]Info),
		lastSeen: make(map[string]time.Time),
		watcher:  watcher,
		resolver: resolver,
		selfName: selfName,
	}, nil
}

// Resolve implements Resolver by returning the last-observed record for a
// service instance name.
func (b *Browser) Resolve(svcType, name string) (Info, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	info, ok := b.seen[name]
	return info, ok
}

// Run browses for peers every pollInterval until ctx is cancelled. It
// blocks the caller; run it in its own goroutine.
func (b *Browser) Run(ctx context.Context, pollInterval time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		b.browseOnce(ctx, pollInterval)
		b.expireStale(2 * pollInterval)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (b *Browser) browseOnce(ctx context.Context, timeout time.Duration) {
	entries := make(chan *zeroconf.ServiceEntry, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range entries {
			b.observe(entry)
		}
	}()

	browseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := b.resolver.Browse(browseCtx, libServiceType, libDomain, entries); err != nil {
		logrus.WithError(err).Warn("discovery: mdns browse failed")
	}
	<-done
}

func (b *Browser) observe(entry *zeroconf.ServiceEntry) {
	if entry.Instance == b.selfName {
		return
	}
	attrs := parseTXT(entry.Text)
	region, ok := attrs[PropRegion]
	if !ok {
		return
	}
	address := ""
	if len(entry.AddrIPv4) > 0 {
		address = fmt.Sprintf("%s:%d", entry.AddrIPv4[0].String(), entry.Port)
	} else if entry.HostName != "" {
		address = fmt.Sprintf("%s:%d", strings.TrimSuffix(entry.HostName, "."), entry.Port)
	} else {
		return
	}

	info := Info{Name: entry.Instance, Address: address, Region: region, Attrs: attrs}

	b.mu.Lock()
	_, existed := b.seen[entry.Instance]
	b.seen[entry.Instance] = info
	b.lastSeen[entry.Instance] = time.Now()
	watcher := b.watcher
	b.mu.Unlock()

	if watcher == nil {
		return
	}
	if existed {
		watcher.OnUpdated(libServiceType, entry.Instance)
	} else {
		watcher.OnAppeared(libServiceType, entry.Instance)
	}
}

func (b *Browser) expireStale(after time.Duration) {
	cutoff := time.Now().Add(-after)

	b.mu.Lock()
	var stale []string
	for name, seenAt := range b.lastSeen {
		if seenAt.Before(cutoff) {
			stale = append(stale, name)
		}
	}
	for _, name := range stale {
		delete(b.seen, name)
		delete(b.lastSeen, name)
	}
	watcher := b.watcher
	b.mu.Unlock()

	if watcher == nil {
		return
	}
	for _, name := range stale {
		watcher.OnDeparted(libServiceType, name)
	}
}

func parseTXT(text []string) map[string]string {
	attrs := make(map[string]string, len(text))
	for _, kv := range text {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		attrs[parts[0]] = parts[1]
	}
	return attrs
}
