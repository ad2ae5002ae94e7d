// Package discovery models the service-discovery transport as a
// three-method callback contract: appeared / departed / updated. The
// production implementation (zeroconf.go) drives these callbacks from
// mDNS; tests use the in-memory Fake.
package discovery

// Watcher is the callback contract the discovery layer invokes. All three
// methods are called on the discovery layer's own goroutine(s); an
// implementation must treat its internal state as concurrently written.
type Watcher interface {
	OnAppeared(svcType, name string)
	OnDeparted(svcType, name string)
	OnUpdated(svcType, name string)
}

// Info is the full record a Resolver returns for a discovered service
// instance: endpoint, region, and whatever optional attributes (e.g. the
// synthetic-latency markers test harnesses use) it was advertised with.
type Info struct {
	Name    string
	Address string // host:port
	Region  string
	Attrs   map[string]string
}

// Resolver looks up the full record behind a service name. OnAppeared
// calls this to turn a bare discovery event into a peer.Peer.
type Resolver interface {
	Resolve(svcType, name string) (Info, bool)
}

// ServiceType is the discovery service type every geocache node
// advertises and browses for.
const ServiceType = "_server._geocache._tcp.local."

// Property keys carried in the service's TXT record.
const (
	PropRegion      = "region"
	PropTestServer  = "test_server"
	PropTestLatency = "test_latency"
)
