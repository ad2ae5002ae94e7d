// Package topology holds the shared live view of the cluster that both
// the client and the server build on: the peer directory, the latency
// table, and the ranked-neighbours view, wired directly to the
// discovery callback contract.
package topology

import (
	"context"

	"github.com/geocache/geocache/internal/discovery"
	"github.com/geocache/geocache/internal/latency"
	"github.com/geocache/geocache/internal/peer"
	"github.com/sirupsen/logrus"
)

// Topology combines the directory, the latency table, and the prober
// behind the single discovery.Watcher contract a node or client
// registers with its discovery transport.
type Topology struct {
	Region    string
	Directory *peer.Directory
	Latency   *latency.Table
	Prober    *latency.Prober
	Resolver  discovery.Resolver
	Log       *logrus.Entry
}

// New builds a Topology for the given region, probing new peers with
// prober and resolving bare discovery events through resolver.
func New(region string, resolver discovery.Resolver, prober *latency.Prober, log *logrus.Entry) *Topology {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Topology{
		Region:    region,
		Directory: peer.NewDirectory(),
		Latency:   prober.Table,
		Prober:    prober,
		Resolver:  resolver,
		Log:       log,
	}
}

// OnAppeared implements discovery.Watcher. It resolves the bare event
// into a full peer record, appends it to the directory, and probes it
// once, synchronously, before returning control to the discovery layer.
func (t *Topology) OnAppeared(svcType, name string) {
	info, ok := t.Resolver.Resolve(svcType, name)
	if !ok {
		t.Log.WithField("name", name).Warn("topology: appeared peer could not be resolved")
		return
	}
	p := peer.Peer{ID: info.Name, Address: info.Address, Region: info.Region, Attrs: info.Attrs}
	t.Directory.Add(p)
	t.Prober.Probe(context.Background(), p.Region, p.ID, p.Address)
	t.logClusterInfo("appeared", p)
}

// OnDeparted implements discovery.Watcher. It removes the peer from the
// directory and cleans its latency sample too (and the region's
// ranked-neighbours entry, if it was the last peer in it).
func (t *Topology) OnDeparted(svcType, name string) {
	p, ok := t.Directory.Remove(name)
	if !ok {
		return
	}
	t.Latency.Forget(p.Region, p.ID)
	t.logClusterInfo("departed", p)
}

// OnUpdated implements discovery.Watcher as an advisory no-op: only
// logged, no state change.
func (t *Topology) OnUpdated(svcType, name string) {
	t.Log.WithField("name", name).Debug("topology: peer updated")
}

// RankedNeighbours returns the current ranked foreign-region sequence.
func (t *Topology) RankedNeighbours() []string {
	return t.Latency.Ranked()
}

func (t *Topology) logClusterInfo(event string, p peer.Peer) {
	mean, _ := t.Latency.Mean(p.Region)
	t.Log.WithFields(logrus.Fields{
		"event":        event,
		"peer":         p.ID,
		"region":       p.Region,
		"region_mean":  mean,
		"ranked":       t.RankedNeighbours(),
		"local_region": t.Region,
	}).Debug("topology: cluster info")
}
