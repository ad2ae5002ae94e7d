package topology

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/geocache/geocache/internal/discovery"
	"github.com/geocache/geocache/internal/latency"
)

type instantPinger struct{}

func (instantPinger) Ping(ctx context.Context, address string, timeout time.Duration) error {
	return nil
}

func newTestTopology(region string) (*Topology, *discovery.Fake) {
	fake := discovery.NewFake()
	prober := latency.NewProber(latency.NewTable(region), instantPinger{}, time.Second)
	top := New(region, fake, prober, nil)
	fake.Watch(top)
	return top, fake
}

func TestTopologyOnAppearedAddsAndProbesPeer(t *testing.T) {
	top, fake := newTestTopology("us-east")

	fake.Appear(discovery.Info{Name: "peer-1", Address: "10.0.0.1:8080", Region: "eu-west"})

	require.Equal(t, 1, top.Directory.Count("eu-west"))
	mean, ok := top.Latency.Mean("eu-west")
	require.True(t, ok)
	require.GreaterOrEqual(t, mean, 0)
	require.Equal(t, []string{"eu-west"}, top.RankedNeighbours())
}

func TestTopologyOnDepartedCleansLatency(t *testing.T) {
	top, fake := newTestTopology("us-east")
	fake.Appear(discovery.Info{Name: "peer-1", Address: "10.0.0.1:8080", Region: "eu-west"})
	require.Equal(t, []string{"eu-west"}, top.RankedNeighbours())

	fake.Depart("peer-1")

	require.Equal(t, 0, top.Directory.Count("eu-west"))
	_, ok := top.Latency.Mean("eu-west")
	require.False(t, ok)
	require.Empty(t, top.RankedNeighbours())
}

func TestTopologyOnAppearedUnresolvableIsIgnored(t *testing.T) {
	top, _ := newTestTopology("us-east")

	// Not registered with fake.Appear, so Resolve will fail.
	top.OnAppeared(discovery.ServiceType, "ghost")

	require.Empty(t, top.Directory.Regions())
}
