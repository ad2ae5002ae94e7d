package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/geocache/geocache/internal/discovery"
	"github.com/geocache/geocache/internal/latency"
	"github.com/geocache/geocache/internal/peer"
	"github.com/geocache/geocache/internal/topology"
)

type noopPinger struct{}

func (noopPinger) Ping(ctx context.Context, address string, timeout time.Duration) error { return nil }

func addrOf(ts *httptest.Server) string {
	return strings.TrimPrefix(ts.URL, "http://")
}

func newTestCluster(t *testing.T, region string) (*Cluster, *topology.Topology) {
	t.Helper()
	prober := latency.NewProber(latency.NewTable(region), noopPinger{}, time.Second)
	top := topology.New(region, discovery.NewFake(), prober, nil)
	return New(top, &http.Client{}), top
}

func addPeer(top *topology.Topology, id, region, address string, latencyMS int) {
	top.Directory.Add(peer.Peer{ID: id, Region: region, Address: address})
	if region != top.Region {
		top.Latency.Record(region, id, latencyMS)
	}
}

func TestClusterGetHitsFirstLocalStage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("hello"))
	}))
	defer server.Close()

	c, top := newTestCluster(t, "us-east")
	addPeer(top, "local-1", "us-east", addrOf(server), 0)

	hit, val := c.Get("us-east", "k1")
	require.True(t, hit)
	require.Equal(t, "hello", string(val))
	require.Contains(t, c.LatestAction(), "GET:")
}

func TestClusterGetFailsOverToForeignRank0(t *testing.T) {
	miss := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer miss.Close()

	hit := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("from-foreign"))
	}))
	defer hit.Close()

	c, top := newTestCluster(t, "us-east")
	addPeer(top, "local-1", "us-east", addrOf(miss), 0)
	addPeer(top, "foreign-1", "eu-west", addrOf(hit), 50)

	found, val := c.Get("us-east", "k1")
	require.True(t, found)
	require.Equal(t, "from-foreign", string(val))
}

func TestClusterGetAllStagesMiss(t *testing.T) {
	miss := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer miss.Close()

	c, top := newTestCluster(t, "us-east")
	addPeer(top, "local-1", "us-east", addrOf(miss), 0)

	found, _ := c.Get("us-east", "k1")
	require.False(t, found)
	require.False(t, c.LastHit())
}

func TestClusterPutStopsAtFirstCompletedStage(t *testing.T) {
	var called int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called++
		w.WriteHeader(http.StatusInternalServerError) // client does not inspect status code
	}))
	defer server.Close()

	c, top := newTestCluster(t, "us-east")
	addPeer(top, "local-1", "us-east", addrOf(server), 0)

	ok := c.Put("us-east", "k1", []byte("v"), 3600)
	require.True(t, ok, "a completed call counts as success regardless of status code")
	require.Equal(t, 1, called)
}

func TestNextLocalServiceRoundRobinsAcrossCalls(t *testing.T) {
	c, top := newTestCluster(t, "us-east")
	top.Directory.Add(peer.Peer{ID: "p1", Region: "us-east", Address: "10.0.0.1:1"})
	top.Directory.Add(peer.Peer{ID: "p2", Region: "us-east", Address: "10.0.0.2:1"})

	first, ok := c.nextLocalService()
	require.True(t, ok)
	second, ok := c.nextLocalService()
	require.True(t, ok)

	require.NotEqual(t, first.ID, second.ID)
}
