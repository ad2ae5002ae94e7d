package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/geocache/geocache/internal/audit"
	"github.com/geocache/geocache/internal/cache"
	"github.com/geocache/geocache/internal/discovery"
	"github.com/geocache/geocache/internal/latency"
	"github.com/geocache/geocache/internal/peer"
	"github.com/geocache/geocache/internal/topology"
)

type instantPinger struct{}

func (instantPinger) Ping(ctx context.Context, address string, timeout time.Duration) error {
	return nil
}

func newTestServer(t *testing.T, region, selfID string) (*Server, *topology.Topology) {
	t.Helper()
	prober := latency.NewProber(latency.NewTable(region), instantPinger{}, time.Second)
	top := topology.New(region, discovery.NewFake(), prober, logrus.NewEntry(logrus.New()))
	store := cache.NewStore(region, 100, 100)
	return New(selfID, top, store, nil, false, top.Log), top
}

func TestHandlePutThenGet(t *testing.T) {
	s, _ := newTestServer(t, "us-east", "node-1")
	ts := httptest.NewServer(s.Engine())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/us-east/k1?expiry=60", strings.NewReader("hello"))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/us-east/k1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleGetMissing(t *testing.T) {
	s, _ := newTestServer(t, "us-east", "node-1")
	ts := httptest.NewServer(s.Engine())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/us-east/nope")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleDeleteMissingReportsNotFound(t *testing.T) {
	s, _ := newTestServer(t, "us-east", "node-1")
	ts := httptest.NewServer(s.Engine())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/us-east/nope", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandlePutWithRecurseZeroDoesNotPanicWithoutPeers(t *testing.T) {
	s, _ := newTestServer(t, "us-east", "node-1")
	ts := httptest.NewServer(s.Engine())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/us-east/k1?recurse=0", strings.NewReader("v"))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestReplicationFansOutToSameRegionPeerWithRecurseZero(t *testing.T) {
	var gotRecurse string
	peerServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRecurse = r.URL.Query().Get("recurse")
		w.WriteHeader(http.StatusOK)
	}))
	defer peerServer.Close()

	s, top := newTestServer(t, "us-east", "node-1")
	top.Directory.Add(peer.Peer{ID: "node-2", Region: "us-east", Address: strings.TrimPrefix(peerServer.URL, "http://")})

	ts := httptest.NewServer(s.Engine())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/us-east/k1", strings.NewReader("v"))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	require.Eventually(t, func() bool { return gotRecurse == "0" }, time.Second, 10*time.Millisecond)
}

func TestReplicationCrossFansOnlyWhenDataRegionIsOwnRegion(t *testing.T) {
	var hitForeign bool
	foreignServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hitForeign = true
		require.Empty(t, r.URL.Query().Get("recurse"))
		w.WriteHeader(http.StatusOK)
	}))
	defer foreignServer.Close()

	s, top := newTestServer(t, "us-east", "node-1")
	top.Directory.Add(peer.Peer{ID: "foreign-1", Region: "eu-west", Address: strings.TrimPrefix(foreignServer.URL, "http://")})

	ts := httptest.NewServer(s.Engine())
	defer ts.Close()

	// Own-region write: should cross-fan to the foreign peer.
	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/us-east/k1", strings.NewReader("v"))
	resp, _ := http.DefaultClient.Do(req)
	resp.Body.Close()
	require.Eventually(t, func() bool { return hitForeign }, time.Second, 10*time.Millisecond)

	hitForeign = false
	// Foreign-region write landing on this node should NOT cross-fan further.
	req, _ = http.NewRequest(http.MethodPut, ts.URL+"/ap-south/k2", strings.NewReader("v"))
	resp, _ = http.DefaultClient.Do(req)
	resp.Body.Close()
	time.Sleep(100 * time.Millisecond)
	require.False(t, hitForeign)
}

func TestParseExpirySecondsMalformedFallsBackToDefault(t *testing.T) {
	require.Equal(t, cache.DefaultExpirySeconds, parseExpirySeconds(""))
	require.Equal(t, cache.DefaultExpirySeconds, parseExpirySeconds("not-a-number"))
	require.Equal(t, cache.MinExpirySeconds, parseExpirySeconds("-5"))
	require.Equal(t, 120, parseExpirySeconds("120"))
}

func TestAuditLogRecordsWrites(t *testing.T) {
	path := t.TempDir() + "/audit.ndjson"
	a, err := audit.Open(path)
	require.NoError(t, err)
	defer a.Close()

	prober := latency.NewProber(latency.NewTable("us-east"), instantPinger{}, time.Second)
	top := topology.New("us-east", discovery.NewFake(), prober, logrus.NewEntry(logrus.New()))
	store := cache.NewStore("us-east", 100, 100)
	s := New("node-1", top, store, a, false, top.Log)

	ts := httptest.NewServer(s.Engine())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/us-east/k1", strings.NewReader("v"))
	resp, _ := http.DefaultClient.Do(req)
	resp.Body.Close()

	records, err := a.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "PUT", records[0].Op)
}
