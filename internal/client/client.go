// Package client implements the failover policy engine: a per-region
// cache client that walks a fixed four-stage probe order, two local
// peers round-robin, then the nearest foreign region, then the
// second-nearest, under strict per-hop timeouts.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/geocache/geocache/internal/peer"
	"github.com/geocache/geocache/internal/topology"
	"github.com/sirupsen/logrus"
)

// Per-hop timeouts for each stage of the probe order.
const (
	getTimeout            = 500 * time.Millisecond
	putDeleteLocalTimeout = 500 * time.Millisecond
	putDeleteRank0Timeout = 750 * time.Millisecond
	putDeleteRank1Timeout = 1000 * time.Millisecond
)

// outcome is the explicit result of one stage's attempt, in place of
// exception-as-control-flow: every stage produces one of these instead
// of raising and being caught.
type outcome int

const (
	outcomeOK outcome = iota
	outcomeMiss
	outcomeFail // timeout or transport error, the two are equivalent here
)

// Cluster is the per-region cache client: directory + latency view (via
// Topology), round-robin cursor, latest action, last-hit flag, and
// action counter.
type Cluster struct {
	Topology   *topology.Topology
	httpClient *http.Client
	log        *logrus.Entry

	mu            sync.Mutex
	localIndex    int
	latestAction  string
	lastHit       bool
	actionCounter int
}

// New creates a Cluster client for topology.Region, using httpClient for
// transport (callers should prefer one whose Timeout is zero; every
// call here sets its own per-hop deadline via context).
func New(top *topology.Topology, httpClient *http.Client) *Cluster {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Cluster{
		Topology:     top,
		httpClient:   httpClient,
		log:          top.Log,
		latestAction: "n/a",
	}
}

// LatestAction returns a human description of the most recently attempted
// URL, whether or not that attempt succeeded.
func (c *Cluster) LatestAction() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latestAction
}

// LastHit reports whether the most recent Get ended in a cache hit.
func (c *Cluster) LastHit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHit
}

// ActionCounter returns how many transport calls have actually been
// issued (distinct from stages attempted; a stage with no peer
// available issues no call).
func (c *Cluster) ActionCounter() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.actionCounter
}

// nextLocalService returns the peer at the round-robin cursor into the
// client's own region, then advances the cursor. Stateful across calls.
func (c *Cluster) nextLocalService() (peer.Peer, bool) {
	peers := c.Topology.Directory.PeersIn(c.Topology.Region)
	if len(peers) == 0 {
		return peer.Peer{}, false
	}

	c.mu.Lock()
	idx := c.localIndex
	if idx >= len(peers) {
		idx = 0
	}
	p := peers[idx]
	idx++
	if idx >= len(peers) {
		idx = 0
	}
	c.localIndex = idx
	c.mu.Unlock()

	return p, true
}

// randomForeignService picks a uniform-random peer from the foreign
// region at the given rank in the ranked-neighbours sequence (rank 0 =
// nearest). Returns false if there is no region at that rank, or it has
// no known peers.
func (c *Cluster) randomForeignService(rank int) (peer.Peer, bool) {
	ranked := c.Topology.RankedNeighbours()
	if rank < 0 || rank >= len(ranked) {
		return peer.Peer{}, false
	}
	peers := c.Topology.Directory.PeersIn(ranked[rank])
	if len(peers) == 0 {
		return peer.Peer{}, false
	}
	return peers[rand.Intn(len(peers))], true
}

func (c *Cluster) recordAction(description string) {
	c.mu.Lock()
	c.latestAction = description
	c.actionCounter++
	c.mu.Unlock()
}

func (c *Cluster) setLastHit(hit bool) {
	c.mu.Lock()
	c.lastHit = hit
	c.mu.Unlock()
}

func serviceURL(p peer.Peer, path string) string {
	return fmt.Sprintf("http://%s%s", p.Address, path)
}

// doGet issues one GET against p with the given per-hop timeout. Any
// transport failure or timeout maps to outcomeFail, a 200 to outcomeOK
// with the body, anything else (notably 404) to outcomeMiss.
func (c *Cluster) doGet(p peer.Peer, region, key string, timeout time.Duration) (outcome, []byte) {
	url := serviceURL(p, fmt.Sprintf("/%s/%s", region, key))
	c.recordAction("GET: " + url)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return outcomeFail, nil
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.WithError(err).WithField("url", url).Debug("client: GET failed")
		return outcomeFail, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return outcomeMiss, nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return outcomeFail, nil
	}
	return outcomeOK, body
}

// doPut issues one PUT against p. The client never inspects the server's
// status code, only whether the call completed at all.
func (c *Cluster) doPut(p peer.Peer, region, key string, value []byte, expirySeconds int, timeout time.Duration) outcome {
	url := serviceURL(p, fmt.Sprintf("/%s/%s?expiry=%d", region, key, expirySeconds))
	c.recordAction("PUT: " + url)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(value))
	if err != nil {
		return outcomeFail
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.WithError(err).WithField("url", url).Debug("client: PUT failed")
		return outcomeFail
	}
	resp.Body.Close()
	return outcomeOK
}

// doDelete issues one DELETE against p, same status-code-blind contract
// as doPut.
func (c *Cluster) doDelete(p peer.Peer, region, key string, timeout time.Duration) outcome {
	url := serviceURL(p, fmt.Sprintf("/%s/%s", region, key))
	c.recordAction("DELETE: " + url)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return outcomeFail
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.WithError(err).WithField("url", url).Debug("client: DELETE failed")
		return outcomeFail
	}
	resp.Body.Close()
	return outcomeOK
}

// Get walks the four-stage probe order, stopping at the first stage that
// reports a hit. A miss counts as failure for failover purposes and
// advances to the next stage. region selects which store a hit peer
// consults (own-region vs foreign-region) and need not match the
// client's own Topology.Region; the probe order itself is always built
// from the client's own region and ranked neighbours. Returns (false,
// nil) if all stages fail or have no peer to try.
func (c *Cluster) Get(region, key string) (bool, []byte) {
	first, haveFirst := c.nextLocalService()
	if haveFirst {
		if result, val := c.doGet(first, region, key, getTimeout); result == outcomeOK {
			c.setLastHit(true)
			return true, val
		}
	}

	second, haveSecond := c.nextLocalService()
	if haveSecond && (!haveFirst || second.ID != first.ID) {
		if result, val := c.doGet(second, region, key, getTimeout); result == outcomeOK {
			c.setLastHit(true)
			return true, val
		}
	}

	if r0, ok := c.randomForeignService(0); ok {
		if result, val := c.doGet(r0, region, key, getTimeout); result == outcomeOK {
			c.setLastHit(true)
			return true, val
		}
	}

	if r1, ok := c.randomForeignService(1); ok {
		if result, val := c.doGet(r1, region, key, getTimeout); result == outcomeOK {
			c.setLastHit(true)
			return true, val
		}
	}

	c.setLastHit(false)
	return false, nil
}

// Put walks the same four-stage order, stopping at the first stage whose
// transport call completes without timing out or erroring, not the
// first one that "succeeds" in any server-visible sense. region is the
// data's region (it need not match the client's own Topology.Region);
// exactly one target receives the write, and convergence to the rest of
// the cluster is the server's replication responsibility.
func (c *Cluster) Put(region, key string, value []byte, expirySeconds int) bool {
	first, haveFirst := c.nextLocalService()
	if haveFirst && c.doPut(first, region, key, value, expirySeconds, putDeleteLocalTimeout) == outcomeOK {
		return true
	}

	second, haveSecond := c.nextLocalService()
	if haveSecond && (!haveFirst || second.ID != first.ID) {
		if c.doPut(second, region, key, value, expirySeconds, putDeleteLocalTimeout) == outcomeOK {
			return true
		}
	}

	if r0, ok := c.randomForeignService(0); ok {
		if c.doPut(r0, region, key, value, expirySeconds, putDeleteRank0Timeout) == outcomeOK {
			return true
		}
	}

	if r1, ok := c.randomForeignService(1); ok {
		if c.doPut(r1, region, key, value, expirySeconds, putDeleteRank1Timeout) == outcomeOK {
			return true
		}
	}

	return false
}

// Delete mirrors Put's stop condition.
func (c *Cluster) Delete(region, key string) bool {
	first, haveFirst := c.nextLocalService()
	if haveFirst && c.doDelete(first, region, key, putDeleteLocalTimeout) == outcomeOK {
		return true
	}

	second, haveSecond := c.nextLocalService()
	if haveSecond && (!haveFirst || second.ID != first.ID) {
		if c.doDelete(second, region, key, putDeleteLocalTimeout) == outcomeOK {
			return true
		}
	}

	if r0, ok := c.randomForeignService(0); ok {
		if c.doDelete(r0, region, key, putDeleteRank0Timeout) == outcomeOK {
			return true
		}
	}

	if r1, ok := c.randomForeignService(1); ok {
		if c.doDelete(r1, region, key, putDeleteRank1Timeout) == outcomeOK {
			return true
		}
	}

	return false
}
