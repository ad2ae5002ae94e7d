// Package peer holds the immutable peer record and the region-keyed
// directory that the discovery layer, the prober, the failover policy,
// and the replication engine all read.
package peer

import "sync"

// Peer is a single cache node advertised over the discovery layer.
// Peers are never mutated in place; a changed peer is a new Peer value.
type Peer struct {
	ID      string
	Address string // host:port
	Region  string
	Attrs   map[string]string
}

// TestLatencyMS returns the synthetic base latency a test peer advertises,
// or (0, false) if the peer carries no test_latency attribute.
func (p Peer) TestLatencyMS() (int, bool) {
	v, ok := p.Attrs["test_latency"]
	if !ok {
		return 0, false
	}
	ms := 0
	for _, c := range v {
		if c < '0' || c > '9' {
			return 0, false
		}
		ms = ms*10 + int(c-'0')
	}
	return ms, true
}

// IsTestPeer reports whether the peer was advertised by a synthetic test node.
func (p Peer) IsTestPeer() bool {
	return p.Attrs["test_server"] == "true"
}

// Directory is the region -> ordered peer list a node or client builds
// up as peers appear and depart. Insertion order within a region is
// discovery order and is observable: the failover policy's round-robin
// cursor relies on it. A peer ID occurs in at most one region at a
// time; an empty region is removed entirely.
type Directory struct {
	mu      sync.RWMutex
	regions map[string][]Peer
	byID    map[string]string // peer ID -> region, for O(1) departure lookup
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		regions: make(map[string][]Peer),
		byID:    make(map[string]string),
	}
}

// Add appends p to its region's sequence, creating the region if new.
// If a peer with the same ID already exists, the old record is removed
// first and p is appended at the end of its region's sequence.
func (d *Directory) Add(p Peer) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if prevRegion, ok := d.byID[p.ID]; ok {
		d.removeLocked(prevRegion, p.ID)
	}
	d.regions[p.Region] = append(d.regions[p.Region], p)
	d.byID[p.ID] = p.Region
}

// Remove deletes the peer by ID from whatever region holds it, removing
// the region key entirely if that was its last member. Returns the
// removed peer and whether it was found.
func (d *Directory) Remove(id string) (Peer, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	region, ok := d.byID[id]
	if !ok {
		return Peer{}, false
	}
	removed, ok := d.removeLocked(region, id)
	return removed, ok
}

func (d *Directory) removeLocked(region, id string) (Peer, bool) {
	peers := d.regions[region]
	for i, p := range peers {
		if p.ID == id {
			peers = append(peers[:i], peers[i+1:]...)
			if len(peers) == 0 {
				delete(d.regions, region)
			} else {
				d.regions[region] = peers
			}
			delete(d.byID, id)
			return p, true
		}
	}
	return Peer{}, false
}

// PeersIn returns a snapshot copy of the ordered peer sequence for region.
// Copying avoids the fan-out loop or round-robin cursor observing a slice
// that the directory is concurrently mutating underneath it.
func (d *Directory) PeersIn(region string) []Peer {
	d.mu.RLock()
	defer d.mu.RUnlock()

	src := d.regions[region]
	out := make([]Peer, len(src))
	copy(out, src)
	return out
}

// Regions returns the current set of non-empty region labels.
func (d *Directory) Regions() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]string, 0, len(d.regions))
	for r := range d.regions {
		out = append(out, r)
	}
	return out
}

// Peer looks up a single peer by ID regardless of region.
func (d *Directory) Peer(id string) (Peer, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	region, ok := d.byID[id]
	if !ok {
		return Peer{}, false
	}
	for _, p := range d.regions[region] {
		if p.ID == id {
			return p, true
		}
	}
	return Peer{}, false
}

// Count returns the number of peers known in region.
func (d *Directory) Count(region string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.regions[region])
}
