package audit

import (
	"encoding/json"
	"os"
	"time"

	"github.com/geocache/geocache/internal/topology"
)

// TopologyState is a point-in-time dump of what a node believed about
// its cluster: peers per region, the ranked-neighbours view, and each
// region's mean latency. Purely observational; nothing reloads this on
// startup.
type TopologyState struct {
	Time             time.Time         `json:"time"`
	Region           string            `json:"region"`
	Peers            map[string]int    `json:"peers"`    // region -> peer count
	RankedNeighbours []string          `json:"ranked_neighbours"`
	RegionMeansMS    map[string]int    `json:"region_means_ms"`
}

// SnapshotWriter periodically dumps a node's topology state to a single
// file via write-then-rename, so a reader never observes a half-written
// snapshot.
type SnapshotWriter struct {
	path string
}

// NewSnapshotWriter creates a writer targeting path.
func NewSnapshotWriter(path string) *SnapshotWriter {
	return &SnapshotWriter{path: path}
}

// Write captures top's current state and persists it.
func (w *SnapshotWriter) Write(top *topology.Topology) error {
	regions := top.Directory.Regions()
	peers := make(map[string]int, len(regions))
	means := make(map[string]int, len(regions))
	for _, r := range regions {
		peers[r] = top.Directory.Count(r)
		if mean, ok := top.Latency.Mean(r); ok {
			means[r] = mean
		}
	}

	state := TopologyState{
		Time:             time.Now(),
		Region:           top.Region,
		Peers:            peers,
		RankedNeighbours: top.RankedNeighbours(),
		RegionMeansMS:    means,
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, w.path)
}

// Load reads back the last written snapshot, for tooling that inspects a
// node's last-known state rather than its live one.
func (w *SnapshotWriter) Load() (TopologyState, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return TopologyState{}, err
	}
	var state TopologyState
	err = json.Unmarshal(data, &state)
	return state, err
}
