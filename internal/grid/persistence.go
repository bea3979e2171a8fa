package grid

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"time"

	"github.com/banshee-data/mcgrid/internal/monitoring"
)

// Snapshot matches the grid_snapshot table. GridBlob holds the gzipped
// text form written by Save.
type Snapshot struct {
	SnapshotID     *int64 // set by the store after insert
	RunID          string // matches run_id TEXT NOT NULL
	TakenUnixNanos int64  // matches taken_unix_nanos INTEGER NOT NULL
	Dimension      int    // matches dimension INTEGER NOT NULL
	MaxLeaves      int    // matches max_leaves INTEGER NOT NULL
	Mode           string // matches mode TEXT NOT NULL
	LeafCount      int    // matches leaf_count INTEGER NOT NULL
	Norm           float64
	Iteration      int
	GridBlob       []byte
	Reason         string // 'periodic', 'final', 'manual'
}

// SnapshotStore persists Snapshot records. Implemented by db.DB.
type SnapshotStore interface {
	InsertGridSnapshot(s *Snapshot) (int64, error)
}

// serializeGrid compresses the text form of g.
func serializeGrid(g *Grid) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := g.Save(gz); err != nil {
		gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// deserializeGrid decompresses and loads a blob written by serializeGrid.
func deserializeGrid(blob []byte, src Source, dim int) (*Grid, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("%w: empty grid blob", ErrMalformed)
	}
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()
	return Load(gz, src, dim)
}

// Snapshot captures the grid in a record ready for a SnapshotStore.
func (g *Grid) Snapshot(runID, reason string, iteration int, now time.Time) (*Snapshot, error) {
	blob, err := serializeGrid(g)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		RunID:          runID,
		TakenUnixNanos: now.UnixNano(),
		Dimension:      g.Dim(),
		MaxLeaves:      g.maxLeaves,
		Mode:           g.mode.String(),
		LeafCount:      g.leaves,
		Norm:           g.Norm(),
		Iteration:      iteration,
		GridBlob:       blob,
		Reason:         reason,
	}, nil
}

// Persist writes a snapshot of g through store and returns its ID.
func (g *Grid) Persist(store SnapshotStore, runID, reason string, iteration int, now time.Time) (int64, error) {
	if store == nil {
		return 0, nil
	}
	snap, err := g.Snapshot(runID, reason, iteration, now)
	if err != nil {
		return 0, err
	}
	id, err := store.InsertGridSnapshot(snap)
	if err != nil {
		return 0, err
	}
	monitoring.Infof("[grid] persisted snapshot: run=%s reason=%s iteration=%d leaves=%d/%d blob=%d bytes",
		runID, reason, iteration, g.leaves, g.maxLeaves, len(snap.GridBlob))
	return id, nil
}

// Restore rebuilds a grid from a stored snapshot.
func Restore(s *Snapshot, src Source) (*Grid, error) {
	if s == nil {
		return nil, fmt.Errorf("nil snapshot")
	}
	return deserializeGrid(s.GridBlob, src, s.Dimension)
}
