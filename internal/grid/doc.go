// Package grid owns the adaptive importance-sampling grid.
//
// Responsibilities: partitioning a rectangular domain into a binary tree
// of axis-aligned bins, drawing points with probability proportional to
// learned bin weights, adapting the tree by splitting heavy leaves and
// merging light ones, and saving/restoring the tree.
// Key types: Grid, SubGrid, Bin, Mode, Snapshot.
//
// Bins are stored in an arena owned by the Grid and addressed by index;
// no bin outlives its grid. No SQL/database code is allowed in this
// package: stores implement SnapshotStore.
package grid
