package db

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/mcgrid/internal/httputil"
	"github.com/banshee-data/mcgrid/internal/monitoring"
)

// snapshotInfo is the JSON form of a snapshot listing entry.
type snapshotInfo struct {
	SnapshotID     int64   `json:"snapshot_id"`
	RunID          string  `json:"run_id"`
	TakenUnixNanos int64   `json:"taken_unix_nanos"`
	Dimension      int     `json:"dimension"`
	MaxLeaves      int     `json:"max_leaves"`
	Mode           string  `json:"mode"`
	LeafCount      int     `json:"leaf_count"`
	Norm           float64 `json:"norm"`
	Iteration      int     `json:"iteration"`
	Reason         string  `json:"reason"`
}

// AttachAdminRoutes mounts the database pages on debug: a live SQL
// console, a backup download, and snapshot and run listings.
func (db *DB) AttachAdminRoutes(debug *tsweb.DebugHandler) error {
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(db.path), db.DB, &tailsql.DBOptions{
		Label: "Grid DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(db.handleBackup))
	debug.Handle("snapshots", "Recent grid snapshots (?run_id=, ?limit=)", http.HandlerFunc(db.handleSnapshots))
	debug.Handle("snapshot", "Download one grid in text form (?id=)", http.HandlerFunc(db.handleSnapshot))
	debug.Handle("runs", "Recent integration runs (?limit=)", http.HandlerFunc(db.handleRuns))
	return nil
}

func (db *DB) handleBackup(w http.ResponseWriter, r *http.Request) {
	backupPath := filepath.Join(os.TempDir(), fmt.Sprintf("mcgrid-backup-%d.db", time.Now().UnixNano()))
	if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to create backup: %v", err))
		return
	}
	defer func() {
		if err := os.Remove(backupPath); err != nil {
			monitoring.Warnf("[db] failed to remove backup file: %v", err)
		}
	}()

	backupFile, err := os.Open(backupPath)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to open backup file: %v", err))
		return
	}
	defer backupFile.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", filepath.Base(backupPath)))
	w.Header().Set("Content-Type", "application/gzip")
	gz := gzip.NewWriter(w)
	defer gz.Close()
	if _, err := io.Copy(gz, backupFile); err != nil {
		monitoring.Warnf("[db] backup transfer failed: %v", err)
	}
}

func queryLimit(r *http.Request) int {
	return httputil.QueryInt(r, "limit", 50, 1, 1000)
}

func (db *DB) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := db.ListGridSnapshots(r.URL.Query().Get("run_id"), queryLimit(r))
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	out := make([]snapshotInfo, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, snapshotInfo{
			SnapshotID:     *s.SnapshotID,
			RunID:          s.RunID,
			TakenUnixNanos: s.TakenUnixNanos,
			Dimension:      s.Dimension,
			MaxLeaves:      s.MaxLeaves,
			Mode:           s.Mode,
			LeafCount:      s.LeafCount,
			Norm:           s.Norm,
			Iteration:      s.Iteration,
			Reason:         s.Reason,
		})
	}
	httputil.WriteJSONOK(w, out)
}

// handleSnapshot serves the stored blob as is: it is already the gzipped
// text form.
func (db *DB) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil {
		httputil.BadRequest(w, "id must be an integer")
		return
	}
	s, err := db.GetGridSnapshot(id)
	if errors.Is(err, ErrNotFound) {
		httputil.NotFound(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Encoding", "gzip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=grid-%d.txt", id))
	if _, err := w.Write(s.GridBlob); err != nil {
		monitoring.Warnf("[db] failed to write snapshot %d: %v", id, err)
	}
}

func (db *DB) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := db.ListRuns(queryLimit(r))
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, runs)
}
