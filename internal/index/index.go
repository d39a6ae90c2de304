// Package index keeps a SQLite record of collection runs and the frames
// each run saved. The dataset writer consults it to resume a segment
// without overwriting earlier frames.
package index

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/lanegen/internal/monitoring"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Index is the frame index database.
type Index struct {
	*sql.DB
	path string
}

// Open opens (creating if needed) the index at path and applies pending
// migrations.
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	ix := &Index{DB: db, path: path}
	if err := ix.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return ix, nil
}

// MigrateUp runs all pending migrations up to the latest version.
func (ix *Index) MigrateUp() error {
	m, err := ix.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: closing it would close the shared *sql.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the applied schema version and dirty flag.
func (ix *Index) MigrateVersion() (uint, bool, error) {
	m, err := ix.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (ix *Index) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(ix.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return false }

// Run is one collection run writing into a single segment.
type Run struct {
	ID      string
	Town    string
	Split   string
	Segment string
}

// StartRun registers a new run.
func (ix *Index) StartRun(town, split, segment string) (Run, error) {
	r := Run{ID: uuid.NewString(), Town: town, Split: split, Segment: segment}
	_, err := ix.Exec(
		`INSERT INTO runs (run_id, town, split, segment) VALUES (?, ?, ?, ?)`,
		r.ID, r.Town, r.Split, r.Segment,
	)
	if err != nil {
		return Run{}, fmt.Errorf("start run: %w", err)
	}
	return r, nil
}

// Frame is one saved frame.
type Frame struct {
	RunID     string
	Split     string
	Segment   string
	Index     int
	Tick      uint64
	RoadID    int
	LaneCount int
	FilePath  string
	CreatedAt time.Time
}

// RecordFrame stores a saved frame. Recording the same (split, segment,
// index) twice is an error.
func (ix *Index) RecordFrame(f Frame) error {
	_, err := ix.Exec(
		`INSERT INTO frames (run_id, split, segment, frame_index, tick, road_id, lane_count, file_path)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.RunID, f.Split, f.Segment, f.Index, int64(f.Tick), f.RoadID, f.LaneCount, f.FilePath,
	)
	if err != nil {
		return fmt.Errorf("record frame %s/%s/%d: %w", f.Split, f.Segment, f.Index, err)
	}
	return nil
}

// NextFrameIndex returns the first unused frame index in a segment.
func (ix *Index) NextFrameIndex(split, segment string) (int, error) {
	var next int
	err := ix.QueryRow(
		`SELECT COALESCE(MAX(frame_index) + 1, 0) FROM frames WHERE split = ? AND segment = ?`,
		split, segment,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next frame index: %w", err)
	}
	return next, nil
}

// Frames lists a run's frames in index order.
func (ix *Index) Frames(runID string) ([]Frame, error) {
	return ix.queryFrames(`WHERE run_id = ? ORDER BY frame_index`, runID)
}

// SegmentFrames lists every frame saved into a segment, across runs, in
// index order.
func (ix *Index) SegmentFrames(split, segment string) ([]Frame, error) {
	return ix.queryFrames(`WHERE split = ? AND segment = ? ORDER BY frame_index`, split, segment)
}

func (ix *Index) queryFrames(where string, args ...any) ([]Frame, error) {
	rows, err := ix.Query(
		`SELECT run_id, split, segment, frame_index, tick, road_id, lane_count, file_path, created_at
		 FROM frames `+where,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var frames []Frame
	for rows.Next() {
		var f Frame
		var tick int64
		if err := rows.Scan(&f.RunID, &f.Split, &f.Segment, &f.Index, &tick, &f.RoadID, &f.LaneCount, &f.FilePath, &f.CreatedAt); err != nil {
			return nil, err
		}
		f.Tick = uint64(tick)
		frames = append(frames, f)
	}
	return frames, rows.Err()
}

// AttachAdminRoutes mounts a live SQL console for the index under
// /debug/tailsql/. The debug routes are reachable only from localhost or
// the tailnet.
func (ix *Index) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+ix.path, ix.DB, &tailsql.DBOptions{
		Label: "Lane index",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	return nil
}
