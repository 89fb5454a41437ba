package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// statsVersion is bumped when the schema changes. The Load function
	// can use it to apply migrations in the future.
	statsVersion = 1

	statsFileName = "stats.json"
	appDirName    = "scrollscope"
)

// Stats is the persistent aggregate data derived from gesture events.
// It is loaded from and saved to ~/.local/state/scrollscope/stats.json
// (respecting XDG_STATE_HOME).
type Stats struct {
	Version int `json:"version"`

	// Aggregate counters
	TotalGestures int `json:"totalGestures"`
	GesturesUp    int `json:"gesturesUp"`
	GesturesDown  int `json:"gesturesDown"`

	// Distance metrics, in page pixels
	TotalDistance  float64 `json:"totalDistance"`
	LongestGesture float64 `json:"longestGesture"`

	// Attachment counters
	TargetsAttached      int `json:"targetsAttached"`
	MaxConcurrentTargets int `json:"maxConcurrentTargets"`

	// Per-dimension breakdowns
	GesturesPerPage   map[string]int `json:"gesturesPerPage"`
	GesturesPerTarget map[string]int `json:"gesturesPerTarget"`
	DistinctPages     int            `json:"distinctPages"`

	LastUpdated time.Time `json:"lastUpdated"`
}

// Store handles loading and saving Stats to disk.
type Store struct {
	dir string // directory containing stats.json
}

// NewStore creates a Store that reads/writes stats in the given directory.
// The directory is created (with parents) on the first Save if it does not
// exist. Pass an empty string to use the default XDG state path.
func NewStore(dir string) *Store {
	if dir == "" {
		dir = defaultStatsDir()
	}
	return &Store{dir: dir}
}

// Path returns the full path to the stats file.
func (s *Store) Path() string {
	return filepath.Join(s.dir, statsFileName)
}

// Load reads stats from disk. If the file does not exist, a zero-value
// Stats with initialized maps and the current version is returned.
func (s *Store) Load() (*Stats, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return newStats(), nil
		}
		return nil, fmt.Errorf("reading stats: %w", err)
	}

	var st Stats
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parsing stats: %w", err)
	}
	st.initMaps()

	return &st, nil
}

// Save writes stats to disk using an atomic temp-file-then-rename pattern.
// The directory is created if it does not already exist.
func (s *Store) Save(st *Stats) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("creating stats dir: %w", err)
	}

	st.Version = statsVersion
	st.LastUpdated = time.Now().UTC()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling stats: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(s.dir, ".stats-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.Path()); err != nil {
		return fmt.Errorf("renaming stats file: %w", err)
	}
	committed = true

	return nil
}

// newStats returns a Stats with initialized maps and the current version.
func newStats() *Stats {
	return &Stats{
		Version:           statsVersion,
		GesturesPerPage:   make(map[string]int),
		GesturesPerTarget: make(map[string]int),
	}
}

// initMaps ensures all map fields are non-nil after deserialization.
func (st *Stats) initMaps() {
	if st.GesturesPerPage == nil {
		st.GesturesPerPage = make(map[string]int)
	}
	if st.GesturesPerTarget == nil {
		st.GesturesPerTarget = make(map[string]int)
	}
}

// clone returns a deep copy of Stats with all maps duplicated.
func (st *Stats) clone() *Stats {
	cp := *st
	cp.GesturesPerPage = make(map[string]int, len(st.GesturesPerPage))
	for k, v := range st.GesturesPerPage {
		cp.GesturesPerPage[k] = v
	}
	cp.GesturesPerTarget = make(map[string]int, len(st.GesturesPerTarget))
	for k, v := range st.GesturesPerTarget {
		cp.GesturesPerTarget[k] = v
	}
	return &cp
}

// defaultStatsDir returns ~/.local/state/scrollscope, respecting
// XDG_STATE_HOME if set.
func defaultStatsDir() string {
	if base := os.Getenv("XDG_STATE_HOME"); base != "" {
		return filepath.Join(base, appDirName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".local", "state", appDirName)
}
