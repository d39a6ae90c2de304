// Package stats accumulates per-run collection statistics: how many ticks
// were scanned and how many frames were saved, broken down by town and by
// category (lane count, weather, road, scene).
package stats

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/banshee-data/lanegen/internal/fsutil"
)

// Categories used as the second level of the report.
const (
	CategoryLaneCount = "lane_count"
	CategoryWeather   = "weather"
	CategoryRoadID    = "road_id"
	CategoryScene     = "scene"
)

// Observation describes one tick from the statistics' point of view.
type Observation struct {
	Weather   string
	LaneCount int
	RoadID    int
	Junction  bool
}

type counter struct {
	scanned int
	saved   int
}

// RunStats is safe for concurrent use.
type RunStats struct {
	mu     sync.Mutex
	counts map[string]map[string]map[string]*counter
}

// NewRunStats returns empty statistics.
func NewRunStats() *RunStats {
	return &RunStats{counts: make(map[string]map[string]map[string]*counter)}
}

// Scan records that a tick was considered for saving.
func (s *RunStats) Scan(town string, obs Observation) {
	s.update(town, obs, func(c *counter) { c.scanned++ })
}

// Save records that a tick was written to the dataset.
func (s *RunStats) Save(town string, obs Observation) {
	s.update(town, obs, func(c *counter) { c.saved++ })
}

func (s *RunStats) update(town string, obs Observation, fn func(*counter)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.counter(town, CategoryLaneCount, strconv.Itoa(obs.LaneCount)))
	fn(s.counter(town, CategoryWeather, obs.Weather))
	fn(s.counter(town, CategoryRoadID, strconv.Itoa(obs.RoadID)))
	if obs.Junction {
		fn(s.counter(town, CategoryScene, "junction"))
	}
}

func (s *RunStats) counter(town, category, key string) *counter {
	cats, ok := s.counts[town]
	if !ok {
		cats = make(map[string]map[string]*counter)
		s.counts[town] = cats
	}
	keys, ok := cats[category]
	if !ok {
		keys = make(map[string]*counter)
		cats[category] = keys
	}
	c, ok := keys[key]
	if !ok {
		c = &counter{}
		keys[key] = c
	}
	return c
}

// Entry is one line of the report.
type Entry struct {
	Scanned int `json:"scanned"`
	Saved   int `json:"saved"`
	// Ratio is this key's share of the category's saved frames.
	Ratio float64 `json:"ratio"`
	// SaveRate is saved / scanned.
	SaveRate float64 `json:"save_rate"`
}

// Report is keyed by town, then category, then key.
type Report map[string]map[string]map[string]Entry

// Report snapshots the statistics.
func (s *RunStats) Report() Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := make(Report, len(s.counts))
	for town, cats := range s.counts {
		report[town] = make(map[string]map[string]Entry, len(cats))
		for cat, keys := range cats {
			totalSaved := 0
			for _, c := range keys {
				totalSaved += c.saved
			}
			entries := make(map[string]Entry, len(keys))
			for key, c := range keys {
				e := Entry{Scanned: c.scanned, Saved: c.saved}
				if totalSaved > 0 {
					e.Ratio = round4(float64(c.saved) / float64(totalSaved))
				}
				if c.scanned > 0 {
					e.SaveRate = round4(float64(c.saved) / float64(c.scanned))
				}
				entries[key] = e
			}
			report[town][cat] = entries
		}
	}
	return report
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// Towns returns the report's towns in sorted order.
func (r Report) Towns() []string {
	towns := make([]string, 0, len(r))
	for t := range r {
		towns = append(towns, t)
	}
	sort.Strings(towns)
	return towns
}

// WriteReport writes the report as indented JSON. Map keys are emitted in
// sorted order.
func WriteReport(fs fsutil.FileSystem, path string, r Report) error {
	data, err := json.MarshalIndent(r, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal stats report: %w", err)
	}
	if err := fs.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write stats report: %w", err)
	}
	return nil
}
