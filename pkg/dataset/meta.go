package dataset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/robocap/robocap/pkg/episode"
)

// Info is the dataset-level schema written once per session.
type Info struct {
	RepoID     string   `json:"repo_id"`
	FPS        int      `json:"fps"`
	RobotType  string   `json:"robot_type"`
	Cameras    []string `json:"cameras"`
	StateDim   int      `json:"state_dim"`
	ActionDim  int      `json:"action_dim"`
	UsesVideos bool     `json:"uses_videos"`
}

// ColumnStats summarizes one numeric column of an episode.
type ColumnStats struct {
	Min  []float64 `json:"min"`
	Max  []float64 `json:"max"`
	Mean []float64 `json:"mean"`
}

// EpisodeRecord is one line of meta/episodes.jsonl. Episodes may land
// out of index order; readers must not assume the file is sorted.
type EpisodeRecord struct {
	EpisodeIndex int         `json:"episode_index"`
	Length       int         `json:"length"`
	Task         string      `json:"task"`
	StateStats   ColumnStats `json:"state_stats"`
	ActionStats  ColumnStats `json:"action_stats"`
}

// TaskRecord is one line of meta/tasks.jsonl.
type TaskRecord struct {
	TaskIndex int    `json:"task_index"`
	Task      string `json:"task"`
}

// Meta is the append-only dataset metadata writer. Appends from
// concurrent saver workers are serialized by a mutex.
type Meta struct {
	layout Layout

	mu       sync.Mutex
	tasks    map[string]int
	episodes int
}

// NewMeta creates a metadata writer for the layout.
func NewMeta(layout Layout) *Meta {
	return &Meta{layout: layout, tasks: make(map[string]int)}
}

// WriteInfo writes meta/info.json.
func (m *Meta) WriteInfo(info Info) error {
	if err := os.MkdirAll(m.layout.MetaDir(), 0o755); err != nil {
		return fmt.Errorf("create meta dir: %w", err)
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(m.layout.InfoPath(), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write info: %w", err)
	}
	return nil
}

// AppendEpisode records one saved episode: a tasks.jsonl entry on first
// sight of the task, and one episodes.jsonl line.
func (m *Meta) AppendEpisode(ep *episode.Episode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(m.layout.MetaDir(), 0o755); err != nil {
		return fmt.Errorf("create meta dir: %w", err)
	}

	if _, seen := m.tasks[ep.Task]; !seen {
		idx := len(m.tasks)
		if err := appendJSONL(m.layout.TasksPath(), TaskRecord{TaskIndex: idx, Task: ep.Task}); err != nil {
			return err
		}
		m.tasks[ep.Task] = idx
	}

	rec := EpisodeRecord{
		EpisodeIndex: ep.EpisodeIndex,
		Length:       ep.Size,
		Task:         ep.Task,
		StateStats:   columnStats(ep.States),
		ActionStats:  columnStats(ep.Actions),
	}
	if err := appendJSONL(m.layout.EpisodesPath(), rec); err != nil {
		return err
	}
	m.episodes++
	return nil
}

// TotalEpisodes returns the number of episodes appended this session.
func (m *Meta) TotalEpisodes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.episodes
}

// ReadEpisodeRecords loads every line of meta/episodes.jsonl.
func ReadEpisodeRecords(layout Layout) ([]EpisodeRecord, error) {
	f, err := os.Open(layout.EpisodesPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []EpisodeRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var rec EpisodeRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("parse episodes.jsonl: %w", err)
		}
		out = append(out, rec)
	}
	return out, scanner.Err()
}

func appendJSONL(path string, v any) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append %s: %w", path, err)
	}
	return f.Sync()
}

func columnStats(rows [][]float64) ColumnStats {
	if len(rows) == 0 {
		return ColumnStats{}
	}
	dim := len(rows[0])
	stats := ColumnStats{
		Min:  make([]float64, dim),
		Max:  make([]float64, dim),
		Mean: make([]float64, dim),
	}
	for i := 0; i < dim; i++ {
		stats.Min[i] = math.Inf(1)
		stats.Max[i] = math.Inf(-1)
	}
	for _, row := range rows {
		for i := 0; i < dim && i < len(row); i++ {
			v := row[i]
			if v < stats.Min[i] {
				stats.Min[i] = v
			}
			if v > stats.Max[i] {
				stats.Max[i] = v
			}
			stats.Mean[i] += v
		}
	}
	n := float64(len(rows))
	for i := 0; i < dim; i++ {
		stats.Mean[i] /= n
	}
	return stats
}
