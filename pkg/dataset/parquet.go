package dataset

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"github.com/robocap/robocap/pkg/episode"
)

// frameRow is the parquet schema of one recorded frame. Image pixels
// are not stored here; they live as PNG frames and encoded video.
type frameRow struct {
	EpisodeIndex int64     `parquet:"episode_index"`
	FrameIndex   int64     `parquet:"frame_index"`
	Timestamp    float64   `parquet:"timestamp"`
	State        []float64 `parquet:"observation_state,list"`
	Action       []float64 `parquet:"action,list"`
	Task         string    `parquet:"task"`
}

// WriteEpisode writes the episode's columnar file to path. The episode
// must already have passed Validate.
func WriteEpisode(path string, ep *episode.Episode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	rows := make([]frameRow, ep.Size)
	for i := 0; i < ep.Size; i++ {
		rows[i] = frameRow{
			EpisodeIndex: int64(ep.EpisodeIndex),
			FrameIndex:   int64(i),
			Timestamp:    ep.Timestamps[i],
			State:        ep.States[i],
			Action:       ep.Actions[i],
			Task:         ep.Task,
		}
	}

	// Write to a temp file and rename so a crashed save never leaves a
	// half-written columnar file at the stable path.
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}

	w := parquet.NewGenericWriter[frameRow](f)
	if _, err := w.Write(rows); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write parquet rows: %w", err)
	}
	if err := w.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("close parquet writer: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

// Columns is the readback of one episode's columnar file.
type Columns struct {
	EpisodeIndex int
	Task         string
	Timestamps   []float64
	States       [][]float64
	Actions      [][]float64
}

// ReadEpisode reads an episode's columnar file back into memory.
func ReadEpisode(path string) (*Columns, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	rows, err := parquet.Read[frameRow](f, st.Size())
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}

	out := &Columns{}
	for _, row := range rows {
		out.EpisodeIndex = int(row.EpisodeIndex)
		out.Task = row.Task
		out.Timestamps = append(out.Timestamps, row.Timestamp)
		out.States = append(out.States, row.State)
		out.Actions = append(out.Actions, row.Action)
	}
	return out, nil
}
