package dataset

import (
	"fmt"
	"os"
	"path/filepath"
)

// Layout derives every on-disk path of one dataset repo from its root.
//
//	<root>/
//	  data/episode_<N>.parquet
//	  images/episode_<N>/observation.images.<cam>/frame_<F>.png
//	  videos/episode_<N>/observation.images.<cam>.mp4
//	  meta/info.json  meta/tasks.jsonl  meta/episodes.jsonl
//	  model/
type Layout struct {
	Root string
}

// NewLayout creates a layout rooted at dir.
func NewLayout(root string) Layout {
	return Layout{Root: root}
}

func episodeName(index int) string {
	return fmt.Sprintf("episode_%06d", index)
}

// ImageKey is the feature name of a camera column.
func ImageKey(cam string) string {
	return "observation.images." + cam
}

func (l Layout) DataDir() string  { return filepath.Join(l.Root, "data") }
func (l Layout) MetaDir() string  { return filepath.Join(l.Root, "meta") }
func (l Layout) ModelDir() string { return filepath.Join(l.Root, "model") }

// EpisodeDataPath is the columnar file for one episode.
func (l Layout) EpisodeDataPath(index int) string {
	return filepath.Join(l.DataDir(), episodeName(index)+".parquet")
}

// ImageDir holds the PNG frames of one camera for one episode.
func (l Layout) ImageDir(index int, cam string) string {
	return filepath.Join(l.Root, "images", episodeName(index), ImageKey(cam))
}

// FramePath is the PNG file for one frame of one camera.
func (l Layout) FramePath(index int, cam string, frame int) string {
	return filepath.Join(l.ImageDir(index, cam), fmt.Sprintf("frame_%06d.png", frame))
}

// VideoPath is the encoded video for one camera of one episode.
func (l Layout) VideoPath(index int, cam string) string {
	return filepath.Join(l.Root, "videos", episodeName(index), ImageKey(cam)+".mp4")
}

func (l Layout) InfoPath() string     { return filepath.Join(l.MetaDir(), "info.json") }
func (l Layout) TasksPath() string    { return filepath.Join(l.MetaDir(), "tasks.jsonl") }
func (l Layout) EpisodesPath() string { return filepath.Join(l.MetaDir(), "episodes.jsonl") }

// EnsureDirs creates the fixed directory skeleton.
func (l Layout) EnsureDirs() error {
	for _, dir := range []string{l.DataDir(), l.MetaDir(), filepath.Join(l.Root, "images"), filepath.Join(l.Root, "videos")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// ClearSession removes any leftover dataset and model contents from a
// previous run so a session always starts from a clean tree. Incomplete
// data from a crashed run would otherwise corrupt episode indexing.
func ClearSession(datasetRoot, modelDir string) error {
	for _, dir := range []string{datasetRoot, modelDir} {
		if dir == "" {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("clear %s: %w", dir, err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("recreate %s: %w", dir, err)
		}
	}
	return nil
}
