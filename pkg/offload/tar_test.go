package offload

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func readTar(t *testing.T, path string) map[string]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	out := map[string]string{}
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if hdr.Typeflag == tar.TypeDir {
			continue
		}
		data, err := io.ReadAll(tr)
		require.NoError(t, err)
		out[hdr.Name] = string(data)
	}
	return out
}

func TestBuildTarMirrorsTree(t *testing.T) {
	root := filepath.Join(t.TempDir(), "myrepo")
	files := map[string]string{
		"data/episode_000000.parquet":                         "columnar",
		"images/episode_000000/observation.images.top/f0.png": "png0",
		"meta/episodes.jsonl":                                 "{}",
	}
	writeTree(t, root, files)

	dest := filepath.Join(t.TempDir(), "myrepo.tar")
	size, err := BuildTar(root, dest, nil)
	require.NoError(t, err)
	assert.Greater(t, size, int64(0))

	got := readTar(t, dest)
	require.Len(t, got, len(files))
	for rel, content := range files {
		assert.Equal(t, content, got["myrepo/"+rel], rel)
	}
}

func TestBuildTarSkipFilter(t *testing.T) {
	root := filepath.Join(t.TempDir(), "repo")
	writeTree(t, root, map[string]string{
		"data/e0.parquet": "d",
		"images/big.png":  "p",
		"videos/top.mp4":  "v",
	})

	dest := filepath.Join(t.TempDir(), "repo.tar")
	_, err := BuildTar(root, dest, func(rel string) bool {
		return rel == "images" || len(rel) > 7 && rel[:7] == "images/"
	})
	require.NoError(t, err)

	got := readTar(t, dest)
	assert.Contains(t, got, "repo/data/e0.parquet")
	assert.Contains(t, got, "repo/videos/top.mp4")
	for name := range got {
		assert.NotContains(t, name, "images")
	}
}

func TestBuildTarMissingSource(t *testing.T) {
	_, err := BuildTar(filepath.Join(t.TempDir(), "absent"), filepath.Join(t.TempDir(), "x.tar"), nil)
	assert.Error(t, err)
}
