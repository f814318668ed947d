package encoder

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func framesDir(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < n; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("frame_%06d.png", i)), []byte("png"), 0o644))
	}
	return dir
}

func TestEncodeFramesEmptyDir(t *testing.T) {
	e := NewFFmpeg(false)
	err := e.EncodeFrames(t.TempDir(), filepath.Join(t.TempDir(), "out.mp4"), 30)
	assert.ErrorIs(t, err, ErrNoFrames)
}

func TestSoftwarePathInvokedOnce(t *testing.T) {
	dir := framesDir(t, 3)
	var calls [][]string
	e := NewFFmpeg(false)
	e.run = func(args []string, runDir string) (string, error) {
		assert.Equal(t, dir, runDir)
		calls = append(calls, args)
		return "", nil
	}

	require.NoError(t, e.EncodeFrames(dir, "/tmp/out.mp4", 30))
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], "libx264")
	assert.Contains(t, calls[0], "30")
}

func TestHardwareFallsBackOnChannelExhaustion(t *testing.T) {
	dir := framesDir(t, 3)
	var codecs []string
	e := NewFFmpeg(true)
	e.run = func(args []string, _ string) (string, error) {
		for i, a := range args {
			if a == "-c:v" {
				codecs = append(codecs, args[i+1])
			}
		}
		if len(codecs) == 1 {
			return "rkmpp: no free encoding channel", fmt.Errorf("exit status 1")
		}
		return "", nil
	}

	require.NoError(t, e.EncodeFrames(dir, "/tmp/out.mp4", 30))
	assert.Equal(t, []string{"h264_rkmpp", "libx264"}, codecs)
}

func TestHardwareHardFailureDoesNotFallBack(t *testing.T) {
	dir := framesDir(t, 1)
	calls := 0
	e := NewFFmpeg(true)
	e.run = func(args []string, _ string) (string, error) {
		calls++
		return "corrupt input frame", fmt.Errorf("exit status 1")
	}

	err := e.EncodeFrames(dir, "/tmp/out.mp4", 30)
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestBothPathsFailingSurfaces(t *testing.T) {
	dir := framesDir(t, 1)
	e := NewFFmpeg(true)
	e.run = func(args []string, _ string) (string, error) {
		return "cannot open the device", fmt.Errorf("exit status 1")
	}

	err := e.EncodeFrames(dir, "/tmp/out.mp4", 30)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "software encode")
}
