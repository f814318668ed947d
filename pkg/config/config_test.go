package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robocap/robocap/pkg/types"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "device.conf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseFileKeyValue(t *testing.T) {
	path := writeFile(t, `
# device config
CAMERA_TOP_PATH=/dev/video4
ARM_LEADER_PORT="/dev/ttyUSB1"   # leader serial
EDGE_SERVER_PASSWORD='p#ss'
`)

	values, err := ParseFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/video4", values["CAMERA_TOP_PATH"])
	assert.Equal(t, "/dev/ttyUSB1", values["ARM_LEADER_PORT"])
	// Hash inside quotes is part of the value, not a comment.
	assert.Equal(t, "p#ss", values["EDGE_SERVER_PASSWORD"])
}

func TestParseFileMissingIsEmpty(t *testing.T) {
	values, err := ParseFile(filepath.Join(t.TempDir(), "absent.conf"))
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestParseFileRejectsMalformedLine(t *testing.T) {
	path := writeFile(t, "JUST_A_WORD\n")
	_, err := ParseFile(path)
	assert.Error(t, err)
}

func TestLoadPrecedenceEnvOverFileOverDefault(t *testing.T) {
	path := writeFile(t, "REPO_ID=from_file\nFPS=25\n")

	t.Setenv("REPO_ID", "from_env")
	t.Setenv("FPS", "")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from_env", cfg.RepoID)
	assert.Equal(t, SourceEnv, cfg.Sources["REPO_ID"])

	assert.Equal(t, 25, cfg.FPS)
	assert.Equal(t, SourceFile, cfg.Sources["FPS"])

	assert.Equal(t, 19.0, cfg.MemoryLimitGB)
	assert.Equal(t, SourceDefault, cfg.Sources["MEMORY_LIMIT_GB"])
}

func TestLoadOffloadMode(t *testing.T) {
	t.Setenv("CLOUD", "2")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, types.OffloadEdge, cfg.OffloadMode)

	t.Setenv("CLOUD", "7")
	_, err = Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())

	cfg.FPS = 0
	assert.Error(t, cfg.Validate())

	cfg.FPS = 30
	cfg.OffloadMode = types.OffloadEdge
	cfg.EdgeHost = ""
	assert.Error(t, cfg.Validate())
}

func TestWriteHardwareFieldsPreservesOtherLines(t *testing.T) {
	path := writeFile(t, `# credentials survive regeneration
API_USERNAME=alice
CAMERA_TOP_PATH=/dev/video0
CLOUD=2
`)

	err := WriteHardwareFields(path, map[string]string{
		"CAMERA_TOP_PATH": "/dev/video6",
		"ARM_LEADER_PORT": "/dev/ttyUSB3",
	})
	require.NoError(t, err)

	values, err := ParseFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/video6", values["CAMERA_TOP_PATH"])
	assert.Equal(t, "/dev/ttyUSB3", values["ARM_LEADER_PORT"])
	assert.Equal(t, "alice", values["API_USERNAME"])
	assert.Equal(t, "2", values["CLOUD"])

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# credentials survive regeneration")
}

func TestWriteHardwareFieldsRejectsNonHardwareKey(t *testing.T) {
	path := writeFile(t, "")
	err := WriteHardwareFields(path, map[string]string{"API_PASSWORD": "x"})
	assert.Error(t, err)
}
