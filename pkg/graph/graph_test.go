package graph

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robocap/robocap/pkg/config"
)

func testSpec() *Spec {
	return &Spec{Nodes: []NodeSpec{
		{ID: "top", Kind: KindCamera, Variant: "sim-camera", Width: 32, Height: 24},
		{ID: "arm-leader", Kind: KindLeader, Variant: "sim-leader", RawPerRadian: 10000},
		{ID: "arm-follower", Kind: KindFollower, Variant: "sim-follower"},
		{ID: "teleop", Kind: KindTeleop},
		{ID: "bridge", Kind: KindBridge},
	}}
}

func TestSpecSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.yaml")
	spec := testSpec()
	require.NoError(t, spec.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, spec.Nodes, loaded.Nodes)
	assert.Equal(t, []string{"top"}, loaded.Cameras())
}

func TestSpecValidation(t *testing.T) {
	empty := &Spec{}
	assert.Error(t, empty.Validate())

	dup := testSpec()
	dup.Nodes = append(dup.Nodes, NodeSpec{ID: "top", Kind: KindCamera})
	assert.Error(t, dup.Validate())

	noBridge := &Spec{Nodes: []NodeSpec{{ID: "top", Kind: KindCamera}}}
	assert.Error(t, noBridge.Validate())

	badKind := testSpec()
	badKind.Nodes[0].Kind = "mystery"
	assert.Error(t, badKind.Validate())
}

func TestFromConfigSim(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	spec := FromConfig(cfg, true)
	require.NoError(t, spec.Validate())
	assert.Equal(t, []string{"top", "wrist"}, spec.Cameras())

	for _, n := range spec.Nodes {
		if n.Kind == KindLeader {
			assert.Equal(t, "sim-leader", n.Variant)
			assert.Equal(t, 10000.0, n.RawPerRadian)
		}
	}
}
