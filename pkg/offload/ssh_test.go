package offload

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestThroughputMB(t *testing.T) {
	assert.InDelta(t, 5.0, throughputMB(10*1024*1024, 2*time.Second), 1e-9)

	// Sub-100ms transfers are clamped so a tiny file never reports an
	// absurd rate.
	assert.InDelta(t, 10.0, throughputMB(1024*1024, time.Millisecond), 1e-9)
}

func TestSSHEndpointAddr(t *testing.T) {
	ep := SSHEndpoint{Host: "edge.local", Port: 2222}
	assert.Equal(t, "edge.local:2222", ep.Addr())
}
