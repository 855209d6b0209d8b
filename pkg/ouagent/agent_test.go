package ouagent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luispineda/epu/pkg/types"
)

type recordingSink struct {
	beats []types.Heartbeat
}

func (s *recordingSink) Heartbeat(ctx context.Context, hb types.Heartbeat) error {
	s.beats = append(s.beats, hb)
	return nil
}

func TestAgentBeatDeliversHeartbeat(t *testing.T) {
	sink := &recordingSink{}
	agent := NewAgent("node-1", nil, sink, nil, nil, "", "")

	require.NoError(t, agent.Beat(context.Background()))
	require.Len(t, sink.beats, 1)
	assert.Equal(t, "node-1", sink.beats[0].NodeID)
	assert.Equal(t, "OK", sink.beats[0].State)
}

func TestAgentPublishIdentityNoopWithoutContext(t *testing.T) {
	sink := &recordingSink{}
	agent := NewAgent("node-1", nil, sink, nil, nil, "1.2.3.4", "10.0.0.1")
	assert.NoError(t, agent.PublishIdentity(context.Background(), "node-1"))
}
