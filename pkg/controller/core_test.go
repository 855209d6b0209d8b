package controller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingEngine struct {
	mu       sync.Mutex
	started  chan struct{}
	release  chan struct{}
	decides  int
	initOnce bool
}

func (e *blockingEngine) Initialize(ctx context.Context, control *Control, state *State, conf map[string]any) error {
	e.initOnce = true
	return nil
}

func (e *blockingEngine) Decide(ctx context.Context, control *Control, state *State) error {
	e.mu.Lock()
	e.decides++
	e.mu.Unlock()

	if e.started != nil {
		close(e.started)
		e.started = nil
	}
	if e.release != nil {
		<-e.release
	}
	return nil
}

type noopProvisioner struct{}

func (noopProvisioner) PrepareProvision(ctx context.Context, req ProvisionRequest) error { return nil }
func (noopProvisioner) TerminateNodes(ctx context.Context, nodeIDs []string) error        { return nil }

func TestRunDecideSkipsWhileReconfigureHoldsPermit(t *testing.T) {
	engine := &blockingEngine{}
	control := NewControl(noopProvisioner{}, "dom-1", nil)
	core := NewCore(engine, control, NewState())

	// Manually take the permit to simulate reconfigure holding it.
	<-core.permit

	require.NoError(t, core.RunDecide(context.Background()))
	assert.Equal(t, 0, engine.decides, "decide must not run while the permit is held")

	core.permit <- struct{}{}
}

func TestDecideAndReconfigureAreMutuallyExclusive(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	engine := &blockingEngine{started: started, release: release}
	control := NewControl(noopProvisioner{}, "dom-1", nil)
	core := NewCore(engine, control, NewState())

	go func() {
		_ = core.RunDecide(context.Background())
	}()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("decide never started")
	}

	applied, err := core.Reconfigure(context.Background(), map[string]any{"k": "v"})
	require.NoError(t, err)
	assert.False(t, applied, "reconfigure must not apply while decide holds the permit")

	close(release)
}
