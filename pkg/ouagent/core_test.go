package ouagent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSupervisor struct {
	statuses []ProcessStatus
	err      error
}

func (f *fakeSupervisor) Query(ctx context.Context) ([]ProcessStatus, error) {
	return f.statuses, f.err
}

func TestGetStateNoSupervisorIsOK(t *testing.T) {
	core := NewCore("node-1", nil)
	hb := core.GetState(context.Background())
	assert.Equal(t, "OK", hb.State)
	assert.Empty(t, hb.FailedProcesses)
}

func TestGetStateAllRunningIsOK(t *testing.T) {
	sup := &fakeSupervisor{statuses: []ProcessStatus{
		{Name: "worker", Running: true, State: "RUNNING"},
	}}
	core := NewCore("node-1", sup)
	hb := core.GetState(context.Background())
	assert.Equal(t, "OK", hb.State)
}

func TestGetStateSupervisorErrorReported(t *testing.T) {
	sup := &fakeSupervisor{err: errors.New("socket gone")}
	core := NewCore("node-1", sup)
	hb := core.GetState(context.Background())
	assert.Equal(t, "ERROR", hb.State)
	assert.Equal(t, "socket gone", hb.SupervisorError)
}

func TestGetStateFailedProcessReported(t *testing.T) {
	sup := &fakeSupervisor{statuses: []ProcessStatus{
		{Name: "worker", Running: false, State: "EXITED", StateName: "EXITED", ExitCode: 1, StopTimestamp: 100},
	}}
	core := NewCore("node-1", sup)
	hb := core.GetState(context.Background())
	require.Equal(t, "ERROR", hb.State)
	require.Len(t, hb.FailedProcesses, 1)
	assert.Equal(t, "worker", hb.FailedProcesses[0].Name)
	assert.Equal(t, 1, hb.FailedProcesses[0].ExitCode)
}

func TestGetStateRepeatFailureOmitsStderrAfterFirstReport(t *testing.T) {
	sup := &fakeSupervisor{statuses: []ProcessStatus{
		{Name: "worker", Running: false, State: "EXITED", StateName: "EXITED", ExitCode: 1, StopTimestamp: 100, StderrPath: "/nonexistent/stderr.log"},
	}}
	core := NewCore("node-1", sup)

	first := core.GetState(context.Background())
	require.Len(t, first.FailedProcesses, 1)

	second := core.GetState(context.Background())
	require.Len(t, second.FailedProcesses, 1)
	assert.Equal(t, first.FailedProcesses[0], second.FailedProcesses[0])
	assert.Empty(t, second.FailedProcesses[0].Stderr)
}

func TestGetStateRecoveryClearsFailCache(t *testing.T) {
	sup := &fakeSupervisor{statuses: []ProcessStatus{
		{Name: "worker", Running: false, State: "EXITED", StateName: "EXITED", ExitCode: 1, StopTimestamp: 100},
	}}
	core := NewCore("node-1", sup)
	hb := core.GetState(context.Background())
	require.Equal(t, "ERROR", hb.State)

	sup.statuses = []ProcessStatus{
		{Name: "worker", Running: true, State: "RUNNING"},
	}
	hb = core.GetState(context.Background())
	assert.Equal(t, "OK", hb.State)
	assert.Empty(t, hb.FailedProcesses)

	_, stillCached := core.failCache["worker"]
	assert.False(t, stillCached)
}
