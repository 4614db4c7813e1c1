package actorutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type taskResult struct {
	Value string
	Err   error
}

type taskProbe struct {
	results chan taskResult
}

func (p *taskProbe) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case string:
		NewBackgroundTask(ctx, func(c context.Context) (*taskResult, error) {
			if msg == "slow" {
				select {
				case <-time.After(2 * time.Second):
				case <-c.Done():
					return nil, c.Err()
				}
			}
			return &taskResult{Value: msg}, nil
		}).WithTimeout(200 * time.Millisecond).Recover(func(err error) taskResult {
			return taskResult{Err: err}
		}).PipeTo(ctx.Self())
	case taskResult:
		p.results <- msg
	}
}

func TestBackgroundTaskPipeTo(t *testing.T) {

	require := require.New(t)

	as := actor.NewActorSystem()
	defer as.Shutdown()

	probe := &taskProbe{results: make(chan taskResult, 2)}
	pid := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor { return probe }))

	as.Root.Send(pid, "fast")
	select {
	case r := <-probe.results:
		require.NoError(r.Err)
		require.Equal("fast", r.Value)
	case <-time.After(2 * time.Second):
		require.Fail("no result")
	}

	as.Root.Send(pid, "slow")
	select {
	case r := <-probe.results:
		require.Error(r.Err, "timeout must be recovered")
	case <-time.After(3 * time.Second):
		require.Fail("no result")
	}
}

func TestBackgroundTaskRunSyncError(t *testing.T) {

	as := actor.NewActorSystem()
	defer as.Shutdown()

	task := &SafeBackgroundTask[int]{
		system: as,
		fn: func(context.Context) (*int, error) {
			return nil, errors.New("boom")
		},
	}
	_, err := task.RunSync()
	assert.ErrorContains(t, err, "boom")
}
