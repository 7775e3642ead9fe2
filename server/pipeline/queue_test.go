package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkQueue_ProcessesJobs(t *testing.T) {
	q := newWorkQueue(4, 2, func(job *frameJob) {
		job.resultChan <- &frameResult{}
	})
	defer q.Shutdown(time.Second)

	resultChan := make(chan *frameResult, 1)
	require.True(t, q.Enqueue(&frameJob{resultChan: resultChan, enqueuedAt: time.Now()}))

	select {
	case result := <-resultChan:
		assert.NoError(t, result.err)
	case <-time.After(time.Second):
		t.Fatal("worker did not pick up job")
	}
}

func TestWorkQueue_FullRejects(t *testing.T) {
	// No workers, so the buffer fills and stays full.
	q := newWorkQueue(1, 0, nil)
	defer q.Shutdown(time.Second)

	assert.True(t, q.Enqueue(&frameJob{resultChan: make(chan *frameResult, 1)}))
	assert.False(t, q.Enqueue(&frameJob{resultChan: make(chan *frameResult, 1)}))
}

func TestWorkQueue_RecoversFromPanic(t *testing.T) {
	q := newWorkQueue(1, 1, func(job *frameJob) {
		panic("detector exploded")
	})
	defer q.Shutdown(time.Second)

	resultChan := make(chan *frameResult, 1)
	require.True(t, q.Enqueue(&frameJob{resultChan: resultChan}))

	select {
	case result := <-resultChan:
		require.Error(t, result.err)
		assert.Contains(t, result.err.Error(), "worker panic")
	case <-time.After(time.Second):
		t.Fatal("no result after panic")
	}
}

func TestWorkQueue_ShutdownDrainsPending(t *testing.T) {
	q := newWorkQueue(2, 0, nil)

	resultChan := make(chan *frameResult, 1)
	require.True(t, q.Enqueue(&frameJob{resultChan: resultChan}))

	require.NoError(t, q.Shutdown(time.Second))
	assert.False(t, q.IsRunning())
	assert.False(t, q.Enqueue(&frameJob{resultChan: make(chan *frameResult, 1)}))

	select {
	case result := <-resultChan:
		require.Error(t, result.err)
		assert.Contains(t, result.err.Error(), "shutting down")
	default:
		t.Fatal("pending job was not drained")
	}
}

func TestWorkQueue_Stats(t *testing.T) {
	q := newWorkQueue(4, 0, nil)
	defer q.Shutdown(time.Second)

	require.True(t, q.Enqueue(&frameJob{resultChan: make(chan *frameResult, 1)}))

	stats := q.Stats()
	assert.Equal(t, 1, stats.CurrentSize)
	assert.Equal(t, 4, stats.MaxCapacity)
	assert.Equal(t, 0, stats.ActiveWorkers)
	assert.True(t, stats.IsRunning)
	assert.Equal(t, 25.0, stats.UtilizationPercent)
}
