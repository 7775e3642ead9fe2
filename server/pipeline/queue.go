package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/mtreeno1/AI-Learning-Companion-BE/server/engine"
)

type frameJob struct {
	sessionID  string
	imageData  string
	timestamp  float64
	resultChan chan *frameResult
	enqueuedAt time.Time
}

type frameResult struct {
	sample engine.DetectionSample
	err    error
}

// workQueue fans frame jobs out to a fixed pool of detection workers. The
// channel buffer bounds how many frames may wait for a worker.
type workQueue struct {
	items      chan *frameJob
	workers    int
	workerFunc func(*frameJob)
	wg         sync.WaitGroup
	shutdown   chan struct{}
	isRunning  bool
	mutex      sync.RWMutex
}

func newWorkQueue(queueSize, workers int, workerFunc func(*frameJob)) *workQueue {
	queue := &workQueue{
		items:      make(chan *frameJob, queueSize),
		workers:    workers,
		workerFunc: workerFunc,
		shutdown:   make(chan struct{}),
		isRunning:  true,
	}

	for i := 0; i < workers; i++ {
		queue.wg.Add(1)
		go queue.worker()
	}

	return queue
}

func (q *workQueue) worker() {
	defer q.wg.Done()

	for {
		select {
		case job := <-q.items:
			if job != nil {
				q.run(job)
			}
		case <-q.shutdown:
			return
		}
	}
}

func (q *workQueue) run(job *frameJob) {
	defer func() {
		if r := recover(); r != nil {
			select {
			case job.resultChan <- &frameResult{err: fmt.Errorf("worker panic: %v", r)}:
			default:
			}
		}
	}()

	q.workerFunc(job)
}

func (q *workQueue) Enqueue(job *frameJob) bool {
	q.mutex.RLock()
	if !q.isRunning {
		q.mutex.RUnlock()
		return false
	}
	q.mutex.RUnlock()

	select {
	case q.items <- job:
		return true
	default:
		return false
	}
}

func (q *workQueue) Size() int {
	return len(q.items)
}

func (q *workQueue) Capacity() int {
	return cap(q.items)
}

func (q *workQueue) IsRunning() bool {
	q.mutex.RLock()
	defer q.mutex.RUnlock()
	return q.isRunning
}

func (q *workQueue) Workers() int {
	return q.workers
}

func (q *workQueue) Shutdown(timeout time.Duration) error {
	q.mutex.Lock()
	if !q.isRunning {
		q.mutex.Unlock()
		return nil
	}
	q.isRunning = false
	q.mutex.Unlock()

	close(q.shutdown)

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.drain()
		return nil
	case <-time.After(timeout):
		q.drain()
		return fmt.Errorf("shutdown timeout exceeded")
	}
}

// drain fails jobs still queued so their callers stop waiting.
func (q *workQueue) drain() int {
	drained := 0

	for {
		select {
		case job := <-q.items:
			if job != nil {
				select {
				case job.resultChan <- &frameResult{
					err: fmt.Errorf("processing cancelled - queue shutting down"),
				}:
				default:
				}
				drained++
			}
		default:
			return drained
		}
	}
}

type QueueStats struct {
	CurrentSize        int     `json:"current_size"`
	MaxCapacity        int     `json:"max_capacity"`
	ActiveWorkers      int     `json:"active_workers"`
	IsRunning          bool    `json:"is_running"`
	UtilizationPercent float64 `json:"utilization_percent"`
}

func (q *workQueue) Stats() QueueStats {
	q.mutex.RLock()
	defer q.mutex.RUnlock()

	utilization := 0.0
	if q.Capacity() > 0 {
		utilization = float64(q.Size()) / float64(q.Capacity()) * 100
	}

	return QueueStats{
		CurrentSize:        q.Size(),
		MaxCapacity:        q.Capacity(),
		ActiveWorkers:      q.workers,
		IsRunning:          q.isRunning,
		UtilizationPercent: utilization,
	}
}
