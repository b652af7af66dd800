package dhcputil

import (
	"sync"
)

// PausablePoolPausedError is an error that is returned when a new task
// is submitted but the pool is paused.
type PausablePoolPausedError struct{}

// Returns the error message.
func (e *PausablePoolPausedError) Error() string {
	return "pausable pool is paused"
}

// PausablePoolStoppedError is an error that is returned when a new task
// is submitted but the pool is stopped.
type PausablePoolStoppedError struct{}

// Returns the error message.
func (e *PausablePoolStoppedError) Error() string {
	return "pausable pool is stopped"
}

// PausablePool is a pool of workers with the capability to pause and
// resume. Submitted tasks are executed concurrently by the workers.
type PausablePool struct {
	// Workers receive the tasks on this channel.
	tasks chan func()
	// Indicates that the pool is paused. Workers drain no tasks while
	// the flag is set.
	paused bool
	// Indicates that the pool is stopped.
	stopped bool
	// Signaled when the pool is resumed.
	resumed *sync.Cond
	// Waits for the workers to finish on stop.
	wg sync.WaitGroup
	// Mutex to protect against concurrent calls to control functions.
	mutex sync.Mutex
}

// Instantiates a new pool with the specified number of workers.
func NewPausablePool(size int) *PausablePool {
	pool := &PausablePool{
		tasks: make(chan func()),
	}
	pool.resumed = sync.NewCond(&pool.mutex)
	pool.wg.Add(size)
	for i := 0; i < size; i++ {
		go pool.worker()
	}
	return pool
}

// Worker function reading the tasks from the task channel and executing
// them. It parks on the condition variable while the pool is paused.
func (p *PausablePool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.mutex.Lock()
		for p.paused && !p.stopped {
			p.resumed.Wait()
		}
		p.mutex.Unlock()
		task()
	}
}

// Submits a task for execution. It returns an error if the pool is
// paused or stopped.
func (p *PausablePool) Submit(task func()) error {
	p.mutex.Lock()
	if p.stopped {
		p.mutex.Unlock()
		return &PausablePoolStoppedError{}
	}
	if p.paused {
		p.mutex.Unlock()
		return &PausablePoolPausedError{}
	}
	p.mutex.Unlock()
	p.tasks <- task
	return nil
}

// Pauses the pool. The tasks already running are finished but no new
// tasks are started until the pool is resumed.
func (p *PausablePool) Pause() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.paused = true
}

// Resumes the paused pool.
func (p *PausablePool) Resume() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.paused = false
	p.resumed.Broadcast()
}

// Stops the pool. It waits for the running tasks to finish. Submitting
// new tasks after this call returns an error.
func (p *PausablePool) Stop() {
	p.mutex.Lock()
	if p.stopped {
		p.mutex.Unlock()
		return
	}
	p.stopped = true
	p.paused = false
	p.resumed.Broadcast()
	p.mutex.Unlock()
	close(p.tasks)
	p.wg.Wait()
}
