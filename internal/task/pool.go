// Package task runs post-response work (exports, cleanups) on a fixed set of workers fed by a
// bounded queue, and keeps a record of every submitted task.
package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/modelzoo/modelzoo/internal/config"
	"github.com/modelzoo/modelzoo/internal/prom"
)

// Kind names what a task does.
type Kind string

// Task kinds.
const (
	KindExport              Kind = "export"
	KindCleanOrphanMedia    Kind = "clean_orphan_media"
	KindCleanOrphanServices Kind = "clean_orphan_services"
)

// State is the lifecycle position of a task.
type State string

// Task states.
const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

var (
	// ErrQueueFull is returned by Submit when no queue slot is free.
	ErrQueueFull = errors.New("task queue is full")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("task pool is closed")
)

// Func is the body of a task. The context is canceled when the pool closes.
type Func func(ctx context.Context) error

// Submitter queues background work.
type Submitter interface {
	Submit(kind Kind, fn Func) (string, error)
}

// Record is the observable status of one task.
type Record struct {
	ID        string     `json:"id"`
	Kind      Kind       `json:"kind"`
	State     State      `json:"state"`
	Submitted time.Time  `json:"submitted"`
	Started   *time.Time `json:"started"`
	Finished  *time.Time `json:"finished"`
	Error     string     `json:"error,omitempty"`
}

func (r Record) done() bool {
	return r.State == StateSucceeded || r.State == StateFailed
}

type job struct {
	id   string
	kind Kind
	fn   Func
}

// Pool is a bounded worker pool. Submit never blocks.
type Pool struct {
	log     *log.Entry
	queue   chan job
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	metrics *metrics

	mu      sync.Mutex
	closed  bool
	history int
	records map[string]*Record
	order   []string
}

// NewPool starts cfg.Workers workers. Metrics are registered on reg when it is non-nil.
func NewPool(cfg config.TaskConfig, reg prometheus.Registerer) *Pool {
	ctx, cancel := context.WithCancel(context.Background()) // Pool-lifetime scoped context.

	p := &Pool{
		log:     log.WithField("component", "task-pool"),
		queue:   make(chan job, cfg.QueueSize),
		cancel:  cancel,
		metrics: newMetrics(reg),
		history: cfg.History,
		records: map[string]*Record{},
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go func(i int) {
			defer p.wg.Done()
			p.work(ctx, i)
		}(i)
	}
	return p
}

// Submit queues fn and returns the id of its record.
func (p *Pool) Submit(kind Kind, fn Func) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", ErrClosed
	}

	j := job{id: uuid.NewString(), kind: kind, fn: fn}
	select {
	case p.queue <- j:
	default:
		p.metrics.rejected.WithLabelValues(string(kind)).Inc()
		return "", ErrQueueFull
	}
	p.metrics.queued.Inc()
	p.records[j.id] = &Record{ID: j.id, Kind: kind, State: StateQueued, Submitted: time.Now().UTC()}
	p.order = append(p.order, j.id)
	p.evict()
	return j.id, nil
}

// Get returns a copy of the record with the given id.
func (p *Pool) Get(id string) (Record, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.records[id]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Close cancels running tasks, waits for the workers to exit and fails whatever is still queued.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()

	for {
		select {
		case j := <-p.queue:
			p.metrics.queued.Dec()
			p.finish(j, ErrClosed)
		default:
			return
		}
	}
}

func (p *Pool) work(ctx context.Context, id int) {
	wlog := p.log.WithField("worker", id)
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-p.queue:
			p.metrics.queued.Dec()
			if ctx.Err() != nil {
				p.finish(j, ErrClosed)
				continue
			}
			p.run(ctx, wlog, j)
		}
	}
}

func (p *Pool) run(ctx context.Context, wlog *log.Entry, j job) {
	p.update(j.id, func(r *Record) {
		now := time.Now().UTC()
		r.State, r.Started = StateRunning, &now
	})
	p.metrics.running.Inc()
	defer p.metrics.running.Dec()
	defer prom.Time(p.metrics.duration.WithLabelValues(string(j.kind)))()

	var err error
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("task panicked: %v", rec)
			}
		}()
		err = j.fn(ctx)
	}()

	tlog := wlog.WithFields(log.Fields{"task-id": j.id, "kind": j.kind})
	if err != nil {
		tlog.WithError(err).Error("task failed")
	} else {
		tlog.Debug("task succeeded")
	}
	p.finish(j, err)
}

func (p *Pool) finish(j job, err error) {
	state := StateSucceeded
	if err != nil {
		state = StateFailed
	}
	p.metrics.outcomes.WithLabelValues(string(j.kind), string(state)).Inc()
	p.update(j.id, func(r *Record) {
		now := time.Now().UTC()
		r.State, r.Finished = state, &now
		if err != nil {
			r.Error = err.Error()
		}
	})
}

func (p *Pool) update(id string, fn func(r *Record)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.records[id]; ok {
		fn(r)
	}
}

// evict drops the oldest finished records beyond the history limit. Unfinished records are
// always kept. Callers must hold p.mu.
func (p *Pool) evict() {
	for excess := len(p.order) - p.history; excess > 0; excess-- {
		idx := -1
		for i, id := range p.order {
			if p.records[id].done() {
				idx = i
				break
			}
		}
		if idx < 0 {
			return
		}
		delete(p.records, p.order[idx])
		p.order = append(p.order[:idx], p.order[idx+1:]...)
	}
}
