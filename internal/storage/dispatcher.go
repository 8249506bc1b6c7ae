package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/weldmaster/resultstore/internal/domain"
	"github.com/weldmaster/resultstore/pkg/errors"
	"github.com/weldmaster/resultstore/pkg/utils"
)

// Event is an inspection notification applied to a Service.
type Event interface {
	Apply(s *Service)
}

// StartProductEvent starts a product instance.
type StartProductEvent struct {
	Product      *domain.Product
	Instance     uuid.UUID
	ExtendedInfo string
}

// Apply calls StartProductInspection.
func (e StartProductEvent) Apply(s *Service) {
	s.StartProductInspection(e.Product, e.Instance, e.ExtendedInfo)
}

// EndProductEvent ends the product instance.
type EndProductEvent struct {
	Product *domain.Product
}

// Apply calls EndProductInspection.
func (e EndProductEvent) Apply(s *Service) { s.EndProductInspection(e.Product) }

// StartSeamEvent starts a seam.
type StartSeamEvent struct {
	Seam         *domain.Seam
	Instance     uuid.UUID
	SerialNumber uint32
}

// Apply calls StartSeamInspection.
func (e StartSeamEvent) Apply(s *Service) {
	s.StartSeamInspection(e.Seam, e.Instance, e.SerialNumber)
}

// EndSeamEvent ends the seam.
type EndSeamEvent struct{}

// Apply calls EndSeamInspection.
func (EndSeamEvent) Apply(s *Service) { s.EndSeamInspection() }

// ResultsEvent delivers results for the current seam.
type ResultsEvent struct {
	Results []domain.Result
}

// Apply calls AddResults.
func (e ResultsEvent) Apply(s *Service) { s.AddResults(e.Results) }

// NioEvent delivers a result carrying an NIO.
type NioEvent struct {
	Result domain.Result
}

// Apply calls AddNio.
func (e NioEvent) Apply(s *Service) { s.AddNio(e.Result) }

type syncEvent struct {
	done chan struct{}
}

func (e syncEvent) Apply(*Service) { close(e.done) }

// DispatcherStats counts dispatched events.
type DispatcherStats struct {
	Submitted int64 `json:"submitted"`
	Applied   int64 `json:"applied"`
	Rejected  int64 `json:"rejected"`
}

// Dispatcher applies events to a Service in submission order on a single
// goroutine, so producers never block on disk I/O beyond the queue size.
type Dispatcher struct {
	service *Service
	logger  *utils.StructuredLogger

	queue chan Event

	// sendMu guards closed against concurrent sends on queue.
	sendMu  sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup

	statsMu sync.Mutex
	stats   DispatcherStats
}

// NewDispatcher creates a dispatcher with a queue of queueSize events.
func NewDispatcher(service *Service, queueSize int, logger *utils.StructuredLogger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if logger == nil {
		logger = utils.DefaultLogger()
	}
	return &Dispatcher{
		service: service,
		logger:  logger.WithComponent("dispatcher"),
		queue:   make(chan Event, queueSize),
	}
}

// Start starts the worker.
func (d *Dispatcher) Start() error {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	if d.closed {
		return errors.NewError(errors.ErrCodeComponentStopped, "dispatcher closed").WithComponent("dispatcher")
	}
	if d.started {
		return fmt.Errorf("dispatcher already started")
	}
	d.started = true
	d.wg.Add(1)
	go d.run()
	return nil
}

// Submit queues ev. It blocks while the queue is full until ctx is done.
func (d *Dispatcher) Submit(ctx context.Context, ev Event) error {
	d.sendMu.RLock()
	defer d.sendMu.RUnlock()

	if d.closed {
		d.count(func(st *DispatcherStats) { st.Rejected++ })
		return errors.NewError(errors.ErrCodeComponentStopped, "dispatcher closed").
			WithComponent("dispatcher").WithOperation("submit")
	}

	select {
	case d.queue <- ev:
		d.count(func(st *DispatcherStats) { st.Submitted++ })
		return nil
	case <-ctx.Done():
		d.count(func(st *DispatcherStats) { st.Rejected++ })
		return ctx.Err()
	}
}

// Sync waits until every event submitted before it was applied.
func (d *Dispatcher) Sync(ctx context.Context) error {
	done := make(chan struct{})
	if err := d.Submit(ctx, syncEvent{done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events, applies the queued ones and waits for the
// worker to exit.
func (d *Dispatcher) Close() error {
	d.sendMu.Lock()
	if d.closed {
		d.sendMu.Unlock()
		return nil
	}
	d.closed = true
	started := d.started
	close(d.queue)
	d.sendMu.Unlock()

	if !started {
		for ev := range d.queue {
			d.apply(ev)
		}
		return nil
	}
	d.wg.Wait()
	return nil
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() DispatcherStats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.stats
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for ev := range d.queue {
		d.apply(ev)
	}
	d.logger.Debug("dispatcher drained")
}

func (d *Dispatcher) apply(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event handler panicked", map[string]interface{}{
				"event": fmt.Sprintf("%T", ev),
				"panic": fmt.Sprint(r),
			})
		}
	}()
	ev.Apply(d.service)
	if _, ok := ev.(syncEvent); !ok {
		d.count(func(st *DispatcherStats) { st.Applied++ })
	}
}

func (d *Dispatcher) count(fn func(*DispatcherStats)) {
	d.statsMu.Lock()
	fn(&d.stats)
	d.statsMu.Unlock()
}
