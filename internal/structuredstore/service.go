package structuredstore

import (
	"log"
	"sync"
	"time"

	"github.com/roosniffer/roosniffer/internal/record"
)

// Service is an async, batched record.Subscriber backed by a Repo. Notify
// never blocks (on overflow it drops the oldest queued record) so a structured-
// store hiccup never stalls the proxy path; a background goroutine flushes
// batches on a size or time trigger, mirroring the teacher's
// requestlog.Service.
type Service struct {
	repo      *Repo
	queue     chan *record.Request
	batchSize int
	interval  time.Duration
	flushReq  chan chan struct{}

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// ServiceConfig configures the structured-store service.
type ServiceConfig struct {
	Repo          *Repo
	QueueSize     int
	FlushBatch    int
	FlushInterval time.Duration
}

// NewService creates a new structured-store service.
func NewService(cfg ServiceConfig) *Service {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 4096
	}
	batchSize := cfg.FlushBatch
	if batchSize <= 0 {
		batchSize = 512
	}
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Service{
		repo:      cfg.Repo,
		queue:     make(chan *record.Request, queueSize),
		batchSize: batchSize,
		interval:  interval,
		flushReq:  make(chan chan struct{}, 64),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the background flush goroutine.
func (s *Service) Start() {
	s.wg.Add(1)
	go s.flushLoop()
}

// Stop signals the flush loop to stop, drains remaining entries, and
// blocks until the drain completes.
func (s *Service) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// Notify implements record.Subscriber. Non-blocking; on overflow the oldest
// queued record is dropped to make room for r.
func (s *Service) Notify(r *record.Request) {
	for {
		select {
		case s.queue <- r:
			return
		default:
		}
		// Queue full — drop the oldest rather than block the proxy path.
		select {
		case <-s.queue:
		default:
		}
	}
}

// FlushNow asks the background writer to flush buffered records now, then
// blocks until that flush attempt completes.
func (s *Service) FlushNow() {
	done := make(chan struct{})
	select {
	case s.flushReq <- done:
	case <-s.stopCh:
		return
	}
	select {
	case <-done:
	case <-s.stopCh:
	}
}

func (s *Service) flushLoop() {
	defer s.wg.Done()

	batch := make([]*record.Request, 0, s.batchSize)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case r := <-s.queue:
			batch = append(batch, r)
			if len(batch) >= s.batchSize {
				s.flush(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(batch)
				batch = batch[:0]
			}

		case done := <-s.flushReq:
			batch = s.flushOnBarrier(batch, done)

		case <-s.stopCh:
			s.drainAndFlush(batch)
			return
		}
	}
}

func (s *Service) flushOnBarrier(batch []*record.Request, firstWaiter chan struct{}) []*record.Request {
	waiters := []chan struct{}{firstWaiter}
	for {
		select {
		case done := <-s.flushReq:
			waiters = append(waiters, done)
		default:
			goto flushed
		}
	}

flushed:
	pending := len(s.queue)
drainLoop:
	for i := 0; i < pending; i++ {
		select {
		case r := <-s.queue:
			batch = append(batch, r)
			if len(batch) >= s.batchSize {
				s.flush(batch)
				batch = batch[:0]
			}
		default:
			break drainLoop
		}
	}
	if len(batch) > 0 {
		s.flush(batch)
		batch = batch[:0]
	}
	for _, done := range waiters {
		close(done)
	}
	return batch
}

func (s *Service) drainAndFlush(batch []*record.Request) {
	for {
		select {
		case r := <-s.queue:
			batch = append(batch, r)
			if len(batch) >= s.batchSize {
				s.flush(batch)
				batch = batch[:0]
			}
		default:
			if len(batch) > 0 {
				s.flush(batch)
			}
			return
		}
	}
}

func (s *Service) flush(records []*record.Request) {
	if n, err := s.repo.InsertBatch(records); err != nil {
		log.Printf("structuredstore: flush %d records failed: %v", len(records), err)
	} else if n > 0 {
		log.Printf("structuredstore: flushed %d records", n)
	}
}
