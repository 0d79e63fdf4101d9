// Package sink implements the observation sink (C8): fan-out of every
// RequestRecord to an append-only JSON-lines file and zero or more
// in-process subscribers, plus scheduled JSON-lines rotation.
package sink

import (
	"log"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/roosniffer/roosniffer/internal/record"
)

// Sink is the concrete record.Sink wired into the proxy: it owns the
// primary JSONL writer and fans every record out to registered subscribers.
type Sink struct {
	writer *jsonlWriter

	mu          sync.RWMutex
	subscribers []record.Subscriber

	cronSched *cron.Cron
}

// New opens the JSONL file at logPath and returns a ready-to-use Sink.
func New(logPath string) (*Sink, error) {
	w, err := newJSONLWriter(logPath)
	if err != nil {
		return nil, err
	}
	return &Sink{writer: w}, nil
}

// Subscribe registers an in-process subscriber. Safe to call concurrently
// with Emit (both take the subscriber lock); a subscriber only receives
// records emitted after it was registered.
func (s *Sink) Subscribe(sub record.Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, sub)
}

// Emit implements record.Sink: writes the record to the JSONL file and
// fans it out to every subscriber.
//
// The caller's r is still live after Emit returns — forward/tunnel/mitm
// mutate it in place via SetResponse and re-Emit it once the upstream
// response arrives. Subscribers may consume asynchronously (structuredstore
// batches on a background goroutine), so each one gets its own Clone rather
// than the shared pointer: otherwise that later mutation would race with
// whatever goroutine is still reading the copy handed out here.
func (s *Sink) Emit(r *record.Request) {
	if err := s.writer.writeLine(toJSONLRecord(r)); err != nil {
		log.Printf("sink: write jsonl record failed: %v", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subscribers {
		sub.Notify(r.Clone())
	}
}

func toJSONLRecord(r *record.Request) jsonlRecord {
	return jsonlRecord{
		Timestamp:       r.Time,
		Method:          r.Method,
		Host:            r.Host,
		Path:            r.Path,
		Watched:         r.Watched,
		Headers:         r.Headers,
		BodyPreview:     r.BodyPreview,
		StatusCode:      r.StatusCode,
		ResponsePreview: r.ResponsePreview,
	}
}

// StartRotation schedules JSONL rotation per the given cron expression
// (Config.LogRotateSchedule), grounded in the teacher's GeoIP update
// schedule (a background cron.Cron driving periodic housekeeping).
func (s *Sink) StartRotation(schedule string) error {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if err := s.writer.rotate(); err != nil {
			log.Printf("sink: scheduled rotation failed: %v", err)
		}
	})
	if err != nil {
		return err
	}
	c.Start()
	s.cronSched = c
	return nil
}

// Close stops any rotation schedule and closes the JSONL file.
func (s *Sink) Close() error {
	if s.cronSched != nil {
		ctx := s.cronSched.Stop()
		<-ctx.Done()
	}
	return s.writer.Close()
}
