// Package prewarm builds export artifacts asynchronously so later
// downloads stream straight from disk.
package prewarm

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/epgviewer/internal/metrics"
)

// Status is a prewarm job's lifecycle state.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Record is the externally visible snapshot of a job.
type Record struct {
	Status     Status     `json:"status"`
	Percent    int        `json:"percent"`
	Message    string     `json:"message"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	ExportURL  string     `json:"export_url"`
	AliasKey   string     `json:"alias_key,omitempty"`
}

// BuildRequest wires one prewarm job to the export pipeline.
type BuildRequest struct {
	// ExportURL is where the finished artifact can be downloaded.
	ExportURL string

	// Fingerprint revalidates the mirrors and computes the artifact key.
	Fingerprint func(ctx context.Context) (string, error)

	// Ready reports whether a valid artifact already exists for the key.
	Ready func(fingerprint string) bool

	// Build renders the artifact, reporting progress along the way.
	Build func(ctx context.Context, fingerprint string, progress func(percent int, message string)) error
}

type job struct {
	record Record
}

// Scheduler tracks prewarm jobs. The original transient key and the final
// fingerprint both resolve to the same record, and at most one build runs
// per fingerprint.
type Scheduler struct {
	logger *slog.Logger

	mu   sync.Mutex
	jobs map[string]*job
}

// NewScheduler creates an empty scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		logger: logger,
		jobs:   make(map[string]*job),
	}
}

// Prewarm registers a job under a fresh transient key and starts it
// asynchronously. The key is returned immediately.
func (s *Scheduler) Prewarm(ctx context.Context, req BuildRequest) string {
	key := ulid.MustNew(ulid.Timestamp(time.Now()), rand.New(rand.NewSource(time.Now().UnixNano()))).String()

	j := &job{record: Record{
		Status:    StatusQueued,
		Message:   "queued",
		StartedAt: time.Now().UTC(),
		ExportURL: req.ExportURL,
	}}

	s.mu.Lock()
	s.jobs[key] = j
	s.mu.Unlock()

	go s.run(ctx, key, j, req)
	return key
}

// Status returns the record for a transient or fingerprint key.
func (s *Scheduler) Status(key string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[key]
	if !ok {
		return Record{}, false
	}
	return j.record, true
}

func (s *Scheduler) run(ctx context.Context, key string, j *job, req BuildRequest) {
	s.update(j, func(r *Record) {
		r.Status = StatusRunning
		r.Percent = 5
		r.Message = "refreshing sources"
	})

	fingerprint, err := req.Fingerprint(ctx)
	if err != nil {
		s.fail(j, err)
		return
	}

	// Attach to an existing build for the same fingerprint, or claim it.
	s.mu.Lock()
	if existing, ok := s.jobs[fingerprint]; ok && existing != j {
		if existing.record.Status != StatusError {
			s.jobs[key] = existing
			s.mu.Unlock()
			return
		}
		// A failed build may be retried by this job.
	}
	s.jobs[fingerprint] = j
	j.record.AliasKey = fingerprint
	s.mu.Unlock()

	if req.Ready != nil && req.Ready(fingerprint) {
		s.finish(j, "already built")
		return
	}

	s.update(j, func(r *Record) {
		r.Percent = 25
		r.Message = "rendering export"
	})

	progress := func(percent int, message string) {
		s.update(j, func(r *Record) {
			if percent > r.Percent && percent < 100 {
				r.Percent = percent
			}
			if message != "" {
				r.Message = message
			}
		})
	}

	if err := req.Build(ctx, fingerprint, progress); err != nil {
		s.fail(j, err)
		return
	}
	s.finish(j, "done")
}

func (s *Scheduler) update(j *job, fn func(*Record)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&j.record)
}

func (s *Scheduler) finish(j *job, message string) {
	now := time.Now().UTC()
	s.update(j, func(r *Record) {
		r.Status = StatusDone
		r.Percent = 100
		r.Message = message
		r.FinishedAt = &now
	})
	metrics.RecordPrewarm("done")
}

func (s *Scheduler) fail(j *job, err error) {
	s.logger.Warn("prewarm job failed", slog.String("error", err.Error()))
	now := time.Now().UTC()
	s.update(j, func(r *Record) {
		r.Status = StatusError
		r.Message = err.Error()
		r.FinishedAt = &now
	})
	metrics.RecordPrewarm("error")
}
