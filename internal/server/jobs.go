package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"nithronos/zinstaller/internal/disks"
	"nithronos/zinstaller/internal/installer"
	"nithronos/zinstaller/internal/insterr"
)

type JobState string

const (
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

var errJobRunning = errors.New("an installation is already running")

// Job is the public view of one installation started over HTTP.
type Job struct {
	ID               string     `json:"id"`
	State            JobState   `json:"state"`
	Progress         float64    `json:"progress"`
	Message          string     `json:"message,omitempty"`
	Error            string     `json:"error,omitempty"`
	DestinationDisks []string   `json:"destination_disks"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
}

func (j Job) done() bool { return j.State != JobRunning }

// JobEvent is one progress report of a job.
type JobEvent struct {
	Seq      int       `json:"seq"`
	Time     time.Time `json:"time"`
	Progress float64   `json:"progress"`
	Message  string    `json:"message"`
}

type jobEntry struct {
	job    Job
	events []JobEvent
}

// jobStore keeps every job of this process in memory. At most one runs.
type jobStore struct {
	mu      sync.Mutex
	jobs    map[string]*jobEntry
	running string
	// changed is closed and replaced on every update.
	changed chan struct{}
	now     func() time.Time
	wg      sync.WaitGroup
}

func newJobStore() *jobStore {
	return &jobStore{jobs: map[string]*jobEntry{}, changed: make(chan struct{}), now: time.Now}
}

// start runs req on eng in the background. ctx bounds the installation, not
// the request that started it.
func (s *jobStore) start(ctx context.Context, eng Installer, req installer.Request, log zerolog.Logger) (Job, error) {
	s.mu.Lock()
	if s.running != "" {
		s.mu.Unlock()
		return Job{}, errJobRunning
	}
	id := uuid.NewString()
	e := &jobEntry{job: Job{
		ID:               id,
		State:            JobRunning,
		DestinationDisks: disks.Names(req.DestinationDisks),
		StartedAt:        s.now().UTC(),
	}}
	s.jobs[id] = e
	s.running = id
	job := e.job
	s.notifyLocked()
	s.wg.Add(1)
	s.mu.Unlock()

	log = log.With().Str("job", id).Logger()
	log.Info().Strs("disks", job.DestinationDisks).Msg("installation job started")
	go func() {
		defer s.wg.Done()
		err := eng.Install(ctx, req, func(p float64, msg string) { s.progress(id, p, msg) })
		if err != nil {
			log.Error().Err(err).Msg("installation job failed")
		} else {
			log.Info().Msg("installation job finished")
		}
		s.finish(id, err)
	}()
	return job, nil
}

func (s *jobStore) progress(id string, p float64, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[id]
	if !ok {
		return
	}
	e.job.Progress = p
	e.job.Message = msg
	e.events = append(e.events, JobEvent{Seq: len(e.events), Time: s.now().UTC(), Progress: p, Message: msg})
	s.notifyLocked()
}

func (s *jobStore) finish(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[id]
	if !ok {
		return
	}
	now := s.now().UTC()
	e.job.FinishedAt = &now
	if err != nil {
		e.job.State = JobFailed
		e.job.Error = insterr.From(err, "Installation failed").Message
	} else {
		e.job.State = JobSucceeded
	}
	if s.running == id {
		s.running = ""
	}
	s.notifyLocked()
}

func (s *jobStore) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *jobStore) get(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return e.job, true
}

func (s *jobStore) busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running != ""
}

// since returns the job, its events from cursor on and a channel closed on
// the next update.
func (s *jobStore) since(id string, cursor int) (Job, []JobEvent, <-chan struct{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[id]
	if !ok {
		return Job{}, nil, nil, false
	}
	var evs []JobEvent
	if cursor < len(e.events) {
		evs = append(evs, e.events[cursor:]...)
	}
	return e.job, evs, s.changed, true
}
