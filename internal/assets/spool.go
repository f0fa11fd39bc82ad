package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/parley/internal/observability"
)

var (
	// ErrQueueFull is returned by Enqueue when every worker is busy and the
	// queue is at capacity.
	ErrQueueFull = errors.New("upload queue is full")
	// ErrClosed is returned by Enqueue after Stop.
	ErrClosed = errors.New("spool is closed")
)

// Job is one staged attachment waiting for upload.
type Job struct {
	ChatID    string
	MessageID string
	// Name is the staged file name inside the spool directory.
	Name string
}

// Result reports the outcome of a Job.
type Result struct {
	Job
	Asset Asset
	Err   error
}

// SpoolOptions configures a Spool.
type SpoolOptions struct {
	Dir       string
	Workers   int
	QueueSize int

	// SweepSchedule is a cron spec. Files older than SweepMaxAge that are
	// not being uploaded are removed when it fires. Empty disables sweeping.
	SweepSchedule string
	SweepMaxAge   time.Duration

	// Backend labels upload metrics.
	Backend string
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Spool stages raw attachment payloads on disk and uploads them on a bounded
// worker pool.
type Spool struct {
	dir      string
	uploader Uploader
	opts     SpoolOptions
	logger   *slog.Logger

	mu       sync.RWMutex
	jobs     chan Job
	closed   bool
	started  bool
	onDone   func(context.Context, Result)
	inFlight *xsync.MapOf[string, struct{}]

	cron   *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSpool creates the spool directory and a stopped spool.
func NewSpool(uploader Uploader, opts SpoolOptions) (*Spool, error) {
	if uploader == nil {
		return nil, fmt.Errorf("uploader is required")
	}
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, fmt.Errorf("spool directory is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create spool directory: %w", err)
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.SweepMaxAge <= 0 {
		opts.SweepMaxAge = time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Spool{
		dir:      opts.Dir,
		uploader: uploader,
		opts:     opts,
		logger:   opts.Logger.With("component", "assets"),
		jobs:     make(chan Job, opts.QueueSize),
		inFlight: xsync.NewMapOf[string, struct{}](),
	}, nil
}

// OnComplete registers the callback invoked after every job.
func (s *Spool) OnComplete(fn func(context.Context, Result)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDone = fn
}

// Stage writes data to the spool as "<unixMillis>-<name>" and returns the
// staged name.
func (s *Spool) Stage(name string, data []byte) (string, error) {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "." || base == string(filepath.Separator) || base == "" {
		base = "file"
	}
	staged := fmt.Sprintf("%d-%s", time.Now().UnixMilli(), base)
	if err := writeFileAtomic(filepath.Join(s.dir, staged), bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("stage %s: %w", base, err)
	}
	return staged, nil
}

// Discard removes a staged file that will not be uploaded.
func (s *Spool) Discard(name string) {
	if err := os.Remove(filepath.Join(s.dir, filepath.Base(name))); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("failed to discard staged file", "name", name, "error", err)
	}
}

// Uploader returns the backing uploader.
func (s *Spool) Uploader() Uploader {
	return s.uploader
}

// Start launches the workers and the sweeper.
func (s *Spool) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.started {
		return nil
	}

	if s.opts.SweepSchedule != "" {
		s.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
		if _, err := s.cron.AddFunc(s.opts.SweepSchedule, func() {
			if n, err := s.Sweep(time.Now()); err != nil {
				s.logger.Warn("spool sweep failed", "error", err)
			} else if n > 0 {
				s.logger.Info("spool sweep completed", "removed", n)
			}
		}); err != nil {
			s.cron = nil
			return fmt.Errorf("invalid sweep schedule %q: %w", s.opts.SweepSchedule, err)
		}
		s.cron.Start()
	}

	ctx, s.cancel = context.WithCancel(ctx)
	for i := 0; i < s.opts.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}

	s.started = true
	s.logger.Info("upload spool started", "workers", s.opts.Workers, "queue", s.opts.QueueSize, "dir", s.dir)
	return nil
}

// Enqueue hands a staged file to the worker pool without blocking.
func (s *Spool) Enqueue(job Job) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	s.inFlight.Store(job.Name, struct{}{})
	select {
	case s.jobs <- job:
		return nil
	default:
		s.inFlight.Delete(job.Name)
		return ErrQueueFull
	}
}

// Stop stops accepting jobs and waits for queued uploads to drain, or for ctx
// to expire, whichever comes first.
func (s *Spool) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.jobs)
	started := s.started
	s.mu.Unlock()

	if !started {
		return nil
	}
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

// Sweep removes staged files older than the configured max age that are not
// queued or uploading.
func (s *Spool) Sweep(now time.Time) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read spool directory: %w", err)
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, busy := s.inFlight.Load(entry.Name()); busy {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < s.opts.SweepMaxAge {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

func (s *Spool) worker(ctx context.Context) {
	defer s.wg.Done()
	for job := range s.jobs {
		s.process(ctx, job)
	}
}

func (s *Spool) process(ctx context.Context, job Job) {
	defer s.inFlight.Delete(job.Name)

	staged := filepath.Join(s.dir, job.Name)
	result := Result{Job: job}
	f, err := os.Open(staged)
	if err != nil {
		result.Err = fmt.Errorf("open staged file: %w", err)
	} else {
		result.Asset, result.Err = s.uploader.Upload(ctx, job.Name, f)
		f.Close()
	}
	s.opts.Metrics.UploadFinished(s.opts.Backend, result.Err)

	if err := os.Remove(staged); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("failed to remove staged file", "name", job.Name, "error", err)
	}
	if result.Err != nil {
		s.logger.Error("attachment upload failed",
			"chat_id", job.ChatID, "message_id", job.MessageID, "name", job.Name, "error", result.Err)
	}

	s.mu.RLock()
	onDone := s.onDone
	s.mu.RUnlock()
	if onDone != nil {
		onDone(ctx, result)
	}
}
