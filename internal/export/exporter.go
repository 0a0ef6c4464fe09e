package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/vantagesearch/client/internal/api"
	"github.com/vantagesearch/client/internal/models"
)

// ErrClosed indicates the exporter no longer accepts jobs.
var ErrClosed = errors.New("exporter closed")

// Grants issues and drops media access grants.
type Grants interface {
	AccessToken(ctx context.Context, resourceID string) (models.MediaAccessGrant, error)
	Invalidate(resourceID string)
}

// Media opens authorized media streams.
type Media interface {
	VideoURL(id, token string) string
	FetchMedia(ctx context.Context, location string) (io.ReadCloser, int64, error)
}

// AssetStorage persists exported media and returns its location.
type AssetStorage interface {
	Save(ctx context.Context, name string, r io.Reader) (string, error)
}

// Reporter receives the outcome of every job.
type Reporter interface {
	Report(ctx context.Context, result Result) error
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, result Result) error

func (f ReporterFunc) Report(ctx context.Context, result Result) error { return f(ctx, result) }

// Job names one video to export.
type Job struct {
	VideoID  string
	Filename string
}

// Result is the outcome of one Job.
type Result struct {
	Job      Job
	Key      string
	Location string
	Size     int64
	Attempts int
	Err      error
}

// Config controls the worker pool.
type Config struct {
	QueueSize int
	Workers   int
	Timeout   time.Duration
}

// Exporter downloads authorized media in the background and saves it to storage.
type Exporter struct {
	grants   Grants
	media    Media
	storage  AssetStorage
	reporter Reporter
	timeout  time.Duration
	logger   *slog.Logger

	// mu is held for reading across every send on jobs and for writing
	// while jobs is closed.
	mu      sync.RWMutex
	jobs    chan Job
	closing chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	once    sync.Once
}

// New constructs an Exporter and starts its workers.
func New(grants Grants, media Media, storage AssetStorage, reporter Reporter, cfg Config, logger *slog.Logger) *Exporter {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	e := &Exporter{
		grants:   grants,
		media:    media,
		storage:  storage,
		reporter: reporter,
		timeout:  cfg.Timeout,
		logger:   logger,
		jobs:     make(chan Job, cfg.QueueSize),
		closing:  make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}

	e.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go e.worker()
	}

	return e
}

// Enqueue schedules an export.
func (e *Exporter) Enqueue(ctx context.Context, job Job) error {
	if strings.TrimSpace(job.VideoID) == "" {
		return errors.New("export: video id is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.closing:
		return ErrClosed
	default:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.closing:
		return ErrClosed
	case e.jobs <- job:
		return nil
	}
}

// Close stops accepting jobs and waits for queued ones to finish.
func (e *Exporter) Close(ctx context.Context) error {
	e.once.Do(func() {
		// Wake blocked senders before taking the write lock.
		close(e.closing)
		e.mu.Lock()
		close(e.jobs)
		e.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		e.cancel()
		return ctx.Err()
	case <-done:
		e.cancel()
		return nil
	}
}

func (e *Exporter) worker() {
	defer e.wg.Done()

	for job := range e.jobs {
		if e.ctx.Err() != nil {
			e.report(Result{Job: job, Key: objectName(job), Err: ErrClosed})
			continue
		}
		e.report(e.handleJob(job))
	}
}

func (e *Exporter) handleJob(job Job) Result {
	ctx, cancel := context.WithTimeout(e.ctx, e.timeout)
	defer cancel()

	result := Result{Job: job, Key: objectName(job)}
	for attempt := 1; attempt <= 2; attempt++ {
		result.Attempts = attempt
		location, size, err := e.exportOnce(ctx, job.VideoID, result.Key)
		if err == nil {
			result.Location, result.Size = location, size
			e.logger.Info("export completed", slog.String("videoId", job.VideoID), slog.String("location", location), slog.Int64("size", size))
			return result
		}

		// A rejected grant is dropped and re-requested once.
		if attempt == 1 && errors.Is(err, api.ErrAuth) && api.StatusCode(err) != 0 {
			e.grants.Invalidate(job.VideoID)
			e.logger.Debug("media grant rejected, re-signing", slog.String("videoId", job.VideoID))
			continue
		}

		result.Err = err
		break
	}

	e.logger.Error("export failed", slog.String("videoId", job.VideoID), slog.Any("error", result.Err))
	return result
}

func (e *Exporter) exportOnce(ctx context.Context, videoID, key string) (string, int64, error) {
	grant, err := e.grants.AccessToken(ctx, videoID)
	if err != nil {
		return "", 0, fmt.Errorf("media access: %w", err)
	}

	body, _, err := e.media.FetchMedia(ctx, e.media.VideoURL(videoID, grant.Token))
	if err != nil {
		return "", 0, err
	}
	defer body.Close()

	counter := &countingReader{r: body}
	location, err := e.storage.Save(ctx, key, counter)
	if err != nil {
		return "", 0, fmt.Errorf("save export: %w", err)
	}
	return location, counter.n, nil
}

func (e *Exporter) report(result Result) {
	if e.reporter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.reporter.Report(ctx, result); err != nil {
		e.logger.Error("report export", slog.String("videoId", result.Job.VideoID), slog.Any("error", err))
	}
}

func objectName(job Job) string {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(job.Filename), "\\", "/"))
	if name == "" || name == "." || name == "/" {
		name = job.VideoID + ".mp4"
	}
	return path.Join(job.VideoID, name)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
